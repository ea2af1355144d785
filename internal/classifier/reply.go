package classifier

import (
	"strings"

	"site-assistant/internal/domain"
)

// Topic names the canned reply chosen when no preview template matched.
type Topic string

const (
	TopicDatabase Topic = "database"
	TopicBackend  Topic = "backend"
	TopicBug      Topic = "bug"
	TopicDesign   Topic = "design"
	TopicGitHub   Topic = "github"
	TopicDeploy   Topic = "deploy"
	TopicFallback Topic = "fallback"
)

type replyRule struct {
	topic    Topic
	triggers []string
	text     string
}

var replyRules = []replyRule{
	{
		topic:    TopicDatabase,
		triggers: []string{"база", "таблиц", "sql"},
		text:     `Создам структуру базы данных! Какие таблицы нужны? Например: "таблица users с полями email, password, created_at"`,
	},
	{
		topic:    TopicBackend,
		triggers: []string{"backend", "api", "функц"},
		text:     "Напишу backend функцию! На каком языке (Python для данных/AI или TypeScript для auth/real-time)? Что она должна делать?",
	},
	{
		topic:    TopicBug,
		triggers: []string{"ошибк", "не работает", "баг"},
		text:     "Сейчас проверю логи и найду проблему. Опиши, что именно не работает или в каком компоненте ошибка?",
	},
	{
		topic:    TopicDesign,
		triggers: []string{"дизайн", "цвет", "стил"},
		text:     "Займусь дизайном! Какие цвета предпочитаешь? Нужны анимации? Какое настроение должен передавать дизайн?",
	},
	{
		topic:    TopicGitHub,
		triggers: []string{"github", "гит", "репозитори"},
		text:     `Подключу GitHub! В настройках проекта выбери "Подключить GitHub", авторизуйся, и код автоматически синхронизируется.`,
	},
	{
		topic:    TopicDeploy,
		triggers: []string{"опубликовать", "домен", "хостинг"},
		text:     "Опубликую сайт в интернет! Нужен свой домен или подойдёт автоматический поддомен?",
	},
}

const fallbackReply = "Интересная задача! Расскажи подробнее, что именно нужно сделать? Могу создать UI, настроить backend, работать с базой данных или исправить ошибки."

// Reply picks a canned reply from the topic chain. It always answers;
// unmatched text gets the fallback topic.
func Reply(text string) (Topic, string) {
	msg := normalize(text)
	for _, r := range replyRules {
		if containsAny(msg, r.triggers...) {
			return r.topic, r.text
		}
	}
	return TopicFallback, fallbackReply
}

// Decision is the routing outcome for one user message: either a preview
// card or a topic reply, never both.
type Decision struct {
	Preview *domain.ProjectPreview `json:"preview,omitempty"`
	Topic   Topic                  `json:"topic,omitempty"`
	Reply   string                 `json:"reply,omitempty"`
}

// Matched reports whether the decision carries a preview card.
func (d Decision) Matched() bool {
	return d.Preview != nil
}

// Route applies the preview chain first and falls back to the topic chain
// only when no template matched.
func Route(text string) Decision {
	if p, ok := Classify(text); ok {
		return Decision{Preview: &p}
	}
	topic, reply := Reply(text)
	return Decision{Topic: topic, Reply: reply}
}

// AckText is the first assistant message of a build sequence.
func AckText(p domain.ProjectPreview) string {
	return "Отлично! Начинаю создавать " + strings.ToLower(p.Title) + ". Сейчас настрою структуру проекта..."
}

// DoneText is the closing assistant message of a build sequence.
func DoneText(p domain.ProjectPreview) string {
	return "✨ Готово! Я создал " + strings.ToLower(p.Title) +
		" со всеми нужными компонентами. Проект готов к использованию!\n\nЧто хочешь улучшить или добавить?"
}

// Greeting is the assistant message every conversation starts with.
const Greeting = "Привет! Я — AI-ассистент для создания сайтов. Просто опиши свою идею, и я создам для тебя сайт за пару минут. Что будем создавать?"
