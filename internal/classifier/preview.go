package classifier

import (
	"strings"

	"site-assistant/internal/domain"
)

// previewRule maps a lowercased predicate to a template. Rules are evaluated
// in slice order and the first match wins.
type previewRule struct {
	match    func(msg string) bool
	template domain.ProjectPreview
}

var previewRules = []previewRule{
	{
		match: func(msg string) bool {
			return containsAny(msg, "интернет-магазин", "магазин") ||
				(strings.Contains(msg, "сайт") && strings.Contains(msg, "товар"))
		},
		template: domain.ProjectPreview{
			Kind:        domain.PreviewEcommerce,
			Title:       "Интернет-магазин",
			Description: "Создаю полноценный интернет-магазин с каталогом, корзиной и оформлением заказа",
			Features: []string{
				"✓ Главная страница с популярными товарами",
				"✓ Каталог с фильтрами и поиском",
				"✓ Карточки товаров с описанием",
				"✓ Корзина с расчётом стоимости",
				"✓ Форма оформления заказа",
				"✓ Адаптивный дизайн для мобильных",
			},
		},
	},
	{
		match: func(msg string) bool { return containsAny(msg, "лендинг", "посадочн") },
		template: domain.ProjectPreview{
			Kind:        domain.PreviewLanding,
			Title:       "Продающий лендинг",
			Description: "Создаю лендинг с акцентом на конверсию и продажи",
			Features: []string{
				"✓ Hero-секция с ярким заголовком",
				"✓ Блок с преимуществами продукта",
				"✓ Отзывы клиентов",
				"✓ Призыв к действию (CTA)",
				"✓ Форма захвата лидов",
				"✓ Адаптивная вёрстка",
			},
		},
	},
	{
		match: func(msg string) bool { return containsAny(msg, "портфолио", "резюме") },
		template: domain.ProjectPreview{
			Kind:        domain.PreviewPortfolio,
			Title:       "Портфолио",
			Description: "Создаю стильное портфолио для демонстрации работ",
			Features: []string{
				"✓ Главная с информацией о тебе",
				"✓ Галерея проектов с фильтрами",
				"✓ Раздел навыков и опыта",
				"✓ Контактная форма",
				"✓ Ссылки на соцсети",
				"✓ Современный минималистичный дизайн",
			},
		},
	},
	{
		match: func(msg string) bool { return containsAny(msg, "блог", "статьи") },
		template: domain.ProjectPreview{
			Kind:        domain.PreviewBlog,
			Title:       "Блог",
			Description: "Создаю блог с системой статей и категорий",
			Features: []string{
				"✓ Главная со списком статей",
				"✓ Страницы отдельных статей",
				"✓ Категории и теги",
				"✓ Поиск по статьям",
				"✓ Авторы статей",
				"✓ Адаптивная типографика",
			},
		},
	},
	{
		match: func(msg string) bool { return containsAny(msg, "корпоративн", "компани") },
		template: domain.ProjectPreview{
			Kind:        domain.PreviewCorporate,
			Title:       "Корпоративный сайт",
			Description: "Создаю представительский сайт компании",
			Features: []string{
				"✓ Главная с информацией о компании",
				"✓ Услуги/Продукты",
				"✓ О нас и команда",
				"✓ Кейсы и отзывы",
				"✓ Контакты с картой",
				"✓ Профессиональный дизайн",
			},
		},
	},
	{
		match: func(msg string) bool { return containsAny(msg, "сайт", "создай", "сделай") },
		template: domain.ProjectPreview{
			Kind:        domain.PreviewWebsite,
			Title:       "Веб-сайт",
			Description: "Создаю современный адаптивный веб-сайт",
			Features: []string{
				"✓ Главная страница",
				"✓ Навигационное меню",
				"✓ Несколько разделов",
				"✓ Контактная форма",
				"✓ Footer с информацией",
				"✓ Адаптивный дизайн",
			},
		},
	},
}

// Classify maps free text to one of the six project preview templates.
// It reports false when no trigger matched.
func Classify(text string) (domain.ProjectPreview, bool) {
	msg := normalize(text)
	for _, r := range previewRules {
		if r.match(msg) {
			return r.template.Clone(), true
		}
	}
	return domain.ProjectPreview{}, false
}

// Templates returns copies of all preview templates in rule order.
func Templates() []domain.ProjectPreview {
	out := make([]domain.ProjectPreview, 0, len(previewRules))
	for _, r := range previewRules {
		out = append(out, r.template.Clone())
	}
	return out
}

func normalize(text string) string {
	return strings.ToLower(text)
}

func containsAny(msg string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(msg, n) {
			return true
		}
	}
	return false
}
