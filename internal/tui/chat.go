package tui

import (
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"site-assistant/internal/classifier"
	"site-assistant/internal/domain"
	"site-assistant/internal/sequencer"
)

const (
	defaultWidth         = 80
	defaultHeight        = 30
	inputCharLimit       = 2000
	headerHeightReserved = 2
	footerHeightReserved = 3
	minContentHeight     = 6
	cardPadding          = 4

	headerText  = "Юра — AI Разработчик"
	placeholder = "Создай интернет-магазин с корзиной и оплатой..."
)

var (
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	promptStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("63"))
	doneStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	titleStyle     = lipgloss.NewStyle().Bold(true)
	cardStyle      = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1)
)

// submitter is the part of sequencer.Runner the model drives.
type submitter interface {
	Submit(text string) (classifier.Decision, bool)
	Snapshot() sequencer.Snapshot
	Close()
}

// ChatProgram runs a conversation in the terminal.
type ChatProgram struct {
	runner *sequencer.Runner
	model  chatModel
}

// NewChatProgram wires a live runner around conv. The program owns conv.
func NewChatProgram(conv *sequencer.Conversation) *ChatProgram {
	updates := make(chan sequencer.Snapshot, 1)
	runner := sequencer.NewRunner(conv, sequencer.WithObserver(mailbox(updates)))
	return &ChatProgram{
		runner: runner,
		model:  initialModel(runner, updates),
	}
}

// Run blocks until the user quits. Pending steps are cancelled on return.
func (p *ChatProgram) Run() error {
	defer p.runner.Close()
	_, err := tea.NewProgram(p.model, tea.WithAltScreen()).Run()
	return err
}

// mailbox returns an observer that keeps only the newest snapshot in ch.
// ch must have capacity 1 and the observer must be its only sender.
func mailbox(ch chan sequencer.Snapshot) sequencer.Observer {
	var mu sync.Mutex
	return func(s sequencer.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		select {
		case old := <-ch:
			if old.Seq > s.Seq {
				s = old
			}
		default:
		}
		ch <- s
	}
}

type snapshotMsg struct{ snap sequencer.Snapshot }

func waitForSnapshot(ch <-chan sequencer.Snapshot) tea.Cmd {
	return func() tea.Msg {
		return snapshotMsg{snap: <-ch}
	}
}

type chatModel struct {
	runner  submitter
	updates <-chan sequencer.Snapshot
	snap    sequencer.Snapshot

	input   textinput.Model
	view    viewport.Model
	spinner spinner.Model

	width  int
	height int
}

func initialModel(r submitter, updates <-chan sequencer.Snapshot) chatModel {
	input := textinput.New()
	input.Placeholder = placeholder
	input.Focus()
	input.CharLimit = inputCharLimit
	input.Width = defaultWidth - 3
	input.Prompt = ""

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := chatModel{
		runner:  r,
		updates: updates,
		snap:    r.Snapshot(),
		input:   input,
		view:    viewport.New(defaultWidth, defaultHeight-headerHeightReserved-footerHeightReserved),
		spinner: sp,
		width:   defaultWidth,
		height:  defaultHeight,
	}
	m.refresh()
	return m
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, waitForSnapshot(m.updates))
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.runner.Close()
			return m, tea.Quit
		case tea.KeyEnter:
			m.submit()
			return m, nil
		case tea.KeyPgUp:
			m.view.ViewUp()
		case tea.KeyPgDown:
			m.view.ViewDown()
		}

	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)

	case snapshotMsg:
		m.apply(msg.snap)
		cmds = append(cmds, waitForSnapshot(m.updates))

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.snap.Stage != sequencer.StageIdle {
			m.refresh()
		}
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// submit hands the input to the runner. Blank input is ignored and kept.
func (m *chatModel) submit() {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return
	}
	if _, ok := m.runner.Submit(text); !ok {
		return
	}
	m.input.Reset()
	m.apply(m.runner.Snapshot())
}

// apply installs s unless a newer snapshot is already shown.
func (m *chatModel) apply(s sequencer.Snapshot) {
	if s.Seq < m.snap.Seq {
		return
	}
	m.snap = s
	m.refresh()
}

func (m *chatModel) resize(width, height int) {
	m.width = width
	m.height = height
	h := height - headerHeightReserved - footerHeightReserved
	if h < minContentHeight {
		h = minContentHeight
	}
	m.view.Width = width
	m.view.Height = h
	m.input.Width = width - 3
	m.refresh()
}

func (m *chatModel) refresh() {
	m.view.SetContent(renderTranscript(m.snap, m.spinner.View(), m.width))
	m.view.GotoBottom()
}

func (m chatModel) View() string {
	status := dimStyle.Render(headerText)
	if m.snap.Stage != sequencer.StageIdle {
		status += dimStyle.Render(" • " + stageLabel(m.snap.Stage))
	}
	input := promptStyle.Render("> ") + m.input.View()
	help := dimStyle.Render("Enter отправить • PgUp/PgDn прокрутка • Esc выход")
	return lipgloss.JoinVertical(lipgloss.Left, status, "", m.view.View(), "", input, help)
}

func stageLabel(s sequencer.Stage) string {
	switch s {
	case sequencer.StageTyping:
		return "печатает..."
	case sequencer.StageCreating:
		return "создаёт проект..."
	case sequencer.StageFinishing:
		return "завершает..."
	default:
		return ""
	}
}

// renderTranscript draws every message, preview cards and the typing
// indicator. spin is the current spinner frame.
func renderTranscript(s sequencer.Snapshot, spin string, width int) string {
	var b strings.Builder
	for i, msg := range s.Messages {
		if i > 0 {
			b.WriteString("\n")
		}
		if msg.Role == domain.RoleUser {
			b.WriteString(userStyle.Render("Вы"))
		} else {
			b.WriteString(assistantStyle.Render("Юра"))
		}
		b.WriteString("\n")
		b.WriteString(wrapText(msg.Text, width))
		b.WriteString("\n")
		if msg.Preview != nil {
			b.WriteString(renderCard(*msg.Preview, msg.IsCreating, spin, width))
			b.WriteString("\n")
		}
	}
	if s.Typing {
		b.WriteString("\n")
		b.WriteString(assistantStyle.Render("Юра"))
		b.WriteString("\n")
		b.WriteString(dimStyle.Render(spin + " • • •"))
		b.WriteString("\n")
	}
	return b.String()
}

func renderCard(p domain.ProjectPreview, creating bool, spin string, width int) string {
	inner := width - cardPadding
	if inner < 20 {
		inner = 20
	}
	status := doneStyle.Render("✓ Проект создан")
	if creating {
		status = fmt.Sprintf("%s Создаю проект...", spin)
	}

	lines := []string{
		status,
		"",
		titleStyle.Render(wrapText(p.Title, inner)),
		dimStyle.Render(wrapText(p.Description, inner)),
		"",
	}
	for _, f := range p.Features {
		lines = append(lines, wrapText(f, inner))
	}
	return cardStyle.Render(strings.Join(lines, "\n"))
}

// wrapText breaks lines by display width so Cyrillic and emoji line up.
func wrapText(text string, maxWidth int) string {
	if maxWidth <= 10 {
		return text
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = wrapLine(line, maxWidth)
	}
	return strings.Join(lines, "\n")
}

func wrapLine(line string, maxWidth int) string {
	if runewidth.StringWidth(line) <= maxWidth {
		return line
	}

	var out, cur strings.Builder
	width := 0
	for _, word := range strings.Fields(line) {
		w := runewidth.StringWidth(word)
		if width > 0 && width+1+w > maxWidth {
			out.WriteString(cur.String())
			out.WriteString("\n")
			cur.Reset()
			width = 0
		}
		if width > 0 {
			cur.WriteString(" ")
			width++
		}
		if w <= maxWidth {
			cur.WriteString(word)
			width += w
			continue
		}
		// Words wider than a line are broken by display width.
		for _, r := range word {
			rw := runewidth.RuneWidth(r)
			if width > 0 && width+rw > maxWidth {
				out.WriteString(cur.String())
				out.WriteString("\n")
				cur.Reset()
				width = 0
			}
			cur.WriteRune(r)
			width += rw
		}
	}
	out.WriteString(cur.String())
	return out.String()
}
