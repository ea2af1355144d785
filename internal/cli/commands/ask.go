package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"site-assistant/internal/classifier"
	"site-assistant/internal/domain"
	"site-assistant/internal/sequencer"
)

var (
	askInstant bool
	askSpeed   float64
	askJSON    bool
)

// askCmd is the ask command
var askCmd = &cobra.Command{
	Use:   "ask <text>",
	Short: "run a single turn and print the reply as it appears",
	Example: `  $ assistant ask "сделай сайт для кофейни"
  $ assistant ask --instant --json "нужен блог"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().BoolVar(&askInstant, "instant", false, "skip the delays and print the whole reply at once")
	askCmd.Flags().Float64Var(&askSpeed, "speed", 1, "playback speed of the scripted replies")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "print the final transcript as JSON")
}

type askResult struct {
	sequencer.Snapshot
	Decision decisionJSON `json:"decision"`
}

func runAsk(cmd *cobra.Command, args []string) error {
	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" {
		return fmt.Errorf("text must not be empty")
	}
	timings, err := timingsForSpeed(askSpeed)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	conv := sequencer.New(uuid.NewString(), classifier.Greeting, timings, time.Now())
	var printer *transcriptPrinter
	if !askJSON {
		// The greeting is implied; only the turn itself is printed.
		printer = newTranscriptPrinter(out, len(conv.Messages))
	}

	var (
		d     classifier.Decision
		final sequencer.Snapshot
	)
	if askInstant {
		d, _ = conv.Submit(text, time.Now())
		conv.Drain()
		final = conv.Snapshot()
		if printer != nil {
			printer.Print(final)
		}
	} else {
		d, final, err = playTurn(cmd, conv, text, printer)
		if err != nil {
			return err
		}
	}
	slog.Debug("turn finished", "session_id", final.ID, "matched", d.Matched(), "topic", d.Topic, "messages", len(final.Messages))

	if askJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(askResult{Snapshot: final, Decision: decisionView(d)})
	}
	return nil
}

// playTurn drives the turn on a live runner and waits until it goes idle.
func playTurn(cmd *cobra.Command, conv *sequencer.Conversation, text string, printer *transcriptPrinter) (classifier.Decision, sequencer.Snapshot, error) {
	done := make(chan struct{})
	var once sync.Once
	observer := func(s sequencer.Snapshot) {
		if printer != nil {
			printer.Print(s)
		}
		if s.Stage == sequencer.StageIdle {
			once.Do(func() { close(done) })
		}
	}

	r := sequencer.NewRunner(conv, sequencer.WithObserver(observer))
	defer r.Close()

	d, _ := r.Submit(text)
	select {
	case <-done:
		return d, r.Snapshot(), nil
	case <-cmd.Context().Done():
		return d, sequencer.Snapshot{}, cmd.Context().Err()
	}
}

// transcriptPrinter writes messages as they are appended and reports when a
// preview card finishes building.
type transcriptPrinter struct {
	mu       sync.Mutex
	w        io.Writer
	printed  int
	building map[int]bool
}

func newTranscriptPrinter(w io.Writer, skip int) *transcriptPrinter {
	return &transcriptPrinter{w: w, printed: skip, building: make(map[int]bool)}
}

func (p *transcriptPrinter) Print(s sequencer.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.building {
		if i < len(s.Messages) && !s.Messages[i].IsCreating {
			fmt.Fprintln(p.w, okStyle.Render("  ✓ Проект создан"))
			delete(p.building, i)
		}
	}
	for ; p.printed < len(s.Messages); p.printed++ {
		msg := s.Messages[p.printed]
		p.printMessage(msg)
		if msg.IsCreating {
			p.building[p.printed] = true
		}
	}
}

func (p *transcriptPrinter) printMessage(msg domain.ChatMessage) {
	who := accentStyle.Render("Юра:")
	if msg.Role == domain.RoleUser {
		who = boldStyle.Render("Вы:")
	}
	fmt.Fprintf(p.w, "%s %s\n", who, msg.Text)
	if msg.Preview == nil {
		return
	}
	status := okStyle.Render("✓ Проект создан")
	if msg.IsCreating {
		status = dimStyle.Render("… Создаю проект...")
	}
	fmt.Fprintf(p.w, "  %s\n  %s\n  %s\n", status, boldStyle.Render(msg.Preview.Title), dimStyle.Render(msg.Preview.Description))
	for _, f := range msg.Preview.Features {
		fmt.Fprintf(p.w, "    %s\n", f)
	}
}
