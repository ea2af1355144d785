package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"site-assistant/internal/classifier"
	"site-assistant/internal/sequencer"
	"site-assistant/internal/tui"
)

var (
	chatSpeed   float64
	chatLogFile string
)

// chatCmd is the chat command
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "open the interactive chat",
	Long: `Open the chat widget in the terminal.

Keyboard controls:
  • Enter sends the message
  • PgUp / PgDn scroll the transcript
  • Esc or Ctrl+C quits and cancels any reply still in progress`,
	Example: `  $ assistant chat
  $ assistant chat --speed 4 --log-file /tmp/assistant.log`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().Float64Var(&chatSpeed, "speed", 1, "playback speed of the scripted replies")
	chatCmd.Flags().StringVar(&chatLogFile, "log-file", "", "write debug logs to this file")
}

func runChat(cmd *cobra.Command, _ []string) error {
	timings, err := timingsForSpeed(chatSpeed)
	if err != nil {
		return err
	}

	// The alternate screen owns the terminal, so logs go to a file or nowhere.
	var logOut io.Writer = io.Discard
	if chatLogFile != "" {
		f, err := os.OpenFile(chatLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		logOut = f
	}
	setLogger(logOut, slog.LevelDebug)

	conv := sequencer.New(uuid.NewString(), classifier.Greeting, timings, time.Now())
	slog.Debug("chat started", "session_id", conv.ID, "speed", chatSpeed)

	if err := tui.NewChatProgram(conv).Run(); err != nil {
		return fmt.Errorf("failed to run chat TUI: %w", err)
	}
	slog.Debug("chat finished", "session_id", conv.ID)
	return nil
}
