package commands

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"site-assistant/internal/sequencer"
)

const version = "0.1.0"

var (
	boldStyle   = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
)

var errInvalidSpeed = errors.New("speed must be greater than zero")

var verbose bool

// rootCmd is the root command
var rootCmd = &cobra.Command{
	Use:     "assistant",
	Short:   "Scripted site builder assistant",
	Version: version,
	Long: `A terminal rendition of the site builder chat widget. Messages are
routed by keyword to a project preview template or a canned reply and the
answer is played back on the usual 1s / 4s / 0.5s schedule.`,
	Example: `  # Open the interactive chat
  $ assistant chat

  # Run a single turn at double speed
  $ assistant ask --speed 2 "создай интернет-магазин"

  # Show how a message is routed
  $ assistant classify "подключи github"`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		setLogger(cmd.ErrOrStderr(), level)
	},
}

// Execute executes the root command. Cancelling ctx aborts a running turn.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(classifyCmd)
}

func setLogger(w io.Writer, level slog.Level) {
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

// timingsForSpeed turns a playback speed into step delays. Speed 2 halves
// every delay.
func timingsForSpeed(speed float64) (sequencer.Timings, error) {
	if speed <= 0 {
		return sequencer.Timings{}, errInvalidSpeed
	}
	return sequencer.DefaultTimings().Scaled(1 / speed), nil
}
