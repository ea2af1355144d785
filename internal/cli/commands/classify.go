package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"site-assistant/internal/classifier"
)

var classifyJSON bool

// classifyCmd is the classify command
var classifyCmd = &cobra.Command{
	Use:   "classify <text>",
	Short: "show how a message is routed",
	Example: `  $ assistant classify "нужен лендинг для курса"
  $ assistant classify --json "ошибка в форме"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runClassify,
}

func init() {
	classifyCmd.Flags().BoolVar(&classifyJSON, "json", false, "print the decision as JSON")
}

func runClassify(cmd *cobra.Command, args []string) error {
	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" {
		return fmt.Errorf("text must not be empty")
	}
	d := classifier.Route(text)
	out := cmd.OutOrStdout()

	if classifyJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(decisionView(d))
	}

	if d.Preview != nil {
		fmt.Fprintf(out, "%s %s\n", boldStyle.Render("template:"), d.Preview.Kind)
		fmt.Fprintf(out, "%s %s\n", boldStyle.Render("title:   "), d.Preview.Title)
		return nil
	}
	fmt.Fprintf(out, "%s %s\n", boldStyle.Render("topic:"), d.Topic)
	fmt.Fprintf(out, "%s %s\n", boldStyle.Render("reply:"), d.Reply)
	return nil
}

type decisionJSON struct {
	Matched  bool   `json:"matched"`
	Template string `json:"template,omitempty"`
	Title    string `json:"title,omitempty"`
	Topic    string `json:"topic,omitempty"`
	Reply    string `json:"reply,omitempty"`
}

func decisionView(d classifier.Decision) decisionJSON {
	v := decisionJSON{Matched: d.Matched(), Topic: string(d.Topic), Reply: d.Reply}
	if d.Preview != nil {
		v.Template = string(d.Preview.Kind)
		v.Title = d.Preview.Title
	}
	return v
}
