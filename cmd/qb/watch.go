package main

import (
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Vortex-9191/slack-question-bot/internal/store"
	"github.com/Vortex-9191/slack-question-bot/internal/tui/questions"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Interactive TUI for reviewing open questions",
	Long: `Watch open questions in an interactive terminal UI. The list polls the
database every 5 seconds and is sorted by urgency, oldest first.

Key bindings:
  ↑/k, ↓/j     Navigate questions
  a            Approve the selected question
  x            Reject (prompts for a reason)
  r            Answer (prompts for the answer text)
  f            Cycle filter: pending, approved, all
  ctrl+r       Refresh now
  ?            Toggle help
  q, esc       Quit

Actions taken here update the database only. The Slack message in the
doctor channel is not edited and the submitter is not notified.`,
	GroupID: "data",
	Args:    cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		doctor, _ := cmd.Flags().GetString("doctor")
		actor, _ := cmd.Flags().GetString("actor")

		st := openStore(cmd.Context())
		defer st.Close()

		model := questions.New(st, actor)
		model.SetDoctor(doctor)
		model.SetStatus(store.StatusPending)

		p := tea.NewProgram(model, tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			fatalf("TUI error: %v", err)
		}
	},
}

func defaultActor() string {
	if s := os.Getenv("QB_ACTOR"); s != "" {
		return s
	}
	if s := os.Getenv("USER"); s != "" {
		return "cli:" + s
	}
	return "cli"
}

func init() {
	watchCmd.Flags().String("doctor", "", "only show questions for this doctor ID")
	watchCmd.Flags().String("actor", defaultActor(), "name recorded as approver or answerer")

	rootCmd.AddCommand(watchCmd)
}
