package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Vortex-9191/slack-question-bot/internal/store"
)

var questionsCmd = &cobra.Command{
	Use:     "questions",
	Aliases: []string{"q"},
	Short:   "List, show and search stored questions",
	GroupID: "data",
}

var questionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List questions, newest first",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		doctor, _ := cmd.Flags().GetString("doctor")
		submitter, _ := cmd.Flags().GetString("submitter")
		statusFlag, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		var status store.Status
		if statusFlag != "" && statusFlag != "all" {
			s, err := store.ParseStatus(statusFlag)
			if err != nil {
				fatalf("%v", err)
			}
			status = s
		}

		st := openStore(cmd.Context())
		defer st.Close()
		qs, err := st.List(cmd.Context(), store.Filter{DoctorID: doctor, SubmitterID: submitter, Status: status, Limit: limit})
		if err != nil {
			fatalf("list questions: %v", err)
		}
		renderQuestions(qs)
	},
}

var questionsSearchCmd = &cobra.Command{
	Use:   "search <keyword>",
	Short: "Search question content, patient IDs and doctor names",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")
		st := openStore(cmd.Context())
		defer st.Close()
		qs, err := st.Search(cmd.Context(), args[0], limit)
		if err != nil {
			fatalf("search questions: %v", err)
		}
		renderQuestions(qs)
	},
}

func renderQuestions(qs []*store.Question) {
	if qs == nil {
		qs = []*store.Question{}
	}
	render(qs, func() {
		if len(qs) == 0 {
			fmt.Println("No questions.")
			return
		}
		writeTable(os.Stdout, []string{"ID", "CREATED", "STATUS", "URGENCY", "PATIENT", "DOCTOR", "ROUTING"}, questionRows(qs))
	})
}

func questionRows(qs []*store.Question) [][]string {
	rows := make([][]string, 0, len(qs))
	for _, q := range qs {
		rows = append(rows, []string{
			q.ID,
			q.CreatedAt.Local().Format("2006-01-02 15:04"),
			string(q.Status),
			q.Urgency,
			q.PatientID,
			q.DoctorID,
			q.Routing,
		})
	}
	return rows
}

type questionDetail struct {
	Question  *store.Question  `json:"question" yaml:"question"`
	Answers   []store.Answer   `json:"answers" yaml:"answers"`
	Approvals []store.Approval `json:"approvals" yaml:"approvals"`
}

var questionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a question with its answers and approval history",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		st := openStore(ctx)
		defer st.Close()

		q, err := st.Get(ctx, args[0])
		if err != nil {
			fatalf("get %s: %v", args[0], err)
		}
		answers, err := st.Answers(ctx, q.ID)
		if err != nil {
			fatalf("answers for %s: %v", q.ID, err)
		}
		approvals, err := st.Approvals(ctx, q.ID)
		if err != nil {
			fatalf("approvals for %s: %v", q.ID, err)
		}
		d := questionDetail{Question: q, Answers: answers, Approvals: approvals}

		render(d, func() {
			writeTable(os.Stdout, []string{"FIELD", "VALUE"}, detailRows(q))
			fmt.Println()
			fmt.Println(q.Content)
			for _, a := range answers {
				fmt.Printf("\n[answer by %s at %s]\n%s\n", a.AnsweredBy, a.CreatedAt.Local().Format("2006-01-02 15:04"), a.Text)
			}
			for _, ap := range approvals {
				fmt.Printf("\n[%s by %s at %s] %s\n", ap.Action, ap.ApproverID, ap.CreatedAt.Local().Format("2006-01-02 15:04"), ap.Comment)
			}
		})
	},
}

func detailRows(q *store.Question) [][]string {
	rows := [][]string{
		{"id", q.ID},
		{"status", q.Status.Label() + " (" + string(q.Status) + ")"},
		{"patient", q.PatientID},
		{"category", store.Label(store.Categories, q.Category)},
		{"urgency", store.Label(store.Urgencies, q.Urgency)},
		{"doctor", q.DoctorID},
	}
	if q.DoctorName != "" {
		rows = append(rows, []string{"doctor name", q.DoctorName})
	}
	rows = append(rows,
		[]string{"submitter", q.SubmitterID},
		[]string{"channel", q.DoctorChannelID},
		[]string{"routing", q.Routing},
		[]string{"created", q.CreatedAt.Local().Format("2006-01-02 15:04:05")},
		[]string{"updated", q.UpdatedAt.Local().Format("2006-01-02 15:04:05")},
	)
	for _, k := range sortedDetailKeys(q.Detail) {
		rows = append(rows, []string{k, q.Detail[k]})
	}
	return rows
}

func sortedDetailKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var statsCmd = &cobra.Command{
	Use:     "stats",
	Short:   "Show question counts by status, category and urgency",
	GroupID: "data",
	Args:    cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		st := openStore(cmd.Context())
		defer st.Close()
		stats, err := st.Stats(cmd.Context())
		if err != nil {
			fatalf("stats: %v", err)
		}
		render(stats, func() {
			writeTable(os.Stdout, []string{"GROUP", "KEY", "COUNT"}, statsRows(stats))
			fmt.Printf("Total %d, answer rate %.1f%%\n", stats.Total, stats.AnswerRate)
		})
	},
}

func statsRows(s *store.Stats) [][]string {
	var rows [][]string
	for _, status := range store.Statuses {
		rows = append(rows, []string{"status", status.Label(), strconv.Itoa(s.ByStatus[status])})
	}
	for _, o := range store.Categories {
		rows = append(rows, []string{"category", o.Label, strconv.Itoa(s.ByCategory[o.Value])})
	}
	for _, o := range store.Urgencies {
		rows = append(rows, []string{"urgency", o.Label, strconv.Itoa(s.ByUrgency[o.Value])})
	}
	return rows
}

func init() {
	questionsListCmd.Flags().String("doctor", "", "filter by doctor ID")
	questionsListCmd.Flags().String("submitter", "", "filter by submitter user ID")
	questionsListCmd.Flags().String("status", "", "filter by status: pending, approved, answered, rejected or all")
	questionsListCmd.Flags().Int("limit", 50, "maximum questions to list")
	questionsSearchCmd.Flags().Int("limit", 50, "maximum questions to list")

	questionsCmd.AddCommand(questionsListCmd, questionsShowCmd, questionsSearchCmd)
	rootCmd.AddCommand(questionsCmd, statsCmd)
}
