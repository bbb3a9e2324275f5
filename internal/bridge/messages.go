package bridge

import (
	"fmt"
	"sort"
	"strings"

	"github.com/slack-go/slack"

	"github.com/Vortex-9191/slack-question-bot/internal/delivery"
	"github.com/Vortex-9191/slack-question-bot/internal/store"
)

// Button action IDs on the doctor-channel message. The button value is the
// question ID.
const (
	actionApprove = "approve_question"
	actionReject  = "reject_question"
	actionAnswerQ = "answer_question"
	actionModifyQ = "modify_question"
)

var statusLabels = map[store.Status]string{
	store.StatusPending:  ":hourglass_flowing_sand: 回答待ち",
	store.StatusApproved: ":white_check_mark: 承認済み",
	store.StatusAnswered: ":speech_balloon: 回答済み",
	store.StatusRejected: ":no_entry_sign: 却下",
}

var urgencyEmoji = map[string]string{
	"low":    ":white_circle:",
	"normal": ":large_blue_circle:",
	"high":   ":large_orange_circle:",
	"urgent": ":red_circle:",
}

func questionSubject(q *store.Question) string {
	return fmt.Sprintf("質問（患者ID: %s）", q.PatientID)
}

// questionText is the notification fallback text.
func questionText(q *store.Question) string {
	return fmt.Sprintf("%s 新しい質問: 患者ID %s / %s", urgencyEmoji[q.Urgency], q.PatientID,
		store.Label(store.Categories, q.Category))
}

// questionBlocks renders a question for the doctor channel. Buttons are
// shown only while the question can still change.
func questionBlocks(q *store.Question) []slack.Block {
	doctor := q.DoctorID
	if q.DoctorName != "" {
		doctor = fmt.Sprintf("%s (%s)", q.DoctorName, q.DoctorID)
	}
	blocks := []slack.Block{
		slack.NewHeaderBlock(plain("医師への質問")),
		slack.NewSectionBlock(nil, []*slack.TextBlockObject{
			mrkdwn("*患者ID:*\n" + q.PatientID),
			mrkdwn("*種別:*\n" + store.Label(store.Categories, q.Category)),
			mrkdwn("*緊急度:*\n" + urgencyEmoji[q.Urgency] + " " + store.Label(store.Urgencies, q.Urgency)),
			mrkdwn("*医師:*\n" + doctor),
		}, nil),
		slack.NewSectionBlock(mrkdwn("*質問内容:*\n"+quote(q.Content)), nil, nil),
		slack.NewContextBlock("",
			mrkdwn(fmt.Sprintf("%s | 送信者: <@%s> | ID: `%s`", statusLabels[q.Status], q.SubmitterID, q.ID))),
	}

	if reason := q.Detail["reject_reason"]; reason != "" && q.Status == store.StatusRejected {
		blocks = append(blocks, slack.NewSectionBlock(mrkdwn("*却下理由:*\n"+quote(reason)), nil, nil))
	}

	var buttons []slack.BlockElement
	if q.Status == store.StatusPending {
		buttons = append(buttons,
			slack.NewButtonBlockElement(actionApprove, q.ID, plain("承認")).WithStyle(slack.StylePrimary))
	}
	if q.Status == store.StatusPending || q.Status == store.StatusApproved {
		buttons = append(buttons, slack.NewButtonBlockElement(actionAnswerQ, q.ID, plain("回答")))
	}
	if q.Status == store.StatusPending {
		buttons = append(buttons, slack.NewButtonBlockElement(actionModifyQ, q.ID, plain("修正")))
	}
	if q.Status == store.StatusPending || q.Status == store.StatusApproved {
		buttons = append(buttons,
			slack.NewButtonBlockElement(actionReject, q.ID, plain("却下")).WithStyle(slack.StyleDanger))
	}
	if len(buttons) > 0 {
		blocks = append(blocks, slack.NewActionBlock("question_actions_"+q.ID, buttons...))
	}
	return blocks
}

// adminBlocks renders the admin-channel copy with the routing outcome.
func adminBlocks(q *store.Question, out delivery.Outcome) []slack.Block {
	var routing string
	switch out.State {
	case delivery.Delivered:
		routing = fmt.Sprintf(":white_check_mark: <#%s> に送信済み", out.ChannelID)
		if out.Joined {
			routing += "（自動参加）"
		}
	case delivery.Unroutable:
		routing = ":warning: 送信先チャンネルなし（未送信）"
	default:
		target := "不明"
		if out.ChannelID != "" {
			target = "<#" + out.ChannelID + ">"
		}
		routing = fmt.Sprintf(":x: %s への送信失敗（%s）", target, out.Reason)
	}
	if out.Degraded() && !out.FallbackSent {
		routing += " / 送信者への通知も失敗"
	}

	return []slack.Block{
		slack.NewSectionBlock(mrkdwn(fmt.Sprintf("*新しい質問* %s 患者ID `%s` / %s / 医師ID `%s`",
			urgencyEmoji[q.Urgency], q.PatientID, store.Label(store.Categories, q.Category), q.DoctorID)), nil, nil),
		slack.NewSectionBlock(mrkdwn(quote(q.Content)), nil, nil),
		slack.NewContextBlock("",
			mrkdwn(fmt.Sprintf("送信者: <@%s> | %s | ID: `%s`", q.SubmitterID, routing, q.ID))),
	}
}

// statsText renders /question-stats output.
func statsText(s *store.Stats) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "*質問統計*\n合計: %d件 / 回答率: %.1f%%\n", s.Total, s.AnswerRate)

	sb.WriteString("\n*ステータス別*\n")
	for _, st := range store.Statuses {
		fmt.Fprintf(&sb, "• %s: %d\n", statusLabels[st], s.ByStatus[st])
	}

	if len(s.ByCategory) > 0 {
		sb.WriteString("\n*種別別*\n")
		for _, k := range sortedKeys(s.ByCategory) {
			fmt.Fprintf(&sb, "• %s: %d\n", store.Label(store.Categories, k), s.ByCategory[k])
		}
	}
	if len(s.ByUrgency) > 0 {
		sb.WriteString("\n*緊急度別*\n")
		for _, o := range store.Urgencies {
			if n := s.ByUrgency[o.Value]; n > 0 {
				fmt.Fprintf(&sb, "• %s %s: %d\n", urgencyEmoji[o.Value], o.Label, n)
			}
		}
	}
	return sb.String()
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// quote prefixes each line for a Slack blockquote.
func quote(s string) string {
	return "> " + strings.ReplaceAll(s, "\n", "\n> ")
}

// truncate shortens s to n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
