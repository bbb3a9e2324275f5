package questions

import (
	"fmt"
	"strings"

	"github.com/Vortex-9191/slack-question-bot/internal/store"
)

func (m *Model) renderView() string {
	var b strings.Builder

	title := fmt.Sprintf("Questions (%s)", filterName(m.status))
	if m.doctorID != "" {
		title += " doctor " + m.doctorID
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n")

	if len(m.items) == 0 {
		b.WriteString(statusStyle.Render("No questions."))
		b.WriteString("\n")
	}
	for i, q := range m.items {
		line := fmt.Sprintf("%s %-8s %-10s %s  %s",
			urgencyLabel(q.Urgency), shortID(q.ID), q.PatientID, q.Status, firstLine(q.Content, 50))
		if i == m.selected {
			b.WriteString(selectedItemStyle.Render("> " + line))
		} else {
			b.WriteString(normalItemStyle.Render("  " + line))
		}
		b.WriteString("\n")
	}

	if m.current() != nil {
		b.WriteString("\n")
		b.WriteString(m.detailViewport.View())
		b.WriteString("\n")
	}

	if m.inputMode != ModeNormal {
		label := "Reject reason"
		if m.inputMode == ModeAnswer {
			label = "Answer"
		}
		b.WriteString(inputLabelStyle.Render(label + " (enter to save, esc to cancel)"))
		b.WriteString("\n")
		b.WriteString(m.textInput.View())
		b.WriteString("\n")
	}

	if m.err != nil {
		b.WriteString(errorStyle.Render("Error: " + m.err.Error()))
		b.WriteString("\n")
	}
	if m.message != "" {
		b.WriteString(statusStyle.Render(m.message))
		b.WriteString("\n")
	}
	b.WriteString(helpStyle.Render(m.help.View(m.keys)))
	return b.String()
}

// renderDetail renders the selected question for the detail viewport.
func (m *Model) renderDetail() string {
	q := m.current()
	if q == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(detailTitleStyle.Render(q.ID))
	b.WriteString("\n")
	field := func(label, value string) {
		if value == "" {
			return
		}
		b.WriteString(detailLabelStyle.Render(label + ": "))
		b.WriteString(detailValueStyle.Render(value))
		b.WriteString("\n")
	}
	field("Patient", q.PatientID)
	field("Category", store.Label(store.Categories, q.Category))
	field("Urgency", store.Label(store.Urgencies, q.Urgency))
	field("Doctor", strings.TrimSpace(q.DoctorName+" "+q.DoctorID))
	field("Status", q.Status.Label())
	field("Routing", q.Routing)
	field("Submitted by", q.SubmitterID)
	field("Created", q.CreatedAt.Format("2006-01-02 15:04"))
	b.WriteString("\n")
	b.WriteString(detailValueStyle.Render(q.Content))
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// firstLine returns the first line of s, cut to n runes.
func firstLine(s string, n int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	r := []rune(s)
	if len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s
}
