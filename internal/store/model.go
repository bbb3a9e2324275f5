package store

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a question ID does not exist.
	ErrNotFound = errors.New("question not found")
	// ErrInvalidTransition is returned when a status change is not allowed
	// from the question's current status.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Status is the lifecycle state of a question.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusAnswered Status = "answered"
	StatusRejected Status = "rejected"
)

// Statuses lists every status in display order.
var Statuses = []Status{StatusPending, StatusApproved, StatusAnswered, StatusRejected}

// transitions maps each status to the statuses it may move to. Answered and
// rejected are terminal.
var transitions = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusAnswered, StatusRejected},
	StatusApproved: {StatusAnswered, StatusRejected},
}

// CanTransition reports whether from → to is allowed.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusAnswered, StatusRejected:
		return true
	}
	return false
}

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return st, nil
}

// Label returns the Japanese display name of s.
func (s Status) Label() string {
	switch s {
	case StatusPending:
		return "対応待ち"
	case StatusApproved:
		return "承認済み"
	case StatusAnswered:
		return "回答済み"
	case StatusRejected:
		return "却下"
	}
	return string(s)
}

// Option is a selectable form value and its display label.
type Option struct {
	Value string
	Label string
}

var (
	// Categories lists question types in display order.
	Categories = []Option{
		{"accounting", "会計関連"},
		{"cs", "CS関連"},
		{"inquiry", "疑義照会"},
	}
	// Urgencies lists urgency levels from lowest to highest.
	Urgencies = []Option{
		{"low", "低"},
		{"normal", "通常"},
		{"high", "高"},
		{"urgent", "至急"},
	}
)

// Label returns the display label for value, or value itself if unknown.
func Label(opts []Option, value string) string {
	for _, o := range opts {
		if o.Value == value {
			return o.Label
		}
	}
	return value
}

// Question is a submitted question and its routing state.
type Question struct {
	ID              string            `json:"id" yaml:"id"`
	SubmitterID     string            `json:"submitter_id" yaml:"submitter_id"`
	OriginChannelID string            `json:"origin_channel_id,omitempty" yaml:"origin_channel_id,omitempty"`
	PatientID       string            `json:"patient_id" yaml:"patient_id"`
	Category        string            `json:"category" yaml:"category"`
	Urgency         string            `json:"urgency" yaml:"urgency"`
	DoctorID        string            `json:"doctor_id" yaml:"doctor_id"`
	DoctorName      string            `json:"doctor_name,omitempty" yaml:"doctor_name,omitempty"`
	Content         string            `json:"content" yaml:"content"`
	Detail          map[string]string `json:"detail,omitempty" yaml:"detail,omitempty"`
	Status          Status            `json:"status" yaml:"status"`
	DoctorChannelID string            `json:"doctor_channel_id,omitempty" yaml:"doctor_channel_id,omitempty"`
	MessageTS       string            `json:"message_ts,omitempty" yaml:"message_ts,omitempty"`
	Routing         string            `json:"routing,omitempty" yaml:"routing,omitempty"`
	CreatedAt       time.Time         `json:"created_at" yaml:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at" yaml:"updated_at"`
}

// Answer is a doctor's reply to a question.
type Answer struct {
	ID         int64     `json:"id" yaml:"id"`
	QuestionID string    `json:"question_id" yaml:"question_id"`
	AnsweredBy string    `json:"answered_by" yaml:"answered_by"`
	Text       string    `json:"text" yaml:"text"`
	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
}

// Approval records an approve or reject action.
type Approval struct {
	ID         int64     `json:"id" yaml:"id"`
	QuestionID string    `json:"question_id" yaml:"question_id"`
	ApproverID string    `json:"approver_id" yaml:"approver_id"`
	Action     string    `json:"action" yaml:"action"` // "approve" or "reject"
	Comment    string    `json:"comment,omitempty" yaml:"comment,omitempty"`
	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	DoctorID    string
	SubmitterID string
	Status      Status
	Limit       int // default 100
}

// Stats aggregates question counts.
type Stats struct {
	Total      int            `json:"total" yaml:"total"`
	ByStatus   map[Status]int `json:"by_status" yaml:"by_status"`
	ByCategory map[string]int `json:"by_category" yaml:"by_category"`
	ByUrgency  map[string]int `json:"by_urgency" yaml:"by_urgency"`
	// AnswerRate is the percentage of questions that have been answered.
	AnswerRate float64 `json:"answer_rate" yaml:"answer_rate"`
}
