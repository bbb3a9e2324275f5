// Package store persists questions, answers and approvals in SQLite.
//
// The schema is embedded and applied with golang-migrate on Open. Every
// write is a single statement or a single transaction, so concurrent
// handlers never observe a half-applied status change.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store is the SQLite-backed question store.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path and applies pending
// migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SetClock overrides the timestamp source. Intended for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

const questionColumns = `id, submitter_id, origin_channel_id, patient_id, category, urgency,
	doctor_id, doctor_name, content, detail, status, doctor_channel_id, message_ts, routing,
	created_at, updated_at`

// Create inserts q as a new pending question. An empty ID is assigned a UUID.
func (s *Store) Create(ctx context.Context, q *Question) error {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if q.Urgency == "" {
		q.Urgency = "normal"
	}
	q.Status = StatusPending
	now := s.now().UTC()
	q.CreatedAt, q.UpdatedAt = now, now

	detail, err := encodeDetail(q.Detail)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO questions (`+questionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.SubmitterID, q.OriginChannelID, q.PatientID, q.Category, q.Urgency,
		q.DoctorID, q.DoctorName, q.Content, detail, string(q.Status),
		q.DoctorChannelID, q.MessageTS, q.Routing, now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert question: %w", err)
	}
	return nil
}

// Get fetches a question by ID.
func (s *Store) Get(ctx context.Context, id string) (*Question, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+questionColumns+` FROM questions WHERE id = ?`, id)
	q, err := scanQuestion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return q, err
}

// Approve marks a question approved and records who approved it.
func (s *Store) Approve(ctx context.Context, id, approverID, comment string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.transition(ctx, tx, id, StatusApproved); err != nil {
			return err
		}
		return s.insertApproval(ctx, tx, Approval{QuestionID: id, ApproverID: approverID, Action: "approve", Comment: comment})
	})
}

// Reject marks a question rejected and records the reason.
func (s *Store) Reject(ctx context.Context, id, approverID, reason string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.transition(ctx, tx, id, StatusRejected); err != nil {
			return err
		}
		if err := s.mergeDetail(ctx, tx, id, map[string]string{"reject_reason": reason}); err != nil {
			return err
		}
		return s.insertApproval(ctx, tx, Approval{QuestionID: id, ApproverID: approverID, Action: "reject", Comment: reason})
	})
}

// Answer marks a question answered and stores the answer text.
func (s *Store) Answer(ctx context.Context, id, answeredBy, text string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.transition(ctx, tx, id, StatusAnswered); err != nil {
			return err
		}
		return s.insertAnswer(ctx, tx, Answer{QuestionID: id, AnsweredBy: answeredBy, Text: text})
	})
}

// UpdateContent replaces the question text. The first edit keeps the
// submitted text in Detail["original_content"]. Only pending questions can
// be edited.
func (s *Store) UpdateContent(ctx context.Context, id, content, editedBy string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var status, old, detailRaw string
		err := tx.QueryRowContext(ctx, `SELECT status, content, detail FROM questions WHERE id = ?`, id).
			Scan(&status, &old, &detailRaw)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("load question %s: %w", id, err)
		}
		if Status(status) != StatusPending {
			return fmt.Errorf("%w: cannot edit %s question", ErrInvalidTransition, status)
		}

		detail := decodeDetail(detailRaw)
		if _, ok := detail["original_content"]; !ok {
			detail["original_content"] = old
		}
		detail["modified_by"] = editedBy
		encoded, err := encodeDetail(detail)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE questions SET content = ?, detail = ?, updated_at = ? WHERE id = ?`,
			content, encoded, s.now().UTC().UnixMilli(), id)
		if err != nil {
			return fmt.Errorf("update content %s: %w", id, err)
		}
		return nil
	})
}

// SetDelivery records where the question was routed.
func (s *Store) SetDelivery(ctx context.Context, id, channelID, messageTS, routing string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE questions SET doctor_channel_id = ?, message_ts = ?, routing = ?, updated_at = ? WHERE id = ?`,
		channelID, messageTS, routing, s.now().UTC().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("set delivery %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Answers returns the answers for a question, oldest first.
func (s *Store) Answers(ctx context.Context, questionID string) ([]Answer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, question_id, answered_by, answer_text, created_at FROM answers
		 WHERE question_id = ? ORDER BY created_at, id`, questionID)
	if err != nil {
		return nil, fmt.Errorf("query answers: %w", err)
	}
	defer rows.Close()

	var out []Answer
	for rows.Next() {
		var a Answer
		var created int64
		if err := rows.Scan(&a.ID, &a.QuestionID, &a.AnsweredBy, &a.Text, &created); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		a.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

// Approvals returns the approval history for a question, oldest first.
func (s *Store) Approvals(ctx context.Context, questionID string) ([]Approval, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, question_id, approver_id, action, comment, created_at FROM approvals
		 WHERE question_id = ? ORDER BY created_at, id`, questionID)
	if err != nil {
		return nil, fmt.Errorf("query approvals: %w", err)
	}
	defer rows.Close()

	var out []Approval
	for rows.Next() {
		var a Approval
		var created int64
		if err := rows.Scan(&a.ID, &a.QuestionID, &a.ApproverID, &a.Action, &a.Comment, &created); err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		a.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

// List returns questions matching f, newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]*Question, error) {
	var where []string
	var args []any
	if f.DoctorID != "" {
		where = append(where, "doctor_id = ?")
		args = append(args, f.DoctorID)
	}
	if f.SubmitterID != "" {
		where = append(where, "submitter_id = ?")
		args = append(args, f.SubmitterID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + questionColumns + ` FROM questions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id LIMIT ?"
	args = append(args, limit)

	return s.queryQuestions(ctx, query, args...)
}

// Search finds questions whose content, patient ID or doctor name contains
// keyword, newest first.
func (s *Store) Search(ctx context.Context, keyword string, limit int) ([]*Question, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	pattern := "%" + escapeLike(keyword) + "%"
	return s.queryQuestions(ctx, `SELECT `+questionColumns+` FROM questions
		WHERE content LIKE ? ESCAPE '\' OR patient_id LIKE ? ESCAPE '\' OR doctor_name LIKE ? ESCAPE '\'
		ORDER BY created_at DESC, id LIMIT ?`, pattern, pattern, pattern, limit)
}

// Stats aggregates counts by status, category and urgency.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{
		ByStatus:   make(map[Status]int),
		ByCategory: make(map[string]int),
		ByUrgency:  make(map[string]int),
	}
	for _, status := range Statuses {
		st.ByStatus[status] = 0
	}

	if err := s.countBy(ctx, "status", func(k string, n int) {
		st.ByStatus[Status(k)] = n
		st.Total += n
	}); err != nil {
		return nil, err
	}
	if err := s.countBy(ctx, "category", func(k string, n int) { st.ByCategory[k] = n }); err != nil {
		return nil, err
	}
	if err := s.countBy(ctx, "urgency", func(k string, n int) { st.ByUrgency[k] = n }); err != nil {
		return nil, err
	}
	if st.Total > 0 {
		st.AnswerRate = float64(st.ByStatus[StatusAnswered]) * 100 / float64(st.Total)
	}
	return st, nil
}

func (s *Store) countBy(ctx context.Context, column string, fn func(string, int)) error {
	// column is one of a fixed set of identifiers, never user input.
	rows, err := s.db.QueryContext(ctx, `SELECT `+column+`, COUNT(*) FROM questions GROUP BY `+column)
	if err != nil {
		return fmt.Errorf("count by %s: %w", column, err)
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			return fmt.Errorf("scan count by %s: %w", column, err)
		}
		fn(k, n)
	}
	return rows.Err()
}

func (s *Store) queryQuestions(ctx context.Context, query string, args ...any) ([]*Question, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query questions: %w", err)
	}
	defer rows.Close()

	var out []*Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanQuestion(row scanner) (*Question, error) {
	var q Question
	var status, detail string
	var created, updated int64
	err := row.Scan(&q.ID, &q.SubmitterID, &q.OriginChannelID, &q.PatientID, &q.Category, &q.Urgency,
		&q.DoctorID, &q.DoctorName, &q.Content, &detail, &status, &q.DoctorChannelID, &q.MessageTS,
		&q.Routing, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan question: %w", err)
	}
	q.Status = Status(status)
	q.Detail = decodeDetail(detail)
	if len(q.Detail) == 0 {
		q.Detail = nil
	}
	q.CreatedAt = time.UnixMilli(created).UTC()
	q.UpdatedAt = time.UnixMilli(updated).UTC()
	return &q, nil
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) transition(ctx context.Context, tx *sql.Tx, id string, to Status) error {
	var current string
	err := tx.QueryRowContext(ctx, `SELECT status FROM questions WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("load status %s: %w", id, err)
	}
	if !CanTransition(Status(current), to) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, current, to)
	}
	_, err = tx.ExecContext(ctx, `UPDATE questions SET status = ?, updated_at = ? WHERE id = ?`,
		string(to), s.now().UTC().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("update status %s: %w", id, err)
	}
	return nil
}

func (s *Store) mergeDetail(ctx context.Context, tx *sql.Tx, id string, extra map[string]string) error {
	var raw string
	if err := tx.QueryRowContext(ctx, `SELECT detail FROM questions WHERE id = ?`, id).Scan(&raw); err != nil {
		return fmt.Errorf("load detail %s: %w", id, err)
	}
	detail := decodeDetail(raw)
	for k, v := range extra {
		detail[k] = v
	}
	encoded, err := encodeDetail(detail)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `UPDATE questions SET detail = ? WHERE id = ?`, encoded, id)
	return err
}

func (s *Store) insertAnswer(ctx context.Context, tx *sql.Tx, a Answer) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO answers (question_id, answered_by, answer_text, created_at) VALUES (?, ?, ?, ?)`,
		a.QuestionID, a.AnsweredBy, a.Text, s.now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("insert answer: %w", err)
	}
	return nil
}

func (s *Store) insertApproval(ctx context.Context, tx *sql.Tx, a Approval) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO approvals (question_id, approver_id, action, comment, created_at) VALUES (?, ?, ?, ?, ?)`,
		a.QuestionID, a.ApproverID, a.Action, a.Comment, s.now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("insert approval: %w", err)
	}
	return nil
}

func encodeDetail(d map[string]string) (string, error) {
	if len(d) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("encode detail: %w", err)
	}
	return string(b), nil
}

func decodeDetail(raw string) map[string]string {
	d := make(map[string]string)
	if raw == "" {
		return d
	}
	_ = json.Unmarshal([]byte(raw), &d)
	return d
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
