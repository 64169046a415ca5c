// Package sqlite persists schedules, recipient lists and templates in an
// embedded SQLite database. It is the single source of truth for dispatch
// state and the only writer of last_sent/next_send.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/jma1ice/newsletterr/internal/domain"
	"github.com/jma1ice/newsletterr/internal/recurrence"
)

var (
	ErrNotFound         = errors.New("schedule not found")
	ErrListNotFound     = errors.New("recipient list not found")
	ErrTemplateNotFound = errors.New("template not found")
)

const anchorLayout = "2006-01-02"

// ScheduleWithNames is a schedule joined with denormalized list/template
// names for display. The sentinel list reference is presented as the
// synthetic "All Recipients" group.
type ScheduleWithNames struct {
	domain.Schedule
	ListName     string
	TemplateName string
}

// Store wraps a SQLite database handle.
type Store struct {
	db    *sql.DB
	clock func() time.Time
}

// Config holds store open options.
type Config struct {
	Path        string
	BusyTimeout time.Duration
}

// Open opens (creating if needed) the database at cfg.Path and applies the
// embedded schema.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("database path is required")
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	s := &Store{db: db, clock: time.Now}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaSQL)
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping reports database health for the /health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateSchedule validates and persists a new schedule. The identifier and
// creation timestamp are assigned here and the initial next_send is computed
// from the anchor date and send time.
func (s *Store) CreateSchedule(ctx context.Context, in domain.Schedule) (domain.Schedule, error) {
	if err := s.validateSchedule(ctx, in); err != nil {
		return domain.Schedule{}, err
	}

	in.ID = uuid.New()
	in.CreatedAt = s.clock()
	in.LastSent = nil
	in.NextSend = recurrence.Next(in.Rule, in.AnchorDate, in.SendTime, nil)

	_, err := s.db.ExecContext(ctx, queryInsertSchedule,
		in.ID.String(),
		in.Name,
		string(in.Rule),
		in.AnchorDate.Format(anchorLayout),
		in.SendTime.Hour,
		in.SendTime.Minute,
		in.ListID.String(),
		in.TemplateID.String(),
		in.DaysBack,
		in.ItemCount,
		nil,
		in.NextSend.Format(time.RFC3339),
		boolToInt(in.Active),
		in.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return domain.Schedule{}, fmt.Errorf("insert schedule: %w", err)
	}
	return in, nil
}

// UpdateSchedule replaces the editable fields of a schedule and recomputes
// next_send from the new rule/anchor/send time against the existing
// last_sent. last_sent itself is never touched by edits.
func (s *Store) UpdateSchedule(ctx context.Context, in domain.Schedule) (domain.Schedule, error) {
	if err := s.validateSchedule(ctx, in); err != nil {
		return domain.Schedule{}, err
	}

	existing, err := s.GetSchedule(ctx, in.ID)
	if err != nil {
		return domain.Schedule{}, err
	}

	in.LastSent = existing.LastSent
	in.Active = existing.Active
	in.CreatedAt = existing.CreatedAt
	in.NextSend = recurrence.Next(in.Rule, in.AnchorDate, in.SendTime, in.LastSent)

	res, err := s.db.ExecContext(ctx, queryUpdateSchedule,
		in.Name,
		string(in.Rule),
		in.AnchorDate.Format(anchorLayout),
		in.SendTime.Hour,
		in.SendTime.Minute,
		in.ListID.String(),
		in.TemplateID.String(),
		in.DaysBack,
		in.ItemCount,
		in.NextSend.Format(time.RFC3339),
		in.ID.String(),
	)
	if err != nil {
		return domain.Schedule{}, fmt.Errorf("update schedule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Schedule{}, ErrNotFound
	}
	return in, nil
}

// GetSchedule returns a schedule by id.
func (s *Store) GetSchedule(ctx context.Context, id uuid.UUID) (domain.Schedule, error) {
	row := s.db.QueryRowContext(ctx, queryGetSchedule, id.String())
	sched, err := scanSchedule(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Schedule{}, ErrNotFound
	}
	return sched, err
}

// ListSchedules returns all schedules ordered by creation descending, joined
// with list/template display names.
func (s *Store) ListSchedules(ctx context.Context) ([]ScheduleWithNames, error) {
	rows, err := s.db.QueryContext(ctx, queryListSchedules)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ScheduleWithNames
	for rows.Next() {
		var item ScheduleWithNames
		sched, err := scanScheduleInto(rows, &item.ListName, &item.TemplateName)
		if err != nil {
			return nil, err
		}
		item.Schedule = sched
		if item.ListID == domain.AllRecipients {
			item.ListName = domain.AllRecipientsName
		}
		result = append(result, item)
	}
	return result, rows.Err()
}

// DeleteSchedule removes a schedule permanently.
func (s *Store) DeleteSchedule(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, queryDeleteSchedule, id.String())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetScheduleActive toggles the active flag. Dispatch state is frozen as-is;
// reactivation does not recompute next_send until the next fire.
func (s *Store) SetScheduleActive(ctx context.Context, id uuid.UUID, active bool) error {
	res, err := s.db.ExecContext(ctx, querySetScheduleActive, boolToInt(active), id.String())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordFire marks one attempted delivery: last_sent becomes now and
// next_send advances via the recurrence calculator, in the same operation.
// The dispatch loop calls this unconditionally, success or failure.
func (s *Store) RecordFire(ctx context.Context, id uuid.UUID, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, queryGetSchedule, id.String())
	sched, err := scanSchedule(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	next := recurrence.Next(sched.Rule, sched.AnchorDate, sched.SendTime, &now)

	if _, err := tx.ExecContext(ctx, queryRecordFire,
		now.Format(time.RFC3339),
		next.Format(time.RFC3339),
		id.String(),
	); err != nil {
		return fmt.Errorf("record fire: %w", err)
	}
	return tx.Commit()
}

// DueSchedules returns the snapshot of active schedules whose next_send is at
// or before now. Dueness is evaluated against the parsed timestamps rather
// than in SQL so text encoding never affects the comparison.
func (s *Store) DueSchedules(ctx context.Context, now time.Time) ([]domain.Schedule, error) {
	active, err := s.ActiveSchedules(ctx)
	if err != nil {
		return nil, err
	}
	var due []domain.Schedule
	for _, sched := range active {
		if sched.Due(now) {
			due = append(due, sched)
		}
	}
	return due, nil
}

// ActiveSchedules returns every active schedule, in stored order.
func (s *Store) ActiveSchedules(ctx context.Context) ([]domain.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, queryActiveSchedules)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, sched)
	}
	return result, rows.Err()
}

// CreateList persists a named recipient list.
func (s *Store) CreateList(ctx context.Context, name string) (domain.RecipientList, error) {
	l := domain.RecipientList{ID: uuid.New(), Name: name, CreatedAt: s.clock()}
	_, err := s.db.ExecContext(ctx, queryInsertList, l.ID.String(), l.Name, l.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return domain.RecipientList{}, fmt.Errorf("insert list: %w", err)
	}
	return l, nil
}

// Lists returns all recipient lists, newest first.
func (s *Store) Lists(ctx context.Context) ([]domain.RecipientList, error) {
	rows, err := s.db.QueryContext(ctx, queryListLists)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.RecipientList
	for rows.Next() {
		var (
			l          domain.RecipientList
			id, issued string
		)
		if err := rows.Scan(&id, &l.Name, &issued); err != nil {
			return nil, err
		}
		if l.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse list id: %w", err)
		}
		if l.CreatedAt, err = time.Parse(time.RFC3339, issued); err != nil {
			return nil, fmt.Errorf("parse list created_at: %w", err)
		}
		result = append(result, l)
	}
	return result, rows.Err()
}

// CreateTemplate persists a named template.
func (s *Store) CreateTemplate(ctx context.Context, name string) (domain.Template, error) {
	t := domain.Template{ID: uuid.New(), Name: name, CreatedAt: s.clock()}
	_, err := s.db.ExecContext(ctx, queryInsertTemplate, t.ID.String(), t.Name, t.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return domain.Template{}, fmt.Errorf("insert template: %w", err)
	}
	return t, nil
}

// Templates returns all templates, newest first.
func (s *Store) Templates(ctx context.Context) ([]domain.Template, error) {
	rows, err := s.db.QueryContext(ctx, queryListTemplates)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Template
	for rows.Next() {
		var (
			t          domain.Template
			id, issued string
		)
		if err := rows.Scan(&id, &t.Name, &issued); err != nil {
			return nil, err
		}
		if t.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse template id: %w", err)
		}
		if t.CreatedAt, err = time.Parse(time.RFC3339, issued); err != nil {
			return nil, fmt.Errorf("parse template created_at: %w", err)
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// validateSchedule refuses to persist a schedule that could not produce a
// recoverable next_send: bad rule, bad send time, or dangling references.
func (s *Store) validateSchedule(ctx context.Context, in domain.Schedule) error {
	if in.Name == "" {
		return errors.New("schedule name is required")
	}
	if !in.Rule.Valid() {
		return fmt.Errorf("unknown recurrence rule %q", in.Rule)
	}
	if err := in.SendTime.Validate(); err != nil {
		return err
	}
	if in.AnchorDate.IsZero() {
		return errors.New("anchor date is required")
	}

	if in.ListID != domain.AllRecipients {
		if err := s.refExists(ctx, queryListExists, in.ListID, ErrListNotFound); err != nil {
			return err
		}
	}
	if in.TemplateID == uuid.Nil {
		return errors.New("template reference is required")
	}
	return s.refExists(ctx, queryTemplateExists, in.TemplateID, ErrTemplateNotFound)
}

func (s *Store) refExists(ctx context.Context, query string, id uuid.UUID, missing error) error {
	var one int
	err := s.db.QueryRowContext(ctx, query, id.String()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return missing
	}
	return err
}

// scanSchedule reads one schedule row. Malformed stored timestamps surface as
// errors; they are never swallowed.
func scanSchedule(scan func(dest ...any) error) (domain.Schedule, error) {
	return scanWith(scan)
}

func scanScheduleInto(rows *sql.Rows, extra ...any) (domain.Schedule, error) {
	return scanWith(rows.Scan, extra...)
}

func scanWith(scan func(dest ...any) error, extra ...any) (domain.Schedule, error) {
	var (
		sched                domain.Schedule
		id, listID, tmplID   string
		rule, anchor, issued string
		lastSent             sql.NullString
		nextSend             string
		active               int
	)

	dest := []any{
		&id, &sched.Name, &rule, &anchor, &sched.SendTime.Hour, &sched.SendTime.Minute,
		&listID, &tmplID, &sched.DaysBack, &sched.ItemCount,
		&lastSent, &nextSend, &active, &issued,
	}
	dest = append(dest, extra...)

	if err := scan(dest...); err != nil {
		return domain.Schedule{}, err
	}

	var err error
	if sched.ID, err = uuid.Parse(id); err != nil {
		return domain.Schedule{}, fmt.Errorf("parse schedule id: %w", err)
	}
	if sched.ListID, err = uuid.Parse(listID); err != nil {
		return domain.Schedule{}, fmt.Errorf("parse list id: %w", err)
	}
	if sched.TemplateID, err = uuid.Parse(tmplID); err != nil {
		return domain.Schedule{}, fmt.Errorf("parse template id: %w", err)
	}
	sched.Rule = domain.Rule(rule)
	if sched.AnchorDate, err = time.Parse(anchorLayout, anchor); err != nil {
		return domain.Schedule{}, fmt.Errorf("parse anchor date: %w", err)
	}
	if lastSent.Valid {
		t, err := time.Parse(time.RFC3339, lastSent.String)
		if err != nil {
			return domain.Schedule{}, fmt.Errorf("parse last_sent: %w", err)
		}
		sched.LastSent = &t
	}
	if sched.NextSend, err = time.Parse(time.RFC3339, nextSend); err != nil {
		return domain.Schedule{}, fmt.Errorf("parse next_send: %w", err)
	}
	if sched.CreatedAt, err = time.Parse(time.RFC3339, issued); err != nil {
		return domain.Schedule{}, fmt.Errorf("parse created_at: %w", err)
	}
	sched.Active = active != 0
	return sched, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
