package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"pomotick/internal/timer"
	logx "pomotick/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const taskColumns = `id, title, status, main_started_at, main_elapsed_seconds,
	pomodoro_minutes, pomodoro_break_minutes, pomodoro_until,
	execution_time_minutes, extra_time_minutes, version, created_at, updated_at`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection: SQLite serializes writers anyway and the pragmas
	// below are per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log.With(logx.String("comp", "storage"), logx.String("driver", "sqlite"))}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	st.log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) FetchActive(ctx context.Context) ([]timer.State, error) {
	return s.List(ctx, ListFilter{Statuses: timer.ActiveStatuses})
}

func (s *sqliteStore) List(ctx context.Context, f ListFilter) ([]timer.State, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	q := `SELECT ` + taskColumns + ` FROM tasks`
	args := make([]any, 0, len(f.Statuses)+1)
	if len(f.Statuses) > 0 {
		marks := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		q += ` WHERE status IN (` + strings.Join(marks, ",") + `)`
	}
	q += ` ORDER BY created_at, id`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []timer.State
	for rows.Next() {
		st, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Get(ctx context.Context, id string) (timer.State, error) {
	if s == nil || s.db == nil {
		return timer.State{}, ErrDisabled
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	st, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return timer.State{}, ErrNotFound
	}
	return st, err
}

func (s *sqliteStore) Create(ctx context.Context, st timer.State) (timer.State, error) {
	if s == nil || s.db == nil {
		return timer.State{}, ErrDisabled
	}
	if st.ID == "" {
		return timer.State{}, errors.New("task id is required")
	}
	now := time.Now()
	st = st.Clone()
	st.Version = 1
	if st.CreatedAt.IsZero() {
		st.CreatedAt = now
	}
	st.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks(`+taskColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		st.ID, st.Title, string(st.Status), nullTime(st.MainStartedAt), st.MainElapsedSeconds,
		nullInt(st.PomodoroMinutes), nullInt(st.PomodoroBreakMinutes), nullTime(st.PomodoroUntil),
		nullInt(st.ExecutionTimeMinutes), st.ExtraTimeMinutes, st.Version,
		fmtTime(st.CreatedAt), fmtTime(st.UpdatedAt),
	)
	if err != nil {
		return timer.State{}, fmt.Errorf("insert task %s: %w", st.ID, err)
	}
	return st, nil
}

func (s *sqliteStore) Update(ctx context.Context, st timer.State) (timer.State, error) {
	if s == nil || s.db == nil {
		return timer.State{}, ErrDisabled
	}
	saved, err := s.update(ctx, s.db, st, time.Now())
	if errors.Is(err, ErrConflict) {
		// tell a stale version apart from a missing row
		if _, gerr := s.Get(ctx, st.ID); errors.Is(gerr, ErrNotFound) {
			return timer.State{}, ErrNotFound
		}
	}
	return saved, err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *sqliteStore) update(ctx context.Context, db execer, st timer.State, now time.Time) (timer.State, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE tasks SET title=?, status=?, main_started_at=?, main_elapsed_seconds=?,
			pomodoro_minutes=?, pomodoro_break_minutes=?, pomodoro_until=?,
			execution_time_minutes=?, extra_time_minutes=?, version=version+1, updated_at=?
		 WHERE id=? AND version=?`,
		st.Title, string(st.Status), nullTime(st.MainStartedAt), st.MainElapsedSeconds,
		nullInt(st.PomodoroMinutes), nullInt(st.PomodoroBreakMinutes), nullTime(st.PomodoroUntil),
		nullInt(st.ExecutionTimeMinutes), st.ExtraTimeMinutes, fmtTime(now),
		st.ID, st.Version,
	)
	if err != nil {
		return timer.State{}, fmt.Errorf("update task %s: %w", st.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return timer.State{}, err
	}
	if n == 0 {
		return timer.State{}, ErrConflict
	}
	out := st.Clone()
	out.Version = st.Version + 1
	out.UpdatedAt = now
	return out, nil
}

// SaveAll runs in one transaction with a savepoint per row: a stale or
// failing row is rolled back alone and the rest of the batch commits.
func (s *sqliteStore) SaveAll(ctx context.Context, states []timer.State) (SaveResult, error) {
	if s == nil || s.db == nil {
		return SaveResult{}, ErrDisabled
	}
	if len(states) == 0 {
		return SaveResult{}, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return SaveResult{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var res SaveResult
	now := time.Now()
	for _, st := range states {
		if _, err := tx.ExecContext(ctx, `SAVEPOINT save_row`); err != nil {
			return SaveResult{}, err
		}
		saved, err := s.update(ctx, tx, st, now)
		if err != nil {
			if _, rerr := tx.ExecContext(ctx, `ROLLBACK TO save_row`); rerr != nil {
				return SaveResult{}, fmt.Errorf("rollback row %s: %w", st.ID, rerr)
			}
		}
		if _, rerr := tx.ExecContext(ctx, `RELEASE save_row`); rerr != nil {
			return SaveResult{}, rerr
		}
		switch {
		case errors.Is(err, ErrConflict):
			res.Conflicts = append(res.Conflicts, st.ID)
		case err != nil:
			res.fail(st.ID, err)
		default:
			res.Saved = append(res.Saved, saved)
		}
	}
	if err := tx.Commit(); err != nil {
		return SaveResult{}, err
	}
	return res, nil
}

func (s *sqliteStore) AppendTransition(ctx context.Context, r TransitionRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO task_transitions(id, task_id, from_status, to_status, source, at, elapsed_seconds)
		 VALUES(?,?,?,?,?,?,?)`,
		r.ID, r.TaskID, string(r.From), string(r.To), string(r.Source), fmtTime(r.At), r.ElapsedSeconds,
	)
	return err
}

func (s *sqliteStore) Transitions(ctx context.Context, taskID string, limit int) ([]TransitionRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, from_status, to_status, source, at, elapsed_seconds
		 FROM task_transitions WHERE task_id = ? ORDER BY seq DESC LIMIT ?`,
		taskID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TransitionRecord
	for rows.Next() {
		var (
			r                    TransitionRecord
			from, to, source, at string
		)
		if err := rows.Scan(&r.ID, &r.TaskID, &from, &to, &source, &at, &r.ElapsedSeconds); err != nil {
			return nil, err
		}
		r.From, r.To, r.Source = timer.Status(from), timer.Status(to), timer.Source(source)
		if r.At, err = parseTime(at); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(sc scanner) (timer.State, error) {
	var (
		st                   timer.State
		status               string
		startedAt, until     sql.NullString
		pomo, brk, exec      sql.NullInt64
		createdAt, updatedAt string
	)
	err := sc.Scan(&st.ID, &st.Title, &status, &startedAt, &st.MainElapsedSeconds,
		&pomo, &brk, &until, &exec, &st.ExtraTimeMinutes, &st.Version, &createdAt, &updatedAt)
	if err != nil {
		return timer.State{}, err
	}
	st.Status = timer.Status(status)
	st.PomodoroMinutes = intPtr(pomo)
	st.PomodoroBreakMinutes = intPtr(brk)
	st.ExecutionTimeMinutes = intPtr(exec)
	if st.MainStartedAt, err = timePtr(startedAt); err != nil {
		return timer.State{}, err
	}
	if st.PomodoroUntil, err = timePtr(until); err != nil {
		return timer.State{}, err
	}
	if st.CreatedAt, err = parseTime(createdAt); err != nil {
		return timer.State{}, err
	}
	if st.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return timer.State{}, err
	}
	return st, nil
}

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func fmtTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(v string) (time.Time, error) { return time.Parse(time.RFC3339Nano, v) }

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func timePtr(v sql.NullString) (*time.Time, error) {
	if !v.Valid || strings.TrimSpace(v.String) == "" {
		return nil, nil
	}
	t, err := parseTime(v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}
