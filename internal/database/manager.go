package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	dbconfig "liveclass/pkg/database"
	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

// Manager implements interfaces.SessionRepository on SQLite. Reads run
// concurrently on the pool; every write goes through one writer goroutine.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	logger       *slog.Logger
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

var _ interfaces.SessionRepository = (*Manager)(nil)

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database and starts the writer goroutine.
func NewManager(config *dbconfig.Config, logger *slog.Logger) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		logger:       logger.With(slog.String("component", "database")),
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine.
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil && isBusy(err) {
				m.logger.Warn("database busy, retrying write",
					slog.Duration("delay", m.config.WriteRetryDelay), slog.String("err", err.Error()))
				time.Sleep(m.config.WriteRetryDelay)
				err = op.operation(m.db)
			}
			op.result <- err

		case <-m.shutdown:
			m.logger.Info("database write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion.
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("database manager is closed")
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	timeout := time.NewTimer(m.config.WriteTimeout)
	defer timeout.Stop()

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-timeout.C:
		return fmt.Errorf("write operation timeout")
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return fmt.Errorf("database manager is shutting down")
	}

	// The operation is queued; wait for the writer even if ctx ends so the
	// caller always learns the real outcome.
	return <-result
}

const sessionColumns = `id, title, description, owner_id, course_id, max_participants, is_public,
	status, is_expired, scheduled_start, duration_minutes, scheduled_end, expires_at,
	provider_kind, provider_meeting_id, host_join_ref, participant_join_ref, access_secret,
	created_at, updated_at`

// CreateSession inserts a session and any initial roster in one transaction.
func (m *Manager) CreateSession(ctx context.Context, session *types.Session) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		_, err = tx.ExecContext(ctx, `
			INSERT INTO sessions (`+sessionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			session.ID,
			session.Title,
			session.Description,
			session.OwnerID,
			nullString(session.CourseID),
			session.MaxParticipants,
			session.IsPublic,
			string(session.Status),
			session.IsExpired,
			toMillis(session.ScheduledStart),
			session.DurationMinutes,
			toMillis(session.ScheduledEnd),
			toMillis(session.ExpiresAt),
			string(session.ProviderKind),
			session.ProviderMeetingID,
			session.HostJoinRef,
			session.ParticipantJoinRef,
			session.AccessSecret,
			toMillis(session.CreatedAt),
			toMillis(session.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}

		for _, reg := range session.Roster {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO registrations (session_id, participant_id, registered_at) VALUES (?, ?, ?)`,
				session.ID, reg.ParticipantID, toMillis(reg.RegisteredAt)); err != nil {
				return fmt.Errorf("failed to insert registration: %w", err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit session creation: %w", err)
		}
		return nil
	})
}

// GetSession loads a session, its roster and its attendance log from one
// read snapshot.
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin read: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, sessionID)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to query session: %w", err)
	}

	if session.Roster, err = loadRoster(ctx, tx, sessionID); err != nil {
		return nil, err
	}
	if session.Attendance, err = loadAttendance(ctx, tx, sessionID); err != nil {
		return nil, err
	}

	return session, nil
}

// ListSessions returns sessions matching filter ordered by scheduled start.
func (m *Manager) ListSessions(ctx context.Context, filter types.SessionFilter) ([]*types.Session, error) {
	var where []string
	var args []any

	if filter.OwnerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}
	if filter.CourseID != "" {
		where = append(where, "course_id = ?")
		args = append(args, filter.CourseID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if !filter.IncludeExpired {
		where = append(where, "is_expired = 0")
	}

	query := `SELECT ` + sessionColumns + ` FROM sessions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY scheduled_start ASC, id ASC LIMIT ? OFFSET ?"
	args = append(args, clampLimit(filter.Limit), max(filter.Offset, 0))

	sessions, err := m.querySessions(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if err := m.loadRosters(ctx, sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// loadRosters fills the rosters of a page of sessions with one query.
func (m *Manager) loadRosters(ctx context.Context, sessions []*types.Session) error {
	if len(sessions) == 0 {
		return nil
	}

	byID := make(map[string]*types.Session, len(sessions))
	placeholders := make([]string, 0, len(sessions))
	args := make([]any, 0, len(sessions))
	for _, s := range sessions {
		byID[s.ID] = s
		placeholders = append(placeholders, "?")
		args = append(args, s.ID)
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT session_id, participant_id, registered_at FROM registrations
		WHERE session_id IN (`+strings.Join(placeholders, ", ")+`)
		ORDER BY registered_at ASC, rowid ASC`, args...)
	if err != nil {
		return fmt.Errorf("failed to query rosters: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var sessionID string
		var reg types.Registration
		var at int64
		if err := rows.Scan(&sessionID, &reg.ParticipantID, &at); err != nil {
			return fmt.Errorf("failed to scan registration: %w", err)
		}
		reg.RegisteredAt = fromMillis(at)
		if s, ok := byID[sessionID]; ok {
			s.Roster = append(s.Roster, reg)
		}
	}
	return rows.Err()
}

// UpdateSessionDetails applies owner edits while the session is still
// scheduled. Schedule fields and the derived window are written together.
func (m *Manager) UpdateSessionDetails(ctx context.Context, sessionID string, update types.SessionUpdate, now time.Time) error {
	sets := []string{"updated_at = ?"}
	args := []any{toMillis(now)}

	if update.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *update.Title)
	}
	if update.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *update.Description)
	}
	if update.IsPublic != nil {
		sets = append(sets, "is_public = ?")
		args = append(args, *update.IsPublic)
	}
	if update.MaxParticipants != nil {
		sets = append(sets, "max_participants = ?")
		args = append(args, *update.MaxParticipants)
	}
	if update.ChangesSchedule() {
		if update.Window == nil {
			return fmt.Errorf("schedule update without a computed window")
		}
		sets = append(sets, "scheduled_start = ?", "duration_minutes = ?", "scheduled_end = ?", "expires_at = ?")
		args = append(args,
			toMillis(update.Window.Start),
			update.Window.DurationMinutes,
			toMillis(update.Window.End),
			toMillis(update.Window.ExpiresAt),
		)
	}

	query := `UPDATE sessions SET ` + strings.Join(sets, ", ") + `
		WHERE id = ? AND status = 'scheduled' AND is_expired = 0 AND scheduled_start > ?`
	args = append(args, sessionID, toMillis(now))
	if update.MaxParticipants != nil {
		query += ` AND (SELECT COUNT(*) FROM registrations WHERE session_id = sessions.id) <= ?`
		args = append(args, *update.MaxParticipants)
	}

	return m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return tx.Commit()
		}

		state, err := loadState(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		switch {
		case state.expired:
			return interfaces.ErrSessionExpired
		case state.status != types.StatusScheduled || !state.start.After(now):
			return interfaces.ErrNotEditable
		case update.MaxParticipants != nil && state.rosterSize > *update.MaxParticipants:
			return interfaces.ErrCapacityBelowRoster
		default:
			return interfaces.ErrNotEditable
		}
	})
}

// TransitionStatus performs a compare-and-set on the status column.
func (m *Manager) TransitionStatus(ctx context.Context, sessionID string, from, to types.Status, now time.Time) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		res, err := tx.ExecContext(ctx, `
			UPDATE sessions SET status = ?, updated_at = ?
			WHERE id = ? AND status = ? AND is_expired = 0`,
			string(to), toMillis(now), sessionID, string(from))
		if err != nil {
			return fmt.Errorf("failed to update session status: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return tx.Commit()
		}

		state, err := loadState(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if state.expired {
			return interfaces.ErrSessionExpired
		}
		return interfaces.ErrStaleStatus
	})
}

// AddRegistration checks openness, uniqueness and capacity and appends the
// roster entry inside one write transaction. The insert itself is
// conditional on the roster count so it cannot overfill even if another
// process writes to the same file.
func (m *Manager) AddRegistration(ctx context.Context, sessionID string, reg types.Registration, now time.Time) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		state, err := loadState(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if state.expired {
			return interfaces.ErrSessionExpired
		}
		if state.status != types.StatusScheduled || now.After(state.start) {
			return interfaces.ErrRegistrationClosed
		}

		var exists int
		err = tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM registrations WHERE session_id = ? AND participant_id = ?`,
			sessionID, reg.ParticipantID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check registration: %w", err)
		}
		if exists > 0 {
			return interfaces.ErrAlreadyRegistered
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO registrations (session_id, participant_id, registered_at)
			SELECT ?, ?, ?
			WHERE (SELECT COUNT(*) FROM registrations WHERE session_id = ?) <
			      (SELECT max_participants FROM sessions WHERE id = ?)`,
			sessionID, reg.ParticipantID, toMillis(reg.RegisteredAt), sessionID, sessionID)
		if err != nil {
			if isConstraint(err) {
				return interfaces.ErrAlreadyRegistered
			}
			return fmt.Errorf("failed to insert registration: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return interfaces.ErrSessionFull
		}

		if _, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`,
			toMillis(now), sessionID); err != nil {
			return fmt.Errorf("failed to touch session: %w", err)
		}

		return tx.Commit()
	})
}

// RemoveRegistration deletes a roster entry while the session has not started.
func (m *Manager) RemoveRegistration(ctx context.Context, sessionID, participantID string, now time.Time) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		state, err := loadState(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if state.expired {
			return interfaces.ErrSessionExpired
		}
		started := state.status == types.StatusLive || state.status == types.StatusCompleted ||
			(state.status == types.StatusScheduled && !now.Before(state.start))
		if started {
			return interfaces.ErrRegistrationClosed
		}

		res, err := tx.ExecContext(ctx,
			`DELETE FROM registrations WHERE session_id = ? AND participant_id = ?`,
			sessionID, participantID)
		if err != nil {
			return fmt.Errorf("failed to delete registration: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return interfaces.ErrNotRegistered
		}

		if _, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`,
			toMillis(now), sessionID); err != nil {
			return fmt.Errorf("failed to touch session: %w", err)
		}

		return tx.Commit()
	})
}

// AppendAttendance appends one attendance event to an unexpired session.
func (m *Manager) AppendAttendance(ctx context.Context, sessionID string, event types.AttendanceEvent) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `
			INSERT INTO attendance (session_id, participant_id, kind, occurred_at)
			SELECT id, ?, ?, ? FROM sessions WHERE id = ? AND is_expired = 0`,
			event.ParticipantID, string(event.Kind), toMillis(event.At), sessionID)
		if err != nil {
			return fmt.Errorf("failed to insert attendance: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return nil
		}

		state, err := loadState(ctx, db, sessionID)
		if err != nil {
			return err
		}
		if state.expired {
			return interfaces.ErrSessionExpired
		}
		return fmt.Errorf("attendance insert affected no rows")
	})
}

// ListDueTransitions returns sessions whose stored status lags the clock.
func (m *Manager) ListDueTransitions(ctx context.Context, now time.Time, limit int) ([]*types.Session, error) {
	ms := toMillis(now)
	return m.querySessions(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE is_expired = 0 AND (
			(status = 'scheduled' AND scheduled_start <= ?) OR
			(status = 'live' AND scheduled_end < ?)
		)
		ORDER BY scheduled_start ASC
		LIMIT ?`, ms, ms, clampLimit(limit))
}

// ListExpired returns sessions past their validity window that are not yet marked.
func (m *Manager) ListExpired(ctx context.Context, now time.Time, limit int) ([]*types.Session, error) {
	return m.querySessions(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE expires_at <= ? AND is_expired = 0
		ORDER BY expires_at ASC
		LIMIT ?`, toMillis(now), clampLimit(limit))
}

// MarkExpired flips is_expired once and reports whether this call did it.
func (m *Manager) MarkExpired(ctx context.Context, sessionID string, now time.Time) (bool, error) {
	var changed bool
	err := m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`UPDATE sessions SET is_expired = 1, updated_at = ? WHERE id = ? AND is_expired = 0`,
			toMillis(now), sessionID)
		if err != nil {
			return fmt.Errorf("failed to mark session expired: %w", err)
		}
		n, _ := res.RowsAffected()
		changed = n == 1
		return nil
	})
	return changed, err
}

// DeleteSession removes the session and its collections.
func (m *Manager) DeleteSession(ctx context.Context, sessionID string) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if err := deleteChildren(ctx, tx, `session_id = ?`, sessionID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
		if err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return interfaces.ErrSessionNotFound
		}
		return tx.Commit()
	})
}

// PurgeExpired deletes archived sessions whose expiry is before cutoff.
func (m *Manager) PurgeExpired(ctx context.Context, cutoff time.Time) (int, error) {
	var purged int
	err := m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		ms := toMillis(cutoff)
		if err := deleteChildren(ctx, tx,
			`session_id IN (SELECT id FROM sessions WHERE is_expired = 1 AND expires_at < ?)`, ms); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE is_expired = 1 AND expires_at < ?`, ms)
		if err != nil {
			return fmt.Errorf("failed to purge sessions: %w", err)
		}
		n, _ := res.RowsAffected()
		purged = int(n)
		return tx.Commit()
	})
	return purged, err
}

// HealthCheck validates database connectivity.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying database connection for migrations.
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close stops the writer goroutine and closes the pool. It is safe to call twice.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func (m *Manager) querySessions(ctx context.Context, query string, args ...any) ([]*types.Session, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*types.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}
	return sessions, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanSession(row rowScanner) (*types.Session, error) {
	var (
		s                    types.Session
		courseID             sql.NullString
		status, providerKind string
		start, end, expires  int64
		createdAt, updatedAt int64
	)

	err := row.Scan(
		&s.ID,
		&s.Title,
		&s.Description,
		&s.OwnerID,
		&courseID,
		&s.MaxParticipants,
		&s.IsPublic,
		&status,
		&s.IsExpired,
		&start,
		&s.DurationMinutes,
		&end,
		&expires,
		&providerKind,
		&s.ProviderMeetingID,
		&s.HostJoinRef,
		&s.ParticipantJoinRef,
		&s.AccessSecret,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if courseID.Valid {
		s.CourseID = &courseID.String
	}
	s.Status = types.Status(status)
	s.ProviderKind = types.ProviderKind(providerKind)
	s.ScheduledStart = fromMillis(start)
	s.ScheduledEnd = fromMillis(end)
	s.ExpiresAt = fromMillis(expires)
	s.CreatedAt = fromMillis(createdAt)
	s.UpdatedAt = fromMillis(updatedAt)
	s.Roster = []types.Registration{}

	return &s, nil
}

func loadRoster(ctx context.Context, q queryer, sessionID string) ([]types.Registration, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT participant_id, registered_at FROM registrations
		WHERE session_id = ?
		ORDER BY registered_at ASC, rowid ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query roster: %w", err)
	}
	defer func() { _ = rows.Close() }()

	roster := []types.Registration{}
	for rows.Next() {
		var reg types.Registration
		var at int64
		if err := rows.Scan(&reg.ParticipantID, &at); err != nil {
			return nil, fmt.Errorf("failed to scan registration: %w", err)
		}
		reg.RegisteredAt = fromMillis(at)
		roster = append(roster, reg)
	}
	return roster, rows.Err()
}

func loadAttendance(ctx context.Context, q queryer, sessionID string) ([]types.AttendanceEvent, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT participant_id, kind, occurred_at FROM attendance
		WHERE session_id = ?
		ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query attendance: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []types.AttendanceEvent
	for rows.Next() {
		var ev types.AttendanceEvent
		var kind string
		var at int64
		if err := rows.Scan(&ev.ParticipantID, &kind, &at); err != nil {
			return nil, fmt.Errorf("failed to scan attendance: %w", err)
		}
		ev.Kind = types.AttendanceKind(kind)
		ev.At = fromMillis(at)
		events = append(events, ev)
	}
	return events, rows.Err()
}

type sessionState struct {
	status     types.Status
	expired    bool
	start      time.Time
	rosterSize int
}

// loadState reads the fields used to explain a failed conditional write.
func loadState(ctx context.Context, q queryer, sessionID string) (*sessionState, error) {
	var (
		state  sessionState
		status string
		start  int64
	)
	err := q.QueryRowContext(ctx, `
		SELECT status, is_expired, scheduled_start,
			(SELECT COUNT(*) FROM registrations WHERE session_id = sessions.id)
		FROM sessions WHERE id = ?`, sessionID).Scan(&status, &state.expired, &start, &state.rosterSize)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load session state: %w", err)
	}
	state.status = types.Status(status)
	state.start = fromMillis(start)
	return &state, nil
}

func deleteChildren(ctx context.Context, tx *sql.Tx, where string, args ...any) error {
	for _, table := range []string{"registrations", "attendance"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE `+where, args...); err != nil {
			return fmt.Errorf("failed to delete %s: %w", table, err)
		}
	}
	return nil
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

func isConstraint(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return min(limit, maxListLimit)
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
