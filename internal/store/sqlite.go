package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/agenticmail/agenticmail/pkg/models"
)

// SQLite is a durable Store backed by modernc.org/sqlite with WAL
// journaling. Every operation runs in its own transaction where more
// than one statement is involved, so each is individually atomic.
type SQLite struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id                TEXT PRIMARY KEY,
	agent_id          TEXT NOT NULL,
	org_id            TEXT NOT NULL,
	parent_id         TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL,
	turn_count        INTEGER NOT NULL DEFAULT 0,
	token_count       INTEGER NOT NULL DEFAULT 0,
	last_stop_reason  TEXT NOT NULL DEFAULT '',
	created_at        INTEGER NOT NULL,
	last_heartbeat_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_agent ON sessions(agent_id);
CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);

CREATE TABLE IF NOT EXISTS messages (
	session_id TEXT NOT NULL,
	position   INTEGER NOT NULL,
	body       TEXT NOT NULL,
	PRIMARY KEY (session_id, position)
);

CREATE TABLE IF NOT EXISTS tool_calls (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL,
	agent_id    TEXT NOT NULL,
	turn        INTEGER NOT NULL,
	tool_name   TEXT NOT NULL,
	input       TEXT NOT NULL DEFAULT '',
	result      TEXT NOT NULL DEFAULT '',
	success     INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tool_calls_session ON tool_calls(session_id);

CREATE TABLE IF NOT EXISTS follow_ups (
	id         TEXT PRIMARY KEY,
	agent_id   TEXT NOT NULL,
	session_id TEXT NOT NULL DEFAULT '',
	message    TEXT NOT NULL,
	execute_at INTEGER NOT NULL,
	cron       TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	fired_at   INTEGER
);
CREATE INDEX IF NOT EXISTS idx_follow_ups_status ON follow_ups(status, execute_at);

CREATE TABLE IF NOT EXISTS sub_agent_links (
	id                TEXT PRIMARY KEY,
	parent_session_id TEXT NOT NULL,
	child_session_id  TEXT NOT NULL,
	task              TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL,
	created_at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_links_parent ON sub_agent_links(parent_session_id);

CREATE TABLE IF NOT EXISTS usage_counters (
	org_id        TEXT NOT NULL,
	day           TEXT NOT NULL,
	input_tokens  INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	cost_usd      REAL NOT NULL DEFAULT 0,
	PRIMARY KEY (org_id, day)
);

CREATE TABLE IF NOT EXISTS email_bindings (
	address  TEXT PRIMARY KEY,
	agent_id TEXT NOT NULL
);
`

// NewSQLite opens (creating if needed) a SQLite store at path. Use
// ":memory:" for an ephemeral database.
func NewSQLite(path string) (*SQLite, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// The driver serializes access per connection; a single connection
	// avoids SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) init() error {
	if _, err := s.db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := s.db.Exec(sqliteSchema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *SQLite) CreateSession(ctx context.Context, agentID, orgID, parentID string) (*models.Session, error) {
	now := time.Now().UTC()
	sess := &models.Session{
		ID:              uuid.New().String(),
		AgentID:         agentID,
		OrgID:           orgID,
		ParentID:        parentID,
		Status:          models.StatusActive,
		CreatedAt:       now,
		LastHeartbeatAt: now,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, agent_id, org_id, parent_id, status, created_at, last_heartbeat_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, agentID, orgID, parentID, string(sess.Status), now.UnixNano(), now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

func (s *SQLite) scanSession(row *sql.Row) (*models.Session, error) {
	var sess models.Session
	var status, stopReason string
	var createdAt, heartbeatAt int64
	err := row.Scan(&sess.ID, &sess.AgentID, &sess.OrgID, &sess.ParentID,
		&status, &sess.TurnCount, &sess.TokenCount, &stopReason, &createdAt, &heartbeatAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	sess.Status = models.SessionStatus(status)
	sess.LastStopReason = models.StopReason(stopReason)
	sess.CreatedAt = time.Unix(0, createdAt).UTC()
	sess.LastHeartbeatAt = time.Unix(0, heartbeatAt).UTC()
	return &sess, nil
}

const sessionColumns = `id, agent_id, org_id, parent_id, status, turn_count, token_count, last_stop_reason, created_at, last_heartbeat_at`

func (s *SQLite) GetSession(ctx context.Context, id string) (*models.Session, error) {
	sess, err := s.scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	sess.Messages, err = s.loadMessages(ctx, id)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *SQLite) loadMessages(ctx context.Context, sessionID string) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM messages WHERE session_id = ? ORDER BY position`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	var msgs []*models.Message
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		var msg models.Message
		if err := json.Unmarshal([]byte(body), &msg); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		msgs = append(msgs, &msg)
	}
	return msgs, rows.Err()
}

func (s *SQLite) ListSessions(ctx context.Context, agentID string, opts ListOptions) ([]*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE 1=1`
	var args []any
	if agentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, agentID)
	}
	if opts.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(opts.Status))
	}
	query += ` ORDER BY created_at`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

func scanSessions(rows *sql.Rows) ([]*models.Session, error) {
	var out []*models.Session
	for rows.Next() {
		var sess models.Session
		var status, stopReason string
		var createdAt, heartbeatAt int64
		if err := rows.Scan(&sess.ID, &sess.AgentID, &sess.OrgID, &sess.ParentID,
			&status, &sess.TurnCount, &sess.TokenCount, &stopReason, &createdAt, &heartbeatAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.Status = models.SessionStatus(status)
		sess.LastStopReason = models.StopReason(stopReason)
		sess.CreatedAt = time.Unix(0, createdAt).UTC()
		sess.LastHeartbeatAt = time.Unix(0, heartbeatAt).UTC()
		out = append(out, &sess)
	}
	return out, rows.Err()
}

func (s *SQLite) UpdateSession(ctx context.Context, id string, upd SessionUpdate) error {
	query := `UPDATE sessions SET id = id`
	var args []any
	if upd.Status != nil {
		query += `, status = ?`
		args = append(args, string(*upd.Status))
	}
	if upd.TokenCount != nil {
		query += `, token_count = ?`
		args = append(args, *upd.TokenCount)
	}
	if upd.TurnCount != nil {
		query += `, turn_count = ?`
		args = append(args, *upd.TurnCount)
	}
	if upd.LastStopReason != nil {
		query += `, last_stop_reason = ?`
		args = append(args, string(*upd.LastStopReason))
	}
	query += ` WHERE id = ?`
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return requireRow(res, "session", id)
}

func (s *SQLite) ReplaceMessages(ctx context.Context, id string, messages []*models.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM sessions WHERE id = ?`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	for i, msg := range messages {
		body, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("encode message: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (session_id, position, body) VALUES (?, ?, ?)`,
			id, i, string(body)); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) AppendMessage(ctx context.Context, id string, msg *models.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM sessions WHERE id = ?`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (session_id, position, body)
		VALUES (?, (SELECT COALESCE(MAX(position), -1) + 1 FROM messages WHERE session_id = ?), ?)`,
		id, id, string(body)); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return tx.Commit()
}

func (s *SQLite) TouchSession(ctx context.Context, id string, upd TouchUpdate) error {
	query := `UPDATE sessions SET last_heartbeat_at = ?`
	args := []any{time.Now().UTC().UnixNano()}
	if upd.TokenCount != nil {
		query += `, token_count = ?`
		args = append(args, *upd.TokenCount)
	}
	if upd.TurnCount != nil {
		query += `, turn_count = ?`
		args = append(args, *upd.TurnCount)
	}
	query += ` WHERE id = ?`
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return requireRow(res, "session", id)
}

func (s *SQLite) FindActiveSessions(ctx context.Context) ([]*models.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE status = ? ORDER BY created_at`,
		string(models.StatusActive))
	if err != nil {
		return nil, fmt.Errorf("find active sessions: %w", err)
	}
	defer rows.Close()

	sessions, err := scanSessions(rows)
	if err != nil {
		return nil, err
	}
	for _, sess := range sessions {
		sess.Messages, err = s.loadMessages(ctx, sess.ID)
		if err != nil {
			return nil, err
		}
	}
	return sessions, nil
}

func (s *SQLite) MarkStaleSessions(ctx context.Context, timeout time.Duration) ([]string, error) {
	cutoff := time.Now().UTC().Add(-timeout).UnixNano()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM sessions WHERE status = ? AND last_heartbeat_at < ? ORDER BY id`,
		string(models.StatusActive), cutoff)
	if err != nil {
		return nil, fmt.Errorf("find stale sessions: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan stale session: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`UPDATE sessions SET status = ? WHERE id = ?`, string(models.StatusStale), id); err != nil {
			return nil, fmt.Errorf("mark stale: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *SQLite) RecordToolCall(ctx context.Context, rec *models.ToolCallRecord) error {
	id := rec.ID
	if id == "" {
		id = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tool_calls (id, session_id, agent_id, turn, tool_name, input, result, success, duration_ms, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, rec.SessionID, rec.AgentID, rec.Turn, rec.ToolName,
		string(rec.Input), rec.Result, boolToInt(rec.Success), rec.DurationMs,
		rec.StartedAt.UnixNano(), rec.FinishedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("record tool call: %w", err)
	}
	return nil
}

func (s *SQLite) ListToolCalls(ctx context.Context, sessionID string) ([]*models.ToolCallRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, agent_id, turn, tool_name, input, result, success, duration_ms, started_at, finished_at
		FROM tool_calls WHERE session_id = ? ORDER BY started_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list tool calls: %w", err)
	}
	defer rows.Close()

	var out []*models.ToolCallRecord
	for rows.Next() {
		var rec models.ToolCallRecord
		var input string
		var success int
		var startedAt, finishedAt int64
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.AgentID, &rec.Turn, &rec.ToolName,
			&input, &rec.Result, &success, &rec.DurationMs, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("scan tool call: %w", err)
		}
		if input != "" {
			rec.Input = json.RawMessage(input)
		}
		rec.Success = success != 0
		rec.StartedAt = time.Unix(0, startedAt).UTC()
		rec.FinishedAt = time.Unix(0, finishedAt).UTC()
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (s *SQLite) CreateFollowUp(ctx context.Context, f *models.FollowUp) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO follow_ups (id, agent_id, session_id, message, execute_at, cron, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.AgentID, f.SessionID, f.Message, f.ExecuteAt.UnixNano(), f.Cron,
		string(f.Status), f.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert follow-up: %w", err)
	}
	return nil
}

func (s *SQLite) GetFollowUp(ctx context.Context, id string) (*models.FollowUp, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, agent_id, session_id, message, execute_at, cron, status, created_at, fired_at
		FROM follow_ups WHERE id = ?`, id)
	f, err := scanFollowUp(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("follow-up %s: %w", id, ErrNotFound)
	}
	return f, err
}

func scanFollowUp(scan func(dest ...any) error) (*models.FollowUp, error) {
	var f models.FollowUp
	var status string
	var executeAt, createdAt int64
	var firedAt sql.NullInt64
	if err := scan(&f.ID, &f.AgentID, &f.SessionID, &f.Message, &executeAt, &f.Cron,
		&status, &createdAt, &firedAt); err != nil {
		return nil, err
	}
	f.Status = models.FollowUpStatus(status)
	f.ExecuteAt = time.Unix(0, executeAt).UTC()
	f.CreatedAt = time.Unix(0, createdAt).UTC()
	if firedAt.Valid {
		t := time.Unix(0, firedAt.Int64).UTC()
		f.FiredAt = &t
	}
	return &f, nil
}

func (s *SQLite) ListPendingFollowUps(ctx context.Context) ([]*models.FollowUp, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_id, session_id, message, execute_at, cron, status, created_at, fired_at
		FROM follow_ups WHERE status = ? ORDER BY execute_at`, string(models.FollowUpPending))
	if err != nil {
		return nil, fmt.Errorf("list pending follow-ups: %w", err)
	}
	defer rows.Close()

	var out []*models.FollowUp
	for rows.Next() {
		f, err := scanFollowUp(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan follow-up: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *SQLite) MarkFollowUpFired(ctx context.Context, id string, firedAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE follow_ups SET status = ?, fired_at = ? WHERE id = ? AND status = ?`,
		string(models.FollowUpFired), firedAt.UnixNano(), id, string(models.FollowUpPending))
	if err != nil {
		return false, fmt.Errorf("mark follow-up fired: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	// Distinguish missing from already-fired.
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM follow_ups WHERE id = ?`, id).Scan(&exists); err != nil {
		return false, err
	}
	if exists == 0 {
		return false, fmt.Errorf("follow-up %s: %w", id, ErrNotFound)
	}
	return false, nil
}

func (s *SQLite) RescheduleFollowUp(ctx context.Context, id string, executeAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE follow_ups SET status = ?, execute_at = ?, fired_at = NULL WHERE id = ?`,
		string(models.FollowUpPending), executeAt.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("reschedule follow-up: %w", err)
	}
	return requireRow(res, "follow-up", id)
}

func (s *SQLite) CancelFollowUp(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE follow_ups SET status = ? WHERE id = ? AND status = ?`,
		string(models.FollowUpCancelled), id, string(models.FollowUpPending))
	if err != nil {
		return false, fmt.Errorf("cancel follow-up: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM follow_ups WHERE id = ?`, id).Scan(&exists); err != nil {
		return false, err
	}
	if exists == 0 {
		return false, fmt.Errorf("follow-up %s: %w", id, ErrNotFound)
	}
	return false, nil
}

func (s *SQLite) CreateSubAgentLink(ctx context.Context, link *models.SubAgentLink) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sub_agent_links (id, parent_session_id, child_session_id, task, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		link.ID, link.ParentSessionID, link.ChildSessionID, link.Task,
		string(link.Status), link.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert sub-agent link: %w", err)
	}
	return nil
}

func (s *SQLite) ListSubAgentLinks(ctx context.Context, parentSessionID string) ([]*models.SubAgentLink, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, parent_session_id, child_session_id, task, status, created_at
		FROM sub_agent_links WHERE parent_session_id = ? ORDER BY created_at`, parentSessionID)
	if err != nil {
		return nil, fmt.Errorf("list sub-agent links: %w", err)
	}
	defer rows.Close()

	var out []*models.SubAgentLink
	for rows.Next() {
		var link models.SubAgentLink
		var status string
		var createdAt int64
		if err := rows.Scan(&link.ID, &link.ParentSessionID, &link.ChildSessionID,
			&link.Task, &status, &createdAt); err != nil {
			return nil, fmt.Errorf("scan sub-agent link: %w", err)
		}
		link.Status = models.SubAgentStatus(status)
		link.CreatedAt = time.Unix(0, createdAt).UTC()
		out = append(out, &link)
	}
	return out, rows.Err()
}

func (s *SQLite) UpdateSubAgentLinkStatus(ctx context.Context, id string, status models.SubAgentStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sub_agent_links SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("update sub-agent link: %w", err)
	}
	return requireRow(res, "sub-agent link", id)
}

func (s *SQLite) AddUsage(ctx context.Context, orgID, day string, inputTokens, outputTokens int, costUSD float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_counters (org_id, day, input_tokens, output_tokens, cost_usd)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(org_id, day) DO UPDATE SET
			input_tokens = input_tokens + excluded.input_tokens,
			output_tokens = output_tokens + excluded.output_tokens,
			cost_usd = cost_usd + excluded.cost_usd`,
		orgID, day, inputTokens, outputTokens, costUSD)
	if err != nil {
		return fmt.Errorf("add usage: %w", err)
	}
	return nil
}

func (s *SQLite) GetUsage(ctx context.Context, orgID, day string) (*models.UsageCounter, error) {
	counter := &models.UsageCounter{OrgID: orgID, Day: day}
	err := s.db.QueryRowContext(ctx, `
		SELECT input_tokens, output_tokens, cost_usd FROM usage_counters WHERE org_id = ? AND day = ?`,
		orgID, day).Scan(&counter.InputTokens, &counter.OutputTokens, &counter.CostUSD)
	if errors.Is(err, sql.ErrNoRows) {
		return counter, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get usage: %w", err)
	}
	return counter, nil
}

func (s *SQLite) BindEmailAddress(ctx context.Context, address, agentID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO email_bindings (address, agent_id) VALUES (LOWER(?), ?)
		ON CONFLICT(address) DO UPDATE SET agent_id = excluded.agent_id`,
		address, agentID)
	if err != nil {
		return fmt.Errorf("bind email address: %w", err)
	}
	return nil
}

func (s *SQLite) ResolveAgentByEmail(ctx context.Context, address string) (string, error) {
	var agentID string
	err := s.db.QueryRowContext(ctx,
		`SELECT agent_id FROM email_bindings WHERE address = LOWER(?)`, address).Scan(&agentID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("email binding %s: %w", address, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("resolve email binding: %w", err)
	}
	return agentID, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func requireRow(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", entity, id, ErrNotFound)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
