package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/harun/menubot/pkg/conversation"
	"github.com/harun/menubot/pkg/llm"
)

// sqlStore holds the queries shared by the SQLite and Postgres stores.
// Queries are written with '?' and rebound for drivers using '$n'.
type sqlStore struct {
	db       *sql.DB
	driver   string
	numbered bool
	now      func() time.Time
}

func (s *sqlStore) rebind(query string) string {
	if !s.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) migrate(ctx context.Context, migrations []string) error {
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

func (s *sqlStore) Load(ctx context.Context, sessionID string) (st *conversation.State, err error) {
	ctx, done := observe(ctx, s.driver, "load", sessionID)
	defer func() { done(err) }()

	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}

	var (
		nodeHistory        string
		createdAt, updated int64
	)
	st = &conversation.State{SessionID: sessionID}
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT subject_id, node_history, model, version, created_at, updated_at
		 FROM checkpoints WHERE session_id = ?`), sessionID)
	if err := row.Scan(&st.SubjectID, &nodeHistory, &st.Model, &st.Version, &createdAt, &updated); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	st.CreatedAt = time.Unix(0, createdAt).UTC()
	st.UpdatedAt = time.Unix(0, updated).UTC()

	st.NodeHistory = []conversation.NodeID{}
	if err := json.Unmarshal([]byte(nodeHistory), &st.NodeHistory); err != nil {
		return nil, fmt.Errorf("failed to decode node history: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT payload FROM checkpoint_messages WHERE session_id = ? ORDER BY seq`), sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint messages: %w", err)
	}
	defer rows.Close()

	st.Messages = []llm.Message{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint message: %w", err)
		}
		var msg llm.Message
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			return nil, fmt.Errorf("failed to decode checkpoint message: %w", err)
		}
		st.Messages = append(st.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read checkpoint messages: %w", err)
	}
	return st, nil
}

// Save writes the checkpoint row with a version check and appends the
// messages the stored copy does not have yet.
func (s *sqlStore) Save(ctx context.Context, st *conversation.State) (err error) {
	ctx, done := observe(ctx, s.driver, "save", st.SessionID)
	defer func() { done(err) }()

	if err := validateSessionID(st.SessionID); err != nil {
		return err
	}

	nodeHistory, err := json.Marshal(st.NodeHistory)
	if err != nil {
		return fmt.Errorf("failed to encode node history: %w", err)
	}

	now := s.now()
	createdAt := st.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	version := st.Version + 1

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var res sql.Result
	if st.Version == 0 {
		res, err = tx.ExecContext(ctx, s.rebind(
			`INSERT INTO checkpoints (session_id, subject_id, node_history, model, version, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (session_id) DO NOTHING`),
			st.SessionID, st.SubjectID, string(nodeHistory), st.Model, version, createdAt.UnixNano(), now.UnixNano())
	} else {
		res, err = tx.ExecContext(ctx, s.rebind(
			`UPDATE checkpoints
			 SET subject_id = ?, node_history = ?, model = ?, version = ?, updated_at = ?
			 WHERE session_id = ? AND version = ?`),
			st.SubjectID, string(nodeHistory), st.Model, version, now.UnixNano(), st.SessionID, st.Version)
	}
	if err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if affected == 0 {
		return ErrVersionConflict
	}

	var stored int
	if err := tx.QueryRowContext(ctx, s.rebind(
		`SELECT COUNT(*) FROM checkpoint_messages WHERE session_id = ?`), st.SessionID).Scan(&stored); err != nil {
		return fmt.Errorf("failed to count checkpoint messages: %w", err)
	}
	if stored > len(st.Messages) {
		if _, err := tx.ExecContext(ctx, s.rebind(
			`DELETE FROM checkpoint_messages WHERE session_id = ? AND seq >= ?`), st.SessionID, len(st.Messages)); err != nil {
			return fmt.Errorf("failed to trim checkpoint messages: %w", err)
		}
		stored = len(st.Messages)
	}

	insert := s.rebind(`INSERT INTO checkpoint_messages (session_id, seq, role, payload) VALUES (?, ?, ?, ?)`)
	for i := stored; i < len(st.Messages); i++ {
		payload, err := json.Marshal(st.Messages[i])
		if err != nil {
			return fmt.Errorf("failed to encode message %d: %w", i, err)
		}
		if _, err := tx.ExecContext(ctx, insert, st.SessionID, i, string(st.Messages[i].Role), string(payload)); err != nil {
			return fmt.Errorf("failed to append message %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit checkpoint: %w", err)
	}

	st.Version = version
	st.CreatedAt = createdAt
	st.UpdatedAt = now
	return nil
}

func (s *sqlStore) Delete(ctx context.Context, sessionID string) (err error) {
	ctx, done := observe(ctx, s.driver, "delete", sessionID)
	defer func() { done(err) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"checkpoint_messages", "checkpoints"} {
		if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM "+table+" WHERE session_id = ?"), sessionID); err != nil {
			return fmt.Errorf("failed to purge %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	return nil
}

func (s *sqlStore) ListStale(ctx context.Context, before time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT session_id FROM checkpoints WHERE updated_at < ?`), before.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to list stale checkpoints: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the database.
func (s *sqlStore) Close() error {
	return s.db.Close()
}
