package postgres

import (
	"context"
	"fmt"

	"appointment-chat/internal/domain"
)

// ListSessions returns the handle's session ids, oldest first.
func (s *Store) ListSessions(ctx context.Context, handle string) ([]string, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()

	q := `SELECT session_id FROM chat_turns WHERE handle = $1
	      GROUP BY session_id ORDER BY min(created_at), session_id`
	rows, err := s.DB.Query(ctx, q, handle)
	if err != nil {
		return nil, fmt.Errorf("postgres: list sessions: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) ReadTurns(ctx context.Context, handle, sessionID string) ([]domain.Turn, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()

	q := `SELECT seq, utterance, reply, created_at FROM chat_turns
	      WHERE handle = $1 AND session_id = $2 ORDER BY seq`
	rows, err := s.DB.Query(ctx, q, handle, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: read turns: %w", err)
	}
	defer rows.Close()

	out := []domain.Turn{}
	for rows.Next() {
		t := domain.Turn{Handle: handle, SessionID: sessionID}
		if err := rows.Scan(&t.Seq, &t.Utterance, &t.Reply, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) AppendTurn(ctx context.Context, t domain.Turn) error {
	ctx, cancel := s.op(ctx)
	defer cancel()

	q := `INSERT INTO chat_turns (handle, session_id, seq, utterance, reply)
	      VALUES ($1, $2, $3, $4, $5)`
	if _, err := s.DB.Exec(ctx, q, t.Handle, t.SessionID, t.Seq, t.Utterance, t.Reply); err != nil {
		return fmt.Errorf("postgres: append turn: %w", err)
	}
	return nil
}
