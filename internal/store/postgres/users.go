package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"appointment-chat/internal/auth"
	"appointment-chat/internal/domain"
	"appointment-chat/internal/session"
)

func (s *Store) Register(ctx context.Context, handle, secret string) error {
	hash, err := auth.HashPassword(secret)
	if err != nil {
		return err
	}
	ctx, cancel := s.op(ctx)
	defer cancel()

	_, err = s.DB.Exec(ctx, `INSERT INTO users (handle, password_hash) VALUES ($1, $2)`, handle, hash)
	if isUniqueViolation(err) {
		return session.ErrHandleTaken
	}
	if err != nil {
		return fmt.Errorf("postgres: register: %w", err)
	}
	return nil
}

func (s *Store) Verify(ctx context.Context, handle, secret string) (bool, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()

	var hash string
	err := s.DB.QueryRow(ctx, `SELECT password_hash FROM users WHERE handle = $1`, handle).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("postgres: verify: %w", err)
	}
	return auth.CheckPassword(hash, secret), nil
}

func (s *Store) UpsertProfile(ctx context.Context, p domain.Profile) error {
	ctx, cancel := s.op(ctx)
	defer cancel()

	var birth any
	if !p.BirthDate.IsZero() {
		birth = p.BirthDate
	}
	q := `INSERT INTO user_profiles (handle, name, birth_date, reason, updated_at)
	      VALUES ($1, $2, $3, $4, now())
	      ON CONFLICT (handle) DO UPDATE
	      SET name = EXCLUDED.name, birth_date = EXCLUDED.birth_date,
	          reason = EXCLUDED.reason, updated_at = EXCLUDED.updated_at`
	if _, err := s.DB.Exec(ctx, q, p.Handle, p.Name, birth, p.Reason); err != nil {
		return fmt.Errorf("postgres: upsert profile: %w", err)
	}
	return nil
}

func (s *Store) GetProfile(ctx context.Context, handle string) (domain.Profile, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()

	p := domain.Profile{Handle: handle}
	var birth *time.Time
	err := s.DB.QueryRow(ctx,
		`SELECT name, birth_date, reason, updated_at FROM user_profiles WHERE handle = $1`, handle,
	).Scan(&p.Name, &birth, &p.Reason, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Profile{}, session.ErrProfileNotFound
	}
	if err != nil {
		return domain.Profile{}, fmt.Errorf("postgres: get profile: %w", err)
	}
	if birth != nil {
		p.BirthDate = *birth
	}
	return p, nil
}

func (s *Store) SaveFeedback(ctx context.Context, f domain.Feedback) error {
	ctx, cancel := s.op(ctx)
	defer cancel()

	if _, err := s.DB.Exec(ctx, `INSERT INTO user_feedback (handle, feedback) VALUES ($1, $2)`, f.Handle, f.Text); err != nil {
		return fmt.Errorf("postgres: save feedback: %w", err)
	}
	return nil
}
