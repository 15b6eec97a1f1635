package settings

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists voice settings in PostgreSQL.
type PostgresStore struct {
	pool     *pgxpool.Pool
	defaults VoiceSettings
}

func NewPostgresStore(ctx context.Context, databaseURL string, defaults VoiceSettings) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS voice_settings (
		user_id TEXT PRIMARY KEY,
		engine TEXT NOT NULL,
		voice_id TEXT NOT NULL,
		speed DOUBLE PRECISION NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);`); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init voice_settings schema: %w", err)
	}
	return &PostgresStore{pool: pool, defaults: defaults}, nil
}

func (s *PostgresStore) Get(ctx context.Context, userID string) (VoiceSettings, error) {
	var (
		engine string
		out    VoiceSettings
	)
	err := s.pool.QueryRow(ctx,
		`SELECT engine, voice_id, speed FROM voice_settings WHERE user_id=$1`,
		userID,
	).Scan(&engine, &out.VoiceID, &out.Speed)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.defaults, nil
	}
	if err != nil {
		return VoiceSettings{}, fmt.Errorf("get voice settings: %w", err)
	}
	out.Engine = Engine(engine)
	// Rows written by older builds may hold out-of-range speeds.
	return out.Normalize(s.defaults)
}

func (s *PostgresStore) Put(ctx context.Context, userID string, in VoiceSettings) (VoiceSettings, error) {
	v, err := in.Normalize(s.defaults)
	if err != nil {
		return VoiceSettings{}, err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO voice_settings (user_id, engine, voice_id, speed, updated_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (user_id) DO UPDATE
		 SET engine = EXCLUDED.engine, voice_id = EXCLUDED.voice_id, speed = EXCLUDED.speed, updated_at = now()`,
		userID, string(v.Engine), v.VoiceID, v.Speed,
	)
	if err != nil {
		return VoiceSettings{}, fmt.Errorf("put voice settings: %w", err)
	}
	return v, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
