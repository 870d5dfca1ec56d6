package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/your-org/facematch/internal/config"
	"github.com/your-org/facematch/internal/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Profiles ---

// ProfilesByIDs loads directory rows for a batch of identities. Unknown
// ids are simply absent from the result map.
func (s *PostgresStore) ProfilesByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Profile, error) {
	out := make(map[uuid.UUID]models.Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, COALESCE(full_name, ''), COALESCE(email, ''), COALESCE(avatar_url, '')
		 FROM profiles WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("load profiles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p models.Profile
		if err := rows.Scan(&p.ID, &p.FullName, &p.Email, &p.AvatarURL); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

// --- Face bindings ---

func (s *PostgresStore) LatestBinding(ctx context.Context, userID uuid.UUID) (*models.FaceBinding, error) {
	b := &models.FaceBinding{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, face_id, COALESCE(source_key, ''), created_at
		 FROM face_bindings WHERE user_id = $1 ORDER BY created_at DESC LIMIT 1`, userID,
	).Scan(&b.ID, &b.UserID, &b.FaceID, &b.SourceKey, &b.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get face binding: %w", err)
	}
	return b, nil
}

func (s *PostgresStore) SaveBinding(ctx context.Context, userID uuid.UUID, faceID, sourceKey string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO face_bindings (user_id, face_id, source_key) VALUES ($1, $2, $3)`,
		userID, faceID, sourceKey)
	if err != nil {
		return fmt.Errorf("save face binding: %w", err)
	}
	return nil
}

// AllBindings returns every binding newest first, so that during a
// collection rebuild the latest registration per user is seen first.
func (s *PostgresStore) AllBindings(ctx context.Context) ([]models.FaceBinding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, face_id, COALESCE(source_key, ''), created_at
		 FROM face_bindings ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list face bindings: %w", err)
	}
	defer rows.Close()

	var bindings []models.FaceBinding
	for rows.Next() {
		var b models.FaceBinding
		if err := rows.Scan(&b.ID, &b.UserID, &b.FaceID, &b.SourceKey, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan face binding: %w", err)
		}
		bindings = append(bindings, b)
	}
	return bindings, rows.Err()
}

// --- Reset jobs ---

func (s *PostgresStore) CreateJob(ctx context.Context) (*models.ResetJob, error) {
	j := &models.ResetJob{Status: models.JobRequested}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO reset_jobs (status, message) VALUES ($1, '') RETURNING id, created_at, updated_at`,
		j.Status,
	).Scan(&j.ID, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create reset job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id int64) (*models.ResetJob, error) {
	j := &models.ResetJob{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, status, message, created_at, updated_at FROM reset_jobs WHERE id = $1`, id,
	).Scan(&j.ID, &j.Status, &j.Message, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get reset job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) LatestJob(ctx context.Context) (*models.ResetJob, error) {
	j := &models.ResetJob{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, status, message, created_at, updated_at
		 FROM reset_jobs ORDER BY created_at DESC LIMIT 1`,
	).Scan(&j.ID, &j.Status, &j.Message, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get latest reset job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) UpdateJobStatus(ctx context.Context, id int64, status models.JobStatus, message string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE reset_jobs SET status = $1, message = $2, updated_at = now() WHERE id = $3`,
		status, message, id)
	if err != nil {
		return fmt.Errorf("update reset job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("reset job %d not found", id)
	}
	return nil
}

// --- Match analytics ---

// RecordMatches appends audit rows for resolved matches. Callers treat
// failures as non-fatal.
func (s *PostgresStore) RecordMatches(ctx context.Context, photoID uuid.UUID, matches []models.MatchedUser) error {
	if len(matches) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, m := range matches {
		batch.Queue(
			`INSERT INTO match_events (photo_id, user_id, face_id, similarity, matched_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			photoID, m.UserID, m.FaceID, m.Similarity, m.MatchedAt)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range matches {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("record match event: %w", err)
		}
	}
	return nil
}

// --- Face id hints ---

// FaceIDHint reads the client-reported identifier for a user, the last
// fallback in the identifier resolution chain.
func (s *PostgresStore) FaceIDHint(ctx context.Context, userID uuid.UUID) (string, error) {
	var faceID string
	err := s.pool.QueryRow(ctx,
		`SELECT face_id FROM face_id_hints WHERE user_id = $1`, userID,
	).Scan(&faceID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("get face id hint: %w", err)
	}
	return faceID, nil
}

// SaveFaceIDHint upserts the client-reported identifier.
func (s *PostgresStore) SaveFaceIDHint(ctx context.Context, userID uuid.UUID, faceID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO face_id_hints (user_id, face_id, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE SET face_id = EXCLUDED.face_id, updated_at = EXCLUDED.updated_at`,
		userID, faceID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save face id hint: %w", err)
	}
	return nil
}
