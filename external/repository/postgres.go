package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hazuki-lab/utawakun/internal/queue"
	"github.com/hazuki-lab/utawakun/internal/repository"
)

// PostgresRepository implements both queue and credential persistence on one
// pgx pool. Queue records are stored whole as JSONB, one row per destination.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) SaveQueue(ctx context.Context, destination string, record queue.Record) error {
	b, err := json.Marshal(record)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO voice_queues (destination, record, updated_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (destination) DO UPDATE SET record = EXCLUDED.record, updated_at = NOW()`,
		destination, b)
	return err
}

func (r *PostgresRepository) DeleteQueue(ctx context.Context, destination string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM voice_queues WHERE destination = $1`, destination)
	return err
}

func (r *PostgresRepository) LoadQueues(ctx context.Context) (map[string]queue.Record, error) {
	rows, err := r.pool.Query(ctx, `SELECT destination, record FROM voice_queues`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	records := make(map[string]queue.Record)
	for rows.Next() {
		var destination string
		var raw []byte
		if err := rows.Scan(&destination, &raw); err != nil {
			return nil, err
		}
		var rec queue.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, err
		}
		records[destination] = rec
	}
	return records, rows.Err()
}

func (r *PostgresRepository) SaveCredentials(ctx context.Context, creds repository.Credentials) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO backend_credentials (id, api_id, api_hash, session_string, phone, created_at)
		 VALUES (1, $1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET
		   api_id = EXCLUDED.api_id,
		   api_hash = EXCLUDED.api_hash,
		   session_string = EXCLUDED.session_string,
		   phone = EXCLUDED.phone,
		   created_at = EXCLUDED.created_at`,
		creds.APIID, creds.APIHash, creds.SessionString, creds.Phone, creds.CreatedAt)
	return err
}

func (r *PostgresRepository) GetCredentials(ctx context.Context) (repository.Credentials, bool, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT api_id, api_hash, session_string, phone, created_at
		 FROM backend_credentials WHERE id = 1`)
	var creds repository.Credentials
	var createdAt time.Time
	err := row.Scan(&creds.APIID, &creds.APIHash, &creds.SessionString, &creds.Phone, &createdAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return repository.Credentials{}, false, nil
		}
		return repository.Credentials{}, false, err
	}
	creds.CreatedAt = createdAt
	return creds, true, nil
}
