package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hexlume/castquest/internal/domain"
	_ "github.com/lib/pq"
)

const stageSchemaSQL = `
CREATE TABLE IF NOT EXISTS validations (
	id BIGSERIAL PRIMARY KEY,
	job_id TEXT NOT NULL,
	cast_hash TEXT NOT NULL,
	fid BIGINT NOT NULL,
	text TEXT NOT NULL DEFAULT '',
	image_url TEXT NOT NULL DEFAULT '',
	is_valid BOOLEAN NOT NULL,
	address TEXT NOT NULL DEFAULT '',
	username TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS validations_job_id_idx ON validations (job_id, created_at DESC);

CREATE TABLE IF NOT EXISTS attestations (
	id BIGSERIAL PRIMARY KEY,
	job_id TEXT NOT NULL,
	cast_hash TEXT NOT NULL DEFAULT '',
	is_valid BOOLEAN NOT NULL,
	tx TEXT NOT NULL DEFAULT '',
	tx_id TEXT NOT NULL DEFAULT '',
	message TEXT NOT NULL DEFAULT '',
	owner TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS attestations_job_id_idx ON attestations (job_id, created_at DESC);

CREATE TABLE IF NOT EXISTS notes (
	id BIGSERIAL PRIMARY KEY,
	job_id TEXT NOT NULL,
	fid BIGINT NOT NULL,
	cast_hash TEXT NOT NULL DEFAULT '',
	tx TEXT NOT NULL DEFAULT '',
	tx_id TEXT NOT NULL DEFAULT '',
	message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS notes_job_id_idx ON notes (job_id, created_at DESC);

CREATE TABLE IF NOT EXISTS transactions (
	id BIGSERIAL PRIMARY KEY,
	tx_id TEXT NOT NULL,
	hash TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS transactions_tx_id_idx ON transactions (tx_id, created_at DESC);
`

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, stageSchemaSQL); err != nil {
		return fmt.Errorf("ensure stage schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) InsertValidation(ctx context.Context, v domain.Validation) error {
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO validations (job_id, cast_hash, fid, text, image_url, is_valid, address, username, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		v.JobID, v.CastHash, v.FID, v.Text, v.ImageURL, v.IsValid, v.Address, v.Username, v.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert validation: %w", err)
	}
	return nil
}

func (s *PostgresStore) LatestValidation(ctx context.Context, jobID string) (domain.Validation, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT job_id, cast_hash, fid, text, image_url, is_valid, address, username, created_at
		 FROM validations
		 WHERE job_id = $1
		 ORDER BY created_at DESC
		 LIMIT 1`,
		jobID,
	)

	var v domain.Validation
	if err := row.Scan(&v.JobID, &v.CastHash, &v.FID, &v.Text, &v.ImageURL, &v.IsValid, &v.Address, &v.Username, &v.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return domain.Validation{}, false, nil
		}
		return domain.Validation{}, false, fmt.Errorf("query validation: %w", err)
	}
	return v, true, nil
}

func (s *PostgresStore) InsertAttestation(ctx context.Context, a domain.Attestation) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO attestations (job_id, cast_hash, is_valid, tx, tx_id, message, owner, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.JobID, a.CastHash, a.IsValid, a.Tx, a.TxID, a.Message, a.Owner, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert attestation: %w", err)
	}
	return nil
}

func (s *PostgresStore) LatestAttestation(ctx context.Context, jobID string) (domain.Attestation, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT job_id, cast_hash, is_valid, tx, tx_id, message, owner, created_at
		 FROM attestations
		 WHERE job_id = $1
		 ORDER BY created_at DESC
		 LIMIT 1`,
		jobID,
	)

	var a domain.Attestation
	if err := row.Scan(&a.JobID, &a.CastHash, &a.IsValid, &a.Tx, &a.TxID, &a.Message, &a.Owner, &a.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return domain.Attestation{}, false, nil
		}
		return domain.Attestation{}, false, fmt.Errorf("query attestation: %w", err)
	}
	return a, true, nil
}

func (s *PostgresStore) InsertNote(ctx context.Context, n domain.Note) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO notes (job_id, fid, cast_hash, tx, tx_id, message, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		n.JobID, n.FID, n.CastHash, n.Tx, n.TxID, n.Message, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	return nil
}

func (s *PostgresStore) LatestNote(ctx context.Context, jobID string) (domain.Note, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT job_id, fid, cast_hash, tx, tx_id, message, created_at
		 FROM notes
		 WHERE job_id = $1
		 ORDER BY created_at DESC
		 LIMIT 1`,
		jobID,
	)

	var n domain.Note
	if err := row.Scan(&n.JobID, &n.FID, &n.CastHash, &n.Tx, &n.TxID, &n.Message, &n.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return domain.Note{}, false, nil
		}
		return domain.Note{}, false, fmt.Errorf("query note: %w", err)
	}
	return n, true, nil
}

func (s *PostgresStore) InsertTransaction(ctx context.Context, tx domain.Transaction) error {
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO transactions (tx_id, hash, status, created_at)
		 VALUES ($1, $2, $3, $4)`,
		tx.TxID, tx.Hash, tx.Status, tx.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) LatestTransaction(ctx context.Context, txID string) (domain.Transaction, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT tx_id, hash, status, created_at
		 FROM transactions
		 WHERE tx_id = $1
		 ORDER BY created_at DESC
		 LIMIT 1`,
		txID,
	)

	var tx domain.Transaction
	if err := row.Scan(&tx.TxID, &tx.Hash, &tx.Status, &tx.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return domain.Transaction{}, false, nil
		}
		return domain.Transaction{}, false, fmt.Errorf("query transaction: %w", err)
	}
	return tx, true, nil
}
