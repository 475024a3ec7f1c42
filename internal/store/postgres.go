package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/misionbonos/sim-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Each game document is one JSONB row and every save is a whole-document
// upsert, so a round's prices or an order batch can never half-persist.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the games table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx,
		`CREATE TABLE IF NOT EXISTS games (
		    code       TEXT PRIMARY KEY,
		    doc        JSONB NOT NULL,
		    updated_at TIMESTAMPTZ NOT NULL
		)`)
	return err
}

func (s *PostgresStore) Load(ctx context.Context, code string) (*model.GameDocument, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM games WHERE code = $1`, code).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.NewGameDocument(code), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load game %s: %w", code, err)
	}

	var doc model.GameDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode game %s: %w", code, err)
	}
	return &doc, nil
}

func (s *PostgresStore) Save(ctx context.Context, doc *model.GameDocument) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode game %s: %w", doc.Game.Code, err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO games (code, doc, updated_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (code) DO UPDATE SET doc = $2, updated_at = $3`,
		doc.Game.Code, data, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save game %s: %w", doc.Game.Code, err)
	}
	return nil
}

func (s *PostgresStore) ListCodes(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT code FROM games ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}
