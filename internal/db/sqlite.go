package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/RichardoC/padchat/internal/models"
)

// The ledger only keeps turn outcomes. Message content never leaves memory.
const schema = `
CREATE TABLE IF NOT EXISTS turns (
    id TEXT PRIMARY KEY,
    model TEXT NOT NULL,
    status TEXT NOT NULL,
    has_image BOOLEAN NOT NULL DEFAULT 0,
    chunks INTEGER NOT NULL DEFAULT 0,
    response_bytes INTEGER NOT NULL DEFAULT 0,
    error TEXT NOT NULL DEFAULT '',
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS turns_started_at ON turns(started_at);`

type Database struct {
	db *sql.DB
}

func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Database{db: db}, nil
}

func (db *Database) Close() error {
	return db.db.Close()
}

func (db *Database) RecordTurn(ctx context.Context, rec models.TurnRecord) error {
	query := `
        INSERT INTO turns (id, model, status, has_image, chunks, response_bytes, error, started_at, finished_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := db.db.ExecContext(ctx, query,
		rec.ID, rec.Model, string(rec.Status), rec.HasImage, rec.Chunks,
		rec.ResponseBytes, rec.Error, rec.StartedAt.UTC(), rec.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record turn %s: %w", rec.ID, err)
	}
	return nil
}

func (db *Database) RecentTurns(ctx context.Context, limit int) ([]models.TurnRecord, error) {
	query := `
        SELECT id, model, status, has_image, chunks, response_bytes, error, started_at, finished_at
        FROM turns
        ORDER BY started_at DESC
        LIMIT ?`

	rows, err := db.db.QueryContext(ctx, query, limit)
	if err != nil {
		return []models.TurnRecord{}, err
	}
	defer rows.Close()

	turns := make([]models.TurnRecord, 0)
	for rows.Next() {
		var (
			rec    models.TurnRecord
			status string
		)
		err := rows.Scan(&rec.ID, &rec.Model, &status, &rec.HasImage, &rec.Chunks,
			&rec.ResponseBytes, &rec.Error, &rec.StartedAt, &rec.FinishedAt)
		if err != nil {
			return []models.TurnRecord{}, err
		}
		rec.Status = models.TurnStatus(status)
		turns = append(turns, rec)
	}
	return turns, rows.Err()
}

// TurnCounts returns how many turns ended in each status.
func (db *Database) TurnCounts(ctx context.Context) (map[models.TurnStatus]int, error) {
	rows, err := db.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM turns GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.TurnStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan turn count: %w", err)
		}
		counts[models.TurnStatus(status)] = n
	}
	return counts, rows.Err()
}
