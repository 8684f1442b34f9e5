// Package dpsqlite provides a SQLite-backed round store.
//
// It lives in its own Go module so that consumers of the core engine
// do not inherit a SQLite dependency they may not want.
package dpsqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rotor-engine/rotor/dp/dpcodec/dpjson"
	"github.com/rotor-engine/rotor/dp/dpconsensus"
	"github.com/rotor-engine/rotor/dp/dpstore"
)

// RoundStore is a [dpstore.RoundStore] backed by a SQLite database.
//
// Round snapshots are stored as one row per round number,
// the round body serialized with the JSON codec.
type RoundStore struct {
	db    *sql.DB
	codec dpjson.Codec
}

// NewRoundStore opens (or creates) the database at dbPath and ensures
// the schema exists. Use ":memory:" for an ephemeral store.
func NewRoundStore(ctx context.Context, dbPath string) (*RoundStore, error) {
	db, err := sql.Open(sqliteDriverType, dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// An in-memory database vanishes when its sole connection closes,
	// and concurrent writers on one file are serialized anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS rounds (
	round_number INTEGER PRIMARY KEY,
	term_number  INTEGER NOT NULL,
	body         BLOB NOT NULL
)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &RoundStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *RoundStore) Close() error {
	return s.db.Close()
}

func (s *RoundStore) SaveRound(ctx context.Context, r *dpconsensus.Round) error {
	if err := r.CheckStored(); err != nil {
		return err
	}

	body, err := s.codec.MarshalRound(r)
	if err != nil {
		return fmt.Errorf("failed to marshal round %d: %w", r.RoundNumber, err)
	}

	if _, err := s.db.ExecContext(ctx, `
INSERT INTO rounds (round_number, term_number, body) VALUES (?, ?, ?)
ON CONFLICT (round_number) DO UPDATE SET term_number = excluded.term_number, body = excluded.body`,
		r.RoundNumber, r.TermNumber, body,
	); err != nil {
		return fmt.Errorf("failed to save round %d: %w", r.RoundNumber, err)
	}
	return nil
}

func (s *RoundStore) LoadRound(ctx context.Context, roundNumber uint64) (*dpconsensus.Round, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM rounds WHERE round_number = ?`, roundNumber,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, dpstore.RoundUnknownError{RoundNumber: roundNumber}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load round %d: %w", roundNumber, err)
	}

	return s.codec.UnmarshalRound(body)
}

func (s *RoundStore) LoadLatestRound(ctx context.Context) (*dpconsensus.Round, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM rounds ORDER BY round_number DESC LIMIT 1`,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, dpstore.ErrNoRounds
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest round: %w", err)
	}

	return s.codec.UnmarshalRound(body)
}

func (s *RoundStore) PruneRoundsBelow(ctx context.Context, keep uint64) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM rounds WHERE round_number < ?`, keep,
	); err != nil {
		return fmt.Errorf("failed to prune rounds below %d: %w", keep, err)
	}
	return nil
}
