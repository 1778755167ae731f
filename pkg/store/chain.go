package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/openclaims/claimd/pkg/canonicalize"
)

// UpdateChain runs the hash-chain rebuild pass: it finds every envelope row
// without a chain hash, in id order, and links each one to its predecessor.
// A row with a missing masked hash (created before hashing existed, or left
// by a partial failure) has it recomputed from the canonical claim instead
// of failing the pass. Returns the number of rows chained.
//
// The pass is serialized internally; callers may invoke it after every
// insert without coordinating.
func (s *SQL) UpdateChain(ctx context.Context) (int, error) {
	s.chainMu.Lock()
	defer s.chainMu.Unlock()

	prev := canonicalize.ChainSeed
	var lastChained sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT chain_hash FROM envelopes WHERE chain_hash IS NOT NULL ORDER BY id DESC LIMIT 1`).
		Scan(&lastChained)
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("store: chain head: %w", err)
	}
	if lastChained.Valid {
		prev = lastChained.String
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, claim_canonical, masked_hash FROM envelopes WHERE chain_hash IS NULL ORDER BY id`)
	if err != nil {
		return 0, fmt.Errorf("store: unchained rows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	type pending struct {
		id     int64
		masked string
		chain  string
	}
	var updates []pending
	for rows.Next() {
		var (
			id        int64
			canonical string
			masked    sql.NullString
		)
		if err := rows.Scan(&id, &canonical, &masked); err != nil {
			return 0, fmt.Errorf("store: scan unchained row: %w", err)
		}
		maskedHex := masked.String
		if maskedHex == "" {
			maskedHex, err = canonicalize.MaskedHash(canonical)
			if err != nil {
				return 0, fmt.Errorf("store: recompute masked hash for row %d: %w", id, err)
			}
		}
		prev = canonicalize.ChainLink(prev, maskedHex)
		updates = append(updates, pending{id: id, masked: maskedHex, chain: prev})
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("store: unchained rows: %w", err)
	}

	for _, u := range updates {
		_, err := s.db.ExecContext(ctx,
			s.rebind(`UPDATE envelopes SET masked_hash = ?, chain_hash = ? WHERE id = ?`),
			u.masked, u.chain, u.id)
		if err != nil {
			return 0, fmt.Errorf("store: write chain for row %d: %w", u.id, err)
		}
	}
	return len(updates), nil
}

// VerifyChain replays every chained envelope from the seed in id order and
// checks both the masked content hashes and the chain links against the
// stored values. Unchained rows are only legal as a suffix.
func (s *SQL) VerifyChain(ctx context.Context) (bool, string) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, claim_canonical, masked_hash, chain_hash FROM envelopes ORDER BY id`)
	if err != nil {
		return false, fmt.Sprintf("query: %v", err)
	}
	defer func() { _ = rows.Close() }()

	prev := canonicalize.ChainSeed
	sawUnchained := false
	for rows.Next() {
		var (
			id        int64
			canonical string
			masked    sql.NullString
			chain     sql.NullString
		)
		if err := rows.Scan(&id, &canonical, &masked, &chain); err != nil {
			return false, fmt.Sprintf("scan row: %v", err)
		}
		if !chain.Valid {
			sawUnchained = true
			continue
		}
		if sawUnchained {
			return false, fmt.Sprintf("row %d chained after an unchained row", id)
		}
		computed, err := canonicalize.MaskedHash(canonical)
		if err != nil {
			return false, fmt.Sprintf("row %d: masked hash: %v", id, err)
		}
		if masked.Valid && masked.String != computed {
			return false, fmt.Sprintf("row %d: content hash mismatch", id)
		}
		prev = canonicalize.ChainLink(prev, computed)
		if chain.String != prev {
			return false, fmt.Sprintf("row %d: chain broken", id)
		}
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Sprintf("rows: %v", err)
	}
	return true, "chain verified"
}
