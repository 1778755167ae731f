package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is a signed claim token plus its verified payload, once
// persisted. Rows are immutable except for backfilling a missing masked
// hash and setting the chain hash once computed.
type Envelope struct {
	ID             int64
	Issuer         string
	Subject        string
	IssuedAt       time.Time
	Context        string
	ClaimType      string
	ClaimCanonical string
	ClaimEncoded   string // base64 of the canonical form
	JWTRaw         string // sensitive: may embed identities
	MaskedHash     string // empty when not yet computed
	ChainHash      string // empty until the chain pass reaches this row
}

// Claim returns the canonical claim as raw JSON.
func (e *Envelope) Claim() json.RawMessage {
	return json.RawMessage(e.ClaimCanonical)
}

const envelopeColumns = `id, issuer, subject, issued_at, context, claim_type,
	claim_canonical, claim_encoded, jwt_raw, masked_hash, chain_hash`

// InsertEnvelope appends an envelope and returns its store-assigned id.
// Ids are strictly increasing; the chain hash is filled in by UpdateChain.
func (s *SQL) InsertEnvelope(ctx context.Context, e *Envelope) (int64, error) {
	id, err := s.insert(ctx, `INSERT INTO envelopes
		(issuer, subject, issued_at, context, claim_type, claim_canonical, claim_encoded, jwt_raw, masked_hash, chain_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		e.Issuer, e.Subject, e.IssuedAt.Unix(), e.Context, e.ClaimType,
		e.ClaimCanonical, e.ClaimEncoded, e.JWTRaw, nullable(e.MaskedHash))
	if err != nil {
		return 0, fmt.Errorf("store: insert envelope: %w", err)
	}
	e.ID = id
	return id, nil
}

// EnvelopeByID fetches a single envelope.
func (s *SQL) EnvelopeByID(ctx context.Context, id int64) (*Envelope, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+envelopeColumns+` FROM envelopes WHERE id = ?`), id)
	return scanEnvelope(row)
}

// EnvelopeQuery filters ListEnvelopes. Zero values mean "no filter".
type EnvelopeQuery struct {
	Issuer      string
	Subject     string
	ClaimType   string
	ContentLike string
	Since       time.Time
	Until       time.Time
	Limit       int
}

// ListEnvelopes returns envelopes matching q in id order.
func (s *SQL) ListEnvelopes(ctx context.Context, q EnvelopeQuery) ([]*Envelope, error) {
	query := `SELECT ` + envelopeColumns + ` FROM envelopes WHERE 1=1`
	var args []any
	if q.Issuer != "" {
		query += ` AND issuer = ?`
		args = append(args, q.Issuer)
	}
	if q.Subject != "" {
		query += ` AND subject = ?`
		args = append(args, q.Subject)
	}
	if q.ClaimType != "" {
		query += ` AND claim_type = ?`
		args = append(args, q.ClaimType)
	}
	if q.ContentLike != "" {
		query += ` AND claim_canonical LIKE ?`
		args = append(args, "%"+q.ContentLike+"%")
	}
	if !q.Since.IsZero() {
		query += ` AND issued_at >= ?`
		args = append(args, q.Since.Unix())
	}
	if !q.Until.IsZero() {
		query += ` AND issued_at < ?`
		args = append(args, q.Until.Unix())
	}
	query += ` ORDER BY id`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("store: list envelopes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Envelope
	for rows.Next() {
		e, err := scanEnvelope(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list envelopes: %w", err)
	}
	return out, nil
}

// CountEnvelopesSince counts envelopes issued by issuer at or after since.
// Backs the weekly claim quota check.
func (s *SQL) CountEnvelopesSince(ctx context.Context, issuer string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT COUNT(*) FROM envelopes WHERE issuer = ? AND issued_at >= ?`),
		issuer, since.Unix()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count envelopes: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEnvelope(row rowScanner) (*Envelope, error) {
	var (
		e        Envelope
		subject  sql.NullString
		issuedAt int64
		masked   sql.NullString
		chain    sql.NullString
	)
	err := row.Scan(&e.ID, &e.Issuer, &subject, &issuedAt, &e.Context, &e.ClaimType,
		&e.ClaimCanonical, &e.ClaimEncoded, &e.JWTRaw, &masked, &chain)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan envelope: %w", err)
	}
	e.Subject = subject.String
	e.IssuedAt = time.Unix(issuedAt, 0).UTC()
	e.MaskedHash = masked.String
	e.ChainHash = chain.String
	return &e, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
