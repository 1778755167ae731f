package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Registration authorizes an identity to submit claims. An identity with no
// row here cannot submit anything; rows descend from a pre-seeded root
// identity via registration claims.
type Registration struct {
	ID               int64
	DID              string
	RegisteredBy     string
	Epoch            int64 // seconds; when the identity was registered
	MaxClaimsPerWeek *int64
	MaxRegsPerMonth  *int64
}

// RegistrationByDID looks up an identity's registration, or ErrNotFound.
func (s *SQL) RegistrationByDID(ctx context.Context, did string) (*Registration, error) {
	var (
		r         Registration
		maxClaims sql.NullInt64
		maxRegs   sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id, did, registered_by, epoch, max_claims_per_week, max_regs_per_month
		 FROM registrations WHERE did = ?`), did).
		Scan(&r.ID, &r.DID, &r.RegisteredBy, &r.Epoch, &maxClaims, &maxRegs)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: registration by did: %w", err)
	}
	if maxClaims.Valid {
		r.MaxClaimsPerWeek = &maxClaims.Int64
	}
	if maxRegs.Valid {
		r.MaxRegsPerMonth = &maxRegs.Int64
	}
	return &r, nil
}

// InsertRegistration appends a registration row.
func (s *SQL) InsertRegistration(ctx context.Context, r *Registration) (int64, error) {
	id, err := s.insert(ctx,
		`INSERT INTO registrations (did, registered_by, epoch, max_claims_per_week, max_regs_per_month)
		 VALUES (?, ?, ?, ?, ?)`,
		r.DID, r.RegisteredBy, r.Epoch, nullableInt(r.MaxClaimsPerWeek), nullableInt(r.MaxRegsPerMonth))
	if err != nil {
		return 0, fmt.Errorf("store: insert registration: %w", err)
	}
	r.ID = id
	return id, nil
}

// CountRegistrationsSince counts registrations created by registrar at or
// after since. Backs the monthly registration quota check.
func (s *SQL) CountRegistrationsSince(ctx context.Context, registrar string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT COUNT(*) FROM registrations WHERE registered_by = ? AND epoch >= ?`),
		registrar, since.Unix()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count registrations: %w", err)
	}
	return n, nil
}

// UpdateRegistrationQuotas sets per-identity quota overrides. A nil value
// clears the override back to the service default.
func (s *SQL) UpdateRegistrationQuotas(ctx context.Context, did string, maxClaimsPerWeek, maxRegsPerMonth *int64) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE registrations SET max_claims_per_week = ?, max_regs_per_month = ? WHERE did = ?`),
		nullableInt(maxClaimsPerWeek), nullableInt(maxRegsPerMonth), did)
	if err != nil {
		return fmt.Errorf("store: update registration quotas: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: update registration quotas: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullableInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
