package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Confirmation records agreement with a previously recorded claim. At most
// one of ActionID / TenureID / OrgRoleID is set; a confirmation of an
// untyped claim has all three zero and is matched by canonical claim text.
type Confirmation struct {
	ID             int64
	IssuerDID      string
	EnvelopeID     int64
	ClaimCanonical string
	ActionID       int64
	TenureID       int64
	OrgRoleID      int64
}

// TargetRef names the record a confirmation points at.
type TargetRef struct {
	ActionID       int64
	TenureID       int64
	OrgRoleID      int64
	ClaimCanonical string // used when no typed target is set
}

// ConfirmationByIssuerTarget finds an existing confirmation by the same
// issuer for the same target, or ErrNotFound. This existence check is the
// application-level guard making confirmation inserts insert-if-absent;
// under concurrent identical submissions it admits a narrow race, kept as
// designed.
func (s *SQL) ConfirmationByIssuerTarget(ctx context.Context, issuerDID string, ref TargetRef) (*Confirmation, error) {
	query := `SELECT id, issuer_did, envelope_id, claim_canonical, action_id, tenure_id, org_role_id
		FROM confirmations WHERE issuer_did = ?`
	args := []any{issuerDID}
	switch {
	case ref.ActionID != 0:
		query += ` AND action_id = ?`
		args = append(args, ref.ActionID)
	case ref.TenureID != 0:
		query += ` AND tenure_id = ?`
		args = append(args, ref.TenureID)
	case ref.OrgRoleID != 0:
		query += ` AND org_role_id = ?`
		args = append(args, ref.OrgRoleID)
	default:
		query += ` AND action_id IS NULL AND tenure_id IS NULL AND org_role_id IS NULL AND claim_canonical = ?`
		args = append(args, ref.ClaimCanonical)
	}
	query += ` ORDER BY id LIMIT 1`

	row := s.db.QueryRowContext(ctx, s.rebind(query), args...)
	return scanConfirmation(row)
}

// InsertConfirmation appends a confirmation row.
func (s *SQL) InsertConfirmation(ctx context.Context, c *Confirmation) (int64, error) {
	id, err := s.insert(ctx,
		`INSERT INTO confirmations (issuer_did, envelope_id, claim_canonical, action_id, tenure_id, org_role_id)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.IssuerDID, c.EnvelopeID, c.ClaimCanonical,
		nullableID(c.ActionID), nullableID(c.TenureID), nullableID(c.OrgRoleID))
	if err != nil {
		return 0, fmt.Errorf("store: insert confirmation: %w", err)
	}
	c.ID = id
	return id, nil
}

// ConfirmationsByAction lists confirmations targeting an action.
func (s *SQL) ConfirmationsByAction(ctx context.Context, actionID int64) ([]*Confirmation, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, issuer_did, envelope_id, claim_canonical, action_id, tenure_id, org_role_id
		 FROM confirmations WHERE action_id = ? ORDER BY id`), actionID)
	if err != nil {
		return nil, fmt.Errorf("store: confirmations by action: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Confirmation
	for rows.Next() {
		c, err := scanConfirmation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanConfirmation(row rowScanner) (*Confirmation, error) {
	var (
		c                        Confirmation
		actionID, tenureID, role sql.NullInt64
	)
	err := row.Scan(&c.ID, &c.IssuerDID, &c.EnvelopeID, &c.ClaimCanonical, &actionID, &tenureID, &role)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan confirmation: %w", err)
	}
	c.ActionID = actionID.Int64
	c.TenureID = tenureID.Int64
	c.OrgRoleID = role.Int64
	return &c, nil
}

func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
