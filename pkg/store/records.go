package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Event is deduplicated by (organizer name, event name, start time);
// first writer wins.
type Event struct {
	ID         int64
	OrgName    string
	Name       string
	StartTime  string
	EnvelopeID int64
}

// Action records that an agent joined an event.
type Action struct {
	ID         int64
	AgentDID   string
	EventID    int64
	EnvelopeID int64
}

// Tenure records that a party holds a spatial unit.
type Tenure struct {
	ID         int64
	PartyDID   string
	Polygon    string
	EnvelopeID int64
}

// OrgRole records an organizational role held by a member.
type OrgRole struct {
	ID         int64
	OrgName    string
	RoleName   string
	StartDate  string
	EndDate    string
	MemberDID  string
	EnvelopeID int64
}

// Vote records a vote for an option or candidate at an event.
type Vote struct {
	ID           int64
	VoterDID     string
	ActionOption string
	Candidate    string
	EventName    string
	EventStart   string
	EnvelopeID   int64
}

// EventsByNaturalKey returns all events matching the dedup triple, lowest id
// first. More than one match is an ambiguous duplicate the caller warns on.
func (s *SQL) EventsByNaturalKey(ctx context.Context, orgName, name, startTime string) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, org_name, name, start_time, envelope_id FROM events
		 WHERE org_name = ? AND name = ? AND start_time = ? ORDER BY id`),
		orgName, name, startTime)
	if err != nil {
		return nil, fmt.Errorf("store: events by key: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.OrgName, &e.Name, &e.StartTime, &e.EnvelopeID); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// InsertEvent appends an event row.
func (s *SQL) InsertEvent(ctx context.Context, e *Event) (int64, error) {
	id, err := s.insert(ctx,
		`INSERT INTO events (org_name, name, start_time, envelope_id) VALUES (?, ?, ?, ?)`,
		e.OrgName, e.Name, e.StartTime, e.EnvelopeID)
	if err != nil {
		return 0, fmt.Errorf("store: insert event: %w", err)
	}
	e.ID = id
	return id, nil
}

// ActionByAgentEvent finds the action for (agent, event), or ErrNotFound.
func (s *SQL) ActionByAgentEvent(ctx context.Context, agentDID string, eventID int64) (*Action, error) {
	var a Action
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id, agent_did, event_id, envelope_id FROM actions
		 WHERE agent_did = ? AND event_id = ? ORDER BY id LIMIT 1`),
		agentDID, eventID).Scan(&a.ID, &a.AgentDID, &a.EventID, &a.EnvelopeID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: action by agent/event: %w", err)
	}
	return &a, nil
}

// InsertAction appends an action row.
func (s *SQL) InsertAction(ctx context.Context, a *Action) (int64, error) {
	id, err := s.insert(ctx,
		`INSERT INTO actions (agent_did, event_id, envelope_id) VALUES (?, ?, ?)`,
		a.AgentDID, a.EventID, a.EnvelopeID)
	if err != nil {
		return 0, fmt.Errorf("store: insert action: %w", err)
	}
	a.ID = id
	return id, nil
}

// ActionsByEvent lists actions for an event in id order.
func (s *SQL) ActionsByEvent(ctx context.Context, eventID int64) ([]*Action, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, agent_did, event_id, envelope_id FROM actions WHERE event_id = ? ORDER BY id`),
		eventID)
	if err != nil {
		return nil, fmt.Errorf("store: actions by event: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Action
	for rows.Next() {
		var a Action
		if err := rows.Scan(&a.ID, &a.AgentDID, &a.EventID, &a.EnvelopeID); err != nil {
			return nil, fmt.Errorf("store: scan action: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// EventByID fetches a single event.
func (s *SQL) EventByID(ctx context.Context, id int64) (*Event, error) {
	var e Event
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id, org_name, name, start_time, envelope_id FROM events WHERE id = ?`), id).
		Scan(&e.ID, &e.OrgName, &e.Name, &e.StartTime, &e.EnvelopeID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: event by id: %w", err)
	}
	return &e, nil
}

// TenureByNaturalKey finds a tenure by (party, polygon), or ErrNotFound.
func (s *SQL) TenureByNaturalKey(ctx context.Context, partyDID, polygon string) (*Tenure, error) {
	var t Tenure
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id, party_did, polygon, envelope_id FROM tenures
		 WHERE party_did = ? AND polygon = ? ORDER BY id LIMIT 1`),
		partyDID, polygon).Scan(&t.ID, &t.PartyDID, &t.Polygon, &t.EnvelopeID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: tenure by key: %w", err)
	}
	return &t, nil
}

// InsertTenure appends a tenure row.
func (s *SQL) InsertTenure(ctx context.Context, t *Tenure) (int64, error) {
	id, err := s.insert(ctx,
		`INSERT INTO tenures (party_did, polygon, envelope_id) VALUES (?, ?, ?)`,
		t.PartyDID, t.Polygon, t.EnvelopeID)
	if err != nil {
		return 0, fmt.Errorf("store: insert tenure: %w", err)
	}
	t.ID = id
	return id, nil
}

// ListTenures returns all tenures in id order.
func (s *SQL) ListTenures(ctx context.Context) ([]*Tenure, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, party_did, polygon, envelope_id FROM tenures ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: list tenures: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Tenure
	for rows.Next() {
		var t Tenure
		if err := rows.Scan(&t.ID, &t.PartyDID, &t.Polygon, &t.EnvelopeID); err != nil {
			return nil, fmt.Errorf("store: scan tenure: %w", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// OrgRoleByNaturalKey finds a role by (org, role, dates, member), or
// ErrNotFound. Empty dates match rows stored with NULL dates.
func (s *SQL) OrgRoleByNaturalKey(ctx context.Context, orgName, roleName, startDate, endDate, memberDID string) (*OrgRole, error) {
	var (
		r          OrgRole
		start, end sql.NullString
	)
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id, org_name, role_name, start_date, end_date, member_did, envelope_id FROM org_roles
		 WHERE org_name = ? AND role_name = ? AND member_did = ?
		   AND COALESCE(start_date, '') = ? AND COALESCE(end_date, '') = ?
		 ORDER BY id LIMIT 1`),
		orgName, roleName, memberDID, startDate, endDate).
		Scan(&r.ID, &r.OrgName, &r.RoleName, &start, &end, &r.MemberDID, &r.EnvelopeID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: org role by key: %w", err)
	}
	r.StartDate = start.String
	r.EndDate = end.String
	return &r, nil
}

// InsertOrgRole appends an organizational role row.
func (s *SQL) InsertOrgRole(ctx context.Context, r *OrgRole) (int64, error) {
	id, err := s.insert(ctx,
		`INSERT INTO org_roles (org_name, role_name, start_date, end_date, member_did, envelope_id)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.OrgName, r.RoleName, nullable(r.StartDate), nullable(r.EndDate), r.MemberDID, r.EnvelopeID)
	if err != nil {
		return 0, fmt.Errorf("store: insert org role: %w", err)
	}
	r.ID = id
	return id, nil
}

// InsertVote appends a vote row.
func (s *SQL) InsertVote(ctx context.Context, v *Vote) (int64, error) {
	id, err := s.insert(ctx,
		`INSERT INTO votes (voter_did, action_option, candidate, event_name, event_start, envelope_id)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		v.VoterDID, nullable(v.ActionOption), nullable(v.Candidate),
		nullable(v.EventName), nullable(v.EventStart), v.EnvelopeID)
	if err != nil {
		return 0, fmt.Errorf("store: insert vote: %w", err)
	}
	v.ID = id
	return id, nil
}
