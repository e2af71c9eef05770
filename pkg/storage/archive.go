package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/meshledger/dagnode/pkg/dag"
)

// ArchiveReason names why a unit was archived. IsArchived must report true
// for any of them — callers that only distinguish "removed" from "voided"
// and forget the rest would violate P-archived.
type ArchiveReason string

const (
	ReasonUncoveredNonserial ArchiveReason = "uncovered-nonserial"
	ReasonVoided             ArchiveReason = "voided"
	ReasonEvicted            ArchiveReason = "evicted"
)

// ArchiveRepository handles archival of uncovered nonserial units, pending
// dependency tracking for out-of-order joints, and the unhandled-joint
// parking lot a unit with missing parents sits in until they arrive
// (spec.md §4.4 f, §7 "unresolved dependency").
type ArchiveRepository struct {
	client *Client
	joints *JointStore
}

// NewArchiveRepository wraps client and joints.
func NewArchiveRepository(client *Client, joints *JointStore) *ArchiveRepository {
	return &ArchiveRepository{client: client, joints: joints}
}

// Archive marks unit archived for reason and removes its joint blob from
// the KV store — archival is a real deletion of the payload, not a soft
// flag, but the relational row and reason stay queryable so
// IsArchived/ArchiveReasonFor can still answer after the fact.
func (r *ArchiveRepository) Archive(ctx context.Context, unit string, reason ArchiveReason) error {
	_, err := r.client.ExecContext(ctx,
		`INSERT INTO archived_joints (unit, reason) VALUES ($1,$2) ON CONFLICT (unit) DO UPDATE SET reason = $2`,
		unit, string(reason))
	if err != nil {
		return fmt.Errorf("storage: archive unit %s: %w", unit, err)
	}
	if r.joints != nil {
		if err := r.joints.DeleteJoint(unit); err != nil {
			return fmt.Errorf("storage: delete archived joint %s: %w", unit, err)
		}
	}
	return nil
}

// IsArchived reports whether unit has been archived, for any reason.
func (r *ArchiveRepository) IsArchived(ctx context.Context, unit string) (bool, error) {
	var reason string
	err := r.client.QueryRowContext(ctx, `SELECT reason FROM archived_joints WHERE unit = $1`, unit).Scan(&reason)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage: check archived %s: %w", unit, err)
	}
	return true, nil
}

// ArchiveReasonFor returns why unit was archived, if it was.
func (r *ArchiveRepository) ArchiveReasonFor(ctx context.Context, unit string) (ArchiveReason, bool, error) {
	var reason string
	err := r.client.QueryRowContext(ctx, `SELECT reason FROM archived_joints WHERE unit = $1`, unit).Scan(&reason)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("storage: get archive reason %s: %w", unit, err)
	}
	return ArchiveReason(reason), true, nil
}

// ParkUnhandledJoint stores j for later replay once its missing
// dependencies arrive, recording each dependency edge so a newly-arrived
// unit can look up who was waiting on it.
func (r *ArchiveRepository) ParkUnhandledJoint(ctx context.Context, j *dag.Joint, dependsOn []string) error {
	b, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("storage: marshal unhandled joint %s: %w", j.Unit.UnitHash, err)
	}
	if _, err := r.client.ExecContext(ctx,
		`INSERT INTO unhandled_joints (unit, joint_json) VALUES ($1,$2) ON CONFLICT (unit) DO UPDATE SET joint_json = $2`,
		j.Unit.UnitHash, b); err != nil {
		return fmt.Errorf("storage: park unhandled joint %s: %w", j.Unit.UnitHash, err)
	}
	for _, dep := range dependsOn {
		if _, err := r.client.ExecContext(ctx,
			`INSERT INTO dependencies (unit, depends_on_unit) VALUES ($1,$2) ON CONFLICT DO NOTHING`,
			j.Unit.UnitHash, dep); err != nil {
			return fmt.Errorf("storage: record dependency %s->%s: %w", j.Unit.UnitHash, dep, err)
		}
	}
	return nil
}

// WaitingOnDependency returns the units parked because they depend on
// unit, so the writer can re-queue them once unit is handled.
func (r *ArchiveRepository) WaitingOnDependency(ctx context.Context, unit string) ([]string, error) {
	rows, err := r.client.QueryContext(ctx, `SELECT unit FROM dependencies WHERE depends_on_unit = $1`, unit)
	if err != nil {
		return nil, fmt.Errorf("storage: load dependents of %s: %w", unit, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var waiting string
		if err := rows.Scan(&waiting); err != nil {
			return nil, err
		}
		out = append(out, waiting)
	}
	return out, nil
}

// TakeUnhandledJoint loads and removes unit's parked joint, for replay once
// its last outstanding dependency has arrived.
func (r *ArchiveRepository) TakeUnhandledJoint(ctx context.Context, unit string) (*dag.Joint, error) {
	var b []byte
	err := r.client.QueryRowContext(ctx, `SELECT joint_json FROM unhandled_joints WHERE unit = $1`, unit).Scan(&b)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: load unhandled joint %s: %w", unit, err)
	}
	var j dag.Joint
	if err := json.Unmarshal(b, &j); err != nil {
		return nil, fmt.Errorf("storage: unmarshal unhandled joint %s: %w", unit, err)
	}
	if _, err := r.client.ExecContext(ctx, `DELETE FROM unhandled_joints WHERE unit = $1`, unit); err != nil {
		return nil, fmt.Errorf("storage: clear unhandled joint %s: %w", unit, err)
	}
	if _, err := r.client.ExecContext(ctx, `DELETE FROM dependencies WHERE unit = $1`, unit); err != nil {
		return nil, fmt.Errorf("storage: clear dependencies of %s: %w", unit, err)
	}
	return &j, nil
}
