package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/meshledger/dagnode/pkg/dag"
)

// UnitRepository persists the structured unit/author/definition projection
// derived from a validated joint. Every insert runs against the writer's
// single commit transaction (spec.md §4.6), so each method takes a *Tx
// rather than touching the pool directly.
type UnitRepository struct {
	client *Client
}

// NewUnitRepository wraps client.
func NewUnitRepository(client *Client) *UnitRepository {
	return &UnitRepository{client: client}
}

// InsertUnit writes u's row, its parenthood edges and its authors/
// definitions, in that order, inside tx.
func (r *UnitRepository) InsertUnit(ctx context.Context, tx *Tx, u *dag.Unit) error {
	var mci, limci sql.NullInt64
	if u.MainChainIndex != nil {
		mci = sql.NullInt64{Int64: int64(*u.MainChainIndex), Valid: true}
	}
	if u.LatestIncludedMCI != nil {
		limci = sql.NullInt64{Int64: int64(*u.LatestIncludedMCI), Valid: true}
	}

	_, err := tx.Tx().ExecContext(ctx, `
		INSERT INTO units (unit, version, alt, witness_list_unit, last_ball_unit, last_ball,
			headers_commission, payload_commission, main_chain_index, latest_included_mc_index,
			level, witnessed_level, is_stable, is_on_main_chain, is_free, sequence, content_hash)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (unit) DO NOTHING`,
		u.UnitHash, string(u.Version), u.Alt, nullString(u.WitnessListUnit), nullString(u.LastBallUnit),
		nullString(u.LastBall), u.HeadersCommission, u.PayloadCommission, mci, limci,
		u.Level, u.WitnessedLevel, u.IsStable, u.IsOnMainChain, u.IsFree, u.Sequence, nullString(u.ContentHash))
	if err != nil {
		return fmt.Errorf("storage: insert unit %s: %w", u.UnitHash, err)
	}

	for _, parent := range u.ParentUnits {
		if _, err := tx.Tx().ExecContext(ctx,
			`INSERT INTO parenthoods (child_unit, parent_unit) VALUES ($1,$2) ON CONFLICT DO NOTHING`,
			u.UnitHash, parent); err != nil {
			return fmt.Errorf("storage: insert parenthood %s->%s: %w", u.UnitHash, parent, err)
		}
	}

	for _, a := range u.Authors {
		var defJSON []byte
		if a.Definition != nil {
			var err error
			defJSON, err = json.Marshal(a.Definition)
			if err != nil {
				return fmt.Errorf("storage: marshal author definition %s: %w", a.Address, err)
			}
		}
		if _, err := tx.Tx().ExecContext(ctx,
			`INSERT INTO authors (unit, address, definition) VALUES ($1,$2,$3) ON CONFLICT DO NOTHING`,
			u.UnitHash, a.Address, nullJSON(defJSON)); err != nil {
			return fmt.Errorf("storage: insert author %s: %w", a.Address, err)
		}
	}

	return nil
}

// MarkStable flips a unit's stability flags atomically as part of the
// stabilization transaction (spec.md §4.4 e).
func (r *UnitRepository) MarkStable(ctx context.Context, tx *Tx, unit string, mci uint64, sequence string) error {
	_, err := tx.Tx().ExecContext(ctx,
		`UPDATE units SET is_stable = true, main_chain_index = $2, sequence = $3 WHERE unit = $1`,
		unit, mci, sequence)
	if err != nil {
		return fmt.Errorf("storage: mark unit stable %s: %w", unit, err)
	}
	return nil
}

// SetOnMainChain flags unit as on the main chain with the given level/
// witnessed_level, computed by the best-parent walk (spec.md §4.4 a-b).
func (r *UnitRepository) SetOnMainChain(ctx context.Context, tx *Tx, unit string, level, witnessedLevel uint64) error {
	_, err := tx.Tx().ExecContext(ctx,
		`UPDATE units SET is_on_main_chain = true, level = $2, witnessed_level = $3 WHERE unit = $1`,
		unit, level, witnessedLevel)
	if err != nil {
		return fmt.Errorf("storage: set unit on main chain %s: %w", unit, err)
	}
	return nil
}

// SetMainChainIndex flags unit as on the main chain with the given
// main_chain_index, part of recomputing is_on_main_chain/main_chain_index
// from the new tip (spec.md §4.4 d).
func (r *UnitRepository) SetMainChainIndex(ctx context.Context, tx *Tx, unit string, mci uint64) error {
	_, err := tx.Tx().ExecContext(ctx,
		`UPDATE units SET is_on_main_chain = true, main_chain_index = $2 WHERE unit = $1`,
		unit, mci)
	if err != nil {
		return fmt.Errorf("storage: set main chain index %s: %w", unit, err)
	}
	return nil
}

// SetLatestIncludedMCI writes unit's re-propagated latest_included_mc_index
// (nil clears it), part of main chain reconstruction (spec.md §4.4 d).
func (r *UnitRepository) SetLatestIncludedMCI(ctx context.Context, tx *Tx, unit string, limci *uint64) error {
	var v sql.NullInt64
	if limci != nil {
		v = sql.NullInt64{Int64: int64(*limci), Valid: true}
	}
	_, err := tx.Tx().ExecContext(ctx,
		`UPDATE units SET latest_included_mc_index = $2 WHERE unit = $1`, unit, v)
	if err != nil {
		return fmt.Errorf("storage: set latest included mci %s: %w", unit, err)
	}
	return nil
}

// ResolveDefinition returns the most recent stored definition for address,
// for pkg/address.AddressResolver.
func (r *UnitRepository) ResolveDefinition(ctx context.Context, address string) (*dag.DefinitionNode, uint64, error) {
	var defJSON []byte
	var originMCI uint64
	err := r.client.QueryRowContext(ctx,
		`SELECT definition, origin_mci FROM definitions WHERE address = $1`, address).
		Scan(&defJSON, &originMCI)
	if err == sql.ErrNoRows {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("storage: resolve definition %s: %w", address, err)
	}
	var def dag.DefinitionNode
	if err := json.Unmarshal(defJSON, &def); err != nil {
		return nil, 0, fmt.Errorf("storage: unmarshal definition %s: %w", address, err)
	}
	return &def, originMCI, nil
}

// PutDefinition records address's current definition (insert-or-update),
// called when a unit's author defines or redefines an address.
func (r *UnitRepository) PutDefinition(ctx context.Context, tx *Tx, address string, def *dag.DefinitionNode, originMCI uint64, definitionUnit string) error {
	b, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("storage: marshal definition %s: %w", address, err)
	}
	_, err = tx.Tx().ExecContext(ctx, `
		INSERT INTO definitions (address, definition, origin_mci, definition_unit)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (address) DO UPDATE SET definition = $2, origin_mci = $3, definition_unit = $4`,
		address, b, originMCI, definitionUnit)
	if err != nil {
		return fmt.Errorf("storage: put definition %s: %w", address, err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
