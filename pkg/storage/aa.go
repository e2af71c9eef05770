package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/meshledger/dagnode/pkg/dag"
)

// AARepository persists Autonomous Agent addresses, their asset balances
// and state variables, and the trigger/response bookkeeping AA execution
// (C5) needs for bounded secondary-trigger fan-out (spec.md §4.5).
type AARepository struct {
	client *Client
}

// NewAARepository wraps client.
func NewAARepository(client *Client) *AARepository {
	return &AARepository{client: client}
}

// InsertAAAddress registers a new AA (or parameterized instantiation).
func (r *AARepository) InsertAAAddress(ctx context.Context, tx *Tx, a *dag.AAAddress) error {
	defJSON, err := json.Marshal(a.Definition)
	if err != nil {
		return fmt.Errorf("storage: marshal aa definition %s: %w", a.Address, err)
	}
	var paramsJSON []byte
	if a.Params != nil {
		paramsJSON, err = json.Marshal(a.Params)
		if err != nil {
			return fmt.Errorf("storage: marshal aa params %s: %w", a.Address, err)
		}
	}
	_, err = tx.Tx().ExecContext(ctx, `
		INSERT INTO aa_addresses (address, definition, base_aa, params, creation_mci)
		VALUES ($1,$2,$3,$4,$5) ON CONFLICT DO NOTHING`,
		a.Address, defJSON, nullString(a.BaseAA), nullJSON(paramsJSON), 0)
	if err != nil {
		return fmt.Errorf("storage: insert aa address %s: %w", a.Address, err)
	}
	return nil
}

// GetAAAddress resolves address's stored definition, for
// pkg/aaexec.Deps.ResolveAA and for the writer's pre-commit hook deciding
// whether a payment's destination is an AA at all.
func (r *AARepository) GetAAAddress(ctx context.Context, address string) (*dag.AAAddress, error) {
	var defJSON []byte
	var baseAA sql.NullString
	var paramsJSON []byte
	err := r.client.QueryRowContext(ctx,
		`SELECT definition, base_aa, params FROM aa_addresses WHERE address = $1`, address).
		Scan(&defJSON, &baseAA, &paramsJSON)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get aa address %s: %w", address, err)
	}
	var def dag.AADefinition
	if err := json.Unmarshal(defJSON, &def); err != nil {
		return nil, fmt.Errorf("storage: unmarshal aa definition %s: %w", address, err)
	}
	a := &dag.AAAddress{Address: address, Definition: def, BaseAA: baseAA.String}
	if len(paramsJSON) > 0 {
		if err := json.Unmarshal(paramsJSON, &a.Params); err != nil {
			return nil, fmt.Errorf("storage: unmarshal aa params %s: %w", address, err)
		}
	}
	return a, nil
}

// GetBalance returns address's current balance in asset (0 if never
// credited), the AA byte-balance accounting uses for delta_storage_size.
func (r *AARepository) GetBalance(ctx context.Context, address, asset string) (uint64, error) {
	var balance int64
	err := r.client.QueryRowContext(ctx,
		`SELECT balance FROM aa_balances WHERE address = $1 AND asset = $2`, address, asset).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("storage: get aa balance %s/%s: %w", address, asset, err)
	}
	return uint64(balance), nil
}

// SetBalance writes address's balance in asset (insert-or-update), inside tx.
func (r *AARepository) SetBalance(ctx context.Context, tx *Tx, address, asset string, balance uint64) error {
	_, err := tx.Tx().ExecContext(ctx, `
		INSERT INTO aa_balances (address, asset, balance) VALUES ($1,$2,$3)
		ON CONFLICT (address, asset) DO UPDATE SET balance = $3`,
		address, asset, int64(balance))
	if err != nil {
		return fmt.Errorf("storage: set aa balance %s/%s: %w", address, asset, err)
	}
	return nil
}

// GetStateVar returns one AA state variable's stored JSON value.
func (r *AARepository) GetStateVar(ctx context.Context, address, name string) (json.RawMessage, bool, error) {
	var value json.RawMessage
	err := r.client.QueryRowContext(ctx,
		`SELECT value FROM aa_state_vars WHERE address = $1 AND var_name = $2`, address, name).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("storage: get aa state var %s/%s: %w", address, name, err)
	}
	return value, true, nil
}

// SetStateVar writes one AA state variable, inside tx. Deterministic
// ordering of these writes across replaying nodes is the caller's
// responsibility (spec.md §4.5 determinism requirement).
func (r *AARepository) SetStateVar(ctx context.Context, tx *Tx, address, name string, value json.RawMessage) error {
	_, err := tx.Tx().ExecContext(ctx, `
		INSERT INTO aa_state_vars (address, var_name, value) VALUES ($1,$2,$3)
		ON CONFLICT (address, var_name) DO UPDATE SET value = $3`,
		address, name, value)
	if err != nil {
		return fmt.Errorf("storage: set aa state var %s/%s: %w", address, name, err)
	}
	return nil
}

// RecordTrigger links trigger unit to the AA address it invoked, with its
// depth in the secondary-trigger BFS and the primary trigger at the root of
// the chain (spec.md §4.5: bounded by MAX_RESPONSES_PER_PRIMARY_TRIGGER).
func (r *AARepository) RecordTrigger(ctx context.Context, tx *Tx, unit, aaAddress string, depth int, primaryTriggerUnit string) error {
	_, err := tx.Tx().ExecContext(ctx, `
		INSERT INTO aa_triggers (unit, aa_address, depth, primary_trigger_unit)
		VALUES ($1,$2,$3,$4) ON CONFLICT DO NOTHING`,
		unit, aaAddress, depth, nullString(primaryTriggerUnit))
	if err != nil {
		return fmt.Errorf("storage: record aa trigger %s/%s: %w", unit, aaAddress, err)
	}
	return nil
}

// CountResponsesForPrimaryTrigger returns how many response units a primary
// trigger has already produced, across every AA in its secondary-trigger
// chain, so the executor can enforce the 10-response ceiling.
func (r *AARepository) CountResponsesForPrimaryTrigger(ctx context.Context, primaryTriggerUnit string) (int, error) {
	var count int
	err := r.client.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM aa_responses WHERE trigger_unit IN (
			SELECT unit FROM aa_triggers WHERE primary_trigger_unit = $1 OR unit = $1
		)`, primaryTriggerUnit).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("storage: count aa responses for %s: %w", primaryTriggerUnit, err)
	}
	return count, nil
}

// RecordResponse writes one AA response (a generated response unit or a
// bounce), inside tx.
func (r *AARepository) RecordResponse(ctx context.Context, tx *Tx, triggerUnit, aaAddress string, responseIndex int, responseUnit string, bounced bool, bounceMessage string) error {
	_, err := tx.Tx().ExecContext(ctx, `
		INSERT INTO aa_responses (trigger_unit, aa_address, response_unit, bounced, bounce_message, response_index)
		VALUES ($1,$2,$3,$4,$5,$6) ON CONFLICT DO NOTHING`,
		triggerUnit, aaAddress, nullString(responseUnit), bounced, nullString(bounceMessage), responseIndex)
	if err != nil {
		return fmt.Errorf("storage: record aa response %s/%s: %w", triggerUnit, aaAddress, err)
	}
	return nil
}
