package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/meshledger/dagnode/pkg/dag"
)

// OutputRepository persists message payloads and the input/output ledger
// balance-conservation checks validation (C3) and AA execution (C5) both
// depend on.
type OutputRepository struct {
	client *Client
}

// NewOutputRepository wraps client.
func NewOutputRepository(client *Client) *OutputRepository {
	return &OutputRepository{client: client}
}

// InsertMessage writes one message and its inputs/outputs inside tx.
func (r *OutputRepository) InsertMessage(ctx context.Context, tx *Tx, unit string, msgIndex int, app dag.App, payload []byte) error {
	_, err := tx.Tx().ExecContext(ctx,
		`INSERT INTO messages (unit, message_index, app, payload) VALUES ($1,$2,$3,$4) ON CONFLICT DO NOTHING`,
		unit, msgIndex, string(app), nullJSON(payload))
	if err != nil {
		return fmt.Errorf("storage: insert message %s/%d: %w", unit, msgIndex, err)
	}
	return nil
}

// InsertInput records one spend, inside tx, and marks the spent output.
func (r *OutputRepository) InsertInput(ctx context.Context, tx *Tx, unit string, msgIndex, inputIndex int, in dag.Input) error {
	_, err := tx.Tx().ExecContext(ctx, `
		INSERT INTO inputs (unit, message_index, input_index, type, asset, src_unit,
			src_message_index, src_output_index, amount)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) ON CONFLICT DO NOTHING`,
		unit, msgIndex, inputIndex, in.Type, nullString(in.Asset), nullString(in.UnitHash),
		in.MsgIndex, in.OutIndex, in.Amount)
	if err != nil {
		return fmt.Errorf("storage: insert input %s/%d/%d: %w", unit, msgIndex, inputIndex, err)
	}

	if in.Type == "transfer" && in.UnitHash != "" {
		if _, err := tx.Tx().ExecContext(ctx,
			`UPDATE outputs SET is_spent = true WHERE unit = $1 AND message_index = $2 AND output_index = $3`,
			in.UnitHash, in.MsgIndex, in.OutIndex); err != nil {
			return fmt.Errorf("storage: mark output spent %s/%d/%d: %w", in.UnitHash, in.MsgIndex, in.OutIndex, err)
		}
	}
	return nil
}

// InsertOutput records one output produced by a payment message, inside tx.
func (r *OutputRepository) InsertOutput(ctx context.Context, tx *Tx, out dag.Output) error {
	_, err := tx.Tx().ExecContext(ctx, `
		INSERT INTO outputs (unit, message_index, output_index, asset, address, amount, is_spent)
		VALUES ($1,$2,$3,$4,$5,$6,false) ON CONFLICT DO NOTHING`,
		out.UnitHash, out.MsgIndex, out.OutIndex, nullString(out.Asset), out.Address, out.Amount)
	if err != nil {
		return fmt.Errorf("storage: insert output %s/%d/%d: %w", out.UnitHash, out.MsgIndex, out.OutIndex, err)
	}
	return nil
}

// UnspentOutputs returns every unspent output an address holds in asset,
// feeding both payment-message input selection and
// pkg/address.OutputLookup ("has"/"has one"/"sum").
func (r *OutputRepository) UnspentOutputs(ctx context.Context, address, asset string) ([]dag.Output, error) {
	rows, err := r.client.QueryContext(ctx, `
		SELECT unit, message_index, output_index, amount, asset
		FROM outputs WHERE address = $1 AND asset IS NOT DISTINCT FROM $2 AND NOT is_spent`,
		address, nullString(asset))
	if err != nil {
		return nil, fmt.Errorf("storage: load unspent outputs for %s/%s: %w", address, asset, err)
	}
	defer rows.Close()

	var out []dag.Output
	for rows.Next() {
		var o dag.Output
		var assetCol sql.NullString
		if err := rows.Scan(&o.UnitHash, &o.MsgIndex, &o.OutIndex, &o.Amount, &assetCol); err != nil {
			return nil, err
		}
		o.Asset = assetCol.String
		o.Address = address
		out = append(out, o)
	}
	return out, nil
}
