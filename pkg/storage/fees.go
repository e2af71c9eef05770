package storage

import (
	"context"
	"fmt"
)

// FeeRepository persists headers/witnessing commission distributions
// (spec.md §4.8) and lists the children an MC unit's commission is split
// across. It does not store or advance max_spendable_mci.
type FeeRepository struct {
	client *Client
}

// NewFeeRepository wraps client.
func NewFeeRepository(client *Client) *FeeRepository {
	return &FeeRepository{client: client}
}

// InsertHeadersCommissionOutput credits address with amount from unit's
// headers commission, inside tx.
func (r *FeeRepository) InsertHeadersCommissionOutput(ctx context.Context, tx *Tx, unit, address string, amount uint64) error {
	_, err := tx.Tx().ExecContext(ctx, `
		INSERT INTO headers_commission_outputs (unit, address, amount) VALUES ($1,$2,$3)
		ON CONFLICT (unit, address) DO UPDATE SET amount = headers_commission_outputs.amount + $3`,
		unit, address, amount)
	if err != nil {
		return fmt.Errorf("storage: insert headers commission output %s/%s: %w", unit, address, err)
	}
	return nil
}

// InsertWitnessingOutput credits address with amount from unit's payload
// commission for witnessing, inside tx.
func (r *FeeRepository) InsertWitnessingOutput(ctx context.Context, tx *Tx, unit, address string, amount uint64) error {
	_, err := tx.Tx().ExecContext(ctx, `
		INSERT INTO witnessing_outputs (unit, address, amount) VALUES ($1,$2,$3)
		ON CONFLICT (unit, address) DO UPDATE SET amount = witnessing_outputs.amount + $3`,
		unit, address, amount)
	if err != nil {
		return fmt.Errorf("storage: insert witnessing output %s/%s: %w", unit, address, err)
	}
	return nil
}

// ChildrenAtMCI returns the children of mcParentUnit with MCI equal to
// mci or mci+1 and sequence='good', the exact population spec.md §4.8
// splits headers/witnessing commission across for one MC unit, ordered by
// unit hash.
func (r *FeeRepository) ChildrenAtMCI(ctx context.Context, mcParentUnit string, mci uint64) ([]string, error) {
	rows, err := r.client.QueryContext(ctx, `
		SELECT p.child_unit FROM parenthoods p
		JOIN units u ON u.unit = p.child_unit
		WHERE p.parent_unit = $1 AND u.sequence = 'good'
		  AND u.main_chain_index IN ($2, $2 + 1)
		ORDER BY p.child_unit`, mcParentUnit, mci)
	if err != nil {
		return nil, fmt.Errorf("storage: load fee children of %s at mci %d: %w", mcParentUnit, mci, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var child string
		if err := rows.Scan(&child); err != nil {
			return nil, err
		}
		out = append(out, child)
	}
	return out, nil
}
