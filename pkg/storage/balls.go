package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/meshledger/dagnode/pkg/dag"
)

// BallRepository persists balls and their skiplist edges, and resolves the
// ball-hash chain catchup light-client verification walks (spec.md §4.7).
type BallRepository struct {
	client *Client
}

// NewBallRepository wraps client.
func NewBallRepository(client *Client) *BallRepository {
	return &BallRepository{client: client}
}

// InsertBall writes b's row and skiplist edges inside tx, as the final step
// of stabilizing b.UnitHash (spec.md §4.4 e).
func (r *BallRepository) InsertBall(ctx context.Context, tx *Tx, b *dag.Ball) error {
	_, err := tx.Tx().ExecContext(ctx,
		`INSERT INTO balls (ball, unit) VALUES ($1,$2) ON CONFLICT DO NOTHING`,
		b.Ball, b.UnitHash)
	if err != nil {
		return fmt.Errorf("storage: insert ball for %s: %w", b.UnitHash, err)
	}

	for _, sb := range b.SkiplistBalls {
		if _, err := tx.Tx().ExecContext(ctx,
			`INSERT INTO skiplist_units (unit, skiplist_unit) VALUES ($1,$2) ON CONFLICT DO NOTHING`,
			b.UnitHash, sb); err != nil {
			return fmt.Errorf("storage: insert skiplist edge %s->%s: %w", b.UnitHash, sb, err)
		}
	}
	return nil
}

// GetBallByUnit returns the ball hash stored for unit.
func (r *BallRepository) GetBallByUnit(ctx context.Context, unit string) (string, error) {
	var ball string
	err := r.client.QueryRowContext(ctx, `SELECT ball FROM balls WHERE unit = $1`, unit).Scan(&ball)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("storage: get ball for unit %s: %w", unit, err)
	}
	return ball, nil
}

// GetUnitByBall resolves the unit a ball commits to; light-client proof
// verification never trusts a peer-supplied last_ball directly, it always
// recomputes the ball from last_ball_unit and compares (P-ball-verify-catchup).
func (r *BallRepository) GetUnitByBall(ctx context.Context, ball string) (string, error) {
	var unit string
	err := r.client.QueryRowContext(ctx, `SELECT unit FROM balls WHERE ball = $1`, ball).Scan(&unit)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("storage: get unit for ball %s: %w", ball, err)
	}
	return unit, nil
}
