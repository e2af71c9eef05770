package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/meshledger/dagnode/pkg/dag"
)

// Caches holds the in-memory associative arrays the validator and
// main-chain engine consult before ever touching PostgreSQL:
// assocUnstableUnits, assocStableUnits, assocStableUnitsByMci,
// assocBestChildren, assocUnstableMessages, min_retrievable_mci and
// last_stable_mci. GetUnitProps, GetStableUnitsByMCI, GetBestChildren and
// the MCI-bound accessors fall back to the relational store on a miss and
// repopulate the cache with what they found — P-cache-fallback: a cold
// cache must never change an answer, only its latency. ListUnstableUnits
// and GetUnstableMessages read the in-memory maps only and do not fall back.
type Caches struct {
	mu sync.RWMutex

	unstableUnits    map[string]*dag.UnitProps
	stableUnits      map[string]*dag.UnitProps
	stableUnitsByMci map[uint64][]*dag.UnitProps
	bestChildren     map[string][]string // parent unit -> children that chose it as best parent
	unstableMessages map[string][]dag.Message

	minRetrievableMCI uint64
	lastStableMCI     uint64
	boundsLoaded      bool

	client  *Client
	metrics *Metrics
}

// NewCaches builds an empty cache set backed by client for fallback lookups.
// client may be nil in tests that never miss.
func NewCaches(client *Client, metrics *Metrics) *Caches {
	return &Caches{
		unstableUnits:    make(map[string]*dag.UnitProps),
		stableUnits:      make(map[string]*dag.UnitProps),
		stableUnitsByMci: make(map[uint64][]*dag.UnitProps),
		bestChildren:     make(map[string][]string),
		unstableMessages: make(map[string][]dag.Message),
		client:           client,
		metrics:          metrics,
	}
}

// PutUnstableUnit inserts or updates unit in the unstable-unit cache,
// called by the writer after each successful validation/insertion.
func (c *Caches) PutUnstableUnit(p *dag.UnitProps) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unstableUnits[p.UnitHash] = p
}

// GetUnitProps returns the props for unit, checking the unstable cache,
// then the stable cache, then falling back to PostgreSQL on a full miss.
func (c *Caches) GetUnitProps(ctx context.Context, unit string) (*dag.UnitProps, error) {
	c.mu.RLock()
	if p, ok := c.unstableUnits[unit]; ok {
		c.mu.RUnlock()
		c.metrics.cacheHit("unstable_units")
		return p, nil
	}
	if p, ok := c.stableUnits[unit]; ok {
		c.mu.RUnlock()
		c.metrics.cacheHit("stable_units")
		return p, nil
	}
	c.mu.RUnlock()
	c.metrics.cacheMiss("unit_props")

	if c.client == nil {
		return nil, ErrNotFound
	}
	p, err := c.loadUnitPropsFromDB(ctx, unit)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if p.IsStable {
		c.stableUnits[unit] = p
	} else {
		c.unstableUnits[unit] = p
	}
	c.mu.Unlock()
	return p, nil
}

// ListUnstableUnits returns every currently-unstable unit's cached props,
// for a stabilization driver deciding which units are candidates to
// reconstruct the main chain over (spec.md §4.4). It only reports what's
// in the in-memory cache — a cold-started node repopulates it lazily as
// GetUnitProps is called, same as every other accessor here.
func (c *Caches) ListUnstableUnits() []*dag.UnitProps {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*dag.UnitProps, 0, len(c.unstableUnits))
	for _, p := range c.unstableUnits {
		out = append(out, p)
	}
	return out
}

func (c *Caches) loadUnitPropsFromDB(ctx context.Context, unit string) (*dag.UnitProps, error) {
	row := c.client.QueryRowContext(ctx, `
		SELECT unit, level, witnessed_level, witness_list_unit, last_ball_unit,
		       main_chain_index, latest_included_mc_index, is_on_main_chain,
		       is_stable, is_free, sequence
		FROM units WHERE unit = $1`, unit)

	var p dag.UnitProps
	var mci, limci sql.NullInt64
	if err := row.Scan(&p.UnitHash, &p.Level, &p.WitnessedLevel, &p.WitnessListUnit,
		&p.LastBallUnit, &mci, &limci, &p.IsOnMainChain, &p.IsStable, &p.IsFree, &p.Sequence); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: load unit props %s: %w", unit, err)
	}
	if mci.Valid {
		v := uint64(mci.Int64)
		p.MainChainIndex = &v
	}
	if limci.Valid {
		v := uint64(limci.Int64)
		p.LatestIncludedMCI = &v
	}

	rows, err := c.client.QueryContext(ctx, `SELECT parent_unit FROM parenthoods WHERE child_unit = $1`, unit)
	if err != nil {
		return nil, fmt.Errorf("storage: load parents for %s: %w", unit, err)
	}
	defer rows.Close()
	for rows.Next() {
		var parent string
		if err := rows.Scan(&parent); err != nil {
			return nil, err
		}
		p.ParentUnits = append(p.ParentUnits, parent)
	}
	return &p, nil
}

// MarkStable moves unit from the unstable cache into both the stable cache
// and the stable-units-by-MCI index, called once per unit by the
// stabilization transaction (spec.md §4.4 e).
func (c *Caches) MarkStable(p *dag.UnitProps, mci uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.unstableUnits, p.UnitHash)
	p.IsStable = true
	c.stableUnits[p.UnitHash] = p
	c.stableUnitsByMci[mci] = append(c.stableUnitsByMci[mci], p)
}

// GetStableUnitsByMCI returns the stable units at mci, falling back to
// PostgreSQL when the MCI isn't cached (e.g. after a cold start).
func (c *Caches) GetStableUnitsByMCI(ctx context.Context, mci uint64) ([]*dag.UnitProps, error) {
	c.mu.RLock()
	if units, ok := c.stableUnitsByMci[mci]; ok {
		c.mu.RUnlock()
		c.metrics.cacheHit("stable_units_by_mci")
		return units, nil
	}
	c.mu.RUnlock()
	c.metrics.cacheMiss("stable_units_by_mci")

	if c.client == nil {
		return nil, nil
	}
	rows, err := c.client.QueryContext(ctx, `SELECT unit FROM units WHERE main_chain_index = $1 AND is_stable`, mci)
	if err != nil {
		return nil, fmt.Errorf("storage: load stable units at mci %d: %w", mci, err)
	}
	defer rows.Close()

	var out []*dag.UnitProps
	for rows.Next() {
		var unit string
		if err := rows.Scan(&unit); err != nil {
			return nil, err
		}
		p, err := c.loadUnitPropsFromDB(ctx, unit)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}

	c.mu.Lock()
	c.stableUnitsByMci[mci] = out
	c.mu.Unlock()
	return out, nil
}

// AddBestChild records that child chose parent as its best parent, for the
// main-chain engine's best-child-propagation step (spec.md §4.4 b).
func (c *Caches) AddBestChild(parent, child string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bestChildren[parent] = append(c.bestChildren[parent], child)
}

// GetBestChildren returns the units that chose parent as their best parent.
func (c *Caches) GetBestChildren(ctx context.Context, parent string) ([]string, error) {
	c.mu.RLock()
	if children, ok := c.bestChildren[parent]; ok {
		c.mu.RUnlock()
		c.metrics.cacheHit("best_children")
		return children, nil
	}
	c.mu.RUnlock()
	c.metrics.cacheMiss("best_children")

	if c.client == nil {
		return nil, nil
	}
	rows, err := c.client.QueryContext(ctx, `
		SELECT p.child_unit FROM parenthoods p
		JOIN units u ON u.unit = p.child_unit
		WHERE p.parent_unit = $1 AND u.unit = (
			SELECT unit FROM parenthoods WHERE child_unit = u.unit ORDER BY parent_unit LIMIT 1
		)`, parent)
	if err != nil {
		return nil, fmt.Errorf("storage: load best children of %s: %w", parent, err)
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

	c.mu.Lock()
	c.bestChildren[parent] = out
	c.mu.Unlock()
	return out, nil
}

// PutUnstableMessages caches the decoded messages for an unstable unit, so
// repeated validation passes (e.g. re-validation after a parent stabilizes)
// don't re-parse the joint blob.
func (c *Caches) PutUnstableMessages(unit string, msgs []dag.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unstableMessages[unit] = msgs
}

// GetUnstableMessages returns unit's cached messages, or nil, false on miss
// (the caller is expected to fall back to JointStore.GetJoint, since
// messages aren't independently stored in PostgreSQL).
func (c *Caches) GetUnstableMessages(unit string) ([]dag.Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	msgs, ok := c.unstableMessages[unit]
	if ok {
		c.metrics.cacheHit("unstable_messages")
	} else {
		c.metrics.cacheMiss("unstable_messages")
	}
	return msgs, ok
}

// EvictStabilized drops unit from the unstable-messages cache once it has
// stabilized and its messages are durably indexed in PostgreSQL.
func (c *Caches) EvictStabilized(unit string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.unstableMessages, unit)
}

// MinRetrievableMCI returns the lowest MCI the node still serves full joints
// for, falling back to PostgreSQL's high-water mark on first access.
func (c *Caches) MinRetrievableMCI(ctx context.Context) (uint64, error) {
	c.mu.RLock()
	if c.boundsLoaded {
		v := c.minRetrievableMCI
		c.mu.RUnlock()
		return v, nil
	}
	c.mu.RUnlock()
	return c.loadBounds(ctx, func() uint64 { return c.minRetrievableMCI })
}

// LastStableMCI returns the highest stabilized MCI, falling back to
// PostgreSQL's high-water mark on first access.
func (c *Caches) LastStableMCI(ctx context.Context) (uint64, error) {
	c.mu.RLock()
	if c.boundsLoaded {
		v := c.lastStableMCI
		c.mu.RUnlock()
		return v, nil
	}
	c.mu.RUnlock()
	return c.loadBounds(ctx, func() uint64 { return c.lastStableMCI })
}

func (c *Caches) loadBounds(ctx context.Context, pick func() uint64) (uint64, error) {
	c.metrics.cacheMiss("mci_bounds")
	if c.client == nil {
		return 0, nil
	}

	var lastStable sql.NullInt64
	if err := c.client.QueryRowContext(ctx, `SELECT MAX(main_chain_index) FROM units WHERE is_stable`).Scan(&lastStable); err != nil {
		return 0, fmt.Errorf("storage: load last stable mci: %w", err)
	}
	var minRetrievable sql.NullInt64
	if err := c.client.QueryRowContext(ctx, `SELECT MIN(main_chain_index) FROM units WHERE is_stable`).Scan(&minRetrievable); err != nil {
		return 0, fmt.Errorf("storage: load min retrievable mci: %w", err)
	}

	c.mu.Lock()
	if lastStable.Valid {
		c.lastStableMCI = uint64(lastStable.Int64)
	}
	if minRetrievable.Valid {
		c.minRetrievableMCI = uint64(minRetrievable.Int64)
	}
	c.boundsLoaded = true
	v := pick()
	c.mu.Unlock()
	return v, nil
}

// SetLastStableMCI updates the cached high-water mark; called by the
// stabilization transaction after it commits.
func (c *Caches) SetLastStableMCI(mci uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.boundsLoaded = true
	c.lastStableMCI = mci
}

// AdvanceMinRetrievableMCI raises the cached floor; called after archival of
// units below the new floor (spec.md §4.4 f).
func (c *Caches) AdvanceMinRetrievableMCI(mci uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.boundsLoaded = true
	if mci > c.minRetrievableMCI {
		c.minRetrievableMCI = mci
	}
}
