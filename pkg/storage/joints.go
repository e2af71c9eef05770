package storage

import (
	"encoding/json"
	"fmt"

	"github.com/meshledger/dagnode/pkg/dag"
	"github.com/meshledger/dagnode/pkg/hash"
)

// JointStore persists raw joint blobs and the data-feed secondary index in
// the KV store, following the key layout of spec.md §6: `j\n<unit>` for a
// joint, `df\n<feed>\nn\n<encoded>\n<oracle>` for a numeric data-feed
// posting. It generalizes the teacher's pkg/ledger.LedgerStore's
// load-JSON-or-default / marshal-and-Set accessor pattern from system/anchor
// ledger bookkeeping to joint and data-feed storage.
//
// CONCURRENCY: like the teacher's LedgerStore, JointStore assumes the
// caller serializes writes to the same unit (the writer's global write
// lock, spec.md §5) — it does no locking of its own.
type JointStore struct {
	kv KV
}

// NewJointStore wraps kv as a JointStore.
func NewJointStore(kv KV) *JointStore {
	return &JointStore{kv: kv}
}

func jointKey(unit string) []byte {
	return []byte("j\n" + unit)
}

// dataFeedKey builds the df\n<feed>\nn\n<encoded>\n<oracle> index key for a
// numeric feed posting; EncodeFeedValue's lexicographically-sortable
// encoding is what makes range lookups over this prefix useful.
func dataFeedKey(feed, encodedValue, oracle string) []byte {
	return []byte(fmt.Sprintf("df\n%s\nn\n%s\n%s", feed, encodedValue, oracle))
}

// PutJoint stores j as the joint blob for j.Unit.UnitHash.
func (s *JointStore) PutJoint(j *dag.Joint) error {
	if j == nil || j.Unit == nil || j.Unit.UnitHash == "" {
		return fmt.Errorf("storage: joint must carry a hashed unit")
	}
	b, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("storage: marshal joint %s: %w", j.Unit.UnitHash, err)
	}
	return s.kv.Set(jointKey(j.Unit.UnitHash), b)
}

// GetJoint loads the joint for unit, returning ErrJointNotFound if absent.
func (s *JointStore) GetJoint(unit string) (*dag.Joint, error) {
	b, err := s.kv.Get(jointKey(unit))
	if err != nil {
		return nil, fmt.Errorf("storage: get joint %s: %w", unit, err)
	}
	if len(b) == 0 {
		return nil, ErrJointNotFound
	}
	var j dag.Joint
	if err := json.Unmarshal(b, &j); err != nil {
		return nil, fmt.Errorf("storage: unmarshal joint %s: %w", unit, err)
	}
	return &j, nil
}

// HasJoint reports whether unit's joint blob exists.
func (s *JointStore) HasJoint(unit string) (bool, error) {
	return s.kv.Has(jointKey(unit))
}

// DeleteJoint removes unit's joint blob (archival per spec.md §4.4 f:
// uncovered nonserial units are archived, not merely flagged).
func (s *JointStore) DeleteJoint(unit string) error {
	return s.kv.Delete(jointKey(unit))
}

// IndexDataFeedValue records that oracle posted value to feed, keyed by
// hash.EncodeFeedValue's sortable encoding of value (atMCI only selects the
// encoding rule). The key holds no MCI, so the index alone cannot tell which
// posting is the most recent at or before a given MCI, and
// pkg/address.Context.Feeds does not read it.
func (s *JointStore) IndexDataFeedValue(feed, oracle string, value float64, atMCI uint64, unit string) error {
	encoded, err := hash.EncodeFeedValue(value, atMCI)
	if err != nil {
		return fmt.Errorf("storage: encode feed value for %s: %w", feed, err)
	}
	return s.kv.Set(dataFeedKey(feed, encoded, oracle), []byte(unit))
}

// LookupDataFeedUnit returns the unit that indexed encodedValue for feed and
// oracle, or ("", false) if nothing was indexed under that exact key. It is
// a point lookup only; KV offers no range query over the df\n<feed>\nn\n
// prefix.
func (s *JointStore) LookupDataFeedUnit(feed, oracle, encodedValue string) (string, bool, error) {
	b, err := s.kv.Get(dataFeedKey(feed, encodedValue, oracle))
	if err != nil {
		return "", false, fmt.Errorf("storage: lookup data feed %s/%s: %w", feed, oracle, err)
	}
	if len(b) == 0 {
		return "", false, nil
	}
	return string(b), true, nil
}
