package storage

import (
	"context"
	"testing"

	"github.com/meshledger/dagnode/pkg/dag"
	"github.com/meshledger/dagnode/pkg/hash"
)

func TestMemKVRoundTrip(t *testing.T) {
	kv := NewMemKV()

	ok, err := kv.Has([]byte("missing"))
	if err != nil || ok {
		t.Fatalf("expected missing key to report not present, got ok=%v err=%v", ok, err)
	}

	if err := kv.Set([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, err := kv.Get([]byte("k"))
	if err != nil || string(v) != "v" {
		t.Fatalf("expected v, got %q err=%v", v, err)
	}

	if err := kv.Delete([]byte("k")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, err = kv.Get([]byte("k"))
	if err != nil || v != nil {
		t.Fatalf("expected nil after delete, got %q err=%v", v, err)
	}
}

func TestJointStorePutGet(t *testing.T) {
	store := NewJointStore(NewMemKV())

	j := &dag.Joint{Unit: &dag.Unit{UnitHash: "abc", Version: dag.VersionV4}}
	if err := store.PutJoint(j); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := store.GetJoint("abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Unit.UnitHash != "abc" {
		t.Fatalf("expected unit hash abc, got %q", got.Unit.UnitHash)
	}

	if _, err := store.GetJoint("missing"); err != ErrJointNotFound {
		t.Fatalf("expected ErrJointNotFound, got %v", err)
	}
}

func TestJointStoreDataFeedIndex(t *testing.T) {
	store := NewJointStore(NewMemKV())

	if err := store.IndexDataFeedValue("temperature", "oracle1", 21.5, 100, "unitA"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	encoded, err := hash.EncodeFeedValue(21.5, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	unit, ok, err := store.LookupDataFeedUnit("temperature", "oracle1", encoded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || unit != "unitA" {
		t.Fatalf("expected unitA, got unit=%q ok=%v", unit, ok)
	}
}

func TestCachesFallsBackWithoutClientReturnsNotFound(t *testing.T) {
	c := NewCaches(nil, nil)

	if _, err := c.GetUnitProps(context.Background(), "nonexistent"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound with no backing client, got %v", err)
	}
}

func TestCachesPutThenGetIsAHit(t *testing.T) {
	c := NewCaches(nil, nil)
	p := &dag.UnitProps{UnitHash: "u1", Level: 5}
	c.PutUnstableUnit(p)

	got, err := c.GetUnitProps(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Level != 5 {
		t.Fatalf("expected level 5, got %d", got.Level)
	}
}

func TestCachesMarkStableMovesBetweenCaches(t *testing.T) {
	c := NewCaches(nil, nil)
	p := &dag.UnitProps{UnitHash: "u1"}
	c.PutUnstableUnit(p)
	c.MarkStable(p, 42)

	units, err := c.GetStableUnitsByMCI(context.Background(), 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(units) != 1 || units[0].UnitHash != "u1" {
		t.Fatalf("expected [u1] at mci 42, got %v", units)
	}
}

func TestMetricsNilReceiverIsSafe(t *testing.T) {
	var m *Metrics
	m.cacheHit("x")
	m.cacheMiss("x")
	m.ObserveStabilizationDepth(3)
	m.ObserveWriteLockHoldSeconds(0.1)
}
