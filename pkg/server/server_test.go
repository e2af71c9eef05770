package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/meshledger/dagnode/pkg/config"
	"github.com/meshledger/dagnode/pkg/dag"
	"github.com/meshledger/dagnode/pkg/storage"
)

type fakeWriter struct {
	called  bool
	lastErr error
}

func (f *fakeWriter) HandleJoint(ctx context.Context, j *dag.Joint) error {
	f.called = true
	return f.lastErr
}

func newTestServer(w JointWriter) *Server {
	cfg := &config.Config{Alt: "1", WitnessList: []string{"w1", "w2"}}
	caches := storage.NewCaches(nil, nil)
	balls := func(ctx context.Context, unit string) (string, error) { return "ball-" + unit, nil }
	return New(cfg, w, caches, balls, nil)
}

func TestHandleJointRejectsNonPost(t *testing.T) {
	s := newTestServer(&fakeWriter{})
	req := httptest.NewRequest(http.MethodGet, "/joint", nil)
	rec := httptest.NewRecorder()

	s.HandleJoint(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestHandleJointRejectsInvalidBody(t *testing.T) {
	s := newTestServer(&fakeWriter{})
	req := httptest.NewRequest(http.MethodPost, "/joint", bytes.NewBufferString("not json"))
	rec := httptest.NewRecorder()

	s.HandleJoint(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleJointAcceptsValidJoint(t *testing.T) {
	fw := &fakeWriter{}
	s := newTestServer(fw)

	body, _ := json.Marshal(dag.Joint{Unit: &dag.Unit{UnitHash: "u1"}})
	req := httptest.NewRequest(http.MethodPost, "/joint", bytes.NewBuffer(body))
	rec := httptest.NewRecorder()

	s.HandleJoint(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !fw.called {
		t.Fatal("expected writer.HandleJoint to be called")
	}
}

func TestHandleJointPropagatesWriterError(t *testing.T) {
	fw := &fakeWriter{lastErr: context.DeadlineExceeded}
	s := newTestServer(fw)

	body, _ := json.Marshal(dag.Joint{Unit: &dag.Unit{UnitHash: "u1"}})
	req := httptest.NewRequest(http.MethodPost, "/joint", bytes.NewBuffer(body))
	rec := httptest.NewRecorder()

	s.HandleJoint(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
}

func TestHandleStatusReportsStabilityFrontier(t *testing.T) {
	s := newTestServer(&fakeWriter{})
	s.caches.SetLastStableMCI(42)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()

	s.HandleStatus(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if out["last_stable_mci"].(float64) != 42 {
		t.Fatalf("expected last_stable_mci=42, got %+v", out)
	}
	if out["witness_count"].(float64) != 2 {
		t.Fatalf("expected witness_count=2, got %+v", out)
	}
}

func TestHandleAnchorLedgerRejectsBadMCI(t *testing.T) {
	s := newTestServer(&fakeWriter{})
	req := httptest.NewRequest(http.MethodGet, "/ledger/anchor?mci=notanumber", nil)
	rec := httptest.NewRecorder()

	s.HandleAnchorLedger(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleAnchorLedgerReturnsBallsForStableUnits(t *testing.T) {
	s := newTestServer(&fakeWriter{})
	p := &dag.UnitProps{UnitHash: "u1"}
	s.caches.PutUnstableUnit(p)
	s.caches.MarkStable(p, 5)

	req := httptest.NewRequest(http.MethodGet, "/ledger/anchor?mci=5", nil)
	rec := httptest.NewRecorder()

	s.HandleAnchorLedger(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	balls := out["balls"].(map[string]interface{})
	if balls["u1"] != "ball-u1" {
		t.Fatalf("expected ball-u1, got %+v", balls)
	}
}

func TestHandleAnchorLedgerNotFoundWhenEmpty(t *testing.T) {
	s := newTestServer(&fakeWriter{})
	req := httptest.NewRequest(http.MethodGet, "/ledger/anchor?mci=999", nil)
	rec := httptest.NewRecorder()

	s.HandleAnchorLedger(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
