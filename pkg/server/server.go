// Package server exposes the node's minimal HTTP surface: POST /joint for
// submitting a joint, GET /status for node health, GET /ledger/system and
// GET /ledger/anchor for querying main-chain state, and /metrics for
// Prometheus scraping. It stands in for the P2P justsaying/request
// handlers named in spec.md §6 (out of scope per spec.md §1) — the single
// seam through which an external P2P layer would hand joints to the core
// and query stabilization state.
//
// The handler shape generalizes the teacher's pkg/server/ledger_handlers.go:
// a struct holding its collaborators, one method per route, encoding/json
// for request/response bodies and http.Error for status-coded failures.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meshledger/dagnode/pkg/config"
	"github.com/meshledger/dagnode/pkg/dag"
	"github.com/meshledger/dagnode/pkg/storage"
)

// JointWriter is the narrow seam Server needs from the writer — just
// HandleJoint, so tests can substitute a fake without a live database.
type JointWriter interface {
	HandleJoint(ctx context.Context, j *dag.Joint) error
}

// BallLookup resolves the ball stored for a unit, the seam Server needs
// from storage.BallRepository.GetBallByUnit.
type BallLookup func(ctx context.Context, unit string) (string, error)

// Server bundles the node's HTTP handlers over its storage and writer
// collaborators.
type Server struct {
	cfg        *config.Config
	writer     JointWriter
	caches     *storage.Caches
	ballByUnit BallLookup
	metrics    *storage.Metrics

	startTime time.Time
}

// New builds a Server over its collaborators.
func New(cfg *config.Config, w JointWriter, caches *storage.Caches, ballByUnit BallLookup, metrics *storage.Metrics) *Server {
	return &Server{
		cfg:        cfg,
		writer:     w,
		caches:     caches,
		ballByUnit: ballByUnit,
		metrics:    metrics,
		startTime:  time.Now(),
	}
}

// Routes builds the ServeMux the composition root hands to http.Server.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/joint", s.HandleJoint)
	mux.HandleFunc("/status", s.HandleStatus)
	mux.HandleFunc("/ledger/system", s.HandleSystemLedger)
	mux.HandleFunc("/ledger/anchor", s.HandleAnchorLedger)
	if s.metrics != nil && s.metrics.Registry() != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	}
	return mux
}
