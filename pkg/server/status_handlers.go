package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// HandleStatus handles GET /status: basic node health — network alt-tag,
// witness-list size, and the stability frontier (spec.md §4.4), generalizing
// the teacher's /health endpoint from service-component status to DAG
// stability bookkeeping.
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	lastStable, err := s.caches.LastStableMCI(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf(`{"error":"failed to load last stable mci: %s"}`, err.Error()), http.StatusInternalServerError)
		return
	}
	minRetrievable, err := s.caches.MinRetrievableMCI(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf(`{"error":"failed to load min retrievable mci: %s"}`, err.Error()), http.StatusInternalServerError)
		return
	}

	status := map[string]interface{}{
		"alt":                 s.cfg.Alt,
		"witness_count":       len(s.cfg.WitnessList),
		"last_stable_mci":     lastStable,
		"min_retrievable_mci": minRetrievable,
		"uptime_seconds":      int64(time.Since(s.startTime).Seconds()),
	}
	json.NewEncoder(w).Encode(status)
}

// HandleSystemLedger handles GET /ledger/system: the units at the last
// stable MCI, the stand-in for the original system ledger's "latest executed
// height" query (spec.md §6), adapted from the teacher's
// GetSystemLedgerLatest accessor to main-chain stability state instead of
// ABCI app-state height.
func (s *Server) HandleSystemLedger(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	mci, err := s.caches.LastStableMCI(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf(`{"error":"failed to load system ledger: %s"}`, err.Error()), http.StatusInternalServerError)
		return
	}

	units, err := s.caches.GetStableUnitsByMCI(r.Context(), mci)
	if err != nil {
		http.Error(w, fmt.Sprintf(`{"error":"failed to load units at mci %d: %s"}`, mci, err.Error()), http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"alt":             s.cfg.Alt,
		"main_chain_index": mci,
		"units":           units,
	})
}

// HandleAnchorLedger handles GET /ledger/anchor?mci=N: the set of units
// stabilized at mci, the checkpoint a syncing peer anchors its hash-tree
// catchup to (pkg/catchup.BuildHashTreeRange). Defaults to the current
// stability frontier when mci is omitted, mirroring the teacher's
// GetAnchorLedger (always-latest) while adding the historical-query option
// the system-ledger handler also supports.
func (s *Server) HandleAnchorLedger(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	mci, err := s.resolveMCI(r)
	if err != nil {
		http.Error(w, fmt.Sprintf(`{"error":"%s"}`, err.Error()), http.StatusBadRequest)
		return
	}

	units, err := s.caches.GetStableUnitsByMCI(r.Context(), mci)
	if err != nil {
		http.Error(w, fmt.Sprintf(`{"error":"failed to load anchor units at mci %d: %s"}`, mci, err.Error()), http.StatusInternalServerError)
		return
	}
	if len(units) == 0 {
		http.Error(w, fmt.Sprintf(`{"error":"no stable units at mci %d"}`, mci), http.StatusNotFound)
		return
	}

	balls := make(map[string]string, len(units))
	for _, u := range units {
		ball, err := s.ballByUnit(r.Context(), u.UnitHash)
		if err != nil {
			http.Error(w, fmt.Sprintf(`{"error":"failed to load ball for %s: %s"}`, u.UnitHash, err.Error()), http.StatusInternalServerError)
			return
		}
		balls[u.UnitHash] = ball
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"main_chain_index": mci,
		"units":           units,
		"balls":           balls,
	})
}

func (s *Server) resolveMCI(r *http.Request) (uint64, error) {
	mciParam := r.URL.Query().Get("mci")
	if mciParam == "" {
		return s.caches.LastStableMCI(r.Context())
	}
	mci, err := strconv.ParseUint(mciParam, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid mci parameter: %w", err)
	}
	return mci, nil
}
