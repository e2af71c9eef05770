package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/meshledger/dagnode/pkg/dag"
)

// HandleJoint handles POST /joint: decode the submitted joint, hand it to
// the writer, and report validation/commit failure as a 4xx the caller can
// act on rather than a bare 500. Every submission gets a request ID the
// caller can quote back for support/log correlation, the same role
// uuid.New() plays for the teacher's own proof/bundle submission handlers.
func (s *Server) HandleJoint(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	requestID := uuid.New().String()

	if r.Method != http.MethodPost {
		http.Error(w, fmt.Sprintf(`{"error":"method not allowed","request_id":"%s"}`, requestID), http.StatusMethodNotAllowed)
		return
	}

	var j dag.Joint
	if err := json.NewDecoder(r.Body).Decode(&j); err != nil {
		http.Error(w, fmt.Sprintf(`{"error":"invalid joint payload: %s","request_id":"%s"}`, err.Error(), requestID), http.StatusBadRequest)
		return
	}
	if j.Unit == nil {
		http.Error(w, fmt.Sprintf(`{"error":"joint has no unit","request_id":"%s"}`, requestID), http.StatusBadRequest)
		return
	}

	if err := s.writer.HandleJoint(r.Context(), &j); err != nil {
		http.Error(w, fmt.Sprintf(`{"error":"%s","request_id":"%s"}`, err.Error(), requestID), http.StatusUnprocessableEntity)
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"unit": j.Unit.UnitHash, "status": "accepted", "request_id": requestID})
}
