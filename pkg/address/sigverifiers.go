package address

import (
	"fmt"

	"github.com/meshledger/dagnode/pkg/dag"
	"github.com/meshledger/dagnode/pkg/sigscheme"
)

// SigVerifiers wraps a sigscheme.Registry for the sig leaf's narrower
// need: verify one signature, already base64-decoded by the evaluator, under one scheme, against
// whatever message the Context says to check.
type SigVerifiers struct {
	registry *sigscheme.Registry
}

// NewSigVerifiers returns a SigVerifiers backed by the default
// Ed25519/Secp256k1/BLS12-381 registry.
func NewSigVerifiers() *SigVerifiers {
	return &SigVerifiers{registry: sigscheme.NewRegistry()}
}

// NewSigVerifiersWithRegistry lets a caller supply a pre-built registry
// (e.g. with a mock scheme swapped in for tests).
func NewSigVerifiersWithRegistry(r *sigscheme.Registry) *SigVerifiers {
	return &SigVerifiers{registry: r}
}

// Verify checks sig against message under scheme for pubKey, all given as
// their wire-format byte slices (the caller has already hex/base64-decoded
// them out of the definition leaf and authentifier).
func (s *SigVerifiers) Verify(scheme dag.SigScheme, pubKey, message, sig []byte) (bool, error) {
	v, err := s.registry.Resolve(scheme)
	if err != nil {
		return false, fmt.Errorf("address: resolve sig scheme: %w", err)
	}
	return v.Verify(pubKey, message, sig)
}
