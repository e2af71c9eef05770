// Package sigscheme implements pluggable verification of the authentifier
// signatures backing a `sig` definition leaf. It generalizes the teacher's
// multi-scheme attestation strategy interface (one implementation per
// cryptographic algorithm, selected by a scheme tag) from validator
// attestations to unit-author signatures: the address tree names a scheme
// per sig leaf, and pkg/address dispatches verification through the
// Verifier this package resolves for that scheme.
package sigscheme

import (
	"fmt"

	"github.com/meshledger/dagnode/pkg/dag"
)

// Verifier verifies a single signature under one cryptographic scheme.
// Implementations must be safe for concurrent use; the same Verifier is
// shared across every sig leaf of that scheme evaluated by the node.
type Verifier interface {
	Scheme() dag.SigScheme
	// Verify reports whether sig authenticates message under pubKey. It
	// never returns an error for an invalid signature — only for a
	// malformed key or signature encoding the scheme cannot parse.
	Verify(pubKey, message, sig []byte) (bool, error)
}

// AggregateVerifier is implemented by schemes that can verify one
// signature against several public keys at once (bls12-381). pkg/address
// does not call it: every sig leaf, including those under weighted-and and
// r-of-set branches, is checked on its own through Verifier.Verify.
type AggregateVerifier interface {
	Verifier
	VerifyAggregate(pubKeys [][]byte, message []byte, aggSig []byte) (bool, error)
}

// ErrUnknownScheme is returned by Resolve for a scheme tag no registered
// Verifier claims.
type ErrUnknownScheme dag.SigScheme

func (e ErrUnknownScheme) Error() string {
	return fmt.Sprintf("sigscheme: unknown scheme %q", dag.SigScheme(e))
}

// Registry resolves a dag.SigScheme to the Verifier that handles it. The
// zero value is empty; use NewRegistry for the default set of node-wide
// schemes.
type Registry struct {
	verifiers map[dag.SigScheme]Verifier
}

// NewRegistry builds a Registry preloaded with Ed25519, Secp256k1 and
// BLS12-381, the three schemes an address definition's sig leaf may name
// (dag.SchemeEd25519 is the default when a leaf omits Scheme).
func NewRegistry() *Registry {
	r := &Registry{verifiers: make(map[dag.SigScheme]Verifier, 3)}
	r.Register(NewEd25519Verifier())
	r.Register(NewSecp256k1Verifier())
	r.Register(NewBLS12381Verifier())
	return r
}

// Register adds or replaces the Verifier for its own Scheme().
func (r *Registry) Register(v Verifier) {
	if r.verifiers == nil {
		r.verifiers = make(map[dag.SigScheme]Verifier)
	}
	r.verifiers[v.Scheme()] = v
}

// Resolve returns the Verifier registered for scheme, defaulting empty to
// dag.SchemeEd25519 (definition.go leaves this field unset for ordinary
// single-signature addresses).
func (r *Registry) Resolve(scheme dag.SigScheme) (Verifier, error) {
	if scheme == "" {
		scheme = dag.SchemeEd25519
	}
	v, ok := r.verifiers[scheme]
	if !ok {
		return nil, ErrUnknownScheme(scheme)
	}
	return v, nil
}
