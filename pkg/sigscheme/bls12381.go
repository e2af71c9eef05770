package sigscheme

import (
	"fmt"

	"github.com/meshledger/dagnode/pkg/crypto/bls"
	"github.com/meshledger/dagnode/pkg/dag"
)

// BLS12381Verifier backs sig leaves tagged dag.SchemeBLS12381. It is the
// only scheme that also implements AggregateVerifier, which checks one
// aggregate signature against several public keys; the address evaluator
// does not use that path and verifies each bls12-381 sig leaf separately.
type BLS12381Verifier struct{}

// NewBLS12381Verifier returns a stateless BLS12-381 Verifier. bls.Initialize
// is idempotent and cheap (sync.Once over the curve generators), so it is
// called lazily on first use rather than in a package init.
func NewBLS12381Verifier() *BLS12381Verifier { return &BLS12381Verifier{} }

func (BLS12381Verifier) Scheme() dag.SigScheme { return dag.SchemeBLS12381 }

func (BLS12381Verifier) Verify(pubKey, message, sig []byte) (bool, error) {
	if err := bls.Initialize(); err != nil {
		return false, fmt.Errorf("sigscheme/bls12-381: %w", err)
	}
	pk, err := bls.PublicKeyFromBytes(pubKey)
	if err != nil {
		return false, fmt.Errorf("sigscheme/bls12-381: parse public key: %w", err)
	}
	s, err := bls.SignatureFromBytes(sig)
	if err != nil {
		return false, fmt.Errorf("sigscheme/bls12-381: parse signature: %w", err)
	}
	return pk.VerifyWithDomain(s, message, bls.DomainUnitSig), nil
}

// VerifyAggregate verifies a single aggregate signature against every
// public key named by a weighted-and/r-of-set branch's sub-leaves.
func (BLS12381Verifier) VerifyAggregate(pubKeys [][]byte, message []byte, aggSig []byte) (bool, error) {
	if err := bls.Initialize(); err != nil {
		return false, fmt.Errorf("sigscheme/bls12-381: %w", err)
	}
	parsed := make([]*bls.PublicKey, len(pubKeys))
	for i, raw := range pubKeys {
		pk, err := bls.PublicKeyFromBytes(raw)
		if err != nil {
			return false, fmt.Errorf("sigscheme/bls12-381: parse public key %d: %w", i, err)
		}
		parsed[i] = pk
	}
	s, err := bls.SignatureFromBytes(aggSig)
	if err != nil {
		return false, fmt.Errorf("sigscheme/bls12-381: parse aggregate signature: %w", err)
	}
	return bls.VerifyAggregateSignatureWithDomain(s, parsed, message, bls.DomainUnitSig), nil
}
