package sigscheme

import (
	"crypto/ed25519"
	"fmt"

	"github.com/meshledger/dagnode/pkg/dag"
)

// Ed25519Verifier is the default sig-leaf scheme: no scheme tag at all
// resolves here (dag.SchemeEd25519).
type Ed25519Verifier struct{}

// NewEd25519Verifier returns a stateless Ed25519 Verifier.
func NewEd25519Verifier() *Ed25519Verifier { return &Ed25519Verifier{} }

func (Ed25519Verifier) Scheme() dag.SigScheme { return dag.SchemeEd25519 }

func (Ed25519Verifier) Verify(pubKey, message, sig []byte) (bool, error) {
	if len(pubKey) != ed25519.PublicKeySize {
		return false, fmt.Errorf("sigscheme/ed25519: invalid public key size %d", len(pubKey))
	}
	if len(sig) != ed25519.SignatureSize {
		return false, fmt.Errorf("sigscheme/ed25519: invalid signature size %d", len(sig))
	}
	return ed25519.Verify(pubKey, message, sig), nil
}
