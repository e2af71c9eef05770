package sigscheme

import (
	"crypto/sha256"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/meshledger/dagnode/pkg/dag"
)

// Secp256k1Verifier backs sig leaves tagged dag.SchemeSecp256k1, for
// authors who reuse an existing ECDSA/secp256k1 key instead of minting a
// ledger-native Ed25519 one.
type Secp256k1Verifier struct{}

// NewSecp256k1Verifier returns a stateless secp256k1 Verifier.
func NewSecp256k1Verifier() *Secp256k1Verifier { return &Secp256k1Verifier{} }

func (Secp256k1Verifier) Scheme() dag.SigScheme { return dag.SchemeSecp256k1 }

// Verify checks a compact (R||S, 64-byte) ECDSA signature. message is
// hashed to 32 bytes first when it isn't already a digest, since
// go-ethereum's VerifySignature operates on a fixed-size digest.
func (Secp256k1Verifier) Verify(pubKey, message, sig []byte) (bool, error) {
	if len(pubKey) != 33 && len(pubKey) != 65 {
		return false, fmt.Errorf("sigscheme/secp256k1: invalid public key size %d", len(pubKey))
	}
	digest := message
	if len(digest) != 32 {
		h := sha256.Sum256(message)
		digest = h[:]
	}
	switch len(sig) {
	case 64:
		// already R||S
	case 65:
		sig = sig[:64] // drop recovery id, VerifySignature doesn't want it
	default:
		return false, fmt.Errorf("sigscheme/secp256k1: invalid signature size %d", len(sig))
	}
	return ethcrypto.VerifySignature(pubKey, digest, sig), nil
}
