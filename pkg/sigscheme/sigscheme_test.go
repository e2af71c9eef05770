package sigscheme

import (
	"crypto/ed25519"
	"testing"

	"github.com/meshledger/dagnode/pkg/crypto/bls"
	"github.com/meshledger/dagnode/pkg/dag"
)

func TestEd25519VerifierRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	message := []byte("unit hash to sign")
	sig := ed25519.Sign(priv, message)

	v := NewEd25519Verifier()
	ok, err := v.Verify(pub, message, sig)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected valid signature to verify")
	}

	ok, err = v.Verify(pub, []byte("different message"), sig)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected mismatched message to fail verification")
	}
}

func TestRegistryDefaultsEmptySchemeToEd25519(t *testing.T) {
	r := NewRegistry()
	v, err := r.Resolve("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Scheme() != dag.SchemeEd25519 {
		t.Fatalf("expected default scheme ed25519, got %s", v.Scheme())
	}
}

func TestRegistryResolveUnknownScheme(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Resolve("rsa"); err == nil {
		t.Fatalf("expected error for unknown scheme")
	}
}

func TestBLS12381VerifierRoundTrip(t *testing.T) {
	priv, pub, err := bls.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	message := []byte("unit hash to sign")
	sig := priv.SignWithDomain(message, bls.DomainUnitSig)

	v := NewBLS12381Verifier()
	ok, err := v.Verify(pub.Bytes(), message, sig.Bytes())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected valid BLS signature to verify")
	}
}
