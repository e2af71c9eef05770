package address

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/meshledger/dagnode/pkg/dag"
)

func newCtx(authHexPath, authB64 string, message []byte) *Context {
	return &Context{
		Authentifiers: map[string]string{authHexPath: authB64},
		MessageToSign: message,
		Sigs:          NewSigVerifiers(),
		Feeds:         func(string, string, uint64) (string, bool) { return "", false },
		Merkle:        func(string, string) bool { return false },
		Resolve:       func(addr string) (*dag.DefinitionNode, error) { return nil, nil },
		Outputs:       func(string, string) []uint64 { return nil },
		OriginMCI:     func(string) (uint64, bool) { return 0, false },
	}
}

func TestEvaluateSigLeaf(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	message := []byte("unit hash to sign")
	sig := ed25519.Sign(priv, message)

	node := &dag.DefinitionNode{Op: dag.OpSig, PubKey: base64.StdEncoding.EncodeToString(pub)}
	ctx := newCtx("r", base64.StdEncoding.EncodeToString(sig), message)

	ok, err := Evaluate(node, "r", ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected valid signature to satisfy definition")
	}
	if ctx.Complexity != 1 {
		t.Fatalf("expected complexity 1, got %d", ctx.Complexity)
	}
}

func TestEvaluateOrEvaluatesBothBranchesForComplexity(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	message := []byte("msg")
	sig := ed25519.Sign(priv, message)

	otherPub, _, _ := ed25519.GenerateKey(nil)

	node := &dag.DefinitionNode{
		Op: dag.OpOr,
		Subs: []*dag.DefinitionNode{
			{Op: dag.OpSig, PubKey: base64.StdEncoding.EncodeToString(pub)},
			{Op: dag.OpSig, PubKey: base64.StdEncoding.EncodeToString(otherPub)},
		},
	}
	ctx := newCtx("r.0", base64.StdEncoding.EncodeToString(sig), message)

	ok, err := Evaluate(node, "r", ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected or() to be satisfied by the first branch")
	}
	// root + two sig leaves
	if ctx.Complexity != 3 {
		t.Fatalf("expected both branches to be evaluated for complexity, got %d", ctx.Complexity)
	}
}

func TestEvaluateRejectsExcessComplexity(t *testing.T) {
	subs := make([]*dag.DefinitionNode, dag.MaxComplexity)
	for i := range subs {
		subs[i] = &dag.DefinitionNode{Op: dag.OpSig, PubKey: "x"}
	}
	node := &dag.DefinitionNode{Op: dag.OpAnd, Subs: subs}
	// No authentifier under any leaf's path: each sig leaf is unsatisfied
	// without an error, so only the complexity limit (root + 100 leaves) can fail.
	ctx := newCtx("unused", "", []byte("m"))

	if _, err := Evaluate(node, "r", ctx); !errors.Is(err, dag.ErrComplexityExceeded) {
		t.Fatalf("expected complexity-exceeded error, got %v", err)
	}
}

func TestEvaluateNotInvertsSub(t *testing.T) {
	node := &dag.DefinitionNode{Op: dag.OpNot, Sub: &dag.DefinitionNode{Op: dag.OpSig, PubKey: "x"}}
	ctx := newCtx("unused", "", []byte("m"))

	ok, err := Evaluate(node, "r", ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected not() of an unsatisfied sig to be true")
	}
}
