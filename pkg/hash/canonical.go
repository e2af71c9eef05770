// Package hash implements C1: canonical serialization and hashing of units,
// balls, and signed off-chain packages. It is grounded on the teacher
// repository's pkg/commitment (RFC-8785-flavored deterministic JSON),
// generalized from hex-encoded commitment hashes to the spec's 44-char
// base64 SHA-256 unit/ball hashes.
package hash

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/meshledger/dagnode/pkg/dag"
)

// Length is the fixed size of a base64-encoded SHA-256 digest (spec.md §6,
// HASH_LENGTH=PUBKEY_LENGTH=44).
const Length = 44

// sum256Base64 hashes data with SHA-256 and returns the 44-char base64
// encoding used throughout the wire format.
func sum256Base64(data []byte) string {
	sum := sha256.Sum256(data)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// canonicalize recursively sorts JSON object keys so two semantically
// identical structures always serialize to the same bytes, independent of
// map iteration or struct field order. Arrays keep their given order, which
// is significant for units (parent_units, authors, messages are ordered)
// and intentional for balls, whose parent/skiplist ball lists the caller
// must sort before calling Ball (see Ball below).
func canonicalize(raw []byte) ([]byte, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	return json.Marshal(canonicalizeValue(v))
}

func canonicalizeValue(v interface{}) interface{} {
	switch vv := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(vv))
		for k := range vv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ordered := make(map[string]interface{}, len(vv))
		for _, k := range keys {
			ordered[k] = canonicalizeValue(vv[k])
		}
		return ordered
	case []interface{}:
		out := make([]interface{}, len(vv))
		for i, e := range vv {
			out[i] = canonicalizeValue(e)
		}
		return out
	default:
		return vv
	}
}

// MarshalCanonical JSON-encodes v with sorted object keys.
func MarshalCanonical(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	return canonicalize(raw)
}

// unitForHashing is the subset+shape of a unit that participates in the
// signing/identity hash. authorsView strips authentifiers (always) and,
// for the identity hash, definitions are kept only when the author is
// defining/changing one (same field either way here: the caller decides
// which authors slice to pass).
type unitForHashing struct {
	Version           dag.Version `json:"version"`
	Alt               string      `json:"alt"`
	ParentUnits       []string    `json:"parent_units"`
	LastBallUnit      string      `json:"last_ball_unit,omitempty"`
	LastBall          string      `json:"last_ball,omitempty"`
	WitnessListUnit   string      `json:"witness_list_unit,omitempty"`
	Witnesses         []string    `json:"witnesses,omitempty"`
	Authors           []authorForHashing `json:"authors"`
	Messages          []dag.Message `json:"messages"`
	HeadersCommission uint64      `json:"headers_commission"`
	PayloadCommission uint64      `json:"payload_commission"`
	TPSFee            uint64      `json:"tps_fee"`
	BurnFee           uint64      `json:"burn_fee,omitempty"`
	OversizeFee       uint64      `json:"oversize_fee,omitempty"`
	Timestamp         int64       `json:"timestamp"`
	ContentHash       string      `json:"content_hash,omitempty"`
}

type authorForHashing struct {
	Address    string                 `json:"address"`
	Definition *dag.DefinitionNode    `json:"definition,omitempty"`
}

// stripAuthentifiers builds the hash-view author list: address + definition
// only, authentifiers always removed. It deep-clones so the caller's unit
// is never mutated (spec.md §4.1 deep-clone invariant).
func stripAuthentifiers(authors []dag.Author) []authorForHashing {
	out := make([]authorForHashing, len(authors))
	for i, a := range authors {
		var def *dag.DefinitionNode
		if a.Definition != nil {
			cloned := DeepCloneDefinition(a.Definition)
			def = cloned
		}
		out[i] = authorForHashing{Address: a.Address, Definition: def}
	}
	return out
}

func viewForHash(u *dag.Unit) unitForHashing {
	return unitForHashing{
		Version:           u.Version,
		Alt:               u.Alt,
		ParentUnits:       append([]string(nil), u.ParentUnits...),
		LastBallUnit:      u.LastBallUnit,
		LastBall:          u.LastBall,
		WitnessListUnit:   u.WitnessListUnit,
		Witnesses:         append([]string(nil), u.Witnesses...),
		Authors:           stripAuthentifiers(u.Authors),
		Messages:          DeepCloneMessages(u.Messages),
		HeadersCommission: u.HeadersCommission,
		PayloadCommission: u.PayloadCommission,
		TPSFee:            u.TPSFee,
		BurnFee:           u.BurnFee,
		OversizeFee:       u.OversizeFee,
		Timestamp:         u.Timestamp,
		ContentHash:       u.ContentHash,
	}
}

// UnitHash computes H(canonical(U)) with authentifiers stripped from every
// author and, when the unit has been voided, content_hash substituted for
// the message body (spec.md §4.1 unit_hash, invariant 1).
func UnitHash(u *dag.Unit) (string, error) {
	view := viewForHash(u)
	if u.ContentHash != "" {
		view.Messages = nil // voided: content_hash stands in for the payload
	}
	b, err := MarshalCanonical(view)
	if err != nil {
		return "", fmt.Errorf("unit hash: %w", err)
	}
	return sum256Base64(b), nil
}

// UnitHashToSign computes the hash every author path signs over: identical
// to UnitHash but never substitutes content_hash, since a voided unit can
// no longer be signed (spec.md §4.1 unit_hash_to_sign).
func UnitHashToSign(u *dag.Unit) (string, error) {
	view := viewForHash(u)
	b, err := MarshalCanonical(view)
	if err != nil {
		return "", fmt.Errorf("unit hash to sign: %w", err)
	}
	return sum256Base64(b), nil
}

// ballView is the structure hashed to produce a ball commitment. Field
// order is fixed by the struct tags; Parent/Skiplist slices must already be
// sorted by the caller — Ball sorts defensively anyway so the result never
// depends on insertion order (spec.md §4.1 P-ball).
type ballView struct {
	Unit          string   `json:"unit"`
	ParentBalls   []string `json:"parent_balls"`
	SkiplistBalls []string `json:"skiplist_balls"`
	IsNonserial   bool     `json:"is_nonserial"`
}

// Ball computes H(unit_hash, sorted(parent_balls), sorted(skiplist_balls),
// is_nonserial) (spec.md §3 "Ball", §4.1 ball(), property P-ball). Balls
// only exist for stable units.
func Ball(unitHash string, parentBalls, skiplistBalls []string, isNonserial bool) (string, error) {
	pb := append([]string(nil), parentBalls...)
	sb := append([]string(nil), skiplistBalls...)
	sort.Strings(pb)
	sort.Strings(sb)
	if pb == nil {
		pb = []string{}
	}
	if sb == nil {
		sb = []string{}
	}
	b, err := MarshalCanonical(ballView{Unit: unitHash, ParentBalls: pb, SkiplistBalls: sb, IsNonserial: isNonserial})
	if err != nil {
		return "", fmt.Errorf("ball hash: %w", err)
	}
	return sum256Base64(b), nil
}

// SignedPackage is the `{signed_message, authors, last_ball_unit?,
// timestamp?, version?}` off-chain signed object (spec.md §4.1, §6).
// Version and an implicit network tag MUST be present; P-signed-version
// rejects packages missing Version.
type SignedPackage struct {
	SignedMessage json.RawMessage    `json:"signed_message"`
	Authors       []dag.Author       `json:"authors"`
	LastBallUnit  string             `json:"last_ball_unit,omitempty"`
	Timestamp     *int64             `json:"timestamp,omitempty"`
	Version       string             `json:"version"`
	Alt           string             `json:"alt"`
}

// SignedPackageHash computes the canonical hash of a signed package with
// authentifiers removed from every author (spec.md §4.1
// signed_package_hash).
func SignedPackageHash(p *SignedPackage) (string, error) {
	if p.Version == "" {
		return "", fmt.Errorf("%w: missing version", ErrMissingVersion)
	}
	// Re-marshal through a plain struct (not SignedPackage) so the
	// authors field carries the stripped authorForHashing shape.
	view := struct {
		SignedMessage json.RawMessage    `json:"signed_message"`
		Authors       []authorForHashing `json:"authors"`
		LastBallUnit  string             `json:"last_ball_unit,omitempty"`
		Timestamp     *int64             `json:"timestamp,omitempty"`
		Version       string             `json:"version"`
		Alt           string             `json:"alt"`
	}{
		SignedMessage: p.SignedMessage,
		Authors:       stripAuthentifiers(p.Authors),
		LastBallUnit:  p.LastBallUnit,
		Timestamp:     p.Timestamp,
		Version:       p.Version,
		Alt:           p.Alt,
	}
	b, err := MarshalCanonical(view)
	if err != nil {
		return "", fmt.Errorf("signed package hash: %w", err)
	}
	return sum256Base64(b), nil
}
