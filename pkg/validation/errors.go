// Package validation implements the nine-stage unit validation pipeline
// (spec.md §4.3): structural checks, hash/version/alt, payload size,
// duplicate detection, parent/witness checks, author signature
// verification, fee checks and per-app message validation.
package validation

import "fmt"

// ErrorKind classifies a validation failure so the writer and network
// layer know how to react — never collapsed into a single generic error,
// since "reject forever" and "try again later" require opposite handling.
type ErrorKind string

const (
	// KindUnitError is a permanent rejection: the unit itself is malformed
	// or violates a protocol rule no retry can fix.
	KindUnitError ErrorKind = "unit_error"

	// KindJointError is a permanent rejection attributable to peer
	// misbehavior (e.g. a forged ball), distinct from an author's own
	// mistake.
	KindJointError ErrorKind = "joint_error"

	// KindTransientError means the failure may clear on retry (e.g. a DB
	// timeout); the caller should not blacklist the unit.
	KindTransientError ErrorKind = "transient_error"

	// KindUnresolvedDependency means validation cannot proceed until a
	// parent arrives or last_ball_unit becomes stable (stage 5). The
	// pipeline only returns it; nothing in the node parks the joint, though
	// pkg/storage.ArchiveRepository.ParkUnhandledJoint can store one with
	// its dependency list.
	KindUnresolvedDependency ErrorKind = "unresolved_dependency"

	// KindNeedHashTree means the node has fallen far enough behind that it
	// must switch to catchup (pkg/catchup) instead of unit-by-unit
	// validation.
	KindNeedHashTree ErrorKind = "need_hash_tree"

	// KindInvalidJoint means a peer sent a last_ball that doesn't match the
	// cryptographically recomputed ball for last_ball_unit.
	KindInvalidJoint ErrorKind = "invalid_joint"
)

// Error is the validation pipeline's error type. Stage records which of
// the nine stages produced it, for logging and metrics.
type Error struct {
	Kind  ErrorKind
	Stage int
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("validation stage %d (%s): %s: %v", e.Stage, e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("validation stage %d (%s): %s", e.Stage, e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind ErrorKind, stage int, msg string, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Msg: msg, Err: err}
}
