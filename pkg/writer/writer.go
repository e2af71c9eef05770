// Package writer serializes every mutation of DAG state behind a single
// global write lock and drives one unit's full commit: structural/author
// validation, main-chain recomputation, persistence, and pre-commit hooks
// (cmd/dagnode registers AA execution there). Fee bookkeeping runs outside
// the writer, after Stabilize. The lock discipline generalizes the teacher's
// pkg/batch collector, which takes its own mutex at the top of every
// exported method and releases it via defer on every return path so a
// panic or early return can never leave the batch wedged; here the same
// acquire-then-deferred-release shape protects the entire DAG instead of
// one in-memory batch.
package writer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/meshledger/dagnode/pkg/config"
	"github.com/meshledger/dagnode/pkg/dag"
	"github.com/meshledger/dagnode/pkg/mainchain"
	"github.com/meshledger/dagnode/pkg/storage"
	"github.com/meshledger/dagnode/pkg/validation"
)

// PreCommitHook runs inside the commit transaction after rows are inserted
// but before it commits, for callers (AA execution) that need to append
// more writes to the same atomic unit.
type PreCommitHook func(ctx context.Context, tx *storage.Tx, u *dag.Unit) error

// PostCommitHook runs after the transaction and the KV batch write both
// succeed, for work that must see the committed unit but doesn't need to
// share its transaction. cmd/dagnode registers none.
type PostCommitHook func(ctx context.Context, u *dag.Unit)

// Writer owns the single global write lock guarding every DAG mutation
// (spec.md §5: "the Writer owns inserts"). Only one HandleJoint call is
// ever inside its critical section at a time; everything else — read-only
// queries, network I/O — proceeds concurrently.
type Writer struct {
	mu sync.Mutex

	cfg   *config.Config
	units *storage.UnitRepository
	msgs  *storage.OutputRepository
	balls *storage.BallRepository
	fees  *storage.FeeRepository
	arch  *storage.ArchiveRepository
	joints *storage.JointStore
	caches *storage.Caches
	client *storage.Client
	engine *mainchain.Engine
	stabilizer *mainchain.Stabilizer
	pipeline *validation.Pipeline
	metrics *storage.Metrics

	preCommit  []PreCommitHook
	postCommit []PostCommitHook
}

// Deps bundles everything the writer composes; cmd/dagnode builds one of
// these from the storage/mainchain/validation constructors and hands it to
// New.
type Deps struct {
	Config     *config.Config
	Client     *storage.Client
	Units      *storage.UnitRepository
	Outputs    *storage.OutputRepository
	Balls      *storage.BallRepository
	Fees       *storage.FeeRepository
	Archive    *storage.ArchiveRepository
	Joints     *storage.JointStore
	Caches     *storage.Caches
	Engine     *mainchain.Engine
	Stabilizer *mainchain.Stabilizer
	Pipeline   *validation.Pipeline
	Metrics    *storage.Metrics
}

// New builds a Writer from deps.
func New(deps Deps) *Writer {
	return &Writer{
		cfg:        deps.Config,
		client:     deps.Client,
		units:      deps.Units,
		msgs:       deps.Outputs,
		balls:      deps.Balls,
		fees:       deps.Fees,
		arch:       deps.Archive,
		joints:     deps.Joints,
		caches:     deps.Caches,
		engine:     deps.Engine,
		stabilizer: deps.Stabilizer,
		pipeline:   deps.Pipeline,
		metrics:    deps.Metrics,
	}
}

// AddPreCommitHook registers h to run inside every future commit
// transaction, after unit rows are inserted but before commit.
func (w *Writer) AddPreCommitHook(h PreCommitHook) { w.preCommit = append(w.preCommit, h) }

// AddPostCommitHook registers h to run after every future committed unit.
func (w *Writer) AddPostCommitHook(h PostCommitHook) { w.postCommit = append(w.postCommit, h) }

// HandleJoint validates and commits j under the global write lock. It
// always releases the lock before returning, including on panic recovery
// paths one layer up — the lock is acquired first and its release deferred
// immediately, so no code path added later can forget to unlock.
func (w *Writer) HandleJoint(ctx context.Context, j *dag.Joint) error {
	w.mu.Lock()
	start := time.Now()
	defer func() {
		w.metrics.ObserveWriteLockHoldSeconds(time.Since(start).Seconds())
		w.mu.Unlock()
	}()

	return w.handleJointLocked(ctx, j)
}

func (w *Writer) handleJointLocked(ctx context.Context, j *dag.Joint) error {
	u := j.Unit
	if err := w.pipeline.Validate(ctx, u); err != nil {
		return fmt.Errorf("writer: validate %s: %w", u.UnitHash, err)
	}

	preUpgrade := true
	if u.MainChainIndex != nil {
		preUpgrade = mainchain.IsPreUpgrade(*u.MainChainIndex, w.cfg.V4UpgradeMCI)
	}
	bestParent, err := w.engine.BestParent(ctx, u.ParentUnits, u.Witnesses, preUpgrade)
	if err != nil {
		return fmt.Errorf("writer: best parent for %s: %w", u.UnitHash, err)
	}
	level, err := w.engine.Level(ctx, u.ParentUnits)
	if err != nil {
		return fmt.Errorf("writer: level for %s: %w", u.UnitHash, err)
	}
	witnessedLevel, err := w.engine.WitnessedLevel(ctx, bestParent)
	if err != nil {
		return fmt.Errorf("writer: witnessed level for %s: %w", u.UnitHash, err)
	}
	u.BestParentUnit = bestParent
	u.Level = level
	u.WitnessedLevel = witnessedLevel

	props := &dag.UnitProps{
		UnitHash:        u.UnitHash,
		Level:           u.Level,
		WitnessedLevel:  u.WitnessedLevel,
		BestParentUnit:  u.BestParentUnit,
		WitnessListUnit: u.WitnessListUnit,
		LastBallUnit:    u.LastBallUnit,
		ParentUnits:     u.ParentUnits,
		Sequence:        "good",
		Timestamp:       u.Timestamp,
	}
	for _, a := range u.Authors {
		props.Authors = append(props.Authors, a.Address)
	}

	tx, err := w.client.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("writer: begin tx for %s: %w", u.UnitHash, err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	if err := w.units.InsertUnit(ctx, tx, u); err != nil {
		return fmt.Errorf("writer: insert unit %s: %w", u.UnitHash, err)
	}
	if err := w.insertMessages(ctx, tx, u); err != nil {
		return fmt.Errorf("writer: insert messages for %s: %w", u.UnitHash, err)
	}

	mcAssignments, err := w.engine.AdvanceMainChain(ctx, props)
	if err != nil {
		return fmt.Errorf("writer: advance main chain from %s: %w", u.UnitHash, err)
	}
	for _, a := range mcAssignments {
		if err := w.units.SetMainChainIndex(ctx, tx, a.Unit, a.MCI); err != nil {
			return fmt.Errorf("writer: persist main chain index for %s: %w", a.Unit, err)
		}
	}

	limciInput := append(append([]*dag.UnitProps(nil), w.caches.ListUnstableUnits()...), props)
	withAssignments := applyMCIAssignments(limciInput, mcAssignments)
	limciResults, err := w.engine.ReconstructMainChain(ctx, withAssignments)
	if err != nil {
		return fmt.Errorf("writer: reconstruct main chain for %s: %w", u.UnitHash, err)
	}
	for _, res := range limciResults {
		if err := w.units.SetLatestIncludedMCI(ctx, tx, res.Unit, res.LIMCI); err != nil {
			return fmt.Errorf("writer: persist limci for %s: %w", res.Unit, err)
		}
	}

	for _, hook := range w.preCommit {
		if err := hook(ctx, tx, u); err != nil {
			return fmt.Errorf("writer: pre-commit hook for %s: %w", u.UnitHash, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("writer: commit %s: %w", u.UnitHash, err)
	}
	committed = true

	if err := w.joints.PutJoint(j); err != nil {
		return fmt.Errorf("writer: persist joint blob for %s: %w", u.UnitHash, err)
	}

	w.caches.PutUnstableUnit(props)
	w.caches.AddBestChild(bestParent, u.UnitHash)

	for _, a := range mcAssignments {
		if p, err := w.caches.GetUnitProps(ctx, a.Unit); err == nil {
			mci := a.MCI
			p.IsOnMainChain = true
			p.MainChainIndex = &mci
		}
	}
	for _, res := range limciResults {
		if p, err := w.caches.GetUnitProps(ctx, res.Unit); err == nil {
			p.LatestIncludedMCI = res.LIMCI
		}
	}

	for _, hook := range w.postCommit {
		hook(ctx, u)
	}
	return nil
}

// applyMCIAssignments returns a shallow copy of units with mcAssignments
// overlaid onto matching entries, so ReconstructMainChain's LIMCI walk sees
// the main-chain placement the current commit just computed rather than
// each unit's stale pre-commit snapshot.
func applyMCIAssignments(units []*dag.UnitProps, mcAssignments []mainchain.MCIAssignment) []*dag.UnitProps {
	if len(mcAssignments) == 0 {
		return units
	}
	byUnit := make(map[string]uint64, len(mcAssignments))
	for _, a := range mcAssignments {
		byUnit[a.Unit] = a.MCI
	}
	out := make([]*dag.UnitProps, len(units))
	for i, p := range units {
		mci, ok := byUnit[p.UnitHash]
		if !ok {
			out[i] = p
			continue
		}
		cp := *p
		cp.IsOnMainChain = true
		cp.MainChainIndex = &mci
		out[i] = &cp
	}
	return out
}

func (w *Writer) insertMessages(ctx context.Context, tx *storage.Tx, u *dag.Unit) error {
	for i, msg := range u.Messages {
		payload, err := marshalPayload(msg.Payload)
		if err != nil {
			return err
		}
		if err := w.msgs.InsertMessage(ctx, tx, u.UnitHash, i, msg.App, payload); err != nil {
			return err
		}
		if msg.App != dag.AppPayment {
			continue
		}
		pp, err := decodePayment(msg.Payload)
		if err != nil {
			return err
		}
		for ii, in := range pp.Inputs {
			if err := w.msgs.InsertInput(ctx, tx, u.UnitHash, i, ii, in); err != nil {
				return err
			}
		}
		for oi, out := range pp.Outputs {
			out.UnitHash = u.UnitHash
			out.MsgIndex = i
			out.OutIndex = oi
			if err := w.msgs.InsertOutput(ctx, tx, out); err != nil {
				return err
			}
		}
	}
	return nil
}

// Stabilize advances the stability point to mci, committing the main-chain
// engine's StabilizationPlan atomically (UPDATE units + INSERT balls in one
// transaction, per spec.md §4.4 f). Fee accounting for the newly-stable
// main-chain unit is not a writer hook — cmd/dagnode runs it after
// Stabilize returns, in its own transaction, given only the main-chain unit
// and its MCI.
func (w *Writer) Stabilize(ctx context.Context, plan *mainchain.StabilizationPlan) error {
	w.mu.Lock()
	start := time.Now()
	defer func() {
		w.metrics.ObserveWriteLockHoldSeconds(time.Since(start).Seconds())
		w.mu.Unlock()
	}()

	tx, err := w.client.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("writer: begin stabilization tx for mci %d: %w", plan.MCI, err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	for _, ub := range plan.Units {
		sequence := "good"
		if ub.Ball.IsNonserial {
			sequence = "final-bad"
		}
		if err := w.units.MarkStable(ctx, tx, ub.Unit, plan.MCI, sequence); err != nil {
			return fmt.Errorf("writer: mark stable %s: %w", ub.Unit, err)
		}
		if err := w.balls.InsertBall(ctx, tx, ub.Ball); err != nil {
			return fmt.Errorf("writer: insert ball for %s: %w", ub.Unit, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("writer: commit stabilization for mci %d: %w", plan.MCI, err)
	}
	committed = true

	w.metrics.ObserveStabilizationDepth(len(plan.Units))
	w.caches.SetLastStableMCI(plan.MCI)
	for _, ub := range plan.Units {
		if p, err := w.caches.GetUnitProps(ctx, ub.Unit); err == nil {
			w.caches.MarkStable(p, plan.MCI)
		}
		w.caches.EvictStabilized(ub.Unit)
	}
	return nil
}
