package whiteflag

import (
	"sync"
	"time"

	"github.com/iotaledger/hive.go/ierrors"
	"github.com/iotaledger/hive.go/runtime/event"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"tangle-core/dag"
	"tangle-core/ledger"
	"tangle-core/logger"
	"tangle-core/milestone"
	"tangle-core/models"
)

// State is the phase of the current or last confirmation round.
type State uint32

const (
	StateIdle State = iota
	StateTraversing
	StateApplying
	StateCommitted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTraversing:
		return "traversing"
	case StateApplying:
		return "applying"
	case StateCommitted:
		return "committed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Events contains the events of the Engine.
type Events struct {
	// MilestoneConfirmed is triggered after the cone of a milestone was applied to the ledger.
	MilestoneConfirmed *event.Event1[*Metadata]

	event.Group[Events, *Events]
}

var NewEvents = event.CreateGroupConstructor(func() *Events {
	return &Events{
		MilestoneConfirmed: event.New1[*Metadata](),
	}
})

// Engine runs confirmation rounds one at a time.
type Engine struct {
	Events *Events

	tangle    *dag.Tangle
	seps      *dag.SolidEntryPoints
	ledger    *ledger.State
	requester milestone.Requester

	roundMu sync.Mutex
	state   atomic.Uint32
	halted  atomic.Bool
}

// NewEngine creates an Engine, requester may be nil.
func NewEngine(tangle *dag.Tangle, seps *dag.SolidEntryPoints, ledgerState *ledger.State, requester milestone.Requester) *Engine {
	return &Engine{
		Events:    NewEvents(),
		tangle:    tangle,
		seps:      seps,
		ledger:    ledgerState,
		requester: requester,
	}
}

func (e *Engine) State() State {
	return State(e.state.Load())
}

// Halted reports whether an invariant violation stopped the engine.
func (e *Engine) Halted() bool {
	return e.halted.Load()
}

// ConfirmMilestone confirms the cone of a validated milestone. Errors wrapping ErrMissingMessage
// or storage errors leave the ledger untouched and the round can be retried from scratch.
// ErrInvariantViolation halts the engine.
func (e *Engine) ConfirmMilestone(ms *milestone.ValidatedMilestone) (*Metadata, error) {
	e.roundMu.Lock()
	defer e.roundMu.Unlock()

	if e.halted.Load() {
		return nil, ierrors.Wrap(ErrInvariantViolation, "engine halted")
	}

	e.state.Store(uint32(StateIdle))

	confirmed := e.ledger.ConfirmedIndex()
	if ms.Index != confirmed+1 {
		e.state.Store(uint32(StateAborted))
		if ms.Index > confirmed+1 && e.requester != nil {
			e.requester.RequestMilestone(confirmed + 1)
		}
		return nil, ierrors.Wrapf(ErrMilestoneGap, "milestone %d, confirmed %d", ms.Index, confirmed)
	}

	start := time.Now()

	e.state.Store(uint32(StateTraversing))
	meta, err := Traverse(e.tangle, e.seps, e.ledger.GetOrZero, ms.MessageID, ms.Index, ms.Timestamp)
	if err != nil {
		e.state.Store(uint32(StateAborted))
		logger.Logger.Error("Confirmation round failed", zap.Uint32("index", uint32(ms.Index)), zap.Error(err))
		return nil, err
	}

	e.state.Store(uint32(StateApplying))
	if err := e.ledger.ApplyMilestoneDiff(meta.Diff, ms.Index, ms.MessageID); err != nil {
		e.state.Store(uint32(StateAborted))
		if ierrors.Is(err, ledger.ErrNegativeBalance) || ierrors.Is(err, ledger.ErrSupplyChanged) || ierrors.Is(err, ledger.ErrLedgerStateDiverged) {
			return nil, e.halt(ierrors.Wrapf(ErrInvariantViolation, "milestone %d: %s", ms.Index, err))
		}
		logger.Logger.Error("Failed to apply ledger diff", zap.Uint32("index", uint32(ms.Index)), zap.Error(err))
		return nil, err
	}

	if err := e.markCone(meta.Referenced, ms.Index); err != nil {
		e.state.Store(uint32(StateAborted))
		return nil, e.halt(err)
	}

	e.state.Store(uint32(StateCommitted))
	meta.Duration = time.Since(start)

	logger.Logger.Info("Confirmed milestone",
		zap.Uint32("index", uint32(ms.Index)),
		zap.Int("referenced", len(meta.Referenced)),
		zap.Int("included", len(meta.Included)),
		zap.Int("excluded_no_transaction", len(meta.ExcludedNoTransaction)),
		zap.Int("excluded_conflicting", len(meta.ExcludedConflicting)),
		zap.Duration("duration", meta.Duration),
	)
	for _, id := range meta.ExcludedConflicting {
		logger.Logger.Warn("Excluded conflicting transaction", zap.String("message_id", id.String()), zap.Uint32("index", uint32(ms.Index)))
	}

	e.Events.MilestoneConfirmed.Trigger(meta)

	return meta, nil
}

// RecoverCone finishes the last committed round if the node stopped after the ledger diff was
// stored but before the whole cone was marked confirmed. The ledger is not touched. Marking runs
// in confirmation order, so every message still unmarked is reachable from the milestone without
// crossing a marked one.
func (e *Engine) RecoverCone() error {
	e.roundMu.Lock()
	defer e.roundMu.Unlock()

	index, milestoneID := e.ledger.ConfirmedIndex(), e.ledger.ConfirmedMilestoneID()
	if milestoneID == models.EmptyMessageID {
		return nil
	}
	if meta, exists := e.tangle.Metadata(milestoneID); exists && meta.IsConfirmed() {
		return nil
	}

	meta, err := Traverse(e.tangle, e.seps, e.ledger.GetOrZero, milestoneID, index, 0)
	if err != nil {
		return ierrors.Wrapf(err, "failed to recover cone of milestone %d", index)
	}
	if err := e.markCone(meta.Referenced, index); err != nil {
		return e.halt(err)
	}

	logger.Logger.Warn("Recovered cone of confirmed milestone",
		zap.Uint32("index", uint32(index)), zap.Int("referenced", len(meta.Referenced)))

	return nil
}

// markCone sets the cone index of ids, in order.
func (e *Engine) markCone(ids models.MessageIDs, index models.MilestoneIndex) error {
	for _, id := range ids {
		var confirmErr error
		e.tangle.UpdateMetadata(id, func(m *models.Metadata) {
			confirmErr = m.Confirm(index)
		})
		if confirmErr != nil {
			return ierrors.Wrapf(ErrInvariantViolation, "message %s: %s", id, confirmErr)
		}
	}
	return nil
}

func (e *Engine) halt(err error) error {
	e.halted.Store(true)
	logger.Logger.Error("Halting confirmation", zap.Error(err))
	return err
}
