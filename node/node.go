// Package node wires the tangle components into a pipeline of single-consumer workers:
//
//	submit -> solidifier -> milestone manager -> confirmation engine -> tip index
package node

import (
	"sort"
	"time"

	"github.com/iotaledger/hive.go/ierrors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"tangle-core/dag"
	"tangle-core/ledger"
	"tangle-core/logger"
	"tangle-core/metrics"
	"tangle-core/milestone"
	"tangle-core/models"
	"tangle-core/queue"
	"tangle-core/repository"
	"tangle-core/requester"
	"tangle-core/solidifier"
	"tangle-core/tipindex"
	"tangle-core/whiteflag"
)

var ErrShutdown = ierrors.New("node is shutting down")

// Parameters are the protocol parameters and the snapshot the node starts from.
type Parameters struct {
	MinThreshold int
	KeyRanges    []milestone.KeyRange

	SolidEntryPoints map[models.MessageID]models.MilestoneIndex
	LedgerIndex      models.MilestoneIndex
	Genesis          map[models.Address]uint64

	// RoundRetries bounds the retries of a confirmation round that failed on missing or
	// unreadable messages.
	RoundRetries    int
	RoundRetryDelay time.Duration
}

// Option configures a Node.
type Option func(n *Node)

func WithRepository(repo repository.TangleRepositoryInterface) Option {
	return func(n *Node) {
		n.repo = repo
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(n *Node) {
		n.metrics = m
	}
}

// WithVerifier replaces the milestone signature check.
func WithVerifier(verify milestone.VerifyFunc) Option {
	return func(n *Node) {
		n.verify = verify
	}
}

type confirmationTask struct {
	milestone *milestone.ValidatedMilestone
	attempt   int
}

// Node owns every component and the queues between them.
type Node struct {
	params  Parameters
	repo    repository.TangleRepositoryInterface
	metrics *metrics.Metrics
	verify  milestone.VerifyFunc

	tangle     *dag.Tangle
	seps       *dag.SolidEntryPoints
	solidifier *solidifier.Solidifier
	propagator *tipindex.Propagator
	ledger     *ledger.State
	milestones *milestone.Manager
	engine     *whiteflag.Engine
	requester  *requester.Requester

	solidifierQueue   *queue.Queue[models.MessageID]
	milestoneQueue    *queue.Queue[models.MessageID]
	confirmationQueue *queue.Queue[*confirmationTask]
	tipIndexQueue     *queue.Queue[models.MessageID]

	shutdown atomic.Bool
}

// New builds the node, restores stored state, applies the snapshot to an empty ledger and starts
// the workers.
func New(params Parameters, opts ...Option) (*Node, error) {
	n := &Node{params: params}
	for _, opt := range opts {
		opt(n)
	}

	var (
		tangleOpts []dag.Option
		msgRepo    repository.MessageRepositoryInterface
		ledgerRepo repository.LedgerRepositoryInterface
	)
	if n.repo != nil {
		msgRepo, ledgerRepo = n.repo, n.repo
		tangleOpts = append(tangleOpts, dag.WithRepository(n.repo))
	}

	n.tangle = dag.New(tangleOpts...)
	n.seps = dag.NewSolidEntryPoints(msgRepo)
	n.ledger = ledger.New(ledgerRepo)
	n.requester = requester.New()
	n.solidifier = solidifier.New(n.tangle, n.seps)
	n.propagator = tipindex.New(n.tangle, n.seps)

	if err := n.restore(); err != nil {
		return nil, err
	}

	keys := milestone.NewKeyManager(params.MinThreshold, params.KeyRanges)
	validator := milestone.NewValidator(keys, n.verify, n.ledger.ConfirmedIndex)
	n.milestones = milestone.NewManager(n.tangle, validator, n.requester)
	n.milestones.SetLatestMilestoneIndex(n.ledger.ConfirmedIndex())
	n.engine = whiteflag.NewEngine(n.tangle, n.seps, n.ledger, n.requester)
	if err := n.engine.RecoverCone(); err != nil {
		return nil, err
	}

	n.solidifierQueue = queue.New(n.solidify)
	n.milestoneQueue = queue.New(n.processMilestone)
	n.confirmationQueue = queue.New(n.confirm)
	n.tipIndexQueue = queue.New(n.propagateBounds)

	n.hookEvents()
	n.resume()

	logger.Logger.Info("Node started",
		zap.Int("vertices", n.tangle.Size()),
		zap.Int("solid_entry_points", n.seps.Len()),
		zap.Uint32("confirmed_index", uint32(n.ledger.ConfirmedIndex())),
		zap.Uint64("total_supply", n.ledger.TotalSupply()),
	)

	return n, nil
}

func (n *Node) restore() error {
	if err := n.tangle.Load(); err != nil {
		return ierrors.Wrap(err, "failed to load tangle")
	}
	if err := n.seps.Load(); err != nil {
		return ierrors.Wrap(err, "failed to load solid entry points")
	}
	if err := n.ledger.Load(); err != nil {
		return err
	}

	for id, index := range n.params.SolidEntryPoints {
		if n.seps.Contains(id) {
			continue
		}
		if err := n.seps.Add(id, index); err != nil {
			return err
		}
	}

	if n.ledger.TotalSupply() == 0 && n.ledger.ConfirmedIndex() == 0 && len(n.params.Genesis) > 0 {
		if err := n.ledger.ApplyGenesis(n.params.Genesis, n.params.LedgerIndex); err != nil {
			return ierrors.Wrap(err, "failed to apply genesis")
		}
	}

	return nil
}

func (n *Node) hookEvents() {
	n.tangle.Events.MissingAncestor.Hook(func(id models.MessageID) {
		n.requester.RequestMessage(id)
	})
	n.milestones.Events.MilestoneValidated.Hook(func(vm *milestone.ValidatedMilestone) {
		n.confirmationQueue.Push(&confirmationTask{milestone: vm})
	})

	if n.metrics == nil {
		return
	}
	n.metrics.HookTangle(n.tangle.Events)
	n.metrics.HookMilestones(n.milestones.Events, n.milestones.LatestMilestoneIndex)
	n.metrics.HookConfirmation(n.engine.Events)
	n.metrics.SetConfirmedMilestoneIndex(n.ledger.ConfirmedIndex())
	n.metrics.RegisterQueue("solidifier", n.solidifierQueue.Len)
	n.metrics.RegisterQueue("milestones", n.milestoneQueue.Len)
	n.metrics.RegisterQueue("confirmation", n.confirmationQueue.Len)
	n.metrics.RegisterQueue("tipindex", n.tipIndexQueue.Len)
}

// resume re-feeds restored vertices: unsolid ones to the solidifier, solid unconfirmed
// milestones to the milestone manager in index order.
func (n *Node) resume() {
	type pending struct {
		id    models.MessageID
		index models.MilestoneIndex
	}
	var (
		unsolid    models.MessageIDs
		milestones []pending
	)

	n.tangle.ForEach(func(vertex *dag.Vertex) bool {
		meta := vertex.Metadata()
		switch {
		case !meta.IsSolid():
			unsolid = append(unsolid, vertex.ID())
		case !meta.IsConfirmed():
			if ms, isMilestone := vertex.Message().Milestone(); isMilestone {
				milestones = append(milestones, pending{id: vertex.ID(), index: ms.Index})
			}
		}
		return true
	})

	sort.Slice(milestones, func(i, j int) bool { return milestones[i].index < milestones[j].index })
	for _, ms := range milestones {
		n.milestoneQueue.Push(ms.id)
	}
	for _, id := range unsolid.Sort() {
		n.solidifierQueue.Push(id)
	}
}

// Submit decodes and submits a serialized message.
func (n *Node) Submit(data []byte) (models.MessageID, bool, error) {
	msg, err := models.DeserializeMessage(data)
	if err != nil {
		return models.EmptyMessageID, false, err
	}
	return n.SubmitMessage(msg)
}

// SubmitMessage inserts msg into the tangle and queues it for solidification. It reports false
// for a message that was already known.
func (n *Node) SubmitMessage(msg *models.Message) (models.MessageID, bool, error) {
	if n.shutdown.Load() {
		return models.EmptyMessageID, false, ErrShutdown
	}

	id := msg.ID()

	var meta models.Metadata
	if n.requester.Fulfill(id) {
		meta.Set(models.FlagRequested)
	}

	if _, inserted := n.tangle.Insert(id, msg, meta); !inserted {
		return id, false, nil
	}
	if !n.solidifierQueue.Push(id) {
		return id, true, ErrShutdown
	}

	return id, true, nil
}

func (n *Node) solidify(id models.MessageID) {
	for _, solid := range n.solidifier.Propagate(id) {
		vertex, exists := n.tangle.Vertex(solid)
		if !exists {
			continue
		}
		if _, isMilestone := vertex.Message().Milestone(); isMilestone {
			n.milestoneQueue.Push(solid)
		}
		n.tipIndexQueue.Push(solid)
	}
}

func (n *Node) processMilestone(id models.MessageID) {
	if err := n.milestones.Process(id); err != nil && !ierrors.Is(err, milestone.ErrNonContiguous) {
		logger.Logger.Debug("Milestone not accepted", zap.String("message_id", id.String()), zap.Error(err))
	}
}

// confirm runs one confirmation round and supervises its outcome.
func (n *Node) confirm(task *confirmationTask) {
	ms := task.milestone

	meta, err := n.engine.ConfirmMilestone(ms)
	switch {
	case err == nil:
		n.requester.FulfillMilestone(ms.Index)
		for _, id := range meta.Referenced {
			n.tipIndexQueue.Push(id)
		}
		n.milestones.OnConfirmed(ms.Index)

	case ierrors.Is(err, whiteflag.ErrMilestoneGap):
		logger.Logger.Debug("Skipping milestone", zap.Uint32("index", uint32(ms.Index)), zap.Error(err))

	case ierrors.Is(err, whiteflag.ErrInvariantViolation):
		logger.Logger.Error("Confirmation halted", zap.Uint32("index", uint32(ms.Index)), zap.Error(err))

	default:
		n.retry(task, err)
	}
}

// retry re-queues a round that failed on missing or unreadable data, after a pause.
func (n *Node) retry(task *confirmationTask, err error) {
	if task.attempt >= n.params.RoundRetries {
		logger.Logger.Error("Giving up confirmation round",
			zap.Uint32("index", uint32(task.milestone.Index)), zap.Int("attempts", task.attempt+1), zap.Error(err))
		return
	}

	logger.Logger.Warn("Retrying confirmation round",
		zap.Uint32("index", uint32(task.milestone.Index)), zap.Int("attempt", task.attempt+1), zap.Error(err))

	next := &confirmationTask{milestone: task.milestone, attempt: task.attempt + 1}
	time.AfterFunc(n.params.RoundRetryDelay, func() {
		n.confirmationQueue.Push(next)
	})
}

func (n *Node) propagateBounds(id models.MessageID) {
	n.propagator.Propagate(id)
}

// Shutdown stops accepting messages and drains the workers in pipeline order. A confirmation
// round in flight always completes.
func (n *Node) Shutdown() {
	if n.shutdown.Swap(true) {
		return
	}

	for _, q := range []interface {
		Close(processRemaining bool)
		Wait()
	}{n.solidifierQueue, n.milestoneQueue, n.confirmationQueue, n.tipIndexQueue} {
		q.Close(true)
		q.Wait()
	}

	logger.Logger.Info("Node stopped", zap.Uint32("confirmed_index", uint32(n.ledger.ConfirmedIndex())))
}
