package milestone

import (
	"sync"

	"github.com/iotaledger/hive.go/ierrors"
	"github.com/iotaledger/hive.go/runtime/event"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"tangle-core/dag"
	"tangle-core/logger"
	"tangle-core/models"
)

var ErrConflictingMilestone = ierrors.New("another milestone with the same index is known")

// Requester fetches milestones that are needed to close a gap.
type Requester interface {
	RequestMilestone(index models.MilestoneIndex)
}

// Events contains the events of the milestone Manager.
type Events struct {
	// MilestoneValidated is triggered for a milestone that is next in line for confirmation.
	MilestoneValidated *event.Event1[*ValidatedMilestone]
	// MilestoneRejected is triggered for candidates that failed structure or signature checks.
	MilestoneRejected *event.Event2[models.MessageID, error]

	event.Group[Events, *Events]
}

var NewEvents = event.CreateGroupConstructor(func() *Events {
	return &Events{
		MilestoneValidated: event.New1[*ValidatedMilestone](),
		MilestoneRejected:  event.New2[models.MessageID, error](),
	}
})

// Manager feeds solid milestone messages through the Validator. Candidates that are ahead of the
// confirmed index are buffered until their predecessor is confirmed.
type Manager struct {
	Events *Events

	tangle    *dag.Tangle
	validator *Validator
	requester Requester

	mu         sync.Mutex
	buffered   map[models.MilestoneIndex]*ValidatedMilestone
	milestones map[models.MilestoneIndex]models.MessageID
	latest     atomic.Uint32
}

// NewManager creates a Manager, requester may be nil.
func NewManager(tangle *dag.Tangle, validator *Validator, requester Requester) *Manager {
	return &Manager{
		Events:     NewEvents(),
		tangle:     tangle,
		validator:  validator,
		requester:  requester,
		buffered:   make(map[models.MilestoneIndex]*ValidatedMilestone),
		milestones: make(map[models.MilestoneIndex]models.MessageID),
	}
}

// Process handles a solid message carrying a milestone payload. A nil error means the milestone
// was handed out through MilestoneValidated. ErrNonContiguous means it was stale or buffered.
func (m *Manager) Process(id models.MessageID) error {
	vertex, exists := m.tangle.Vertex(id)
	if !exists {
		return ierrors.Wrapf(dag.ErrVertexNotFound, "milestone message %s", id)
	}

	validated, err := m.validator.Verify(id, vertex.Message())
	if err != nil {
		logger.Logger.Warn("Rejected milestone", zap.String("message_id", id.String()), zap.Error(err))
		m.Events.MilestoneRejected.Trigger(id, err)
		return err
	}

	if err := m.register(validated); err != nil {
		logger.Logger.Warn("Rejected milestone", zap.String("message_id", id.String()), zap.Error(err))
		m.Events.MilestoneRejected.Trigger(id, err)
		return err
	}

	m.tangle.UpdateMetadata(id, func(meta *models.Metadata) {
		meta.SetMilestone(validated.Index)
	})

	err = m.validator.CheckContiguous(validated.Index)
	if err == nil {
		m.Events.MilestoneValidated.Trigger(validated)
		return nil
	}

	confirmed := m.validator.confirmedIndex()
	if validated.Index <= confirmed {
		logger.Logger.Debug("Ignoring milestone below confirmed index", zap.Uint32("index", uint32(validated.Index)))
		return err
	}

	m.buffer(validated, confirmed)
	return err
}

// register records the milestone message for its index; a second, different message for the
// same index is rejected.
func (m *Manager) register(validated *ValidatedMilestone) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if known, exists := m.milestones[validated.Index]; exists && known != validated.MessageID {
		return ierrors.Wrapf(ErrConflictingMilestone, "index %d already issued by %s", validated.Index, known)
	}
	m.milestones[validated.Index] = validated.MessageID

	for {
		latest := m.latest.Load()
		if uint32(validated.Index) <= latest || m.latest.CompareAndSwap(latest, uint32(validated.Index)) {
			break
		}
	}
	return nil
}

func (m *Manager) buffer(validated *ValidatedMilestone, confirmed models.MilestoneIndex) {
	m.mu.Lock()
	m.buffered[validated.Index] = validated
	var missing []models.MilestoneIndex
	for index := confirmed + 1; index < validated.Index; index++ {
		if _, known := m.milestones[index]; !known {
			missing = append(missing, index)
		}
	}
	m.mu.Unlock()

	logger.Logger.Info("Buffered milestone ahead of confirmed index",
		zap.Uint32("index", uint32(validated.Index)), zap.Uint32("confirmed_index", uint32(confirmed)))

	// the predecessor may have been confirmed since the contiguity check
	if m.validator.CheckContiguous(validated.Index) == nil {
		m.release(validated.Index)
		return
	}

	if m.requester == nil {
		return
	}
	for _, index := range missing {
		m.requester.RequestMilestone(index)
	}
}

// release hands out the buffered milestone with the given index, at most once.
func (m *Manager) release(index models.MilestoneIndex) (*ValidatedMilestone, bool) {
	m.mu.Lock()
	next, exists := m.buffered[index]
	for buffered := range m.buffered {
		if buffered <= index {
			delete(m.buffered, buffered)
		}
	}
	m.mu.Unlock()

	if !exists {
		return nil, false
	}
	if err := m.validator.CheckContiguous(next.Index); err != nil {
		logger.Logger.Warn("Buffered milestone not contiguous", zap.Uint32("index", uint32(next.Index)), zap.Error(err))
		return nil, false
	}

	m.Events.MilestoneValidated.Trigger(next)
	return next, true
}

// OnConfirmed releases the buffered successor of index, if any, through MilestoneValidated.
func (m *Manager) OnConfirmed(index models.MilestoneIndex) (*ValidatedMilestone, bool) {
	return m.release(index + 1)
}

// MilestoneMessageID returns the message that issued the milestone with the given index.
func (m *Manager) MilestoneMessageID(index models.MilestoneIndex) (models.MessageID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, exists := m.milestones[index]
	return id, exists
}

// LatestMilestoneIndex is the highest index of any milestone with valid signatures seen so far.
func (m *Manager) LatestMilestoneIndex() models.MilestoneIndex {
	return models.MilestoneIndex(m.latest.Load())
}

// SetLatestMilestoneIndex seeds the latest index at boot, e.g. from the ledger checkpoint.
func (m *Manager) SetLatestMilestoneIndex(index models.MilestoneIndex) {
	m.latest.Store(uint32(index))
}
