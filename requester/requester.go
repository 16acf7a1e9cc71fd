// Package requester keeps track of messages and milestones the node is missing and announces
// them to the network layer.
package requester

import (
	"sync"

	"github.com/iotaledger/hive.go/runtime/event"
	"go.uber.org/zap"

	"tangle-core/logger"
	"tangle-core/models"
)

// Events contains the events of the Requester.
type Events struct {
	// MessageRequested is triggered once per missing message id until it is fulfilled.
	MessageRequested *event.Event1[models.MessageID]
	// MilestoneRequested is triggered once per missing milestone index until it is fulfilled.
	MilestoneRequested *event.Event1[models.MilestoneIndex]

	event.Group[Events, *Events]
}

var NewEvents = event.CreateGroupConstructor(func() *Events {
	return &Events{
		MessageRequested:   event.New1[models.MessageID](),
		MilestoneRequested: event.New1[models.MilestoneIndex](),
	}
})

// Requester de-duplicates outstanding requests.
type Requester struct {
	Events *Events

	mu         sync.Mutex
	messages   map[models.MessageID]struct{}
	milestones map[models.MilestoneIndex]struct{}
}

func New() *Requester {
	return &Requester{
		Events:     NewEvents(),
		messages:   make(map[models.MessageID]struct{}),
		milestones: make(map[models.MilestoneIndex]struct{}),
	}
}

// RequestMessage registers id as missing. It reports false if it already was pending.
func (r *Requester) RequestMessage(id models.MessageID) bool {
	r.mu.Lock()
	if _, pending := r.messages[id]; pending {
		r.mu.Unlock()
		return false
	}
	r.messages[id] = struct{}{}
	r.mu.Unlock()

	logger.Logger.Debug("Requesting message", zap.String("message_id", id.String()))
	r.Events.MessageRequested.Trigger(id)
	return true
}

// RequestMilestone registers index as missing.
func (r *Requester) RequestMilestone(index models.MilestoneIndex) {
	r.mu.Lock()
	if _, pending := r.milestones[index]; pending {
		r.mu.Unlock()
		return
	}
	r.milestones[index] = struct{}{}
	r.mu.Unlock()

	logger.Logger.Info("Requesting milestone", zap.Uint32("index", uint32(index)))
	r.Events.MilestoneRequested.Trigger(index)
}

// Fulfill clears the request for id and reports whether there was one.
func (r *Requester) Fulfill(id models.MessageID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, pending := r.messages[id]
	delete(r.messages, id)
	return pending
}

// FulfillMilestone clears the request for index.
func (r *Requester) FulfillMilestone(index models.MilestoneIndex) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, pending := r.milestones[index]
	delete(r.milestones, index)
	return pending
}

func (r *Requester) IsRequested(id models.MessageID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, pending := r.messages[id]
	return pending
}

// Pending returns the number of outstanding message and milestone requests.
func (r *Requester) Pending() (messages, milestones int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.messages), len(r.milestones)
}

// PendingMessages returns the outstanding message requests in byte order.
func (r *Requester) PendingMessages() models.MessageIDs {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make(models.MessageIDs, 0, len(r.messages))
	for id := range r.messages {
		ids = append(ids, id)
	}
	return ids.Sort()
}
