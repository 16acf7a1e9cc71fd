package dag

import (
	"github.com/iotaledger/hive.go/runtime/event"

	"tangle-core/models"
)

// Events contains the events of the Tangle.
type Events struct {
	// VertexInserted is triggered once per message id, when it is first inserted.
	VertexInserted *event.Event1[models.MessageID]
	// VertexSolidified is triggered when a vertex becomes solid.
	VertexSolidified *event.Event1[models.MessageID]
	// MissingAncestor is triggered for a referenced parent that is neither stored nor a solid entry point.
	MissingAncestor *event.Event1[models.MessageID]

	event.Group[Events, *Events]
}

// NewEvents creates a new Events instance.
var NewEvents = event.CreateGroupConstructor(func() *Events {
	return &Events{
		VertexInserted:   event.New1[models.MessageID](),
		VertexSolidified: event.New1[models.MessageID](),
		MissingAncestor:  event.New1[models.MessageID](),
	}
})
