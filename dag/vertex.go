package dag

import (
	"sync"

	"tangle-core/models"
)

// Vertex couples an immutable message with its mutable metadata. The message must be treated
// as read-only; metadata is only reachable as a copy or through Tangle.UpdateMetadata.
type Vertex struct {
	id      models.MessageID
	message *models.Message

	mu       sync.RWMutex
	metadata models.Metadata
}

func newVertex(id models.MessageID, msg *models.Message, meta models.Metadata) *Vertex {
	return &Vertex{id: id, message: msg, metadata: meta}
}

func (v *Vertex) ID() models.MessageID {
	return v.id
}

func (v *Vertex) Message() *models.Message {
	return v.message
}

// Metadata returns a consistent copy of the metadata.
func (v *Vertex) Metadata() models.Metadata {
	v.mu.RLock()
	defer v.mu.RUnlock()

	return v.metadata
}

// update must be called with v.mu held.
func (v *Vertex) update(mutate func(meta *models.Metadata)) (before, after models.Metadata) {
	before = v.metadata
	mutate(&v.metadata)
	return before, v.metadata
}
