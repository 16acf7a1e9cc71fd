package dag

import (
	"sync"

	"github.com/iotaledger/hive.go/ds/shrinkingmap"
	"github.com/iotaledger/hive.go/ierrors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"tangle-core/logger"
	"tangle-core/models"
	"tangle-core/repository"
)

const shardCount = 64

var ErrVertexNotFound = ierrors.New("vertex not found")

type approverSet map[models.MessageID]struct{}

// shard guards a slice of the id space. The shard lock only covers map access,
// metadata mutation is serialized by the vertex's own lock.
type shard struct {
	mu        sync.RWMutex
	vertices  *shrinkingmap.ShrinkingMap[models.MessageID, *Vertex]
	approvers *shrinkingmap.ShrinkingMap[models.MessageID, approverSet]
}

// Tangle is the vertex store: a sharded concurrent map from message id to vertex plus the
// reverse adjacency (approvers) of every referenced id, known or not.
type Tangle struct {
	Events *Events

	shards [shardCount]*shard
	repo   repository.MessageRepositoryInterface
	size   atomic.Int64
}

// Option configures a Tangle.
type Option func(t *Tangle)

// WithRepository makes the Tangle write vertices through to durable storage and
// fall back to it on Fetch.
func WithRepository(repo repository.MessageRepositoryInterface) Option {
	return func(t *Tangle) {
		t.repo = repo
	}
}

func New(opts ...Option) *Tangle {
	t := &Tangle{Events: NewEvents()}
	for i := range t.shards {
		t.shards[i] = &shard{
			vertices:  shrinkingmap.New[models.MessageID, *Vertex](),
			approvers: shrinkingmap.New[models.MessageID, approverSet](),
		}
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tangle) shardFor(id models.MessageID) *shard {
	// ids are hashes, the last byte is uniformly distributed
	return t.shards[int(id[len(id)-1])%shardCount]
}

// Insert stores the message under id unless it is already present, in which case the
// existing vertex is returned with inserted=false.
func (t *Tangle) Insert(id models.MessageID, msg *models.Message, meta models.Metadata) (vertex *Vertex, inserted bool) {
	if vertex, inserted = t.insert(id, msg, meta); !inserted {
		return vertex, false
	}

	if t.repo != nil {
		if err := t.repo.PutVertex(id, msg, &meta); err != nil {
			logger.Logger.Warn("Failed storing vertex", zap.String("message_id", id.String()), zap.Error(err))
		}
	}

	t.Events.VertexInserted.Trigger(id)

	return vertex, true
}

func (t *Tangle) insert(id models.MessageID, msg *models.Message, meta models.Metadata) (*Vertex, bool) {
	s := t.shardFor(id)

	s.mu.Lock()
	if existing, exists := s.vertices.Get(id); exists {
		s.mu.Unlock()
		return existing, false
	}
	vertex := newVertex(id, msg, meta)
	s.vertices.Set(id, vertex)
	s.mu.Unlock()

	t.size.Inc()

	t.registerApprover(msg.Parent1, id)
	if msg.Parent2 != msg.Parent1 {
		t.registerApprover(msg.Parent2, id)
	}

	return vertex, true
}

// registerApprover records child as approver of parent, whether or not parent is known yet.
func (t *Tangle) registerApprover(parent, child models.MessageID) {
	s := t.shardFor(parent)

	s.mu.Lock()
	defer s.mu.Unlock()

	approvers, _ := s.approvers.GetOrCreate(parent, func() approverSet {
		return make(approverSet)
	})
	approvers[child] = struct{}{}
}

// Vertex returns the vertex stored under id.
func (t *Tangle) Vertex(id models.MessageID) (*Vertex, bool) {
	s := t.shardFor(id)

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.vertices.Get(id)
}

// Metadata returns a copy of the metadata of id.
func (t *Tangle) Metadata(id models.MessageID) (models.Metadata, bool) {
	vertex, exists := t.Vertex(id)
	if !exists {
		return models.Metadata{}, false
	}
	return vertex.Metadata(), true
}

// Contains reports whether a vertex for id is present in memory.
func (t *Tangle) Contains(id models.MessageID) bool {
	_, exists := t.Vertex(id)
	return exists
}

// UpdateMetadata atomically applies mutate to the metadata of id and returns the result.
// Updates of the same id are serialized, updates of different ids run in parallel.
func (t *Tangle) UpdateMetadata(id models.MessageID, mutate func(meta *models.Metadata)) (models.Metadata, bool) {
	vertex, exists := t.Vertex(id)
	if !exists {
		return models.Metadata{}, false
	}

	vertex.mu.Lock()
	defer vertex.mu.Unlock()

	before, after := vertex.update(mutate)
	if t.repo != nil && before != after {
		// stored under the vertex lock so storage never goes back to an older version
		if err := t.repo.PutMetadata(id, &after); err != nil {
			logger.Logger.Warn("Failed storing metadata", zap.String("message_id", id.String()), zap.Error(err))
		}
	}

	return after, true
}

// ChildrenOf returns the current approvers of id in byte order.
func (t *Tangle) ChildrenOf(id models.MessageID) models.MessageIDs {
	s := t.shardFor(id)

	s.mu.RLock()
	defer s.mu.RUnlock()

	approvers, exists := s.approvers.Get(id)
	if !exists {
		return nil
	}

	children := make(models.MessageIDs, 0, len(approvers))
	for child := range approvers {
		children = append(children, child)
	}
	return children.Sort()
}

// ForEach calls consumer for every vertex held in memory until it returns false. Vertices
// inserted concurrently may or may not be visited.
func (t *Tangle) ForEach(consumer func(vertex *Vertex) bool) {
	for _, s := range t.shards {
		s.mu.RLock()
		vertices := s.vertices.Values()
		s.mu.RUnlock()

		for _, vertex := range vertices {
			if !consumer(vertex) {
				return
			}
		}
	}
}

// Size returns the number of vertices held in memory.
func (t *Tangle) Size() int {
	return int(t.size.Load())
}

// Fetch returns the vertex for id, loading it from storage if it is not held in memory.
// Storage failures are returned, absence is ErrVertexNotFound.
func (t *Tangle) Fetch(id models.MessageID) (*Vertex, error) {
	if vertex, exists := t.Vertex(id); exists {
		return vertex, nil
	}
	if t.repo == nil {
		return nil, ierrors.Wrapf(ErrVertexNotFound, "message %s", id)
	}

	msg, err := t.repo.GetMessage(id)
	if err != nil {
		if ierrors.Is(err, repository.ErrNotFound) {
			return nil, ierrors.Wrapf(ErrVertexNotFound, "message %s", id)
		}
		return nil, ierrors.Wrapf(err, "failed to fetch message %s", id)
	}
	meta, err := t.repo.GetMetadata(id)
	if err != nil {
		return nil, ierrors.Wrapf(err, "failed to fetch metadata %s", id)
	}

	vertex, _ := t.insert(id, msg, *meta)
	return vertex, nil
}

// Load restores all stored vertices into memory.
func (t *Tangle) Load() error {
	if t.repo == nil {
		return nil
	}

	return t.repo.ForEachVertex(func(id models.MessageID, msg *models.Message, meta *models.Metadata) bool {
		t.insert(id, msg, *meta)
		return true
	})
}
