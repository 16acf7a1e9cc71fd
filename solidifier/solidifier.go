package solidifier

import (
	"time"

	"github.com/gammazero/deque"
	"go.uber.org/zap"

	"tangle-core/dag"
	"tangle-core/logger"
	"tangle-core/models"
)

// Solidifier keeps the solid flag consistent: a vertex is solid once both of its parents are
// solid or solid entry points.
type Solidifier struct {
	tangle *dag.Tangle
	seps   *dag.SolidEntryPoints
	now    func() time.Time
}

// Option configures a Solidifier.
type Option func(s *Solidifier)

// WithClock replaces the source of solidification timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Solidifier) {
		s.now = now
	}
}

func New(tangle *dag.Tangle, seps *dag.SolidEntryPoints, opts ...Option) *Solidifier {
	s := &Solidifier{
		tangle: tangle,
		seps:   seps,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Propagate tries to solidify root and walks its approvers for as long as vertices become solid.
// It returns the ids it solidified, in the order it solidified them. Running it on an already
// solid or absent root does nothing.
func (s *Solidifier) Propagate(root models.MessageID) models.MessageIDs {
	var solidified models.MessageIDs

	stack := new(deque.Deque[models.MessageID])
	stack.PushBack(root)

	for stack.Len() > 0 {
		id := stack.PopBack()

		vertex, exists := s.tangle.Vertex(id)
		if !exists {
			// retried when the message arrives
			continue
		}
		if vertex.Metadata().IsSolid() {
			continue
		}
		if !s.parentsSolid(vertex.Message()) {
			continue
		}

		var becameSolid bool
		s.tangle.UpdateMetadata(id, func(meta *models.Metadata) {
			becameSolid = meta.SetSolid(s.now().UnixMilli())
		})
		if !becameSolid {
			// a concurrent run got there first and owns the propagation
			continue
		}

		solidified = append(solidified, id)
		s.tangle.Events.VertexSolidified.Trigger(id)

		for _, child := range s.tangle.ChildrenOf(id) {
			stack.PushBack(child)
		}
	}

	if len(solidified) > 1 {
		logger.Logger.Debug("Solidified cone", zap.String("root", root.String()), zap.Int("count", len(solidified)))
	}

	return solidified
}

// IsSolid reports whether id is solid or a solid entry point.
func (s *Solidifier) IsSolid(id models.MessageID) bool {
	if s.seps.Contains(id) {
		return true
	}
	meta, exists := s.tangle.Metadata(id)
	return exists && meta.IsSolid()
}

// parentsSolid checks both parents and signals every missing one.
func (s *Solidifier) parentsSolid(msg *models.Message) bool {
	solid := true
	for i, parent := range msg.Parents() {
		if i == 1 && parent == msg.Parent1 {
			break
		}
		if s.seps.Contains(parent) {
			continue
		}

		meta, exists := s.tangle.Metadata(parent)
		if !exists {
			s.tangle.Events.MissingAncestor.Trigger(parent)
			solid = false
			continue
		}
		if !meta.IsSolid() {
			solid = false
		}
	}
	return solid
}
