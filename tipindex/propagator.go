// Package tipindex keeps the oldest and youngest tip selection indexes (OTRSI/YTRSI) of unconfirmed
// vertices up to date. A vertex inherits max(OTRSI) and min(YTRSI) of its parents; confirmed
// vertices and solid entry points are pinned to their cone index.
package tipindex

import (
	"github.com/gammazero/deque"

	"tangle-core/dag"
	"tangle-core/models"
)

type Propagator struct {
	tangle *dag.Tangle
	seps   *dag.SolidEntryPoints
}

func New(tangle *dag.Tangle, seps *dag.SolidEntryPoints) *Propagator {
	return &Propagator{tangle: tangle, seps: seps}
}

// Bounds returns the OTRSI and YTRSI of id, ok is false while they are unknown.
func (p *Propagator) Bounds(id models.MessageID) (otrsi, ytrsi models.MilestoneIndex, ok bool) {
	if index, isSEP := p.seps.Index(id); isSEP {
		return index, index, true
	}
	meta, exists := p.tangle.Metadata(id)
	if !exists {
		return 0, 0, false
	}
	return meta.Bounds()
}

func (p *Propagator) pinned(id models.MessageID) bool {
	if p.seps.Contains(id) {
		return true
	}
	meta, exists := p.tangle.Metadata(id)
	return exists && meta.IsConfirmed()
}

// Propagate recomputes the bounds of root and of its future cone until a fixpoint is reached on
// every branch. A pinned root only seeds its approvers. It returns the ids whose bounds changed.
func (p *Propagator) Propagate(root models.MessageID) models.MessageIDs {
	var updated models.MessageIDs

	stack := new(deque.Deque[models.MessageID])
	if p.pinned(root) {
		for _, child := range p.tangle.ChildrenOf(root) {
			stack.PushBack(child)
		}
	} else {
		stack.PushBack(root)
	}

	for stack.Len() > 0 {
		id := stack.PopBack()

		vertex, exists := p.tangle.Vertex(id)
		if !exists || vertex.Metadata().IsConfirmed() {
			continue
		}

		msg := vertex.Message()
		otrsi1, ytrsi1, ok1 := p.Bounds(msg.Parent1)
		otrsi2, ytrsi2, ok2 := p.Bounds(msg.Parent2)
		if !ok1 || !ok2 {
			// retried once the missing parent bounds become known
			continue
		}

		otrsi, ytrsi := max(otrsi1, otrsi2), min(ytrsi1, ytrsi2)

		var changed bool
		p.tangle.UpdateMetadata(id, func(meta *models.Metadata) {
			if meta.IsConfirmed() {
				return
			}
			changed = meta.SetBounds(otrsi, ytrsi)
		})
		if !changed {
			continue
		}

		updated = append(updated, id)
		for _, child := range p.tangle.ChildrenOf(id) {
			stack.PushBack(child)
		}
	}

	return updated
}
