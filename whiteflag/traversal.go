package whiteflag

import (
	"time"

	"github.com/gammazero/deque"
	"github.com/iotaledger/hive.go/ierrors"
	"golang.org/x/crypto/blake2b"

	"tangle-core/dag"
	"tangle-core/ledger"
	"tangle-core/models"
)

// BalanceFunc returns the confirmed balance of an address before the round.
type BalanceFunc func(addr models.Address) uint64

// Metadata is the outcome of one confirmation round.
type Metadata struct {
	MilestoneID    models.MessageID
	MilestoneIndex models.MilestoneIndex
	Timestamp      uint64

	// Referenced holds every message of the cone in confirmation order.
	Referenced models.MessageIDs
	// Included holds the value transfers that were applied, in confirmation order.
	Included models.MessageIDs
	// ExcludedNoTransaction holds messages without a value transfer.
	ExcludedNoTransaction models.MessageIDs
	// ExcludedConflicting holds value transfers that lost against an earlier one or were invalid.
	ExcludedConflicting models.MessageIDs

	Diff ledger.Diff

	ConfirmedMerkleRoot [blake2b.Size256]byte
	AppliedMerkleRoot   [blake2b.Size256]byte

	// Duration is the wall time of the whole round, set on commit.
	Duration time.Duration
}

type traversal struct {
	tangle   *dag.Tangle
	seps     *dag.SolidEntryPoints
	balances BalanceFunc

	vertices   map[models.MessageID]*dag.Vertex
	boundaries map[models.MessageID]bool
	visited    map[models.MessageID]struct{}

	meta *Metadata
}

// Traverse orders the not yet confirmed past cone of the milestone message and computes the
// ledger diff it produces, without changing any state. Messages are ordered parent1 subtree
// first, then parent2 subtree, then the message itself. Confirmed messages and solid entry
// points end the walk.
//
// The result only depends on the tangle contents and the balances, never on map order or timing.
func Traverse(tangle *dag.Tangle, seps *dag.SolidEntryPoints, balances BalanceFunc, milestoneID models.MessageID, index models.MilestoneIndex, timestamp uint64) (*Metadata, error) {
	t := &traversal{
		tangle:     tangle,
		seps:       seps,
		balances:   balances,
		vertices:   make(map[models.MessageID]*dag.Vertex),
		boundaries: make(map[models.MessageID]bool),
		visited:    make(map[models.MessageID]struct{}),
		meta: &Metadata{
			MilestoneID:    milestoneID,
			MilestoneIndex: index,
			Timestamp:      timestamp,
			Diff:           ledger.Diff{},
		},
	}

	if err := t.walk(milestoneID); err != nil {
		return nil, err
	}

	var err error
	if t.meta.ConfirmedMerkleRoot, err = MerkleRoot(t.meta.Referenced); err != nil {
		return nil, err
	}
	if t.meta.AppliedMerkleRoot, err = MerkleRoot(t.meta.Included); err != nil {
		return nil, err
	}

	return t.meta, nil
}

func (t *traversal) walk(root models.MessageID) error {
	boundary, err := t.isBoundary(root)
	if err != nil || boundary {
		return err
	}

	stack := new(deque.Deque[models.MessageID])
	stack.PushBack(root)

	for stack.Len() > 0 {
		id := stack.Back()
		if _, done := t.visited[id]; done {
			stack.PopBack()
			continue
		}

		vertex := t.vertices[id]
		next, err := t.nextParent(vertex.Message())
		if err != nil {
			return err
		}
		if next != nil {
			stack.PushBack(*next)
			continue
		}

		stack.PopBack()
		t.visited[id] = struct{}{}
		t.consume(id, vertex.Message())
	}

	return nil
}

// nextParent returns the first parent, in parent1, parent2 order, that still needs to be visited.
func (t *traversal) nextParent(msg *models.Message) (*models.MessageID, error) {
	for _, parent := range msg.Parents() {
		if _, done := t.visited[parent]; done {
			continue
		}

		boundary, err := t.isBoundary(parent)
		if err != nil {
			return nil, err
		}
		if !boundary {
			return &parent, nil
		}
	}
	return nil, nil
}

// isBoundary loads id and reports whether the walk ends there.
func (t *traversal) isBoundary(id models.MessageID) (bool, error) {
	if boundary, known := t.boundaries[id]; known {
		return boundary, nil
	}

	if t.seps.Contains(id) {
		t.boundaries[id] = true
		return true, nil
	}

	vertex, err := t.tangle.Fetch(id)
	if err != nil {
		if ierrors.Is(err, dag.ErrVertexNotFound) {
			return false, ierrors.Wrapf(ErrMissingMessage, "message %s in cone of milestone %d", id, t.meta.MilestoneIndex)
		}
		return false, ierrors.Wrapf(err, "failed to load message %s in cone of milestone %d", id, t.meta.MilestoneIndex)
	}

	meta := vertex.Metadata()
	t.boundaries[id] = meta.IsConfirmed()
	t.vertices[id] = vertex

	return meta.IsConfirmed(), nil
}

func (t *traversal) consume(id models.MessageID, msg *models.Message) {
	t.meta.Referenced = append(t.meta.Referenced, id)

	tx, isTransaction := msg.Transaction()
	if !isTransaction {
		t.meta.ExcludedNoTransaction = append(t.meta.ExcludedNoTransaction, id)
		return
	}

	deltas, err := tx.Deltas()
	if err != nil || !t.fundsAvailable(deltas) {
		t.meta.ExcludedConflicting = append(t.meta.ExcludedConflicting, id)
		return
	}

	t.meta.Diff.Merge(deltas)
	t.meta.Included = append(t.meta.Included, id)
}

// fundsAvailable checks deltas against the confirmed balances plus the diff accumulated so far.
func (t *traversal) fundsAvailable(deltas map[models.Address]int64) bool {
	for addr, delta := range deltas {
		if delta >= 0 {
			continue
		}
		available := int64(t.balances(addr)) + t.meta.Diff[addr]
		if available+delta < 0 {
			return false
		}
	}
	return true
}
