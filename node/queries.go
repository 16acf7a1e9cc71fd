package node

import (
	"bytes"

	"tangle-core/dag"
	"tangle-core/milestone"
	"tangle-core/models"
	"tangle-core/requester"
	"tangle-core/whiteflag"
)

// Info summarizes the node state.
type Info struct {
	ConfirmedMilestoneIndex models.MilestoneIndex `json:"confirmedMilestoneIndex"`
	LatestMilestoneIndex    models.MilestoneIndex `json:"latestMilestoneIndex"`
	Vertices                int                   `json:"vertices"`
	SolidEntryPoints        int                   `json:"solidEntryPoints"`
	TotalSupply             uint64                `json:"totalSupply"`
	PendingMessages         int                   `json:"pendingMessageRequests"`
	PendingMilestones       int                   `json:"pendingMilestoneRequests"`
	ConfirmationState       string                `json:"confirmationState"`
	Halted                  bool                  `json:"halted"`
}

func (n *Node) GetOrZero(addr models.Address) uint64 {
	return n.ledger.GetOrZero(addr)
}

func (n *Node) Contains(id models.MessageID) bool {
	return n.tangle.Contains(id)
}

// Message returns the message stored under id, loading it from storage if needed.
func (n *Node) Message(id models.MessageID) (*models.Message, bool) {
	vertex, err := n.tangle.Fetch(id)
	if err != nil {
		return nil, false
	}
	return vertex.Message(), true
}

func (n *Node) Metadata(id models.MessageID) (models.Metadata, bool) {
	return n.tangle.Metadata(id)
}

func (n *Node) ChildrenOf(id models.MessageID) models.MessageIDs {
	return n.tangle.ChildrenOf(id)
}

func (n *Node) ConfirmedIndex() models.MilestoneIndex {
	return n.ledger.ConfirmedIndex()
}

func (n *Node) LatestMilestoneIndex() models.MilestoneIndex {
	return n.milestones.LatestMilestoneIndex()
}

// MilestoneMessageID returns the message that issued the milestone with the given index.
func (n *Node) MilestoneMessageID(index models.MilestoneIndex) (models.MessageID, bool) {
	return n.milestones.MilestoneMessageID(index)
}

// MessagesByIndex returns the sorted ids of the indexation messages carrying index.
func (n *Node) MessagesByIndex(index []byte) (models.MessageIDs, error) {
	if n.repo != nil {
		ids, err := n.repo.MessageIDsByIndex(index)
		if err != nil {
			return nil, err
		}
		return ids.Sort(), nil
	}

	var ids models.MessageIDs
	n.tangle.ForEach(func(vertex *dag.Vertex) bool {
		if idx, ok := vertex.Message().Indexation(); ok && bytes.Equal(idx.Index, index) {
			ids = append(ids, vertex.ID())
		}
		return true
	})
	return ids.Sort(), nil
}

func (n *Node) Info() Info {
	pendingMessages, pendingMilestones := n.requester.Pending()
	return Info{
		ConfirmedMilestoneIndex: n.ledger.ConfirmedIndex(),
		LatestMilestoneIndex:    n.milestones.LatestMilestoneIndex(),
		Vertices:                n.tangle.Size(),
		SolidEntryPoints:        n.seps.Len(),
		TotalSupply:             n.ledger.TotalSupply(),
		PendingMessages:         pendingMessages,
		PendingMilestones:       pendingMilestones,
		ConfirmationState:       n.engine.State().String(),
		Halted:                  n.engine.Halted(),
	}
}

// TangleEvents exposes VertexInserted, VertexSolidified and MissingAncestor.
func (n *Node) TangleEvents() *dag.Events {
	return n.tangle.Events
}

func (n *Node) MilestoneEvents() *milestone.Events {
	return n.milestones.Events
}

func (n *Node) ConfirmationEvents() *whiteflag.Events {
	return n.engine.Events
}

// RequesterEvents exposes the requests the network layer has to serve.
func (n *Node) RequesterEvents() *requester.Events {
	return n.requester.Events
}
