package models

// Checkpoint records the milestone index the persisted ledger state corresponds to.
type Checkpoint struct {
	MilestoneIndex MilestoneIndex `json:"milestone_index"`
	// MilestoneID is the message that issued the milestone, empty for a genesis checkpoint.
	MilestoneID    MessageID      `json:"milestone_id"`
	Timestamp      int64          `json:"timestamp"` // unix ms of the commit
	TotalSupply    uint64         `json:"total_supply"`
}
