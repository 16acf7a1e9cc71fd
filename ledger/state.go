package ledger

import (
	"math"
	"sync"
	"time"

	"github.com/iotaledger/hive.go/ierrors"
	"go.uber.org/zap"

	"tangle-core/logger"
	"tangle-core/models"
	"tangle-core/repository"
)

var (
	ErrNegativeBalance     = ierrors.New("diff drives a balance negative")
	ErrSupplyChanged       = ierrors.New("diff changes the total supply")
	ErrIndexMismatch       = ierrors.New("diff does not follow the ledger index")
	ErrGenesisApplied      = ierrors.New("ledger already holds a genesis state")
	ErrSupplyOverflow      = ierrors.New("genesis supply overflows")
	ErrLedgerStateDiverged = ierrors.New("ledger total supply diverged")
)

// State maps addresses to balances. It changes only by whole diffs, applied under one write lock,
// so readers see either all or none of a confirmation round.
type State struct {
	mu       sync.RWMutex
	balances map[models.Address]uint64
	index    models.MilestoneIndex
	supply   uint64
	repo     repository.LedgerRepositoryInterface

	// milestone is the message of the milestone the ledger was last advanced by.
	milestone models.MessageID
}

// New creates an empty ledger, repo may be nil.
func New(repo repository.LedgerRepositoryInterface) *State {
	return &State{
		balances: make(map[models.Address]uint64),
		repo:     repo,
	}
}

// Load restores balances and ledger index from the latest checkpoint.
func (s *State) Load() error {
	if s.repo == nil {
		return nil
	}

	cp, err := s.repo.GetLatestCheckpoint()
	if err != nil {
		return ierrors.Wrap(err, "failed to load ledger checkpoint")
	}
	if cp == nil {
		return nil
	}
	balances, err := s.repo.GetBalances()
	if err != nil {
		return ierrors.Wrap(err, "failed to load balances")
	}

	var supply uint64
	for _, balance := range balances {
		supply += balance
	}
	if supply != cp.TotalSupply {
		return ierrors.Wrapf(ErrLedgerStateDiverged, "stored %d, checkpoint %d", supply, cp.TotalSupply)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.balances, s.index, s.milestone, s.supply = balances, cp.MilestoneIndex, cp.MilestoneID, supply
	return nil
}

// ApplyGenesis seeds an empty ledger; the only way supply is ever created.
func (s *State) ApplyGenesis(balances map[models.Address]uint64, index models.MilestoneIndex) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.supply != 0 || len(s.balances) != 0 {
		return ErrGenesisApplied
	}

	var supply uint64
	changed := make(map[models.Address]uint64, len(balances))
	for addr, balance := range balances {
		if supply+balance < supply || supply+balance > math.MaxInt64 {
			return ErrSupplyOverflow
		}
		supply += balance
		if balance != 0 {
			changed[addr] = balance
		}
	}

	if err := s.store(changed, index, models.EmptyMessageID, supply); err != nil {
		return err
	}

	s.balances, s.index, s.supply = changed, index, supply
	return nil
}

// GetOrZero returns the balance of addr.
func (s *State) GetOrZero(addr models.Address) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.balances[addr]
}

// ConfirmedIndex is the index of the last applied diff.
func (s *State) ConfirmedIndex() models.MilestoneIndex {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.index
}

func (s *State) TotalSupply() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.supply
}

// ConfirmedMilestoneID is the message of the milestone the ledger was last advanced by.
func (s *State) ConfirmedMilestoneID() models.MessageID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.milestone
}

// Balances returns a copy of all non-zero balances.
func (s *State) Balances() map[models.Address]uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	balances := make(map[models.Address]uint64, len(s.balances))
	for addr, balance := range s.balances {
		balances[addr] = balance
	}
	return balances
}

// ApplyDiff adds diff to the balances and advances the ledger index to index. Nothing is changed
// if the diff would create or destroy value, drive a balance negative, or skip an index.
func (s *State) ApplyDiff(diff Diff, index models.MilestoneIndex) error {
	return s.ApplyMilestoneDiff(diff, index, models.EmptyMessageID)
}

// ApplyMilestoneDiff is ApplyDiff for the cone of the milestone issued by milestoneID. The id is
// stored with the checkpoint.
func (s *State) ApplyMilestoneDiff(diff Diff, index models.MilestoneIndex, milestoneID models.MessageID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index != s.index+1 {
		return ierrors.Wrapf(ErrIndexMismatch, "ledger at %d, diff for %d", s.index, index)
	}
	if sum := diff.Sum(); sum != 0 {
		return ierrors.Wrapf(ErrSupplyChanged, "diff for %d sums to %d", index, sum)
	}

	changed := make(map[models.Address]uint64, len(diff))
	for addr, delta := range diff {
		balance := s.balances[addr]
		if delta < 0 && uint64(-delta) > balance {
			return ierrors.Wrapf(ErrNegativeBalance, "address %s has %d, delta %d", addr, balance, delta)
		}
		changed[addr] = uint64(int64(balance) + delta)
	}

	if err := s.store(changed, index, milestoneID, s.supply); err != nil {
		return err
	}

	for addr, balance := range changed {
		if balance == 0 {
			delete(s.balances, addr)
			continue
		}
		s.balances[addr] = balance
	}
	s.index, s.milestone = index, milestoneID

	if total := s.total(); total != s.supply {
		// unreachable while Sum() == 0 holds
		logger.Logger.Error("Ledger supply diverged", zap.Uint64("expected", s.supply), zap.Uint64("actual", total))
		return ierrors.Wrapf(ErrLedgerStateDiverged, "expected %d, actual %d", s.supply, total)
	}

	return nil
}

func (s *State) store(changed map[models.Address]uint64, index models.MilestoneIndex, milestoneID models.MessageID, supply uint64) error {
	if s.repo == nil {
		return nil
	}
	return s.repo.PutLedger(changed, &models.Checkpoint{
		MilestoneIndex: index,
		MilestoneID:    milestoneID,
		Timestamp:      time.Now().UnixMilli(),
		TotalSupply:    supply,
	})
}

// total must be called with the lock held.
func (s *State) total() uint64 {
	var total uint64
	for _, balance := range s.balances {
		total += balance
	}
	return total
}
