package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"tangle-core/db"
	"tangle-core/ledger"
	"tangle-core/models"
	"tangle-core/repository"
	"tangle-core/tpkg"
)

var (
	alice = tpkg.Address("alice")
	bob   = tpkg.Address("bob")
	carol = tpkg.Address("carol")
)

func newState(t *testing.T) (*ledger.State, *repository.Repository) {
	levelDB, err := db.NewMemLevelDB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = levelDB.Close() })

	repo := repository.NewRepository(levelDB)
	state := ledger.New(repo)
	require.NoError(t, state.ApplyGenesis(map[models.Address]uint64{alice: 100, bob: 50}, 0))

	return state, repo
}

func TestDiff(t *testing.T) {
	diff := ledger.Diff{}
	diff.Add(alice, -10)
	diff.Add(bob, 10)
	diff.Merge(map[models.Address]int64{alice: 10, carol: 0})

	require.Equal(t, ledger.Diff{bob: 10}, diff)
	require.Equal(t, int64(10), diff.Sum())
	require.Equal(t, []models.Address{bob}, diff.Addresses())
}

func TestState_ApplyDiff(t *testing.T) {
	state, _ := newState(t)
	require.Equal(t, uint64(150), state.TotalSupply())

	require.NoError(t, state.ApplyDiff(ledger.Diff{alice: -100, carol: 100}, 1))
	require.Equal(t, uint64(0), state.GetOrZero(alice))
	require.Equal(t, uint64(100), state.GetOrZero(carol))
	require.Equal(t, models.MilestoneIndex(1), state.ConfirmedIndex())
	require.Equal(t, map[models.Address]uint64{bob: 50, carol: 100}, state.Balances())

	// empty rounds still advance the index
	require.NoError(t, state.ApplyDiff(ledger.Diff{}, 2))
	require.Equal(t, models.MilestoneIndex(2), state.ConfirmedIndex())
	require.Equal(t, uint64(150), state.TotalSupply())
}

func TestState_ApplyDiffIsAllOrNothing(t *testing.T) {
	state, _ := newState(t)

	err := state.ApplyDiff(ledger.Diff{alice: -101, bob: 101}, 1)
	require.ErrorIs(t, err, ledger.ErrNegativeBalance)

	err = state.ApplyDiff(ledger.Diff{alice: -10, bob: 20}, 1)
	require.ErrorIs(t, err, ledger.ErrSupplyChanged)

	err = state.ApplyDiff(ledger.Diff{alice: -10, bob: 10}, 2)
	require.ErrorIs(t, err, ledger.ErrIndexMismatch)

	require.Equal(t, map[models.Address]uint64{alice: 100, bob: 50}, state.Balances())
	require.Equal(t, models.MilestoneIndex(0), state.ConfirmedIndex())
}

func TestState_ApplyGenesisOnce(t *testing.T) {
	state, _ := newState(t)
	require.ErrorIs(t, state.ApplyGenesis(map[models.Address]uint64{carol: 1}, 0), ledger.ErrGenesisApplied)
}

func TestState_Load(t *testing.T) {
	state, repo := newState(t)
	require.NoError(t, state.ApplyDiff(ledger.Diff{alice: -30, bob: -50, carol: 80}, 1))

	restored := ledger.New(repo)
	require.NoError(t, restored.Load())
	require.Equal(t, state.Balances(), restored.Balances())
	require.Equal(t, models.MilestoneIndex(1), restored.ConfirmedIndex())
	require.Equal(t, uint64(150), restored.TotalSupply())

	cp, err := repo.GetLatestCheckpoint()
	require.NoError(t, err)
	require.Equal(t, models.MilestoneIndex(1), cp.MilestoneIndex)
	require.Equal(t, uint64(150), cp.TotalSupply)
}

func TestState_CheckpointRecordsMilestone(t *testing.T) {
	state, repo := newState(t)
	require.Equal(t, models.EmptyMessageID, state.ConfirmedMilestoneID())

	milestoneID := models.MessageID{0x42}
	require.NoError(t, state.ApplyMilestoneDiff(ledger.Diff{alice: -10, carol: 10}, 1, milestoneID))
	require.Equal(t, milestoneID, state.ConfirmedMilestoneID())

	// a rejected diff keeps the previous milestone
	require.Error(t, state.ApplyMilestoneDiff(ledger.Diff{alice: -1000, carol: 1000}, 2, models.MessageID{0x43}))
	require.Equal(t, milestoneID, state.ConfirmedMilestoneID())

	restored := ledger.New(repo)
	require.NoError(t, restored.Load())
	require.Equal(t, milestoneID, restored.ConfirmedMilestoneID())
	require.Equal(t, models.MilestoneIndex(1), restored.ConfirmedIndex())
}
