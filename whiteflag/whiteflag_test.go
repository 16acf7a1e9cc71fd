package whiteflag_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"

	"tangle-core/dag"
	"tangle-core/ledger"
	"tangle-core/milestone"
	"tangle-core/models"
	"tangle-core/tpkg"
	"tangle-core/whiteflag"
)

var (
	addrX = tpkg.Address("X")
	addrY = tpkg.Address("Y")
	addrZ = tpkg.Address("Z")
)

func noBalances(models.Address) uint64 { return 0 }

func TestTraverse_Parent1SubtreeFirst(t *testing.T) {
	f := tpkg.NewFrame()
	f.Attach("A", tpkg.GenesisAlias, tpkg.GenesisAlias, nil)
	f.Attach("B", "A", tpkg.GenesisAlias, nil)
	f.Attach("C", tpkg.GenesisAlias, "A", nil)
	f.Attach("D", "B", "C", nil)
	f.Attach("E", tpkg.GenesisAlias, tpkg.GenesisAlias, nil)
	ms := f.Attach("MS", "D", "E", nil)

	meta, err := whiteflag.Traverse(f.Tangle, f.SEPs, noBalances, ms, 1, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"A", "B", "C", "D", "E", "MS"}, f.Aliases(meta.Referenced))
	require.Equal(t, meta.Referenced, meta.ExcludedNoTransaction)
	require.Empty(t, meta.Included)

	// swapping the milestone parents swaps the subtrees
	swapped := f.Attach("Swapped", "E", "D", nil)
	meta, err = whiteflag.Traverse(f.Tangle, f.SEPs, noBalances, swapped, 1, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"E", "A", "B", "C", "D", "Swapped"}, f.Aliases(meta.Referenced))
}

func TestTraverse_DeterministicAcrossInsertionOrder(t *testing.T) {
	f := tpkg.NewFrame()
	balances := map[models.Address]uint64{addrX: 100, addrY: 30}
	balanceOf := func(addr models.Address) uint64 { return balances[addr] }

	aliases := []string{"T1", "T2", "N1", "T3", "T4", "MS"}
	f.Attach("T1", tpkg.GenesisAlias, tpkg.GenesisAlias, tpkg.Transfer(addrX, addrZ, 60))
	f.Attach("T2", tpkg.GenesisAlias, tpkg.GenesisAlias, tpkg.Transfer(addrX, addrY, 60))
	f.Attach("N1", "T2", "T1", &models.Indexation{Index: []byte("tag")})
	f.Attach("T3", "N1", "T1", tpkg.Transfer(addrY, addrZ, 90))
	f.Attach("T4", "T2", "T3", tpkg.Transfer(addrZ, addrX, 10))
	ms := f.Attach("MS", "T4", "N1", nil)

	first, err := whiteflag.Traverse(f.Tangle, f.SEPs, balanceOf, ms, 1, 0)
	require.NoError(t, err)

	// a second tangle filled in reverse order
	reversed := dag.New()
	for i := len(aliases) - 1; i >= 0; i-- {
		vertex, exists := f.Tangle.Vertex(f.ID(aliases[i]))
		require.True(t, exists)
		reversed.Insert(vertex.ID(), vertex.Message(), models.Metadata{})
	}
	second, err := whiteflag.Traverse(reversed, f.SEPs, balanceOf, ms, 1, 0)
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, []string{"T2", "T1", "N1", "T3", "T4", "MS"}, f.Aliases(first.Referenced))
	// T2 takes 60 of X first, T1 conflicts; Y then holds 90 for T3
	require.Equal(t, []string{"T2", "T3", "T4"}, f.Aliases(first.Included))
	require.Equal(t, []string{"T1"}, f.Aliases(first.ExcludedConflicting))
	require.Equal(t, ledger.Diff{addrX: -50, addrY: -30, addrZ: 80}, first.Diff)
	require.Equal(t, int64(0), first.Diff.Sum())
}

type recordingRequester struct {
	requested []models.MilestoneIndex
}

func (r *recordingRequester) RequestMilestone(index models.MilestoneIndex) {
	r.requested = append(r.requested, index)
}

type engineFrame struct {
	*tpkg.Frame
	ledger    *ledger.State
	engine    *whiteflag.Engine
	requester *recordingRequester
}

func newEngineFrame(t *testing.T, genesis map[models.Address]uint64) *engineFrame {
	f := tpkg.NewFrame()
	state := ledger.New(nil)
	require.NoError(t, state.ApplyGenesis(genesis, 0))
	requester := &recordingRequester{}

	return &engineFrame{
		Frame:     f,
		ledger:    state,
		engine:    whiteflag.NewEngine(f.Tangle, f.SEPs, state, requester),
		requester: requester,
	}
}

func (e *engineFrame) confirm(alias string, index models.MilestoneIndex) (*whiteflag.Metadata, error) {
	return e.engine.ConfirmMilestone(&milestone.ValidatedMilestone{
		MessageID: e.ID(alias),
		Index:     index,
		Timestamp: uint64(index) * 10,
	})
}

func TestEngine_DoubleSpendFirstSeenWins(t *testing.T) {
	e := newEngineFrame(t, map[models.Address]uint64{addrX: 100})

	var confirmed []*whiteflag.Metadata
	e.engine.Events.MilestoneConfirmed.Hook(func(meta *whiteflag.Metadata) {
		confirmed = append(confirmed, meta)
	})

	e.Attach("Tx1", tpkg.GenesisAlias, tpkg.GenesisAlias, tpkg.Transfer(addrX, addrY, 100))
	e.Attach("Tx2", tpkg.GenesisAlias, tpkg.GenesisAlias, tpkg.Transfer(addrX, addrZ, 100))
	e.Attach("MS1", "Tx1", "Tx2", tpkg.Milestone(1, 10))

	meta, err := e.confirm("MS1", 1)
	require.NoError(t, err)
	require.Equal(t, whiteflag.StateCommitted, e.engine.State())

	require.Equal(t, []string{"Tx1", "Tx2", "MS1"}, e.Aliases(meta.Referenced))
	require.Equal(t, []string{"Tx1"}, e.Aliases(meta.Included))
	require.Equal(t, []string{"Tx2"}, e.Aliases(meta.ExcludedConflicting))
	require.Equal(t, []string{"MS1"}, e.Aliases(meta.ExcludedNoTransaction))

	require.Equal(t, uint64(0), e.ledger.GetOrZero(addrX))
	require.Equal(t, uint64(100), e.ledger.GetOrZero(addrY))
	require.Equal(t, uint64(0), e.ledger.GetOrZero(addrZ))
	require.Equal(t, models.MilestoneIndex(1), e.ledger.ConfirmedIndex())
	require.Equal(t, uint64(100), e.ledger.TotalSupply())

	for _, alias := range []string{"Tx1", "Tx2", "MS1"} {
		vertexMeta, exists := e.Tangle.Metadata(e.ID(alias))
		require.True(t, exists)
		require.True(t, vertexMeta.IsConfirmed(), alias)
		require.Equal(t, models.MilestoneIndex(1), vertexMeta.ConeIndex)
		otrsi, ytrsi, ok := vertexMeta.Bounds()
		require.True(t, ok)
		require.Equal(t, models.MilestoneIndex(1), otrsi)
		require.Equal(t, models.MilestoneIndex(1), ytrsi)
	}

	require.Len(t, confirmed, 1)
	require.Same(t, meta, confirmed[0])
}

func TestEngine_ConfirmsEachMessageOnce(t *testing.T) {
	e := newEngineFrame(t, map[models.Address]uint64{addrX: 100})

	e.Attach("Tx1", tpkg.GenesisAlias, tpkg.GenesisAlias, tpkg.Transfer(addrX, addrY, 100))
	e.Attach("Tx2", tpkg.GenesisAlias, tpkg.GenesisAlias, tpkg.Transfer(addrX, addrZ, 100))
	e.Attach("MS1", "Tx1", "Tx2", tpkg.Milestone(1, 10))
	first, err := e.confirm("MS1", 1)
	require.NoError(t, err)

	e.Attach("Tx3", "MS1", "Tx2", tpkg.Transfer(addrY, addrZ, 40))
	e.Attach("MS2", "Tx3", "MS1", tpkg.Milestone(2, 20))
	second, err := e.confirm("MS2", 2)
	require.NoError(t, err)

	require.Equal(t, []string{"Tx3", "MS2"}, e.Aliases(second.Referenced))
	for _, id := range second.Referenced {
		require.NotContains(t, first.Referenced, id)
	}

	require.Equal(t, uint64(60), e.ledger.GetOrZero(addrY))
	require.Equal(t, uint64(40), e.ledger.GetOrZero(addrZ))
	require.Equal(t, uint64(100), e.ledger.TotalSupply())

	// confirming the same milestone again is a gap error, nothing is re-applied
	_, err = e.confirm("MS2", 2)
	require.ErrorIs(t, err, whiteflag.ErrMilestoneGap)
	require.Equal(t, uint64(60), e.ledger.GetOrZero(addrY))
	require.Empty(t, e.requester.requested)
}

func TestEngine_GapRequestsMissingMilestone(t *testing.T) {
	e := newEngineFrame(t, map[models.Address]uint64{addrX: 100})
	e.Attach("MS3", tpkg.GenesisAlias, tpkg.GenesisAlias, tpkg.Milestone(3, 30))

	_, err := e.confirm("MS3", 3)
	require.ErrorIs(t, err, whiteflag.ErrMilestoneGap)
	require.Equal(t, whiteflag.StateAborted, e.engine.State())
	require.Equal(t, []models.MilestoneIndex{1}, e.requester.requested)
	require.Equal(t, models.MilestoneIndex(0), e.ledger.ConfirmedIndex())

	meta, _ := e.Tangle.Metadata(e.ID("MS3"))
	require.False(t, meta.IsConfirmed())
}

func TestEngine_MissingMessageAbortsRound(t *testing.T) {
	e := newEngineFrame(t, map[models.Address]uint64{addrX: 100})

	missingID, missing := e.Message("Late", tpkg.GenesisAlias, tpkg.GenesisAlias, tpkg.Transfer(addrX, addrY, 70))
	e.Attach("Tx", tpkg.GenesisAlias, tpkg.GenesisAlias, tpkg.Transfer(addrX, addrZ, 50))
	e.Attach("MS1", "Late", "Tx", tpkg.Milestone(1, 10))

	_, err := e.confirm("MS1", 1)
	require.ErrorIs(t, err, whiteflag.ErrMissingMessage)
	require.Equal(t, whiteflag.StateAborted, e.engine.State())
	require.Equal(t, models.MilestoneIndex(0), e.ledger.ConfirmedIndex())
	require.Equal(t, uint64(100), e.ledger.GetOrZero(addrX))

	txMeta, _ := e.Tangle.Metadata(e.ID("Tx"))
	require.False(t, txMeta.IsConfirmed())

	e.Tangle.Insert(missingID, missing, models.Metadata{})

	meta, err := e.confirm("MS1", 1)
	require.NoError(t, err)
	require.Equal(t, []string{"Late", "Tx", "MS1"}, e.Aliases(meta.Referenced))
	require.Equal(t, []string{"Late"}, e.Aliases(meta.Included))
	require.Equal(t, []string{"Tx"}, e.Aliases(meta.ExcludedConflicting))
	require.False(t, e.engine.Halted())
}

func TestEngine_UnbalancedTransactionIsConflicting(t *testing.T) {
	e := newEngineFrame(t, map[models.Address]uint64{addrX: 100})

	e.Attach("Mint", tpkg.GenesisAlias, tpkg.GenesisAlias, &models.Transaction{
		Inputs:  []models.Transfer{{Address: addrX, Amount: 10}},
		Outputs: []models.Transfer{{Address: addrY, Amount: 50}},
	})
	e.Attach("MS1", "Mint", tpkg.GenesisAlias, tpkg.Milestone(1, 10))

	meta, err := e.confirm("MS1", 1)
	require.NoError(t, err)
	require.Equal(t, []string{"Mint"}, e.Aliases(meta.ExcludedConflicting))
	require.Equal(t, uint64(100), e.ledger.TotalSupply())
	require.Equal(t, uint64(0), e.ledger.GetOrZero(addrY))
}

func TestMerkleRoot(t *testing.T) {
	a, b, c, d, e := models.MessageID{1}, models.MessageID{2}, models.MessageID{3}, models.MessageID{4}, models.MessageID{5}

	leaf := func(id models.MessageID) [32]byte {
		return blake2b.Sum256(append([]byte{0x00}, id[:]...))
	}
	node := func(left, right [32]byte) [32]byte {
		buf := append([]byte{0x01}, left[:]...)
		return blake2b.Sum256(append(buf, right[:]...))
	}

	root := func(ids models.MessageIDs) [32]byte {
		r, err := whiteflag.MerkleRoot(ids)
		require.NoError(t, err)
		return r
	}

	require.Equal(t, blake2b.Sum256(nil), root(nil))
	require.Equal(t, leaf(a), root(models.MessageIDs{a}))
	require.Equal(t, node(leaf(a), leaf(b)), root(models.MessageIDs{a, b}))
	require.Equal(t, node(node(leaf(a), leaf(b)), leaf(c)), root(models.MessageIDs{a, b, c}))
	require.Equal(t, node(node(leaf(a), leaf(b)), node(leaf(c), leaf(d))), root(models.MessageIDs{a, b, c, d}))
	require.Equal(t, node(node(node(leaf(a), leaf(b)), node(leaf(c), leaf(d))), leaf(e)), root(models.MessageIDs{a, b, c, d, e}))
}
