package milestone_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"tangle-core/milestone"
	"tangle-core/models"
	"tangle-core/tpkg"
)

var (
	keyA = tpkg.SigningKey("A")
	keyB = tpkg.SigningKey("B")
	keyC = tpkg.SigningKey("C")
)

func TestKeyManager_AuthorizedKeys(t *testing.T) {
	km := milestone.NewKeyManager(2, []milestone.KeyRange{
		{PublicKey: tpkg.PublicKey(keyC), StartIndex: 10},
		{PublicKey: tpkg.PublicKey(keyA), StartIndex: 1, EndIndex: 10},
		{PublicKey: tpkg.PublicKey(keyB), StartIndex: 5, EndIndex: 5},
	})

	require.Equal(t, 2, km.MinThreshold())
	require.Len(t, km.AuthorizedKeys(0), 0)
	require.Equal(t, map[milestone.PublicKey]struct{}{tpkg.PublicKey(keyA): {}}, km.AuthorizedKeys(4))
	require.Len(t, km.AuthorizedKeys(5), 2)
	require.Len(t, km.AuthorizedKeys(6), 1)
	require.Equal(t, map[milestone.PublicKey]struct{}{
		tpkg.PublicKey(keyA): {},
		tpkg.PublicKey(keyC): {},
	}, km.AuthorizedKeys(10))
	require.Equal(t, map[milestone.PublicKey]struct{}{tpkg.PublicKey(keyC): {}}, km.AuthorizedKeys(1_000_000))
}

func newValidator(confirmed *models.MilestoneIndex) *milestone.Validator {
	km := milestone.NewKeyManager(2, []milestone.KeyRange{
		{PublicKey: tpkg.PublicKey(keyA), StartIndex: 1},
		{PublicKey: tpkg.PublicKey(keyB), StartIndex: 1},
		{PublicKey: tpkg.PublicKey(keyC), StartIndex: 1, EndIndex: 3},
	})
	return milestone.NewValidator(km, nil, func() models.MilestoneIndex { return *confirmed })
}

func milestoneMessage(payload models.Payload) (models.MessageID, *models.Message) {
	msg := &models.Message{Payload: payload}
	return msg.ID(), msg
}

func TestValidator_Validate(t *testing.T) {
	confirmed := models.MilestoneIndex(3)
	v := newValidator(&confirmed)

	id, msg := milestoneMessage(tpkg.Milestone(4, 1000, keyA, keyB))
	validated, err := v.Validate(id, msg)
	require.NoError(t, err)
	require.Equal(t, &milestone.ValidatedMilestone{MessageID: id, Index: 4, Timestamp: 1000}, validated)

	// C is no longer authorized at index 4
	id, msg = milestoneMessage(tpkg.Milestone(4, 1000, keyA, keyC))
	_, err = v.Validate(id, msg)
	require.ErrorIs(t, err, milestone.ErrTooFewSignatures)

	// the same key twice counts once
	id, msg = milestoneMessage(tpkg.Milestone(4, 1000, keyA, keyA))
	_, err = v.Validate(id, msg)
	require.ErrorIs(t, err, milestone.ErrTooFewSignatures)

	// signature over a different essence
	forged := tpkg.Milestone(4, 1000, keyA, keyB)
	forged.Timestamp = 1001
	id, msg = milestoneMessage(forged)
	_, err = v.Validate(id, msg)
	require.ErrorIs(t, err, milestone.ErrTooFewSignatures)

	id, msg = milestoneMessage(&models.Indexation{Index: []byte("x")})
	_, err = v.Validate(id, msg)
	require.ErrorIs(t, err, milestone.ErrUnknownStructure)

	id, msg = milestoneMessage(&models.Milestone{Index: 4})
	_, err = v.Validate(id, msg)
	require.ErrorIs(t, err, milestone.ErrUnknownStructure)

	id, msg = milestoneMessage(tpkg.Milestone(5, 1000, keyA, keyB))
	_, err = v.Validate(id, msg)
	require.ErrorIs(t, err, milestone.ErrNonContiguous)

	_, err = v.Verify(id, msg)
	require.NoError(t, err)
}

type recordingRequester struct {
	requested []models.MilestoneIndex
}

func (r *recordingRequester) RequestMilestone(index models.MilestoneIndex) {
	r.requested = append(r.requested, index)
}

func TestManager_BuffersAheadOfConfirmedIndex(t *testing.T) {
	f := tpkg.NewFrame()
	confirmed := models.MilestoneIndex(3)
	requester := &recordingRequester{}
	m := milestone.NewManager(f.Tangle, newValidator(&confirmed), requester)

	var validated []models.MilestoneIndex
	m.Events.MilestoneValidated.Hook(func(vm *milestone.ValidatedMilestone) {
		validated = append(validated, vm.Index)
	})

	ms5 := f.Attach("MS5", tpkg.GenesisAlias, tpkg.GenesisAlias, tpkg.Milestone(5, 2000, keyA, keyB))
	require.ErrorIs(t, m.Process(ms5), milestone.ErrNonContiguous)
	require.Empty(t, validated)
	require.Equal(t, []models.MilestoneIndex{4}, requester.requested)
	require.Equal(t, models.MilestoneIndex(5), m.LatestMilestoneIndex())

	meta, _ := f.Tangle.Metadata(ms5)
	require.True(t, meta.IsMilestone())
	require.Equal(t, models.MilestoneIndex(5), meta.MilestoneIndex)

	ms4 := f.Attach("MS4", tpkg.GenesisAlias, tpkg.GenesisAlias, tpkg.Milestone(4, 1000, keyA, keyB))
	require.NoError(t, m.Process(ms4))
	require.Equal(t, []models.MilestoneIndex{4}, validated)
	require.Equal(t, models.MilestoneIndex(5), m.LatestMilestoneIndex())

	confirmed = 4
	next, ok := m.OnConfirmed(4)
	require.True(t, ok)
	require.Equal(t, ms5, next.MessageID)
	require.Equal(t, []models.MilestoneIndex{4, 5}, validated)

	_, ok = m.OnConfirmed(4)
	require.False(t, ok, "buffered milestone is handed out once")

	id, ok := m.MilestoneMessageID(4)
	require.True(t, ok)
	require.Equal(t, ms4, id)
}

func TestManager_RejectsInvalidAndConflicting(t *testing.T) {
	f := tpkg.NewFrame()
	confirmed := models.MilestoneIndex(0)
	m := milestone.NewManager(f.Tangle, newValidator(&confirmed), nil)

	var rejected []error
	m.Events.MilestoneRejected.Hook(func(_ models.MessageID, err error) {
		rejected = append(rejected, err)
	})

	bad := f.Attach("Bad", tpkg.GenesisAlias, tpkg.GenesisAlias, tpkg.Milestone(1, 1, keyA))
	require.ErrorIs(t, m.Process(bad), milestone.ErrTooFewSignatures)

	first := f.Attach("First", tpkg.GenesisAlias, tpkg.GenesisAlias, tpkg.Milestone(1, 1, keyA, keyB))
	require.NoError(t, m.Process(first))

	second := f.Attach("Second", tpkg.GenesisAlias, tpkg.GenesisAlias, tpkg.Milestone(1, 2, keyA, keyB))
	require.ErrorIs(t, m.Process(second), milestone.ErrConflictingMilestone)

	require.Len(t, rejected, 2)

	meta, _ := f.Tangle.Metadata(bad)
	require.False(t, meta.IsMilestone())
}
