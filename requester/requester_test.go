package requester_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"tangle-core/models"
	"tangle-core/requester"
)

func TestRequester_Deduplicates(t *testing.T) {
	r := requester.New()

	var messages models.MessageIDs
	var milestones []models.MilestoneIndex
	r.Events.MessageRequested.Hook(func(id models.MessageID) { messages = append(messages, id) })
	r.Events.MilestoneRequested.Hook(func(index models.MilestoneIndex) { milestones = append(milestones, index) })

	a, b := models.MessageID{0xa}, models.MessageID{0xb}
	require.True(t, r.RequestMessage(b))
	require.False(t, r.RequestMessage(b))
	require.True(t, r.RequestMessage(a))
	r.RequestMilestone(4)
	r.RequestMilestone(4)

	require.Equal(t, models.MessageIDs{b, a}, messages)
	require.Equal(t, []models.MilestoneIndex{4}, milestones)
	require.Equal(t, models.MessageIDs{a, b}, r.PendingMessages())

	pendingMessages, pendingMilestones := r.Pending()
	require.Equal(t, 2, pendingMessages)
	require.Equal(t, 1, pendingMilestones)

	require.True(t, r.Fulfill(a))
	require.False(t, r.Fulfill(a))
	require.False(t, r.IsRequested(a))
	require.True(t, r.IsRequested(b))
	require.True(t, r.FulfillMilestone(4))

	// a fulfilled request can be issued again
	require.True(t, r.RequestMessage(a))
	r.RequestMilestone(4)
	require.Len(t, messages, 3)
	require.Len(t, milestones, 2)
}
