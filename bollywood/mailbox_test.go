package bollywood

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func payloads(msgs []Message) []interface{} {
	out := make([]interface{}, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Payload())
	}
	return out
}

func TestMailbox_FIFO(t *testing.T) {
	mb := NewMailbox("fifo", MailboxConfig{})
	for i := 1; i <= 5; i++ {
		require.NoError(t, mb.Send(NewMessage(i, nil)))
	}
	assert.Equal(t, 5, mb.Len())

	first, ok := mb.TakeNext()
	require.True(t, ok)
	assert.Equal(t, 1, first.Payload())

	assert.Equal(t, []interface{}{2, 3, 4, 5}, payloads(mb.TryTakeAll()))
	assert.Equal(t, 0, mb.Len())

	_, ok = mb.TakeNext()
	assert.False(t, ok, "empty mailbox reports false")
	assert.Empty(t, mb.TryTakeAll())
}

func TestMailbox_DropNewest(t *testing.T) {
	mb := NewMailbox("reader", MailboxConfig{Capacity: 1, Overflow: DropNewest})
	require.NoError(t, mb.Send(NewMessage("a", nil)))

	err := mb.Send(NewMessage("b", nil))
	assert.ErrorIs(t, err, ErrMailboxFull)
	assert.Equal(t, uint64(1), mb.Dropped())
	assert.Equal(t, []interface{}{"a"}, payloads(mb.TryTakeAll()))
}

func TestMailbox_DropOldest(t *testing.T) {
	mb := NewMailbox("writer", MailboxConfig{Capacity: 2, Overflow: DropOldest})
	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, mb.Send(NewMessage(p, nil)))
	}
	assert.Equal(t, uint64(1), mb.Dropped())
	assert.Equal(t, []interface{}{"b", "c"}, payloads(mb.TryTakeAll()))
}

func TestMailbox_RejectsAfterClose(t *testing.T) {
	mb := NewMailbox("closing", MailboxConfig{})
	require.NoError(t, mb.Send(NewMessage(1, nil)))

	assert.False(t, mb.closeIfEmpty(), "pending mail keeps the mailbox open")
	_, _ = mb.TakeNext()
	assert.True(t, mb.closeIfEmpty())
	assert.True(t, mb.Closed())

	assert.ErrorIs(t, mb.Send(NewMessage(2, nil)), ErrDeliveryRejected)
}

func TestMailbox_DiscardDropsPending(t *testing.T) {
	mb := NewMailbox("faulty", MailboxConfig{})
	for i := 0; i < 3; i++ {
		require.NoError(t, mb.Send(NewMessage(i, nil)))
	}
	assert.Equal(t, 3, mb.discard())
	assert.Equal(t, 0, mb.Len())
	assert.ErrorIs(t, mb.Send(NewMessage(4, nil)), ErrDeliveryRejected)
}

func TestMailbox_SchedulingHandshake(t *testing.T) {
	mb := NewMailbox("sched", MailboxConfig{})
	notified := 0

	require.NoError(t, mb.Send(NewMessage(1, nil)))
	mb.attach(func() { notified++ })
	assert.Equal(t, 1, notified, "mail sent before attach is scheduled on attach")

	require.NoError(t, mb.Send(NewMessage(2, nil)))
	assert.Equal(t, 1, notified, "an already scheduled owner is not notified again")

	assert.False(t, mb.park(), "park fails while mail is pending")
	mb.TryTakeAll()
	assert.True(t, mb.park())

	require.NoError(t, mb.Send(NewMessage(3, nil)))
	assert.Equal(t, 2, notified, "a parked owner is notified by the next send")

	mb.TryTakeAll()
	require.True(t, mb.park())
	mb.kick()
	assert.Equal(t, 3, notified, "kick schedules an idle owner")
}

func TestOverflowPolicy_String(t *testing.T) {
	assert.Equal(t, "drop_newest", DropNewest.String())
	assert.Equal(t, "drop_oldest", DropOldest.String())
	assert.Equal(t, "unknown", OverflowPolicy(9).String())

	for _, p := range []OverflowPolicy{DropNewest, DropOldest} {
		parsed, err := ParseOverflowPolicy(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, parsed)
	}
	_, err := ParseOverflowPolicy("block")
	assert.Error(t, err)
}
