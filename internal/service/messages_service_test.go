package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"Duet/internal/apperr"
	"Duet/internal/events"
	"Duet/internal/model"
	"Duet/internal/timeline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Сценарий: a1 связывается с b1 по коду 482913, отправляет сообщение,
// b1 подтверждает сохранение и отмечает прочтение.
func TestMessageService_DeliveryScenario(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.codes("482913", "100200")
	e.mkUser(t, "a1", "Anna")
	e.mkUser(t, "b1", "Boris")

	code, err := e.pairing.EnsurePairCode(ctx, "b1")
	require.NoError(t, err)
	require.Equal(t, "482913", code)

	req, err := e.pairing.CreatePairRequest(ctx, "a1", "482913")
	require.NoError(t, err)
	_, err = e.pairing.RespondPairRequest(ctx, "b1", req.ID, "accept")
	require.NoError(t, err)

	chatID := timeline.ChatID("b1", "a1")
	env, err := e.messages.Send(ctx, "a1", chatID, "c2VhbGVk", 1)
	require.NoError(t, err)
	assert.Equal(t, "b1", env.RecipientID)
	assert.Equal(t, model.UnixMilli(e.clock.Now()), env.SentAt)

	// push ушёл на токен получателя без открытого текста
	require.Len(t, e.notifier.sent, 1)
	assert.Equal(t, "tok-b1", e.notifier.to[0])
	assert.Equal(t, "c2VhbGVk", e.notifier.sent[0].EncryptedBody)
	assert.Equal(t, "a1", e.notifier.sent[0].SenderID)
	assert.Equal(t, chatID, e.notifier.sent[0].ChatID)

	inbox, err := e.messages.Inbox(ctx, "b1", 0)
	require.NoError(t, err)
	require.Len(t, inbox, 1)

	e.clock.Advance(2 * time.Second)
	rec, already, err := e.messages.Ack(ctx, "b1", chatID, env.ID)
	require.NoError(t, err)
	assert.False(t, already)
	assert.Equal(t, "a1", rec.SenderID)

	_, already, err = e.messages.Ack(ctx, "b1", chatID, env.ID)
	require.NoError(t, err)
	assert.True(t, already)

	inbox, err = e.messages.Inbox(ctx, "b1", 0)
	require.NoError(t, err)
	assert.Empty(t, inbox)

	_, _, err = e.messages.MarkRead(ctx, "a1", chatID, env.ID)
	assert.ErrorIs(t, err, apperr.ErrNotRecipient)

	e.clock.Advance(time.Minute)
	rec, alreadyRead, err := e.messages.MarkRead(ctx, "b1", chatID, env.ID)
	require.NoError(t, err)
	assert.False(t, alreadyRead)
	require.NotNil(t, rec.ReadAt)
	assert.False(t, rec.ReadAt.Before(rec.DeliveredAt))

	firstRead := *rec.ReadAt
	e.clock.Advance(time.Minute)
	rec, alreadyRead, err = e.messages.MarkRead(ctx, "b1", chatID, env.ID)
	require.NoError(t, err)
	assert.True(t, alreadyRead)
	assert.True(t, rec.ReadAt.Equal(firstRead))

	var receipts int64
	require.NoError(t, e.db.Model(&model.Receipt{}).Count(&receipts).Error)
	assert.Equal(t, int64(1), receipts)
}

func TestMessageService_AccessChecks(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.codes("110001", "110002")
	e.mkUser(t, "a1", "")
	e.mkUser(t, "b1", "")
	e.mkUser(t, "c1", "")
	e.pair(t, "a1", "b1")

	_, err := e.messages.Send(ctx, "a1", "a1_b1", "  ", 1)
	assert.ErrorIs(t, err, apperr.ErrEmptyCiphertext)
	_, err = e.messages.Send(ctx, "a1", "not-a-chat", "eA==", 1)
	assert.ErrorIs(t, err, apperr.ErrInvalidChatID)
	_, err = e.messages.Send(ctx, "a1", "b1_a1", "eA==", 1)
	assert.ErrorIs(t, err, apperr.ErrInvalidChatID)
	_, err = e.messages.Send(ctx, "c1", "a1_b1", "eA==", 1)
	assert.ErrorIs(t, err, apperr.ErrNotChatMember)
	_, err = e.messages.Send(ctx, "a1", "a1_c1", "eA==", 1)
	assert.ErrorIs(t, err, apperr.ErrNotPaired)

	env, err := e.messages.Send(ctx, "a1", "a1_b1", "eA==", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, env.KeyVersion)

	// отправитель не может подтвердить своё сообщение
	_, _, err = e.messages.Ack(ctx, "a1", "a1_b1", env.ID)
	assert.Equal(t, apperr.CodePermissionDenied, apperr.CodeOf(err))
	_, _, err = e.messages.Ack(ctx, "b1", "a1_b1", "")
	assert.ErrorIs(t, err, apperr.ErrInvalidMessageID)
	_, _, err = e.messages.MarkRead(ctx, "b1", "a1_b1", "unknown")
	assert.ErrorIs(t, err, apperr.ErrReceiptNotFound)
}

func TestMessageService_Reactions(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.codes("120001", "120002")
	e.mkUser(t, "a1", "")
	e.mkUser(t, "b1", "")
	e.pair(t, "a1", "b1")
	env, err := e.messages.Send(ctx, "a1", "a1_b1", "eA==", 1)
	require.NoError(t, err)

	var replaced []events.Event
	sub := e.hub.Subscribe("a1_b1", func(ev events.Event) {
		if ev.Kind == events.KindReactionsReplace {
			replaced = append(replaced, ev)
		}
	})
	defer sub.Cancel()

	m, err := e.messages.SetReaction(ctx, "b1", "a1_b1", env.ID, "aGVhcnQ=", 1)
	require.NoError(t, err)
	assert.Len(t, m, 1)
	m, err = e.messages.SetReaction(ctx, "b1", "a1_b1", env.ID, "bGF1Z2g=", 1)
	require.NoError(t, err)
	assert.Len(t, m, 1)
	assert.Equal(t, "bGF1Z2g=", m["b1"].Ciphertext)

	m, err = e.messages.SetReaction(ctx, "a1", "a1_b1", env.ID, "d293", 1)
	require.NoError(t, err)
	assert.Len(t, m, 2)

	m, err = e.messages.ClearReaction(ctx, "b1", "a1_b1", env.ID)
	require.NoError(t, err)
	assert.Len(t, m, 1)
	_, ok := m["b1"]
	assert.False(t, ok)

	require.Len(t, replaced, 4)
	assert.Equal(t, env.ID, replaced[3].MessageID)
	assert.Len(t, replaced[3].Reactions, 1)
}

func TestMessageService_PageCoversHistoryOnce(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.codes("130001", "130002")
	e.mkUser(t, "a1", "")
	e.mkUser(t, "b1", "")
	e.pair(t, "a1", "b1")

	// 23 сообщения, по три в одну миллисекунду
	for i := 0; i < 23; i++ {
		if i%3 == 0 {
			e.clock.Advance(time.Millisecond)
		}
		_, err := e.messages.Send(ctx, "a1", "a1_b1", fmt.Sprintf("m%02d", i), 1)
		require.NoError(t, err)
	}

	snap, err := e.messages.Bootstrap(ctx, "b1", "a1_b1", 5)
	require.NoError(t, err)
	require.Len(t, snap.Envelopes, 5)

	seen := map[string]bool{}
	var prev *timeline.Cursor
	cursor := timeline.Cursor{}
	for pages := 0; pages < 10; pages++ {
		page, next, more, err := e.messages.Page(ctx, "b1", "a1_b1", cursor, 5)
		require.NoError(t, err)
		for _, env := range page {
			k := env.Key()
			if prev != nil {
				require.True(t, k.Less(*prev), "order broken at %s", env.ID)
			}
			prev = &k
			require.False(t, seen[env.ID], "duplicate %s", env.ID)
			seen[env.ID] = true
		}
		if !more {
			break
		}
		cursor = next
	}
	assert.Len(t, seen, 23)
}

func TestMessageService_SubscribeCatchUpAndLive(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.codes("140001", "140002")
	e.mkUser(t, "a1", "")
	e.mkUser(t, "b1", "")
	e.pair(t, "a1", "b1")

	first, err := e.messages.Send(ctx, "a1", "a1_b1", "b25l", 1)
	require.NoError(t, err)
	e.clock.Advance(time.Millisecond)
	second, err := e.messages.Send(ctx, "a1", "a1_b1", "dHdv", 1)
	require.NoError(t, err)

	var (
		mu   sync.Mutex
		live []events.Event
	)
	sub, catchup, err := e.messages.Subscribe(ctx, "b1", "a1_b1", first.Key(), func(ev events.Event) {
		mu.Lock()
		live = append(live, ev)
		mu.Unlock()
	})
	require.NoError(t, err)
	require.Len(t, catchup, 1)
	assert.Equal(t, second.ID, catchup[0].ID)

	e.clock.Advance(time.Millisecond)
	_, err = e.messages.Heartbeat(ctx, "a1", "a1_b1")
	require.NoError(t, err)
	third, err := e.messages.Send(ctx, "a1", "a1_b1", "dGhyZWU=", 1)
	require.NoError(t, err)

	sub.Cancel()
	sub.Cancel()
	_, err = e.messages.Send(ctx, "a1", "a1_b1", "Zm91cg==", 1)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, live, 2)
	assert.Equal(t, events.KindHeartbeat, live[0].Kind)
	assert.Equal(t, "a1", live[0].Heartbeat.SenderID)
	assert.Equal(t, events.KindMessageAppended, live[1].Kind)
	assert.Equal(t, third.ID, live[1].Envelope.ID)

	// без курсора - последнее окно догонялки по возрастанию
	sub2, catchup, err := e.messages.Subscribe(ctx, "b1", "a1_b1", timeline.Cursor{}, func(events.Event) {})
	require.NoError(t, err)
	defer sub2.Cancel()
	require.Len(t, catchup, 4)
	assert.Equal(t, first.ID, catchup[0].ID)

	_, _, err = e.messages.Subscribe(ctx, "c1", "a1_b1", timeline.Cursor{}, func(events.Event) {})
	assert.ErrorIs(t, err, apperr.ErrNotChatMember)
}
