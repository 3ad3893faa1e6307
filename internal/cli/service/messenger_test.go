package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"Duet/internal/cli/api"
	"Duet/internal/cli/repo/sqlite"
	"Duet/internal/events"
	"Duet/internal/testserver"
	"Duet/internal/timeline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type party struct {
	client *api.Client
	m      *Messenger
	store  *sqlite.Store
	uid    string
	code   string
}

func newParty(t *testing.T, srv *testserver.Server, login string) *party {
	t.Helper()
	c := api.NewClient(srv.URL, "")
	auth, err := c.Register(context.Background(), login, "pw-"+login)
	require.NoError(t, err)
	store := memStore(t)
	return &party{
		client: c,
		m:      NewMessenger(c, store, auth.UID, zap.NewNop().Sugar()),
		store:  store,
		uid:    auth.UID,
		code:   auth.PairCode,
	}
}

// pairParties публикует ключи, связывает пару и возвращает беседу с обеих сторон.
func pairParties(t *testing.T, a, b *party) (Conversation, Conversation) {
	t.Helper()
	ctx := context.Background()
	_, err := a.m.Refresh(ctx)
	require.ErrorIs(t, err, ErrNotPaired)
	_, err = b.m.Refresh(ctx)
	require.ErrorIs(t, err, ErrNotPaired)

	req, err := a.client.CreatePairRequest(ctx, b.code)
	require.NoError(t, err)
	_, err = b.client.RespondPairRequest(ctx, req.ID, "accept")
	require.NoError(t, err)

	ca, err := a.m.Refresh(ctx)
	require.NoError(t, err)
	cb, err := b.m.Refresh(ctx)
	require.NoError(t, err)
	return *ca, *cb
}

func unpair(t *testing.T, a, b *party) {
	t.Helper()
	ctx := context.Background()
	req, err := a.client.CreateUnpairRequest(ctx)
	require.NoError(t, err)
	_, err = b.client.RespondUnpairRequest(ctx, req.ID, "accept")
	require.NoError(t, err)
}

func TestMessenger_RefreshBeforePartnerKey(t *testing.T) {
	srv := testserver.New(t)
	a, b := newParty(t, srv, "alice"), newParty(t, srv, "bob")
	ctx := context.Background()

	// b ещё ни разу не запускал клиент - ключа нет
	_, err := a.m.Refresh(ctx)
	require.ErrorIs(t, err, ErrNotPaired)
	req, err := a.client.CreatePairRequest(ctx, b.code)
	require.NoError(t, err)
	_, err = b.client.RespondPairRequest(ctx, req.ID, "accept")
	require.NoError(t, err)

	_, err = a.m.Refresh(ctx)
	assert.ErrorIs(t, err, ErrPartnerKeyMissing)

	_, err = b.m.Refresh(ctx)
	require.NoError(t, err)
	conv, err := a.m.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, timeline.ChatID(a.uid, b.uid), conv.ChatID)
	assert.Equal(t, b.uid, conv.PartnerUID)
}

func TestMessenger_DeliveryLifecycle(t *testing.T) {
	srv := testserver.New(t)
	a, b := newParty(t, srv, "alice"), newParty(t, srv, "bob")
	ca, cb := pairParties(t, a, b)
	ctx := context.Background()

	_, err := a.m.Send(ctx, ca, "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	sent, err := a.m.Send(ctx, ca, "Hi")
	require.NoError(t, err)
	lines, _, _, err := a.m.Page(ca.ChatID, timeline.Cursor{}, 10)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "sent", lines[0].Status)

	got, err := b.m.Sync(ctx, cb)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Hi", got[0].Text)
	assert.Equal(t, sent.ID, got[0].ID)

	// конверт подтверждён и удалён с сервера
	inbox, err := b.client.Inbox(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, inbox)

	_, err = a.m.Bootstrap(ctx, ca)
	require.NoError(t, err)
	lines, _, _, err = a.m.Page(ca.ChatID, timeline.Cursor{}, 10)
	require.NoError(t, err)
	assert.Equal(t, "delivered", lines[0].Status)

	r, already, err := b.m.MarkRead(ctx, cb, sent.ID)
	require.NoError(t, err)
	assert.False(t, already)
	require.NotNil(t, r.ReadAt)
	assert.False(t, r.ReadAt.Before(r.DeliveredAt))
	_, already, err = b.m.MarkRead(ctx, cb, sent.ID)
	require.NoError(t, err)
	assert.True(t, already)

	_, err = a.m.Bootstrap(ctx, ca)
	require.NoError(t, err)
	lines, _, _, err = a.m.Page(ca.ChatID, timeline.Cursor{}, 10)
	require.NoError(t, err)
	assert.Equal(t, "read", lines[0].Status)

	// отправитель не может отметить своё сообщение прочитанным
	_, _, err = a.m.MarkRead(ctx, ca, sent.ID)
	assert.True(t, api.IsCode(err, api.CodePermissionDenied), "got %v", err)
}

func TestMessenger_ReactionsAndStatus(t *testing.T) {
	srv := testserver.New(t)
	a, b := newParty(t, srv, "alice"), newParty(t, srv, "bob")
	ca, cb := pairParties(t, a, b)
	ctx := context.Background()

	sent, err := a.m.Send(ctx, ca, "look")
	require.NoError(t, err)
	_, err = b.m.Sync(ctx, cb)
	require.NoError(t, err)

	rs, err := b.m.React(ctx, cb, sent.ID, "👍")
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.Equal(t, b.uid, rs[0].ReactorUID)
	assert.Equal(t, "👍", rs[0].Emoji)

	rs, err = b.m.React(ctx, cb, sent.ID, "🔥")
	require.NoError(t, err)
	require.Len(t, rs, 1, "один слот на пользователя")
	assert.Equal(t, "🔥", rs[0].Emoji)

	rs, err = b.m.Unreact(ctx, cb, sent.ID)
	require.NoError(t, err)
	assert.Empty(t, rs)

	mood, loc := "happy", "Lisbon"
	require.NoError(t, a.m.SetStatus(ctx, ca, &mood, &loc))
	cb2, err := b.m.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, "happy", cb2.PartnerMood)
	assert.Equal(t, "Lisbon", cb2.PartnerLocation)

	p, err := a.client.Profile(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, "happy", p.MoodCiphertext, "сервер хранит только шифртекст")
}

func TestMessenger_Pagination(t *testing.T) {
	srv := testserver.New(t)
	a, b := newParty(t, srv, "alice"), newParty(t, srv, "bob")
	ca, cb := pairParties(t, a, b)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		_, err := a.m.Send(ctx, ca, string(rune('a'+i)))
		require.NoError(t, err)
	}
	got, err := b.m.Sync(ctx, cb)
	require.NoError(t, err)
	require.Len(t, got, 7)

	seen := map[string]bool{}
	var prev *timeline.Cursor
	cursor := timeline.Cursor{}
	for pages := 0; pages < 10; pages++ {
		lines, next, more, err := b.m.Page(cb.ChatID, cursor, 3)
		require.NoError(t, err)
		for _, l := range lines {
			assert.False(t, seen[l.ID], "повтор %s", l.ID)
			seen[l.ID] = true
			if prev != nil {
				assert.True(t, l.Key().Less(*prev), "строго по убыванию")
			}
			k := l.Key()
			prev = &k
		}
		if !more {
			break
		}
		cursor = next
	}
	assert.Len(t, seen, 7)
}

func TestMessenger_SendTransientKeepsNothing(t *testing.T) {
	srv := testserver.New(t)
	a, b := newParty(t, srv, "alice"), newParty(t, srv, "bob")
	ca, _ := pairParties(t, a, b)

	srv.Close()
	_, err := a.m.Send(context.Background(), ca, "draft")
	require.Error(t, err)
	var ae *api.Error
	require.ErrorAs(t, err, &ae)
	assert.True(t, ae.Retryable())

	lines, _, _, err := a.m.Page(ca.ChatID, timeline.Cursor{}, 10)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

// updates собирает обновления хвоста.
type updates struct {
	mu   sync.Mutex
	list []Update
}

func (u *updates) add(x Update) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.list = append(u.list, x)
}

func (u *updates) count(pred func(Update) bool) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	n := 0
	for _, x := range u.list {
		if pred(x) {
			n++
		}
	}
	return n
}

func (u *updates) has(pred func(Update) bool) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, x := range u.list {
		if pred(x) {
			return true
		}
	}
	return false
}

func TestMessenger_TailLiveAndRevoked(t *testing.T) {
	srv := testserver.New(t)
	a, b := newParty(t, srv, "alice"), newParty(t, srv, "bob")
	ca, cb := pairParties(t, a, b)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// сообщение до подписки придёт догоном
	early, err := a.m.Send(ctx, ca, "early")
	require.NoError(t, err)

	got := &updates{}
	done := make(chan error, 1)
	go func() { done <- b.m.Tail(ctx, cb, got.add) }()

	isMsg := func(id, text string) func(Update) bool {
		return func(u Update) bool {
			return u.Kind == events.KindMessageAppended && u.Message != nil && u.Message.ID == id && u.Message.Text == text
		}
	}
	require.Eventually(t, func() bool { return got.has(isMsg(early.ID, "early")) }, 5*time.Second, 20*time.Millisecond)

	// подписка точно активна после догона
	live, err := a.m.Send(ctx, ca, "live")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return got.has(isMsg(live.ID, "live")) }, 5*time.Second, 20*time.Millisecond)
	// догон потока и входящие не дублируют сообщение
	assert.Equal(t, 1, got.count(isMsg(early.ID, "early")))

	// хвост подтвердил доставку
	require.Eventually(t, func() bool {
		inbox, err := b.client.Inbox(ctx, 10)
		return err == nil && len(inbox) == 0
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, a.m.Heartbeat(ctx, ca))
	require.Eventually(t, func() bool {
		_, ok := b.m.Presence().LastSeen(a.uid)
		return ok
	}, 5*time.Second, 20*time.Millisecond)

	unpair(t, a, b)
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, api.ErrAccessRevoked), "got %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("tail did not stop after unpair")
	}

	// локальная беседа стёрта вместе с ключом
	lines, _, _, err := b.m.Page(cb.ChatID, timeline.Cursor{}, 10)
	require.NoError(t, err)
	assert.Empty(t, lines)
	assert.False(t, b.m.Crypto().HasSharedKey(a.uid))
}

func TestMessenger_TailPicksUpEnvelopeBehindCursor(t *testing.T) {
	srv := testserver.New(t)
	a, b := newParty(t, srv, "alice"), newParty(t, srv, "bob")
	ca, cb := pairParties(t, a, b)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	y, err := a.m.Send(ctx, ca, "same millisecond")
	require.NoError(t, err)
	// курсор прошлого подключения: тот же sentAt, id больше - догон потока y не вернёт
	c, err := json.Marshal(timeline.Cursor{At: y.SentAt, ID: y.ID + "~"})
	require.NoError(t, err)
	require.NoError(t, b.store.Put(tailKey(cb.ChatID), string(c)))

	got := &updates{}
	done := make(chan error, 1)
	go func() { done <- b.m.Tail(ctx, cb, got.add) }()

	isY := func(u Update) bool {
		return u.Kind == events.KindMessageAppended && u.Message != nil && u.Message.ID == y.ID && u.Message.Text == "same millisecond"
	}
	require.Eventually(t, func() bool { return got.has(isY) }, 5*time.Second, 20*time.Millisecond)

	inbox, err := srv.Messages.Inbox(ctx, b.uid, 10)
	require.NoError(t, err)
	assert.Empty(t, inbox, "envelope must be acked")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("tail did not stop on cancel")
	}
	assert.Equal(t, 1, got.count(isY))
}

func TestMessenger_SyncUnderRateLimit(t *testing.T) {
	// 10 запросов в секунду, запас 8: пачка подтверждений упирается в лимит
	srv := testserver.New(t, testserver.WithRateLimit(600, 8))
	a, b := newParty(t, srv, "alice"), newParty(t, srv, "bob")
	ca, cb := pairParties(t, a, b)
	ctx := context.Background()

	const total = 30
	for i := 0; i < total; i++ {
		ct, err := a.m.Crypto().Encrypt([]byte("msg"), b.uid)
		require.NoError(t, err)
		_, err = srv.Messages.Send(ctx, a.uid, ca.ChatID, ct, keyVersion)
		require.NoError(t, err)
	}
	time.Sleep(time.Second)

	seen := map[string]bool{}
	for round := 0; round < 30 && len(seen) < total; round++ {
		got, err := b.m.Sync(ctx, cb)
		if err != nil {
			// весь запас ушёл до первого подтверждения
			var ae *api.Error
			require.ErrorAs(t, err, &ae)
			require.True(t, ae.Retryable(), "unexpected error: %v", err)
		}
		require.Less(t, len(got), total, "acks must be cut by the limiter")

		inbox, err := srv.Messages.Inbox(ctx, b.uid, 100)
		require.NoError(t, err)
		pending := map[string]bool{}
		for _, env := range inbox {
			pending[env.ID] = true
		}
		for _, m := range got {
			require.False(t, seen[m.ID], "message %s returned twice", m.ID)
			require.False(t, pending[m.ID], "message %s returned but not acked", m.ID)
			seen[m.ID] = true
		}
		require.Equal(t, total, len(seen)+len(inbox))
		time.Sleep(time.Second)
	}
	assert.Len(t, seen, total)
}

func TestMessenger_TailStopsOnCancel(t *testing.T) {
	srv := testserver.New(t)
	a, b := newParty(t, srv, "alice"), newParty(t, srv, "bob")
	_, cb := pairParties(t, a, b)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.m.Tail(ctx, cb, nil) }()
	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("tail did not stop on cancel")
	}
}

func TestMessenger_RefreshAfterUnpairClearsState(t *testing.T) {
	srv := testserver.New(t)
	a, b := newParty(t, srv, "alice"), newParty(t, srv, "bob")
	ca, cb := pairParties(t, a, b)
	ctx := context.Background()

	_, err := a.m.Send(ctx, ca, "bye")
	require.NoError(t, err)
	_, err = b.m.Sync(ctx, cb)
	require.NoError(t, err)

	unpair(t, a, b)
	_, err = b.m.Refresh(ctx)
	require.ErrorIs(t, err, ErrNotPaired)

	var lines []Line
	lines, _, _, err = b.m.Page(cb.ChatID, timeline.Cursor{}, 10)
	require.NoError(t, err)
	assert.Empty(t, lines)
	assert.False(t, b.m.Crypto().HasSharedKey(a.uid))

	_, err = a.m.Send(ctx, ca, "after")
	assert.True(t, api.IsCode(err, api.CodePreconditionFailed), "got %v", err)
}
