package usecase

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agrolink/internal/domain/entity"
	"agrolink/internal/infrastructure/push"
)

type fakeCache struct {
	mu    sync.Mutex
	data  map[string][]entity.Conversation
	saves int
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string][]entity.Conversation)}
}

func (c *fakeCache) Load(_ context.Context, ownerID string) []entity.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	stored := c.data[ownerID]
	list := make([]entity.Conversation, len(stored))
	copy(list, stored)
	return list
}

func (c *fakeCache) Save(_ context.Context, ownerID string, list []entity.Conversation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	stored := make([]entity.Conversation, len(list))
	copy(stored, list)
	c.data[ownerID] = stored
	c.saves++
	return nil
}

func (c *fakeCache) Close() error { return nil }

func (c *fakeCache) saveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saves
}

type fakeBackend struct {
	mu         sync.Mutex
	remote     []entity.Conversation
	fetchErr   error
	fetchGate  chan struct{}
	fetchCalls int

	users    []entity.User
	usersErr error

	sendErr error
	sent    []*entity.Message

	marked [][2]string
}

func (b *fakeBackend) FetchRecentConversations(_ context.Context, _ string) ([]entity.Conversation, error) {
	b.mu.Lock()
	b.fetchCalls++
	gate := b.fetchGate
	err := b.fetchErr
	list := make([]entity.Conversation, len(b.remote))
	copy(list, b.remote)
	b.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return list, nil
}

func (b *fakeBackend) FetchUsers(_ context.Context) ([]entity.User, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.users, b.usersErr
}

func (b *fakeBackend) MarkMessagesRead(_ context.Context, userID, counterpartID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.marked = append(b.marked, [2]string{userID, counterpartID})
	return nil
}

func (b *fakeBackend) SendMessage(_ context.Context, msg *entity.Message) (*entity.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return nil, b.sendErr
	}
	b.sent = append(b.sent, msg)
	confirmed := *msg
	confirmed.Status = entity.StatusSent
	return &confirmed, nil
}

func (b *fakeBackend) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fetchCalls
}

func (b *fakeBackend) setRemote(list []entity.Conversation) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remote = list
}

func (b *fakeBackend) setFetchErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fetchErr = err
}

func (b *fakeBackend) setGate(gate chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fetchGate = gate
}

func (b *fakeBackend) markedPairs() [][2]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	pairs := make([][2]string, len(b.marked))
	copy(pairs, b.marked)
	return pairs
}

type fakePush struct {
	events chan push.InboundMessage
	subErr error
	once   sync.Once
}

func newFakePush() *fakePush {
	return &fakePush{events: make(chan push.InboundMessage, 16)}
}

func (p *fakePush) Subscribe(_ context.Context, _ string) (<-chan push.InboundMessage, error) {
	if p.subErr != nil {
		return nil, p.subErr
	}
	return p.events, nil
}

func (p *fakePush) Close() error {
	p.once.Do(func() { close(p.events) })
	return nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []push.NotificationEvent
}

func (n *fakeNotifier) Notify(_ string, event push.NotificationEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *fakeNotifier) all() []push.NotificationEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	events := make([]push.NotificationEvent, len(n.events))
	copy(events, n.events)
	return events
}

type controllerFixture struct {
	uc       *RecentConversationsUseCase
	cache    *fakeCache
	backend  *fakeBackend
	channel  *fakePush
	notifier *fakeNotifier
}

func newFixture(t *testing.T) *controllerFixture {
	t.Helper()
	f := &controllerFixture{
		cache:    newFakeCache(),
		backend:  &fakeBackend{},
		channel:  newFakePush(),
		notifier: &fakeNotifier{},
	}
	f.uc = NewRecentConversationsUseCase(f.cache, f.backend, f.channel, f.notifier, time.Hour)
	t.Cleanup(f.uc.Close)
	return f
}

func (f *controllerFixture) initialize(t *testing.T, userID string) {
	t.Helper()
	require.NoError(t, f.uc.Initialize(context.Background(), userID))
	require.Eventually(t, func() bool {
		return f.backend.calls() >= 1 && f.uc.SyncFailed() == (f.backend.fetchErr != nil)
	}, time.Second, 5*time.Millisecond)
}

func TestInitializeHydratesFromCacheThenServer(t *testing.T) {
	f := newFixture(t)
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	f.cache.Save(context.Background(), "me", []entity.Conversation{conv("u1", "cached text", t0)})
	f.backend.setRemote([]entity.Conversation{
		conv("u1", "fresh text", t0.Add(time.Minute)),
		conv("u2", "hello", t0),
	})

	require.NoError(t, f.uc.Initialize(context.Background(), "me"))

	// The cached entry is visible before the server responds.
	list := f.uc.Conversations()
	require.Len(t, list, 1)
	assert.Equal(t, "cached text", list[0].LastMessage)

	require.Eventually(t, func() bool {
		return len(f.uc.Conversations()) == 2
	}, time.Second, 5*time.Millisecond)

	list = f.uc.Conversations()
	assert.Equal(t, "u1", list[0].CounterpartID)
	assert.Equal(t, "fresh text", list[0].LastMessage)
	assert.Equal(t, "u2", list[1].CounterpartID)
	assert.False(t, f.uc.SyncFailed())
}

func TestInitializeTwiceIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.initialize(t, "me")

	require.NoError(t, f.uc.Initialize(context.Background(), "me"))
	assert.Equal(t, "me", f.uc.UserID())
}

func TestInitializeRejectsEmptyUserID(t *testing.T) {
	f := newFixture(t)
	err := f.uc.Initialize(context.Background(), "")
	require.Error(t, err)
}

func TestRefreshFailureKeepsCachedList(t *testing.T) {
	f := newFixture(t)
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	f.cache.Save(context.Background(), "me", []entity.Conversation{conv("u1", "cached", t0)})
	f.backend.setFetchErr(fmt.Errorf("backend down"))

	require.NoError(t, f.uc.Initialize(context.Background(), "me"))
	require.Eventually(t, f.uc.SyncFailed, time.Second, 5*time.Millisecond)

	list := f.uc.Conversations()
	require.Len(t, list, 1)
	assert.Equal(t, "cached", list[0].LastMessage)

	// Recovery on the next refresh clears the degraded flag.
	f.backend.setFetchErr(nil)
	f.backend.setRemote([]entity.Conversation{conv("u1", "recovered", t0.Add(time.Minute))})
	f.uc.Refresh()

	require.Eventually(t, func() bool {
		return !f.uc.SyncFailed()
	}, time.Second, 5*time.Millisecond)
	list = f.uc.Conversations()
	assert.Equal(t, "recovered", list[0].LastMessage)
}

func TestRefreshSingleFlight(t *testing.T) {
	f := newFixture(t)
	f.initialize(t, "me")

	gate := make(chan struct{})
	f.backend.setGate(gate)

	go f.uc.Refresh()
	require.Eventually(t, func() bool {
		return f.backend.calls() == 2
	}, time.Second, 5*time.Millisecond)

	// Coalesces into the in-flight fetch instead of issuing another.
	f.uc.Refresh()
	assert.Equal(t, 2, f.backend.calls())

	close(gate)
	f.backend.setGate(nil)
	require.Eventually(t, func() bool {
		f.uc.mutex.Lock()
		defer f.uc.mutex.Unlock()
		return !f.uc.fetching
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, f.backend.calls())
}

func TestRefreshDoesNotClobberMutationMadeInFlight(t *testing.T) {
	f := newFixture(t)
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	f.cache.Save(context.Background(), "me", []entity.Conversation{conv("u1", "cached", t0)})
	f.initialize(t, "me")

	gate := make(chan struct{})
	f.backend.setGate(gate)
	f.backend.setRemote([]entity.Conversation{conv("u1", "snapshot", t0)})

	go f.uc.Refresh()
	require.Eventually(t, func() bool {
		return f.backend.calls() == 2
	}, time.Second, 5*time.Millisecond)

	// A push-delivered update lands while the fetch is on the wire.
	f.uc.BumpLastMessage("u1", "newer than snapshot", false)

	close(gate)
	f.backend.setGate(nil)
	require.Eventually(t, func() bool {
		f.uc.mutex.Lock()
		defer f.uc.mutex.Unlock()
		return !f.uc.fetching
	}, time.Second, 5*time.Millisecond)

	got, ok := f.uc.Get("u1")
	require.True(t, ok)
	assert.Equal(t, "newer than snapshot", got.LastMessage)
}

func TestOperationsBeforeInitializeAreQueued(t *testing.T) {
	f := newFixture(t)
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	f.uc.AddOrUpdateConversation(conv("u1", "queued", t0))
	assert.Empty(t, f.uc.Conversations())

	f.initialize(t, "me")

	got, ok := f.uc.Get("u1")
	require.True(t, ok)
	assert.Equal(t, "queued", got.LastMessage)
}

func TestPendingQueueIsBounded(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < maxPendingOps+8; i++ {
		f.uc.AddOrUpdateConversation(entity.Conversation{CounterpartID: fmt.Sprintf("u%03d", i)})
	}

	f.initialize(t, "me")
	assert.Len(t, f.uc.Conversations(), maxPendingOps)
}

func TestAddOrUpdateRejectsSelfAndEmpty(t *testing.T) {
	f := newFixture(t)
	f.initialize(t, "me")

	f.uc.AddOrUpdateConversation(entity.Conversation{CounterpartID: "me", LastMessage: "hi"})
	f.uc.AddOrUpdateConversation(entity.Conversation{CounterpartID: "", LastMessage: "hi"})

	assert.Empty(t, f.uc.Conversations())
}

func TestAddOrUpdateAppliesOnlyNonEmptyFields(t *testing.T) {
	f := newFixture(t)
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	f.initialize(t, "me")

	f.uc.AddOrUpdateConversation(entity.Conversation{
		CounterpartID: "u1",
		DisplayName:   "Asep",
		AvatarURL:     "https://cdn/avatar.png",
		Role:          entity.RoleFarmer,
		LastMessage:   "first",
		LastMessageAt: t0,
	})
	f.uc.AddOrUpdateConversation(entity.Conversation{
		CounterpartID: "u1",
		LastMessage:   "second",
	})

	got, ok := f.uc.Get("u1")
	require.True(t, ok)
	assert.Equal(t, "Asep", got.DisplayName)
	assert.Equal(t, "https://cdn/avatar.png", got.AvatarURL)
	assert.Equal(t, entity.RoleFarmer, got.Role)
	assert.Equal(t, "second", got.LastMessage)
	assert.Equal(t, t0, got.LastMessageAt)
}

func TestBumpMissingConversationIsNoop(t *testing.T) {
	f := newFixture(t)
	f.initialize(t, "me")

	before := f.cache.saveCount()
	f.uc.BumpLastMessage("ghost", "hello", true)
	assert.Empty(t, f.uc.Conversations())
	assert.Equal(t, before, f.cache.saveCount())
}

func TestClearUnread(t *testing.T) {
	f := newFixture(t)
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	f.initialize(t, "me")

	f.uc.AddOrUpdateConversation(entity.Conversation{CounterpartID: "u1", LastMessageAt: t0, UnreadCount: 3})
	f.uc.ClearUnread("u1")

	got, _ := f.uc.Get("u1")
	assert.Equal(t, 0, got.UnreadCount)

	// Already-zero and missing counterparts do not trigger another persist.
	before := f.cache.saveCount()
	f.uc.ClearUnread("u1")
	f.uc.ClearUnread("ghost")
	assert.Equal(t, before, f.cache.saveCount())
}

func TestInboundMessageIncrementsUnreadAndNotifies(t *testing.T) {
	f := newFixture(t)
	f.initialize(t, "me")

	f.channel.events <- push.InboundMessage{
		SenderID:   "u9",
		ReceiverID: "me",
		SenderName: "Dewi",
		Message:    "tomatoes ready",
		Timestamp:  "2024-03-01T12:00:00Z",
	}

	require.Eventually(t, func() bool {
		_, ok := f.uc.Get("u9")
		return ok
	}, time.Second, 5*time.Millisecond)

	got, _ := f.uc.Get("u9")
	assert.Equal(t, 1, got.UnreadCount)
	assert.Equal(t, "Dewi", got.DisplayName)
	assert.Equal(t, "tomatoes ready", got.LastMessage)

	require.Eventually(t, func() bool {
		return len(f.notifier.all()) == 1
	}, time.Second, 5*time.Millisecond)
	event := f.notifier.all()[0]
	assert.Equal(t, "new_message", event.Type)
	assert.Equal(t, "u9", event.SenderID)
	assert.Equal(t, "tomatoes ready", event.Preview)
}

func TestInboundWhileActiveSuppressesUnread(t *testing.T) {
	f := newFixture(t)
	f.initialize(t, "me")
	f.uc.SetActive("u9")

	f.uc.handleInbound(push.InboundMessage{
		SenderID:   "u9",
		ReceiverID: "me",
		Message:    "still there?",
		ReceivedAt: time.Now(),
	})

	got, ok := f.uc.Get("u9")
	require.True(t, ok)
	assert.Equal(t, 0, got.UnreadCount)
	assert.Equal(t, "still there?", got.LastMessage)
	assert.Empty(t, f.notifier.all())
}

func TestInboundForOtherReceiverIsDropped(t *testing.T) {
	f := newFixture(t)
	f.initialize(t, "me")

	f.uc.handleInbound(push.InboundMessage{
		SenderID:   "u9",
		ReceiverID: "someone-else",
		Message:    "misrouted",
	})
	f.uc.handleInbound(push.InboundMessage{
		SenderID:   "me",
		ReceiverID: "me",
		Message:    "echo of my own send",
	})

	assert.Empty(t, f.uc.Conversations())
	assert.Empty(t, f.notifier.all())
}

func TestCloseStopsAllWrites(t *testing.T) {
	f := newFixture(t)
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	f.cache.Save(context.Background(), "me", []entity.Conversation{conv("u1", "cached", t0)})
	f.initialize(t, "me")

	gate := make(chan struct{})
	f.backend.setGate(gate)
	f.backend.setRemote([]entity.Conversation{conv("u2", "late arrival", t0)})
	go f.uc.Refresh()
	require.Eventually(t, func() bool {
		return f.backend.calls() == 2
	}, time.Second, 5*time.Millisecond)

	f.uc.Close()
	close(gate)

	f.uc.AddOrUpdateConversation(conv("u3", "after close", t0))
	f.uc.BumpLastMessage("u1", "after close", true)
	f.uc.handleInbound(push.InboundMessage{SenderID: "u9", ReceiverID: "me", Message: "late"})

	time.Sleep(20 * time.Millisecond)
	list := f.uc.Conversations()
	require.Len(t, list, 1)
	assert.Equal(t, "cached", list[0].LastMessage)
}

func TestSubscribeFailureFallsBackToPolling(t *testing.T) {
	f := newFixture(t)
	f.channel.subErr = fmt.Errorf("push server unreachable")
	f.backend.setRemote([]entity.Conversation{conv("u1", "via poll", time.Now())})

	require.NoError(t, f.uc.Initialize(context.Background(), "me"))

	require.Eventually(t, func() bool {
		return len(f.uc.Conversations()) == 1
	}, time.Second, 5*time.Millisecond)
}
