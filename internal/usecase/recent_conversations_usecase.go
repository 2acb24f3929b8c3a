package usecase

import (
	"context"
	"log"
	"sync"
	"time"

	"agrolink/internal/domain/entity"
	"agrolink/internal/domain/repository"
	"agrolink/internal/infrastructure/push"
	"agrolink/pkg/errors"
)

// maxPendingOps bounds the queue of operations posted before Initialize
// completes. Anything beyond the bound is dropped and logged.
const maxPendingOps = 32

// RecentConversationsUseCase owns the canonical recent-conversation list for
// one signed-in user. Every mutation runs under one mutex, so the periodic
// refresh timer, the push listener and direct user operations can never race
// each other's writes. Transient failures (fetch, cache, push disconnect)
// degrade to the last-known-good list and never escape the public operations.
type RecentConversationsUseCase struct {
	cache           repository.ConversationCache
	backend         BackendClient
	channel         PushChannel
	notifier        Notifier
	refreshInterval time.Duration

	mutex         sync.Mutex
	userID        string
	conversations []entity.Conversation
	active        string

	// clock stamps every conversation mutation; issued/applied order refresh
	// responses so a stale fetch can never clobber newer state.
	clock   uint64
	issued  uint64
	applied uint64

	fetching   bool
	syncFailed bool
	ready      bool
	closed     bool
	pending    []func()

	ctx    context.Context
	cancel context.CancelFunc
}

func NewRecentConversationsUseCase(
	cache repository.ConversationCache,
	backend BackendClient,
	channel PushChannel,
	notifier Notifier,
	refreshInterval time.Duration,
) *RecentConversationsUseCase {
	if refreshInterval <= 0 {
		refreshInterval = 45 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RecentConversationsUseCase{
		cache:           cache,
		backend:         backend,
		channel:         channel,
		notifier:        notifier,
		refreshInterval: refreshInterval,
		ctx:             ctx,
		cancel:          cancel,
	}
}

// Initialize hydrates the list synchronously from the durable cache, then
// kicks off the async server fetch, the push subscription and the periodic
// refresh. Operations queued before this point are flushed once, in order.
func (uc *RecentConversationsUseCase) Initialize(ctx context.Context, userID string) error {
	if userID == "" {
		return errors.BadRequest("User id is required", nil)
	}

	uc.mutex.Lock()
	if uc.closed {
		uc.mutex.Unlock()
		return errors.Conflict("Controller is closed")
	}
	if uc.ready {
		uc.mutex.Unlock()
		return nil
	}
	uc.userID = userID

	cached := uc.cache.Load(ctx, userID)
	for i := range cached {
		cached[i].Origin = entity.OriginLocal
	}
	sortCanonical(cached)
	uc.conversations = cached
	uc.ready = true

	queued := uc.pending
	uc.pending = nil
	uc.mutex.Unlock()

	for _, op := range queued {
		op()
	}

	events, err := uc.channel.Subscribe(uc.ctx, userID)
	if err != nil {
		log.Printf("Initialize Warning: push subscription failed for user %s, relying on periodic refresh: %v", userID, err)
	} else {
		go uc.listenLoop(events)
	}

	go uc.pollLoop()
	go uc.Refresh()

	return nil
}

// Refresh re-fetches the server list and reconciles it. Single-flight: a
// call while a fetch is outstanding coalesces into it. Responses are applied
// strictly in issue order; anything older than the latest applied snapshot
// is discarded.
func (uc *RecentConversationsUseCase) Refresh() {
	uc.mutex.Lock()
	if uc.closed || !uc.ready || uc.fetching {
		uc.mutex.Unlock()
		return
	}
	uc.fetching = true
	uc.issued++
	seq := uc.issued
	snapshotClock := uc.clock
	userID := uc.userID
	uc.mutex.Unlock()

	remote, err := uc.backend.FetchRecentConversations(uc.ctx, userID)

	uc.mutex.Lock()
	defer uc.mutex.Unlock()

	uc.fetching = false
	if uc.closed {
		return
	}
	if err != nil {
		log.Printf("Refresh Error: fetch failed for user %s, keeping cached list: %v", userID, err)
		uc.syncFailed = true
		return
	}
	uc.syncFailed = false

	if seq <= uc.applied {
		return
	}
	uc.applied = seq

	for i := range remote {
		remote[i].Clock = snapshotClock
	}
	uc.conversations = mergeWithClock(remote, uc.conversations, snapshotClock)
	uc.persistLocked()
}

// AddOrUpdateConversation upserts by counterpart id. Absent entries are
// created with the given unread count (zero unless specified); existing
// entries take the partial's non-empty fields. Self-conversations are
// rejected at every entry point.
func (uc *RecentConversationsUseCase) AddOrUpdateConversation(partial entity.Conversation) {
	uc.mutex.Lock()
	if uc.closed {
		uc.mutex.Unlock()
		return
	}
	if !uc.ready {
		uc.enqueueLocked(func() { uc.AddOrUpdateConversation(partial) })
		uc.mutex.Unlock()
		return
	}
	defer uc.mutex.Unlock()

	if partial.CounterpartID == "" || partial.CounterpartID == uc.userID {
		log.Printf("AddOrUpdateConversation: rejected invalid counterpart %q for user %s", partial.CounterpartID, uc.userID)
		return
	}

	uc.clock++
	if i, ok := uc.indexOfLocked(partial.CounterpartID); ok {
		conv := &uc.conversations[i]
		if partial.DisplayName != "" {
			conv.DisplayName = partial.DisplayName
		}
		if partial.AvatarURL != "" {
			conv.AvatarURL = partial.AvatarURL
		}
		if partial.Role != "" && partial.Role != entity.RoleUnknown {
			conv.Role = entity.NormalizeRole(partial.Role)
		}
		if partial.LastMessage != "" {
			conv.LastMessage = partial.LastMessage
		}
		if !partial.LastMessageAt.IsZero() {
			conv.LastMessageAt = partial.LastMessageAt
		}
		conv.Clock = uc.clock
		conv.Origin = entity.OriginLocal
	} else {
		partial.Role = entity.NormalizeRole(partial.Role)
		if partial.UnreadCount < 0 {
			partial.UnreadCount = 0
		}
		partial.Clock = uc.clock
		partial.Origin = entity.OriginLocal
		uc.conversations = append(uc.conversations, partial)
	}

	sortCanonical(uc.conversations)
	uc.persistLocked()
}

// BumpLastMessage updates the conversation's preview line, optionally
// incrementing the unread counter. Missing conversations are a logged no-op;
// the caller is expected to have upserted first.
func (uc *RecentConversationsUseCase) BumpLastMessage(counterpartID, text string, incrementUnread bool) {
	uc.bump(counterpartID, text, time.Now(), incrementUnread)
}

func (uc *RecentConversationsUseCase) bump(counterpartID, text string, at time.Time, incrementUnread bool) {
	uc.mutex.Lock()
	if uc.closed {
		uc.mutex.Unlock()
		return
	}
	if !uc.ready {
		uc.enqueueLocked(func() { uc.bump(counterpartID, text, at, incrementUnread) })
		uc.mutex.Unlock()
		return
	}
	defer uc.mutex.Unlock()

	i, ok := uc.indexOfLocked(counterpartID)
	if !ok {
		log.Printf("BumpLastMessage: no conversation with %s for user %s, ignoring", counterpartID, uc.userID)
		return
	}

	uc.clock++
	conv := &uc.conversations[i]
	conv.LastMessage = text
	conv.LastMessageAt = at
	if incrementUnread {
		conv.UnreadCount++
	}
	conv.Clock = uc.clock
	conv.Origin = entity.OriginLocal

	sortCanonical(uc.conversations)
	uc.persistLocked()
}

// ClearUnread zeroes the unread counter. Missing conversations are a no-op.
func (uc *RecentConversationsUseCase) ClearUnread(counterpartID string) {
	uc.mutex.Lock()
	if uc.closed {
		uc.mutex.Unlock()
		return
	}
	if !uc.ready {
		uc.enqueueLocked(func() { uc.ClearUnread(counterpartID) })
		uc.mutex.Unlock()
		return
	}
	defer uc.mutex.Unlock()

	i, ok := uc.indexOfLocked(counterpartID)
	if !ok {
		return
	}
	if uc.conversations[i].UnreadCount == 0 {
		return
	}

	uc.clock++
	uc.conversations[i].UnreadCount = 0
	uc.conversations[i].Clock = uc.clock
	uc.persistLocked()
}

// SetActive marks the conversation whose unread increments are suppressed.
// Empty id means no conversation is open.
func (uc *RecentConversationsUseCase) SetActive(counterpartID string) {
	uc.mutex.Lock()
	defer uc.mutex.Unlock()
	if uc.closed {
		return
	}
	uc.active = counterpartID
}

func (uc *RecentConversationsUseCase) Active() string {
	uc.mutex.Lock()
	defer uc.mutex.Unlock()
	return uc.active
}

// Conversations returns a copy of the canonical list.
func (uc *RecentConversationsUseCase) Conversations() []entity.Conversation {
	uc.mutex.Lock()
	defer uc.mutex.Unlock()
	list := make([]entity.Conversation, len(uc.conversations))
	copy(list, uc.conversations)
	return list
}

// Get returns the conversation for a counterpart, if present.
func (uc *RecentConversationsUseCase) Get(counterpartID string) (entity.Conversation, bool) {
	uc.mutex.Lock()
	defer uc.mutex.Unlock()
	if i, ok := uc.indexOfLocked(counterpartID); ok {
		return uc.conversations[i], true
	}
	return entity.Conversation{}, false
}

func (uc *RecentConversationsUseCase) UserID() string {
	uc.mutex.Lock()
	defer uc.mutex.Unlock()
	return uc.userID
}

// SyncFailed reports whether the latest server fetch failed. The UI shows a
// non-blocking connection indicator off this; the cached list keeps serving.
func (uc *RecentConversationsUseCase) SyncFailed() bool {
	uc.mutex.Lock()
	defer uc.mutex.Unlock()
	return uc.syncFailed
}

// Close tears the controller down: the refresh timer stops, the push
// subscription closes and any in-flight fetch result is discarded on
// arrival. No state write happens after Close returns.
func (uc *RecentConversationsUseCase) Close() {
	uc.mutex.Lock()
	if uc.closed {
		uc.mutex.Unlock()
		return
	}
	uc.closed = true
	uc.pending = nil
	uc.mutex.Unlock()

	uc.cancel()
	if err := uc.channel.Close(); err != nil {
		log.Printf("Close Warning: push channel close: %v", err)
	}
}

// handleInbound applies one push-delivered message. Events are applied in
// arrival order; an event for another receiver is dropped outright so one
// account's stream can never bleed into another's list.
func (uc *RecentConversationsUseCase) handleInbound(ev push.InboundMessage) {
	uc.mutex.Lock()
	if uc.closed || !uc.ready {
		uc.mutex.Unlock()
		return
	}
	if ev.ReceiverID != uc.userID || ev.SenderID == uc.userID || ev.SenderID == "" {
		uc.mutex.Unlock()
		return
	}

	uc.clock++
	suppressed := uc.active == ev.SenderID
	sentAt := ev.SentAt()

	if i, ok := uc.indexOfLocked(ev.SenderID); ok {
		conv := &uc.conversations[i]
		conv.LastMessage = ev.Message
		conv.LastMessageAt = sentAt
		if ev.SenderName != "" {
			conv.DisplayName = ev.SenderName
		}
		if !suppressed {
			conv.UnreadCount++
		}
		conv.Clock = uc.clock
		conv.Origin = entity.OriginLocal
	} else {
		conv := entity.Conversation{
			CounterpartID: ev.SenderID,
			DisplayName:   ev.SenderName,
			Role:          entity.RoleUnknown,
			LastMessage:   ev.Message,
			LastMessageAt: sentAt,
			Origin:        entity.OriginLocal,
			Clock:         uc.clock,
		}
		if !suppressed {
			conv.UnreadCount = 1
		}
		uc.conversations = append(uc.conversations, conv)
	}

	sortCanonical(uc.conversations)
	uc.persistLocked()

	userID := uc.userID
	uc.mutex.Unlock()

	if !suppressed && uc.notifier != nil {
		uc.notifier.Notify(userID, push.NotificationEvent{
			Type:       "new_message",
			SenderID:   ev.SenderID,
			SenderName: ev.SenderName,
			Preview:    ev.Message,
			SentAt:     sentAt,
		})
	}
}

func (uc *RecentConversationsUseCase) listenLoop(events <-chan push.InboundMessage) {
	for ev := range events {
		uc.handleInbound(ev)
	}
	log.Printf("Push channel closed for user %s, relying on periodic refresh", uc.UserID())
}

func (uc *RecentConversationsUseCase) pollLoop() {
	ticker := time.NewTicker(uc.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			uc.Refresh()
		case <-uc.ctx.Done():
			return
		}
	}
}

// persistLocked writes the current list through to the durable cache. Cache
// failure is non-fatal; the in-memory list stays authoritative.
func (uc *RecentConversationsUseCase) persistLocked() {
	if err := uc.cache.Save(uc.ctx, uc.userID, uc.conversations); err != nil {
		log.Printf("Persist Warning: cache save failed for user %s: %v", uc.userID, err)
	}
}

func (uc *RecentConversationsUseCase) indexOfLocked(counterpartID string) (int, bool) {
	for i := range uc.conversations {
		if uc.conversations[i].CounterpartID == counterpartID {
			return i, true
		}
	}
	return 0, false
}

func (uc *RecentConversationsUseCase) enqueueLocked(op func()) {
	if len(uc.pending) >= maxPendingOps {
		log.Printf("Pending queue full (%d), dropping operation for user %s", maxPendingOps, uc.userID)
		return
	}
	uc.pending = append(uc.pending, op)
}
