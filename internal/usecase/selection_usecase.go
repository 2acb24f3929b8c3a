package usecase

import (
	"context"
	"log"
	"sync"

	"agrolink/internal/domain/entity"
	"agrolink/pkg/errors"
)

// Deep-link resolution states. A link is Pending until the user directory
// has loaded, then moves to Resolved and Selected, or terminally to Failed.
type DeepLinkState string

const (
	DeepLinkPending  DeepLinkState = "pending"
	DeepLinkResolved DeepLinkState = "resolved"
	DeepLinkSelected DeepLinkState = "selected"
	DeepLinkFailed   DeepLinkState = "failed"
)

type DeepLinkResult struct {
	State        DeepLinkState        `json:"state"`
	Conversation *entity.Conversation `json:"conversation,omitempty"`
}

// SelectionUseCase decides which conversation is active. It guards against
// self-selection, synthesizes conversations from the user directory when a
// counterpart has no history yet, and resolves deep links (notification
// clicks, chatWith URL parameters) against the directory.
type SelectionUseCase struct {
	recent  *RecentConversationsUseCase
	backend BackendClient

	mutex           sync.Mutex
	directory       map[string]entity.User
	directoryLoaded bool
	pendingLink     string
	linkStates      map[string]DeepLinkState
}

func NewSelectionUseCase(recent *RecentConversationsUseCase, backend BackendClient) *SelectionUseCase {
	return &SelectionUseCase{
		recent:     recent,
		backend:    backend,
		directory:  make(map[string]entity.User),
		linkStates: make(map[string]DeepLinkState),
	}
}

// Select makes the counterpart's conversation active: unread cleared, further
// unread increments suppressed, mark-as-read fired at the backend. A missing
// conversation is synthesized from the user directory. Selecting oneself is
// rejected and leaves the conversation set untouched.
func (uc *SelectionUseCase) Select(ctx context.Context, counterpartID string) (*entity.Conversation, error) {
	userID := uc.recent.UserID()
	if counterpartID == "" {
		return nil, errors.BadRequest("Counterpart id is required", nil)
	}
	if counterpartID == userID {
		log.Printf("Select: user %s attempted to open a chat with themselves", userID)
		return nil, errors.BadRequest("You cannot open a chat with yourself", nil)
	}

	conv, ok := uc.recent.Get(counterpartID)
	if !ok {
		user, found := uc.lookup(counterpartID)
		if !found {
			return nil, errors.NotFound("Counterpart", nil)
		}
		synthesized := entity.Conversation{
			CounterpartID: user.ID,
			DisplayName:   user.Name,
			AvatarURL:     user.Picture,
			Role:          entity.NormalizeRole(user.Role),
		}
		uc.recent.AddOrUpdateConversation(synthesized)
		if upserted, found := uc.recent.Get(counterpartID); found {
			conv = upserted
		} else {
			conv = synthesized
		}
	}

	uc.recent.SetActive(counterpartID)
	uc.recent.ClearUnread(counterpartID)
	conv.UnreadCount = 0

	go func() {
		if err := uc.backend.MarkMessagesRead(context.Background(), userID, counterpartID); err != nil {
			log.Printf("Select Warning: mark-as-read failed for %s/%s: %v", userID, counterpartID, err)
		}
	}()

	return &conv, nil
}

// Deselect clears the active conversation so unread counting resumes.
func (uc *SelectionUseCase) Deselect() {
	uc.recent.SetActive("")
}

// LoadDirectory fetches the platform user directory and runs the single
// deferred re-check for a deep link that arrived before the directory was
// available. After this, unresolved links fail terminally.
func (uc *SelectionUseCase) LoadDirectory(ctx context.Context) error {
	users, err := uc.backend.FetchUsers(ctx)
	if err != nil {
		return errors.Unavailable("User directory fetch failed", err)
	}

	uc.mutex.Lock()
	for _, u := range users {
		uc.directory[u.ID] = u
	}
	uc.directoryLoaded = true
	link := uc.pendingLink
	uc.pendingLink = ""
	uc.mutex.Unlock()

	if link != "" {
		uc.resolveLink(ctx, link)
	}
	return nil
}

// ResolveDeepLink handles an externally supplied counterpart id. Before the
// directory loads the request is queued (one slot; a newer link replaces an
// older one) and reported Pending; afterwards it resolves immediately.
func (uc *SelectionUseCase) ResolveDeepLink(ctx context.Context, counterpartID string) DeepLinkResult {
	if counterpartID == "" {
		return DeepLinkResult{State: DeepLinkFailed}
	}

	uc.mutex.Lock()
	if !uc.directoryLoaded {
		if uc.pendingLink != "" && uc.pendingLink != counterpartID {
			log.Printf("ResolveDeepLink: replacing queued link %s with %s", uc.pendingLink, counterpartID)
			uc.linkStates[uc.pendingLink] = DeepLinkFailed
		}
		uc.pendingLink = counterpartID
		uc.linkStates[counterpartID] = DeepLinkPending
		uc.mutex.Unlock()
		return DeepLinkResult{State: DeepLinkPending}
	}
	uc.mutex.Unlock()

	return uc.resolveLink(ctx, counterpartID)
}

// DeepLinkStatus reports the last observed state for a link id.
func (uc *SelectionUseCase) DeepLinkStatus(counterpartID string) (DeepLinkState, bool) {
	uc.mutex.Lock()
	defer uc.mutex.Unlock()
	state, ok := uc.linkStates[counterpartID]
	return state, ok
}

func (uc *SelectionUseCase) resolveLink(ctx context.Context, counterpartID string) DeepLinkResult {
	if _, found := uc.lookup(counterpartID); !found {
		log.Printf("ResolveDeepLink: counterpart %s not in directory, failing terminally", counterpartID)
		uc.setLinkState(counterpartID, DeepLinkFailed)
		return DeepLinkResult{State: DeepLinkFailed}
	}
	uc.setLinkState(counterpartID, DeepLinkResolved)

	conv, err := uc.Select(ctx, counterpartID)
	if err != nil {
		log.Printf("ResolveDeepLink: selection of %s failed: %v", counterpartID, err)
		uc.setLinkState(counterpartID, DeepLinkFailed)
		return DeepLinkResult{State: DeepLinkFailed}
	}

	uc.setLinkState(counterpartID, DeepLinkSelected)
	return DeepLinkResult{State: DeepLinkSelected, Conversation: conv}
}

func (uc *SelectionUseCase) setLinkState(counterpartID string, state DeepLinkState) {
	uc.mutex.Lock()
	uc.linkStates[counterpartID] = state
	uc.mutex.Unlock()
}

func (uc *SelectionUseCase) lookup(counterpartID string) (entity.User, bool) {
	uc.mutex.Lock()
	defer uc.mutex.Unlock()
	user, ok := uc.directory[counterpartID]
	return user, ok
}
