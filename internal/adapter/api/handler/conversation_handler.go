package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"agrolink/internal/domain/entity"
	"agrolink/internal/usecase"
	"agrolink/pkg/errors"
	"agrolink/pkg/response"
)

type ConversationHandler struct {
	recentUseCase    *usecase.RecentConversationsUseCase
	selectionUseCase *usecase.SelectionUseCase
	sendUseCase      *usecase.SendUseCase
}

func NewConversationHandler(
	recentUseCase *usecase.RecentConversationsUseCase,
	selectionUseCase *usecase.SelectionUseCase,
	sendUseCase *usecase.SendUseCase,
) *ConversationHandler {
	return &ConversationHandler{
		recentUseCase:    recentUseCase,
		selectionUseCase: selectionUseCase,
		sendUseCase:      sendUseCase,
	}
}

type selectConversationRequest struct {
	CounterpartID string `json:"counterpart_id" validate:"required"`
}

type sendMessageRequest struct {
	ReceiverID string             `json:"receiver_id" validate:"required"`
	Text       string             `json:"text"`
	Attachment *entity.Attachment `json:"attachment,omitempty"`
}

type conversationListResponse struct {
	Conversations []entity.Conversation `json:"conversations"`
	Degraded      bool                  `json:"degraded"`
}

// ListConversations returns the canonical recent-conversation list. When the
// latest server fetch failed the cached list is served with a degraded flag
// so the UI can show its connection indicator without blanking the list.
func (h *ConversationHandler) ListConversations(c echo.Context) error {
	return response.Success(c, conversationListResponse{
		Conversations: h.recentUseCase.Conversations(),
		Degraded:      h.recentUseCase.SyncFailed(),
	})
}

// SelectConversation makes a conversation active and clears its unread count.
func (h *ConversationHandler) SelectConversation(c echo.Context) error {
	var req selectConversationRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	conv, err := h.selectionUseCase.Select(c.Request().Context(), req.CounterpartID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, conv)
}

// MarkConversationRead clears the unread counter without changing selection.
func (h *ConversationHandler) MarkConversationRead(c echo.Context) error {
	h.recentUseCase.ClearUnread(c.Param("id"))
	return c.NoContent(http.StatusOK)
}

// SendMessage runs the two-phase optimistic send.
func (h *ConversationHandler) SendMessage(c echo.Context) error {
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	msg, err := h.sendUseCase.SendMessage(c.Request().Context(), usecase.SendMessageInput{
		ReceiverID: req.ReceiverID,
		Text:       req.Text,
		Attachment: req.Attachment,
	})
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, msg)
}

// OpenChat is the deep-link entry point (?chatWith=<counterpartId>). The
// parameter is consumed here exactly once; a pending result means the user
// directory has not loaded yet and the coordinator will re-check on load.
func (h *ConversationHandler) OpenChat(c echo.Context) error {
	counterpartID := c.QueryParam("chatWith")
	if counterpartID == "" {
		return response.Success(c, usecase.DeepLinkResult{State: usecase.DeepLinkFailed})
	}

	result := h.selectionUseCase.ResolveDeepLink(c.Request().Context(), counterpartID)
	switch result.State {
	case usecase.DeepLinkPending:
		return response.Accepted(c, result)
	case usecase.DeepLinkFailed:
		return c.JSON(http.StatusNotFound, result)
	default:
		return response.Success(c, result)
	}
}

// ChatStatus reports the current state of a previously submitted deep link so
// a caller answered Pending can poll for the Selected or Failed transition.
func (h *ConversationHandler) ChatStatus(c echo.Context) error {
	counterpartID := c.QueryParam("chatWith")
	if counterpartID == "" {
		return response.Error(c, errors.BadRequest("chatWith query parameter is required", nil))
	}

	state, ok := h.selectionUseCase.DeepLinkStatus(counterpartID)
	if !ok {
		return response.Error(c, errors.NotFound("Deep link", nil))
	}

	return response.Success(c, usecase.DeepLinkResult{State: state})
}
