package router

import (
	"github.com/labstack/echo/v4"

	"agrolink/internal/adapter/api/handler"
)

// SetupConversationRouter wires the conversation edge API.
func SetupConversationRouter(e *echo.Echo, conversationHandler *handler.ConversationHandler) {
	group := e.Group("/v1")

	group.GET("/conversations", conversationHandler.ListConversations)          // GET /v1/conversations - canonical list
	group.POST("/conversations/select", conversationHandler.SelectConversation) // POST /v1/conversations/select - set active
	group.PUT("/conversations/:id/read", conversationHandler.MarkConversationRead)

	group.POST("/messages", conversationHandler.SendMessage) // POST /v1/messages - two-phase send

	group.GET("/chat", conversationHandler.OpenChat)          // GET /v1/chat?chatWith=<id> - deep link
	group.GET("/chat/status", conversationHandler.ChatStatus) // GET /v1/chat/status?chatWith=<id> - deep-link state
}
