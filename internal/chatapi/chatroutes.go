package chatapi

import (
	"net/http"
	"strings"

	serverops "github.com/caonguyenthanhan/medruntime/apiframework"
	"github.com/caonguyenthanhan/medruntime/chatservice"
)

func AddChatRoutes(mux *http.ServeMux, service chatservice.Service, chatRoute, friendChatRoute chatservice.Route) {
	h := &handler{service: service}

	mux.HandleFunc("POST /chat/completions", h.dispatchTo(chatRoute))
	mux.HandleFunc("POST /friend-chat/completions", h.dispatchTo(friendChatRoute))
}

type handler struct {
	service chatservice.Service
}

// chatBody accepts the loose wire shapes real clients send: the message can
// arrive under message, prompt, or question, and history under
// conversationHistory or messages.
type chatBody struct {
	Message  string `json:"message"`
	Prompt   string `json:"prompt"`
	Question string `json:"question"`

	ConversationHistory []historyEntry `json:"conversationHistory"`
	Messages            []historyEntry `json:"messages"`

	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Model          string `json:"model"`
}

type historyEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	IsUser  bool   `json:"isUser"`
}

// Dispatches a chat turn through the compute-mode router.
//
// The resolved target answers the request; on a gpu failure the router
// silently retries the route's local fallback once, surfacing the downgrade
// only via metadata.fallback.
func (h *handler) dispatchTo(route chatservice.Route) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		body, err := serverops.Decode[chatBody](r) // @request chatapi.chatBody
		if err != nil {
			_ = serverops.Error(w, r, err, serverops.ExecuteOperation)
			return
		}

		req := normalize(&body)
		req.Authorization = r.Header.Get("Authorization")

		result, err := h.service.Dispatch(ctx, route, req)
		if err != nil {
			_ = serverops.Error(w, r, err, serverops.ExecuteOperation)
			return
		}

		_ = serverops.Encode(w, r, http.StatusOK, result) // @response chatservice.ChatResult
	}
}

// normalize collapses the accepted aliases into the canonical request.
func normalize(body *chatBody) *chatservice.ChatRequest {
	message := strings.TrimSpace(body.Message)
	if message == "" {
		message = strings.TrimSpace(body.Prompt)
	}
	if message == "" {
		message = strings.TrimSpace(body.Question)
	}

	entries := body.ConversationHistory
	if len(entries) == 0 {
		entries = body.Messages
	}
	history := make([]chatservice.Message, 0, len(entries))
	for _, e := range entries {
		role := e.Role
		if role == "" {
			role = "assistant"
			if e.IsUser {
				role = "user"
			}
		}
		history = append(history, chatservice.Message{Role: role, Content: e.Content})
	}

	return &chatservice.ChatRequest{
		Message:        message,
		History:        history,
		ConversationID: body.ConversationID,
		UserID:         body.UserID,
		Model:          strings.ToLower(body.Model),
	}
}
