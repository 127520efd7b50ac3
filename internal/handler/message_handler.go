package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/unimarket/internal/message"
	"github.com/hitoshi/unimarket/internal/model"
)

// MessageServiceInterface はメッセージハンドラーが必要とするサービスインターフェース。
type MessageServiceInterface interface {
	StartConversation(ctx context.Context, actor *model.Actor, listingID string) (*model.Conversation, error)
	ListConversations(ctx context.Context, actor *model.Actor) ([]model.ConversationSummary, error)
	GetMessages(ctx context.Context, actor *model.Actor, conversationID string) (*message.Thread, error)
	Send(ctx context.Context, actor *model.Actor, conversationID, content string) (*model.Message, error)
}

// MessageHandler は購入希望者と出品者のメッセージのHTTPハンドラー。
type MessageHandler struct {
	service MessageServiceInterface
}

// NewMessageHandler はMessageHandlerを生成する。
func NewMessageHandler(service MessageServiceInterface) *MessageHandler {
	return &MessageHandler{service: service}
}

type conversationResponse struct {
	ID        string    `json:"id"`
	ListingID string    `json:"listing_id,omitempty"`
	BuyerID   string    `json:"buyer_id"`
	SellerID  string    `json:"seller_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type conversationSummaryResponse struct {
	conversationResponse
	ListingTitle      string     `json:"listing_title"`
	OtherUserID       string     `json:"other_user_id"`
	OtherUserName     string     `json:"other_user_name"`
	OtherUserPicture  string     `json:"other_user_picture,omitempty"`
	LastMessage       string     `json:"last_message"`
	LastMessageAt     *time.Time `json:"last_message_at,omitempty"`
	LastMessageIsMine bool       `json:"last_message_is_mine"`
	UnreadCount       int        `json:"unread_count"`
}

type messageItemResponse struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SenderID       string     `json:"sender_id"`
	RecipientID    string     `json:"recipient_id"`
	Content        string     `json:"content"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

type threadResponse struct {
	Conversation  conversationResponse  `json:"conversation"`
	Messages      []messageItemResponse `json:"messages"`
	CurrentUserID string                `json:"current_user_id"`
}

type startConversationRequest struct {
	ListingID string `json:"listing_id"`
}

type sendMessageRequest struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
}

func toConversationResponse(c *model.Conversation) conversationResponse {
	return conversationResponse{
		ID:        c.ID,
		ListingID: c.ListingID,
		BuyerID:   c.BuyerID,
		SellerID:  c.SellerID,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func toMessageItemResponse(m *model.Message) messageItemResponse {
	return messageItemResponse{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		RecipientID:    m.RecipientID,
		Content:        m.Content,
		ReadAt:         m.ReadAt,
		CreatedAt:      m.CreatedAt,
	}
}

// ListConversations は行為者が参加している会話の一覧を返す。
// GET /api/conversations
func (h *MessageHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	convs, err := h.service.ListConversations(r.Context(), actor)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	out := make([]conversationSummaryResponse, 0, len(convs))
	for i := range convs {
		c := &convs[i]
		out = append(out, conversationSummaryResponse{
			conversationResponse: toConversationResponse(&c.Conversation),
			ListingTitle:         c.ListingTitle,
			OtherUserID:          c.OtherUserID,
			OtherUserName:        c.OtherUserName,
			OtherUserPicture:     c.OtherUserPicture,
			LastMessage:          c.LastMessage,
			LastMessageAt:        c.LastMessageAt,
			LastMessageIsMine:    c.LastMessageIsMine,
			UnreadCount:          c.UnreadCount,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// StartConversation は出品について出品者との会話を開始する。既存の会話があればそれを返す。
// POST /api/conversations
func (h *MessageHandler) StartConversation(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req startConversationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ListingID == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("listing_id is required"))
		return
	}

	conv, err := h.service.StartConversation(r.Context(), actor, req.ListingID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toConversationResponse(conv))
}

// GetMessages は会話のメッセージ一覧を返し、受信メッセージを既読にする。
// GET /api/messages/{conversationID}
func (h *MessageHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	thread, err := h.service.GetMessages(r.Context(), actor, chi.URLParam(r, "conversationID"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := threadResponse{
		Conversation:  toConversationResponse(thread.Conversation),
		Messages:      make([]messageItemResponse, 0, len(thread.Messages)),
		CurrentUserID: thread.CurrentUserID,
	}
	for _, m := range thread.Messages {
		resp.Messages = append(resp.Messages, toMessageItemResponse(m))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Send は会話にメッセージを送信する。
// POST /api/messages
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req sendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ConversationID == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("conversation_id is required"))
		return
	}

	msg, err := h.service.Send(r.Context(), actor, req.ConversationID, req.Content)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toMessageItemResponse(msg))
}
