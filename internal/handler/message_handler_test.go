package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/unimarket/internal/auth"
	"github.com/hitoshi/unimarket/internal/message"
	"github.com/hitoshi/unimarket/internal/model"
)

// --- モック定義 ---

type mockMessageService struct {
	startConversationFn func(ctx context.Context, actor *model.Actor, listingID string) (*model.Conversation, error)
	listConversationsFn func(ctx context.Context, actor *model.Actor) ([]model.ConversationSummary, error)
	getMessagesFn       func(ctx context.Context, actor *model.Actor, conversationID string) (*message.Thread, error)
	sendFn              func(ctx context.Context, actor *model.Actor, conversationID, content string) (*model.Message, error)
}

func (m *mockMessageService) StartConversation(ctx context.Context, actor *model.Actor, listingID string) (*model.Conversation, error) {
	if m.startConversationFn != nil {
		return m.startConversationFn(ctx, actor, listingID)
	}
	return &model.Conversation{}, nil
}

func (m *mockMessageService) ListConversations(ctx context.Context, actor *model.Actor) ([]model.ConversationSummary, error) {
	if m.listConversationsFn != nil {
		return m.listConversationsFn(ctx, actor)
	}
	return nil, nil
}

func (m *mockMessageService) GetMessages(ctx context.Context, actor *model.Actor, conversationID string) (*message.Thread, error) {
	if m.getMessagesFn != nil {
		return m.getMessagesFn(ctx, actor, conversationID)
	}
	return &message.Thread{Conversation: &model.Conversation{}}, nil
}

func (m *mockMessageService) Send(ctx context.Context, actor *model.Actor, conversationID, content string) (*model.Message, error) {
	if m.sendFn != nil {
		return m.sendFn(ctx, actor, conversationID, content)
	}
	return &model.Message{}, nil
}

func sampleConversation() *model.Conversation {
	return &model.Conversation{
		ID:        "conv-1",
		ListingID: "listing-1",
		BuyerID:   "buyer-1",
		SellerID:  "seller-1",
		CreatedAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}
}

// --- テスト ---

func TestMessageHandler_StartConversation(t *testing.T) {
	var gotListing string
	svc := &mockMessageService{
		startConversationFn: func(ctx context.Context, actor *model.Actor, listingID string) (*model.Conversation, error) {
			gotListing = listingID
			return sampleConversation(), nil
		},
	}
	h := NewMessageHandler(svc)

	req := withActor(jsonRequest(t, http.MethodPost, "/api/conversations", map[string]string{"listing_id": "listing-1"}), "buyer-1")
	w := httptest.NewRecorder()

	h.StartConversation(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotListing != "listing-1" {
		t.Errorf("listing = %q, want listing-1", gotListing)
	}
	var body conversationResponse
	decodeBody(t, w, &body)
	if body.ID != "conv-1" || body.SellerID != "seller-1" {
		t.Errorf("unexpected conversation: %+v", body)
	}
}

func TestMessageHandler_StartConversation_Validation(t *testing.T) {
	tests := []struct {
		name       string
		body       map[string]string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"listing_idなし", map[string]string{}, nil, http.StatusBadRequest, model.ErrCodeInvalidRequest},
		{"自分の出品", map[string]string{"listing_id": "l1"}, model.NewSelfConversationError(), http.StatusBadRequest, model.ErrCodeSelfConversation},
		{"存在しない出品", map[string]string{"listing_id": "l1"}, model.NewListingNotFoundError("l1"), http.StatusNotFound, model.ErrCodeListingNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockMessageService{
				startConversationFn: func(ctx context.Context, actor *model.Actor, listingID string) (*model.Conversation, error) {
					return nil, tt.err
				},
			}
			h := NewMessageHandler(svc)

			req := withActor(jsonRequest(t, http.MethodPost, "/api/conversations", tt.body), "buyer-1")
			w := httptest.NewRecorder()

			h.StartConversation(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if body := parseAPIErrorResponse(t, w); body["code"] != tt.wantCode {
				t.Errorf("code = %q, want %q", body["code"], tt.wantCode)
			}
		})
	}
}

func TestMessageHandler_ListConversations(t *testing.T) {
	last := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	svc := &mockMessageService{
		listConversationsFn: func(ctx context.Context, actor *model.Actor) ([]model.ConversationSummary, error) {
			return []model.ConversationSummary{{
				Conversation:      *sampleConversation(),
				ListingTitle:      "Desk Lamp",
				OtherUserID:       "seller-1",
				OtherUserName:     "Taro Sato",
				LastMessage:       "Is it still available?",
				LastMessageAt:     &last,
				LastMessageIsMine: true,
				UnreadCount:       0,
			}}, nil
		},
	}
	h := NewMessageHandler(svc)

	w := httptest.NewRecorder()
	h.ListConversations(w, withActor(httptest.NewRequest(http.MethodGet, "/api/conversations", nil), "buyer-1"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body []conversationSummaryResponse
	decodeBody(t, w, &body)
	if len(body) != 1 {
		t.Fatalf("len = %d, want 1", len(body))
	}
	if body[0].ID != "conv-1" || body[0].OtherUserName != "Taro Sato" || !body[0].LastMessageIsMine {
		t.Errorf("unexpected summary: %+v", body[0])
	}
}

func TestMessageHandler_GetMessages_ReturnsCurrentUserID(t *testing.T) {
	var gotConv string
	svc := &mockMessageService{
		getMessagesFn: func(ctx context.Context, actor *model.Actor, conversationID string) (*message.Thread, error) {
			gotConv = conversationID
			return &message.Thread{
				Conversation: sampleConversation(),
				Messages: []*model.Message{
					{ID: "m1", ConversationID: conversationID, SenderID: "buyer-1", RecipientID: "seller-1", Content: "Hi"},
					{ID: "m2", ConversationID: conversationID, SenderID: "seller-1", RecipientID: "buyer-1", Content: "Hello"},
				},
				CurrentUserID: actor.ID,
			}, nil
		},
	}
	h := NewMessageHandler(svc)

	req := withChiURLParam(withActor(httptest.NewRequest(http.MethodGet, "/api/messages/conv-1", nil), "buyer-1"), "conversationID", "conv-1")
	w := httptest.NewRecorder()

	h.GetMessages(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotConv != "conv-1" {
		t.Errorf("conversation = %q, want conv-1", gotConv)
	}
	var body threadResponse
	decodeBody(t, w, &body)
	if body.CurrentUserID != "buyer-1" || len(body.Messages) != 2 {
		t.Errorf("unexpected thread: %+v", body)
	}
}

func TestMessageHandler_GetMessages_NonParticipant_Returns403(t *testing.T) {
	svc := &mockMessageService{
		getMessagesFn: func(ctx context.Context, actor *model.Actor, conversationID string) (*message.Thread, error) {
			return nil, &auth.Error{Kind: auth.KindDenied, Op: "get messages", ActorID: actor.ID, ResourceID: conversationID}
		},
	}
	h := NewMessageHandler(svc)

	req := withChiURLParam(withActor(httptest.NewRequest(http.MethodGet, "/api/messages/conv-1", nil), "outsider"), "conversationID", "conv-1")
	w := httptest.NewRecorder()

	h.GetMessages(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestMessageHandler_Send(t *testing.T) {
	var gotConv, gotContent string
	svc := &mockMessageService{
		sendFn: func(ctx context.Context, actor *model.Actor, conversationID, content string) (*model.Message, error) {
			gotConv, gotContent = conversationID, content
			return &model.Message{ID: "m3", ConversationID: conversationID, SenderID: actor.ID, RecipientID: "seller-1", Content: content}, nil
		},
	}
	h := NewMessageHandler(svc)

	req := withActor(jsonRequest(t, http.MethodPost, "/api/messages", map[string]string{
		"conversation_id": "conv-1",
		"content":         "Can we meet at the library?",
	}), "buyer-1")
	w := httptest.NewRecorder()

	h.Send(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	if gotConv != "conv-1" || gotContent != "Can we meet at the library?" {
		t.Errorf("got (%q, %q)", gotConv, gotContent)
	}
	var body messageItemResponse
	decodeBody(t, w, &body)
	if body.SenderID != "buyer-1" {
		t.Errorf("sender = %q, want buyer-1", body.SenderID)
	}
}

func TestMessageHandler_Send_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       map[string]string
		err        error
		wantStatus int
	}{
		{"conversation_idなし", map[string]string{"content": "hi"}, nil, http.StatusBadRequest},
		{"空のメッセージ", map[string]string{"conversation_id": "conv-1"}, model.NewMessageEmptyError(), http.StatusBadRequest},
		{"長すぎるメッセージ", map[string]string{"conversation_id": "conv-1", "content": "x"}, model.NewMessageTooLongError(2000), http.StatusBadRequest},
		{"参加者以外", map[string]string{"conversation_id": "conv-1", "content": "hi"}, &auth.Error{Kind: auth.KindDenied}, http.StatusForbidden},
		{"存在しない会話", map[string]string{"conversation_id": "nope", "content": "hi"}, &auth.Error{Kind: auth.KindNotFound, ResourceID: "nope"}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockMessageService{
				sendFn: func(ctx context.Context, actor *model.Actor, conversationID, content string) (*model.Message, error) {
					return nil, tt.err
				},
			}
			h := NewMessageHandler(svc)

			req := withActor(jsonRequest(t, http.MethodPost, "/api/messages", tt.body), "buyer-1")
			w := httptest.NewRecorder()

			h.Send(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}
