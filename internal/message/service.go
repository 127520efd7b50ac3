// Package message は購入希望者と出品者の間のメッセージ交換のドメインロジックを提供する。
package message

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/unimarket/internal/auth"
	"github.com/hitoshi/unimarket/internal/model"
	"github.com/hitoshi/unimarket/internal/repository"
	"github.com/hitoshi/unimarket/internal/security"
)

// MaxContentLength はメッセージ本文の最大文字数。
const MaxContentLength = 2000

// Thread は会話とそのメッセージ一覧。
type Thread struct {
	Conversation  *model.Conversation
	Messages      []*model.Message
	CurrentUserID string
}

// Service はメッセージのサービス層。
type Service struct {
	conversations repository.ConversationRepository
	listings      repository.ListingRepository
	sanitizer     security.ContentSanitizer
	now           func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	conversations repository.ConversationRepository,
	listings repository.ListingRepository,
	sanitizer security.ContentSanitizer,
) *Service {
	return &Service{
		conversations: conversations,
		listings:      listings,
		sanitizer:     sanitizer,
		now:           time.Now,
	}
}

// StartConversation は出品について出品者との会話を開始する。既にあれば既存の会話を返す。
// 出品者は保存済みの出品から決定し、入力からは受け取らない。
func (s *Service) StartConversation(ctx context.Context, actor *model.Actor, listingID string) (*model.Conversation, error) {
	if actor == nil {
		return nil, &auth.Error{Kind: auth.KindUnauthenticated, Op: "start conversation"}
	}

	listing, err := s.listings.FindByID(ctx, listingID)
	if err != nil {
		return nil, fmt.Errorf("出品の取得に失敗しました: %w", err)
	}
	if listing == nil {
		return nil, model.NewListingNotFoundError(listingID)
	}
	if auth.SameID(listing.SellerID, actor.ID) {
		return nil, model.NewSelfConversationError()
	}

	conv, err := s.conversations.FindOrCreate(ctx, &model.Conversation{
		ID:        uuid.New().String(),
		ListingID: listing.ID,
		BuyerID:   actor.ID,
		SellerID:  listing.SellerID,
		CreatedAt: s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("会話の開始に失敗しました: %w", err)
	}
	return conv, nil
}

// ListConversations は行為者が参加している会話の一覧を返す。
func (s *Service) ListConversations(ctx context.Context, actor *model.Actor) ([]model.ConversationSummary, error) {
	if actor == nil {
		return nil, &auth.Error{Kind: auth.KindUnauthenticated, Op: "list conversations"}
	}
	summaries, err := s.conversations.ListByParticipant(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("会話一覧の取得に失敗しました: %w", err)
	}
	return summaries, nil
}

// GetMessages は会話のメッセージを返し、行為者宛ての未読を既読にする。参加者のみ閲覧できる。
func (s *Service) GetMessages(ctx context.Context, actor *model.Actor, conversationID string) (*Thread, error) {
	conv, err := auth.FetchParticipant(ctx, actor, conversationID, s.conversations.FindByID)
	if err != nil {
		return nil, err
	}

	msgs, err := s.conversations.ListMessages(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("メッセージの取得に失敗しました: %w", err)
	}
	if err := s.conversations.MarkRead(ctx, conv.ID, actor.ID); err != nil {
		return nil, fmt.Errorf("既読の更新に失敗しました: %w", err)
	}

	return &Thread{Conversation: conv, Messages: msgs, CurrentUserID: actor.ID}, nil
}

// Send は会話にメッセージを送信する。受信者は会話のもう一方の参加者になる。
func (s *Service) Send(ctx context.Context, actor *model.Actor, conversationID, content string) (*model.Message, error) {
	content = s.sanitizer.SanitizeText(content)
	if content == "" {
		return nil, model.NewMessageEmptyError()
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return nil, model.NewMessageTooLongError(MaxContentLength)
	}

	conv, err := auth.FetchParticipant(ctx, actor, conversationID, s.conversations.FindByID)
	if err != nil {
		return nil, err
	}

	recipient := conv.BuyerID
	if auth.SameID(conv.BuyerID, actor.ID) {
		recipient = conv.SellerID
	}

	msg := &model.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		SenderID:       actor.ID,
		RecipientID:    recipient,
		Content:        content,
		CreatedAt:      s.now(),
	}
	if err := s.conversations.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("メッセージの送信に失敗しました: %w", err)
	}
	return msg, nil
}
