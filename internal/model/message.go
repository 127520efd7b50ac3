package model

import "time"

// Conversation は購入希望者と出品者の2者間の会話を表す。
type Conversation struct {
	ID        string
	ListingID string // 出品に紐付かない会話の場合は空文字列
	BuyerID   string
	SellerID  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ResourceID は会話IDを返す。
func (c *Conversation) ResourceID() string { return c.ID }

// ParticipantIDs は会話の参加者IDを返す。
func (c *Conversation) ParticipantIDs() []string {
	return []string{c.BuyerID, c.SellerID}
}

// ConversationSummary は会話一覧の1行を表す。
type ConversationSummary struct {
	Conversation
	ListingTitle      string
	OtherUserID       string
	OtherUserName     string
	OtherUserPicture  string
	LastMessage       string
	LastMessageAt     *time.Time
	LastMessageIsMine bool
	UnreadCount       int
}

// Message は会話内の1メッセージを表す。
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	RecipientID    string
	Content        string
	ReadAt         *time.Time
	CreatedAt      time.Time
}

// ResourceID はメッセージIDを返す。
func (m *Message) ResourceID() string { return m.ID }

// OwnerID はメッセージの送信者IDを返す。
func (m *Message) OwnerID() string { return m.SenderID }

// ParticipantIDs はメッセージの送信者と受信者のIDを返す。
func (m *Message) ParticipantIDs() []string {
	return []string{m.SenderID, m.RecipientID}
}
