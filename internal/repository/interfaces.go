// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/unimarket/internal/model"
)

// ErrListingUnavailable はチェックアウト時に出品が既に販売済み・削除済みであることを示す。
var ErrListingUnavailable = errors.New("listing is no longer available")

// StudentRepository は学生プロフィールの永続化インターフェース。
type StudentRepository interface {
	// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Student, error)

	// Upsert はプロフィールを作成する。既に存在する場合はメールアドレスのみ更新する。
	Upsert(ctx context.Context, student *model.Student) error

	// UpdateProfile は氏名と電話番号を更新する。対象がない場合はfalseを返す。
	UpdateProfile(ctx context.Context, id, firstName, lastName, phone string) (bool, error)

	// UpdatePicture はプロフィール画像のURLを更新する。
	UpdatePicture(ctx context.Context, id, pictureURL string) error
}

// ListingRepository は出品データの永続化インターフェース。
// 更新・削除は所有者IDをキーに含め、所有者以外の行には作用しない。
type ListingRepository interface {
	// FindByID は指定IDの出品を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Listing, error)

	// FindWithSeller は出品者名付きで出品を取得する。見つからない場合はnilを返す。
	FindWithSeller(ctx context.Context, id string) (*model.ListingWithSeller, error)

	// Create は出品を作成する。
	Create(ctx context.Context, listing *model.Listing) error

	// Search は販売中の出品をタイトル部分一致・カテゴリ・価格帯で検索する。新しい順。
	Search(ctx context.Context, q model.SearchQuery) ([]model.ListingWithSeller, error)

	// ListBySeller は出品者の全出品を新しい順で返す。
	ListBySeller(ctx context.Context, sellerID string) ([]*model.Listing, error)

	// StatsBySeller は出品者の出品統計を返す。
	StatsBySeller(ctx context.Context, sellerID string) (*model.ListingStats, error)

	// UpdateOwned は所有者の出品を部分更新し、更新後の出品を返す。対象がない場合はnilを返す。
	UpdateOwned(ctx context.Context, id, sellerID string, patch model.ListingPatch) (*model.Listing, error)

	// DeleteOwned は所有者の出品を削除する。対象がない場合はfalseを返す。
	DeleteOwned(ctx context.Context, id, sellerID string) (bool, error)
}

// CartRepository はカートの永続化インターフェース。
type CartRepository interface {
	// FindByID は指定IDのカート行を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.CartItem, error)

	// ListByUser はユーザーのカートを出品情報付きで返す。
	ListByUser(ctx context.Context, userID string) ([]model.CartLine, error)

	// Add はカートに出品を追加する。既にある場合は数量を加算する。
	Add(ctx context.Context, item *model.CartItem) (*model.CartItem, error)

	// UpdateQuantityOwned は所有者のカート行の数量を更新する。対象がない場合はfalseを返す。
	UpdateQuantityOwned(ctx context.Context, id, userID string, quantity int) (bool, error)

	// DeleteOwned は所有者のカート行を削除する。対象がない場合はfalseを返す。
	DeleteOwned(ctx context.Context, id, userID string) (bool, error)

	// ClearByUser はユーザーのカートを空にする。
	ClearByUser(ctx context.Context, userID string) error

	// CountByUser はカート内の数量の合計を返す。
	CountByUser(ctx context.Context, userID string) (int, error)
}

// PurchaseRepository は購入記録の永続化インターフェース。
type PurchaseRepository interface {
	// Checkout はカートの内容を1トランザクションで購入記録に変換する。
	// 出品を販売済みにしてカートを空にする。販売中でない出品が含まれる場合はErrListingUnavailable。
	Checkout(ctx context.Context, buyerID string) ([]*model.Purchase, error)

	// ListByBuyer は購入者の購入記録を新しい順で返す。
	ListByBuyer(ctx context.Context, buyerID string) ([]*model.Purchase, error)

	// BalanceBySeller は出品者としての売上集計を返す。
	BalanceBySeller(ctx context.Context, sellerID string) (*model.SellerBalance, error)
}

// ConversationRepository は会話とメッセージの永続化インターフェース。
type ConversationRepository interface {
	// FindByID は指定IDの会話を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Conversation, error)

	// FindOrCreate は出品・購入希望者・出品者の組の会話を取得し、なければ作成する。
	FindOrCreate(ctx context.Context, conv *model.Conversation) (*model.Conversation, error)

	// ListByParticipant は参加者の会話一覧を最終メッセージの新しい順で返す。
	ListByParticipant(ctx context.Context, userID string) ([]model.ConversationSummary, error)

	// ListMessages は会話のメッセージを古い順で返す。
	ListMessages(ctx context.Context, conversationID string) ([]*model.Message, error)

	// MarkRead は会話内で受信者宛ての未読メッセージを既読にする。
	MarkRead(ctx context.Context, conversationID, recipientID string) error

	// CreateMessage はメッセージを保存し、会話の更新日時を進める。
	CreateMessage(ctx context.Context, msg *model.Message) error
}
