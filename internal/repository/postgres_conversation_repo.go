package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/unimarket/internal/model"
)

// PostgresConversationRepo はPostgreSQLを使用した会話・メッセージリポジトリ。
type PostgresConversationRepo struct {
	db *sql.DB
}

// NewPostgresConversationRepo はPostgresConversationRepoを生成する。
func NewPostgresConversationRepo(db *sql.DB) *PostgresConversationRepo {
	return &PostgresConversationRepo{db: db}
}

const conversationColumns = `c.id, COALESCE(c.listing_id::text, ''), c.buyer_id, c.seller_id, c.created_at, c.updated_at`

func scanConversation(row rowScanner, extra ...any) (*model.Conversation, error) {
	c := &model.Conversation{}
	dest := append([]any{&c.ID, &c.ListingID, &c.BuyerID, &c.SellerID, &c.CreatedAt, &c.UpdatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return c, nil
}

// FindByID は指定IDの会話を取得する。見つからない場合はnilを返す。
func (r *PostgresConversationRepo) FindByID(ctx context.Context, id string) (*model.Conversation, error) {
	if !validID(id) {
		return nil, nil
	}
	c, err := scanConversation(r.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations c WHERE c.id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find conversation by ID: %w", err)
	}
	return c, nil
}

// FindOrCreate は出品・購入希望者・出品者の組の会話を取得し、なければ作成する。
// 同時作成は一意インデックスで排除し、負けた側は既存の会話を読み直す。
func (r *PostgresConversationRepo) FindOrCreate(ctx context.Context, conv *model.Conversation) (*model.Conversation, error) {
	listingID := sql.NullString{String: conv.ListingID, Valid: conv.ListingID != ""}

	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO conversations (id, listing_id, buyer_id, seller_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 ON CONFLICT DO NOTHING`,
		conv.ID, listingID, conv.BuyerID, conv.SellerID, conv.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	c, err := scanConversation(r.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations c
		 WHERE c.listing_id IS NOT DISTINCT FROM $1 AND c.buyer_id = $2 AND c.seller_id = $3`,
		listingID, conv.BuyerID, conv.SellerID,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	return c, nil
}

// ListByParticipant は参加者の会話一覧を最終メッセージの新しい順で返す。
func (r *PostgresConversationRepo) ListByParticipant(ctx context.Context, userID string) ([]model.ConversationSummary, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+conversationColumns+`,
		        COALESCE(l.title, ''),
		        o.id,
		        COALESCE(NULLIF(TRIM(CONCAT(o.first_name, ' ', o.last_name)), ''), 'Student'),
		        o.profile_picture,
		        COALESCE(lm.content, ''),
		        lm.created_at,
		        COALESCE(lm.sender_id = $1, false),
		        COALESCE(unread.cnt, 0)
		 FROM conversations c
		 LEFT JOIN listings l ON l.id = c.listing_id
		 JOIN students o ON o.id = CASE WHEN c.buyer_id = $1 THEN c.seller_id ELSE c.buyer_id END
		 LEFT JOIN LATERAL (
		     SELECT m.content, m.created_at, m.sender_id
		     FROM messages m WHERE m.conversation_id = c.id
		     ORDER BY m.created_at DESC LIMIT 1
		 ) lm ON true
		 LEFT JOIN (
		     SELECT conversation_id, COUNT(*) AS cnt
		     FROM messages WHERE recipient_id = $1 AND read_at IS NULL
		     GROUP BY conversation_id
		 ) unread ON unread.conversation_id = c.id
		 WHERE c.buyer_id = $1 OR c.seller_id = $1
		 ORDER BY COALESCE(lm.created_at, c.updated_at) DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var results []model.ConversationSummary
	for rows.Next() {
		var s model.ConversationSummary
		var lastAt sql.NullTime
		c, err := scanConversation(rows,
			&s.ListingTitle, &s.OtherUserID, &s.OtherUserName, &s.OtherUserPicture,
			&s.LastMessage, &lastAt, &s.LastMessageIsMine, &s.UnreadCount,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		s.Conversation = *c
		if lastAt.Valid {
			t := lastAt.Time
			s.LastMessageAt = &t
		}
		results = append(results, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversation rows: %w", err)
	}
	return results, nil
}

// ListMessages は会話のメッセージを古い順で返す。
func (r *PostgresConversationRepo) ListMessages(ctx context.Context, conversationID string) ([]*model.Message, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, conversation_id, sender_id, recipient_id, content, read_at, created_at
		 FROM messages WHERE conversation_id = $1 ORDER BY created_at ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []*model.Message
	for rows.Next() {
		m := &model.Message{}
		var readAt sql.NullTime
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.RecipientID, &m.Content, &readAt, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		if readAt.Valid {
			t := readAt.Time
			m.ReadAt = &t
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}
	return messages, nil
}

// MarkRead は会話内で受信者宛ての未読メッセージを既読にする。
func (r *PostgresConversationRepo) MarkRead(ctx context.Context, conversationID, recipientID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE messages SET read_at = NOW()
		 WHERE conversation_id = $1 AND recipient_id = $2 AND read_at IS NULL`,
		conversationID, recipientID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark messages read: %w", err)
	}
	return nil
}

// CreateMessage はメッセージを保存し、会話の更新日時を進める。
func (r *PostgresConversationRepo) CreateMessage(ctx context.Context, m *model.Message) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, recipient_id, content, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.ConversationID, m.SenderID, m.RecipientID, m.Content, m.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = $2 WHERE id = $1`,
		m.ConversationID, m.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// compile-time interface check
var _ ConversationRepository = (*PostgresConversationRepo)(nil)
