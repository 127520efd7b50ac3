package auth

import (
	"context"
	"log/slog"

	"github.com/hitoshi/unimarket/internal/model"
)

// Owned は単一の所有者を持つリソース。所有者IDはストアから取得した値を返すこと。
type Owned interface {
	ResourceID() string
	OwnerID() string
}

// Participated は複数の参加者を持つリソース（会話、メッセージ）。
type Participated interface {
	ResourceID() string
	ParticipantIDs() []string
}

// 拒否理由
const (
	ReasonNoActor        = "no_actor"
	ReasonNotOwner       = "not_owner"
	ReasonNotParticipant = "not_participant"
)

// Decision は認可判定の結果を表す。拒否時も呼び出し元が統一エラーを返せるよう詳細を保持する。
type Decision struct {
	Allowed    bool
	ActorID    string
	ResourceID string
	Reason     string
}

// Err は拒否をKindDeniedのエラーに変換する。許可の場合はnil。
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &Error{
		Kind:       KindDenied,
		Op:         "authorize",
		ActorID:    d.ActorID,
		ResourceID: d.ResourceID,
		Reason:     d.Reason,
	}
}

// AuthorizeOwnership は行為者がリソースの所有者かどうかを判定する。
func AuthorizeOwnership(actor *model.Actor, resource Owned) Decision {
	d := Decision{ResourceID: resource.ResourceID()}
	if actor == nil {
		d.Reason = ReasonNoActor
		return d
	}
	d.ActorID = actor.ID
	if !SameID(actor.ID, resource.OwnerID()) {
		d.Reason = ReasonNotOwner
		return d
	}
	d.Allowed = true
	return d
}

// AuthorizeParticipant は行為者がリソースの参加者に含まれるかどうかを判定する。
func AuthorizeParticipant(actor *model.Actor, resource Participated) Decision {
	d := Decision{ResourceID: resource.ResourceID()}
	if actor == nil {
		d.Reason = ReasonNoActor
		return d
	}
	d.ActorID = actor.ID
	for _, id := range resource.ParticipantIDs() {
		if SameID(actor.ID, id) {
			d.Allowed = true
			return d
		}
	}
	d.Reason = ReasonNotParticipant
	return d
}

// FetchOwned はリソースを取得し、存在確認の後に所有権を検証して返す。
// 取得結果がnilの場合はKindNotFound、所有者でない場合はKindDenied。
func FetchOwned[E any, P interface {
	*E
	Owned
}](ctx context.Context, actor *model.Actor, id string, fetch func(context.Context, string) (*E, error)) (P, error) {
	var zero P
	if actor == nil {
		return zero, &Error{Kind: KindUnauthenticated, Op: "fetch owned", ResourceID: id}
	}
	res, err := fetch(ctx, id)
	if err != nil {
		return zero, fetchFailed("fetch owned", id, err)
	}
	if res == nil {
		return zero, notFound("fetch owned", id)
	}
	p := P(res)
	if d := AuthorizeOwnership(actor, p); !d.Allowed {
		logDenied(d)
		return zero, d.Err()
	}
	return p, nil
}

// FetchParticipant はリソースを取得し、存在確認の後に参加者であることを検証して返す。
func FetchParticipant[E any, P interface {
	*E
	Participated
}](ctx context.Context, actor *model.Actor, id string, fetch func(context.Context, string) (*E, error)) (P, error) {
	var zero P
	if actor == nil {
		return zero, &Error{Kind: KindUnauthenticated, Op: "fetch participant", ResourceID: id}
	}
	res, err := fetch(ctx, id)
	if err != nil {
		return zero, fetchFailed("fetch participant", id, err)
	}
	if res == nil {
		return zero, notFound("fetch participant", id)
	}
	p := P(res)
	if d := AuthorizeParticipant(actor, p); !d.Allowed {
		logDenied(d)
		return zero, d.Err()
	}
	return p, nil
}

func logDenied(d Decision) {
	slog.Warn("authorization denied",
		slog.String("actor_id", d.ActorID),
		slog.String("resource_id", d.ResourceID),
		slog.String("reason", d.Reason),
	)
}
