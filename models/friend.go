package models

import (
	"fmt"
	"time"
)

// Friend - направленное ребро дружбы (user_id -> friend_id).
// Ребра всегда создаются и удаляются парами в одной транзакции.
type Friend struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64     `gorm:"not null;uniqueIndex:idx_friend_pair,priority:1" json:"user_id"`
	FriendID  int64     `gorm:"not null;uniqueIndex:idx_friend_pair,priority:2;index" json:"friend_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (Friend) TableName() string {
	return "friends"
}

type FriendRequestStatus string

const (
	FriendRequestPending  FriendRequestStatus = "pending"
	FriendRequestAccepted FriendRequestStatus = "accepted"
	FriendRequestRejected FriendRequestStatus = "rejected"
)

// FriendRequest - заявка в друзья. Из pending переходит в accepted или rejected, обратно никогда.
// PendingKey заполнен ("low:high") только пока заявка в статусе pending и сбрасывается в NULL
// при ответе. Уникальный индекс по нему допускает не больше одной pending заявки на
// неупорядоченную пару пользователей (NULL-ы индекс не ограничивает ни в одной из СУБД).
type FriendRequest struct {
	ID          int64               `gorm:"primaryKey;autoIncrement" json:"id"`
	SenderID    int64               `gorm:"not null;index" json:"sender_id"`
	ReceiverID  int64               `gorm:"not null;index" json:"receiver_id"`
	PendingKey  *string             `gorm:"size:64;uniqueIndex" json:"-"`
	Status      FriendRequestStatus `gorm:"size:20;not null;default:'pending';index" json:"status"`
	CreatedAt   time.Time           `json:"created_at"`
	RespondedAt *time.Time          `json:"responded_at,omitempty"`
}

func (FriendRequest) TableName() string {
	return "friend_requests"
}

// PendingPairKey - ключ неупорядоченной пары для PendingKey
func PendingPairKey(a, b int64) *string {
	if a > b {
		a, b = b, a
	}
	key := fmt.Sprintf("%d:%d", a, b)
	return &key
}
