package models

import (
	"time"
)

// DeletedPlaceholder заменяет текст удаленного сообщения
const DeletedPlaceholder = "[message deleted]"

// Message представляет сообщение в диалоге между пользователями
type Message struct {
	ID         int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	SenderID   int64      `gorm:"not null;index:idx_message_pair,priority:1" json:"sender_id"`
	ReceiverID int64      `gorm:"not null;index:idx_message_pair,priority:2;index" json:"receiver_id"`
	Content    string     `gorm:"type:text;not null" json:"content"`
	IsRead     bool       `gorm:"not null;default:false" json:"is_read"`
	ReadAt     *time.Time `json:"read_at,omitempty"`
	IsEdited   bool       `gorm:"not null;default:false" json:"is_edited"`
	EditedAt   *time.Time `json:"edited_at,omitempty"`
	IsDeleted  bool       `gorm:"not null;default:false" json:"is_deleted"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
	CreatedAt  time.Time  `gorm:"index:idx_message_pair,priority:3" json:"created_at"`
}

// TableName возвращает имя таблицы для модели Message
func (Message) TableName() string {
	return "messages"
}

// Conversation - сводка диалога для списка чатов
type Conversation struct {
	User        UserBrief `json:"user"`
	LastMessage *Message  `json:"last_message"`
	UnreadCount int64     `json:"unread_count"`
}

// UserBrief - публичная часть профиля для вложения в ответы
type UserBrief struct {
	ID         int64      `json:"id"`
	Username   string     `json:"username"`
	FirstName  string     `json:"first_name,omitempty"`
	LastName   string     `json:"last_name,omitempty"`
	IsOnline   bool       `json:"is_online"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}

func (u User) Brief() UserBrief {
	return UserBrief{
		ID:         u.ID,
		Username:   u.Username,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
		IsOnline:   u.IsOnline,
		LastSeenAt: u.LastSeenAt,
	}
}
