package services

import (
	"messenger/models"
	"time"
)

// Имена push-событий, отправляемых клиентам
const (
	EventReceiveMessage      = "ReceiveMessage"
	EventMessageEdited       = "MessageEdited"
	EventMessageDeleted      = "MessageDeleted"
	EventMessagesRead        = "MessagesRead"
	EventMessageRead         = "MessageRead"
	EventReceiveGroupMessage = "ReceiveGroupMessage"
	EventGroupMessageEdited  = "GroupMessageEdited"
	EventGroupMessageDeleted = "GroupMessageDeleted"
	EventGroupCreated        = "GroupCreated"
	EventGroupUpdated        = "GroupUpdated"
	EventGroupDeleted        = "GroupDeleted"
	EventGroupMemberAdded    = "GroupMemberAdded"
	EventGroupMemberRemoved  = "GroupMemberRemoved"
	EventUserOnline          = "UserOnline"
	EventUserOffline         = "UserOffline"
	EventUserTyping          = "UserTyping"
	EventUserStoppedTyping   = "UserStoppedTyping"

	EventFriendRequestReceived = "FriendRequestReceived"
	EventFriendRequestAccepted = "FriendRequestAccepted"
	EventFriendRequestRejected = "FriendRequestRejected"
	EventFriendRemoved         = "FriendRemoved"
)

// EventPublisher - получатель событий от сервисов (Notifier в проде, заглушка в тестах).
// Вызовы не должны блокировать вызывающего.
type EventPublisher interface {
	Notify(userID int64, event string, payload any)
	NotifyMany(userIDs []int64, event string, payload any)
}

// Frame - формат кадра, уходящего в сессию
type Frame struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

type MessagesReadPayload struct {
	ReaderID   int64     `json:"reader_id"`
	MessageIDs []int64   `json:"message_ids"`
	ReadAt     time.Time `json:"read_at"`
}

type MessageReadPayload struct {
	MessageID int64     `json:"message_id"`
	ReaderID  int64     `json:"reader_id"`
	ReadAt    time.Time `json:"read_at"`
}

type MessageDeletedPayload struct {
	MessageID int64 `json:"message_id"`
	SenderID  int64 `json:"sender_id"`
}

type GroupMessageDeletedPayload struct {
	GroupID   int64 `json:"group_id"`
	MessageID int64 `json:"message_id"`
}

type GroupDeletedPayload struct {
	GroupID int64 `json:"group_id"`
}

type GroupMemberPayload struct {
	GroupID int64             `json:"group_id"`
	UserID  int64             `json:"user_id"`
	Group   *models.GroupView `json:"group,omitempty"`
}

type PresencePayload struct {
	UserID     int64      `json:"user_id"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}

type TypingPayload struct {
	UserID int64 `json:"user_id"`
}

type FriendRemovedPayload struct {
	UserID int64 `json:"user_id"`
}

// nopPublisher используется, если сервис создан без публикатора
type nopPublisher struct{}

func (nopPublisher) Notify(int64, string, any)       {}
func (nopPublisher) NotifyMany([]int64, string, any) {}
