package models

import "time"

type Group struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name        string    `gorm:"size:100;not null" json:"name"`
	Description *string   `gorm:"size:500" json:"description,omitempty"`
	OwnerID     int64     `gorm:"not null;index" json:"owner_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Group) TableName() string {
	return "chat_groups"
}

type GroupMember struct {
	ID       int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	GroupID  int64     `gorm:"not null;uniqueIndex:idx_group_member,priority:1" json:"group_id"`
	UserID   int64     `gorm:"not null;uniqueIndex:idx_group_member,priority:2;index" json:"user_id"`
	IsAdmin  bool      `gorm:"not null;default:false" json:"is_admin"`
	JoinedAt time.Time `json:"joined_at"`
}

func (GroupMember) TableName() string {
	return "group_members"
}

// GroupMessage - сообщение в группе; прочтения для групп не отслеживаются
type GroupMessage struct {
	ID        int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	GroupID   int64      `gorm:"not null;index:idx_group_message,priority:1" json:"group_id"`
	SenderID  int64      `gorm:"not null;index" json:"sender_id"`
	Content   string     `gorm:"type:text;not null" json:"content"`
	IsEdited  bool       `gorm:"not null;default:false" json:"is_edited"`
	EditedAt  *time.Time `json:"edited_at,omitempty"`
	IsDeleted bool       `gorm:"not null;default:false" json:"is_deleted"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	CreatedAt time.Time  `gorm:"index:idx_group_message,priority:2" json:"created_at"`
}

func (GroupMessage) TableName() string {
	return "group_messages"
}

// GroupMemberView - участник группы с профилем
type GroupMemberView struct {
	UserBrief
	IsAdmin  bool      `json:"is_admin"`
	IsOwner  bool      `json:"is_owner"`
	JoinedAt time.Time `json:"joined_at"`
}

// GroupView - группа в ответах API и в событиях
type GroupView struct {
	ID          int64             `json:"id"`
	Name        string            `json:"name"`
	Description *string           `json:"description,omitempty"`
	OwnerID     int64             `json:"owner_id"`
	Members     []GroupMemberView `json:"members"`
	LastMessage *GroupMessage     `json:"last_message,omitempty"`
	// UnreadCount для групп не считается, всегда 0
	UnreadCount int64     `json:"unread_count"`
	CreatedAt   time.Time `json:"created_at"`
}
