package domain

import (
	"fmt"
	"time"
)

type MessageKind string

const (
	MessageKindUser   MessageKind = "user"
	MessageKindSystem MessageKind = "system"
)

type Message struct {
	ID        uint64      `gorm:"primaryKey;autoIncrement" db:"id" json:"id"`
	UserID    *UserID     `gorm:"type:uuid" db:"user_id" json:"userId,omitempty"`
	Username  string      `gorm:"type:varchar(50)" db:"username" json:"username,omitempty"`
	Content   string      `gorm:"type:text;not null" db:"content" json:"content"`
	Kind      MessageKind `gorm:"type:varchar(20);not null;default:'user';index:idx_messages_kind_created,priority:1" db:"kind" json:"type"`
	CreatedAt time.Time   `gorm:"not null;index:idx_messages_kind_created,priority:2" db:"created_at" json:"timestamp"`
}

func (Message) TableName() string { return "messages" }

func JoinNotice(username string, at time.Time) *Message {
	return &Message{Content: fmt.Sprintf("%s joined the chat", username), Kind: MessageKindSystem, CreatedAt: at}
}

func LeaveNotice(username string, at time.Time) *Message {
	return &Message{Content: fmt.Sprintf("%s left the chat", username), Kind: MessageKindSystem, CreatedAt: at}
}
