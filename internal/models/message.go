package models

import (
	"gorm.io/gorm"
)

// Message is a chat message posted in a room
type Message struct {
	gorm.Model
	ChatRoomID uint   `json:"chatRoomId" gorm:"not null;index"`
	UserID     uint   `json:"userId" gorm:"not null;index"`
	User       User   `json:"-" gorm:"foreignKey:UserID"`
	Body       string `json:"body" gorm:"not null"`
	// ClientRef is the sender's provisional id, echoed back so the sender can
	// match the stored message to its optimistic copy.
	ClientRef string `json:"clientRef" gorm:"column:client_ref;index"`
}

// TableName specifies the table name for Message Model
func (Message) TableName() string {
	return "messages"
}
