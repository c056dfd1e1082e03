package models

import (
	"gorm.io/gorm"
)

// ChatRoom is a conversation owned by a family
type ChatRoom struct {
	gorm.Model
	FamilyID uint   `json:"familyId" gorm:"not null;index"`
	Name     string `json:"name" gorm:"not null"`
}

// TableName specifies the table name for ChatRoom Model
func (ChatRoom) TableName() string {
	return "chat_rooms"
}

// ChatRoomMember links a user to a chat room
type ChatRoomMember struct {
	gorm.Model
	ChatRoomID uint         `json:"chatRoomId" gorm:"not null;uniqueIndex:idx_room_user"`
	UserID     uint         `json:"userId" gorm:"not null;uniqueIndex:idx_room_user"`
	Status     MemberStatus `json:"status" gorm:"not null;default:'active'"`
}

// TableName specifies the table name for ChatRoomMember Model
func (ChatRoomMember) TableName() string {
	return "chat_room_members"
}
