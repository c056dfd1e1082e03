package models

import (
	"gorm.io/gorm"
)

// MemberRole is a member's role within a family
type MemberRole string

const (
	RoleOwner  MemberRole = "owner"
	RoleAdmin  MemberRole = "admin"
	RoleMember MemberRole = "member"
)

// MemberStatus is the lifecycle state of a family or chat room membership.
// Only active memberships grant access to real-time topics.
type MemberStatus string

const (
	StatusActive  MemberStatus = "active"
	StatusInvited MemberStatus = "invited"
	StatusLeft    MemberStatus = "left"
)

// Family groups users that share chat rooms and albums
type Family struct {
	gorm.Model
	Name string `json:"name" gorm:"not null"`
}

// TableName specifies the table name for Family Model
func (Family) TableName() string {
	return "families"
}

// FamilyMember links a user to a family
type FamilyMember struct {
	gorm.Model
	FamilyID uint         `json:"familyId" gorm:"not null;uniqueIndex:idx_family_user"`
	UserID   uint         `json:"userId" gorm:"not null;uniqueIndex:idx_family_user"`
	Role     MemberRole   `json:"role" gorm:"not null;default:'member'"`
	Status   MemberStatus `json:"status" gorm:"not null;default:'active'"`
}

// TableName specifies the table name for FamilyMember Model
func (FamilyMember) TableName() string {
	return "family_members"
}
