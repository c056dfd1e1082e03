// Package membership answers the authorization facts the channel authorizer
// needs: which family owns a room, and whether a user is an active member of
// a family or a room.
package membership

import (
	"context"
	"errors"
	"fmt"

	"familyhub/internal/models"

	"gorm.io/gorm"
)

// Member is the identity exposed on presence topics.
type Member struct {
	UserID uint64
	Name   string
	Role   models.MemberRole
}

// Verifier resolves membership facts. Implementations return (zero, false, nil)
// for "no such row" and reserve errors for infrastructure failures.
type Verifier interface {
	RoomFamily(ctx context.Context, roomID uint64) (familyID uint64, ok bool, err error)
	ActiveFamilyMember(ctx context.Context, familyID, userID uint64) (Member, bool, error)
	ActiveRoomMember(ctx context.Context, roomID, userID uint64) (bool, error)
}

// Store is the gorm-backed Verifier.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) RoomFamily(ctx context.Context, roomID uint64) (uint64, bool, error) {
	var room models.ChatRoom
	err := s.db.WithContext(ctx).Select("id", "family_id").First(&room, roomID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup room %d: %w", roomID, err)
	}
	return uint64(room.FamilyID), true, nil
}

func (s *Store) ActiveFamilyMember(ctx context.Context, familyID, userID uint64) (Member, bool, error) {
	type row struct {
		UserID uint64
		Name   string
		Role   models.MemberRole
	}
	var rows []row
	err := s.db.WithContext(ctx).
		Table("family_members").
		Select("family_members.user_id AS user_id, users.name AS name, family_members.role AS role").
		Joins("JOIN users ON users.id = family_members.user_id AND users.deleted_at IS NULL").
		Where("family_members.family_id = ? AND family_members.user_id = ?", familyID, userID).
		Where("family_members.status = ? AND family_members.deleted_at IS NULL", models.StatusActive).
		Limit(1).
		Scan(&rows).Error
	if err != nil {
		return Member{}, false, fmt.Errorf("lookup family %d member %d: %w", familyID, userID, err)
	}
	if len(rows) == 0 {
		return Member{}, false, nil
	}
	return Member{UserID: rows[0].UserID, Name: rows[0].Name, Role: rows[0].Role}, true, nil
}

func (s *Store) ActiveRoomMember(ctx context.Context, roomID, userID uint64) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&models.ChatRoomMember{}).
		Where("chat_room_id = ? AND user_id = ? AND status = ?", roomID, userID, models.StatusActive).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("lookup room %d member %d: %w", roomID, userID, err)
	}
	return n > 0, nil
}

var _ Verifier = (*Store)(nil)
