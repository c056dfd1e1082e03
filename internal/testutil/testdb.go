package testutil

import (
	"familyhub/internal/models"

	"github.com/glebarez/sqlite"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewInMemoryDB creates an in-memory SQLite DB and runs migrations.
func NewInMemoryDB() (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	// Every pooled connection would get its own empty :memory: database.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(models.All()...); err != nil {
		return nil, err
	}
	return db, nil
}

// Fixture is a small family: Alice owns family 1 and is in room 1,
// Bob is a family member but not in room 1, Carol is outside the family,
// Dave left the family but still has a room membership row.
type Fixture struct {
	Alice, Bob, Carol, Dave models.User
	Family                  models.Family
	Room                    models.ChatRoom
}

// FixturePassword is the plaintext password of every fixture user.
const FixturePassword = "correct horse battery staple"

// Seed inserts the Fixture.
func Seed(db *gorm.DB) (*Fixture, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(FixturePassword), bcrypt.MinCost)
	if err != nil {
		return nil, err
	}

	f := &Fixture{
		Alice:  models.User{Email: "alice@example.org", Name: "Alice", PasswordHash: string(hash)},
		Bob:    models.User{Email: "bob@example.org", Name: "Bob", PasswordHash: string(hash)},
		Carol:  models.User{Email: "carol@example.org", Name: "Carol", PasswordHash: string(hash)},
		Dave:   models.User{Email: "dave@example.org", Name: "Dave", PasswordHash: string(hash)},
		Family: models.Family{Name: "Doe"},
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		for _, u := range []*models.User{&f.Alice, &f.Bob, &f.Carol, &f.Dave} {
			if err := tx.Create(u).Error; err != nil {
				return err
			}
		}
		if err := tx.Create(&f.Family).Error; err != nil {
			return err
		}
		f.Room = models.ChatRoom{FamilyID: f.Family.ID, Name: "General"}
		if err := tx.Create(&f.Room).Error; err != nil {
			return err
		}
		members := []models.FamilyMember{
			{FamilyID: f.Family.ID, UserID: f.Alice.ID, Role: models.RoleOwner, Status: models.StatusActive},
			{FamilyID: f.Family.ID, UserID: f.Bob.ID, Role: models.RoleMember, Status: models.StatusActive},
			{FamilyID: f.Family.ID, UserID: f.Dave.ID, Role: models.RoleMember, Status: models.StatusLeft},
		}
		if err := tx.Create(&members).Error; err != nil {
			return err
		}
		roomMembers := []models.ChatRoomMember{
			{ChatRoomID: f.Room.ID, UserID: f.Alice.ID, Status: models.StatusActive},
			{ChatRoomID: f.Room.ID, UserID: f.Dave.ID, Status: models.StatusActive},
		}
		return tx.Create(&roomMembers).Error
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}
