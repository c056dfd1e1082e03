package models

// All lists every model the schema migration creates.
func All() []any {
	return []any{
		&User{},
		&Family{},
		&FamilyMember{},
		&ChatRoom{},
		&ChatRoomMember{},
		&Message{},
	}
}
