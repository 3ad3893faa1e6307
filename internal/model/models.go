package model

// All возвращает все серверные модели для миграций.
func All() []any {
	return []any{
		&User{},
		&PairCode{},
		&RelationshipRequest{},
		&Envelope{},
		&Receipt{},
		&Reaction{},
		&Heartbeat{},
		&SessionLock{},
	}
}
