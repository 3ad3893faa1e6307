package repo

// TokenStore - хранилище auth-токена CLI.
type TokenStore interface {
	Save(token string) error
	Load() (string, error)
	Clear() error
}

// UserContextStore - контекст установки: последний вошедший логин
// и постоянный id установки, под которым захватывается сессия аккаунта.
type UserContextStore interface {
	SaveLogin(login string) error
	LoadLogin() (string, error)
	InstallationID() (string, error)
}

// AuthStore - всё, что CLI хранит о входе вне базы пользователя.
type AuthStore interface {
	TokenStore
	UserContextStore
}
