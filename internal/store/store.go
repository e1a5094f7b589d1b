package store

import "libreria/pkg/domain"

// Store defines persistence operations for users and books. Every method
// returns an explicit error; the degrade-to-empty policy for failed reads
// lives in the callers, not here.
type Store interface {
	// users
	SaveUser(domain.User) error
	DeleteUser(id string) error
	GetUserByEmail(email string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)
	HasUserEmail(email string) (bool, error)
	ListUsers() ([]domain.User, error)

	// books
	SaveBook(domain.Book) error
	DeleteBook(id string) error
	GetBook(id string) (domain.Book, bool, error)
	ListBooks() ([]domain.Book, error)
}

// SessionStore persists session tokens.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}
