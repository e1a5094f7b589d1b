package store

import (
	"sync"

	"libreria/pkg/domain"
)

// MemoryStore keeps users and books in-process, preserving insertion order
// so list results match the fetch order of the Postgres store. Used by
// tests and local development.
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[string]domain.User
	userOrder []string
	books     map[string]domain.Book
	bookOrder []string
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[string]domain.User),
		books: make(map[string]domain.Book),
	}
}

// SaveUser inserts or replaces a user by id.
func (m *MemoryStore) SaveUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.users[u.ID]; !exists {
		m.userOrder = append(m.userOrder, u.ID)
	}
	m.users[u.ID] = u
	return nil
}

// DeleteUser removes a user by id.
func (m *MemoryStore) DeleteUser(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, id)
	m.userOrder = removeID(m.userOrder, id)
	return nil
}

// GetUserByEmail looks up a user by email.
func (m *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range m.userOrder {
		if u, ok := m.users[id]; ok && u.Email == email {
			return u, true, nil
		}
	}
	return domain.User{}, false, nil
}

// GetUserByID returns a user by id.
func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// HasUserEmail checks if email exists.
func (m *MemoryStore) HasUserEmail(email string) (bool, error) {
	_, ok, err := m.GetUserByEmail(email)
	return ok, err
}

// ListUsers returns all users in insertion order.
func (m *MemoryStore) ListUsers() ([]domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.User, 0, len(m.userOrder))
	for _, id := range m.userOrder {
		if u, ok := m.users[id]; ok {
			res = append(res, u)
		}
	}
	return res, nil
}

// SaveBook inserts or replaces a book by id.
func (m *MemoryStore) SaveBook(b domain.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, exists := m.books[b.ID]; exists {
		// added_by and created_at never change after creation.
		b.AddedBy = existing.AddedBy
		b.CreatedAt = existing.CreatedAt
	} else {
		m.bookOrder = append(m.bookOrder, b.ID)
	}
	m.books[b.ID] = b
	return nil
}

// DeleteBook removes a book by id.
func (m *MemoryStore) DeleteBook(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.books, id)
	m.bookOrder = removeID(m.bookOrder, id)
	return nil
}

// GetBook retrieves a book by id.
func (m *MemoryStore) GetBook(id string) (domain.Book, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[id]
	return b, ok, nil
}

// ListBooks returns all books in insertion order.
func (m *MemoryStore) ListBooks() ([]domain.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Book, 0, len(m.bookOrder))
	for _, id := range m.bookOrder {
		if b, ok := m.books[id]; ok {
			res = append(res, b)
		}
	}
	return res, nil
}

func removeID(order []string, id string) []string {
	filtered := order[:0]
	for _, item := range order {
		if item != id {
			filtered = append(filtered, item)
		}
	}
	return filtered
}
