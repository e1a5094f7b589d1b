package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"libreria/internal/ai"
	"libreria/internal/catalog"
	"libreria/internal/events"
	"libreria/internal/storage"
	"libreria/internal/store"
	"libreria/pkg/auth"
	"libreria/pkg/domain"
)

// Config wires the application's collaborators.
type Config struct {
	Store     store.Store
	Sessions  store.SessionStore
	Assistant *ai.Assistant
	Events    *events.Publisher
	Covers    storage.ObjectStore
}

// App implements the catalog use cases on top of the persistence, session,
// AI and storage layers. HTTP handlers call into App and translate its
// errors to status codes.
type App struct {
	store       store.Store
	sessions    store.SessionStore
	assistant   *ai.Assistant
	events      *events.Publisher
	covers      storage.ObjectStore
	controllers *catalog.Registry
}

// New builds the application core.
func New(cfg Config) *App {
	return &App{
		store:       cfg.Store,
		sessions:    cfg.Sessions,
		assistant:   cfg.Assistant,
		events:      cfg.Events,
		covers:      cfg.Covers,
		controllers: catalog.NewRegistry(),
	}
}

// PlaceholderCoverURL derives a deterministic cover image URL from a title.
func PlaceholderCoverURL(title string) string {
	return "https://picsum.photos/seed/" + url.PathEscape(title) + "/300/400"
}

// Register creates a user account with the user role and opens a session.
func (a *App) Register(ctx context.Context, name, email, password string) (domain.User, string, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))
	if name == "" || email == "" || password == "" {
		return domain.User{}, "", ErrMissingFields
	}
	exists, err := a.store.HasUserEmail(email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("check email: %w", err)
	}
	if exists {
		return domain.User{}, "", ErrEmailAlreadyExists
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("hash password: %w", err)
	}
	u := domain.User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         domain.RoleUser,
		CreatedAt:    time.Now().UTC(),
	}
	if err := a.store.SaveUser(u); err != nil {
		return domain.User{}, "", fmt.Errorf("save user: %w", err)
	}
	a.events.Publish(ctx, events.KeyUserSaved, u.ID, u.ID)

	token, err := a.startSession(ctx, u)
	if err != nil {
		return domain.User{}, "", err
	}
	return u, token, nil
}

// Login verifies credentials and opens a session. Lookup failures and
// unknown emails both resolve to invalid credentials.
func (a *App) Login(ctx context.Context, email, password string) (domain.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u, ok, err := a.store.GetUserByEmail(email)
	if err != nil {
		slog.WarnContext(ctx, "login lookup failed", "error", err)
		return domain.User{}, "", ErrInvalidCredentials
	}
	if !ok || !auth.CheckPassword(password, u.PasswordHash) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	token, err := a.startSession(ctx, u)
	if err != nil {
		return domain.User{}, "", err
	}
	return u, token, nil
}

func (a *App) startSession(ctx context.Context, u domain.User) (string, error) {
	token, err := a.sessions.NewSession(u.ID)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	ctrl := catalog.NewController(a)
	ctrl.Login(u)
	ctrl.Refresh(ctx)
	a.controllers.Put(token, ctrl)
	return token, nil
}

// Logout drops the session and its catalog controller.
func (a *App) Logout(token string) error {
	if ctrl, ok := a.controllers.Get(token); ok {
		ctrl.Logout()
	}
	a.controllers.Drop(token)
	return a.sessions.DeleteSession(token)
}

// UserFromToken resolves a session token to its user.
func (a *App) UserFromToken(token string) (domain.User, bool, error) {
	userID, ok, err := a.sessions.GetUserIDByToken(token)
	if err != nil || !ok {
		return domain.User{}, false, err
	}
	return a.store.GetUserByID(userID)
}

// ControllerFor returns the session's catalog controller, creating one when
// the session outlived the in-process registry (JWT sessions, restarts).
func (a *App) ControllerFor(ctx context.Context, token string, u domain.User) *catalog.Controller {
	if ctrl, ok := a.controllers.Get(token); ok {
		return ctrl
	}
	ctrl := catalog.NewController(a)
	ctrl.Login(u)
	ctrl.Refresh(ctx)
	a.controllers.Put(token, ctrl)
	return ctrl
}

// BookInput carries the editable fields of a book.
type BookInput struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Author      string `json:"author"`
	Description string `json:"description"`
	Category    string `json:"category"`
	CoverURL    string `json:"coverUrl"`
	BookURL     string `json:"bookUrl"`
	Stock       int    `json:"stock"`
}

// SaveBook creates or updates a book. Admin only. New books without a cover
// get a deterministic placeholder derived from the title.
func (a *App) SaveBook(ctx context.Context, actor domain.User, in BookInput) (domain.Book, error) {
	if actor.Role != domain.RoleAdmin {
		return domain.Book{}, ErrForbidden
	}
	in.Title = strings.TrimSpace(in.Title)
	in.Author = strings.TrimSpace(in.Author)
	if in.Title == "" || in.Author == "" || strings.TrimSpace(in.Description) == "" || strings.TrimSpace(in.Category) == "" {
		return domain.Book{}, ErrMissingFields
	}
	if in.Stock < 0 {
		return domain.Book{}, ErrNegativeStock
	}

	b := domain.Book{
		ID:          in.ID,
		Title:       in.Title,
		Author:      in.Author,
		Description: in.Description,
		Category:    in.Category,
		CoverURL:    in.CoverURL,
		BookURL:     in.BookURL,
		Stock:       in.Stock,
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
		b.AddedBy = actor.ID
		b.CreatedAt = time.Now().UTC()
	} else {
		existing, ok, err := a.store.GetBook(b.ID)
		if err != nil {
			return domain.Book{}, fmt.Errorf("load book: %w", err)
		}
		if !ok {
			return domain.Book{}, ErrNotFound
		}
		// Provenance never changes on edit.
		b.AddedBy = existing.AddedBy
		b.CreatedAt = existing.CreatedAt
	}
	if b.CoverURL == "" {
		b.CoverURL = PlaceholderCoverURL(b.Title)
	}
	if err := a.store.SaveBook(b); err != nil {
		return domain.Book{}, fmt.Errorf("save book: %w", err)
	}
	a.events.Publish(ctx, events.KeyBookSaved, b.ID, actor.ID)
	return b, nil
}

// DeleteBook removes a book. Admin only.
func (a *App) DeleteBook(ctx context.Context, actor domain.User, id string) error {
	if actor.Role != domain.RoleAdmin {
		return ErrForbidden
	}
	if _, ok, err := a.store.GetBook(id); err != nil {
		return fmt.Errorf("load book: %w", err)
	} else if !ok {
		return ErrNotFound
	}
	if err := a.store.DeleteBook(id); err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	if a.covers != nil {
		if err := a.covers.Delete(ctx, "covers/"+id); err != nil {
			slog.WarnContext(ctx, "delete cover object failed", "book_id", id, "error", err)
		}
	}
	a.events.Publish(ctx, events.KeyBookDeleted, id, actor.ID)
	return nil
}

// UserInput carries the editable fields of a user account.
type UserInput struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Email    string          `json:"email"`
	Password string          `json:"password"`
	Role     domain.UserRole `json:"role"`
}

// SaveUser creates or updates an account from the admin panel. The password
// is required for new accounts and optional on edit.
func (a *App) SaveUser(ctx context.Context, actor domain.User, in UserInput) (domain.User, error) {
	if actor.Role != domain.RoleAdmin {
		return domain.User{}, ErrForbidden
	}
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if in.Name == "" || in.Email == "" {
		return domain.User{}, ErrMissingFields
	}
	if in.Role != domain.RoleAdmin && in.Role != domain.RoleUser {
		in.Role = domain.RoleUser
	}

	u := domain.User{
		ID:    in.ID,
		Name:  in.Name,
		Email: in.Email,
		Role:  in.Role,
	}
	if u.ID == "" {
		if in.Password == "" {
			return domain.User{}, ErrMissingFields
		}
		u.ID = uuid.NewString()
		u.CreatedAt = time.Now().UTC()
	} else {
		existing, ok, err := a.store.GetUserByID(u.ID)
		if err != nil {
			return domain.User{}, fmt.Errorf("load user: %w", err)
		}
		if !ok {
			return domain.User{}, ErrNotFound
		}
		u.PasswordHash = existing.PasswordHash
		u.CreatedAt = existing.CreatedAt
	}

	if other, ok, err := a.store.GetUserByEmail(u.Email); err != nil {
		return domain.User{}, fmt.Errorf("check email: %w", err)
	} else if ok && other.ID != u.ID {
		return domain.User{}, ErrEmailAlreadyExists
	}

	if in.Password != "" {
		hash, err := auth.HashPassword(in.Password)
		if err != nil {
			return domain.User{}, fmt.Errorf("hash password: %w", err)
		}
		u.PasswordHash = hash
	}
	if err := a.store.SaveUser(u); err != nil {
		return domain.User{}, fmt.Errorf("save user: %w", err)
	}
	a.events.Publish(ctx, events.KeyUserSaved, u.ID, actor.ID)
	return u, nil
}

// DeleteUser removes an account. Admin only; deleting the active account is
// rejected.
func (a *App) DeleteUser(ctx context.Context, actor domain.User, id string) error {
	if actor.Role != domain.RoleAdmin {
		return ErrForbidden
	}
	if id == actor.ID {
		return ErrSelfDelete
	}
	if _, ok, err := a.store.GetUserByID(id); err != nil {
		return fmt.Errorf("load user: %w", err)
	} else if !ok {
		return ErrNotFound
	}
	if err := a.store.DeleteUser(id); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	a.events.Publish(ctx, events.KeyUserDeleted, id, actor.ID)
	return nil
}

// UploadCover stores a cover image for a book and points the book at the
// stored object's public URL.
func (a *App) UploadCover(ctx context.Context, actor domain.User, bookID string, r io.Reader, size int64, contentType string) (domain.Book, error) {
	if actor.Role != domain.RoleAdmin {
		return domain.Book{}, ErrForbidden
	}
	if a.covers == nil {
		return domain.Book{}, ErrCoverStorageUnavailable
	}
	b, ok, err := a.store.GetBook(bookID)
	if err != nil {
		return domain.Book{}, fmt.Errorf("load book: %w", err)
	}
	if !ok {
		return domain.Book{}, ErrNotFound
	}
	key := "covers/" + bookID
	if err := a.covers.Put(ctx, key, r, size, contentType); err != nil {
		return domain.Book{}, fmt.Errorf("store cover: %w", err)
	}
	b.CoverURL = a.covers.PublicURL(key)
	if err := a.store.SaveBook(b); err != nil {
		return domain.Book{}, fmt.Errorf("save book: %w", err)
	}
	a.events.Publish(ctx, events.KeyBookSaved, b.ID, actor.ID)
	return b, nil
}

// GenerateMetadata suggests a description and category for a book.
func (a *App) GenerateMetadata(ctx context.Context, title, author string) (domain.GeneratedMetadata, error) {
	title = strings.TrimSpace(title)
	author = strings.TrimSpace(author)
	if title == "" || author == "" {
		return domain.GeneratedMetadata{}, ErrMissingFields
	}
	return a.assistant.GenerateBookMetadata(ctx, title, author), nil
}

// SuggestedCategories returns the fixed category list for admin forms.
func (a *App) SuggestedCategories() []string {
	res := make([]string, len(catalog.SuggestedCategories))
	copy(res, catalog.SuggestedCategories)
	return res
}

// ListBooks loads all books. Callers that render catalog state degrade
// errors to an empty list instead of failing the view.
func (a *App) ListBooks() ([]domain.Book, error) {
	return a.store.ListBooks()
}

// ListUsers loads all users.
func (a *App) ListUsers() ([]domain.User, error) {
	return a.store.ListUsers()
}
