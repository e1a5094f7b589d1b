package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"libreria/internal/ai"
	"libreria/internal/catalog"
	"libreria/internal/store"
	"libreria/pkg/domain"
)

func newTestApp(t *testing.T) (*App, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	sessions, err := store.NewJWTSessionStore("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("session store: %v", err)
	}
	return New(Config{
		Store:     mem,
		Sessions:  sessions,
		Assistant: ai.NewAssistant("", ""),
	}), mem
}

func adminActor(t *testing.T, a *App) domain.User {
	t.Helper()
	u, _, err := a.Register(context.Background(), "Admin", "admin@example.com", "secret123")
	if err != nil {
		t.Fatalf("register admin: %v", err)
	}
	u.Role = domain.RoleAdmin
	if err := a.store.SaveUser(u); err != nil {
		t.Fatalf("promote admin: %v", err)
	}
	return u
}

func TestRegisterAndLogin(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()

	u, token, err := a.Register(ctx, "Ana", "Ana@Example.com", "secret123")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if u.Email != "ana@example.com" {
		t.Fatalf("email should normalize to lowercase, got %q", u.Email)
	}
	if u.Role != domain.RoleUser {
		t.Fatalf("self-registration must produce the user role, got %q", u.Role)
	}
	if u.PasswordHash == "secret123" || u.PasswordHash == "" {
		t.Fatalf("password must be stored hashed")
	}

	got, ok, err := a.UserFromToken(token)
	if err != nil || !ok {
		t.Fatalf("resolve session: ok=%v err=%v", ok, err)
	}
	if got.ID != u.ID {
		t.Fatalf("session resolves to wrong user")
	}

	if _, _, err := a.Login(ctx, "ana@example.com", "secret123"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, _, err := a.Login(ctx, "ana@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password should fail with invalid credentials, got %v", err)
	}
	if _, _, err := a.Login(ctx, "nobody@example.com", "secret123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown email should fail with invalid credentials, got %v", err)
	}
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()
	if _, _, err := a.Register(ctx, "Ana", "ana@example.com", "secret123"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, _, err := a.Register(ctx, "Otra", "ANA@example.com", "secret456"); !errors.Is(err, ErrEmailAlreadyExists) {
		t.Fatalf("duplicate email should be rejected, got %v", err)
	}
}

func TestRegisterRequiresAllFields(t *testing.T) {
	a, _ := newTestApp(t)
	if _, _, err := a.Register(context.Background(), "", "a@example.com", "x"); !errors.Is(err, ErrMissingFields) {
		t.Fatalf("expected missing fields, got %v", err)
	}
	if _, _, err := a.Register(context.Background(), "Ana", "a@example.com", ""); !errors.Is(err, ErrMissingFields) {
		t.Fatalf("expected missing fields, got %v", err)
	}
}

func TestSaveBookRequiresAdmin(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()
	u, _, err := a.Register(ctx, "Ana", "ana@example.com", "secret123")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err = a.SaveBook(ctx, u, BookInput{Title: "t", Author: "a", Description: "d", Category: "c"})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-admin save should be forbidden, got %v", err)
	}
}

func TestSaveBookDefaultsDeterministicCover(t *testing.T) {
	a, _ := newTestApp(t)
	admin := adminActor(t, a)

	b, err := a.SaveBook(context.Background(), admin, BookInput{
		Title: "Cien años de soledad", Author: "García Márquez",
		Description: "d", Category: "Ficción",
	})
	if err != nil {
		t.Fatalf("save book: %v", err)
	}
	if !strings.HasPrefix(b.CoverURL, "https://picsum.photos/seed/") || !strings.HasSuffix(b.CoverURL, "/300/400") {
		t.Fatalf("unexpected placeholder cover: %q", b.CoverURL)
	}
	if b.CoverURL != PlaceholderCoverURL("Cien años de soledad") {
		t.Fatalf("cover must be deterministic for the title")
	}
	if b.AddedBy != admin.ID {
		t.Fatalf("addedBy should be the actor, got %q", b.AddedBy)
	}
}

func TestSaveBookKeepsProvenanceOnEdit(t *testing.T) {
	a, _ := newTestApp(t)
	admin := adminActor(t, a)
	ctx := context.Background()

	b, err := a.SaveBook(ctx, admin, BookInput{Title: "t", Author: "a", Description: "d", Category: "c", Stock: 2})
	if err != nil {
		t.Fatalf("save book: %v", err)
	}

	edited, err := a.SaveBook(ctx, admin, BookInput{
		ID: b.ID, Title: "t2", Author: "a", Description: "d", Category: "c", Stock: 5,
	})
	if err != nil {
		t.Fatalf("edit book: %v", err)
	}
	if edited.AddedBy != b.AddedBy || !edited.CreatedAt.Equal(b.CreatedAt) {
		t.Fatalf("provenance must not change on edit: %+v", edited)
	}
	if edited.Title != "t2" || edited.Stock != 5 {
		t.Fatalf("edit not applied: %+v", edited)
	}
}

func TestSaveBookRejectsNegativeStock(t *testing.T) {
	a, _ := newTestApp(t)
	admin := adminActor(t, a)
	_, err := a.SaveBook(context.Background(), admin, BookInput{
		Title: "t", Author: "a", Description: "d", Category: "c", Stock: -1,
	})
	if !errors.Is(err, ErrNegativeStock) {
		t.Fatalf("negative stock should be rejected, got %v", err)
	}
}

func TestDeleteUserRejectsSelf(t *testing.T) {
	a, _ := newTestApp(t)
	admin := adminActor(t, a)
	if err := a.DeleteUser(context.Background(), admin, admin.ID); !errors.Is(err, ErrSelfDelete) {
		t.Fatalf("self-delete should be rejected, got %v", err)
	}
}

func TestSaveUserEmailUniquenessAcrossAccounts(t *testing.T) {
	a, _ := newTestApp(t)
	admin := adminActor(t, a)
	ctx := context.Background()

	u, err := a.SaveUser(ctx, admin, UserInput{Name: "Ana", Email: "ana@example.com", Password: "pw", Role: domain.RoleUser})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	// Same email on a different account is a conflict.
	if _, err := a.SaveUser(ctx, admin, UserInput{Name: "Dup", Email: "ana@example.com", Password: "pw"}); !errors.Is(err, ErrEmailAlreadyExists) {
		t.Fatalf("expected email conflict, got %v", err)
	}
	// Editing the same account keeps its own email.
	if _, err := a.SaveUser(ctx, admin, UserInput{ID: u.ID, Name: "Ana B", Email: "ana@example.com"}); err != nil {
		t.Fatalf("edit with own email: %v", err)
	}
}

func TestSaveUserPasswordOptionalOnEdit(t *testing.T) {
	a, mem := newTestApp(t)
	admin := adminActor(t, a)
	ctx := context.Background()

	u, err := a.SaveUser(ctx, admin, UserInput{Name: "Ana", Email: "ana@example.com", Password: "pw", Role: domain.RoleUser})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	before, _, _ := mem.GetUserByID(u.ID)

	if _, err := a.SaveUser(ctx, admin, UserInput{ID: u.ID, Name: "Ana B", Email: "ana@example.com"}); err != nil {
		t.Fatalf("edit user: %v", err)
	}
	after, _, _ := mem.GetUserByID(u.ID)
	if after.PasswordHash != before.PasswordHash {
		t.Fatalf("empty password on edit must keep the existing hash")
	}
	if after.Name != "Ana B" {
		t.Fatalf("edit not applied: %+v", after)
	}
}

func TestLogoutDropsControllerAndSession(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()
	u, token, err := a.Register(ctx, "Ana", "ana@example.com", "secret123")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	ctrl := a.ControllerFor(ctx, token, u)
	if v := ctrl.Snapshot(); v.Screen != catalog.ScreenCatalog {
		t.Fatalf("fresh session should land on the catalog, got %q", v.Screen)
	}
	if err := a.Logout(token); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, ok := a.controllers.Get(token); ok {
		t.Fatalf("controller should be dropped on logout")
	}
}

func TestGenerateMetadataWithoutKeyFallsBack(t *testing.T) {
	a, _ := newTestApp(t)
	meta, err := a.GenerateMetadata(context.Background(), "t", "a")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if meta.Category != "General" {
		t.Fatalf("expected missing-key fallback, got %+v", meta)
	}
	if _, err := a.GenerateMetadata(context.Background(), "", "a"); !errors.Is(err, ErrMissingFields) {
		t.Fatalf("expected missing fields, got %v", err)
	}
}

func TestSuggestedCategoriesIsACopy(t *testing.T) {
	a, _ := newTestApp(t)
	got := a.SuggestedCategories()
	if len(got) != 20 {
		t.Fatalf("expected 20 categories, got %d", len(got))
	}
	got[0] = "mutated"
	if a.SuggestedCategories()[0] == "mutated" {
		t.Fatalf("callers must not be able to mutate the shared list")
	}
}
