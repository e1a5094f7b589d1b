package catalog

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"libreria/pkg/domain"
)

// Screen identifies the view a session is currently on.
type Screen string

const (
	ScreenLogin      Screen = "login"
	ScreenCatalog    Screen = "user-home"
	ScreenAdminBooks Screen = "admin-books"
	ScreenAdminUsers Screen = "admin-users"
)

// ErrForbiddenScreen is returned when a session tries to navigate to a
// screen its role does not allow.
var ErrForbiddenScreen = errors.New("screen not allowed for role")

// Fetcher loads the catalog data a controller refreshes from.
type Fetcher interface {
	ListBooks() ([]domain.Book, error)
	ListUsers() ([]domain.User, error)
}

// Controller holds the per-session catalog state: the signed-in user, the
// cached book and user lists, the active filter and the current screen.
type Controller struct {
	mu      sync.Mutex
	fetcher Fetcher

	user     domain.User
	loggedIn bool

	books []domain.Book
	users []domain.User

	query    string
	category string
	screen   Screen

	refreshing int
}

// View is an immutable snapshot of controller state for rendering.
type View struct {
	User       *domain.User
	Screen     Screen
	Query      string
	Category   string
	Busy       bool
	Books      []domain.Book
	Categories []string
}

// NewController returns a controller in the logged-out state.
func NewController(fetcher Fetcher) *Controller {
	return &Controller{
		fetcher:  fetcher,
		category: CategoryAll,
		screen:   ScreenLogin,
	}
}

// Login binds the user to the controller and routes to the landing screen
// for the user's role, which is also returned.
func (c *Controller) Login(u domain.User) Screen {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user = u
	c.loggedIn = true
	if u.Role == domain.RoleAdmin {
		c.screen = ScreenAdminBooks
	} else {
		c.screen = ScreenCatalog
	}
	return c.screen
}

// Logout clears all session state: user, cached data and filters.
func (c *Controller) Logout() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user = domain.User{}
	c.loggedIn = false
	c.books = nil
	c.users = nil
	c.query = ""
	c.category = CategoryAll
	c.screen = ScreenLogin
}

// SetFilter updates the active search query and category. An empty category
// resets to the sentinel.
func (c *Controller) SetFilter(query, category string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.query = query
	if category == "" {
		category = CategoryAll
	}
	c.category = category
}

// NavigateTo switches screens, enforcing the role gate: admin screens
// require the admin role, and every screen but login requires a session.
func (c *Controller) NavigateTo(screen Screen) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch screen {
	case ScreenLogin:
	case ScreenCatalog:
		if !c.loggedIn {
			return ErrForbiddenScreen
		}
	case ScreenAdminBooks, ScreenAdminUsers:
		if !c.loggedIn || c.user.Role != domain.RoleAdmin {
			return ErrForbiddenScreen
		}
	default:
		return ErrForbiddenScreen
	}
	c.screen = screen
	return nil
}

// Refresh reloads books and users concurrently and replaces both cached
// lists wholesale. A failed side degrades to an empty list rather than
// failing the refresh; partial data never mixes with the previous state.
func (c *Controller) Refresh(ctx context.Context) {
	c.mu.Lock()
	c.refreshing++
	c.mu.Unlock()

	var books []domain.Book
	var users []domain.User

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := c.fetcher.ListBooks()
		if err != nil {
			slog.WarnContext(ctx, "book refresh failed, serving empty list", "error", err)
			res = []domain.Book{}
		}
		books = res
		return nil
	})
	g.Go(func() error {
		res, err := c.fetcher.ListUsers()
		if err != nil {
			slog.WarnContext(ctx, "user refresh failed, serving empty list", "error", err)
			res = []domain.User{}
		}
		users = res
		return nil
	})
	_ = g.Wait()

	c.mu.Lock()
	c.books = books
	c.users = users
	c.refreshing--
	c.mu.Unlock()
}

// Snapshot returns the current view: filtered books, the categories present
// in the full cached list and the busy flag.
func (c *Controller) Snapshot() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := View{
		Screen:     c.screen,
		Query:      c.query,
		Category:   c.category,
		Busy:       c.refreshing > 0,
		Books:      FilterBooks(c.books, c.query, c.category),
		Categories: AvailableCategories(c.books),
	}
	if c.loggedIn {
		u := c.user
		v.User = &u
	}
	return v
}

// Users returns a copy of the cached user list.
func (c *Controller) Users() []domain.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	res := make([]domain.User, len(c.users))
	copy(res, c.users)
	return res
}

// User returns the signed-in user, if any.
func (c *Controller) User() (domain.User, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user, c.loggedIn
}

// CanDeleteUser reports whether the given user may be deleted from this
// session. Deleting the active account is never offered.
func (c *Controller) CanDeleteUser(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.loggedIn || c.user.ID != id
}
