package domain

import "time"

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         UserRole  `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
}

type Book struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Author      string    `json:"author"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	CoverURL    string    `json:"coverUrl"`
	BookURL     string    `json:"bookUrl,omitempty"`
	Stock       int       `json:"stock"`
	AddedBy     string    `json:"addedBy"`
	CreatedAt   time.Time `json:"createdAt"`
}

// GeneratedMetadata is the two-field payload produced by the metadata
// assistant for the book form.
type GeneratedMetadata struct {
	Description string `json:"description"`
	Category    string `json:"category"`
}
