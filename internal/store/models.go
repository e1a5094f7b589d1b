package store

import "time"

// GORM models used for persistence. Columns follow the stored snake_case
// convention; the mapping to the camelCase domain shape is explicit in
// gorm_store.go rather than inferred.
type UserModel struct {
	ID           string    `gorm:"column:id;primaryKey"`
	Name         string    `gorm:"column:name;not null"`
	Email        string    `gorm:"column:email;uniqueIndex;not null"`
	PasswordHash string    `gorm:"column:password;not null"`
	Role         string    `gorm:"column:role;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;not null"`
}

func (UserModel) TableName() string { return "users" }

type BookModel struct {
	ID          string    `gorm:"column:id;primaryKey"`
	Title       string    `gorm:"column:title;not null"`
	Author      string    `gorm:"column:author;not null"`
	Description string    `gorm:"column:description;not null"`
	Category    string    `gorm:"column:category;not null;index"`
	CoverURL    string    `gorm:"column:cover_url;not null"`
	BookURL     string    `gorm:"column:book_url"`
	Stock       int       `gorm:"column:stock;not null"`
	AddedBy     string    `gorm:"column:added_by;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;not null"`
}

func (BookModel) TableName() string { return "books" }
