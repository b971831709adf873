// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the User model.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-support-desk/internal/domain"
)

// UpsertUser inserts the user or refreshes its display fields when the id
// already exists. SelectedCategory is never touched here.
//
// Inside a transaction this is a write, so on SQLite it takes the database
// write lock up front and serializes the rest of the transaction.
func UpsertUser(ctx context.Context, db *gorm.DB, u *domain.User) error {
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"handle", "first_name", "last_name", "updated_at"}),
		}).
		Omit("selected_category").
		Create(u).Error
}

// GetUser fetches a user by Telegram id, or ErrNotFound.
func GetUser(ctx context.Context, db *gorm.DB, id int64) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// SetSelectedCategory stores the bot-side category selection. An empty
// category clears it. Returns ErrNotFound when the user does not exist.
func SetSelectedCategory(ctx context.Context, db *gorm.DB, id int64, category string) error {
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("id = ?", id).
		Updates(map[string]any{"selected_category": category, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
