package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AuthService provides lookups of lab users.
type AuthService struct {
	db *gorm.DB
}

// NewAuthService creates a new AuthService instance
func NewAuthService(db *gorm.DB) *AuthService {
	return &AuthService{
		db: db,
	}
}

// GetLabUser retrieves a lab user by ID. It returns gorm.ErrRecordNotFound
// unwrapped when the user is unknown so callers can fall back to a bare identity.
func (as *AuthService) GetLabUser(ctx context.Context, userID string) (*LabUser, error) {
	if userID == "" {
		return nil, fmt.Errorf("user ID is empty")
	}

	var user LabUser
	result := as.db.WithContext(ctx).Where("user_id = ?", userID).First(&user)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			slog.Debug("lab user not found", "user_id", userID)
			return nil, result.Error
		}
		slog.Error("failed to fetch lab user from database",
			"user_id", userID,
			"error", result.Error,
		)
		return nil, fmt.Errorf("failed to fetch lab user: %w", result.Error)
	}

	return &user, nil
}

// UpsertLabUser creates the user or updates its name, email and department.
func (as *AuthService) UpsertLabUser(ctx context.Context, user *LabUser) error {
	if user == nil || user.UserID == "" {
		return fmt.Errorf("user ID is empty")
	}

	result := as.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "email", "department_id"}),
	}).Create(user)

	if result.Error != nil {
		slog.Error("failed to upsert lab user",
			"user_id", user.UserID,
			"error", result.Error,
		)
		return fmt.Errorf("failed to upsert lab user: %w", result.Error)
	}

	slog.Debug("lab user upserted successfully", "user_id", user.UserID)
	return nil
}
