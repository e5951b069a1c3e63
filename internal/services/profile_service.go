package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/charlesng35/schoolx/internal/models"
	apperrors "github.com/charlesng35/schoolx/pkg/errors"
)

// RegisterProfileInput links an identity-provider user to a school.
type RegisterProfileInput struct {
	UserID   string `json:"user_id" validate:"required"`
	FullName string `json:"full_name" validate:"required"`
	Email    string `json:"email" validate:"omitempty,email"`
	Role     string `json:"role" validate:"required"`
	SchoolID string `json:"school_id"`
}

// ProfileService reads and provisions user profiles.
type ProfileService struct {
	db *gorm.DB
}

// NewProfileService constructs a ProfileService.
func NewProfileService(db *gorm.DB) (*ProfileService, error) {
	if db == nil {
		return nil, errors.New("profile service: db is required")
	}
	return &ProfileService{db: db}, nil
}

// Get returns the profile for the identity-provider user id.
func (s *ProfileService) Get(ctx context.Context, userID string) (*models.UserProfile, error) {
	ctx = ensureContext(ctx)
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperrors.NewBadRequest("user id is required")
	}

	var profile models.UserProfile
	if err := s.db.WithContext(ctx).First(&profile, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrProfileMissing
		}
		return nil, fmt.Errorf("profile service: load profile: %w", err)
	}
	return &profile, nil
}

// Register creates a profile. A second registration for the same user is a conflict.
func (s *ProfileService) Register(ctx context.Context, input RegisterProfileInput) (*models.UserProfile, error) {
	ctx = ensureContext(ctx)
	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return nil, apperrors.NewBadRequest("user id is required")
	}
	role := strings.ToLower(strings.TrimSpace(input.Role))
	if !containsString(models.ProfileRoles, role) {
		return nil, apperrors.NewBadRequest(fmt.Sprintf("unsupported role %q", input.Role))
	}
	schoolID := strings.TrimSpace(input.SchoolID)
	if schoolID == "" {
		return nil, apperrors.NewBadRequest("school id is required")
	}

	profile := models.UserProfile{
		FullName: strings.TrimSpace(input.FullName),
		Email:    strings.ToLower(strings.TrimSpace(input.Email)),
		Role:     role,
		SchoolID: schoolID,
		IsActive: true,
	}
	profile.ID = userID

	if err := s.db.WithContext(ctx).Create(&profile).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, apperrors.ErrConflict
		}
		return nil, fmt.Errorf("profile service: create profile: %w", err)
	}
	return &profile, nil
}

// ActiveUserIDs returns ids of active profiles in the school, optionally limited to roles.
func (s *ProfileService) ActiveUserIDs(ctx context.Context, schoolID string, roles ...string) ([]string, error) {
	ctx = ensureContext(ctx)
	query := s.db.WithContext(ctx).
		Model(&models.UserProfile{}).
		Where("school_id = ? AND is_active = ?", strings.TrimSpace(schoolID), true)
	if roles = normaliseIDs(roles); len(roles) > 0 {
		query = query.Where("role IN ?", roles)
	}

	var ids []string
	if err := query.Order("id").Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("profile service: list user ids: %w", err)
	}
	return ids, nil
}

// AdminIDs returns the active administrators of the school.
func (s *ProfileService) AdminIDs(ctx context.Context, schoolID string) ([]string, error) {
	return s.ActiveUserIDs(ctx, schoolID, models.RoleAdmin, models.RoleSuperAdmin)
}
