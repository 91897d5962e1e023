package services

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gatehouse-id/gatehouse/domain"
	serrors "github.com/gatehouse-id/gatehouse/errors"
)

// UserService wraps user lookups and writes used by the flow engine.
type UserService struct {
	repo domain.UserRepository
}

// NewUserService creates a new UserService.
func NewUserService(repo domain.UserRepository) *UserService {
	return &UserService{repo: repo}
}

// LookupByFields resolves a user by the given identifier, trying each of the
// allowed identification fields in order. It returns (nil, nil) when no user
// matches so callers present the same response for unknown identifiers and
// wrong credentials.
func (s *UserService) LookupByFields(ctx context.Context, identifier string, fields []domain.UserField) (*domain.User, error) {
	for _, field := range fields {
		var (
			user *domain.User
			err  error
		)
		switch field {
		case domain.UserFieldName:
			user, err = s.repo.GetUserByName(ctx, identifier)
		case domain.UserFieldEmail:
			user, err = s.repo.GetUserByEmail(ctx, identifier)
		case domain.UserFieldUUID:
			if _, perr := uuid.Parse(identifier); perr != nil {
				continue
			}
			user, err = s.repo.GetUserByID(ctx, identifier)
		default:
			continue
		}
		if err != nil {
			if errors.Is(err, serrors.ErrNotFound) {
				continue
			}
			return nil, err
		}
		return user, nil
	}

	log.Debug().Msg("identification did not match any user")
	return nil, nil
}

// GetByID returns the user with the given id.
func (s *UserService) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return s.repo.GetUserByID(ctx, id)
}

// CreateUser stores a newly enrolled user.
func (s *UserService) CreateUser(ctx context.Context, user *domain.User) error {
	return s.repo.CreateUser(ctx, user)
}

// UpdateUser persists changes to an existing user.
func (s *UserService) UpdateUser(ctx context.Context, user *domain.User) error {
	return s.repo.UpdateUser(ctx, user)
}

// WriteAttributes merges the collected field values into the user record.
func (s *UserService) WriteAttributes(ctx context.Context, userID string, attrs map[string]string) error {
	if len(attrs) == 0 {
		return nil
	}
	return s.repo.SetAttributes(ctx, userID, attrs)
}
