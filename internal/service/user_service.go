package service

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/bankcards/card-service/internal/errs"
	"github.com/bankcards/card-service/internal/models"
	"github.com/bankcards/card-service/internal/storage"
)

// UserService manages card owners.
type UserService struct {
	store storage.Store
	log   *logrus.Logger
}

// NewUserService initializes the user service.
func NewUserService(store storage.Store, log *logrus.Logger) *UserService {
	return &UserService{store: store, log: log}
}

// RegisterUser creates a new card owner.
func (s *UserService) RegisterUser(ctx context.Context, username, email string) (*models.User, error) {
	if username == "" {
		return nil, errs.InvalidArgument("username is required")
	}
	if !strings.Contains(email, "@") {
		return nil, errs.InvalidArgument("invalid email %q", email)
	}

	user := &models.User{Username: username, Email: email}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"user_id": user.ID, "username": username}).
		Info("User registered")
	return user, nil
}

// GetUser retrieves a user by ID.
func (s *UserService) GetUser(ctx context.Context, id int64) (*models.User, error) {
	return s.store.UserByID(ctx, id)
}
