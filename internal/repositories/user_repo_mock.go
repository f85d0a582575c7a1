package repositories

import (
	"context"
	"fmt"

	"libreria/internal/models"

	"github.com/google/uuid"
)

// MockUserRepository is an in-memory implementation of UserRepository.
type MockUserRepository struct {
	memoryScope
}

func (r *MockUserRepository) Create(ctx context.Context, user *models.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, u := range r.s.data.users {
		if u.Username == user.Username || u.Email == user.Email {
			return fmt.Errorf("failed to create user: username or email already taken")
		}
	}
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	put(r.memoryScope, r.s.data.users, user.ID, *user)
	return nil
}

func (r *MockUserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.find("username", username, func(u models.User) bool { return u.Username == username })
}

func (r *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.find("email", email, func(u models.User) bool { return u.Email == email })
}

func (r *MockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return r.find("ID", id, func(u models.User) bool { return u.ID == id })
}

func (r *MockUserRepository) find(field, value string, match func(models.User) bool) (*models.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, u := range r.s.data.users {
		if match(u) {
			user := u
			return &user, nil
		}
	}
	return nil, &models.NotFoundError{Entity: "user", ID: field + " " + value}
}
