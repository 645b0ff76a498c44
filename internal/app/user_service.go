package app

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"nexora-chat/internal/model"
)

const minPasswordLength = 8

type UserService struct {
	users  UserStore
	logger *zap.Logger
}

type CreateUserInput struct {
	Name     string
	Email    string
	Password string
	// Role defaults to user when empty.
	Role string
}

func NewUserService(users UserStore, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{users: users, logger: logger}
}

func (s *UserService) Create(input CreateUserInput) (*model.User, error) {
	name := strings.TrimSpace(input.Name)
	email := normalizeEmail(input.Email)
	password := strings.TrimSpace(input.Password)
	role := strings.ToLower(strings.TrimSpace(input.Role))
	if role == "" {
		role = model.RoleUser
	}

	if name == "" || email == "" || len(password) < minPasswordLength {
		return nil, ErrInvalidInput
	}
	if !model.ValidRole(role) {
		return nil, ErrInvalidRole
	}

	existing, err := s.users.GetByEmail(email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password failed: %w", err)
	}

	user := &model.User{
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
	}
	if err := s.users.Create(user); err != nil {
		return nil, err
	}
	s.logger.Info("user created", zap.Uint("user_id", user.ID), zap.String("email", user.Email), zap.String("role", user.Role))
	return user, nil
}

func (s *UserService) List() ([]model.User, error) {
	return s.users.List()
}

// EnsureAdmin creates the seed administrator unless a user with that email
// exists. An empty email or password disables seeding.
func (s *UserService) EnsureAdmin(name, email, password string) (bool, error) {
	if strings.TrimSpace(email) == "" || strings.TrimSpace(password) == "" {
		return false, nil
	}
	existing, err := s.users.GetByEmail(normalizeEmail(email))
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}
	if strings.TrimSpace(name) == "" {
		name = "Administrator"
	}
	if _, err := s.Create(CreateUserInput{Name: name, Email: email, Password: password, Role: model.RoleAdmin}); err != nil {
		return false, fmt.Errorf("seed admin failed: %w", err)
	}
	return true, nil
}
