package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"studentportal/backend/internal/model"
	"studentportal/backend/internal/repository"
)

// bcrypt ignores input past 72 bytes and newer x/crypto rejects it.
const maxPasswordBytes = 72

var (
	ErrInvalidInput       = errors.New("username and password are required")
	ErrDuplicateAccount   = errors.New("user already exists (username, email, or roll number)")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotFound           = errors.New("user not found")
	ErrStorage            = errors.New("storage failure")
)

// InputError is returned for requests rejected before storage is touched.
// Message is safe to show to the caller.
type InputError struct {
	Message string
}

func (e *InputError) Error() string { return e.Message }

func (e *InputError) Is(target error) bool { return target == ErrInvalidInput }

// PasswordHasher hashes and verifies passwords. Check with an empty hash
// must still spend one full verification and report no match.
type PasswordHasher interface {
	Hash(ctx context.Context, raw string) (string, error)
	Check(ctx context.Context, hash, raw string) (bool, error)
}

type RegisterInput struct {
	Username    string `validate:"required,nowhitespace"`
	RollNumber  string
	Gender      string
	Email       string
	PhoneNumber string
	Password    string `validate:"required"`
}

type LoginInput struct {
	Username string `validate:"required"`
	Password string `validate:"required"`
}

type LoginResult struct {
	User         model.PublicUser
	DashboardURL string
}

type AccountService struct {
	repo     repository.UserRepository
	hasher   PasswordHasher
	validate *validator.Validate
}

func NewAccountService(repo repository.UserRepository, hasher PasswordHasher) *AccountService {
	return &AccountService{repo: repo, hasher: hasher, validate: newValidator()}
}

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("nowhitespace", func(fl validator.FieldLevel) bool {
		return !strings.ContainsFunc(fl.Field().String(), unicode.IsSpace)
	})
	return v
}

// Register creates a student account. The role is always RoleStudent.
func (s *AccountService) Register(ctx context.Context, input RegisterInput) (int64, error) {
	input.Username = strings.TrimSpace(input.Username)
	if err := s.check(input); err != nil {
		return 0, err
	}
	if len(input.Password) > maxPasswordBytes {
		return 0, &InputError{Message: "Password must be at most 72 bytes."}
	}

	hash, err := s.hasher.Hash(ctx, input.Password)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}

	id, err := s.repo.CreateUser(ctx, repository.CreateUserInput{
		Username:     input.Username,
		RollNumber:   nullIfEmpty(input.RollNumber),
		Gender:       nullIfEmpty(input.Gender),
		Email:        nullIfEmpty(input.Email),
		PhoneNumber:  nullIfEmpty(input.PhoneNumber),
		PasswordHash: hash,
		Role:         model.RoleStudent,
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateUser) {
			return 0, ErrDuplicateAccount
		}
		return 0, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return id, nil
}

// Authenticate verifies a username/password pair. An unknown username and
// a wrong password both yield ErrInvalidCredentials after one bcrypt
// verification each.
func (s *AccountService) Authenticate(ctx context.Context, input LoginInput) (LoginResult, error) {
	input.Username = strings.TrimSpace(input.Username)
	if err := s.check(input); err != nil {
		return LoginResult{}, err
	}

	user, err := s.repo.FindByUsername(ctx, input.Username)
	if err != nil {
		if !errors.Is(err, repository.ErrUserNotFound) {
			return LoginResult{}, fmt.Errorf("%w: %w", ErrStorage, err)
		}
		if _, err := s.hasher.Check(ctx, "", input.Password); err != nil {
			return LoginResult{}, fmt.Errorf("verify password: %w", err)
		}
		return LoginResult{}, ErrInvalidCredentials
	}

	ok, err := s.hasher.Check(ctx, user.PasswordHash, input.Password)
	if err != nil {
		return LoginResult{}, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return LoginResult{}, ErrInvalidCredentials
	}

	return LoginResult{
		User:         user.Public(),
		DashboardURL: model.DashboardPath(user.Role),
	}, nil
}

func (s *AccountService) GetUser(ctx context.Context, id int64) (model.UserProfile, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return model.UserProfile{}, ErrNotFound
		}
		return model.UserProfile{}, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return user.Profile(), nil
}

func (s *AccountService) ListUsers(ctx context.Context, role model.Role) ([]model.UserProfile, error) {
	users, err := s.repo.ListByRole(ctx, role)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	profiles := make([]model.UserProfile, 0, len(users))
	for _, user := range users {
		profiles = append(profiles, user.Profile())
	}
	return profiles, nil
}

// ProvisionAdmin makes sure at least one administrator exists. It does
// nothing when one already does, promotes username when that account
// exists, and creates it otherwise.
func (s *AccountService) ProvisionAdmin(ctx context.Context, username, password string) error {
	input := RegisterInput{Username: strings.TrimSpace(username), Password: password}
	if err := s.check(input); err != nil {
		return err
	}
	if len(input.Password) > maxPasswordBytes {
		return &InputError{Message: "Password must be at most 72 bytes."}
	}

	admins, err := s.repo.CountByRole(ctx, model.RoleAdmin)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	if admins > 0 {
		return nil
	}

	existing, err := s.repo.FindByUsername(ctx, input.Username)
	if err == nil {
		if err := s.repo.UpdateRole(ctx, existing.ID, model.RoleAdmin); err != nil {
			return fmt.Errorf("%w: %w", ErrStorage, err)
		}
		return nil
	}
	if !errors.Is(err, repository.ErrUserNotFound) {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}

	hash, err := s.hasher.Hash(ctx, input.Password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	_, err = s.repo.CreateUser(ctx, repository.CreateUserInput{
		Username:     input.Username,
		PasswordHash: hash,
		Role:         model.RoleAdmin,
	})
	if errors.Is(err, repository.ErrDuplicateUser) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return nil
}

func (s *AccountService) check(input any) error {
	err := s.validate.Struct(input)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate input: %w", err)
	}
	for _, fe := range fieldErrs {
		if fe.Tag() == "required" {
			return &InputError{Message: "Username and password are required."}
		}
	}
	return &InputError{Message: "Username must not contain whitespace."}
}

func nullIfEmpty(val string) *string {
	trimmed := strings.TrimSpace(val)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
