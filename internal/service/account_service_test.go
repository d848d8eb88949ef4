package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"studentportal/backend/internal/model"
	"studentportal/backend/internal/repository"
)

type memoryRepository struct {
	mu      sync.Mutex
	nextID  int64
	users   []model.User
	writes  int
	failAll error
}

func (r *memoryRepository) CreateUser(_ context.Context, input repository.CreateUserInput) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll != nil {
		return 0, r.failAll
	}
	for _, u := range r.users {
		if u.Username == input.Username {
			return 0, repository.ErrDuplicateUser
		}
		if input.RollNumber != nil && u.RollNumber != nil && *u.RollNumber == *input.RollNumber {
			return 0, repository.ErrDuplicateUser
		}
	}
	r.nextID++
	r.writes++
	r.users = append(r.users, model.User{
		ID:           r.nextID,
		Username:     input.Username,
		RollNumber:   input.RollNumber,
		Gender:       input.Gender,
		Email:        input.Email,
		PhoneNumber:  input.PhoneNumber,
		PasswordHash: input.PasswordHash,
		Role:         input.Role,
	})
	return r.nextID, nil
}

func (r *memoryRepository) FindByUsername(_ context.Context, username string) (model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll != nil {
		return model.User{}, r.failAll
	}
	for _, u := range r.users {
		if u.Username == username {
			return u, nil
		}
	}
	return model.User{}, repository.ErrUserNotFound
}

func (r *memoryRepository) FindByID(_ context.Context, id int64) (model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll != nil {
		return model.User{}, r.failAll
	}
	for _, u := range r.users {
		if u.ID == id {
			u.PasswordHash = ""
			return u, nil
		}
	}
	return model.User{}, repository.ErrUserNotFound
}

func (r *memoryRepository) ListByRole(_ context.Context, role model.Role) ([]model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll != nil {
		return nil, r.failAll
	}
	var out []model.User
	for _, u := range r.users {
		if u.Role == role {
			u.PasswordHash = ""
			out = append(out, u)
		}
	}
	return out, nil
}

func (r *memoryRepository) CountByRole(_ context.Context, role model.Role) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, u := range r.users {
		if u.Role == role {
			n++
		}
	}
	return n, nil
}

func (r *memoryRepository) UpdateRole(_ context.Context, id int64, role model.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.users {
		if r.users[i].ID == id {
			r.users[i].Role = role
			r.writes++
			return nil
		}
	}
	return repository.ErrUserNotFound
}

type countingHasher struct {
	mu     sync.Mutex
	checks int
	hashes int
}

func (h *countingHasher) Hash(_ context.Context, raw string) (string, error) {
	h.mu.Lock()
	h.hashes++
	h.mu.Unlock()
	out, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.MinCost)
	return string(out), err
}

func (h *countingHasher) Check(_ context.Context, hash, raw string) (bool, error) {
	h.mu.Lock()
	h.checks++
	h.mu.Unlock()
	if hash == "" {
		return false, nil
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(raw)) == nil, nil
}

func newTestService() (*AccountService, *memoryRepository, *countingHasher) {
	repo := &memoryRepository{}
	hasher := &countingHasher{}
	return NewAccountService(repo, hasher), repo, hasher
}

func TestRegisterThenAuthenticate(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	id, err := svc.Register(ctx, RegisterInput{Username: "alice", Password: "secret1"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	stored := repo.users[0]
	if stored.PasswordHash == "secret1" {
		t.Fatal("password stored in plaintext")
	}
	if stored.Role != model.RoleStudent {
		t.Fatalf("role = %d, want student", stored.Role)
	}

	result, err := svc.Authenticate(ctx, LoginInput{Username: "alice", Password: "secret1"})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if result.User.ID != id || result.User.Role != model.RoleStudent {
		t.Fatalf("unexpected login user: %+v", result.User)
	}
	if result.DashboardURL != "./stud.html" {
		t.Fatalf("dashboard = %q", result.DashboardURL)
	}
}

func TestRegisterDuplicateUsername(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.Register(ctx, RegisterInput{Username: "bob", Password: "pw"}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	_, err := svc.Register(ctx, RegisterInput{Username: "bob", Password: "other"})
	if !errors.Is(err, ErrDuplicateAccount) {
		t.Fatalf("err = %v, want ErrDuplicateAccount", err)
	}
	if len(repo.users) != 1 {
		t.Fatalf("rows = %d, want 1", len(repo.users))
	}
}

func TestRegisterSaltsEachHash(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	for _, name := range []string{"u1", "u2"} {
		if _, err := svc.Register(ctx, RegisterInput{Username: name, Password: "same-password"}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	if repo.users[0].PasswordHash == repo.users[1].PasswordHash {
		t.Fatal("identical passwords produced identical hashes")
	}
}

func TestRegisterRejectsMissingFieldsWithoutWriting(t *testing.T) {
	svc, repo, hasher := newTestService()
	ctx := context.Background()

	cases := []RegisterInput{
		{Password: "x"},
		{Username: "   ", Password: "x"},
		{Username: "carol"},
		{},
	}
	for _, in := range cases {
		_, err := svc.Register(ctx, in)
		if !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("Register(%+v) err = %v, want ErrInvalidInput", in, err)
		}
		var inputErr *InputError
		if !errors.As(err, &inputErr) || inputErr.Message != "Username and password are required." {
			t.Fatalf("unexpected message for %+v: %v", in, err)
		}
	}
	if repo.writes != 0 || hasher.hashes != 0 {
		t.Fatalf("writes = %d hashes = %d, want none", repo.writes, hasher.hashes)
	}
}

func TestRegisterRejectsEmbeddedWhitespace(t *testing.T) {
	svc, repo, _ := newTestService()

	_, err := svc.Register(context.Background(), RegisterInput{Username: "john doe", Password: "x"})
	var inputErr *InputError
	if !errors.As(err, &inputErr) || inputErr.Message != "Username must not contain whitespace." {
		t.Fatalf("err = %v", err)
	}
	if repo.writes != 0 {
		t.Fatal("rejected registration wrote a row")
	}
}

func TestRegisterStoresAbsentOptionalsAsNil(t *testing.T) {
	svc, repo, _ := newTestService()

	_, err := svc.Register(context.Background(), RegisterInput{
		Username:   "dave",
		Password:   "pw",
		RollNumber: "202300000009",
		Email:      "  ",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	u := repo.users[0]
	if u.RollNumber == nil || *u.RollNumber != "202300000009" {
		t.Fatalf("roll number = %v", u.RollNumber)
	}
	if u.Email != nil || u.Gender != nil || u.PhoneNumber != nil {
		t.Fatalf("blank optionals should be nil: %+v", u)
	}
}

func TestRegisterStorageFailure(t *testing.T) {
	svc, repo, _ := newTestService()
	repo.failAll = errors.New("connection reset")

	_, err := svc.Register(context.Background(), RegisterInput{Username: "erin", Password: "pw"})
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("err = %v, want ErrStorage", err)
	}
	if errors.Is(err, ErrDuplicateAccount) {
		t.Fatal("storage failure must not look like a duplicate")
	}
}

func TestAuthenticateFailuresAreIndistinguishable(t *testing.T) {
	svc, _, hasher := newTestService()
	ctx := context.Background()

	if _, err := svc.Register(ctx, RegisterInput{Username: "frank", Password: "right"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	_, unknownErr := svc.Authenticate(ctx, LoginInput{Username: "nonexistent", Password: "x"})
	checksAfterUnknown := hasher.checks
	_, wrongErr := svc.Authenticate(ctx, LoginInput{Username: "frank", Password: "wrongpassword"})

	if !errors.Is(unknownErr, ErrInvalidCredentials) || !errors.Is(wrongErr, ErrInvalidCredentials) {
		t.Fatalf("errors = %v / %v, want ErrInvalidCredentials", unknownErr, wrongErr)
	}
	if unknownErr.Error() != wrongErr.Error() {
		t.Fatalf("messages differ: %q vs %q", unknownErr, wrongErr)
	}
	if checksAfterUnknown != 1 || hasher.checks != 2 {
		t.Fatalf("checks = %d then %d, want one verification per attempt", checksAfterUnknown, hasher.checks)
	}
}

func TestAuthenticateRequiresBothFields(t *testing.T) {
	svc, _, hasher := newTestService()

	for _, in := range []LoginInput{{Username: "a"}, {Password: "b"}} {
		if _, err := svc.Authenticate(context.Background(), in); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("Authenticate(%+v) err = %v, want ErrInvalidInput", in, err)
		}
	}
	if hasher.checks != 0 {
		t.Fatal("invalid input should not reach password verification")
	}
}

func TestAuthenticateAdminDashboard(t *testing.T) {
	svc, repo, hasher := newTestService()
	ctx := context.Background()

	hash, _ := hasher.Hash(ctx, "root-pass")
	repo.users = append(repo.users, model.User{ID: 9, Username: "root", PasswordHash: hash, Role: model.RoleAdmin})

	result, err := svc.Authenticate(ctx, LoginInput{Username: "root", Password: "root-pass"})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if result.DashboardURL != "/admin/dashboard" || result.User.Role != model.RoleAdmin {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestGetUser(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	id, err := svc.Register(ctx, RegisterInput{Username: "grace", Password: "pw", Gender: "F"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	profile, err := svc.GetUser(ctx, id)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if profile.Username != "grace" || profile.Gender == nil || *profile.Gender != "F" {
		t.Fatalf("unexpected profile: %+v", profile)
	}

	if _, err := svc.GetUser(ctx, id+100); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListUsers(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	empty, err := svc.ListUsers(ctx, model.RoleStudent)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Fatalf("want an empty non-nil slice, got %#v", empty)
	}

	for _, name := range []string{"h1", "h2"} {
		if _, err := svc.Register(ctx, RegisterInput{Username: name, Password: "pw"}); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	students, err := svc.ListUsers(ctx, model.RoleStudent)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(students) != 2 {
		t.Fatalf("students = %d, want 2", len(students))
	}
	admins, err := svc.ListUsers(ctx, model.RoleAdmin)
	if err != nil {
		t.Fatalf("list admins: %v", err)
	}
	if len(admins) != 0 {
		t.Fatalf("admins = %d, want 0", len(admins))
	}
}

func TestProvisionAdmin(t *testing.T) {
	ctx := context.Background()

	t.Run("creates when missing", func(t *testing.T) {
		svc, repo, _ := newTestService()
		if err := svc.ProvisionAdmin(ctx, "root", "pw"); err != nil {
			t.Fatalf("provision: %v", err)
		}
		if len(repo.users) != 1 || repo.users[0].Role != model.RoleAdmin {
			t.Fatalf("unexpected users: %+v", repo.users)
		}
		if err := svc.ProvisionAdmin(ctx, "second", "pw"); err != nil {
			t.Fatalf("second provision: %v", err)
		}
		if len(repo.users) != 1 {
			t.Fatal("provision must be a no-op once an admin exists")
		}
	})

	t.Run("promotes existing account", func(t *testing.T) {
		svc, repo, _ := newTestService()
		if _, err := svc.Register(ctx, RegisterInput{Username: "ivan", Password: "pw"}); err != nil {
			t.Fatalf("register: %v", err)
		}
		if err := svc.ProvisionAdmin(ctx, "ivan", "ignored"); err != nil {
			t.Fatalf("provision: %v", err)
		}
		if repo.users[0].Role != model.RoleAdmin {
			t.Fatal("existing account was not promoted")
		}
	})

	t.Run("requires credentials", func(t *testing.T) {
		svc, _, _ := newTestService()
		if err := svc.ProvisionAdmin(ctx, "", ""); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("err = %v, want ErrInvalidInput", err)
		}
	})
}
