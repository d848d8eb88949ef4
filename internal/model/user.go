package model

type Role int

const (
	RoleStudent Role = 0
	RoleAdmin   Role = 1
)

// DashboardPaths maps a role to the landing page returned after login.
// It is routing advice for the client, not an access decision.
var DashboardPaths = map[Role]string{
	RoleAdmin:   "/admin/dashboard",
	RoleStudent: "./stud.html",
}

func DashboardPath(role Role) string {
	if path, ok := DashboardPaths[role]; ok {
		return path
	}
	return DashboardPaths[RoleStudent]
}

type User struct {
	ID           int64
	Username     string
	RollNumber   *string
	Gender       *string
	Email        *string
	PhoneNumber  *string
	PasswordHash string
	Role         Role
}

// UserProfile is everything stored about a user except the password hash.
type UserProfile struct {
	ID          int64   `json:"id"`
	Username    string  `json:"username"`
	RollNumber  *string `json:"roll_number"`
	Gender      *string `json:"gender"`
	Email       *string `json:"email"`
	PhoneNumber *string `json:"phone_number"`
	Role        Role    `json:"role"`
}

type PublicUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

func (u User) Profile() UserProfile {
	return UserProfile{
		ID:          u.ID,
		Username:    u.Username,
		RollNumber:  u.RollNumber,
		Gender:      u.Gender,
		Email:       u.Email,
		PhoneNumber: u.PhoneNumber,
		Role:        u.Role,
	}
}

func (u User) Public() PublicUser {
	return PublicUser{ID: u.ID, Username: u.Username, Role: u.Role}
}
