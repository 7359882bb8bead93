package identity

import "time"

type Role string

const (
	RoleUser   Role = "user"
	RoleSeller Role = "seller"
	RoleAgent  Role = "agent"
	RoleAdmin  Role = "admin"
)

// AgentApplication is the payload attached to a pending agent-elevation
// request. It is stored as JSON alongside the user and cleared on decision.
type AgentApplication struct {
	Phone             string `json:"phone"`
	YearsOfExperience int    `json:"years_of_experience"`
	LicenseNumber     string `json:"license_number"`
	Agency            string `json:"agency"`
	Bio               string `json:"bio"`
	Location          string `json:"location"`
}

// User is the domain representation of an account.
// It mirrors the users table and should not include JSON annotations so it
// can be reused by different presentation layers.
type User struct {
	ID                   string
	Email                string
	Name                 string
	PasswordHash         string
	Role                 Role
	AgentRequestPending  bool
	AgentApplication     *AgentApplication
	SellerRequestPending bool
	ResetTokenHash       *string
	ResetTokenExpiresAt  *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// RegisterRequest contains user registration data supplied by callers.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// LoginRequest contains user login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func isValidRole(role Role) bool {
	switch role {
	case RoleUser, RoleSeller, RoleAgent, RoleAdmin:
		return true
	default:
		return false
	}
}
