// Package models defines data records for the Multi Email backend.
package models

import "time"

// User roles.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Connected service providers. Google is the only one wired today.
const (
	ServiceGoogle = "google"
)

// ConnectedService is a third-party mailbox linked to a user via OAuth2.
// The whole list is stored as a JSONB array on the user row; a user has at
// most one entry per (service, email) pair.
type ConnectedService struct {
	Service      string `json:"service"`
	Email        string `json:"email"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// User represents a user account. Password is always a bcrypt hash; the
// verification and reset codes never leave the server.
type User struct {
	ID                         string             `json:"id"`
	Email                      string             `json:"email"`
	Username                   string             `json:"username"`
	Role                       string             `json:"role"`
	Password                   []byte             `json:"-"`
	Verified                   bool               `json:"verified"`
	VerificationCode           *int               `json:"-"`
	PasswordResetCode          *int               `json:"-"`
	AcceptedTermsAndConditions bool               `json:"accepted_terms_and_conditions"`
	ReceiveMarketingEmails     bool               `json:"receive_marketing_emails"`
	ConnectedServices          []ConnectedService `json:"connected_services"`
	CreatedAt                  time.Time          `json:"created_at"`
	UpdatedAt                  time.Time          `json:"updated_at"`
}

// PublicUser is the sanitized profile embedded in access tokens and returned
// to clients: every User field except the credential and code fields.
type PublicUser struct {
	ID                         string    `json:"id"`
	Email                      string    `json:"email"`
	Username                   string    `json:"username"`
	Role                       string    `json:"role"`
	Verified                   bool      `json:"verified"`
	AcceptedTermsAndConditions bool      `json:"accepted_terms_and_conditions"`
	ReceiveMarketingEmails     bool      `json:"receive_marketing_emails"`
	CreatedAt                  time.Time `json:"created_at"`
	UpdatedAt                  time.Time `json:"updated_at"`
}

// Public returns the user's public profile.
func (u User) Public() PublicUser {
	return PublicUser{
		ID:                         u.ID,
		Email:                      u.Email,
		Username:                   u.Username,
		Role:                       u.Role,
		Verified:                   u.Verified,
		AcceptedTermsAndConditions: u.AcceptedTermsAndConditions,
		ReceiveMarketingEmails:     u.ReceiveMarketingEmails,
		CreatedAt:                  u.CreatedAt,
		UpdatedAt:                  u.UpdatedAt,
	}
}

// ConnectedServiceIndex returns the position of the connected service with
// the given mailbox email, or -1 when the mailbox is not linked.
func (u User) ConnectedServiceIndex(email string) int {
	for i, cs := range u.ConnectedServices {
		if cs.Email == email {
			return i
		}
	}
	return -1
}

type NewUser struct {
	Email                      string
	Username                   string
	Role                       string
	Password                   []byte
	Verified                   bool
	VerificationCode           int
	AcceptedTermsAndConditions bool
	ReceiveMarketingEmails     bool
}

// Session is the server-side record a refresh token is anchored to. A
// session backs refresh-token use only while Valid is true and ExpiresAt is
// in the future; logout flips Valid, expiry is enforced by the store.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Valid     bool      `json:"valid"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
