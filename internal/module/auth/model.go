package auth

import "time"

// Mock profile handed out by Login.
const (
	MockUserPrefix = "mock_google_user_"
	MockUserName   = "Magic User"
	MockUserEmail  = "magic.user@example.com"
	MockAvatarURL  = "https://avatar.iran.liara.run/username?username=Magic+User"
)

// User is the persisted session record.
type User struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	Email      string `json:"email,omitempty"`
	AvatarURL  string `json:"avatarUrl,omitempty"`
	IsLoggedIn bool   `json:"isLoggedIn"`
}

// LoginResponse is returned by Login.
type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        *User     `json:"user"`
}
