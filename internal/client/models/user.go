package models

import "time"

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name,omitempty"`
	City      *string   `json:"city,omitempty"`
	Region    *string   `json:"region,omitempty"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// ProfileUpdate is the body of PATCH /users/me. Nil fields are left unchanged.
type ProfileUpdate struct {
	City   *string `json:"city,omitempty"`
	Region *string `json:"region,omitempty"`
}

// TokenResponse is returned by login, signup and refresh.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	User         *User  `json:"user,omitempty"`
}
