package dto

import "time"

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type TokenResponse struct {
	AccessToken string    `json:"token"`
	TokenType   string    `json:"tokenType"`
	ExpiresAt   time.Time `json:"expiresAt"`
	ExpiresIn   int64     `json:"expiresIn"` // seconds
	UserID      string    `json:"userId"`
	Username    string    `json:"username"`
	// Revoked counts the prior credentials invalidated by this issuance.
	Revoked int64 `json:"revoked"`
}

type LogoutAllResponse struct {
	Revoked int64 `json:"revoked"`
}

type MeResponse struct {
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expiresAt"`
}
