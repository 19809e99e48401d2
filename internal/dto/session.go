package dto

import "time"

// SessionInfo describes one live credential of the caller.
type SessionInfo struct {
	ID         string    `json:"id"`
	DeviceInfo string    `json:"deviceInfo"`
	IPAddress  string    `json:"ipAddress"`
	CreatedAt  time.Time `json:"createdAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
	Current    bool      `json:"current"`
}

type SweepResult struct {
	Expired int64 `json:"expired"`
	Purged  int64 `json:"purged"`
}
