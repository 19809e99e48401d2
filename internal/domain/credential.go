package domain

import "time"

// Credential is the persisted side of an issued bearer token. Only the hash of
// the token is stored; liveness is flipped off on logout, supersession or
// expiry and never flipped back on.
type Credential struct {
	ID         CredentialID `gorm:"type:uuid;primaryKey" db:"id" json:"id"`
	UserID     UserID       `gorm:"type:uuid;not null;index:idx_user_tokens_user_id" db:"user_id" json:"userId"`
	TokenHash  string       `gorm:"type:varchar(64);not null;uniqueIndex:ux_user_tokens_token_hash" db:"token_hash" json:"-"`
	DeviceInfo string       `gorm:"type:varchar(255)" db:"device_info" json:"deviceInfo"`
	IPAddress  string       `gorm:"type:varchar(64)" db:"ip_address" json:"ipAddress"`
	ExpiresAt  time.Time    `gorm:"not null;index:idx_user_tokens_expires_at" db:"expires_at" json:"expiresAt"`
	IsActive   bool         `gorm:"not null;default:true" db:"is_active" json:"isActive"`
	CreatedAt  time.Time    `gorm:"not null" db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time    `gorm:"not null" db:"updated_at" json:"updatedAt"`

	Account *Account `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Credential) TableName() string { return "user_tokens" }

// Live reports whether the credential may still authorize requests at now.
func (c *Credential) Live(now time.Time) bool {
	return c.IsActive && now.Before(c.ExpiresAt)
}
