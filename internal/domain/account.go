package domain

import "time"

type Account struct {
	ID             UserID    `gorm:"type:uuid;primaryKey" db:"id" json:"id"`
	Username       string    `gorm:"type:varchar(50);uniqueIndex:ux_accounts_username;not null" db:"username" json:"username"`
	PasswordAlgo   string    `gorm:"type:text;not null" db:"password_algo" json:"-"`
	PasswordHash   []byte    `gorm:"not null" db:"password_hash" json:"-"`
	PasswordSalt   []byte    `gorm:"not null" db:"password_salt" json:"-"`
	PasswordParams []byte    `gorm:"not null" db:"password_params" json:"-"`
	PasswordVer    int       `gorm:"not null;default:1" db:"password_ver" json:"-"`
	CreatedAt      time.Time `gorm:"not null" db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time `gorm:"not null" db:"updated_at" json:"updatedAt"`
}

func (Account) TableName() string { return "accounts" }

func (a *Account) GetAlgo() string       { return a.PasswordAlgo }
func (a *Account) GetHash() []byte       { return a.PasswordHash }
func (a *Account) GetSalt() []byte       { return a.PasswordSalt }
func (a *Account) GetParamsJSON() []byte { return a.PasswordParams }
func (a *Account) GetPasswordVer() int   { return a.PasswordVer }

// Principal is what an admitted credential resolves to.
type Principal struct {
	UserID       UserID       `json:"userId"`
	Username     string       `json:"username"`
	CredentialID CredentialID `json:"credentialId"`
	ExpiresAt    time.Time    `json:"expiresAt"`
}
