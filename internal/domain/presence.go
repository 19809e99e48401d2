package domain

import "time"

// Presence is the durable "who is online" row. UserID is the primary key so a
// user can never hold two rows; ConnID is the reverse lookup key used on
// disconnect and is rewritten in place on reconnect.
type Presence struct {
	UserID    UserID    `gorm:"type:uuid;primaryKey" db:"user_id" json:"userId"`
	ConnID    ConnID    `gorm:"type:varchar(64);not null;uniqueIndex:ux_online_users_conn_id" db:"conn_id" json:"-"`
	Username  string    `gorm:"type:varchar(50);not null" db:"username" json:"username"`
	JoinedAt  time.Time `gorm:"not null;index:idx_online_users_joined_at" db:"joined_at" json:"joinedAt"`
	UpdatedAt time.Time `gorm:"not null" db:"updated_at" json:"updatedAt"`
}

func (Presence) TableName() string { return "online_users" }
