package session

import "time"

// Entry is one row of the session key/value store.
type Entry struct {
	Key       string    `gorm:"column:name;primaryKey"`
	Value     string    `gorm:"column:value;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (Entry) TableName() string {
	return "session_entries"
}

// Fixed key names, shared with the web client's storage layout.
const (
	KeyAccessToken  = "accessToken"
	KeyRefreshToken = "refreshToken"
	KeyUser         = "user"
)
