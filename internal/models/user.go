package models

import (
	"time"
)

type User struct {
	ID       int64      `json:"id"`
	Username string     `json:"username"`
	Email    string     `json:"email,omitempty"`
	IsOnline bool       `json:"isOnline,omitempty"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}
