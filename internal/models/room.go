package models

import (
	"time"
)

type RoomType string

const (
	RoomDirect RoomType = "DIRECT"
	RoomGroup  RoomType = "GROUP"
)

type ChatRoom struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	Type            RoomType   `json:"type"`
	CreatedAt       time.Time  `json:"createdAt"`
	Members         []User     `json:"members"`
	CreatedBy       *User      `json:"createdBy,omitempty"`
	LastMessage     *Message   `json:"lastMessage,omitempty"`
	LastMessageTime *time.Time `json:"lastMessageTime,omitempty"`
	UnreadCount     int        `json:"unreadCount,omitempty"`
}

// OtherMember возвращает собеседника в личном чате
func (r *ChatRoom) OtherMember(selfID int64) *User {
	if r.Type != RoomDirect {
		return nil
	}
	for i := range r.Members {
		if r.Members[i].ID != selfID {
			return &r.Members[i]
		}
	}
	return nil
}
