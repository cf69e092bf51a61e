package models

import (
	"time"
)

type MessageType string

const (
	MessageChat  MessageType = "CHAT"
	MessageJoin  MessageType = "JOIN"
	MessageLeave MessageType = "LEAVE"
)

// Message — сообщение в том виде, в котором его отдаёт сервер.
// ID 0 зарезервирован для локальных системных уведомлений,
// они никогда не уходят на сервер.
type Message struct {
	ID          int64       `json:"id"`
	Content     string      `json:"content"`
	CreatedAt   time.Time   `json:"createdAt"`
	Sender      User        `json:"sender"`
	ChatRoom    RoomRef     `json:"chatRoom"`
	Type        MessageType `json:"type"`
	IsDelivered bool        `json:"isDelivered,omitempty"`
	IsRead      bool        `json:"isRead,omitempty"`
	DeliveredAt *time.Time  `json:"deliveredAt,omitempty"`
	ReadAt      *time.Time  `json:"readAt,omitempty"`
}

// RoomRef — ссылка на комнату внутри сообщения; сервер вкладывает
// сюда комнату целиком, клиенту нужны только id и имя.
type RoomRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name,omitempty"`
}

func (m *Message) IsSystem() bool {
	return m.Type == MessageJoin || m.Type == MessageLeave
}
