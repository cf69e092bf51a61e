package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/thereayou/chatlink/internal/models"
)

// Пуш-события приходят слабо типизированными; каждая тема имеет свой
// вариант и строгий декодер. Непонятные и битые полезные нагрузки
// отбрасываются на границе, дальше ядро работает только с этими типами.

var ErrMalformedEvent = errors.New("malformed push event")

// MessageEvent — новое сообщение из темы комнаты
type MessageEvent struct {
	models.Message
}

func DecodeMessageEvent(body json.RawMessage) (*MessageEvent, error) {
	var ev MessageEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.ID == 0 || ev.ChatRoom.ID == 0 {
		return nil, fmt.Errorf("%w: message event without id or room", ErrMalformedEvent)
	}
	return &ev, nil
}

// TypingEvent — индикатор набора текста; комнату определяет тема,
// в самой нагрузке её нет
type TypingEvent struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
	Typing   bool   `json:"typing"`
}

func DecodeTypingEvent(body json.RawMessage) (*TypingEvent, error) {
	var ev TypingEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.Username == "" {
		return nil, fmt.Errorf("%w: typing event without username", ErrMalformedEvent)
	}
	return &ev, nil
}

// StatusEvent — смена статуса доставки/прочтения сообщения
type StatusEvent struct {
	MessageID   int64      `json:"messageId"`
	StatusType  string     `json:"statusType"` // READ | DELIVERED
	ReadAt      *time.Time `json:"readAt,omitempty"`
	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`
}

const (
	StatusRead      = "READ"
	StatusDelivered = "DELIVERED"
)

func DecodeStatusEvent(body json.RawMessage) (*StatusEvent, error) {
	var ev StatusEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.MessageID == 0 {
		return nil, fmt.Errorf("%w: status event without message id", ErrMalformedEvent)
	}
	if ev.StatusType != StatusRead && ev.StatusType != StatusDelivered {
		return nil, fmt.Errorf("%w: unknown status type %q", ErrMalformedEvent, ev.StatusType)
	}
	return &ev, nil
}

// RoomCreatedEvent — глобальное уведомление о новой комнате;
// memberUsernames нужен, чтобы отфильтровать чужие комнаты
type RoomCreatedEvent struct {
	Room            models.ChatRoom `json:"room"`
	MemberUsernames []string        `json:"memberUsernames"`
}

func DecodeRoomCreatedEvent(body json.RawMessage) (*RoomCreatedEvent, error) {
	var ev RoomCreatedEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.Room.ID == 0 {
		return nil, fmt.Errorf("%w: room created event without room id", ErrMalformedEvent)
	}
	return &ev, nil
}

func (ev *RoomCreatedEvent) HasMember(username string) bool {
	for _, name := range ev.MemberUsernames {
		if name == username {
			return true
		}
	}
	return false
}

// PresenceEvent — глобальный поток онлайн-статусов
type PresenceEvent struct {
	UserID   int64      `json:"userId"`
	IsOnline bool       `json:"isOnline"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

func DecodePresenceEvent(body json.RawMessage) (*PresenceEvent, error) {
	var ev PresenceEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.UserID == 0 {
		return nil, fmt.Errorf("%w: presence event without user id", ErrMalformedEvent)
	}
	return &ev, nil
}
