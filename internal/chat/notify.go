package chat

import (
	"fmt"
	"time"

	"github.com/thereayou/chatlink/internal/models"
)

const (
	// DefaultNotificationTTL — сколько живёт всплывающее уведомление
	DefaultNotificationTTL = 4 * time.Second

	// previewLimit — длина текста в уведомлении
	previewLimit = 50

	systemSender = "System"
)

// Notification — эфемерная запись для показа; никогда не
// сохраняется и не сверяется с сервером
type Notification struct {
	ID        int64     `json:"id"`
	Message   string    `json:"message"`
	Sender    string    `json:"sender"`
	RoomID    int64     `json:"roomId"`
	RoomName  string    `json:"roomName,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Notifier решает по каждому входящему событию, показывать ли
// уведомление: свои сообщения и события активной комнаты подавляются
type Notifier struct {
	selfID   int64
	active   *ActiveRoom
	schedule func(func())

	// DisplayTTL настраивается в тестах
	DisplayTTL time.Duration

	entries []*Notification
	timers  map[int64]*time.Timer
	lastID  int64
}

func NewNotifier(selfID int64, active *ActiveRoom, schedule func(func())) *Notifier {
	return &Notifier{
		selfID:     selfID,
		active:     active,
		schedule:   schedule,
		DisplayTTL: DefaultNotificationTTL,
		timers:     make(map[int64]*time.Timer),
	}
}

// OnMessage показывает уведомление о сообщении, если оно чужое и не
// из открытой комнаты
func (n *Notifier) OnMessage(msg *models.Message) *Notification {
	if msg.Sender.ID == n.selfID {
		return nil
	}
	if n.active.ID() == msg.ChatRoom.ID {
		return nil
	}
	return n.push(truncate(msg.Content, previewLimit), msg.Sender.Username, msg.ChatRoom.ID, msg.ChatRoom.Name)
}

// OnRoomCreated подавляет уведомление для создателя комнаты и
// различает личный чат и группу в формулировке
func (n *Notifier) OnRoomCreated(room *models.ChatRoom) *Notification {
	if room.CreatedBy != nil && room.CreatedBy.ID == n.selfID {
		return nil
	}

	creator := "Someone"
	if room.CreatedBy != nil && room.CreatedBy.Username != "" {
		creator = room.CreatedBy.Username
	}

	var content string
	if room.Type == models.RoomDirect {
		content = fmt.Sprintf("%s started a conversation with you", creator)
	} else {
		content = fmt.Sprintf("%s added you to %q", creator, room.Name)
	}
	return n.push(content, systemSender, room.ID, room.Name)
}

// PushSystem — локальное служебное уведомление (удаление чата и т.п.)
func (n *Notifier) PushSystem(content string, roomID int64, roomName string) *Notification {
	return n.push(truncate(content, previewLimit), systemSender, roomID, roomName)
}

func (n *Notifier) push(content, sender string, roomID int64, roomName string) *Notification {
	id := time.Now().UnixNano()
	if id <= n.lastID {
		id = n.lastID + 1
	}
	n.lastID = id

	entry := &Notification{
		ID:        id,
		Message:   content,
		Sender:    sender,
		RoomID:    roomID,
		RoomName:  roomName,
		CreatedAt: time.Now(),
	}
	n.entries = append(n.entries, entry)

	n.timers[id] = time.AfterFunc(n.DisplayTTL, func() {
		n.schedule(func() {
			n.Dismiss(id)
		})
	})
	return entry
}

// Dismiss убирает уведомление по явному закрытию или истечению срока
func (n *Notifier) Dismiss(id int64) bool {
	if timer, ok := n.timers[id]; ok {
		timer.Stop()
		delete(n.timers, id)
	}
	for i, entry := range n.entries {
		if entry.ID == id {
			n.entries = append(n.entries[:i], n.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Active возвращает уведомления, которые сейчас надо показывать
func (n *Notifier) Active() []Notification {
	out := make([]Notification, 0, len(n.entries))
	for _, entry := range n.entries {
		out = append(out, *entry)
	}
	return out
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
