package chat

import (
	"go.uber.org/zap"

	"github.com/thereayou/chatlink/internal/models"
)

// Registry владеет списком комнат, упорядоченным по свежести, вместе
// со счётчиками непрочитанного и превью последнего сообщения. Все
// мутации выполняются из цикла событий клиента, поэтому блокировок
// здесь нет.
type Registry struct {
	logger *zap.Logger
	rooms  []*models.ChatRoom
	index  map[int64]*models.ChatRoom
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger: logger,
		index:  make(map[int64]*models.ChatRoom),
	}
}

// UpsertFromSnapshot целиком заменяет список после полного обновления.
// Счётчики непрочитанного переносятся со старых комнат по id: снимок
// с сервера не должен молча обнулять то, что пользователь не открывал.
func (r *Registry) UpsertFromSnapshot(rooms []models.ChatRoom) {
	fresh := make([]*models.ChatRoom, 0, len(rooms))
	index := make(map[int64]*models.ChatRoom, len(rooms))

	for i := range rooms {
		room := rooms[i]
		if old, ok := r.index[room.ID]; ok && room.UnreadCount == 0 {
			room.UnreadCount = old.UnreadCount
		}
		fresh = append(fresh, &room)
		index[room.ID] = &room
	}

	r.rooms = fresh
	r.index = index
}

// ApplyIncomingMessage обновляет превью и счётчик комнаты. Возвращает
// false, если событие не применено: комната неизвестна (она обязана
// прийти отдельным событием о создании) либо сообщение уже отражено
// в превью — повторная доставка не должна накрутить счётчик.
func (r *Registry) ApplyIncomingMessage(msg *models.Message, selfID, activeRoomID int64) bool {
	room, ok := r.index[msg.ChatRoom.ID]
	if !ok {
		r.logger.Warn("message for unknown room dropped",
			zap.Int64("room_id", msg.ChatRoom.ID),
			zap.Int64("message_id", msg.ID))
		return false
	}

	if room.LastMessage != nil && room.LastMessage.ID == msg.ID {
		return false
	}

	room.LastMessage = msg
	ts := msg.CreatedAt
	room.LastMessageTime = &ts

	if msg.Sender.ID != selfID && room.ID != activeRoomID {
		room.UnreadCount++
	}

	r.moveToFront(room.ID)
	return true
}

// AddRoom вставляет комнату в начало списка; повторные уведомления о
// создании той же комнаты игнорируются
func (r *Registry) AddRoom(room *models.ChatRoom) bool {
	if _, ok := r.index[room.ID]; ok {
		return false
	}
	r.rooms = append([]*models.ChatRoom{room}, r.rooms...)
	r.index[room.ID] = room
	return true
}

// RemoveRoom убирает комнату только из локального списка
func (r *Registry) RemoveRoom(roomID int64) bool {
	if _, ok := r.index[roomID]; !ok {
		return false
	}
	delete(r.index, roomID)
	for i, room := range r.rooms {
		if room.ID == roomID {
			r.rooms = append(r.rooms[:i], r.rooms[i+1:]...)
			break
		}
	}
	return true
}

// MarkOpened обнуляет счётчик непрочитанного открытой комнаты
func (r *Registry) MarkOpened(roomID int64) {
	if room, ok := r.index[roomID]; ok {
		room.UnreadCount = 0
	}
}

// ApplyPresence обновляет онлайн-статус участника во всех комнатах
func (r *Registry) ApplyPresence(ev *PresenceEvent) {
	for _, room := range r.rooms {
		for i := range room.Members {
			if room.Members[i].ID == ev.UserID {
				room.Members[i].IsOnline = ev.IsOnline
				room.Members[i].LastSeen = ev.LastSeen
			}
		}
	}
}

func (r *Registry) Get(roomID int64) *models.ChatRoom {
	return r.index[roomID]
}

// Rooms возвращает копии комнат в порядке свежести
func (r *Registry) Rooms() []models.ChatRoom {
	out := make([]models.ChatRoom, 0, len(r.rooms))
	for _, room := range r.rooms {
		out = append(out, *room)
	}
	return out
}

func (r *Registry) Len() int {
	return len(r.rooms)
}

func (r *Registry) moveToFront(roomID int64) {
	for i, room := range r.rooms {
		if room.ID == roomID {
			if i == 0 {
				return
			}
			copy(r.rooms[1:i+1], r.rooms[:i])
			r.rooms[0] = room
			return
		}
	}
}
