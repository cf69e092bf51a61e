package chat

import (
	"sync"

	"github.com/thereayou/chatlink/internal/models"
)

// ActiveRoom — единственная ячейка с текущей открытой комнатой.
// Обработчики, зарегистрированные до переключения комнаты, обязаны
// читать её через Get() в момент срабатывания, а не через значение,
// захваченное при регистрации: иначе события продолжат уходить в
// комнату, которая давно закрыта.
type ActiveRoom struct {
	mu   sync.RWMutex
	room *models.ChatRoom
}

func NewActiveRoom() *ActiveRoom {
	return &ActiveRoom{}
}

func (a *ActiveRoom) Get() *models.ChatRoom {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.room
}

// ID возвращает id активной комнаты, 0 — если ничего не открыто
func (a *ActiveRoom) ID() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.room == nil {
		return 0
	}
	return a.room.ID
}

func (a *ActiveRoom) Set(room *models.ChatRoom) {
	a.mu.Lock()
	a.room = room
	a.mu.Unlock()
}

func (a *ActiveRoom) Clear() {
	a.Set(nil)
}
