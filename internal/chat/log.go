package chat

import (
	"time"

	"github.com/thereayou/chatlink/internal/models"
)

// MessageLog владеет последовательностью сообщений открытой комнаты.
// Порядок отображения — порядок прихода из транспорта, не порядок
// временных меток. Id внутри лога уникальны: повторная доставка
// сливается в no-op, а не в дубль.
type MessageLog struct {
	roomID int64
	msgs   []*models.Message
	index  map[int64]*models.Message
}

func NewMessageLog() *MessageLog {
	return &MessageLog{index: make(map[int64]*models.Message)}
}

// Hydrate целиком заменяет лог содержимым свежеоткрытой комнаты
func (l *MessageLog) Hydrate(roomID int64, msgs []models.Message) {
	l.roomID = roomID
	l.msgs = make([]*models.Message, 0, len(msgs))
	l.index = make(map[int64]*models.Message, len(msgs))
	for i := range msgs {
		msg := msgs[i]
		if _, ok := l.index[msg.ID]; ok {
			continue
		}
		l.msgs = append(l.msgs, &msg)
		l.index[msg.ID] = &msg
	}
}

// Append добавляет сообщение в конец; повторный id — no-op
func (l *MessageLog) Append(msg *models.Message) bool {
	if _, ok := l.index[msg.ID]; ok {
		return false
	}
	l.msgs = append(l.msgs, msg)
	l.index[msg.ID] = msg
	return true
}

// PatchReadStatus выставляет прочитанность. Переход только в одну
// сторону: прочитанное назад не разчитывается, и ReadAt первого
// перехода сохраняется. Неизвестный id — no-op (комната уже закрыта).
func (l *MessageLog) PatchReadStatus(messageID int64, readAt time.Time) bool {
	msg, ok := l.index[messageID]
	if !ok || msg.IsRead {
		return false
	}
	msg.IsRead = true
	ts := readAt
	msg.ReadAt = &ts
	return true
}

// PatchDeliveryStatus — то же для статуса доставки
func (l *MessageLog) PatchDeliveryStatus(messageID int64, deliveredAt time.Time) bool {
	msg, ok := l.index[messageID]
	if !ok || msg.IsDelivered {
		return false
	}
	msg.IsDelivered = true
	ts := deliveredAt
	msg.DeliveredAt = &ts
	return true
}

func (l *MessageLog) Get(messageID int64) *models.Message {
	return l.index[messageID]
}

// Messages возвращает копии в порядке прихода
func (l *MessageLog) Messages() []models.Message {
	out := make([]models.Message, 0, len(l.msgs))
	for _, msg := range l.msgs {
		out = append(out, *msg)
	}
	return out
}

func (l *MessageLog) RoomID() int64 {
	return l.roomID
}

func (l *MessageLog) Len() int {
	return len(l.msgs)
}

// Clear сбрасывает лог при закрытии комнаты; на сервере ничего
// не трогает
func (l *MessageLog) Clear() {
	l.roomID = 0
	l.msgs = nil
	l.index = make(map[int64]*models.Message)
}
