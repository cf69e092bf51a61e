package chat

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultFallbackDelay — пауза перед сплошной отметкой прочитанного,
// когда видимость сообщений наблюдать нечем
const DefaultFallbackDelay = time.Second

// ReadMarker — удалённый вызов "отметить прочитанным"
type ReadMarker interface {
	MarkMessageAsRead(ctx context.Context, roomID, messageID int64) error
}

// ReceiptCoordinator решает, когда сообщение становится прочитанным.
// Два независимых триггера — видимость сообщения и страховочный
// таймер — сходятся в одном идемпотентном RequestMarkAsRead.
// Отметки best-effort: отказ логируется и не повторяется.
type ReceiptCoordinator struct {
	api      ReadMarker
	log      *MessageLog
	active   *ActiveRoom
	selfID   int64
	schedule func(func())
	onMarked func(roomID int64)
	logger   *zap.Logger

	// FallbackDelay настраивается в тестах
	FallbackDelay time.Duration

	fallback *time.Timer
}

func NewReceiptCoordinator(api ReadMarker, log *MessageLog, active *ActiveRoom, selfID int64,
	schedule func(func()), onMarked func(roomID int64), logger *zap.Logger) *ReceiptCoordinator {
	return &ReceiptCoordinator{
		api:           api,
		log:           log,
		active:        active,
		selfID:        selfID,
		schedule:      schedule,
		onMarked:      onMarked,
		logger:        logger,
		FallbackDelay: DefaultFallbackDelay,
	}
}

// MessageVisible вызывается, когда сообщение стало видно пользователю
func (c *ReceiptCoordinator) MessageVisible(messageID int64) {
	roomID := c.active.ID()
	if roomID == 0 || roomID != c.log.RoomID() {
		return
	}
	msg := c.log.Get(messageID)
	if msg == nil || msg.Sender.ID == c.selfID || msg.IsRead {
		return
	}
	c.RequestMarkAsRead(roomID, messageID)
}

// ScheduleFallback взводит страховочный таймер после hydrate/append;
// прежний таймер сбрасывается
func (c *ReceiptCoordinator) ScheduleFallback() {
	if c.fallback != nil {
		c.fallback.Stop()
	}
	c.fallback = time.AfterFunc(c.FallbackDelay, func() {
		c.schedule(c.sweep)
	})
}

// sweep отмечает прочитанными все чужие непрочитанные сообщения лога
func (c *ReceiptCoordinator) sweep() {
	roomID := c.active.ID()
	if roomID == 0 || roomID != c.log.RoomID() {
		return
	}
	for _, msg := range c.log.Messages() {
		if msg.Sender.ID != c.selfID && !msg.IsRead {
			c.RequestMarkAsRead(roomID, msg.ID)
		}
	}
}

// RequestMarkAsRead безопасно вызывать повторно для одного сообщения:
// повторный удалённый вызов для уже прочитанного — безвредный no-op,
// а локальный патч монотонный
func (c *ReceiptCoordinator) RequestMarkAsRead(roomID, messageID int64) {
	go func() {
		err := c.api.MarkMessageAsRead(context.Background(), roomID, messageID)
		c.schedule(func() {
			if err != nil {
				c.logger.Warn("mark as read failed",
					zap.Int64("room_id", roomID),
					zap.Int64("message_id", messageID),
					zap.Error(err))
				return
			}
			if c.log.RoomID() == roomID {
				c.log.PatchReadStatus(messageID, time.Now())
			}
			if c.onMarked != nil {
				c.onMarked(roomID)
			}
		})
	}()
}

// CancelPending снимает страховочный таймер; вызывается при
// переключении комнаты. Уже улетевшие удалённые вызовы не
// отменяются — их результаты безвредны.
func (c *ReceiptCoordinator) CancelPending() {
	if c.fallback != nil {
		c.fallback.Stop()
		c.fallback = nil
	}
}
