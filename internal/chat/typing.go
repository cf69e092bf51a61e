package chat

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultTypingIdle — сколько тишины считается концом набора
const DefaultTypingIdle = 2 * time.Second

// TypingSender — удалённый сигнал "пользователь печатает"
type TypingSender interface {
	SendTypingIndicator(ctx context.Context, roomID int64, isTyping bool) error
}

// TypingCoordinator ведёт обе стороны индикатора набора.
// Локально: старт-сигнал при первом символе, стоп — по таймеру
// бездействия или опустевшему полю, строго по одному разу.
// Удалённо: множество имён печатающих в активной комнате.
// Сигналы советующие, их отказы только логируются.
type TypingCoordinator struct {
	api      TypingSender
	active   *ActiveRoom
	selfID   int64
	schedule func(func())
	logger   *zap.Logger

	// IdleTimeout настраивается в тестах
	IdleTimeout time.Duration

	typing    bool
	idleTimer *time.Timer
	users     []string
}

func NewTypingCoordinator(api TypingSender, active *ActiveRoom, selfID int64,
	schedule func(func()), logger *zap.Logger) *TypingCoordinator {
	return &TypingCoordinator{
		api:         api,
		active:      active,
		selfID:      selfID,
		schedule:    schedule,
		logger:      logger,
		IdleTimeout: DefaultTypingIdle,
	}
}

// InputChanged вызывается на каждое изменение поля ввода
func (t *TypingCoordinator) InputChanged(text string) {
	roomID := t.active.ID()
	if roomID == 0 {
		return
	}

	if strings.TrimSpace(text) == "" {
		t.stopTyping(roomID)
		return
	}

	if !t.typing {
		t.typing = true
		t.send(roomID, true)
	}

	if t.idleTimer != nil {
		t.idleTimer.Stop()
	}
	t.idleTimer = time.AfterFunc(t.IdleTimeout, func() {
		t.schedule(func() {
			// Комната читается в момент срабатывания: к этому
			// времени её могли переключить
			t.stopTyping(t.active.ID())
		})
	})
}

// InputSubmitted вызывается после отправки сообщения: поле опустело
func (t *TypingCoordinator) InputSubmitted() {
	t.stopTyping(t.active.ID())
}

func (t *TypingCoordinator) stopTyping(roomID int64) {
	if t.typing {
		t.typing = false
		if roomID != 0 {
			t.send(roomID, false)
		}
	}
	if t.idleTimer != nil {
		t.idleTimer.Stop()
		t.idleTimer = nil
	}
}

func (t *TypingCoordinator) send(roomID int64, isTyping bool) {
	go func() {
		if err := t.api.SendTypingIndicator(context.Background(), roomID, isTyping); err != nil {
			t.logger.Warn("typing indicator failed",
				zap.Int64("room_id", roomID),
				zap.Bool("typing", isTyping),
				zap.Error(err))
		}
	}()
}

// Apply вливает удалённое событие набора в отображаемое множество
func (t *TypingCoordinator) Apply(ev *TypingEvent) {
	if ev.UserID == t.selfID {
		return
	}

	if ev.Typing {
		for _, name := range t.users {
			if name == ev.Username {
				return
			}
		}
		t.users = append(t.users, ev.Username)
		return
	}

	for i, name := range t.users {
		if name == ev.Username {
			t.users = append(t.users[:i], t.users[i+1:]...)
			return
		}
	}
}

// Users возвращает имена печатающих сейчас
func (t *TypingCoordinator) Users() []string {
	out := make([]string, len(t.users))
	copy(out, t.users)
	return out
}

// Reset безусловно чистит состояние при смене комнаты: множество
// печатающих, локальный флаг и таймер. Стоп-сигнал в старую комнату
// не уходит — серверное состояние само истечёт.
func (t *TypingCoordinator) Reset() {
	t.users = nil
	t.typing = false
	if t.idleTimer != nil {
		t.idleTimer.Stop()
		t.idleTimer = nil
	}
}
