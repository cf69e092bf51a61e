package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/thereayou/chatlink/internal/models"
	"github.com/thereayou/chatlink/internal/transport"
)

// Темы и адреса, которые слушает и использует клиент
const (
	topicRoomFmt       = "/topic/chatroom/%d"
	topicTypingFmt     = "/topic/chatroom/%d/typing"
	topicStatusFmt     = "/topic/chatroom/%d/status"
	topicRoomCreated   = "/topic/chatroom-created"
	topicUserStatus    = "/topic/user-status"
	destSendMessage    = "/app/chat.sendMessage"
	destAddUser        = "/app/chat.addUser"
	unreadRefreshDelay = 500 * time.Millisecond
)

var (
	ErrRoomNotFound = errors.New("room is not in the registry")
	ErrNoActiveRoom = errors.New("no room is open")
)

// DataService — операции запрос/ответ, которые потребляет ядро
type DataService interface {
	GetChatRooms(ctx context.Context) ([]models.ChatRoom, error)
	GetChatRoomMessages(ctx context.Context, roomID int64) ([]models.Message, error)
	GetLastMessage(ctx context.Context, roomID int64) (*models.Message, error)
	CreateChatRoom(ctx context.Context, name string, roomType models.RoomType, memberIDs []int64) (*models.ChatRoom, error)
	DeleteChatForUser(ctx context.Context, roomID int64) error
	UpdateOnlineStatus(ctx context.Context, isOnline bool) error
	MarkMessageAsRead(ctx context.Context, roomID, messageID int64) error
	SendTypingIndicator(ctx context.Context, roomID int64, isTyping bool) error
}

// PushTransport — push-канал: подключение, подписки, публикация
type PushTransport interface {
	Connect(ctx context.Context, token string) error
	Subscribe(topic string, handler transport.Handler) (*transport.Subscription, error)
	Unsubscribe(sub *transport.Subscription)
	Publish(destination string, payload interface{}) error
	Disconnect()
}

// Client — ядро согласования. Вся работа с состоянием идёт через один
// цикл событий: колбэки транспорта, таймеры и действия пользователя
// встают в очередь задач и выполняются без вытеснения. Точки
// приостановки — только удалённые вызовы; код после них снова
// попадает в очередь.
type Client struct {
	self   models.User
	token  string
	api    DataService
	push   PushTransport
	logger *zap.Logger

	tasks chan func()
	done  chan struct{}

	registry *Registry
	active   *ActiveRoom
	log      *MessageLog
	receipts *ReceiptCoordinator
	typing   *TypingCoordinator
	notifier *Notifier

	roomSubs   []*transport.Subscription
	globalSubs []*transport.Subscription

	refreshPending bool
}

func NewClient(self models.User, token string, api DataService, push PushTransport, logger *zap.Logger) *Client {
	c := &Client{
		self:   self,
		token:  token,
		api:    api,
		push:   push,
		logger: logger,
		tasks:  make(chan func(), 256),
		done:   make(chan struct{}),
	}

	c.registry = NewRegistry(logger)
	c.active = NewActiveRoom()
	c.log = NewMessageLog()
	c.receipts = NewReceiptCoordinator(api, c.log, c.active, self.ID, c.do, c.queueUnreadRefresh, logger)
	c.typing = NewTypingCoordinator(api, c.active, self.ID, c.do, logger)
	c.notifier = NewNotifier(self.ID, c.active, c.do)
	return c
}

// Start подключает транспорт, вешает глобальные подписки и наполняет
// реестр. Неудача загрузки списка комнат критична и роняет запуск;
// всё остальное здесь best-effort.
func (c *Client) Start(ctx context.Context) error {
	go c.run()

	if err := c.push.Connect(ctx, c.token); err != nil {
		return fmt.Errorf("transport connect: %w", err)
	}

	if err := c.subscribeGlobal(); err != nil {
		return err
	}

	if err := c.api.UpdateOnlineStatus(ctx, true); err != nil {
		c.logger.Warn("online presence ping failed", zap.Error(err))
	}

	rooms, err := c.api.GetChatRooms(ctx)
	if err != nil {
		return fmt.Errorf("room list hydration: %w", err)
	}
	c.attachLastMessages(ctx, rooms)

	c.call(func() {
		c.registry.UpsertFromSnapshot(rooms)
		c.resubscribeRooms()
	})
	c.logger.Info("chat client started",
		zap.Int64("user_id", c.self.ID),
		zap.Int("rooms", len(rooms)))
	return nil
}

// Stop шлёт прощальный пинг присутствия и рвёт транспорт
func (c *Client) Stop() {
	if err := c.api.UpdateOnlineStatus(context.Background(), false); err != nil {
		c.logger.Warn("offline presence ping failed", zap.Error(err))
	}
	c.push.Disconnect()
	close(c.done)
}

func (c *Client) run() {
	for {
		select {
		case task := <-c.tasks:
			task()
		case <-c.done:
			return
		}
	}
}

// do ставит задачу в цикл событий
func (c *Client) do(task func()) {
	select {
	case c.tasks <- task:
	case <-c.done:
	}
}

// call ставит задачу и ждёт её завершения
func (c *Client) call(task func()) {
	done := make(chan struct{})
	c.do(func() {
		defer close(done)
		task()
	})
	select {
	case <-done:
	case <-c.done:
	}
}

func (c *Client) subscribeGlobal() error {
	created, err := c.push.Subscribe(topicRoomCreated, c.onRoomCreatedFrame)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topicRoomCreated, err)
	}
	presence, err := c.push.Subscribe(topicUserStatus, c.onPresenceFrame)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topicUserStatus, err)
	}
	c.globalSubs = append(c.globalSubs, created, presence)
	return nil
}

// resubscribeRooms пересобирает комнатные подписки. Старые снимаются
// полностью до создания новых: два живых обработчика одной темы
// означали бы двойную доставку и двойной счётчик непрочитанного.
// Выполняется только из цикла событий.
func (c *Client) resubscribeRooms() {
	for _, sub := range c.roomSubs {
		c.push.Unsubscribe(sub)
	}
	c.roomSubs = nil

	for _, room := range c.registry.Rooms() {
		sub, err := c.push.Subscribe(fmt.Sprintf(topicRoomFmt, room.ID), c.onMessageFrame)
		if err != nil {
			c.logger.Warn("room subscription failed", zap.Int64("room_id", room.ID), zap.Error(err))
			continue
		}
		c.roomSubs = append(c.roomSubs, sub)
	}

	// Темы набора и статусов нужны только для открытой комнаты
	if roomID := c.active.ID(); roomID != 0 {
		c.subscribeActiveRoom(roomID)
	}
}

func (c *Client) subscribeActiveRoom(roomID int64) {
	typingSub, err := c.push.Subscribe(fmt.Sprintf(topicTypingFmt, roomID), c.typingFrameHandler(roomID))
	if err != nil {
		c.logger.Warn("typing subscription failed", zap.Int64("room_id", roomID), zap.Error(err))
	} else {
		c.roomSubs = append(c.roomSubs, typingSub)
	}

	statusSub, err := c.push.Subscribe(fmt.Sprintf(topicStatusFmt, roomID), c.onStatusFrame)
	if err != nil {
		c.logger.Warn("status subscription failed", zap.Int64("room_id", roomID), zap.Error(err))
	} else {
		c.roomSubs = append(c.roomSubs, statusSub)
	}
}

// onMessageFrame — входящее сообщение из темы любой комнаты.
// Обработчик регистрируется один раз на список комнат и обязан
// определять открытую комнату в момент события, а не при подписке.
func (c *Client) onMessageFrame(body json.RawMessage) {
	ev, err := DecodeMessageEvent(body)
	if err != nil {
		c.logger.Warn("message event dropped", zap.Error(err))
		return
	}

	c.do(func() {
		msg := &ev.Message
		activeID := c.active.ID()

		if activeID == msg.ChatRoom.ID {
			if c.log.Append(msg) {
				c.receipts.ScheduleFallback()
			}
		}

		applied := c.registry.ApplyIncomingMessage(msg, c.self.ID, activeID)
		if applied {
			c.notifier.OnMessage(msg)
		}
	})
}

// typingFrameHandler привязан к теме конкретной комнаты; нагрузка
// события комнату не содержит, поэтому сверяем захваченный id с
// активной комнатой в момент выполнения
func (c *Client) typingFrameHandler(roomID int64) transport.Handler {
	return func(body json.RawMessage) {
		ev, err := DecodeTypingEvent(body)
		if err != nil {
			c.logger.Warn("typing event dropped", zap.Error(err))
			return
		}
		c.do(func() {
			if c.active.ID() != roomID {
				return
			}
			c.typing.Apply(ev)
		})
	}
}

func (c *Client) onStatusFrame(body json.RawMessage) {
	ev, err := DecodeStatusEvent(body)
	if err != nil {
		c.logger.Warn("status event dropped", zap.Error(err))
		return
	}
	c.do(func() {
		switch ev.StatusType {
		case StatusRead:
			at := time.Now()
			if ev.ReadAt != nil {
				at = *ev.ReadAt
			}
			c.log.PatchReadStatus(ev.MessageID, at)
		case StatusDelivered:
			at := time.Now()
			if ev.DeliveredAt != nil {
				at = *ev.DeliveredAt
			}
			c.log.PatchDeliveryStatus(ev.MessageID, at)
		}
	})
}

func (c *Client) onRoomCreatedFrame(body json.RawMessage) {
	ev, err := DecodeRoomCreatedEvent(body)
	if err != nil {
		c.logger.Warn("room created event dropped", zap.Error(err))
		return
	}
	if !ev.HasMember(c.self.Username) {
		return
	}

	go func() {
		room := ev.Room
		last, lastErr := c.api.GetLastMessage(context.Background(), room.ID)
		if lastErr != nil {
			c.logger.Warn("last message fetch failed", zap.Int64("room_id", room.ID), zap.Error(lastErr))
		}
		c.do(func() {
			if last != nil {
				room.LastMessage = last
				ts := last.CreatedAt
				room.LastMessageTime = &ts
			}
			if !c.registry.AddRoom(&room) {
				// Повторное уведомление о той же комнате
				return
			}
			c.resubscribeRooms()
			c.notifier.OnRoomCreated(&room)
		})
	}()
}

func (c *Client) onPresenceFrame(body json.RawMessage) {
	ev, err := DecodePresenceEvent(body)
	if err != nil {
		c.logger.Warn("presence event dropped", zap.Error(err))
		return
	}
	c.do(func() {
		c.registry.ApplyPresence(ev)
	})
}

// SelectRoom делает комнату активной: чистит лог и индикаторы набора,
// снимает таймеры прежней комнаты, обнуляет непрочитанное и
// наполняет лог свежей выборкой
func (c *Client) SelectRoom(ctx context.Context, roomID int64) ([]models.Message, error) {
	var selErr error
	c.call(func() {
		room := c.registry.Get(roomID)
		if room == nil {
			selErr = ErrRoomNotFound
			return
		}
		c.active.Set(room)
		c.registry.MarkOpened(roomID)
		c.typing.Reset()
		c.receipts.CancelPending()
		c.log.Clear()
		c.resubscribeRooms()
	})
	if selErr != nil {
		return nil, selErr
	}

	msgs, err := c.api.GetChatRoomMessages(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}

	c.call(func() {
		// Пока ходили за сообщениями, комнату могли переключить ещё раз
		if c.active.ID() != roomID {
			return
		}
		c.log.Hydrate(roomID, msgs)
		c.receipts.ScheduleFallback()
	})
	return msgs, nil
}

// CloseRoom сбрасывает активную комнату
func (c *Client) CloseRoom() {
	c.call(func() {
		c.active.Clear()
		c.typing.Reset()
		c.receipts.CancelPending()
		c.log.Clear()
		c.resubscribeRooms()
	})
}

// SendMessage публикует сообщение в открытую комнату
func (c *Client) SendMessage(content string) error {
	roomID := c.active.ID()
	if roomID == 0 {
		return ErrNoActiveRoom
	}
	c.call(func() {
		c.typing.InputSubmitted()
	})
	payload := map[string]interface{}{
		"content":    content,
		"chatRoomId": roomID,
		"type":       models.MessageChat,
	}
	return c.push.Publish(destSendMessage, payload)
}

// AnnounceJoin публикует служебное JOIN-сообщение в комнату
func (c *Client) AnnounceJoin(roomID int64) error {
	payload := map[string]interface{}{
		"content":    c.self.Username,
		"chatRoomId": roomID,
		"type":       models.MessageJoin,
	}
	return c.push.Publish(destAddUser, payload)
}

// TypingInput прокидывает изменение поля ввода в координатор набора
func (c *Client) TypingInput(text string) {
	c.call(func() {
		c.typing.InputChanged(text)
	})
}

// MessageVisible сообщает, что сообщение показано пользователю
func (c *Client) MessageVisible(messageID int64) {
	c.call(func() {
		c.receipts.MessageVisible(messageID)
	})
}

// CreateRoom создаёт комнату и обновляет реестр; своя комната встаёт
// в начало списка ещё и по пушу о создании, AddRoom это переживает
func (c *Client) CreateRoom(ctx context.Context, name string, roomType models.RoomType, memberIDs []int64) (*models.ChatRoom, error) {
	room, err := c.api.CreateChatRoom(ctx, name, roomType, memberIDs)
	if err != nil {
		return nil, err
	}
	c.call(func() {
		if c.registry.AddRoom(room) {
			c.resubscribeRooms()
		}
	})
	return room, nil
}

// DeleteRoom убирает комнату только у текущего пользователя; у
// остальных участников она остаётся
func (c *Client) DeleteRoom(ctx context.Context, roomID int64) error {
	var name string
	c.call(func() {
		if room := c.registry.Get(roomID); room != nil {
			name = room.Name
		}
	})

	if err := c.api.DeleteChatForUser(ctx, roomID); err != nil {
		c.call(func() {
			c.notifier.PushSystem("Failed to delete chat. Please try again.", roomID, name)
		})
		return err
	}

	c.call(func() {
		c.registry.RemoveRoom(roomID)
		if c.active.ID() == roomID {
			c.active.Clear()
			c.typing.Reset()
			c.receipts.CancelPending()
			c.log.Clear()
		}
		c.resubscribeRooms()
		c.notifier.PushSystem(fmt.Sprintf("Chat %q deleted", name), roomID, name)
	})
	return nil
}

// SetPresence — ручной пинг присутствия (вкладка свёрнута/развёрнута)
func (c *Client) SetPresence(isOnline bool) {
	go func() {
		if err := c.api.UpdateOnlineStatus(context.Background(), isOnline); err != nil {
			c.logger.Warn("presence ping failed", zap.Bool("online", isOnline), zap.Error(err))
		}
	}()
}

// RefreshRooms перечитывает список комнат с сервера
func (c *Client) RefreshRooms(ctx context.Context) error {
	rooms, err := c.api.GetChatRooms(ctx)
	if err != nil {
		return fmt.Errorf("room list refresh: %w", err)
	}
	c.attachLastMessages(ctx, rooms)
	c.call(func() {
		c.registry.UpsertFromSnapshot(rooms)
		c.resubscribeRooms()
	})
	return nil
}

// attachLastMessages дотягивает превью для каждой комнаты; отказ по
// отдельной комнате не мешает остальным
func (c *Client) attachLastMessages(ctx context.Context, rooms []models.ChatRoom) {
	for i := range rooms {
		last, err := c.api.GetLastMessage(ctx, rooms[i].ID)
		if err != nil {
			c.logger.Warn("last message fetch failed", zap.Int64("room_id", rooms[i].ID), zap.Error(err))
			continue
		}
		if last != nil {
			rooms[i].LastMessage = last
			ts := last.CreatedAt
			rooms[i].LastMessageTime = &ts
		}
	}
}

// queueUnreadRefresh сливает шквал отметок о прочтении в одно
// обновление списка комнат
func (c *Client) queueUnreadRefresh(roomID int64) {
	if c.refreshPending {
		return
	}
	c.refreshPending = true
	time.AfterFunc(unreadRefreshDelay, func() {
		c.do(func() {
			c.refreshPending = false
		})
		if err := c.RefreshRooms(context.Background()); err != nil {
			c.logger.Warn("unread refresh failed", zap.Int64("room_id", roomID), zap.Error(err))
		}
	})
}

// Rooms — снимок реестра в порядке свежести
func (c *Client) Rooms() []models.ChatRoom {
	var rooms []models.ChatRoom
	c.call(func() {
		rooms = c.registry.Rooms()
	})
	return rooms
}

// Messages — снимок лога открытой комнаты
func (c *Client) Messages() []models.Message {
	var msgs []models.Message
	c.call(func() {
		msgs = c.log.Messages()
	})
	return msgs
}

// TypingUsers — кто печатает в открытой комнате
func (c *Client) TypingUsers() []string {
	var users []string
	c.call(func() {
		users = c.typing.Users()
	})
	return users
}

// Notifications — активные уведомления
func (c *Client) Notifications() []Notification {
	var entries []Notification
	c.call(func() {
		entries = c.notifier.Active()
	})
	return entries
}

// DismissNotification закрывает уведомление по запросу пользователя
func (c *Client) DismissNotification(id int64) bool {
	var ok bool
	c.call(func() {
		ok = c.notifier.Dismiss(id)
	})
	return ok
}

// ActiveRoomID — id открытой комнаты, 0 если ничего не открыто
func (c *Client) ActiveRoomID() int64 {
	return c.active.ID()
}

// Self — профиль локального пользователя
func (c *Client) Self() models.User {
	return c.self
}
