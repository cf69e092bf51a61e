package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thereayou/chatlink/internal/models"
	"github.com/thereayou/chatlink/internal/transport"
)

type fakeData struct {
	mu           sync.Mutex
	rooms        []models.ChatRoom
	messages     map[int64][]models.Message
	lastMessages map[int64]*models.Message
	deleteErr    error
	deleted      []int64
}

func (f *fakeData) GetChatRooms(context.Context) ([]models.ChatRoom, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.ChatRoom, len(f.rooms))
	copy(out, f.rooms)
	return out, nil
}

func (f *fakeData) GetChatRoomMessages(_ context.Context, roomID int64) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages[roomID], nil
}

func (f *fakeData) GetLastMessage(_ context.Context, roomID int64) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastMessages[roomID], nil
}

func (f *fakeData) CreateChatRoom(_ context.Context, name string, roomType models.RoomType, _ []int64) (*models.ChatRoom, error) {
	return &models.ChatRoom{ID: 99, Name: name, Type: roomType}, nil
}

func (f *fakeData) DeleteChatForUser(_ context.Context, roomID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, roomID)
	return nil
}

func (f *fakeData) UpdateOnlineStatus(context.Context, bool) error         { return nil }
func (f *fakeData) MarkMessageAsRead(context.Context, int64, int64) error  { return nil }
func (f *fakeData) SendTypingIndicator(context.Context, int64, bool) error { return nil }

type publishedFrame struct {
	destination string
	payload     interface{}
}

type fakePush struct {
	mu        sync.Mutex
	handlers  map[uuid.UUID]transport.Handler
	topics    map[uuid.UUID]string
	published []publishedFrame
}

func newFakePush() *fakePush {
	return &fakePush{
		handlers: make(map[uuid.UUID]transport.Handler),
		topics:   make(map[uuid.UUID]string),
	}
}

func (p *fakePush) Connect(context.Context, string) error { return nil }
func (p *fakePush) Disconnect()                           {}

func (p *fakePush) Subscribe(topic string, handler transport.Handler) (*transport.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sub := &transport.Subscription{ID: uuid.New(), Topic: topic}
	p.handlers[sub.ID] = handler
	p.topics[sub.ID] = topic
	return sub, nil
}

func (p *fakePush) Unsubscribe(sub *transport.Subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.handlers, sub.ID)
	delete(p.topics, sub.ID)
}

func (p *fakePush) Publish(destination string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, publishedFrame{destination: destination, payload: payload})
	return nil
}

// Deliver вызывает обработчики всех живых подписок темы, как это
// делает настоящий цикл чтения
func (p *fakePush) Deliver(t *testing.T, topic, body string) {
	t.Helper()
	p.mu.Lock()
	var handlers []transport.Handler
	for id, subTopic := range p.topics {
		if subTopic == topic {
			handlers = append(handlers, p.handlers[id])
		}
	}
	p.mu.Unlock()

	if len(handlers) == 0 {
		t.Fatalf("no subscriber for %s", topic)
	}
	for _, h := range handlers {
		h(json.RawMessage(body))
	}
}

func (p *fakePush) hasTopic(topic string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, subTopic := range p.topics {
		if subTopic == topic {
			return true
		}
	}
	return false
}

func (p *fakePush) lastPublished(t *testing.T) publishedFrame {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.published) == 0 {
		t.Fatal("nothing published")
	}
	return p.published[len(p.published)-1]
}

func newClientFixture(t *testing.T) (*Client, *fakeData, *fakePush) {
	t.Helper()
	data := &fakeData{
		rooms:        []models.ChatRoom{testRoom(7, "general"), testRoom(3, "random")},
		messages:     make(map[int64][]models.Message),
		lastMessages: make(map[int64]*models.Message),
	}
	push := newFakePush()

	c := NewClient(models.User{ID: 1, Username: "alice"}, "token", data, push, zap.NewNop())
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Stop)
	return c, data, push
}

func messageJSON(id, roomID, senderID int64, content string) string {
	return fmt.Sprintf(`{
		"id": %d,
		"content": %q,
		"sender": {"id": %d, "username": "bob"},
		"chatRoom": {"id": %d},
		"type": "CHAT",
		"createdAt": "2026-08-30T12:00:00Z"
	}`, id, content, senderID, roomID)
}

func TestStartSubscribesEverything(t *testing.T) {
	_, _, push := newClientFixture(t)

	for _, topic := range []string{
		"/topic/chatroom-created",
		"/topic/user-status",
		"/topic/chatroom/7",
		"/topic/chatroom/3",
	} {
		if !push.hasTopic(topic) {
			t.Fatalf("no subscription for %s", topic)
		}
	}
	// Темы набора и статусов появляются только после открытия комнаты
	if push.hasTopic("/topic/chatroom/7/typing") {
		t.Fatal("typing subscription without an open room")
	}
}

func TestIncomingMessageReconciliation(t *testing.T) {
	c, _, push := newClientFixture(t)
	if _, err := c.SelectRoom(context.Background(), 7); err != nil {
		t.Fatal(err)
	}

	// Сообщение открытой комнаты: в лог, без непрочитанного, без
	// уведомления
	push.Deliver(t, "/topic/chatroom/7", messageJSON(101, 7, 9, "hi"))

	msgs := c.Messages()
	if len(msgs) != 1 || msgs[0].ID != 101 {
		t.Fatalf("log = %v", msgs)
	}
	if got := c.Rooms()[0]; got.ID != 7 || got.UnreadCount != 0 {
		t.Fatalf("room = %+v", got)
	}
	if len(c.Notifications()) != 0 {
		t.Fatal("active room message raised a notification")
	}

	// Сообщение закрытой комнаты: превью, счётчик, перемещение в
	// начало, уведомление
	push.Deliver(t, "/topic/chatroom/3", messageJSON(102, 3, 9, "psst"))

	rooms := c.Rooms()
	if rooms[0].ID != 3 {
		t.Fatalf("front room = %d, want 3", rooms[0].ID)
	}
	if rooms[0].UnreadCount != 1 || rooms[0].LastMessage == nil || rooms[0].LastMessage.ID != 102 {
		t.Fatalf("room 3 = %+v", rooms[0])
	}
	if got := len(c.Notifications()); got != 1 {
		t.Fatalf("notifications = %d, want 1", got)
	}

	// Повторная доставка того же кадра ничего не меняет
	push.Deliver(t, "/topic/chatroom/3", messageJSON(102, 3, 9, "psst"))

	rooms = c.Rooms()
	if rooms[0].UnreadCount != 1 {
		t.Fatalf("unread after duplicate = %d, want 1", rooms[0].UnreadCount)
	}
	if got := len(c.Notifications()); got != 1 {
		t.Fatalf("notifications after duplicate = %d, want 1", got)
	}
	if got := len(c.Messages()); got != 1 {
		t.Fatalf("log after duplicate = %d, want 1", got)
	}
}

func TestRoomCreatedFlow(t *testing.T) {
	c, _, push := newClientFixture(t)

	event := `{
		"room": {"id": 5, "name": "newbies", "type": "GROUP",
			"createdBy": {"id": 9, "username": "bob"}},
		"memberUsernames": ["alice", "bob"]
	}`
	push.Deliver(t, "/topic/chatroom-created", event)

	// Комната дотягивает превью в фоне, ждём её появления
	deadline := time.After(time.Second)
	for c.Rooms()[0].ID != 5 {
		select {
		case <-deadline:
			t.Fatalf("room 5 never appeared, rooms = %v", c.Rooms())
		case <-time.After(5 * time.Millisecond):
		}
	}

	if !push.hasTopic("/topic/chatroom/5") {
		t.Fatal("no subscription for the new room")
	}
	notes := c.Notifications()
	if len(notes) != 1 || notes[0].Message != `bob added you to "newbies"` {
		t.Fatalf("notifications = %+v", notes)
	}

	// Повторное уведомление о той же комнате — no-op
	push.Deliver(t, "/topic/chatroom-created", event)
	time.Sleep(50 * time.Millisecond)
	if got := len(c.Rooms()); got != 3 {
		t.Fatalf("rooms = %d, want 3", got)
	}
	if got := len(c.Notifications()); got != 1 {
		t.Fatalf("notifications = %d, want 1", got)
	}
}

func TestRoomCreatedIgnoresForeignRooms(t *testing.T) {
	c, _, push := newClientFixture(t)

	push.Deliver(t, "/topic/chatroom-created", `{
		"room": {"id": 5, "name": "private", "type": "GROUP"},
		"memberUsernames": ["bob", "carol"]
	}`)

	time.Sleep(50 * time.Millisecond)
	if got := len(c.Rooms()); got != 2 {
		t.Fatalf("rooms = %d, want 2", got)
	}
}

func TestRoomSwitchResetsTyping(t *testing.T) {
	c, _, push := newClientFixture(t)
	if _, err := c.SelectRoom(context.Background(), 7); err != nil {
		t.Fatal(err)
	}

	push.Deliver(t, "/topic/chatroom/7/typing", `{"userId": 9, "username": "bob", "typing": true}`)
	if users := c.TypingUsers(); len(users) != 1 || users[0] != "bob" {
		t.Fatalf("typing = %v, want [bob]", users)
	}

	if _, err := c.SelectRoom(context.Background(), 3); err != nil {
		t.Fatal(err)
	}
	if users := c.TypingUsers(); len(users) != 0 {
		t.Fatalf("typing survived room switch: %v", users)
	}
	if push.hasTopic("/topic/chatroom/7/typing") {
		t.Fatal("stale typing subscription for the old room")
	}
	if !push.hasTopic("/topic/chatroom/3/typing") {
		t.Fatal("no typing subscription for the new room")
	}
}

func TestStatusFramePatchesLog(t *testing.T) {
	c, data, push := newClientFixture(t)
	data.mu.Lock()
	data.messages[7] = []models.Message{*testMessage(101, 7, 1)}
	data.mu.Unlock()

	if _, err := c.SelectRoom(context.Background(), 7); err != nil {
		t.Fatal(err)
	}

	push.Deliver(t, "/topic/chatroom/7/status",
		`{"messageId": 101, "statusType": "READ", "readAt": "2026-08-30T12:00:00Z"}`)

	msgs := c.Messages()
	if !msgs[0].IsRead || msgs[0].ReadAt == nil {
		t.Fatalf("message = %+v", msgs[0])
	}
}

func TestSendMessageRequiresActiveRoom(t *testing.T) {
	c, _, push := newClientFixture(t)

	if err := c.SendMessage("hi"); !errors.Is(err, ErrNoActiveRoom) {
		t.Fatalf("err = %v, want ErrNoActiveRoom", err)
	}

	if _, err := c.SelectRoom(context.Background(), 7); err != nil {
		t.Fatal(err)
	}
	if err := c.SendMessage("hi"); err != nil {
		t.Fatal(err)
	}

	frame := push.lastPublished(t)
	if frame.destination != "/app/chat.sendMessage" {
		t.Fatalf("destination = %s", frame.destination)
	}
	payload := frame.payload.(map[string]interface{})
	if payload["chatRoomId"] != int64(7) || payload["content"] != "hi" {
		t.Fatalf("payload = %v", payload)
	}
}

func TestSelectRoomUnknown(t *testing.T) {
	c, _, _ := newClientFixture(t)
	if _, err := c.SelectRoom(context.Background(), 42); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("err = %v, want ErrRoomNotFound", err)
	}
}

func TestDeleteRoomIsLocalAndNotifies(t *testing.T) {
	c, data, _ := newClientFixture(t)
	if _, err := c.SelectRoom(context.Background(), 3); err != nil {
		t.Fatal(err)
	}

	if err := c.DeleteRoom(context.Background(), 3); err != nil {
		t.Fatal(err)
	}

	data.mu.Lock()
	deleted := append([]int64(nil), data.deleted...)
	data.mu.Unlock()
	if len(deleted) != 1 || deleted[0] != 3 {
		t.Fatalf("deleted = %v, want [3]", deleted)
	}

	rooms := c.Rooms()
	if len(rooms) != 1 || rooms[0].ID != 7 {
		t.Fatalf("rooms = %v", rooms)
	}
	if c.ActiveRoomID() != 0 {
		t.Fatal("deleted room stayed active")
	}

	notes := c.Notifications()
	if len(notes) != 1 || notes[0].Message != `Chat "random" deleted` {
		t.Fatalf("notifications = %+v", notes)
	}
}

func TestDeleteRoomFailureKeepsRoom(t *testing.T) {
	c, data, _ := newClientFixture(t)
	data.mu.Lock()
	data.deleteErr = errors.New("boom")
	data.mu.Unlock()

	if err := c.DeleteRoom(context.Background(), 3); err == nil {
		t.Fatal("delete must fail")
	}
	if got := len(c.Rooms()); got != 2 {
		t.Fatalf("rooms = %d, want 2", got)
	}
	notes := c.Notifications()
	if len(notes) != 1 || notes[0].Message != "Failed to delete chat. Please try again." {
		t.Fatalf("notifications = %+v", notes)
	}
}

func TestPresenceFrameUpdatesMembers(t *testing.T) {
	c, _, push := newClientFixture(t)

	push.Deliver(t, "/topic/user-status", `{"userId": 9, "isOnline": true}`)

	for _, room := range c.Rooms() {
		for _, m := range room.Members {
			if m.ID == 9 && !m.IsOnline {
				t.Fatalf("room %d: member 9 offline", room.ID)
			}
		}
	}
}
