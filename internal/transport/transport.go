package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Время ожидания записи
	writeWait = 10 * time.Second

	// Время ожидания pong от сервера
	pongWait = 60 * time.Second

	// Интервал отправки ping
	pingPeriod = (pongWait * 9) / 10

	// Максимальный размер сообщения
	maxMessageSize = 512 * 1024 // 512KB
)

var (
	ErrNotConnected  = errors.New("transport is not connected")
	ErrSendQueueFull = errors.New("send queue is full")
)

type FrameType string

const (
	FrameConnect     FrameType = "connect"
	FrameConnected   FrameType = "connected"
	FrameError       FrameType = "error"
	FrameSubscribe   FrameType = "subscribe"
	FrameUnsubscribe FrameType = "unsubscribe"
	FrameSend        FrameType = "send"
	FrameMessage     FrameType = "message"
)

// Frame — кадр протокола поверх websocket. Topic заполнен для
// подписок и входящих событий, Destination — для исходящих публикаций.
type Frame struct {
	Type        FrameType       `json:"type"`
	Topic       string          `json:"topic,omitempty"`
	Destination string          `json:"destination,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
}

// Handler вызывается из читающей горутины; порядок вызовов внутри
// одного топика совпадает с порядком прихода кадров
type Handler func(body json.RawMessage)

type Subscription struct {
	ID    uuid.UUID
	Topic string
}

type subEntry struct {
	topic   string
	handler Handler
}

// Conn — push-транспорт клиента: connect/subscribe/publish/disconnect.
// Политика переподключения сознательно не здесь: ядру достаточно
// узнать об обрыве и решить, что делать.
type Conn struct {
	url    string
	logger *zap.Logger

	mu        sync.RWMutex
	ws        *websocket.Conn
	connected bool
	subs      map[uuid.UUID]*subEntry

	send chan []byte
	done chan struct{}

	handshake chan error
	onClose   func(error)
}

func New(url string, logger *zap.Logger) *Conn {
	return &Conn{
		url:    url,
		logger: logger,
		subs:   make(map[uuid.UUID]*subEntry),
	}
}

// OnClose задаёт обработчик обрыва соединения; должен быть
// установлен до Connect
func (c *Conn) OnClose(fn func(error)) {
	c.onClose = fn
}

// Connect устанавливает соединение и ждёт подтверждения рукопожатия.
// Токен уходит в заголовке, как и в REST-запросах.
func (c *Conn) Connect(ctx context.Context, token string) error {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	c.mu.Lock()
	c.ws = ws
	c.send = make(chan []byte, 256)
	c.done = make(chan struct{})
	c.handshake = make(chan error, 1)
	c.mu.Unlock()

	go c.readPump()
	go c.writePump()

	if err := c.writeFrame(&Frame{Type: FrameConnect}); err != nil {
		c.Disconnect()
		return err
	}

	select {
	case err := <-c.handshake:
		if err != nil {
			c.Disconnect()
			return err
		}
	case <-ctx.Done():
		c.Disconnect()
		return ctx.Err()
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	c.logger.Info("transport connected", zap.String("url", c.url))
	return nil
}

// Subscribe регистрирует обработчик топика. Кадр подписки уходит на
// сервер, но доставка в handler начинается сразу после регистрации.
func (c *Conn) Subscribe(topic string, handler Handler) (*Subscription, error) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	sub := &Subscription{ID: uuid.New(), Topic: topic}
	c.subs[sub.ID] = &subEntry{topic: topic, handler: handler}
	c.mu.Unlock()

	if err := c.writeFrame(&Frame{Type: FrameSubscribe, Topic: topic}); err != nil {
		c.mu.Lock()
		delete(c.subs, sub.ID)
		c.mu.Unlock()
		return nil, err
	}
	return sub, nil
}

func (c *Conn) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	c.mu.Lock()
	_, ok := c.subs[sub.ID]
	delete(c.subs, sub.ID)
	still := false
	for _, e := range c.subs {
		if e.topic == sub.Topic {
			still = true
			break
		}
	}
	c.mu.Unlock()

	if ok && !still {
		if err := c.writeFrame(&Frame{Type: FrameUnsubscribe, Topic: sub.Topic}); err != nil {
			c.logger.Warn("unsubscribe frame failed", zap.String("topic", sub.Topic), zap.Error(err))
		}
	}
}

// Publish отправляет полезную нагрузку в destination
func (c *Conn) Publish(destination string, payload interface{}) error {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()
	if !connected {
		return ErrNotConnected
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	return c.writeFrame(&Frame{Type: FrameSend, Destination: destination, Body: body})
}

func (c *Conn) Disconnect() {
	c.mu.Lock()
	if c.ws == nil {
		c.mu.Unlock()
		return
	}
	ws := c.ws
	done := c.done
	c.ws = nil
	c.connected = false
	c.subs = make(map[uuid.UUID]*subEntry)
	c.mu.Unlock()

	select {
	case <-done:
	default:
		close(done)
	}
	ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	ws.Close()
}

func (c *Conn) writeFrame(f *Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}

	c.mu.RLock()
	send := c.send
	done := c.done
	c.mu.RUnlock()
	if send == nil {
		return ErrNotConnected
	}

	select {
	case send <- data:
		return nil
	case <-done:
		return ErrNotConnected
	default:
		return ErrSendQueueFull
	}
}

// readPump читает кадры и раздаёт их подписчикам
func (c *Conn) readPump() {
	c.mu.RLock()
	ws := c.ws
	c.mu.RUnlock()
	if ws == nil {
		return
	}

	defer func() {
		c.Disconnect()
	}()

	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", zap.Error(err))
			}
			if c.onClose != nil {
				c.onClose(err)
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.Warn("malformed frame dropped", zap.Error(err))
			continue
		}

		switch frame.Type {
		case FrameConnected:
			select {
			case c.handshake <- nil:
			default:
			}

		case FrameError:
			select {
			case c.handshake <- fmt.Errorf("broker error: %s", string(frame.Body)):
			default:
				c.logger.Warn("broker error frame", zap.String("body", string(frame.Body)))
			}

		case FrameMessage:
			c.dispatch(frame.Topic, frame.Body)

		default:
			c.logger.Warn("unknown frame type dropped", zap.String("type", string(frame.Type)))
		}
	}
}

func (c *Conn) dispatch(topic string, body json.RawMessage) {
	c.mu.RLock()
	handlers := make([]Handler, 0, 2)
	for _, e := range c.subs {
		if e.topic == topic {
			handlers = append(handlers, e.handler)
		}
	}
	c.mu.RUnlock()

	for _, h := range handlers {
		h(body)
	}
}

// writePump пишет кадры и пингует сервер
func (c *Conn) writePump() {
	c.mu.RLock()
	ws := c.ws
	send := c.send
	done := c.done
	c.mu.RUnlock()
	if ws == nil {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case data := <-send:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-done:
			return
		}
	}
}
