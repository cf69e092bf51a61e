package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/thereayou/chatlink/internal/models"
)

// TokenSource отдаёт актуальный bearer-токен для каждого запроса
type TokenSource interface {
	Token() string
}

type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: status %d: %s", e.Status, e.Body)
}

// Client — REST-клиент чат-сервера. Никакой логики согласования
// состояния здесь нет, только запрос/ответ.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	logger  *zap.Logger
}

func NewClient(baseURL string, tokens TokenSource, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		tokens:  tokens,
		logger:  logger,
	}
}

type SignInResponse struct {
	AccessToken string `json:"accessToken"`
	TokenType   string `json:"tokenType"`
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
}

func (c *Client) SignIn(ctx context.Context, username, password string) (*SignInResponse, error) {
	var resp SignInResponse
	body := map[string]string{"username": username, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/auth/signin", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) SignUp(ctx context.Context, username, email, password string) error {
	body := map[string]string{"username": username, "email": email, "password": password}
	return c.do(ctx, http.MethodPost, "/api/auth/signup", body, nil)
}

func (c *Client) GetChatRooms(ctx context.Context) ([]models.ChatRoom, error) {
	var rooms []models.ChatRoom
	if err := c.do(ctx, http.MethodGet, "/api/chatrooms", nil, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

func (c *Client) CreateChatRoom(ctx context.Context, name string, roomType models.RoomType, memberIDs []int64) (*models.ChatRoom, error) {
	var room models.ChatRoom
	body := map[string]interface{}{"name": name, "type": roomType, "memberIds": memberIDs}
	if err := c.do(ctx, http.MethodPost, "/api/chatrooms", body, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

func (c *Client) GetChatRoomMessages(ctx context.Context, roomID int64) ([]models.Message, error) {
	var msgs []models.Message
	path := fmt.Sprintf("/api/chatrooms/%d/messages", roomID)
	if err := c.do(ctx, http.MethodGet, path, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (c *Client) JoinChatRoom(ctx context.Context, roomID int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/chatrooms/%d/join", roomID), nil, nil)
}

func (c *Client) LeaveChatRoom(ctx context.Context, roomID int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/chatrooms/%d/leave", roomID), nil, nil)
}

// GetLastMessage возвращает nil без ошибки, если последнего сообщения
// нет: для свежей комнаты это нормальное состояние
func (c *Client) GetLastMessage(ctx context.Context, roomID int64) (*models.Message, error) {
	var msg models.Message
	path := fmt.Sprintf("/api/chatrooms/%d/last-message", roomID)
	if err := c.do(ctx, http.MethodGet, path, nil, &msg); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	if msg.ID == 0 {
		return nil, nil
	}
	return &msg, nil
}

func (c *Client) DeleteChatForUser(ctx context.Context, roomID int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/chatrooms/%d", roomID), nil, nil)
}

func (c *Client) SearchUsers(ctx context.Context, query string) ([]models.User, error) {
	var users []models.User
	path := "/api/users/search?query=" + url.QueryEscape(query)
	if err := c.do(ctx, http.MethodGet, path, nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (c *Client) GetAllUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := c.do(ctx, http.MethodGet, "/api/users", nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (c *Client) UpdateOnlineStatus(ctx context.Context, isOnline bool) error {
	path := "/api/users/status?isOnline=" + strconv.FormatBool(isOnline)
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

func (c *Client) MarkMessageAsRead(ctx context.Context, roomID, messageID int64) error {
	path := fmt.Sprintf("/api/chatrooms/%d/messages/%d/read", roomID, messageID)
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

func (c *Client) SendTypingIndicator(ctx context.Context, roomID int64, isTyping bool) error {
	path := fmt.Sprintf("/api/chatrooms/%d/typing?isTyping=%t", roomID, isTyping)
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.tokens.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Body: string(data)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
