package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/thereayou/chatlink/internal/api"
	"github.com/thereayou/chatlink/internal/chat"
	"github.com/thereayou/chatlink/internal/models"
	"github.com/thereayou/chatlink/internal/session"
)

// Handler — локальная поверхность управления для внешнего интерфейса.
// Вся логика согласования живёт в ядре; здесь только разбор запросов
// и сериализация ответов.
type Handler struct {
	core   *chat.Client
	rest   *api.Client
	store  *session.Store
	logger *zap.Logger
}

func NewHandler(core *chat.Client, rest *api.Client, store *session.Store, logger *zap.Logger) *Handler {
	return &Handler{core: core, rest: rest, store: store, logger: logger}
}

func (h *Handler) ListRooms(c *gin.Context) {
	c.JSON(http.StatusOK, h.core.Rooms())
}

type createRoomRequest struct {
	Name      string          `json:"name" binding:"required"`
	Type      models.RoomType `json:"type" binding:"required,oneof=DIRECT GROUP"`
	MemberIDs []int64         `json:"memberIds" binding:"required,min=1"`
}

func (h *Handler) CreateRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room, err := h.core.CreateRoom(c.Request.Context(), req.Name, req.Type, req.MemberIDs)
	if err != nil {
		h.logger.Error("create room failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to create room"})
		return
	}
	c.JSON(http.StatusCreated, room)
}

func (h *Handler) OpenRoom(c *gin.Context) {
	roomID, err := roomParam(c)
	if err != nil {
		return
	}

	msgs, err := h.core.SelectRoom(c.Request.Context(), roomID)
	if err == chat.ErrRoomNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	if err != nil {
		h.logger.Error("open room failed", zap.Int64("room_id", roomID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to load messages"})
		return
	}
	c.JSON(http.StatusOK, msgs)
}

func (h *Handler) CloseRoom(c *gin.Context) {
	h.core.CloseRoom()
	c.Status(http.StatusNoContent)
}

func (h *Handler) DeleteRoom(c *gin.Context) {
	roomID, err := roomParam(c)
	if err != nil {
		return
	}
	if err := h.core.DeleteRoom(c.Request.Context(), roomID); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to delete room"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ListMessages(c *gin.Context) {
	roomID, err := roomParam(c)
	if err != nil {
		return
	}
	if h.core.ActiveRoomID() != roomID {
		c.JSON(http.StatusConflict, gin.H{"error": "room is not open"})
		return
	}
	c.JSON(http.StatusOK, h.core.Messages())
}

type sendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

func (h *Handler) SendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.core.SendMessage(req.Content); err != nil {
		if err == chat.ErrNoActiveRoom {
			c.JSON(http.StatusConflict, gin.H{"error": "no room is open"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to send message"})
		return
	}
	c.Status(http.StatusAccepted)
}

type typingRequest struct {
	Text string `json:"text"`
}

// TypingInput получает каждое изменение поля ввода от интерфейса
func (h *Handler) TypingInput(c *gin.Context) {
	var req typingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.core.TypingInput(req.Text)
	c.Status(http.StatusAccepted)
}

func (h *Handler) TypingUsers(c *gin.Context) {
	c.JSON(http.StatusOK, h.core.TypingUsers())
}

// MessageVisible — сигнал видимости от интерфейса: сообщение показано
// пользователю не меньше чем наполовину
func (h *Handler) MessageVisible(c *gin.Context) {
	messageID, err := strconv.ParseInt(c.Param("messageId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return
	}
	h.core.MessageVisible(messageID)
	c.Status(http.StatusAccepted)
}

func (h *Handler) ListNotifications(c *gin.Context) {
	c.JSON(http.StatusOK, h.core.Notifications())
}

func (h *Handler) DismissNotification(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid notification id"})
		return
	}
	if !h.core.DismissNotification(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) SearchUsers(c *gin.Context) {
	query := c.Query("query")
	users, err := h.rest.SearchUsers(c.Request.Context(), query)
	if err != nil {
		h.logger.Error("user search failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to search users"})
		return
	}
	c.JSON(http.StatusOK, users)
}

type presenceRequest struct {
	IsOnline *bool `json:"isOnline" binding:"required"`
}

func (h *Handler) SetPresence(c *gin.Context) {
	var req presenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.core.SetPresence(*req.IsOnline)
	c.Status(http.StatusAccepted)
}

func (h *Handler) Logout(c *gin.Context) {
	if err := h.store.Clear(c.Request.Context()); err != nil {
		h.logger.Error("session clear failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to clear session"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) Self(c *gin.Context) {
	c.JSON(http.StatusOK, h.core.Self())
}

func roomParam(c *gin.Context) (int64, error) {
	roomID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return 0, err
	}
	return roomID, nil
}
