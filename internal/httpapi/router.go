package httpapi

import (
	"github.com/gin-gonic/gin"
)

func NewRouter(h *Handler) *gin.Engine {
	r := gin.Default()

	api := r.Group("/api")
	{
		api.GET("/self", h.Self)
		api.POST("/logout", h.Logout)
		api.POST("/presence", h.SetPresence)

		api.GET("/rooms", h.ListRooms)
		api.POST("/rooms", h.CreateRoom)
		api.POST("/rooms/:id/open", h.OpenRoom)
		api.DELETE("/active-room", h.CloseRoom)
		api.DELETE("/rooms/:id", h.DeleteRoom)
		api.GET("/rooms/:id/messages", h.ListMessages)

		api.POST("/messages", h.SendMessage)
		api.POST("/messages/:messageId/visible", h.MessageVisible)

		api.POST("/typing", h.TypingInput)
		api.GET("/typing", h.TypingUsers)

		api.GET("/notifications", h.ListNotifications)
		api.DELETE("/notifications/:id", h.DismissNotification)

		api.GET("/users/search", h.SearchUsers)
	}

	return r
}
