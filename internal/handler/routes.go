package handler

import "github.com/gin-gonic/gin"

// RegisterCallRoutes mounts the call registry API on an authenticated group.
func RegisterCallRoutes(rg *gin.RouterGroup, h *CallHandler) {
	calls := rg.Group("/calls")
	{
		calls.POST("", h.Create)
		calls.GET("", h.List)
		calls.GET("/:id", h.GetByID)
		calls.POST("/:id/accept", h.Accept)
		calls.POST("/:id/decline", h.Decline)
		calls.POST("/:id/end", h.End)
		calls.POST("/:id/missed", h.Missed)
		calls.POST("/:id/join", h.Join)
		calls.POST("/:id/leave", h.Leave)
	}
}
