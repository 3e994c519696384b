package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"soundscape/internal/websocket"
	"soundscape/pkg/interfaces"
	"soundscape/pkg/types"
)

// Server exposes the REST surface: session management, memory keepsakes,
// and the health endpoint. The realtime traffic does not pass through it.
type Server struct {
	sessions  interfaces.SessionCoordinator
	store     interfaces.MemoryStore
	registry  *websocket.Registry
	logger    *logrus.Logger
	startTime time.Time
}

func NewServer(sessions interfaces.SessionCoordinator, store interfaces.MemoryStore, registry *websocket.Registry, logger *logrus.Logger) *Server {
	return &Server{
		sessions:  sessions,
		store:     store,
		registry:  registry,
		logger:    logger,
		startTime: time.Now(),
	}
}

// MountRoutes attaches the REST routes to the engine.
func (s *Server) MountRoutes(r *gin.Engine) {
	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/health", s.GetHealth)

		apiGroup.POST("/sessions", s.CreateSession)
		apiGroup.GET("/sessions/:id", s.GetSession)
		apiGroup.DELETE("/sessions/:id", s.CloseSession)

		apiGroup.POST("/memories", s.CreateMemory)
		apiGroup.GET("/memories", s.ListMemories)
		apiGroup.DELETE("/memories/:id", s.DeleteMemory)
	}
}

// ErrorResponse is the uniform error body for REST failures.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// CreateSessionRequest represents the request body for creating a session
type CreateSessionRequest struct {
	Scene        string              `json:"scene"`
	Participants []types.Participant `json:"participants" binding:"required"`
}

func (s *Server) CreateSession(ctx *gin.Context) {
	var req CreateSessionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Bad Request",
			Message: "Invalid JSON format: " + err.Error(),
		})
		return
	}

	session, err := s.sessions.Create(req.Scene, req.Participants)
	if err != nil {
		s.writeError(ctx, err)
		return
	}

	s.logger.WithFields(logrus.Fields{
		"session_id": session.ID,
		"scene":      session.Scene,
	}).Info("session created via api")

	ctx.JSON(http.StatusCreated, session)
}

func (s *Server) GetSession(ctx *gin.Context) {
	session, err := s.sessions.Snapshot(ctx.Param("id"))
	if err != nil {
		s.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, session)
}

func (s *Server) CloseSession(ctx *gin.Context) {
	id := ctx.Param("id")
	if err := s.sessions.Close(id); err != nil {
		s.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"message": "session closed", "sessionId": id})
}

// CreateMemoryRequest represents the request body for saving a memory
type CreateMemoryRequest struct {
	UserID    string `json:"userId" binding:"required"`
	SessionID string `json:"sessionId"`
	Scene     string `json:"scene"`
	Emotion   string `json:"emotion"`
	Title     string `json:"title" binding:"required"`
	Content   string `json:"content" binding:"required"`
}

func (s *Server) CreateMemory(ctx *gin.Context) {
	var req CreateMemoryRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Bad Request",
			Message: "Invalid JSON format: " + err.Error(),
		})
		return
	}
	if !types.IsValidUserID(req.UserID) {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Bad Request",
			Message: "Invalid userId format",
		})
		return
	}

	memory := &types.Memory{
		ID:        uuid.New().String(),
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Scene:     types.NormalizeScene(req.Scene),
		Emotion:   req.Emotion,
		Title:     req.Title,
		Content:   req.Content,
		CreatedAt: time.Now(),
	}

	if err := s.store.SaveMemory(ctx.Request.Context(), memory); err != nil {
		s.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, memory)
}

func (s *Server) ListMemories(ctx *gin.Context) {
	userID := ctx.Query("userId")
	if userID == "" || !types.IsValidUserID(userID) {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Bad Request",
			Message: "Missing or invalid userId query parameter",
		})
		return
	}

	memories, err := s.store.ListMemories(ctx.Request.Context(), userID)
	if err != nil {
		s.writeError(ctx, err)
		return
	}
	if memories == nil {
		memories = []*types.Memory{}
	}
	ctx.JSON(http.StatusOK, gin.H{"memories": memories, "count": len(memories)})
}

func (s *Server) DeleteMemory(ctx *gin.Context) {
	id := ctx.Param("id")
	if err := s.store.DeleteMemory(ctx.Request.Context(), id); err != nil {
		s.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"message": "memory deleted", "id": id})
}

// HealthResponse reports service liveness and headline counters.
type HealthResponse struct {
	Status      string         `json:"status"`
	Uptime      string         `json:"uptime"`
	Database    string         `json:"database"`
	Connections map[string]int `json:"connections"`
	Sessions    int            `json:"sessions"`
}

func (s *Server) GetHealth(ctx *gin.Context) {
	resp := HealthResponse{
		Status:      "ok",
		Uptime:      time.Since(s.startTime).Round(time.Second).String(),
		Database:    "ok",
		Connections: s.registry.Stats(),
		Sessions:    s.sessions.Count(),
	}

	status := http.StatusOK
	if err := s.store.HealthCheck(ctx.Request.Context()); err != nil {
		s.logger.WithError(err).Warn("database health check failed")
		resp.Status = "degraded"
		resp.Database = "unavailable"
		status = http.StatusServiceUnavailable
	}

	ctx.JSON(status, resp)
}

// writeError maps the error taxonomy onto HTTP statuses.
func (s *Server) writeError(ctx *gin.Context, err error) {
	var status int
	var label string
	switch types.KindOf(err) {
	case types.KindValidation:
		status, label = http.StatusBadRequest, "Bad Request"
	case types.KindNotFound:
		status, label = http.StatusNotFound, "Not Found"
	case types.KindExternalService:
		status, label = http.StatusBadGateway, "Bad Gateway"
	default:
		status, label = http.StatusInternalServerError, "Internal Server Error"
		s.logger.WithError(err).Error("request failed")
	}
	ctx.JSON(status, ErrorResponse{Error: label, Message: types.MessageOf(err)})
}
