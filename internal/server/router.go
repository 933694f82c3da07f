package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/stickyboard/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/stickyboard/backend/internal/notes"
	"github.com/MarcoPoloResearchLab/stickyboard/backend/internal/presence"
	"github.com/MarcoPoloResearchLab/stickyboard/backend/internal/uploads"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const (
	sessionIDContextKey = "stickyboard_session_id"

	defaultHeartbeatInterval = 25 * time.Second
	multipartFileField       = "file"
	errorNoFileUploaded      = "No file uploaded"
)

var (
	errMissingBoard    = errors.New("board dependency required")
	errMissingFiles    = errors.New("file store dependency required")
	errMissingPresence = errors.New("presence registry dependency required")
	errMissingHub      = errors.New("realtime hub dependency required")
	errMissingSessions = errors.New("session validator dependency required when the board is gated")
)

// Board is the synchronization engine as seen by the transport.
type Board interface {
	Notes() []notes.Note
	History(limit int) []notes.HistoryEntry
	HandleCreate(ctx context.Context, intent notes.CreateIntent) (notes.Result, error)
	HandleUpdate(ctx context.Context, intent notes.UpdateIntent) (notes.Result, error)
	HandleDelete(ctx context.Context, intent notes.DeleteIntent) (notes.Result, error)
}

// FileStore keeps uploaded attachment files.
type FileStore interface {
	Save(originalName string, content io.Reader) (notes.Attachment, error)
	Open(filename string) (afero.File, error)
}

// SessionIssuer exchanges the shared password for a session token.
type SessionIssuer interface {
	Gated() bool
	Login(password string) (auth.IssuedSession, error)
	TTL() time.Duration
}

// SessionValidator authenticates requests carrying a session cookie.
type SessionValidator interface {
	CookieName() string
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

type Dependencies struct {
	Board             Board
	Files             FileStore
	Presence          *presence.Registry
	Hub               *Hub
	Sessions          SessionIssuer
	SessionValidator  SessionValidator
	Metrics           *Metrics
	Logger            *zap.Logger
	HistoryLimit      int
	AllowedOrigins    []string
	SecureCookies     bool
	HeartbeatInterval time.Duration
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Board == nil {
		return nil, errMissingBoard
	}
	if deps.Files == nil {
		return nil, errMissingFiles
	}
	if deps.Presence == nil {
		return nil, errMissingPresence
	}
	if deps.Hub == nil {
		return nil, errMissingHub
	}
	gated := deps.Sessions != nil && deps.Sessions.Gated()
	if gated && deps.SessionValidator == nil {
		return nil, errMissingSessions
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	historyLimit := deps.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = notes.DefaultHistoryLimit
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	if deps.Metrics != nil {
		router.Use(deps.Metrics.Middleware())
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}
	router.Use(corsMiddleware(deps.AllowedOrigins, gated))

	handler := &httpHandler{
		board:             deps.Board,
		files:             deps.Files,
		presence:          deps.Presence,
		hub:               deps.Hub,
		sessions:          deps.Sessions,
		validator:         deps.SessionValidator,
		gated:             gated,
		metrics:           deps.Metrics,
		logger:            logger,
		historyLimit:      historyLimit,
		secureCookies:     deps.SecureCookies,
		heartbeatInterval: heartbeat,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(deps.AllowedOrigins, gated),
		},
	}

	router.GET("/healthz", handler.handleHealth)
	router.POST("/api/login", handler.handleLogin)
	router.POST("/api/logout", handler.handleLogout)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/api/notes", handler.handleListNotes)
	protected.GET("/api/history", handler.handleListHistory)
	protected.GET("/api/events", handler.handleEventStream)
	protected.POST("/upload", handler.handleUpload)
	protected.GET("/uploads/:filename", handler.handleServeUpload)
	protected.GET("/ws", handler.handleWebSocket)

	return router, nil
}

type httpHandler struct {
	board             Board
	files             FileStore
	presence          *presence.Registry
	hub               *Hub
	sessions          SessionIssuer
	validator         SessionValidator
	gated             bool
	metrics           *Metrics
	logger            *zap.Logger
	historyLimit      int
	secureCookies     bool
	heartbeatInterval time.Duration
	upgrader          websocket.Upgrader
}

type loginRequestPayload struct {
	Password string `json:"password"`
}

type loginResponsePayload struct {
	Authenticated bool       `json:"authenticated"`
	Gated         bool       `json:"gated"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	if !h.gated {
		c.JSON(http.StatusOK, loginResponsePayload{Authenticated: true})
		return
	}

	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	session, err := h.sessions.Login(request.Password)
	if errors.Is(err, auth.ErrInvalidPassword) {
		h.logger.Info("login rejected", zap.String("remote_addr", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_password"})
		return
	}
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.validator.CookieName(), session.Token, int(h.sessions.TTL().Seconds()), "/", "", h.secureCookies, true)
	expiresAt := session.ExpiresAt
	c.JSON(http.StatusOK, loginResponsePayload{Authenticated: true, Gated: true, ExpiresAt: &expiresAt})
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	if h.gated {
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(h.validator.CookieName(), "", -1, "/", "", h.secureCookies, true)
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleListNotes(c *gin.Context) {
	c.JSON(http.StatusOK, h.board.Notes())
}

func (h *httpHandler) handleListHistory(c *gin.Context) {
	limit := h.historyLimit
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	c.JSON(http.StatusOK, h.board.History(limit))
}

func (h *httpHandler) handleUpload(c *gin.Context) {
	fileHeader, err := c.FormFile(multipartFileField)
	if err != nil || fileHeader == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorNoFileUploaded})
		return
	}
	content, err := fileHeader.Open()
	if err != nil {
		h.logger.Warn("failed to open uploaded file", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": errorNoFileUploaded})
		return
	}
	defer content.Close()

	attachment, err := h.files.Save(fileHeader.Filename, content)
	if err != nil {
		h.logger.Error("failed to store uploaded file", zap.String("original_name", fileHeader.Filename), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload_failed"})
		return
	}
	c.JSON(http.StatusOK, attachment)
}

func (h *httpHandler) handleServeUpload(c *gin.Context) {
	file, err := h.files.Open(c.Param("filename"))
	switch {
	case errors.Is(err, uploads.ErrInvalidFilename):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_filename"})
		return
	case errors.Is(err, os.ErrNotExist):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	case err != nil:
		h.logger.Error("failed to open stored file", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read_failed"})
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil || info.IsDir() {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	http.ServeContent(c.Writer, c.Request, info.Name(), info.ModTime(), file)
}

// handleEventStream mirrors the outbound realtime events as server-sent events.
func (h *httpHandler) handleEventStream(c *gin.Context) {
	ctx := c.Request.Context()
	streamID := "sse-" + uuid.NewString()
	stream, cleanup := h.hub.Subscribe(ctx, streamID)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	c.SSEvent(EventConnected, connectedPayload{ConnectionID: streamID})
	c.SSEvent(EventOnlineUsers, h.presence.Names())
	c.Writer.Flush()

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case event, ok := <-stream:
			if !ok {
				h.logger.Info("event stream subscriber evicted", zap.String("stream_id", streamID))
				return false
			}
			c.SSEvent(event.Type, event.Payload)
			return true
		case <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"timestamp": time.Now().UTC()})
			return true
		}
	})
}

func (h *httpHandler) broadcastOnlineUsers() {
	h.hub.Broadcast(Event{Type: EventOnlineUsers, Payload: h.presence.Names()})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	if !h.gated {
		c.Next()
		return
	}
	claims, err := h.validator.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(sessionIDContextKey, claims.SessionID)
	c.Next()
}

// corsMiddleware honours the configured allow-list. Without one, a gated board
// accepts same-origin requests only and an open board reflects any origin.
func corsMiddleware(allowedOrigins []string, sameOriginOnly bool) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	switch {
	case len(allowedOrigins) > 0:
		config.AllowOrigins = allowedOrigins
	case sameOriginOnly:
		config.AllowOriginWithContextFunc = func(c *gin.Context, origin string) bool {
			return sameOrigin(c.Request, origin)
		}
	default:
		config.AllowOriginFunc = func(string) bool { return true }
	}
	return cors.New(config)
}

func originChecker(allowedOrigins []string, sameOriginOnly bool) func(r *http.Request) bool {
	if len(allowedOrigins) == 0 {
		if sameOriginOnly {
			return func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || sameOrigin(r, origin)
			}
		}
		return func(*http.Request) bool { return true }
	}
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[strings.TrimRight(origin, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[strings.TrimRight(origin, "/")]
		return ok
	}
}

func sameOrigin(r *http.Request, origin string) bool {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	return strings.EqualFold(parsed.Host, r.Host)
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
		}
		if status >= http.StatusInternalServerError {
			logger.Warn("http request", fields...)
			return
		}
		logger.Debug("http request", fields...)
	}
}
