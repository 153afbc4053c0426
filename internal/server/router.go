package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/parleyhq/parley/internal/auth"
	"github.com/parleyhq/parley/internal/blob"
	"github.com/parleyhq/parley/internal/chat"
	"github.com/parleyhq/parley/internal/presence"
	"github.com/parleyhq/parley/internal/roster"
)

const principalContextKey = "parley_principal"

var (
	errMissingTokenVerifier = errors.New("token verifier dependency required")
	errMissingMessageStore  = errors.New("message store dependency required")
	errMissingHistory       = errors.New("history dependency required")
	errMissingBlobStore     = errors.New("blob store dependency required")
	errMissingPresenceTable = errors.New("presence table dependency required")
	errMissingRoster        = errors.New("roster dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// TokenVerifier validates an opaque bearer token and yields a principal.
type TokenVerifier interface {
	Verify(token string) (auth.Principal, error)
}

// Dependencies collects the collaborators required by the HTTP handler.
type Dependencies struct {
	Verifier TokenVerifier
	Messages *chat.Store
	History  *chat.History
	Blobs    *blob.Store
	Presence *presence.Table
	Roster   *roster.Service
	Logger   *zap.Logger
}

// NewHTTPHandler wires the HTTP surface and the realtime gateway.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Verifier == nil {
		return nil, errMissingTokenVerifier
	}
	if deps.Messages == nil {
		return nil, errMissingMessageStore
	}
	if deps.History == nil {
		return nil, errMissingHistory
	}
	if deps.Blobs == nil {
		return nil, errMissingBlobStore
	}
	if deps.Presence == nil {
		return nil, errMissingPresenceTable
	}
	if deps.Roster == nil {
		return nil, errMissingRoster
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	broadcastRouter := NewRouter(deps.Presence, logger)
	gateway := NewGateway(deps.Verifier, broadcastRouter, deps.Messages, deps.History, deps.Roster, logger)

	handler := &httpHandler{
		verifier: deps.Verifier,
		history:  deps.History,
		blobs:    deps.Blobs,
		roster:   deps.Roster,
		logger:   logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/ws", gateway.HandleConnection)
	router.GET("/files/:id", handler.handleFileDownload)
	router.GET("/files/:id/thumb", handler.handleFileThumbnail)
	router.GET("/messages/room/:room", handler.handleRoomMessages)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/upload", handler.handleUpload)
	protected.GET("/messages/dm/:userId", handler.handleDirectMessages)
	protected.GET("/users", handler.handleRosterList)

	return router, nil
}

type httpHandler struct {
	verifier TokenVerifier
	history  *chat.History
	blobs    *blob.Store
	roster   *roster.Service
	logger   *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	principal, err := h.verifier.Verify(token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(principalContextKey, principal)
	c.Next()
}

func requestPrincipal(c *gin.Context) (auth.Principal, bool) {
	value, ok := c.Get(principalContextKey)
	if !ok {
		return auth.Principal{}, false
	}
	principal, ok := value.(auth.Principal)
	return principal, ok
}

type uploadResponsePayload struct {
	BlobID       string `json:"fileId"`
	Filename     string `json:"filename"`
	OriginalName string `json:"originalName"`
	MimeType     string `json:"mimetype"`
	SizeBytes    int64  `json:"size"`
	Category     string `json:"category"`
	URL          string `json:"url"`
}

func (h *httpHandler) handleUpload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no file uploaded"})
		return
	}
	if fileHeader.Size > blob.MaxBlobSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file exceeds size limit"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		h.logger.Error("failed to open upload", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "file upload failed"})
		return
	}
	defer file.Close()

	payload, err := io.ReadAll(io.LimitReader(file, blob.MaxBlobSize+1))
	if err != nil {
		h.logger.Error("failed to read upload", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "file upload failed"})
		return
	}
	if int64(len(payload)) > blob.MaxBlobSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file exceeds size limit"})
		return
	}

	mediaType := fileHeader.Header.Get("Content-Type")
	stored, err := h.blobs.Put(c.Request.Context(), payload, mediaType, fileHeader.Filename)
	switch {
	case errors.Is(err, blob.ErrMediaTypeNotAllowed):
		c.JSON(http.StatusBadRequest, gin.H{"error": "file type not allowed"})
		return
	case errors.Is(err, blob.ErrBlobTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file exceeds size limit"})
		return
	case errors.Is(err, blob.ErrEmptyBlob):
		c.JSON(http.StatusBadRequest, gin.H{"error": "no file uploaded"})
		return
	case err != nil:
		h.logger.Error("failed to store blob", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "file upload failed"})
		return
	}

	c.JSON(http.StatusOK, uploadResponsePayload{
		BlobID:       stored.ID,
		Filename:     stored.Filename,
		OriginalName: stored.OriginalName,
		MimeType:     stored.MimeType,
		SizeBytes:    stored.SizeBytes,
		Category:     stored.Category,
		URL:          "/files/" + stored.ID,
	})
}

func (h *httpHandler) handleFileDownload(c *gin.Context) {
	stored, ok := h.fetchBlob(c)
	if !ok {
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", stored.OriginalName))
	c.Data(http.StatusOK, stored.MimeType, stored.Payload)
}

func (h *httpHandler) handleFileThumbnail(c *gin.Context) {
	stored, ok := h.fetchBlob(c)
	if !ok {
		return
	}
	if stored.Category != blob.CategoryImages {
		c.JSON(http.StatusBadRequest, gin.H{"error": "not an image file"})
		return
	}
	c.Data(http.StatusOK, stored.MimeType, stored.Payload)
}

func (h *httpHandler) fetchBlob(c *gin.Context) (blob.Blob, bool) {
	stored, err := h.blobs.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, blob.ErrBlobNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return blob.Blob{}, false
	}
	if err != nil {
		h.logger.Error("failed to fetch blob", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "file download failed"})
		return blob.Blob{}, false
	}
	return stored, true
}

func (h *httpHandler) handleRoomMessages(c *gin.Context) {
	limit, skip := pageParams(c)
	messages, err := h.history.RoomPage(c.Request.Context(), c.Param("room"), limit, skip)
	if err != nil {
		h.logger.Error("failed to fetch room messages", zap.String("room", c.Param("room")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch messages"})
		return
	}

	page := make([]messagePayload, 0, len(messages))
	for _, message := range messages {
		page = append(page, roomMessagePayload(message))
	}
	c.JSON(http.StatusOK, page)
}

func (h *httpHandler) handleDirectMessages(c *gin.Context) {
	principal, ok := requestPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	limit, skip := pageParams(c)
	messages, err := h.history.DirectPage(c.Request.Context(), principal.ID, c.Param("userId"), limit, skip)
	if err != nil {
		h.logger.Error("failed to fetch dm messages", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch messages"})
		return
	}

	page := make([]messagePayload, 0, len(messages))
	for _, message := range messages {
		page = append(page, directMessagePayload(message))
	}
	c.JSON(http.StatusOK, page)
}

type rosterMemberPayload struct {
	ID          string `json:"id"`
	DisplayName string `json:"name"`
	Email       string `json:"email"`
	LastSeenMS  int64  `json:"lastSeen"`
}

func (h *httpHandler) handleRosterList(c *gin.Context) {
	members, err := h.roster.List()
	if err != nil {
		h.logger.Error("failed to list roster", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch users"})
		return
	}

	page := make([]rosterMemberPayload, 0, len(members))
	for _, member := range members {
		page = append(page, rosterMemberPayload{
			ID:          member.PrincipalID,
			DisplayName: member.DisplayName,
			Email:       member.Email,
			LastSeenMS:  member.LastSeenAt.UnixMilli(),
		})
	}
	c.JSON(http.StatusOK, page)
}

// pageParams parses limit/skip query values. A zero limit defers to the
// store's configured default.
func pageParams(c *gin.Context) (limit, skip int) {
	if parsed, err := strconv.Atoi(c.Query("limit")); err == nil && parsed > 0 {
		limit = parsed
	}
	if parsed, err := strconv.Atoi(c.Query("skip")); err == nil && parsed >= 0 {
		skip = parsed
	}
	return limit, skip
}
