package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pairpen/backend/internal/auth"
	"github.com/pairpen/backend/internal/collab"
	"github.com/pairpen/backend/internal/snippets"
	"github.com/pairpen/backend/internal/users"
)

const identityContextKey = "pairpen_identity"

var (
	errMissingTokenIssuer    = errors.New("token issuer dependency required")
	errMissingUsersService   = errors.New("users service dependency required")
	errMissingSnippetService = errors.New("snippet service dependency required")
	errMissingCollabService  = errors.New("collab service dependency required")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Dependencies wires the HTTP surface to the domain services.
type Dependencies struct {
	Tokens      *auth.TokenIssuer
	Users       *users.Service
	Snippets    *snippets.Service
	Collab      *collab.Service
	Logger      *zap.Logger
	CORSOrigins []string
}

// NewHTTPHandler builds the gin router serving auth, snippet CRUD, and the
// realtime WebSocket endpoint.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Tokens == nil {
		return nil, errMissingTokenIssuer
	}
	if deps.Users == nil {
		return nil, errMissingUsersService
	}
	if deps.Snippets == nil {
		return nil, errMissingSnippetService
	}
	if deps.Collab == nil {
		return nil, errMissingCollabService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := deps.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:   deps.Tokens,
		users:    deps.Users,
		snippets: deps.Snippets,
		collab:   deps.Collab,
		logger:   logger,
	}

	router.POST("/auth/register", handler.handleRegister)
	router.POST("/auth/login", handler.handleLogin)

	router.GET("/snippets", handler.handleList)
	router.GET("/snippets/:id", handler.handleGet)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/snippets", handler.handleCreate)
	protected.PUT("/snippets/:id", handler.handleUpdate)
	protected.DELETE("/snippets/:id", handler.handleDelete)
	protected.POST("/snippets/:id/fork", handler.handleFork)

	router.GET("/ws", handler.handleWebSocket)

	return router, nil
}

type httpHandler struct {
	tokens   *auth.TokenIssuer
	users    *users.Service
	snippets *snippets.Service
	collab   *collab.Service
	logger   *zap.Logger
}

type userPayload struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type authResponsePayload struct {
	Token     string      `json:"token"`
	ExpiresIn int64       `json:"expires_in"`
	User      userPayload `json:"user"`
}

type registerRequestPayload struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request registerRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	account, err := h.users.Register(c.Request.Context(), request.Name, request.Email, request.Password)
	if errors.Is(err, users.ErrInvalidInput) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input"})
		return
	}
	if errors.Is(err, users.ErrEmailTaken) {
		c.JSON(http.StatusConflict, gin.H{"error": "email_taken"})
		return
	}
	if err != nil {
		h.logger.Error("registration failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration_failed"})
		return
	}

	h.respondWithToken(c, http.StatusCreated, account)
}

type loginRequestPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	account, err := h.users.Authenticate(c.Request.Context(), request.Email, request.Password)
	if errors.Is(err, users.ErrInvalidCredentials) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
		return
	}
	if err != nil {
		h.logger.Error("login failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login_failed"})
		return
	}

	h.respondWithToken(c, http.StatusOK, account)
}

func (h *httpHandler) respondWithToken(c *gin.Context, status int, account users.User) {
	token, expiresIn, err := h.tokens.IssueToken(auth.Identity{
		UserID:      account.ID,
		DisplayName: account.Name,
		Email:       account.Email,
	})
	if err != nil {
		h.logger.Error("token issue failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	c.JSON(status, authResponsePayload{
		Token:     token,
		ExpiresIn: expiresIn,
		User:      userPayload{ID: account.ID, Name: account.Name, Email: account.Email},
	})
}

type snippetPayload struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	OwnerID     string     `json:"owner_id"`
	Markup      string     `json:"markup"`
	Style       string     `json:"style"`
	Script      string     `json:"script"`
	IsPublic    bool       `json:"is_public"`
	Views       int64      `json:"views"`
	Forks       int64      `json:"forks"`
	LastSavedAt *time.Time `json:"last_saved_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func toSnippetPayload(snippet snippets.Snippet) snippetPayload {
	return snippetPayload{
		ID:          snippet.ID,
		Title:       snippet.Title,
		OwnerID:     snippet.OwnerID,
		Markup:      snippet.Markup,
		Style:       snippet.Style,
		Script:      snippet.Script,
		IsPublic:    snippet.IsPublic,
		Views:       snippet.Views,
		Forks:       snippet.Forks,
		LastSavedAt: snippet.LastSavedAt,
		CreatedAt:   snippet.CreatedAt,
		UpdatedAt:   snippet.UpdatedAt,
	}
}

type createSnippetPayload struct {
	Title    string `json:"title"`
	Markup   string `json:"markup"`
	Style    string `json:"style"`
	Script   string `json:"script"`
	IsPublic *bool  `json:"is_public"`
}

func (h *httpHandler) handleCreate(c *gin.Context) {
	identity := h.identityFromContext(c)

	var request createSnippetPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	isPublic := true
	if request.IsPublic != nil {
		isPublic = *request.IsPublic
	}

	snippet, err := h.snippets.Create(c.Request.Context(), snippets.CreateRequest{
		Title:    request.Title,
		OwnerID:  identity.UserID,
		Markup:   request.Markup,
		Style:    request.Style,
		Script:   request.Script,
		IsPublic: isPublic,
	})
	if errors.Is(err, snippets.ErrInvalidTitle) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_title"})
		return
	}
	if err != nil {
		h.logger.Error("snippet create failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed"})
		return
	}

	c.JSON(http.StatusCreated, toSnippetPayload(snippet))
}

func (h *httpHandler) handleGet(c *gin.Context) {
	snippet, err := h.snippets.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, snippets.ErrSnippetNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "snippet_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("snippet get failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get_failed"})
		return
	}
	c.JSON(http.StatusOK, toSnippetPayload(snippet))
}

type updateSnippetPayload struct {
	Title    *string `json:"title"`
	Markup   *string `json:"markup"`
	Style    *string `json:"style"`
	Script   *string `json:"script"`
	IsPublic *bool   `json:"is_public"`
}

func (h *httpHandler) handleUpdate(c *gin.Context) {
	identity := h.identityFromContext(c)

	var request updateSnippetPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	snippet, err := h.snippets.Update(c.Request.Context(), c.Param("id"), identity.UserID, snippets.UpdateRequest{
		Title:    request.Title,
		Markup:   request.Markup,
		Style:    request.Style,
		Script:   request.Script,
		IsPublic: request.IsPublic,
	})
	if h.respondSnippetError(c, err) {
		return
	}
	c.JSON(http.StatusOK, toSnippetPayload(snippet))
}

func (h *httpHandler) handleDelete(c *gin.Context) {
	identity := h.identityFromContext(c)

	err := h.snippets.Delete(c.Request.Context(), c.Param("id"), identity.UserID)
	if h.respondSnippetError(c, err) {
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleFork(c *gin.Context) {
	identity := h.identityFromContext(c)

	fork, err := h.snippets.Fork(c.Request.Context(), c.Param("id"), identity.UserID)
	if h.respondSnippetError(c, err) {
		return
	}
	c.JSON(http.StatusCreated, toSnippetPayload(fork))
}

type listResponsePayload struct {
	Items []snippetPayload `json:"items"`
	Total int64            `json:"total"`
	Page  int              `json:"page"`
	Limit int              `json:"limit"`
}

func (h *httpHandler) handleList(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	result, err := h.snippets.ListPublic(c.Request.Context(), page, limit)
	if err != nil {
		h.logger.Error("snippet list failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}

	items := make([]snippetPayload, 0, len(result.Items))
	for _, snippet := range result.Items {
		items = append(items, toSnippetPayload(snippet))
	}
	c.JSON(http.StatusOK, listResponsePayload{
		Items: items,
		Total: result.Total,
		Page:  result.Page,
		Limit: result.Limit,
	})
}

// handleWebSocket authenticates the connection, upgrades it, and drives the
// session until it closes. A bad or missing token rejects the connection
// before any event is processed.
func (h *httpHandler) handleWebSocket(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		token = c.Query("token")
	}
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	identity, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("websocket token validation failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	session := collab.NewSession(h.collab, identity, conn)
	session.Run(c.Request.Context())
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	identity, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(identityContextKey, identity)
	c.Next()
}

func (h *httpHandler) identityFromContext(c *gin.Context) auth.Identity {
	value, ok := c.Get(identityContextKey)
	if !ok {
		return auth.Identity{}
	}
	identity, _ := value.(auth.Identity)
	return identity
}

func (h *httpHandler) respondSnippetError(c *gin.Context, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, snippets.ErrSnippetNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "snippet_not_found"})
	case errors.Is(err, snippets.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, snippets.ErrInvalidTitle):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_title"})
	default:
		h.logger.Error("snippet operation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "operation_failed"})
	}
	return true
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}
