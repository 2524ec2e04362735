package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/pairpen/backend/internal/auth"
	"github.com/pairpen/backend/internal/collab"
	"github.com/pairpen/backend/internal/presence"
	"github.com/pairpen/backend/internal/snippets"
	"github.com/pairpen/backend/internal/users"
)

type testServer struct {
	handler  http.Handler
	tokens   *auth.TokenIssuer
	users    *users.Service
	snippets *snippets.Service
	store    *presence.MemoryStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(&users.User{}, &snippets.Snippet{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	tokenIssuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-signing-secret"),
		TokenTTL:      time.Minute,
	})
	usersService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct users service: %v", err)
	}
	snippetService, err := snippets.NewService(snippets.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct snippet service: %v", err)
	}

	store := presence.NewMemoryStore()
	collabService, err := collab.NewService(collab.ServiceConfig{
		Presence:       store,
		Documents:      NewSnippetDocuments(snippetService),
		DebounceWindow: 20 * time.Millisecond,
		TypingThrottle: 50 * time.Millisecond,
		AutosavePeriod: time.Minute,
	})
	if err != nil {
		t.Fatalf("failed to construct collab service: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Tokens:   tokenIssuer,
		Users:    usersService,
		Snippets: snippetService,
		Collab:   collabService,
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	return &testServer{
		handler:  handler,
		tokens:   tokenIssuer,
		users:    usersService,
		snippets: snippetService,
		store:    store,
	}
}

func (ts *testServer) issueToken(t *testing.T, userID, name string) string {
	t.Helper()
	token, _, err := ts.tokens.IssueToken(auth.Identity{UserID: userID, DisplayName: name})
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

func (ts *testServer) createSnippet(t *testing.T, ownerID, title string) snippets.Snippet {
	t.Helper()
	snippet, err := ts.snippets.Create(context.Background(), snippets.CreateRequest{
		Title:    title,
		OwnerID:  ownerID,
		Markup:   "<p>hi</p>",
		IsPublic: true,
	})
	if err != nil {
		t.Fatalf("failed to create snippet: %v", err)
	}
	return snippet
}

func (ts *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}

	recorder := httptest.NewRecorder()
	ts.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode response body %q: %v", recorder.Body.String(), err)
	}
}
