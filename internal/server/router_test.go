package server

import (
	"net/http"
	"testing"
)

func TestRegisterThenLogin(t *testing.T) {
	ts := newTestServer(t)

	registerResponse := ts.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"name":     "Ada",
		"email":    "ada@example.com",
		"password": "correct-horse",
	})
	if registerResponse.Code != http.StatusCreated {
		t.Fatalf("expected 201 from register, got %d: %s", registerResponse.Code, registerResponse.Body.String())
	}

	var registered authResponsePayload
	decodeBody(t, registerResponse, &registered)
	if registered.Token == "" {
		t.Fatalf("expected register response to carry a token")
	}
	if registered.User.Email != "ada@example.com" {
		t.Fatalf("unexpected registered email %q", registered.User.Email)
	}

	loginResponse := ts.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email":    "ada@example.com",
		"password": "correct-horse",
	})
	if loginResponse.Code != http.StatusOK {
		t.Fatalf("expected 200 from login, got %d: %s", loginResponse.Code, loginResponse.Body.String())
	}

	var loggedIn authResponsePayload
	decodeBody(t, loginResponse, &loggedIn)
	if loggedIn.User.ID != registered.User.ID {
		t.Fatalf("expected login to resolve the registered account")
	}
}

func TestRegisterDuplicateEmailConflicts(t *testing.T) {
	ts := newTestServer(t)

	payload := map[string]string{"name": "Ada", "email": "ada@example.com", "password": "correct-horse"}
	if response := ts.do(t, http.MethodPost, "/auth/register", "", payload); response.Code != http.StatusCreated {
		t.Fatalf("expected first registration to succeed, got %d", response.Code)
	}
	if response := ts.do(t, http.MethodPost, "/auth/register", "", payload); response.Code != http.StatusConflict {
		t.Fatalf("expected 409 on duplicate email, got %d", response.Code)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	ts := newTestServer(t)

	ts.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"name":     "Ada",
		"email":    "ada@example.com",
		"password": "correct-horse",
	})

	response := ts.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email":    "ada@example.com",
		"password": "wrong-password",
	})
	if response.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad password, got %d", response.Code)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	ts := newTestServer(t)

	response := ts.do(t, http.MethodPost, "/snippets", "", map[string]string{"title": "untitled"})
	if response.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", response.Code)
	}

	response = ts.do(t, http.MethodPost, "/snippets", "not-a-token", map[string]string{"title": "untitled"})
	if response.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with invalid token, got %d", response.Code)
	}
}

func TestSnippetLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	token := ts.issueToken(t, "user-1", "Ada")

	createResponse := ts.do(t, http.MethodPost, "/snippets", token, map[string]interface{}{
		"title":  "counter demo",
		"markup": "<div id=\"count\"></div>",
		"script": "let n = 0;",
	})
	if createResponse.Code != http.StatusCreated {
		t.Fatalf("expected 201 from create, got %d: %s", createResponse.Code, createResponse.Body.String())
	}
	var created snippetPayload
	decodeBody(t, createResponse, &created)
	if created.OwnerID != "user-1" {
		t.Fatalf("expected owner user-1, got %q", created.OwnerID)
	}

	getResponse := ts.do(t, http.MethodGet, "/snippets/"+created.ID, "", nil)
	if getResponse.Code != http.StatusOK {
		t.Fatalf("expected 200 from get, got %d", getResponse.Code)
	}
	var fetched snippetPayload
	decodeBody(t, getResponse, &fetched)
	if fetched.Views != created.Views+1 {
		t.Fatalf("expected view counter to advance, got %d after %d", fetched.Views, created.Views)
	}

	newTitle := "counter demo v2"
	updateResponse := ts.do(t, http.MethodPut, "/snippets/"+created.ID, token, map[string]string{"title": newTitle})
	if updateResponse.Code != http.StatusOK {
		t.Fatalf("expected 200 from update, got %d: %s", updateResponse.Code, updateResponse.Body.String())
	}
	var updated snippetPayload
	decodeBody(t, updateResponse, &updated)
	if updated.Title != newTitle {
		t.Fatalf("expected updated title %q, got %q", newTitle, updated.Title)
	}

	deleteResponse := ts.do(t, http.MethodDelete, "/snippets/"+created.ID, token, nil)
	if deleteResponse.Code != http.StatusNoContent {
		t.Fatalf("expected 204 from delete, got %d", deleteResponse.Code)
	}

	if response := ts.do(t, http.MethodGet, "/snippets/"+created.ID, "", nil); response.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", response.Code)
	}
}

func TestUpdateByNonOwnerForbidden(t *testing.T) {
	ts := newTestServer(t)
	snippet := ts.createSnippet(t, "owner-1", "original")
	intruderToken := ts.issueToken(t, "intruder-1", "Eve")

	response := ts.do(t, http.MethodPut, "/snippets/"+snippet.ID, intruderToken, map[string]string{"title": "stolen"})
	if response.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-owner update, got %d", response.Code)
	}
}

func TestForkCreatesOwnedCopy(t *testing.T) {
	ts := newTestServer(t)
	snippet := ts.createSnippet(t, "owner-1", "original")
	forkerToken := ts.issueToken(t, "forker-1", "Grace")

	response := ts.do(t, http.MethodPost, "/snippets/"+snippet.ID+"/fork", forkerToken, nil)
	if response.Code != http.StatusCreated {
		t.Fatalf("expected 201 from fork, got %d: %s", response.Code, response.Body.String())
	}
	var fork snippetPayload
	decodeBody(t, response, &fork)
	if fork.OwnerID != "forker-1" {
		t.Fatalf("expected fork owned by forker-1, got %q", fork.OwnerID)
	}
	if fork.ID == snippet.ID {
		t.Fatalf("expected fork to receive a fresh identifier")
	}
}

func TestListPublicSnippets(t *testing.T) {
	ts := newTestServer(t)
	ts.createSnippet(t, "owner-1", "first")
	ts.createSnippet(t, "owner-1", "second")

	response := ts.do(t, http.MethodGet, "/snippets?page=1&limit=10", "", nil)
	if response.Code != http.StatusOK {
		t.Fatalf("expected 200 from list, got %d", response.Code)
	}
	var listing listResponsePayload
	decodeBody(t, response, &listing)
	if listing.Total != 2 {
		t.Fatalf("expected 2 public snippets, got %d", listing.Total)
	}
	if len(listing.Items) != 2 {
		t.Fatalf("expected 2 items in page, got %d", len(listing.Items))
	}
}

func TestWebSocketEndpointRejectsMissingToken(t *testing.T) {
	ts := newTestServer(t)

	response := ts.do(t, http.MethodGet, "/ws", "", nil)
	if response.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", response.Code)
	}

	response = ts.do(t, http.MethodGet, "/ws?token=garbage", "", nil)
	if response.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with invalid token, got %d", response.Code)
	}
}
