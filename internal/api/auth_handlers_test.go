package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSignupIssuesSessionCookie(t *testing.T) {
	handler, store := newTestHandler(t)

	payload, _ := json.Marshal(signupRequest{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "supersecret",
		Public:   true,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/signup", bytes.NewReader(payload))
	rec := httptest.NewRecorder()

	handler.Signup(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp authResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error {
		t.Fatal("expected error=false")
	}
	if resp.User.Username != "alice" {
		t.Fatalf("unexpected user %q", resp.User.Username)
	}

	cookie := findCookie(t, rec.Result().Cookies(), "moddepot_session")
	if cookie.Value == "" || !cookie.HttpOnly {
		t.Fatalf("expected HttpOnly session cookie, got %+v", cookie)
	}
	if cookie.SameSite != http.SameSiteStrictMode {
		t.Fatalf("expected SameSite=Strict, got %v", cookie.SameSite)
	}

	if _, ok := store.FindUserByUsername("alice"); !ok {
		t.Fatal("expected user persisted")
	}
}

func TestSignupRejectsDuplicateUsername(t *testing.T) {
	handler, store := newTestHandler(t)
	createUser(t, store, "taken", true)

	payload, _ := json.Marshal(signupRequest{Username: "TAKEN", Email: "x@example.com", Password: "supersecret"})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/signup", bytes.NewReader(payload))
	rec := httptest.NewRecorder()

	handler.Signup(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if body := decodeErrorBody(t, rec); !body.Error {
		t.Fatal("expected error body")
	}
}

func TestSignupRejectsUnknownFields(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/signup", bytes.NewReader([]byte(`{"username":"x","bogus":true}`)))
	rec := httptest.NewRecorder()

	handler.Signup(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestLogin(t *testing.T) {
	handler, store := newTestHandler(t)
	createUser(t, store, "bob", true)

	cases := []struct {
		name       string
		password   string
		wantStatus int
	}{
		{name: "correct password", password: "supersecret", wantStatus: http.StatusOK},
		{name: "wrong password", password: "incorrect", wantStatus: http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload, _ := json.Marshal(loginRequest{Username: "bob", Password: tc.password})
			req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(payload))
			rec := httptest.NewRecorder()

			handler.Login(rec, req)

			if rec.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tc.wantStatus, rec.Code, rec.Body.String())
			}
			if tc.wantStatus == http.StatusUnauthorized {
				body := decodeErrorBody(t, rec)
				if body.Message != "username or password is incorrect" {
					t.Fatalf("unexpected message %q", body.Message)
				}
			}
		})
	}
}

func TestLoginDoesNotRevealUnknownUsers(t *testing.T) {
	handler, _ := newTestHandler(t)

	payload, _ := json.Marshal(loginRequest{Username: "ghost", Password: "supersecret"})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(payload))
	rec := httptest.NewRecorder()

	handler.Login(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	body := decodeErrorBody(t, rec)
	if body.Message != "username or password is incorrect" {
		t.Fatalf("unknown-user message must match wrong-password message, got %q", body.Message)
	}
}

func TestSecureCookieOverForwardedHTTPS(t *testing.T) {
	handler, store := newTestHandler(t)
	createUser(t, store, "carol", true)

	payload, _ := json.Marshal(loginRequest{Username: "carol", Password: "supersecret"})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(payload))
	req.Header.Set("X-Forwarded-Proto", "https")
	rec := httptest.NewRecorder()

	handler.Login(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	cookie := findCookie(t, rec.Result().Cookies(), "moddepot_session")
	if !cookie.Secure {
		t.Fatal("expected Secure cookie behind HTTPS proxy")
	}
}

func TestSessionEndpoint(t *testing.T) {
	handler, store := newTestHandler(t)
	user := createUser(t, store, "dana", true)

	t.Run("get returns current user", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
		rec := httptest.NewRecorder()
		handler.Session(rec, asUser(req, user))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var resp struct {
			Error bool         `json:"error"`
			User  userResponse `json:"user"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.User.ID != user.ID {
			t.Fatalf("expected user %d, got %d", user.ID, resp.User.ID)
		}
	})

	t.Run("get without session is unauthorized", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
		rec := httptest.NewRecorder()
		handler.Session(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("delete revokes token and clears cookie", func(t *testing.T) {
		token, _, err := handler.sessionManager().Create(user.ID)
		if err != nil {
			t.Fatalf("Create session: %v", err)
		}
		req := httptest.NewRequest(http.MethodDelete, "/api/auth/session", nil)
		req.AddCookie(&http.Cookie{Name: "moddepot_session", Value: token})
		rec := httptest.NewRecorder()
		handler.Session(rec, asUser(req, user))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		cookie := findCookie(t, rec.Result().Cookies(), "moddepot_session")
		if cookie.Value != "" || cookie.MaxAge != -1 {
			t.Fatalf("expected clearing cookie, got %+v", cookie)
		}
		if _, _, ok, _ := handler.sessionManager().Validate(token); ok {
			t.Fatal("expected token revoked")
		}
	})
}

func TestAuthenticateRequest(t *testing.T) {
	handler, store := newTestHandler(t)
	user := createUser(t, store, "erin", true)
	token, _, err := handler.sessionManager().Create(user.ID)
	if err != nil {
		t.Fatalf("Create session: %v", err)
	}

	t.Run("cookie token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
		req.AddCookie(&http.Cookie{Name: "moddepot_session", Value: token})
		got, err := handler.AuthenticateRequest(req)
		if err != nil {
			t.Fatalf("AuthenticateRequest: %v", err)
		}
		if got.ID != user.ID {
			t.Fatalf("expected user %d, got %d", user.ID, got.ID)
		}
	})

	t.Run("bearer token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		if _, err := handler.AuthenticateRequest(req); err != nil {
			t.Fatalf("AuthenticateRequest: %v", err)
		}
	})

	t.Run("garbage token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
		req.Header.Set("Authorization", "Bearer nonsense")
		if _, err := handler.AuthenticateRequest(req); err == nil {
			t.Fatal("expected error for invalid token")
		}
	})
}

func TestMethodNotAllowedSetsAllowHeader(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/login", nil)
	rec := httptest.NewRecorder()
	handler.Login(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if allow := rec.Header().Get("Allow"); allow != http.MethodPost {
		t.Fatalf("expected Allow: POST, got %q", allow)
	}
}
