package api

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"moddepot/internal/models"
	"moddepot/internal/storage"
)

func newTestHandler(t *testing.T) (*Handler, *storage.Storage) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewStorage(filepath.Join(dir, "store.json"))
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	artifacts := storage.NewArtifactStore(filepath.Join(dir, "artifacts"))
	handler := NewHandler(store, nil, artifacts)
	handler.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return handler, store
}

func createUser(t *testing.T, store *storage.Storage, username string, public bool) models.User {
	t.Helper()
	user, err := store.CreateUser(storage.CreateUserParams{
		Username: username,
		Email:    username + "@example.com",
		Password: "supersecret",
		Public:   public,
	})
	if err != nil {
		t.Fatalf("CreateUser %s: %v", username, err)
	}
	return user
}

func createAdmin(t *testing.T, store *storage.Storage, username string) models.User {
	t.Helper()
	user, err := store.CreateUser(storage.CreateUserParams{
		Username: username,
		Email:    username + "@example.com",
		Password: "supersecret",
		Public:   true,
		Admin:    true,
	})
	if err != nil {
		t.Fatalf("CreateUser %s: %v", username, err)
	}
	return user
}

// asUser stores the user on the request context the way the server's auth
// middleware does.
func asUser(req *http.Request, user models.User) *http.Request {
	return req.WithContext(ContextWithUser(req.Context(), user))
}

func zipPayload(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	writer := zip.NewWriter(&buf)
	entry, err := writer.Create("Mod/mod.dll")
	if err != nil {
		t.Fatalf("create zip entry: %v", err)
	}
	if _, err := entry.Write([]byte("binary")); err != nil {
		t.Fatalf("write zip entry: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close zip writer: %v", err)
	}
	return buf.Bytes()
}

// multipartUpload builds a multipart request body with the provided form
// fields plus a zipball file part when payload is non-nil.
func multipartUpload(t *testing.T, fields map[string]string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("write field %s: %v", key, err)
		}
	}
	if payload != nil {
		part, err := writer.CreateFormFile("zipball", "upload.zip")
		if err != nil {
			t.Fatalf("create file part: %v", err)
		}
		if _, err := part.Write(payload); err != nil {
			t.Fatalf("write file part: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &body, writer.FormDataContentType()
}

func createModFields(name string) map[string]string {
	return map[string]string{
		"name":              name,
		"short-description": "a short description",
		"version":           "1.0",
		"game-version":      "0.25.0",
		"license":           "MIT",
	}
}

// createModViaAPI drives the real create endpoint so follow-up tests exercise
// records and artifacts exactly as production writes them.
func createModViaAPI(t *testing.T, handler *Handler, owner models.User, name string) models.Mod {
	t.Helper()
	body, contentType := multipartUpload(t, createModFields(name), zipPayload(t))
	req := httptest.NewRequest(http.MethodPost, "/api/mod/create", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.ModResource(rec, asUser(req, owner))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create mod: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	mod, ok := handler.Store.GetMod(resp.ID)
	if !ok {
		t.Fatalf("created mod %d not found in store", resp.ID)
	}
	return mod
}

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var body errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, rec.Body.String())
	}
	return body
}

func findCookie(t *testing.T, cookies []*http.Cookie, name string) *http.Cookie {
	t.Helper()
	for _, cookie := range cookies {
		if cookie.Name == name {
			return cookie
		}
	}
	t.Fatalf("cookie %q not found", name)
	return nil
}
