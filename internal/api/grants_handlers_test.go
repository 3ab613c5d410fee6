package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"moddepot/internal/models"
)

func postGrantForm(t *testing.T, handler *Handler, actor models.User, modID int64, action, targetUsername string) *httptest.ResponseRecorder {
	t.Helper()
	form := url.Values{}
	if targetUsername != "" {
		form.Set("user", targetUsername)
	}
	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/mod/%d/%s", modID, action), strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	handler.ModResource(rec, asUser(req, actor))
	return rec
}

func TestGrantFlow(t *testing.T) {
	handler, store := newTestHandler(t)
	owner := createUser(t, store, "alice", true)
	target := createUser(t, store, "bob", true)
	mod := createModViaAPI(t, handler, owner, "Shared")

	rec := postGrantForm(t, handler, owner, mod.ID, "grant", "bob")
	if rec.Code != http.StatusOK {
		t.Fatalf("grant: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var grantResp struct {
		Error bool          `json:"error"`
		Grant grantResponse `json:"grant"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &grantResp); err != nil {
		t.Fatalf("decode grant: %v", err)
	}
	if grantResp.Grant.UserID != target.ID || grantResp.Grant.Accepted {
		t.Fatalf("unexpected grant: %+v", grantResp.Grant)
	}

	// The invited user accepts their own invite; no form field needed.
	rec = postGrantForm(t, handler, target, mod.ID, "accept_grant", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("accept: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	grant, ok := store.SharedAuthorFor(mod.ID, target.ID)
	if !ok || !grant.Accepted {
		t.Fatalf("expected accepted grant, got %+v ok=%v", grant, ok)
	}

	// Accepting twice reports no pending invite.
	rec = postGrantForm(t, handler, target, mod.ID, "accept_grant", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("repeat accept: expected 400, got %d", rec.Code)
	}
	if got := decodeErrorBody(t, rec); got.Message != "you do not have a pending invite for this mod" {
		t.Fatalf("unexpected message %q", got.Message)
	}

	rec = postGrantForm(t, handler, owner, mod.ID, "revoke", "bob")
	if rec.Code != http.StatusOK {
		t.Fatalf("revoke: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if _, ok := store.SharedAuthorFor(mod.ID, target.ID); ok {
		t.Fatal("expected grant removed after revoke")
	}
}

func TestRejectGrantFlow(t *testing.T) {
	handler, store := newTestHandler(t)
	owner := createUser(t, store, "alice", true)
	target := createUser(t, store, "bob", true)
	mod := createModViaAPI(t, handler, owner, "Declined")

	if rec := postGrantForm(t, handler, owner, mod.ID, "grant", "bob"); rec.Code != http.StatusOK {
		t.Fatalf("grant: expected 200, got %d", rec.Code)
	}
	if rec := postGrantForm(t, handler, target, mod.ID, "reject_grant", ""); rec.Code != http.StatusOK {
		t.Fatalf("reject: expected 200, got %d", rec.Code)
	}
	if _, ok := store.SharedAuthorFor(mod.ID, target.ID); ok {
		t.Fatal("expected rejected grant deleted")
	}

	// Rejecting with nothing pending is refused.
	if rec := postGrantForm(t, handler, target, mod.ID, "reject_grant", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("repeat reject: expected 400, got %d", rec.Code)
	}
}

func TestGrantPolicy(t *testing.T) {
	handler, store := newTestHandler(t)
	owner := createUser(t, store, "alice", true)
	coauthor := createUser(t, store, "bob", true)
	createUser(t, store, "carol", true)
	admin := createAdmin(t, store, "root")
	mod := createModViaAPI(t, handler, owner, "Guarded")

	if _, err := store.GrantSharedAuthor(mod.ID, coauthor.ID); err != nil {
		t.Fatalf("GrantSharedAuthor: %v", err)
	}
	if _, err := store.AcceptSharedAuthor(mod.ID, coauthor.ID); err != nil {
		t.Fatalf("AcceptSharedAuthor: %v", err)
	}

	// Accepted co-authors cannot manage the author list.
	if rec := postGrantForm(t, handler, coauthor, mod.ID, "grant", "carol"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("co-author grant: expected 401, got %d", rec.Code)
	}
	// Admins can.
	if rec := postGrantForm(t, handler, admin, mod.ID, "grant", "carol"); rec.Code != http.StatusOK {
		t.Fatalf("admin grant: expected 200, got %d", rec.Code)
	}
}

func TestGrantRefusalsOverHTTP(t *testing.T) {
	handler, store := newTestHandler(t)
	owner := createUser(t, store, "alice", true)
	createUser(t, store, "hermit", false)
	mod := createModViaAPI(t, handler, owner, "Refusals")

	cases := []struct {
		name        string
		target      string
		wantMessage string
	}{
		{name: "missing user field", target: "", wantMessage: "user is required"},
		{name: "unknown user", target: "ghost", wantMessage: "the specified user does not exist"},
		{name: "private profile", target: "hermit", wantMessage: "this user has not made their profile public"},
		{name: "owner is already an author", target: "alice", wantMessage: "this user is already an author of this mod"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := postGrantForm(t, handler, owner, mod.ID, "grant", tc.target)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
			if got := decodeErrorBody(t, rec); got.Message != tc.wantMessage {
				t.Fatalf("message = %q, want %q", got.Message, tc.wantMessage)
			}
		})
	}
}

func TestRevokeRefusalsOverHTTP(t *testing.T) {
	handler, store := newTestHandler(t)
	owner := createUser(t, store, "alice", true)
	createUser(t, store, "bystander", true)
	mod := createModViaAPI(t, handler, owner, "Anchored")

	rec := postGrantForm(t, handler, owner, mod.ID, "revoke", "alice")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("revoke owner: expected 400, got %d", rec.Code)
	}
	if got := decodeErrorBody(t, rec); got.Message != "the owner's authorship cannot be revoked" {
		t.Fatalf("unexpected message %q", got.Message)
	}

	rec = postGrantForm(t, handler, owner, mod.ID, "revoke", "bystander")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("revoke non-author: expected 400, got %d", rec.Code)
	}
	if got := decodeErrorBody(t, rec); got.Message != "this user is not an author of this mod" {
		t.Fatalf("unexpected message %q", got.Message)
	}
}

func TestGrantUnknownMod(t *testing.T) {
	handler, store := newTestHandler(t)
	owner := createUser(t, store, "alice", true)

	rec := postGrantForm(t, handler, owner, 999, "grant", "alice")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestSharedAuthorsVisibleToManagerOnly(t *testing.T) {
	handler, store := newTestHandler(t)
	owner := createUser(t, store, "alice", true)
	target := createUser(t, store, "bob", true)
	mod := createModViaAPI(t, handler, owner, "Roster")
	if _, err := store.GrantSharedAuthor(mod.ID, target.ID); err != nil {
		t.Fatalf("GrantSharedAuthor: %v", err)
	}
	if _, err := store.PublishMod(mod.ID); err != nil {
		t.Fatalf("PublishMod: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/mod/%d", mod.ID), nil)
	rec := httptest.NewRecorder()
	handler.ModResource(rec, asUser(req, owner))
	var asOwner modResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &asOwner); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(asOwner.SharedAuthors) != 1 || asOwner.SharedAuthors[0].Username != "bob" {
		t.Fatalf("owner should see the roster, got %+v", asOwner.SharedAuthors)
	}

	req = httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/mod/%d", mod.ID), nil)
	rec = httptest.NewRecorder()
	handler.ModResource(rec, asUser(req, target))
	var asTarget modResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &asTarget); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if asTarget.SharedAuthors != nil {
		t.Fatal("non-managers must not see the roster")
	}
}
