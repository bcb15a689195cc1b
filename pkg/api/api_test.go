package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"esmpd/pkg/canonical"
	"esmpd/pkg/engine"
	"esmpd/pkg/models"
	"esmpd/pkg/sign"
	"esmpd/pkg/store"
)

func setupServer(t *testing.T) (*httptest.Server, *engine.Engine) {
	t.Helper()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	eng := engine.New()
	srv := httptest.NewServer(Handler(eng))
	t.Cleanup(srv.Close)
	return srv, eng
}

// signBody marshals fields, signs the canonical form minus the listed
// exclusions and returns the body with the signature spliced in.
func signBody(t *testing.T, sk sign.PrivateKey, fields map[string]any, exclude ...string) []byte {
	t.Helper()
	j, err := json.Marshal(fields)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	canon, err := canonical.Document(j, exclude...)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	fields["signature"] = sign.EncodeSignature(sk.Sign(canon))
	body, err := json.Marshal(fields)
	if err != nil {
		t.Fatalf("marshal signed: %v", err)
	}
	return body
}

func doPut(t *testing.T, url string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return res
}

func TestHealthz(t *testing.T) {
	srv, _ := setupServer(t)
	res, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if res.StatusCode != 200 {
		t.Fatalf("expected 200 got %v", res.Status)
	}
}

func TestProfilePutAndGet(t *testing.T) {
	srv, _ := setupServer(t)
	sk, _ := sign.GenerateKey()
	pk, _ := sk.Public()
	pubkey := pk.Encode()

	body := signBody(t, sk, map[string]any{
		"fields": map[string]any{
			"first_name": map[string]any{"value": "Ada", "visibility": "public"},
			"last_name":  map[string]any{"value": "Lovelace", "visibility": "private"},
		},
		"timestamp": "2026-05-01T10:00:00Z",
	}, "signature")

	res := doPut(t, srv.URL+"/users/"+pubkey+"/profile", body)
	if res.StatusCode != 200 {
		t.Fatalf("expected 200 got %v", res.Status)
	}
	var view struct {
		FirstName *struct {
			Value      string `json:"value"`
			Visibility string `json:"visibility"`
		} `json:"first_name"`
		LastName *struct {
			Value string `json:"value"`
		} `json:"last_name"`
	}
	if err := json.NewDecoder(res.Body).Decode(&view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.FirstName == nil || view.FirstName.Value != "Ada" {
		t.Fatalf("unexpected view %+v", view)
	}

	// public view hides the private last name
	res2, err := http.Get(srv.URL + "/users/" + pubkey + "/profile?as=someoneelse")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var pub struct {
		FirstName *struct {
			Value string `json:"value"`
		} `json:"first_name"`
		LastName *json.RawMessage `json:"last_name"`
		Address  *json.RawMessage `json:"address"`
	}
	if err := json.NewDecoder(res2.Body).Decode(&pub); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pub.FirstName == nil || pub.FirstName.Value != "Ada" {
		t.Fatalf("public field missing: %+v", pub)
	}
	if pub.LastName != nil || pub.Address != nil {
		t.Fatalf("private fields leaked: %+v", pub)
	}
}

func TestProfilePutRejectsOverlongName(t *testing.T) {
	srv, _ := setupServer(t)
	sk, _ := sign.GenerateKey()
	pk, _ := sk.Public()

	body := signBody(t, sk, map[string]any{
		"fields": map[string]any{
			"first_name": map[string]any{"value": strings.Repeat("a", 51)},
		},
		"timestamp": "2026-05-01T10:00:00Z",
	}, "signature")

	res := doPut(t, srv.URL+"/users/"+pk.Encode()+"/profile", body)
	if res.StatusCode != 400 {
		t.Fatalf("expected 400 got %v", res.Status)
	}
	var out map[string]string
	_ = json.NewDecoder(res.Body).Decode(&out)
	if !strings.Contains(out["error"], "invalid_field") {
		t.Fatalf("expected invalid_field error, got %q", out["error"])
	}
}

func TestProfilePutRejectsWrongKey(t *testing.T) {
	srv, _ := setupServer(t)
	sk, _ := sign.GenerateKey()
	other, _ := sign.GenerateKey()
	otherPk, _ := other.Public()

	// signed with sk but addressed to other's profile
	body := signBody(t, sk, map[string]any{
		"fields":    map[string]any{"first_name": map[string]any{"value": "Mallory"}},
		"timestamp": "2026-05-01T10:00:00Z",
	}, "signature")

	res := doPut(t, srv.URL+"/users/"+otherPk.Encode()+"/profile", body)
	if res.StatusCode != 403 {
		t.Fatalf("expected 403 got %v", res.Status)
	}
}

func TestGroupEndpoints(t *testing.T) {
	srv, eng := setupServer(t)
	sk, _ := sign.GenerateKey()
	pk, _ := sk.Public()

	// seed a group through the state machine
	create := &models.Envelope{
		Type:      models.TypeSystem,
		Subtype:   models.SubGroupCreated,
		Actor:     "alice#example.org",
		GroupID:   "g1",
		Timestamp: "2026-05-01T10:00:00Z",
		NewName:   "book club",
	}
	raw, _ := json.Marshal(create)
	if _, err := eng.Groups.Apply(create, raw); err != nil {
		t.Fatalf("seed group: %v", err)
	}

	res, err := http.Get(srv.URL + "/groups/g1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if res.StatusCode != 200 {
		t.Fatalf("expected 200 got %v", res.Status)
	}
	var meta models.GroupMetadata
	if err := json.NewDecoder(res.Body).Decode(&meta); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if meta.GroupName != "book club" {
		t.Fatalf("unexpected meta %+v", meta)
	}

	// admin updates name and description in one request
	body := signBody(t, sk, map[string]any{
		"actor":         "alice#example.org",
		"name":          "renamed club",
		"description":   "weekly reads",
		"timestamp":     "2026-05-01T11:00:00Z",
		"sender_pubkey": pk.Encode(),
	}, "signature", "sender_pubkey")
	res = doPut(t, srv.URL+"/groups/g1", body)
	if res.StatusCode != 200 {
		t.Fatalf("expected 200 got %v", res.Status)
	}
	var updated models.GroupMetadata
	if err := json.NewDecoder(res.Body).Decode(&updated); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if updated.GroupName != "renamed club" || updated.GroupDescription != "weekly reads" {
		t.Fatalf("update not applied: %+v", updated)
	}

	// non-admin actor is refused
	body = signBody(t, sk, map[string]any{
		"actor":         "mallory#example.org",
		"name":          "hijacked",
		"timestamp":     "2026-05-01T12:00:00Z",
		"sender_pubkey": pk.Encode(),
	}, "signature", "sender_pubkey")
	res = doPut(t, srv.URL+"/groups/g1", body)
	if res.StatusCode != 403 {
		t.Fatalf("expected 403 got %v", res.Status)
	}

	// thread log shows the metadata history
	res, err = http.Get(srv.URL + "/groups/g1/messages")
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	var log struct {
		Thread   string            `json:"thread"`
		Messages []json.RawMessage `json:"messages"`
	}
	if err := json.NewDecoder(res.Body).Decode(&log); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if log.Thread != "group:g1" || len(log.Messages) != 3 {
		t.Fatalf("expected 3 log records on group:g1, got %d on %s", len(log.Messages), log.Thread)
	}
}

func TestGroupGetUnknown(t *testing.T) {
	srv, _ := setupServer(t)
	res, err := http.Get(srv.URL + "/groups/missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if res.StatusCode != 404 {
		t.Fatalf("expected 404 got %v", res.Status)
	}
}

func TestDirectThreadEndpoint(t *testing.T) {
	srv, _ := setupServer(t)
	key := store.DirectThread([]string{"alice#example.org", "bob#remote.net"})
	for _, m := range []string{`{"n":1}`, `{"n":2}`} {
		if _, err := store.AppendMessage(key, []byte(m)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	res, err := http.Get(srv.URL + "/threads/messages?participant=bob%23remote.net&participant=alice%23example.org&limit=1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var out struct {
		Thread   string            `json:"thread"`
		Messages []json.RawMessage `json:"messages"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Thread != key {
		t.Fatalf("participant order changed the thread key: %s", out.Thread)
	}
	if len(out.Messages) != 1 || string(out.Messages[0]) != `{"n":2}` {
		t.Fatalf("unexpected messages %v", out.Messages)
	}

	// the two-party path form resolves to the same thread
	res, err = http.Get(srv.URL + "/threads/bob%23remote.net/alice%23example.org/messages")
	if err != nil {
		t.Fatalf("get pair: %v", err)
	}
	out.Messages = nil
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Thread != key || len(out.Messages) != 2 {
		t.Fatalf("pair route mismatch: %s (%d messages)", out.Thread, len(out.Messages))
	}
}
