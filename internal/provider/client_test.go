package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func messageServer(t *testing.T, status int, respond func(body map[string]interface{}) interface{}) (*httptest.Server, *http.Request, *map[string]interface{}) {
	t.Helper()
	var lastReq http.Request
	captured := map[string]interface{}{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastReq = *r
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		for k, v := range body {
			captured[k] = v
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		json.NewEncoder(w).Encode(respond(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &lastReq, &captured
}

func okResponse(map[string]interface{}) interface{} {
	return map[string]interface{}{"messages": []map[string]string{{"id": "wamid.42"}}}
}

func TestSendText(t *testing.T) {
	srv, req, captured := messageServer(t, http.StatusOK, okResponse)
	c := New(srv.URL, "pn-1", "secret-token", time.Second)

	id, err := c.SendText(context.Background(), "34600111222", "hola")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if id != "wamid.42" {
		t.Errorf("id = %q", id)
	}
	if req.URL.Path != "/pn-1/messages" {
		t.Errorf("path = %q, want /pn-1/messages", req.URL.Path)
	}
	if auth := req.Header.Get("Authorization"); auth != "Bearer secret-token" {
		t.Errorf("auth = %q", auth)
	}
	body := *captured
	if body["type"] != "text" || body["to"] != "34600111222" {
		t.Errorf("body = %v", body)
	}
}

func TestSendTemplate(t *testing.T) {
	srv, _, captured := messageServer(t, http.StatusOK, okResponse)
	c := New(srv.URL, "pn-1", "tok", time.Second)

	if _, err := c.SendTemplate(context.Background(), "34600111222", "welcome_pack", "es"); err != nil {
		t.Fatalf("send: %v", err)
	}
	tpl, _ := (*captured)["template"].(map[string]interface{})
	if tpl["name"] != "welcome_pack" {
		t.Errorf("template body = %v", tpl)
	}
}

func TestSendButtonsCapsAtProviderLimits(t *testing.T) {
	srv, _, captured := messageServer(t, http.StatusOK, okResponse)
	c := New(srv.URL, "pn-1", "tok", time.Second)

	buttons := []Button{
		{ID: "a", Title: "A"},
		{ID: "b", Title: strings.Repeat("x", 30)},
		{ID: "c", Title: "C"},
		{ID: "d", Title: "D"},
	}
	if _, err := c.SendButtons(context.Background(), "34600111222", "pick one", buttons); err != nil {
		t.Fatalf("send: %v", err)
	}

	interactive, _ := (*captured)["interactive"].(map[string]interface{})
	action, _ := interactive["action"].(map[string]interface{})
	sent, _ := action["buttons"].([]interface{})
	if len(sent) != 3 {
		t.Fatalf("buttons = %d, want capped at 3", len(sent))
	}
	second := sent[1].(map[string]interface{})["reply"].(map[string]interface{})
	if title := second["title"].(string); len(title) != 20 {
		t.Errorf("title length = %d, want truncated to 20", len(title))
	}
}

func TestUploadMedia(t *testing.T) {
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pn-1/media" {
			t.Errorf("path = %q", r.URL.Path)
		}
		gotContentType = r.Header.Get("Content-Type")
		fmt.Fprint(w, `{"id": "media-7"}`)
	}))
	t.Cleanup(srv.Close)

	path := filepath.Join(t.TempDir(), "photo.jpg")
	if err := os.WriteFile(path, []byte("jpeg bytes"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	c := New(srv.URL, "pn-1", "tok", time.Second)
	id, err := c.UploadMedia(context.Background(), path, "image/jpeg")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if id != "media-7" {
		t.Errorf("id = %q", id)
	}
	if !strings.HasPrefix(gotContentType, "multipart/form-data") {
		t.Errorf("content type = %q", gotContentType)
	}
}

func TestMarkRead(t *testing.T) {
	srv, _, captured := messageServer(t, http.StatusOK, func(map[string]interface{}) interface{} {
		return map[string]bool{"success": true}
	})
	c := New(srv.URL, "pn-1", "tok", time.Second)

	if err := c.MarkRead(context.Background(), "wamid.9"); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	body := *captured
	if body["status"] != "read" || body["message_id"] != "wamid.9" {
		t.Errorf("body = %v", body)
	}
}

func TestAPIErrorClassification(t *testing.T) {
	cases := []struct {
		status    int
		retryable bool
	}{
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusTooManyRequests, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
	}
	for _, tc := range cases {
		srv, _, _ := messageServer(t, tc.status, okResponse)
		c := New(srv.URL, "pn-1", "tok", time.Second)
		_, err := c.SendText(context.Background(), "34600111222", "x")
		if err == nil {
			t.Fatalf("status %d: expected error", tc.status)
		}
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.StatusCode != tc.status {
			t.Fatalf("status %d: err = %v", tc.status, err)
		}
		if IsRetryable(err) != tc.retryable {
			t.Errorf("status %d: retryable = %v, want %v", tc.status, IsRetryable(err), tc.retryable)
		}
	}
}

func TestTransportErrorIsRetryable(t *testing.T) {
	c := New("http://127.0.0.1:1", "pn-1", "tok", 100*time.Millisecond)
	_, err := c.SendText(context.Background(), "34600111222", "x")
	if err == nil {
		t.Fatal("expected connection error")
	}
	if !IsRetryable(err) {
		t.Error("transport errors must be retryable")
	}
}

func TestMissingMessageID(t *testing.T) {
	srv, _, _ := messageServer(t, http.StatusOK, func(map[string]interface{}) interface{} {
		return map[string]interface{}{"messages": []map[string]string{}}
	})
	c := New(srv.URL, "pn-1", "tok", time.Second)
	if _, err := c.SendText(context.Background(), "34600111222", "x"); err == nil {
		t.Fatal("expected error for missing message id")
	}
}
