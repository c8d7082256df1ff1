package rest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vovakirdan/wirechat-client/internal/core"
	"github.com/vovakirdan/wirechat-client/internal/proto"
)

type recorded struct {
	method string
	path   string
	query  string
	auth   string
	body   string
}

func newTestAPI(t *testing.T) (*httptest.Server, *[]recorded, *sync.Mutex) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	var mu sync.Mutex
	var calls []recorded
	record := func(c *gin.Context) {
		raw, _ := c.GetRawData()
		mu.Lock()
		calls = append(calls, recorded{
			method: c.Request.Method,
			path:   c.Request.URL.Path,
			query:  c.Request.URL.RawQuery,
			auth:   c.GetHeader("Authorization"),
			body:   string(raw),
		})
		mu.Unlock()
	}

	r := gin.New()
	r.GET("/api/rooms/:room/messages", func(c *gin.Context) {
		record(c)
		if c.Param("room") == "missing" {
			c.JSON(http.StatusNotFound, proto.ErrorResponse{Error: "room not found", Code: "not_found"})
			return
		}
		c.JSON(http.StatusOK, proto.HistoryResponse{
			Messages: []proto.MessageData{
				{MessageID: "M1", UserID: "u1", Text: "one", Time: "2025-03-01T12:00:00Z"},
				{MessageID: "M2", UserID: "u2", Text: "two", Time: "2025-03-01T12:00:05Z"},
			},
			HasMore: true,
		})
	})
	r.POST("/api/rooms/:room/messages", func(c *gin.Context) {
		record(c)
		c.JSON(http.StatusCreated, proto.SendResponse{MessageID: "M9", SendTime: "2025-03-01T12:01:00Z"})
	})
	r.PATCH("/api/rooms/:room/messages/:id", func(c *gin.Context) {
		record(c)
		c.Status(http.StatusNoContent)
	})
	r.DELETE("/api/rooms/:room/messages/:id", func(c *gin.Context) {
		record(c)
		c.String(http.StatusInternalServerError, "boom")
	})

	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return ts, &calls, &mu
}

func TestFetchHistoryBuildsQueryAndConvertsPage(t *testing.T) {
	ts, calls, mu := newTestAPI(t)
	client, err := New(Options{BaseURL: ts.URL + "/", Token: "tok"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	page, err := client.FetchHistory(context.Background(), "general", 20, "M5")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !page.HasMore || len(page.Messages) != 2 {
		t.Fatalf("unexpected page: %+v", page)
	}
	if page.Messages[0].RoomID != "general" || page.Messages[1].Time.IsZero() {
		t.Fatalf("messages not normalized: %+v", page.Messages)
	}

	mu.Lock()
	defer mu.Unlock()
	got := (*calls)[0]
	if got.path != "/api/rooms/general/messages" || got.query != "before=M5&limit=20" {
		t.Fatalf("unexpected request: %+v", got)
	}
	if got.auth != "Bearer tok" {
		t.Fatalf("unexpected auth header %q", got.auth)
	}
}

func TestAPIErrorsAreDecoded(t *testing.T) {
	ts, _, _ := newTestAPI(t)
	client, err := New(Options{BaseURL: ts.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.FetchHistory(context.Background(), "missing", 10, "")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusNotFound || apiErr.Code != "not_found" || apiErr.Message != "room not found" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}

	err = client.DeleteMessage(context.Background(), "general", "M1")
	if !IsStatus(err, http.StatusInternalServerError) {
		t.Fatalf("expected 500, got %v", err)
	}
	if !errors.As(err, &apiErr) || apiErr.Message != "boom" {
		t.Fatalf("plain text body should become the message, got %v", err)
	}
}

func TestSendAndEdit(t *testing.T) {
	ts, calls, mu := newTestAPI(t)
	client, err := New(Options{BaseURL: ts.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	client.SetToken("late-token")

	resp, err := client.SendMessage(context.Background(), "general", proto.SendRequest{Text: "hi", ClientID: "c-1"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if resp.MessageID != "M9" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if err := client.EditMessage(context.Background(), "general", "M9", "edited"); err != nil {
		t.Fatalf("edit: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if (*calls)[0].body != `{"text":"hi","clientId":"c-1"}` {
		t.Fatalf("unexpected send body: %s", (*calls)[0].body)
	}
	if (*calls)[1].method != http.MethodPatch || (*calls)[1].path != "/api/rooms/general/messages/M9" {
		t.Fatalf("unexpected edit request: %+v", (*calls)[1])
	}
	if (*calls)[1].auth != "Bearer late-token" {
		t.Fatalf("token not updated: %q", (*calls)[1].auth)
	}
}

func TestValidationHappensBeforeNetwork(t *testing.T) {
	client, err := New(Options{BaseURL: "http://127.0.0.1:1"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx := context.Background()
	if _, err := client.SendMessage(ctx, "general", proto.SendRequest{Text: "  "}); !errors.Is(err, core.ErrEmptyText) {
		t.Fatalf("expected empty text error, got %v", err)
	}
	if err := client.DeleteMessage(ctx, "general", ""); !errors.Is(err, core.ErrMessageRequired) {
		t.Fatalf("expected message required, got %v", err)
	}
	if _, err := client.FetchHistory(ctx, "", 10, ""); !errors.Is(err, core.ErrRoomRequired) {
		t.Fatalf("expected room required, got %v", err)
	}
	if _, err := New(Options{BaseURL: "ftp://example.com"}); err == nil {
		t.Fatal("expected unsupported scheme error")
	}
}

func TestSendRateLimitHonoursContext(t *testing.T) {
	ts, _, _ := newTestAPI(t)
	client, err := New(Options{BaseURL: ts.URL, SendRate: 0.1, SendBurst: 1})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.SendMessage(context.Background(), "general", proto.SendRequest{Text: "first"}); err != nil {
		t.Fatalf("first send: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := client.SendMessage(ctx, "general", proto.SendRequest{Text: "second"}); err == nil {
		t.Fatal("second send should be throttled")
	}

	// reads are not throttled
	if _, err := client.FetchHistory(context.Background(), "general", 10, ""); err != nil {
		t.Fatalf("fetch: %v", err)
	}
}
