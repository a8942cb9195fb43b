package chatapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/tasknest/internal/config"
	"github.com/ent0n29/tasknest/internal/dialog"
	"github.com/ent0n29/tasknest/internal/protocol"
	"github.com/ent0n29/tasknest/internal/taskstore"
)

// scriptedEngine echoes events back so the transport can be tested without
// the real state machine.
type scriptedEngine struct{}

func (scriptedEngine) HandleText(_ context.Context, _, _, text string) []dialog.Reply {
	return []dialog.Reply{{Text: "echo: " + text}}
}

func (scriptedEngine) HandleButton(_ context.Context, _, data string) []dialog.Reply {
	return []dialog.Reply{{
		Text:    "pressed: " + data,
		Buttons: []dialog.Button{{Label: "Active", Data: "active"}},
	}}
}

func newTestServer(t *testing.T) (*Server, *httptest.Server, *taskstore.InMemoryStore) {
	t.Helper()
	store := taskstore.NewInMemoryStore()
	srv := New(config.Config{}, scriptedEngine{}, store, nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return srv, ts, store
}

func wsURL(ts *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/chat/ws?" + query
}

func TestHealthz(t *testing.T) {
	_, ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if body.Status != "ok" {
		t.Fatalf("status field = %q, want %q", body.Status, "ok")
	}
}

func TestListUserTasksStatusFilter(t *testing.T) {
	_, ts, store := newTestServer(t)
	ctx := context.Background()
	due := time.Date(2030, time.January, 1, 0, 0, 0, 0, time.Local)

	if _, err := store.CreateTask(ctx, taskstore.Task{OwnerKey: "u1", Title: "open", DueDate: due, NotifyAt: due}); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	if _, err := store.CreateTask(ctx, taskstore.Task{OwnerKey: "u1", Title: "closed", DueDate: due, NotifyAt: due, Done: true}); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	resp, err := http.Get(ts.URL + "/v1/users/u1/tasks?status=active")
	if err != nil {
		t.Fatalf("GET tasks error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var body struct {
		Tasks []taskstore.Task `json:"tasks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if len(body.Tasks) != 1 || body.Tasks[0].Title != "open" {
		t.Fatalf("tasks = %+v, want only the active one", body.Tasks)
	}

	bad, err := http.Get(ts.URL + "/v1/users/u1/tasks?status=pending")
	if err != nil {
		t.Fatalf("GET tasks error = %v", err)
	}
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid status code = %d, want %d", bad.StatusCode, http.StatusBadRequest)
	}
}

func TestListUserTags(t *testing.T) {
	_, ts, store := newTestServer(t)
	ctx := context.Background()

	if _, err := store.CreateTag(ctx, "u1", "errands"); err != nil {
		t.Fatalf("CreateTag() error = %v", err)
	}
	if _, err := store.CreateTag(ctx, "u2", "other"); err != nil {
		t.Fatalf("CreateTag() error = %v", err)
	}

	resp, err := http.Get(ts.URL + "/v1/users/u1/tags")
	if err != nil {
		t.Fatalf("GET tags error = %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Tags []taskstore.Tag `json:"tags"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if len(body.Tags) != 1 || body.Tags[0].Title != "errands" {
		t.Fatalf("tags = %+v, want only u1's tag", body.Tags)
	}
}

func TestChatWSRequiresUserID(t *testing.T) {
	_, ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/v1/chat/ws")
	if err != nil {
		t.Fatalf("GET ws error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestChatWSRoundTrip(t *testing.T) {
	_, ts, _ := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "user_id=u1&display_name=Sam"), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	if err := conn.WriteJSON(protocol.ClientMessage{
		Type: protocol.TypeClientMessage, UserID: "u1", Text: "/tasks",
	}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	var msg protocol.BotMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if msg.Type != protocol.TypeBotMessage || msg.Text != "echo: /tasks" {
		t.Fatalf("reply = %+v, want echoed bot_message", msg)
	}

	if err := conn.WriteJSON(protocol.ClientButton{
		Type: protocol.TypeClientButton, UserID: "u1", Data: "active",
	}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if msg.Text != "pressed: active" || len(msg.Buttons) != 1 {
		t.Fatalf("button reply = %+v", msg)
	}
}

func TestChatWSRejectsMismatchedUser(t *testing.T) {
	_, ts, _ := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "user_id=u1"), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	if err := conn.WriteJSON(protocol.ClientMessage{
		Type: protocol.TypeClientMessage, UserID: "somebody-else", Text: "hi",
	}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	var ev protocol.ErrorEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if ev.Type != protocol.TypeErrorEvent || ev.Code != "user_mismatch" {
		t.Fatalf("event = %+v, want user_mismatch error", ev)
	}
}

func TestChatWSReportsBadFrames(t *testing.T) {
	_, ts, _ := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "user_id=u1"), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"reminder"}`)); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	var ev protocol.ErrorEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if ev.Code != "invalid_client_message" {
		t.Fatalf("event = %+v, want invalid_client_message", ev)
	}
}

func TestNotifyRequiresLiveConnection(t *testing.T) {
	srv, _, _ := newTestServer(t)

	if err := srv.Notify(context.Background(), "nobody", "hello"); err == nil {
		t.Fatalf("Notify() without a connection must fail so the reminder can retry")
	}
}

func TestNotifyPushesReminderFrame(t *testing.T) {
	srv, ts, _ := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "user_id=u1"), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	// The connection registers in the handler goroutine just after the
	// handshake, so give it a moment.
	deadline := time.Now().Add(2 * time.Second)
	for {
		err = srv.Notify(context.Background(), "u1", "Reminder: \"Buy milk\" is due 01-01-2030.")
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	var frame protocol.Reminder
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if frame.Type != protocol.TypeReminder || !strings.Contains(frame.Text, "Buy milk") {
		t.Fatalf("frame = %+v, want a reminder mentioning the task", frame)
	}
}
