package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"prism-arena/internal/config"
	"prism-arena/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAppConfig(t *testing.T) config.AppConfig {
	t.Helper()
	tuning, err := config.LoadTuning("")
	if err != nil {
		t.Fatalf("load tuning defaults: %v", err)
	}
	return config.AppConfig{
		Sim:    config.DefaultSim(),
		Intake: config.DefaultIntake(),
		Room:   config.DefaultRoom(),
		Server: config.DefaultServer(),
		Client: config.DefaultClient(),
		Tuning: tuning,
	}
}

// newTestStack builds the manager, server, and an httptest listener with
// request logging off. Everything is torn down through t.Cleanup.
func newTestStack(t *testing.T) (*RoomManager, *httptest.Server) {
	t.Helper()
	cfg := testAppConfig(t)
	rooms := NewRoomManager(cfg, testLogger(), nil)
	t.Cleanup(rooms.Stop)

	srv := NewServer(cfg, rooms, testLogger())
	t.Cleanup(func() { srv.Shutdown(context.Background()) })

	router := NewRouter(RouterConfig{
		Rooms:             rooms,
		RateLimiter:       srv.rateLimiter,
		RoomCreateLimiter: srv.createLimiter,
		WSHandler:         srv.handleWS,
		DisableLogging:    true,
	})
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	return rooms, ts
}

func waitFor(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

// TestJoinRoundTrip drives the full client path over a real listener:
// create a room over REST, join it over websocket, receive the join ack and
// a parsed snapshot frame, then disconnect and watch the session detach.
func TestJoinRoundTrip(t *testing.T) {
	rooms, ts := newTestStack(t)

	resp, err := http.Post(ts.URL+"/api/rooms", "application/json", nil)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated || created.ID == "" {
		t.Fatalf("create room = %d %q", resp.StatusCode, created.ID)
	}

	room, ok := rooms.Get(created.ID)
	if !ok {
		t.Fatalf("room %s missing from manager", created.ID)
	}

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?room=" + created.ID + "&name=scout"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	mt, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read join ack: %v", err)
	}
	if mt != websocket.TextMessage {
		t.Fatalf("first message type = %d, want text", mt)
	}
	var ack protocol.JoinAck
	if err := json.Unmarshal(data, &ack); err != nil {
		t.Fatalf("unmarshal join ack: %v", err)
	}
	if ack.Type != "join_ack" {
		t.Fatalf("ack type = %q", ack.Type)
	}
	if ack.TickRate != config.DefaultSim().TickRateHz {
		t.Errorf("ack tick rate = %d", ack.TickRate)
	}

	// Snapshot frames follow on the binary channel every tick.
	var frame protocol.Frame
	for {
		mt, data, err = conn.ReadMessage()
		if err != nil {
			t.Fatalf("read snapshot: %v", err)
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		if err := protocol.ParseFrame(data, &frame, false); err != nil {
			t.Fatalf("parse snapshot: %v", err)
		}
		break
	}
	found := false
	for i := range frame.Entities {
		if frame.Entities[i].Index == ack.Index {
			found = true
			break
		}
	}
	if !found {
		t.Errorf("snapshot has %d entities but not index %d", len(frame.Entities), ack.Index)
	}

	if n := room.ClientCount(); n != 1 {
		t.Errorf("client count = %d, want 1", n)
	}
	conn.Close()
	waitFor(t, 2*time.Second, func() bool { return room.ClientCount() == 0 },
		"session never detached after close")
}

// TestJoinUnknownRoom verifies a websocket join against a missing room is
// rejected before the upgrade.
func TestJoinUnknownRoom(t *testing.T) {
	_, ts := newTestStack(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?room=nope"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("dial to unknown room succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("response = %+v, want 404", resp)
	}
}

// TestRoomEndpoints covers the REST surface around a created room.
func TestRoomEndpoints(t *testing.T) {
	_, ts := newTestStack(t)

	get := func(path string) (*http.Response, []byte) {
		t.Helper()
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return resp, body
	}

	resp, body := get("/health")
	if resp.StatusCode != http.StatusOK || string(body) != "OK" {
		t.Fatalf("health = %d %q", resp.StatusCode, body)
	}

	cresp, err := http.Post(ts.URL+"/api/rooms", "application/json", nil)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	var created struct {
		ID string `json:"id"`
	}
	json.NewDecoder(cresp.Body).Decode(&created)
	cresp.Body.Close()

	resp, body = get("/api/rooms")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list rooms = %d", resp.StatusCode)
	}
	var infos []roomInfo
	if err := json.Unmarshal(body, &infos); err != nil {
		t.Fatalf("decode room list: %v", err)
	}
	if len(infos) != 1 || infos[0].ID != created.ID {
		t.Errorf("room list = %+v, want just %s", infos, created.ID)
	}

	resp, body = get("/api/rooms/" + created.ID + "/state")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("room state = %d", resp.StatusCode)
	}
	var state struct {
		Tick int64 `json:"tick"`
		Food int   `json:"food"`
	}
	if err := json.Unmarshal(body, &state); err != nil {
		t.Fatalf("decode state: %v", err)
	}

	resp, _ = get("/api/rooms/" + created.ID + "/leaderboard")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("leaderboard = %d", resp.StatusCode)
	}

	resp, _ = get("/api/rooms/nope/state")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown room state = %d, want 404", resp.StatusCode)
	}
}

// wsPipe returns a connected client/server websocket pair over a loopback
// listener.
func wsPipe(t *testing.T) (client, server *websocket.Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	accepted := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		accepted <- c
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client, <-accepted
}

// TestAttachDuringBroadcast attaches a session while a tick is parked inside
// the snapshot fan-out, still holding the engine lock. Attach must complete
// once the fan-out resumes; taking the room lock before the engine join
// would order the locks against the fan-out and deadlock here.
func TestAttachDuringBroadcast(t *testing.T) {
	cfg := testAppConfig(t)
	room := NewRoom("arena-test", cfg, testLogger(), nil)
	defer room.Dispose()

	entered := make(chan struct{}, 1)
	resume := make(chan struct{})
	room.Engine().SetBroadcast(func(frame []byte) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-resume
		room.fanOut(frame)
	})

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast never ran")
	}

	_, serverConn := wsPipe(t)
	done := make(chan error, 1)
	go func() {
		_, err := room.Attach("sess-late", "127.0.0.1", serverConn, protocol.JoinOptions{Name: "late"}, nil)
		done <- err
	}()

	// Give Attach time to reach the engine join, then let the tick finish.
	time.Sleep(50 * time.Millisecond)
	close(resume)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("attach failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("attach deadlocked against the snapshot fan-out")
	}

	if n := room.ClientCount(); n != 1 {
		t.Errorf("client count = %d, want 1", n)
	}
}

// TestAttachAfterDispose verifies the attach path rolls the engine join back
// when the room was disposed between the join and the session registration.
func TestAttachAfterDispose(t *testing.T) {
	cfg := testAppConfig(t)
	room := NewRoom("arena-gone", cfg, testLogger(), nil)
	room.Dispose()

	_, serverConn := wsPipe(t)
	if _, err := room.Attach("sess-x", "127.0.0.1", serverConn, protocol.JoinOptions{}, nil); err == nil {
		t.Fatal("attach to a disposed room succeeded")
	}
	if n := room.Engine().PlayerCount(); n != 0 {
		t.Errorf("engine player count = %d after rejected attach, want 0", n)
	}
}
