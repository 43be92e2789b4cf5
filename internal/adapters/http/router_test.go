package http

import (
	"encoding/json"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dkeye/skillswap-relay/internal/adapters/rtc"
	"github.com/dkeye/skillswap-relay/internal/app"
	"github.com/dkeye/skillswap-relay/internal/app/orch"
	"github.com/dkeye/skillswap-relay/internal/auth"
	"github.com/dkeye/skillswap-relay/internal/config"
	"github.com/dkeye/skillswap-relay/internal/core"
	"github.com/dkeye/skillswap-relay/internal/domain"
	"github.com/dkeye/skillswap-relay/internal/metrics"
)

func testConfig() *config.Config {
	return &config.Config{
		Mode:           "test",
		Port:           8080,
		Secret:         "test-secret",
		AllowedOrigins: []string{"*"},
		ReadLimit:      32768,
		PingPeriod:     time.Second,
		PongWait:       2 * time.Second,
		WriteWait:      time.Second,
		SendBuffer:     16,
		SlowConsumer:   "drop",
	}
}

func newTestServer(t *testing.T, cfg *config.Config) (*httptest.Server, *orch.Orchestrator) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	rooms := core.NewMemberTable()
	m := metrics.New(reg, func() float64 { return float64(rooms.Len()) })
	o := orch.New(app.NewRegistry(), rooms, app.NewCallTracker(0, m), app.DropPolicy{}, m)

	r := SetupRouter(t.Context(), cfg, Deps{Orch: o, Gatherer: reg, WebRTC: rtc.DefaultWebRTCConfig()})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, o
}

type wsFrame struct {
	Event domain.EventName `json:"event"`
	Data  json.RawMessage  `json:"data"`
}

type client struct {
	t    *testing.T
	conn *websocket.Conn
	sid  domain.ConnID
}

func dial(t *testing.T, srv *httptest.Server, query string) *client {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/signal" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })

	c := &client{t: t, conn: conn}
	hello := c.expect(domain.EventConnected)
	var peer domain.Peer
	if err := json.Unmarshal(hello.Data, &peer); err != nil || peer.ConnID == "" {
		t.Fatalf("bad welcome %s: %v", hello.Data, err)
	}
	c.sid = peer.ConnID
	return c
}

func (c *client) send(name domain.EventName, data any) {
	c.t.Helper()
	if err := c.conn.WriteJSON(map[string]any{"event": name, "data": data}); err != nil {
		c.t.Fatalf("write %s: %v", name, err)
	}
}

func (c *client) expect(name domain.EventName) wsFrame {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f wsFrame
	if err := c.conn.ReadJSON(&f); err != nil {
		c.t.Fatalf("waiting for %s: %v", name, err)
	}
	if f.Event != name {
		c.t.Fatalf("got %s (%s), want %s", f.Event, f.Data, name)
	}
	return f
}

// sync round-trips a whoami so everything sent before it has been handled.
func (c *client) sync() {
	c.t.Helper()
	c.send(domain.EventWhoAmI, nil)
	c.expect(domain.EventWhoAmI)
}

func TestSignal_CallLifecycleOverWebSocket(t *testing.T) {
	srv, o := newTestServer(t, testConfig())
	u1 := dial(t, srv, "")
	u2 := dial(t, srv, "")

	u1.send(domain.EventJoinCall, map[string]string{"roomId": "abc"})
	u1.sync()
	u2.send(domain.EventJoinCall, map[string]string{"roomId": "abc"})
	u2.sync()
	u1.expect(domain.EventUserJoined)

	u1.send(domain.EventCallInvitation, map[string]string{"roomId": "abc"})
	u2.expect(domain.EventCallInvitation)

	u2.send(domain.EventCallAccepted, map[string]string{"roomId": "abc"})
	u1.expect(domain.EventCallAccepted)
	if st := o.RoomInfo("abc").CallState; st != domain.CallActive {
		t.Fatalf("state = %s", st)
	}

	u1.send(domain.EventCallOffer, map[string]any{"roomId": "abc", "offer": map[string]string{"type": "offer", "sdp": "v=0"}})
	offer := u2.expect(domain.EventCallOffer)
	if !strings.Contains(string(offer.Data), `"sdp":"v=0"`) {
		t.Fatalf("offer payload altered: %s", offer.Data)
	}

	_ = u1.conn.Close()
	ended := u2.expect(domain.EventCallEnded)
	if !strings.Contains(string(ended.Data), string(u1.sid)) {
		t.Fatalf("call-ended does not name the leaver: %s", ended.Data)
	}
	u2.expect(domain.EventUserLeft)
	if st := o.RoomInfo("abc").CallState; st != domain.CallIdle {
		t.Fatalf("state after disconnect = %s", st)
	}
}

func TestSignal_MalformedFrameKeepsConnection(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())
	c := dial(t, srv, "")
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte("{nope")); err != nil {
		t.Fatal(err)
	}
	c.send("no-such-event", nil)
	c.send(domain.EventPing, nil)
	c.expect(domain.EventPong)
}

func TestHealthzAndRooms(t *testing.T) {
	srv, o := newTestServer(t, testConfig())
	c := dial(t, srv, "")
	c.send(domain.EventJoinChat, "c1")
	c.sync()
	if o.Registry.Count() != 1 {
		t.Fatalf("Count = %d", o.Registry.Count())
	}

	resp, err := nethttp.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	var health struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&health)
	_ = resp.Body.Close()
	if health.Status != "ok" || health.Connections != 1 {
		t.Fatalf("healthz = %+v", health)
	}

	resp, err = nethttp.Get(srv.URL + "/api/rooms/c1")
	if err != nil {
		t.Fatal(err)
	}
	var info domain.RoomInfo
	_ = json.NewDecoder(resp.Body).Decode(&info)
	_ = resp.Body.Close()
	if info.MemberCount != 1 || info.CallState != domain.CallIdle {
		t.Fatalf("room = %+v", info)
	}
}

func TestICEServers(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())
	resp, err := nethttp.Get(srv.URL + "/api/ice-servers")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body struct {
		ICEServers []struct {
			URLs []string `json:"urls"`
		} `json:"iceServers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.ICEServers) != 1 || body.ICEServers[0].URLs[0] != "stun:stun.l.google.com:19302" {
		t.Fatalf("ice servers = %+v", body.ICEServers)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())
	dial(t, srv, "")
	resp, err := nethttp.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), "relay_connections 1") {
		t.Fatalf("metrics missing connection gauge:\n%s", body)
	}
}

func TestIdentity_JWTRequired(t *testing.T) {
	cfg := testConfig()
	cfg.JWTSecret = "jwt-secret"
	srv, _ := newTestServer(t, cfg)

	resp, err := nethttp.Get(srv.URL + "/api/rooms")
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != nethttp.StatusUnauthorized {
		t.Fatalf("status without token = %d", resp.StatusCode)
	}

	tok, err := auth.New("jwt-secret").Sign("alice", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	req, _ := nethttp.NewRequest(nethttp.MethodGet, srv.URL+"/api/rooms", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err = nethttp.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != nethttp.StatusOK {
		t.Fatalf("status with token = %d", resp.StatusCode)
	}

	c := dial(t, srv, "?token="+tok)
	c.send(domain.EventWhoAmI, nil)
	me := c.expect(domain.EventWhoAmI)
	if !strings.Contains(string(me.Data), `"user":"alice"`) {
		t.Fatalf("whoami = %s", me.Data)
	}
}
