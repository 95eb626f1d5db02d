package tests

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nika/server/internal/chat"
)

// smsInbox records the last code texted to each phone
type smsInbox struct {
	mu    sync.Mutex
	codes map[string]string
}

func newSMSInbox() *smsInbox { return &smsInbox{codes: map[string]string{}} }

func (s *smsInbox) Send(_ context.Context, phone, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[phone] = text
	return nil
}

func (s *smsInbox) code(phone string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[phone]
}

type echoCompleter struct{}

func (echoCompleter) Complete(_ context.Context, turns []chat.Turn) (string, error) {
	return "echo: " + turns[len(turns)-1].Content, nil
}

type frame struct {
	ID     string          `json:"id"`
	Event  string          `json:"event"`
	Status int             `json:"status"`
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data"`
}

func (f frame) decode(t *testing.T, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(f.Data, v), "frame %s: %s", f.Event, f.Data)
}

// testServer is a running stack with its SMS inbox
type testServer struct {
	*Stack
	Server *httptest.Server
	SMS    *smsInbox
}

func newTestServer(t *testing.T, st Stores) *testServer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	inbox := newSMSInbox()
	stack := NewStack(ctx, st, inbox, echoCompleter{}, zap.NewNop())
	server := httptest.NewServer(stack.Handler)
	t.Cleanup(func() {
		cancel()
		server.Close()
	})
	return &testServer{Stack: stack, Server: server, SMS: inbox}
}

func (s *testServer) BaseURL() string { return s.Server.URL }

// wsClient is one device speaking the realtime protocol
type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
	seq  int
	// backlog holds frames read while waiting for another one.
	backlog []frame
}

func (s *testServer) dial(t *testing.T, token string) (*wsClient, frame) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.Server.URL, "http") + "/ws"
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	c := &wsClient{t: t, conn: conn}
	t.Cleanup(func() { _ = conn.Close() })

	first := c.await(func(f frame) bool { return f.Event == "connect" })
	return c, first
}

func (c *wsClient) read() frame {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := c.conn.ReadMessage()
	require.NoError(c.t, err)
	var f frame
	require.NoError(c.t, json.Unmarshal(data, &f))
	return f
}

// await returns the first frame matching pred, keeping the others.
func (c *wsClient) await(pred func(frame) bool) frame {
	c.t.Helper()
	for i, f := range c.backlog {
		if pred(f) {
			c.backlog = append(c.backlog[:i], c.backlog[i+1:]...)
			return f
		}
	}
	for {
		f := c.read()
		if pred(f) {
			return f
		}
		c.backlog = append(c.backlog, f)
	}
}

// push waits for a room event
func (c *wsClient) push(event string) frame {
	c.t.Helper()
	return c.await(func(f frame) bool { return f.ID == "" && f.Event == event })
}

// call sends a request and waits for its reply
func (c *wsClient) call(event string, data any) frame {
	c.t.Helper()
	c.seq++
	id := event + "-" + strconv.Itoa(c.seq)
	req := map[string]any{"id": id, "event": event}
	if data != nil {
		req["data"] = data
	}
	require.NoError(c.t, c.conn.WriteJSON(req))
	return c.await(func(f frame) bool { return f.ID == id })
}

type profile struct {
	ID    string  `json:"id"`
	Phone string  `json:"phone"`
	Name  *string `json:"name"`
}

type tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type loginView struct {
	User profile `json:"user"`
	Auth tokens  `json:"auth"`
}

type message struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	Type string `json:"type"`
}

type messagesView struct {
	Messages []message `json:"messages"`
}

// login runs the code flow for phone on c
func (s *testServer) login(t *testing.T, c *wsClient, phone string) loginView {
	t.Helper()
	sent := c.call("auth", map[string]string{"phone": phone})
	require.Equal(t, http.StatusOK, sent.Status, "auth: %s", sent.Data)

	confirmed := c.call("auth_confirm", map[string]string{"code": s.SMS.code(phone)})
	require.Equal(t, http.StatusOK, confirmed.Status, "auth_confirm: %s", confirmed.Data)
	var v loginView
	confirmed.decode(t, &v)
	return v
}
