package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/sells-group/mapboard/internal/resilience"
)

// ChangeEvent is the kind of a row change.
type ChangeEvent string

// Row change kinds.
const (
	ChangeInsert ChangeEvent = "insert"
	ChangeUpdate ChangeEvent = "update"
	ChangeDelete ChangeEvent = "delete"
)

// Change is one row change pushed by the backend.
type Change struct {
	Table string          `json:"table"`
	Event ChangeEvent     `json:"event"`
	New   json.RawMessage `json:"new,omitempty"`
	Old   json.RawMessage `json:"old,omitempty"`
}

// Feed subscribes to row changes of table matching filter (PostgREST
// syntax, e.g. "id=eq.7"). The channel closes when ctx is done.
type Feed interface {
	Subscribe(ctx context.Context, table, filter string) (<-chan Change, error)
}

// RealtimeClient implements Feed over the Phoenix channel protocol.
type RealtimeClient struct {
	endpoint  string
	anonKey   string
	tokens    TokenSource
	dialer    *websocket.Dialer
	heartbeat time.Duration
	reconnect resilience.Policy
	ref       atomic.Int64
}

var _ Feed = (*RealtimeClient)(nil)

// NewRealtimeClient returns a feed for baseURL+path. An http(s) base is
// switched to ws(s).
func NewRealtimeClient(baseURL, path, anonKey string, tokens TokenSource) *RealtimeClient {
	endpoint := strings.TrimRight(baseURL, "/") + path
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		endpoint = "wss://" + strings.TrimPrefix(endpoint, "https://")
	case strings.HasPrefix(endpoint, "http://"):
		endpoint = "ws://" + strings.TrimPrefix(endpoint, "http://")
	}
	return &RealtimeClient{
		endpoint:  endpoint,
		anonKey:   anonKey,
		tokens:    tokens,
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: http.ProxyFromEnvironment},
		heartbeat: 25 * time.Second,
		reconnect: resilience.Policy{Base: time.Second, Max: 30 * time.Second, Factor: 2, Jitter: 0.2},
	}
}

type phxMessage struct {
	Topic   string `json:"topic"`
	Event   string `json:"event"`
	Payload any    `json:"payload"`
	Ref     string `json:"ref"`
}

func (c *RealtimeClient) nextRef() string {
	return strconv.FormatInt(c.ref.Add(1), 10)
}

// Subscribe connects, joins the table topic and streams changes,
// reconnecting with backoff until ctx is done.
func (c *RealtimeClient) Subscribe(ctx context.Context, table, filter string) (<-chan Change, error) {
	conn, err := c.connect(ctx, table, filter)
	if err != nil {
		return nil, err
	}

	out := make(chan Change, 16)
	go func() {
		defer close(out)
		attempt := 0
		for {
			err := c.pump(ctx, conn, table, out)
			if ctx.Err() != nil {
				return
			}
			zap.L().Warn("backend: realtime connection lost", zap.String("table", table), zap.Error(err))

			for {
				select {
				case <-ctx.Done():
					return
				case <-time.After(c.reconnect.Delay(attempt)):
				}
				attempt++
				if conn, err = c.connect(ctx, table, filter); err == nil {
					attempt = 0
					break
				}
				zap.L().Warn("backend: realtime reconnect failed", zap.Int("attempt", attempt), zap.Error(err))
			}
		}
	}()
	return out, nil
}

func (c *RealtimeClient) connect(ctx context.Context, table, filter string) (*websocket.Conn, error) {
	q := url.Values{"apikey": {c.anonKey}, "vsn": {"1.0.0"}}
	conn, _, err := c.dialer.DialContext(ctx, c.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "backend: dial realtime")
	}

	change := map[string]string{"event": "*", "schema": "public", "table": table}
	if filter != "" {
		change["filter"] = filter
	}
	token := c.anonKey
	if c.tokens != nil {
		if tok := c.tokens.AccessToken(); tok != "" {
			token = tok
		}
	}
	join := phxMessage{
		Topic: topic(table),
		Event: "phx_join",
		Payload: map[string]any{
			"config":       map[string]any{"postgres_changes": []any{change}},
			"access_token": token,
		},
		Ref: c.nextRef(),
	}
	if err := conn.WriteJSON(join); err != nil {
		_ = conn.Close()
		return nil, eris.Wrap(err, "backend: join realtime topic")
	}
	return conn, nil
}

func topic(table string) string {
	return "realtime:public:" + table
}

// pump reads until the connection fails or ctx is done, sending heartbeats
// on the side.
func (c *RealtimeClient) pump(ctx context.Context, conn *websocket.Conn, table string, out chan<- Change) error {
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		_ = conn.Close()
	}()

	go func() {
		ticker := time.NewTicker(c.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				// the read loop never writes, so this goroutine is the only writer
				if err := conn.WriteJSON(phxMessage{Topic: "phoenix", Event: "heartbeat", Payload: map[string]any{}, Ref: c.nextRef()}); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return eris.Wrap(err, "backend: read realtime")
		}
		ch, ok := decodeChange(table, data)
		if !ok {
			continue
		}
		select {
		case out <- ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// decodeChange extracts a row change from a realtime frame. Replies,
// presence and system frames are skipped.
func decodeChange(table string, frame []byte) (Change, bool) {
	if !gjson.ValidBytes(frame) {
		return Change{}, false
	}
	msg := gjson.ParseBytes(frame)
	if msg.Get("event").String() != "postgres_changes" {
		return Change{}, false
	}
	data := msg.Get("payload.data")
	kind := ChangeEvent(strings.ToLower(data.Get("type").String()))
	switch kind {
	case ChangeInsert, ChangeUpdate, ChangeDelete:
	default:
		return Change{}, false
	}
	if t := data.Get("table"); t.Exists() && t.String() != table {
		return Change{}, false
	}

	ch := Change{Table: table, Event: kind}
	if rec := data.Get("record"); rec.IsObject() {
		ch.New = json.RawMessage(rec.Raw)
	}
	if old := data.Get("old_record"); old.IsObject() {
		ch.Old = json.RawMessage(old.Raw)
	}
	return ch, true
}
