package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/haivivi/faceid/go/pkg/buffer"
	"github.com/haivivi/faceid/go/pkg/encoding"
	"github.com/haivivi/faceid/go/pkg/faceid"
	"github.com/haivivi/faceid/go/pkg/gallery"
	"github.com/haivivi/faceid/go/pkg/jsontime"
	"github.com/haivivi/faceid/go/pkg/thumbnail"
)

// clientMessage is one JSON request frame from a capture client.
type clientMessage struct {
	Type string `json:"type"`

	// start
	UserID   string `json:"userId,omitempty"`
	UserName string `json:"userName,omitempty"`

	// detection
	Score      float64                `json:"score,omitempty"`
	Box        *faceid.Rect           `json:"box,omitempty"`
	Descriptor []float32              `json:"descriptor,omitempty"`
	Frame      encoding.StdBase64Data `json:"frame,omitempty"`

	// top
	K int `json:"k,omitempty"`
}

// serverEvent is one JSON push frame to a capture client.
type serverEvent struct {
	Type string `json:"type"`

	// state
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`

	// capture
	Count     int                    `json:"count,omitempty"`
	Progress  float64                `json:"progress,omitempty"`
	Thumbnail encoding.StdBase64Data `json:"thumbnail,omitempty"`

	// rejected
	Reason string `json:"reason,omitempty"`

	// completed
	Identity *identitySummary `json:"identity,omitempty"`

	// error / result
	Error  string `json:"error,omitempty"`
	Result any    `json:"result,omitempty"`
}

// identitySummary is the wire form of a completed enrollment: what a
// capture UI needs to show, without the embeddings.
type identitySummary struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	CaptureCount int            `json:"captureCount"`
	RegisteredAt jsontime.Milli `json:"registeredAt"`
}

// sessionView is a dashboard snapshot of one connection.
type sessionView struct {
	ID    string
	User  string
	Count int
	State string
}

// gateway serves the capture protocol: one enrollment session per
// websocket connection, at most one connection enrolling at a time
// (the enrollment checkpoint key is shared), and match queries answered
// for every connection from one in-memory gallery index.
type gateway struct {
	store gallery.Store
	cfg   faceid.Config
	thumb faceid.Thumbnailer

	upgrader websocket.Upgrader

	// The matcher has no internal locking; every call goes through
	// matcherMu (queries bump stats counters, so a read lock is not
	// enough).
	matcherMu sync.Mutex
	matcher   *faceid.Matcher

	mu       sync.Mutex
	enroller *gatewayConn
	conns    map[*gatewayConn]struct{}

	feed chan string
}

func newGateway(store gallery.Store, cfg faceid.Config) *gateway {
	return &gateway{
		store:   store,
		cfg:     cfg,
		thumb:   thumbnail.NewMaker(thumbnail.Config{}),
		matcher: faceid.NewMatcher(cfg),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[*gatewayConn]struct{}),
		feed:  make(chan string, 100),
	}
}

// reloadMatcher rebuilds the shared match index from the gallery and
// returns the number of indexed identities.
func (gw *gateway) reloadMatcher(ctx context.Context) (int, error) {
	identities, err := gw.store.Identities(ctx)
	if err != nil {
		return 0, err
	}
	gw.matcherMu.Lock()
	n := gw.matcher.Load(identities)
	gw.matcherMu.Unlock()
	return n, nil
}

func (gw *gateway) findBest(query []float32) *faceid.MatchResult {
	gw.matcherMu.Lock()
	defer gw.matcherMu.Unlock()
	return gw.matcher.FindBestMatch(query)
}

func (gw *gateway) findTop(query []float32, k int) []faceid.RankedMatch {
	gw.matcherMu.Lock()
	defer gw.matcherMu.Unlock()
	return gw.matcher.FindTopMatches(query, k)
}

// matcherStats snapshots query counters and gallery size for the dashboard.
func (gw *gateway) matcherStats() (faceid.Stats, int) {
	gw.matcherMu.Lock()
	defer gw.matcherMu.Unlock()
	return gw.matcher.Stats(), gw.matcher.IdentityCount()
}

// acquireEnroll claims the single enrollment slot for c. Reclaiming by
// the current holder is a no-op.
func (gw *gateway) acquireEnroll(c *gatewayConn) error {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	if gw.enroller != nil && gw.enroller != c {
		return fmt.Errorf("another enrollment is in progress")
	}
	gw.enroller = c
	return nil
}

func (gw *gateway) releaseEnroll(c *gatewayConn) {
	gw.mu.Lock()
	if gw.enroller == c {
		gw.enroller = nil
	}
	gw.mu.Unlock()
}

func (gw *gateway) dropConn(c *gatewayConn) {
	gw.mu.Lock()
	delete(gw.conns, c)
	if gw.enroller == c {
		// Keep the checkpoint: a reconnecting client resumes where it
		// left off. Only the slot is released.
		gw.enroller = nil
	}
	gw.mu.Unlock()
}

// closeConns force-closes every live websocket so blocked readers return.
func (gw *gateway) closeConns() {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	for c := range gw.conns {
		c.ws.Close()
	}
}

// Sessions returns a dashboard snapshot of all live connections.
func (gw *gateway) Sessions() []sessionView {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	views := make([]sessionView, 0, len(gw.conns))
	for c := range gw.conns {
		views = append(views, c.view)
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	return views
}

// Events returns the live activity feed consumed by the dashboard.
func (gw *gateway) Events() <-chan string { return gw.feed }

// notify pushes a line onto the activity feed, dropping when full.
func (gw *gateway) notify(format string, args ...any) {
	select {
	case gw.feed <- fmt.Sprintf(format, args...):
	default:
	}
}

func (gw *gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := gw.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &gatewayConn{
		id:   uuid.NewString()[:8],
		gw:   gw,
		ws:   ws,
		ring: buffer.RingN[serverEvent](64),
	}
	c.view = sessionView{ID: c.id, State: "connected"}

	gw.mu.Lock()
	gw.conns[c] = struct{}{}
	gw.mu.Unlock()
	gw.notify("%s connected from %s", c.id, r.RemoteAddr)
	slog.Debug("gateway: connected", "conn", c.id, "remote", r.RemoteAddr)

	c.run(r.Context())
}

// gatewayConn is one websocket client. The read loop dispatches
// messages serially; outbound events go through a drop-oldest ring so a
// slow client never blocks its session.
type gatewayConn struct {
	id   string
	gw   *gateway
	ws   *websocket.Conn
	ring *buffer.RingBuffer[serverEvent]
	sess *faceid.Session

	view sessionView // guarded by gw.mu
}

func (c *gatewayConn) run(ctx context.Context) {
	writerDone := make(chan struct{})
	go c.writeLoop(writerDone)

	defer func() {
		c.gw.dropConn(c)
		c.ring.CloseWrite() // let the writer drain, then exit
		<-writerDone
		c.ws.Close()
		c.gw.notify("%s disconnected", c.id)
		slog.Debug("gateway: disconnected", "conn", c.id)
	}()

	for {
		var msg clientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("gateway: read failed", "conn", c.id, "error", err)
			}
			return
		}
		c.handle(ctx, &msg)
	}
}

func (c *gatewayConn) writeLoop(done chan<- struct{}) {
	defer close(done)
	for {
		ev, err := c.ring.Next()
		if err != nil {
			return
		}
		if err := c.ws.WriteJSON(ev); err != nil {
			slog.Debug("gateway: write failed", "conn", c.id, "error", err)
			return
		}
	}
}

func (c *gatewayConn) push(ev serverEvent) {
	_ = c.ring.Add(ev)
}

func (c *gatewayConn) pushError(text string) {
	c.push(serverEvent{Type: "error", Error: text})
}

func (c *gatewayConn) setView(fn func(v *sessionView)) {
	c.gw.mu.Lock()
	fn(&c.view)
	c.gw.mu.Unlock()
}

func (c *gatewayConn) handle(ctx context.Context, msg *clientMessage) {
	switch msg.Type {
	case "start":
		c.handleStart(ctx, msg)

	case "detection":
		c.handleDetection(ctx, msg)

	case "undo":
		if c.sess == nil {
			c.pushError("no enrollment in progress")
			return
		}
		n := c.sess.UndoLast(ctx)
		c.setView(func(v *sessionView) { v.Count = n })
		c.push(serverEvent{Type: "capture", Count: n, Progress: c.sess.Progress()})

	case "finish":
		if c.sess == nil {
			c.pushError("no enrollment in progress")
			return
		}
		if err := c.sess.FinishEarly(ctx); err != nil {
			c.pushError(err.Error())
		}

	case "cancel":
		if c.sess == nil {
			c.pushError("no enrollment in progress")
			return
		}
		c.sess.Cancel(ctx)
		c.gw.releaseEnroll(c)
		c.setView(func(v *sessionView) { v.Count = 0 })
		c.gw.notify("%s canceled enrollment", c.id)

	case "restart":
		if c.sess == nil {
			c.pushError("no enrollment in progress")
			return
		}
		if err := c.gw.acquireEnroll(c); err != nil {
			c.pushError(err.Error())
			return
		}
		if err := c.sess.Restart(ctx); err != nil {
			c.gw.releaseEnroll(c)
			c.pushError(err.Error())
			return
		}
		c.setView(func(v *sessionView) { v.Count = 0 })
		c.gw.notify("%s restarted enrollment", c.id)

	case "pause":
		if c.sess == nil {
			c.pushError("no enrollment in progress")
			return
		}
		c.sess.Pause()

	case "resume":
		if c.sess == nil {
			c.pushError("no enrollment in progress")
			return
		}
		c.sess.Resume()

	case "match":
		res := c.gw.findBest(msg.Descriptor)
		c.push(serverEvent{Type: "result", Result: res})
		c.gw.notify("%s match: %s", c.id, res.Status)

	case "top":
		k := msg.K
		if k <= 0 {
			k = 5
		}
		ranked := c.gw.findTop(msg.Descriptor, k)
		c.push(serverEvent{Type: "result", Result: ranked})
		c.gw.notify("%s top-%d query (%d hits)", c.id, k, len(ranked))

	default:
		c.pushError(fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

func (c *gatewayConn) handleStart(ctx context.Context, msg *clientMessage) {
	if msg.UserID == "" || msg.UserName == "" {
		c.pushError("start requires userId and userName")
		return
	}
	if err := c.gw.acquireEnroll(c); err != nil {
		c.pushError(err.Error())
		return
	}

	if c.sess == nil {
		sess, err := faceid.NewSession(ctx, c.gw.cfg,
			faceid.WithStore(c.gw.store),
			faceid.WithEvents(connEvents{c}),
			faceid.WithThumbnailer(c.gw.thumb),
		)
		if err != nil {
			c.gw.releaseEnroll(c)
			c.pushError(err.Error())
			return
		}
		c.sess = sess

		// A checkpoint from a dropped connection resumes mid-collection;
		// the requested userId/userName are superseded by the restored ones.
		if sess.State() == faceid.StateCollecting {
			c.setView(func(v *sessionView) {
				v.User = sess.UserName()
				v.Count = sess.Count()
				v.State = faceid.StateCollecting.String()
			})
			c.push(serverEvent{Type: "state", To: faceid.StateCollecting.String()})
			c.push(serverEvent{Type: "capture", Count: sess.Count(), Progress: sess.Progress()})
			c.gw.notify("%s resumed enrollment for %q (%d captures)", c.id, sess.UserName(), sess.Count())
			return
		}
	}

	if err := c.sess.Start(msg.UserID, msg.UserName); err != nil {
		c.gw.releaseEnroll(c)
		c.pushError(err.Error())
		return
	}
	c.setView(func(v *sessionView) {
		v.User = msg.UserName
		v.Count = 0
	})
	c.gw.notify("%s enrolling %q", c.id, msg.UserName)
}

func (c *gatewayConn) handleDetection(ctx context.Context, msg *clientMessage) {
	if c.sess == nil {
		c.pushError("no enrollment in progress (send start first)")
		return
	}
	det := &faceid.Detection{
		Score:     msg.Score,
		Embedding: msg.Descriptor,
		Frame:     msg.Frame,
	}
	if msg.Box != nil {
		det.Box = *msg.Box
	}
	if _, err := c.sess.ProcessDetection(ctx, det); err != nil {
		c.pushError(err.Error())
	}
}

// connEvents forwards session callbacks onto the connection's event
// queue. Callbacks fire synchronously inside session calls, so pushes
// stay ordered with the requests that caused them.
type connEvents struct {
	c *gatewayConn
}

func (e connEvents) StateChanged(from, to faceid.State) {
	e.c.setView(func(v *sessionView) { v.State = to.String() })
	e.c.push(serverEvent{Type: "state", From: from.String(), To: to.String()})
}

func (e connEvents) CaptureAccepted(count int, progress float64, thumb []byte) {
	e.c.setView(func(v *sessionView) { v.Count = count })
	e.c.push(serverEvent{Type: "capture", Count: count, Progress: progress, Thumbnail: thumb})
	e.c.gw.notify("%s capture %d accepted", e.c.id, count)
}

func (e connEvents) CaptureRejected(reason faceid.RejectReason) {
	e.c.push(serverEvent{Type: "rejected", Reason: string(reason)})
	e.c.gw.notify("%s capture rejected (%s)", e.c.id, reason)
}

func (e connEvents) Completed(identity *faceid.Identity) {
	e.c.push(serverEvent{Type: "completed", Identity: &identitySummary{
		ID:           identity.ID,
		Name:         identity.Name,
		CaptureCount: identity.CaptureCount,
		RegisteredAt: identity.RegisteredAt,
	}})
	e.c.gw.releaseEnroll(e.c)
	e.c.gw.notify("%s enrolled %q (%d captures)", e.c.id, identity.Name, identity.CaptureCount)

	if n, err := e.c.gw.reloadMatcher(context.Background()); err != nil {
		slog.Error("gateway: match index reload failed", "error", err)
	} else {
		slog.Info("gateway: match index reloaded", "identities", n)
	}
}

func (e connEvents) Failed(err error) {
	e.c.push(serverEvent{Type: "error", Error: err.Error()})
	e.c.gw.releaseEnroll(e.c)
	e.c.gw.notify("%s enrollment failed: %v", e.c.id, err)
}

func (e connEvents) Paused(paused bool) {
	if paused {
		e.c.push(serverEvent{Type: "paused"})
		return
	}
	e.c.push(serverEvent{Type: "resumed"})
}
