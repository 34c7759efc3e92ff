// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package gateway routes websocket clients to rooms. Each connection is one
// player; its frames become room joins and actions, and every room update is
// pushed to the members connected here.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/holomush/gameroom/internal/ids"
	"github.com/holomush/gameroom/internal/observability"
	"github.com/holomush/gameroom/internal/room"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 64 << 10
	sendBuffer     = 64
	defaultTimeout = 10 * time.Second
)

var errNotJoined = errors.New("room not joined on this connection")

// RoomService is the room operations the gateway drives.
type RoomService interface {
	Join(ctx context.Context, roomID, pluginID, playerID string) (*room.Room, error)
	RPC(ctx context.Context, roomID, playerID string, action []byte) (*room.Room, error)
	Leave(ctx context.Context, roomID, playerID string) (*room.Room, error)
}

// Subscriber delivers room updates. *room.Broadcaster implements it.
type Subscriber interface {
	Subscribe(roomID string) <-chan *room.Room
	Unsubscribe(roomID string, ch <-chan *room.Room)
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithMetrics counts connections and requests.
func WithMetrics(m *observability.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithPlayerIDs replaces the ULID player id generator.
func WithPlayerIDs(fn func() string) Option {
	return func(g *Gateway) { g.newID = fn }
}

// WithRequestTimeout bounds each room operation.
func WithRequestTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// Gateway is the websocket EventRouter.
type Gateway struct {
	rooms    RoomService
	updates  Subscriber
	metrics  *observability.Metrics
	logger   *slog.Logger
	newID    func() string
	timeout  time.Duration
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[*conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// New creates a gateway over rooms and updates.
func New(rooms RoomService, updates Subscriber, opts ...Option) *Gateway {
	g := &Gateway{
		rooms:   rooms,
		updates: updates,
		logger:  slog.Default(),
		newID:   ids.New,
		timeout: defaultTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(map[*conn]struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Handler returns a mux serving the websocket endpoint at /ws.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", g.ServeWS)
	return mux
}

// ServeWS upgrades the request and serves the connection until it closes.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	g.wg.Add(1)
	g.mu.Unlock()
	defer g.wg.Done()

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := newConn(g, ws, g.newID())
	if !g.track(c) {
		_ = ws.Close()
		return
	}
	defer g.untrack(c)

	if g.metrics != nil {
		g.metrics.ConnectionsTotal.WithLabelValues("websocket").Inc()
	}
	g.logger.Info("player connected", "player", c.playerID, "remote", r.RemoteAddr)
	c.serve()
	g.logger.Info("player disconnected", "player", c.playerID)
}

// Close disconnects every client and waits for their departures to finish.
func (g *Gateway) Close() error {
	g.mu.Lock()
	g.closed = true
	conns := make([]*conn, 0, len(g.conns))
	for c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.Unlock()

	for _, c := range conns {
		c.shutdown()
	}
	g.wg.Wait()
	return nil
}

// Connections returns the number of open connections.
func (g *Gateway) Connections() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

func (g *Gateway) track(c *conn) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	g.conns[c] = struct{}{}
	return true
}

func (g *Gateway) untrack(c *conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.conns, c)
}

func (g *Gateway) count(kind string, err error) {
	if g.metrics != nil {
		g.metrics.RequestsTotal.WithLabelValues(kind, status(err)).Inc()
	}
}

// conn is one player's socket. Only writeLoop writes to ws.
type conn struct {
	gw       *Gateway
	ws       *websocket.Conn
	playerID string

	send     chan []byte
	done     chan struct{}
	stopOnce sync.Once

	mu     sync.Mutex
	joined map[string]<-chan *room.Room
	fwd    sync.WaitGroup
}

func newConn(g *Gateway, ws *websocket.Conn, playerID string) *conn {
	return &conn{
		gw:       g,
		ws:       ws,
		playerID: playerID,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
		joined:   make(map[string]<-chan *room.Room),
	}
}

func (c *conn) serve() {
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop()
	}()

	c.push(Outbound{Type: TypeWelcome, PlayerID: c.playerID})
	c.readLoop()

	c.shutdown()
	c.leaveAll()
	c.fwd.Wait()
	<-writerDone
}

// shutdown stops the writer, which closes the socket and so ends readLoop.
func (c *conn) shutdown() {
	c.stopOnce.Do(func() { close(c.done) })
}

func (c *conn) readLoop() {
	c.ws.SetReadLimit(maxFrameSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.gw.logger.Debug("websocket read failed", "player", c.playerID, "error", err)
			}
			return
		}
		select {
		case <-c.done:
			return
		default:
		}

		var in Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			c.gw.count("invalid", err)
			c.push(errorFrame("", "malformed frame"))
			continue
		}
		c.handle(in)
	}
}

func (c *conn) handle(in Inbound) {
	if in.RoomID == "" {
		c.gw.count("invalid", errors.New("missing room"))
		c.push(errorFrame("", "roomId is required"))
		return
	}

	var err error
	switch in.Type {
	case TypeJoin:
		err = c.join(in.RoomID, in.PluginID)
	case TypeRPC:
		err = c.rpc(in.RoomID, in.Action)
	default:
		c.gw.count("invalid", errors.New("unknown type"))
		c.push(errorFrame(in.RoomID, "unknown frame type"))
		return
	}
	c.gw.count(in.Type, err)
	if err != nil {
		c.push(errorFrame(in.RoomID, clientMessage(err)))
	}
}

// join subscribes before joining so the joiner sees its own update.
func (c *conn) join(roomID, pluginID string) error {
	c.mu.Lock()
	_, already := c.joined[roomID]
	c.mu.Unlock()

	var ch <-chan *room.Room
	if !already {
		ch = c.gw.updates.Subscribe(roomID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.gw.timeout)
	defer cancel()
	if _, err := c.gw.rooms.Join(ctx, roomID, pluginID, c.playerID); err != nil {
		if ch != nil {
			c.gw.updates.Unsubscribe(roomID, ch)
		}
		return err
	}

	if ch != nil {
		c.mu.Lock()
		c.joined[roomID] = ch
		c.mu.Unlock()
		c.fwd.Add(1)
		go c.forward(ch)
	}
	return nil
}

func (c *conn) rpc(roomID string, action []byte) error {
	c.mu.Lock()
	_, ok := c.joined[roomID]
	c.mu.Unlock()
	if !ok {
		return errNotJoined
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.gw.timeout)
	defer cancel()
	_, err := c.gw.rooms.RPC(ctx, roomID, c.playerID, action)
	return err
}

func (c *conn) leaveAll() {
	c.mu.Lock()
	joined := c.joined
	c.joined = make(map[string]<-chan *room.Room)
	c.mu.Unlock()

	for roomID, ch := range joined {
		c.gw.updates.Unsubscribe(roomID, ch)

		ctx, cancel := context.WithTimeout(context.Background(), c.gw.timeout)
		_, err := c.gw.rooms.Leave(ctx, roomID, c.playerID)
		cancel()
		c.gw.count("leave", err)
		if err != nil {
			c.gw.logger.Debug("leave on disconnect failed", "player", c.playerID, "room", roomID, "error", err)
		}
	}
}

// forward relays updates until the subscription closes.
func (c *conn) forward(ch <-chan *room.Room) {
	defer c.fwd.Done()
	for r := range ch {
		c.push(updateFrame(r))
	}
}

// push queues a frame. A client that cannot keep up is disconnected.
func (c *conn) push(out Outbound) {
	data, err := json.Marshal(out)
	if err != nil {
		c.gw.logger.Error("encode frame", "player", c.playerID, "error", err)
		return
	}
	select {
	case <-c.done:
	case c.send <- data:
	default:
		c.gw.logger.Warn("send buffer full, disconnecting player", "player", c.playerID)
		c.shutdown()
	}
}

func (c *conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.shutdown()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				return
			}
		case <-c.done:
			c.drain()
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// drain flushes frames queued before shutdown.
func (c *conn) drain() {
	for {
		select {
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}
