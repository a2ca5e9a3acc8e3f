// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/robotlab/robotd/internal/backend"
	"github.com/robotlab/robotd/internal/bus"
	"github.com/robotlab/robotd/internal/command"
	"github.com/robotlab/robotd/internal/config"
	"github.com/robotlab/robotd/internal/crashmonitor"
	xglog "github.com/robotlab/robotd/internal/log"
	"github.com/robotlab/robotd/internal/lease"
	"github.com/robotlab/robotd/internal/rewind"
	"github.com/robotlab/robotd/internal/safetymonitor"
	"github.com/robotlab/robotd/internal/sandbox"
	"github.com/robotlab/robotd/internal/state"
)

// feedbackTopics is every bus topic the /ws/feedback relay fans out,
// one per component that publishes lifecycle events (§6 "Event payload
// fields").
var feedbackTopics = []string{
	lease.TopicFeedback,
	command.TopicFeedback,
	rewind.TopicFeedback,
	safetymonitor.TopicFeedback,
	crashmonitor.TopicFeedback,
	sandbox.TopicFeedback,
}

// stateSampler returns the current unified state snapshot, or false if
// none is available yet.
type stateSampler func() (state.Snapshot, bool)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The core is deployed on the robot's own network; origin
	// enforcement for browser clients happens at the CORS middleware
	// layer applied to the rest of the surface, not here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsClient is one registered WebSocket connection's outbound queue. A
// full queue drops the client rather than blocking the broadcaster.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans the state snapshot and the lifecycle event bus out to
// WebSocket subscribers (§4.J "broadcast streams").
type Hub struct {
	bus    bus.Bus
	cfgMgr *config.Manager

	mu              sync.Mutex
	stateClients    map[*wsClient]struct{}
	feedbackClients map[*wsClient]struct{}
	displayClients  map[*wsClient]struct{}
	lastSnapshot    state.Snapshot
	haveSnapshot    bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newHub(b bus.Bus, cfgMgr *config.Manager) *Hub {
	return &Hub{
		bus:             b,
		cfgMgr:          cfgMgr,
		stateClients:    make(map[*wsClient]struct{}),
		feedbackClients: make(map[*wsClient]struct{}),
		displayClients:  make(map[*wsClient]struct{}),
	}
}

// start launches the state-sampling loop and the feedback-bus relay.
func (h *Hub) start(ctx context.Context, sample stateSampler) {
	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.sampleLoop(ctx, sample)
	}()

	if h.bus != nil {
		for _, topic := range feedbackTopics {
			h.wg.Add(1)
			go func(topic string) {
				defer h.wg.Done()
				h.relayTopic(ctx, topic)
			}(topic)
		}
	}
}

func (h *Hub) stop() {
	if h.cancel != nil {
		h.cancel()
	}
	h.wg.Wait()
}

func (h *Hub) pollPeriod() time.Duration {
	hz := 10.0
	if h.cfgMgr != nil {
		if v := h.cfgMgr.Get().State.ObserverStateHz; v > 0 {
			hz = v
		}
	}
	return time.Duration(float64(time.Second) / hz)
}

func (h *Hub) sampleLoop(ctx context.Context, sample stateSampler) {
	ticker := time.NewTicker(h.pollPeriod())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, ok := sample()
			if !ok {
				continue
			}
			h.mu.Lock()
			h.lastSnapshot = snap
			h.haveSnapshot = true
			h.mu.Unlock()

			payload, err := json.Marshal(snap)
			if err != nil {
				continue
			}
			h.broadcast(h.stateClients, payload)
			h.broadcast(h.displayClients, payload)
		}
	}
}

func (h *Hub) relayTopic(ctx context.Context, topic string) {
	sub, err := h.bus.Subscribe(ctx, topic)
	if err != nil {
		xglog.WithComponent("api").Warn().Err(err).Str("topic", topic).Msg("failed to subscribe to feedback topic")
		return
	}
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.C():
			if !ok {
				return
			}
			payload, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			h.broadcast(h.feedbackClients, payload)
		}
	}
}

func (h *Hub) broadcast(clients map[*wsClient]struct{}, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range clients {
		select {
		case c.send <- payload:
		default:
			// Slow consumer: drop the client rather than block the
			// broadcaster for everyone else.
			delete(clients, c)
			close(c.send)
			_ = c.conn.Close()
		}
	}
}

// register adds a client to the named set and returns an unregister func.
func (h *Hub) register(clients map[*wsClient]struct{}, c *wsClient) func() {
	h.mu.Lock()
	clients[c] = struct{}{}
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		if _, ok := clients[c]; ok {
			delete(clients, c)
			close(c.send)
		}
		h.mu.Unlock()
	}
}

func (h *Hub) upgradeAndPump(w http.ResponseWriter, r *http.Request, clients map[*wsClient]struct{}, replay []byte) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &wsClient{conn: conn, send: make(chan []byte, 16)}
	unregister := h.register(clients, c)
	defer func() {
		unregister()
		_ = conn.Close()
	}()

	if replay != nil {
		select {
		case c.send <- replay:
		default:
		}
	}

	// Drain inbound frames (pings/close) in the background; this relay
	// is server-to-client only.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for payload := range c.send {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}

func (h *Hub) serveState(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	var replay []byte
	if h.haveSnapshot {
		replay, _ = json.Marshal(h.lastSnapshot)
	}
	h.mu.Unlock()
	h.upgradeAndPump(w, r, h.stateClients, replay)
}

func (h *Hub) serveFeedback(w http.ResponseWriter, r *http.Request) {
	h.upgradeAndPump(w, r, h.feedbackClients, nil)
}

// serveDisplay is a last-snapshot-replay relay for the face renderer
// (§4.J): a newcomer immediately receives the most recent state before
// joining the live broadcast.
func (h *Hub) serveDisplay(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	var replay []byte
	if h.haveSnapshot {
		replay, _ = json.Marshal(h.lastSnapshot)
	}
	h.mu.Unlock()
	h.upgradeAndPump(w, r, h.displayClients, replay)
}

// serveCameras streams binary frames: a 4-byte big-endian length, a
// JSON header, then the JPEG/PNG/raw payload (§6 "WebSocket surface").
func (h *Hub) serveCameras(cam backend.Camera) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cam == nil {
			http.Error(w, "no camera backend configured", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		id := r.URL.Query().Get("id")
		if id == "" {
			id = "default"
		}

		ctx := r.Context()
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()

		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				frame, contentType, err := cam.Frame(ctx, id)
				if err != nil {
					continue
				}
				header, err := json.Marshal(map[string]any{
					"camera_id":    id,
					"content_type": contentType,
					"length":       len(frame),
				})
				if err != nil {
					continue
				}
				buf := make([]byte, 4+len(header)+len(frame))
				binary.BigEndian.PutUint32(buf[0:4], uint32(len(header)))
				copy(buf[4:4+len(header)], header)
				copy(buf[4+len(header):], frame)
				if err := conn.WriteMessage(websocket.BinaryMessage, buf); err != nil {
					return
				}
			}
		}
	}
}
