// Package dash is the optional websocket dashboard: broadcasts engine
// snapshots (state, RPM, timing mode and advance, fuel pulse width,
// trim progress) to connected browser clients, adapted from
// internal/server/server.go's
// gorilla/websocket broadcast loop — minus odometer/GPS/config-API
// surfaces that have no analogue in an engine core.
package dash

import (
	"context"
	"encoding/json"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fourstroke/ecucore/internal/ecu/engine"
	"github.com/fourstroke/ecucore/internal/telemetry"
)

// Snapshotter is polled once per broadcast tick for the latest engine
// frame. *ecu.Core satisfies it directly through its Snapshot method.
type Snapshotter interface {
	Snapshot() telemetry.Frame
}

// Server serves the embedded dashboard UI and pushes JSON frames over
// a websocket to every connected client.
type Server struct {
	listenAddr string
	snap       Snapshotter
	webFS      fs.FS
	pollHz     int

	clientsMu sync.RWMutex
	clients   map[*client]struct{}

	upgrader websocket.Upgrader
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Frame is the JSON structure sent to every websocket client.
type Frame struct {
	State         string                   `json:"state"`
	RPM           int                      `json:"rpm"`
	TimingMode    string                   `json:"timingMode"`
	TimingAdvance int                      `json:"timingAdvanceDeg"`
	FuelMsec      int                      `json:"fuelMsec"`
	TrimState     int                      `json:"trimState"`
	Stamp         int64                    `json:"stamp"`
}

// New builds a dashboard server. pollHz controls how often Snapshot is
// polled and broadcast (defaults to 20Hz if <= 0).
func New(listenAddr string, snap Snapshotter, webFS fs.FS, pollHz int) *Server {
	if pollHz <= 0 {
		pollHz = 20
	}
	return &Server{
		listenAddr: listenAddr,
		snap:       snap,
		webFS:      webFS,
		pollHz:     pollHz,
		clients:    make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Run starts the HTTP server and the broadcast loop. Blocks until ctx
// is cancelled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	if s.webFS != nil {
		mux.Handle("/", http.FileServer(http.FS(s.webFS)))
	}
	mux.HandleFunc("/ws", s.handleWS)

	srv := &http.Server{Addr: s.listenAddr, Handler: mux}

	go s.broadcastLoop(ctx)

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	return srv.ListenAndServe()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 16)}
	s.clientsMu.Lock()
	s.clients[c] = struct{}{}
	s.clientsMu.Unlock()

	go func() {
		defer conn.Close()
		for msg := range c.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, c)
			s.clientsMu.Unlock()
			close(c.send)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (s *Server) broadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second / time.Duration(s.pollHz))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f := s.snap.Snapshot()
			frame := toWireFrame(f)
			data, err := json.Marshal(frame)
			if err != nil {
				continue
			}
			s.broadcast(data)
		}
	}
}

func toWireFrame(f telemetry.Frame) Frame {
	mode := "fixed"
	if f.TimingMode == engine.Advanced {
		mode = "advanced"
	}
	return Frame{
		State:         f.State.String(),
		RPM:           f.RPM,
		TimingMode:    mode,
		TimingAdvance: f.TimingAdvance,
		FuelMsec:      f.FuelMsec,
		TrimState:     f.TrimState,
		Stamp:         time.Now().UnixMilli(),
	}
}

func (s *Server) broadcast(data []byte) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for c := range s.clients {
		select {
		case c.send <- data:
		default:
		}
	}
}
