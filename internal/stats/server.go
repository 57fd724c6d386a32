package stats

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"github.com/dshills/gamehook/internal/logging"
)

const writeTimeout = 5 * time.Second

// Commander queues console commands on the server.
type Commander interface {
	Command(text string) error
}

// ServerConfig configures a Server.
type ServerConfig struct {
	// Listen is the TCP address, e.g. "127.0.0.1:27960".
	Listen string
	// PasswordHash is a bcrypt hash. Empty disables the remote console.
	PasswordHash string
	// Origins restricts websocket origins. Empty allows any.
	Origins []string
	// Plugins lists the plugins for clients that ask. Nil answers with an
	// empty list.
	Plugins func() []PluginStatus
	Log     *logging.Logger
}

// Server serves the feed at /ws and accepts console commands from
// authenticated clients on the same connection.
type Server struct {
	feed     *Feed
	cmd      Commander
	plugins  func() []PluginStatus
	hash     []byte
	log      *logging.Logger
	mux      *http.ServeMux
	httpSrv  *http.Server
	upgrader websocket.Upgrader
	listen   string

	mu    sync.Mutex
	ln    net.Listener
	conns map[*wsConn]struct{}
	wg    sync.WaitGroup
}

// NewServer creates a server. cmd may be nil, which disables the console.
func NewServer(cfg ServerConfig, feed *Feed, cmd Commander) *Server {
	s := &Server{
		feed:    feed,
		cmd:     cmd,
		plugins: cfg.Plugins,
		log:     logging.OrNull(cfg.Log).WithComponent("stats"),
		mux:     http.NewServeMux(),
		listen:  cfg.Listen,
		conns:   make(map[*wsConn]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if len(cfg.Origins) == 0 {
					return true
				}
				origin := r.Header.Get("Origin")
				for _, o := range cfg.Origins {
					if strings.EqualFold(o, origin) {
						return true
					}
				}
				return false
			},
		},
	}
	if cfg.PasswordHash != "" {
		s.hash = []byte(cfg.PasswordHash)
	}
	s.mux.HandleFunc("GET /ws", s.handleWebSocket)
	s.httpSrv = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handle registers an extra route, such as /metrics.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// Handler returns the route multiplexer.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return ErrAlreadyRunning
	}

	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return err
	}
	s.ln = ln
	s.log.Info("listening on %s", ln.Addr())

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("serve: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Close stops accepting connections and closes open websockets.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.ln == nil {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.mu.Unlock()

	err := s.httpSrv.Shutdown(ctx)

	// Hijacked connections are not tracked by Shutdown.
	s.mu.Lock()
	for wc := range s.conns {
		_ = wc.conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return err
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade: %v", err)
		return
	}

	wc := &wsConn{conn: conn}
	s.mu.Lock()
	s.conns[wc] = struct{}{}
	s.mu.Unlock()
	s.log.Debug("client %s connected", r.RemoteAddr)

	sub := s.feed.Subscribe()
	wc.sendJSON(Message{Type: TypeWelcome, Text: "gamehook feed"})

	s.wg.Add(2)
	go s.writeLoop(wc, sub)
	go s.readLoop(wc, sub, r.RemoteAddr)
}

// wsConn serializes writes to one websocket.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (wc *wsConn) sendJSON(msg Message) error {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	_ = wc.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return wc.conn.WriteJSON(msg)
}

func (s *Server) writeLoop(wc *wsConn, sub *Subscription) {
	defer s.wg.Done()
	for msg := range sub.C() {
		if err := wc.sendJSON(msg); err != nil {
			_ = wc.conn.Close()
			sub.Close()
			return
		}
	}
}

func (s *Server) readLoop(wc *wsConn, sub *Subscription, addr string) {
	defer s.wg.Done()
	defer func() {
		sub.Close()
		_ = wc.conn.Close()
		s.mu.Lock()
		delete(s.conns, wc)
		s.mu.Unlock()
		s.log.Debug("client %s disconnected", addr)
	}()

	for {
		_, data, err := wc.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("client %s read: %v", addr, err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = wc.sendJSON(Message{Type: TypeError, Text: "invalid JSON message"})
			continue
		}

		switch msg.Type {
		case TypeCommand:
			_ = wc.sendJSON(s.runCommand(msg, addr))
		case TypePlugins:
			_ = wc.sendJSON(s.pluginList())
		default:
			_ = wc.sendJSON(Message{Type: TypeError, Text: "unknown message type: " + msg.Type})
		}
	}
}

func (s *Server) runCommand(msg Message, addr string) Message {
	if err := s.authorize(msg.Password); err != nil {
		s.log.Warn("rejected command from %s: %v", addr, err)
		return Message{Type: TypeError, Text: err.Error()}
	}
	text := strings.TrimSpace(msg.Command)
	if text == "" {
		return Message{Type: TypeError, Text: "empty command"}
	}
	if err := s.cmd.Command(text); err != nil {
		return Message{Type: TypeError, Text: err.Error()}
	}
	s.log.Info("%s queued command %q", addr, text)
	return Message{Type: TypeResult, OK: true, Command: text}
}

func (s *Server) pluginList() Message {
	msg := Message{Type: TypePlugins, OK: true}
	if s.plugins != nil {
		msg.Plugins = s.plugins()
	}
	return msg
}

func (s *Server) authorize(password string) error {
	if s.hash == nil || s.cmd == nil {
		return ErrConsoleDisabled
	}
	if bcrypt.CompareHashAndPassword(s.hash, []byte(password)) != nil {
		return ErrBadPassword
	}
	return nil
}
