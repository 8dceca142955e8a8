package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/guseggert/stdipc/host"
	"github.com/guseggert/stdipc/ipc"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"nhooyr.io/websocket"
)

// Server serves the worker protocol over WebSocket, running one ipc.Worker per connection.
// Liveness checks are disabled for these workers; a connection's worker stops when the connection closes or the server stops.
type Server struct {
	logger *zap.Logger
	log    *zap.SugaredLogger

	registry   *ipc.Registry
	middleware []ipc.Middleware
	interval   time.Duration

	heartbeatFailureHandler func()
	heartbeatTimeout        time.Duration
	listenAddr              string

	httpServer *http.Server
	ctx        context.Context
	cancel     context.CancelFunc

	// connMut orders conns.Add against the conns.Wait in Stop
	connMut  sync.Mutex
	stopping bool
	conns    sync.WaitGroup

	heartbeatMut  sync.Mutex
	lastHeartbeat time.Time
}

type Option func(s *Server)

// WithHeartbeatTimeout makes the server call the heartbeat failure handler when no client has sent a heartbeat for d.
func WithHeartbeatTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.heartbeatTimeout = d
	}
}

func WithHeartbeatFailureHandler(f func()) Option {
	return func(s *Server) {
		s.heartbeatFailureHandler = f
	}
}

func WithListenAddr(addr string) Option {
	return func(s *Server) {
		s.listenAddr = addr
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

func WithLogLevel(l zapcore.Level) Option {
	return func(s *Server) {
		s.logger = s.logger.WithOptions(zap.IncreaseLevel(l))
	}
}

// WithInterval sets the tick interval of the per-connection workers.
func WithInterval(d time.Duration) Option {
	return func(s *Server) {
		s.interval = d
	}
}

func WithMiddleware(mws ...ipc.Middleware) Option {
	return func(s *Server) {
		s.middleware = append(s.middleware, mws...)
	}
}

func NewServer(registry *ipc.Registry, opts ...Option) *Server {
	s := &Server{
		logger:           zap.NewNop(),
		registry:         registry,
		interval:         ipc.DefaultInterval,
		heartbeatTimeout: 1 * time.Minute,
		listenAddr:       "127.0.0.1:8080",
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.logger.Named("bridge").Sugar()
	s.ctx, s.cancel = context.WithCancel(context.Background())

	router := httprouter.New()
	router.GET("/heartbeat", s.heartbeat)
	router.GET("/ipc", s.serveIPC)
	s.httpServer = &http.Server{Handler: router}
	return s
}

// heartbeatCheckInterval is how often the heartbeat timeout is checked, at most once a second.
func (s *Server) heartbeatCheckInterval() time.Duration {
	d := s.heartbeatTimeout / 4
	if d > time.Second {
		d = time.Second
	}
	if d <= 0 {
		d = time.Millisecond
	}
	return d
}

func (s *Server) startHeartbeatCheck() {
	s.heartbeatMut.Lock()
	s.lastHeartbeat = time.Now()
	s.heartbeatMut.Unlock()

	go func() {
		ticker := time.NewTicker(s.heartbeatCheckInterval())
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
			}

			s.heartbeatMut.Lock()
			lastHeartbeat := s.lastHeartbeat
			s.heartbeatMut.Unlock()

			if lastHeartbeat.Add(s.heartbeatTimeout).Before(time.Now()) {
				s.log.Debugw("heartbeat timed out", "LastHeartbeat", lastHeartbeat)
				if s.heartbeatFailureHandler != nil {
					s.heartbeatFailureHandler()
				}
			}
		}
	}()
}

// Run serves until Stop is called.
func (s *Server) Run() error {
	listener, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("listening TCP: %w", err)
	}
	s.log.Infof("serving on %s", listener.Addr())

	if s.heartbeatFailureHandler != nil {
		s.startHeartbeatCheck()
	}

	err = s.httpServer.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop closes the listener and every open connection, and waits for their workers to return.
func (s *Server) Stop() error {
	// hijacked WebSocket connections aren't closed by the HTTP server
	s.connMut.Lock()
	s.stopping = true
	s.connMut.Unlock()

	s.cancel()
	err := s.httpServer.Close()
	s.conns.Wait()
	return err
}

// trackConn registers a new connection, unless the server is stopping.
func (s *Server) trackConn() bool {
	s.connMut.Lock()
	defer s.connMut.Unlock()
	if s.stopping {
		return false
	}
	s.conns.Add(1)
	return true
}

func (s *Server) heartbeat(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	s.heartbeatMut.Lock()
	lastHeartbeat := s.lastHeartbeat
	s.lastHeartbeat = time.Now()
	s.heartbeatMut.Unlock()

	resp := HeartbeatResponse{}
	if !lastHeartbeat.IsZero() {
		resp.LastHeartbeat = lastHeartbeat.UTC().Format(time.RFC3339)
	}
	b, err := json.Marshal(resp)
	if err != nil {
		s.log.Debugf("error marshaling heartbeat response: %s", err)
	}
	w.Header().Add("Content-Type", "application/json")
	w.Write(b)
}

type HeartbeatResponse struct {
	LastHeartbeat string
}

func (s *Server) serveIPC(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	if !s.trackConn() {
		http.Error(w, "server stopping", http.StatusServiceUnavailable)
		return
	}
	defer s.conns.Done()

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		s.log.Debugf("ipc WebSocket accept error: %s", err)
		return
	}
	wsConn.SetReadLimit(host.MaxLineSize)

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	conn := websocket.NetConn(ctx, wsConn, websocket.MessageBinary)
	defer conn.Close()

	log := s.logger.Named("conn").With(zap.String("Remote", r.RemoteAddr))
	log.Debug("worker connected")

	worker := ipc.NewWorker(s.registry,
		ipc.WithLogger(log),
		ipc.WithInterval(s.interval),
		ipc.WithMiddleware(s.middleware...),
		ipc.WithInput(func() (ipc.Input, error) { return ipc.ReaderInput(conn), nil }),
		ipc.WithOutput(conn),
	)
	err = worker.Run(ctx)
	if err != nil && !errors.Is(err, ipc.ErrTransport) {
		log.Sugar().Infof("worker stopped: %s", err)
		return
	}
	log.Debug("worker disconnected", zap.Error(err))
}
