package respserver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mauri870/aofkv/internal/auth"
	"github.com/mauri870/aofkv/internal/metrics"
	"github.com/mauri870/aofkv/internal/store"
	"github.com/tidwall/redcon"
	"go.uber.org/zap"
)

// drainTimeout is how long shutdown waits for clients to disconnect before
// closing their connections.
const drainTimeout = 2 * time.Second

var (
	errNoAuth    = errors.New("NOAUTH Authentication required.")
	errWrongPass = errors.New("WRONGPASS invalid token")
)

type Server struct {
	store   *store.Store
	auth    *auth.Authenticator
	metrics *metrics.Metrics
	logger  *zap.Logger
	srv     *redcon.Server
	ready   chan struct{}
	drain   time.Duration
}

// session is the per connection state.
type session struct {
	authed bool
	prefix string
}

func New(st *store.Store, authn *auth.Authenticator, m *metrics.Metrics, logger *zap.Logger) *Server {
	return &Server{store: st, auth: authn, metrics: m, logger: logger, ready: make(chan struct{}), drain: drainTimeout}
}

// Ready is closed once the server is accepting connections.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the listening address. Only valid after Ready is closed.
func (s *Server) Addr() string {
	return s.srv.Addr().String()
}

func (s *Server) Run(ctx context.Context, addr string, idleTimeout time.Duration) error {
	var wg sync.WaitGroup
	var closed int32

	// There is some machinery here to manage context and cancelation.
	// Unfortunately this library is not context-aware.
	srv := redcon.NewServer(addr,
		// handler
		func(conn redcon.Conn, cmd redcon.Command) {
			if atomic.LoadInt32(&closed) != 0 {
				// server closed, close connection
				conn.Close()
				return
			}

			err := s.handler(conn, cmd)
			if err == nil {
				return
			}

			s.logger.Debug("Failed to execute command", zap.Error(err))
			switch {
			case errors.Is(err, errNoAuth), errors.Is(err, errWrongPass):
				conn.WriteError(err.Error())
			case store.IsClientError(err):
				conn.WriteError("ERR " + err.Error())
			default:
				s.logger.Error("unhandled error", zap.Error(err))
				conn.WriteError("ERR " + err.Error())
			}
		},
		// accept
		func(conn redcon.Conn) bool {
			if atomic.LoadInt32(&closed) != 0 {
				// Server closed, do not accept this connection
				return false
			}
			conn.SetContext(&session{authed: !s.auth.Enabled()})
			// Add connection to a wait group
			wg.Add(1)
			return true
		},
		// close
		func(conn redcon.Conn, err error) {
			// Remove connection from wait group
			wg.Done()
		},
	)
	s.srv = srv

	// Set a max amount of time a connection can stay idle.
	s.srv.SetIdleClose(idleTimeout)

	signal := make(chan error, 1)
	failed := make(chan struct{})
	go func() {
		if err := <-signal; err != nil {
			close(failed)
			return
		}
		close(s.ready)
	}()

	go func() {
		<-ctx.Done()
		select {
		case <-s.ready:
		case <-failed:
			return
		}

		s.logger.Warn("Waiting for open connections to close", zap.Duration("timeout", s.drain))
		atomic.StoreInt32(&closed, 1)
		drained := make(chan struct{})
		go func() {
			wg.Wait()
			close(drained)
		}()
		select {
		case <-drained:
		case <-time.After(s.drain):
			s.logger.Warn("Closing idle connections")
		}

		// Close also drops every connection still open.
		s.logger.Warn("Shutting down RESP server")
		s.srv.Close()
	}()
	if err := s.srv.ListenServeAndSignal(signal); err != nil {
		return err
	}

	wg.Wait()
	return nil
}

func (s *Server) handler(conn redcon.Conn, cmd redcon.Command) error {
	s.logger.Debug("Executing command", zap.ByteString("raw", cmd.Raw))

	args := cmd.Args
	cmdname := strings.ToUpper(string(args[0]))
	sess, _ := conn.Context().(*session)
	if sess == nil {
		sess = &session{}
	}

	switch cmdname {
	case "PING":
		if len(args) > 1 {
			conn.WriteBulk(args[1])
			return nil
		}
		conn.WriteString("PONG")
		return nil
	case "QUIT":
		conn.WriteString("OK")
		conn.Close()
		return nil
	case "AUTH":
		if len(args) < 2 {
			return fmt.Errorf("wrong number of arguments for 'auth' command")
		}
		// the last argument is the token, redis 6 clients may send a
		// username first.
		prefix, err := s.auth.Prefix(string(args[len(args)-1]))
		if err != nil {
			return errWrongPass
		}
		sess.authed, sess.prefix = true, prefix
		conn.WriteString("OK")
		return nil
	}

	if !sess.authed {
		return errNoAuth
	}
	s.metrics.Request("resp", strings.ToLower(cmdname))

	switch cmdname {
	case "SET":
		if len(args) != 3 {
			return fmt.Errorf("wrong number of arguments for 'set' command")
		}
		err := s.store.Set(sess.prefix+string(args[1]), string(args[2]))
		if store.IsClientError(err) {
			return err
		}
		if err != nil {
			return fmt.Errorf("failed to set key: %w", err)
		}
		conn.WriteString("OK")
	case "GET":
		if len(args) != 2 {
			return fmt.Errorf("wrong number of arguments for 'get' command")
		}
		val, err := s.store.Get(sess.prefix + string(args[1]))
		if errors.Is(err, store.ErrKeyNotFound) {
			conn.WriteNull()
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to get key: %w", err)
		}
		conn.WriteBulkString(val)
	case "DEL":
		if len(args) < 2 {
			return fmt.Errorf("wrong number of arguments for 'del' command")
		}
		var removed int
		for _, k := range args[1:] {
			existed, err := s.store.Remove(sess.prefix + string(k))
			if store.IsClientError(err) {
				return err
			}
			if err != nil {
				return fmt.Errorf("failed to delete key: %w", err)
			}
			if existed {
				removed++
			}
		}
		conn.WriteInt(removed)
	case "CONFIG":
		if len(args) < 3 {
			return fmt.Errorf("wrong number of arguments for 'config' command")
		}

		if !strings.EqualFold(string(args[1]), "GET") {
			return fmt.Errorf("unknown subcommand '%s' for 'config'", args[1])
		}

		// only the basics for the redis-cli to work
		switch string(args[2]) {
		case "save":
			conn.WriteArray(2)
			conn.WriteBulkString("save")
			conn.WriteBulkString("")
		case "appendonly":
			conn.WriteArray(2)
			conn.WriteBulkString("appendonly")
			conn.WriteBulkString("yes")
		default:
			return fmt.Errorf("unknown subcommand '%s' for 'config'", args[2])
		}

	default:
		return fmt.Errorf("unknown command '%s'", args[0])
	}

	return nil
}
