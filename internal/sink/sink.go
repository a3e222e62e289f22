// Package sink establishes the single destination of the relayed stream:
// standard output or one TCP client.
package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/jmylchreest/dvbrelay/internal/metrics"
)

// ErrEstablish is returned when the sink cannot be bound, listened or accepted.
var ErrEstablish = errors.New("establishing sink")

// Kind identifies the sink variant.
type Kind string

const (
	KindStdout Kind = "stdout"
	KindTCP    Kind = "tcp"
)

// Config selects and addresses the sink.
type Config struct {
	Kind       Kind
	ListenHost string
	Port       int
	// OnListening, when set, is called with the bound address before the
	// TCP sink blocks in accept.
	OnListening func(addr net.Addr)
}

// Sink is the write end of the relay.
type Sink interface {
	io.WriteCloser
	Kind() Kind
	Remote() string
}

// Establish creates the configured sink. For TCP it blocks until one client
// connects or ctx is cancelled.
func Establish(ctx context.Context, cfg Config, logger *slog.Logger) (Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Kind {
	case KindStdout:
		logger.InfoContext(ctx, "streaming to stdout")
		return Stdout(), nil
	case KindTCP:
		l, err := Listen(ctx, cfg.ListenHost, cfg.Port)
		if err != nil {
			return nil, err
		}
		if cfg.OnListening != nil {
			cfg.OnListening(l.Addr())
		}
		logger.InfoContext(ctx, "waiting for client", slog.String("addr", l.Addr().String()))
		s, err := l.Accept(ctx)
		if err != nil {
			return nil, err
		}
		logger.InfoContext(ctx, "client connected", slog.String("remote", s.Remote()))
		return s, nil
	default:
		return nil, fmt.Errorf("%w: unknown sink kind %q", ErrEstablish, cfg.Kind)
	}
}

// fileSink writes straight to an *os.File with no buffering.
type fileSink struct {
	f    *os.File
	once sync.Once
}

var ignoreBrokenPipe sync.Once

// Stdout returns a sink over the process's standard output. SIGPIPE is
// ignored from here on, so a reader that goes away surfaces as EPIPE from
// Write instead of the runtime killing the process.
func Stdout() Sink {
	ignoreBrokenPipe.Do(func() {
		signal.Ignore(syscall.SIGPIPE)
	})
	metrics.SetSinkConnected(string(KindStdout), true)
	return &fileSink{f: os.Stdout}
}

func (s *fileSink) Write(p []byte) (int, error) {
	return s.f.Write(p)
}

// Close marks the sink detached. Standard output itself is left open.
func (s *fileSink) Close() error {
	s.once.Do(func() {
		metrics.SetSinkConnected(string(KindStdout), false)
	})
	return nil
}

func (s *fileSink) Kind() Kind     { return KindStdout }
func (s *fileSink) Remote() string { return s.f.Name() }

// Listener accepts exactly one TCP client.
type Listener struct {
	ln net.Listener
}

// Listen binds host:port. Port 0 picks a free port.
func Listen(ctx context.Context, host string, port int) (*Listener, error) {
	var lc net.ListenConfig
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: listen on %s: %w", ErrEstablish, addr, err)
	}
	return &Listener{ln: ln}, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Accept waits for one client and then closes the listener, so later
// connection attempts are refused by the kernel. Cancelling ctx aborts the wait.
func (l *Listener) Accept(ctx context.Context) (Sink, error) {
	defer l.ln.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = l.ln.Close()
	})
	defer stop()

	conn, err := l.ln.Accept()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: accept: %w", ErrEstablish, err)
	}

	metrics.SetSinkConnected(string(KindTCP), true)
	return &connSink{conn: conn}, nil
}

// Close releases the listener without accepting.
func (l *Listener) Close() error {
	return l.ln.Close()
}

type connSink struct {
	conn net.Conn
	once sync.Once
	err  error
}

func (s *connSink) Write(p []byte) (int, error) {
	return s.conn.Write(p)
}

func (s *connSink) Close() error {
	s.once.Do(func() {
		s.err = s.conn.Close()
		metrics.SetSinkConnected(string(KindTCP), false)
	})
	return s.err
}

func (s *connSink) Kind() Kind     { return KindTCP }
func (s *connSink) Remote() string { return s.conn.RemoteAddr().String() }
