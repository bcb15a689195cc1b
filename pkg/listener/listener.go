// Package listener owns the TCP surface: it accepts connections, frames
// newline-delimited JSON lines, feeds each line into the engine and
// writes one JSON reply line back per envelope.
package listener

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"esmpd/pkg/engine"
	"esmpd/pkg/logger"
	"esmpd/pkg/protocol"
	"esmpd/pkg/telemetry"
)

const defaultMaxLine = 1 << 20 // 1 MiB

// Listener serves the ESMP wire protocol on one TCP address.
type Listener struct {
	eng     *engine.Engine
	addr    string
	maxLine int

	limMu    sync.Mutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int

	lnMu sync.Mutex
	ln   net.Listener
	wg   sync.WaitGroup
}

// New builds a listener. maxLine <= 0 selects the default 1 MiB frame
// limit; rps <= 0 disables rate limiting.
func New(addr string, eng *engine.Engine, maxLine int, rps float64, burst int) *Listener {
	if maxLine <= 0 {
		maxLine = defaultMaxLine
	}
	if burst <= 0 {
		burst = 10
	}
	return &Listener{
		eng:      eng,
		addr:     addr,
		maxLine:  maxLine,
		limiters: map[string]*rate.Limiter{},
		rps:      rps,
		burst:    burst,
	}
}

// Serve listens and accepts until ctx is canceled. Each connection is
// handled on its own goroutine; Serve returns after the accept loop stops
// and drains open connections.
func (l *Listener) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return err
	}
	l.lnMu.Lock()
	l.ln = ln
	l.lnMu.Unlock()
	logger.Info("esmp_listener_started", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				l.wg.Wait()
				return nil
			default:
			}
			logger.Error("accept_failed", "error", err)
			l.wg.Wait()
			return err
		}
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.handleConn(ctx, conn)
		}()
	}
}

// Addr returns the bound address once Serve has started, the configured
// address before that.
func (l *Listener) Addr() string {
	l.lnMu.Lock()
	defer l.lnMu.Unlock()
	if l.ln == nil {
		return l.addr
	}
	return l.ln.Addr().String()
}

type reply struct {
	Status string `json:"status"`
	Thread string `json:"thread,omitempty"`
	Seq    uint64 `json:"seq,omitempty"`
	Error  string `json:"error,omitempty"`
	Detail string `json:"detail,omitempty"`
}

func (l *Listener) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	telemetry.Connections.Inc()
	defer telemetry.Connections.Dec()
	remote := conn.RemoteAddr().String()
	connID := uuid.NewString()
	logger.Info("connection_accepted", "remote", remote, "conn", connID)

	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		host = remote
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), l.maxLine)
	out := json.NewEncoder(conn)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if l.rps > 0 && !l.limiter(host).Allow() {
			_ = out.Encode(reply{Status: "error", Error: "rate_limited"})
			continue
		}
		acc, err := l.eng.Handle(line)
		if err != nil {
			if kind, ok := protocol.KindOf(err); ok {
				_ = out.Encode(reply{Status: "error", Error: string(kind), Detail: err.Error()})
			} else {
				_ = out.Encode(reply{Status: "error", Error: "internal"})
			}
			continue
		}
		_ = out.Encode(reply{Status: "ok", Thread: acc.Thread, Seq: acc.Seq})
	}
	if err := scanner.Err(); err != nil {
		// Oversized lines land here via bufio.ErrTooLong.
		logger.Warn("connection_read_failed", "remote", remote, "conn", connID, "error", err)
		_ = out.Encode(reply{Status: "error", Error: string(protocol.KindMalformedInput), Detail: err.Error()})
	}
	logger.Info("connection_closed", "remote", remote, "conn", connID)
}

func (l *Listener) limiter(host string) *rate.Limiter {
	l.limMu.Lock()
	defer l.limMu.Unlock()
	lim, ok := l.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(l.rps), l.burst)
		l.limiters[host] = lim
	}
	return lim
}
