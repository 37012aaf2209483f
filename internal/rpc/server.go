// Package rpc serves the accountant over UDP datagrams. It is the only layer
// that sees untrusted bytes: every datagram is decoded and validated here, and
// anything undecodable is dropped and logged without reaching the accountant.
package rpc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/accountant/internal/accountant"
	"github.com/jmerrifield20/accountant/internal/ledger"
	"github.com/jmerrifield20/accountant/internal/metrics"
	"github.com/jmerrifield20/accountant/internal/ratelimit"
	"github.com/jmerrifield20/accountant/internal/wire"
	"github.com/jmerrifield20/accountant/pkg/event"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Engine is the subset of *accountant.Accountant the server calls.
type Engine interface {
	Apply(ev event.Transfer) (ledger.Entry, error)
	BalanceOf(id event.Identity) uint64
	GenesisID() event.Digest
	CurrentID() event.Digest
	Finalize()
	EntriesSince(d event.Digest) iter.Seq[ledger.Entry]
}

// DefaultWorkers bounds the datagrams handled concurrently.
const DefaultWorkers = 64

// Server maps wire requests onto an Engine.
type Server struct {
	acc     Engine
	limiter *ratelimit.Limiter
	workers int
	logger  *zap.Logger
}

// New creates a Server for acc.
func New(acc Engine, logger *zap.Logger) *Server {
	return &Server{acc: acc, workers: DefaultWorkers, logger: logger}
}

// SetRateLimiter enables per-source-IP rate limiting of datagrams.
func (s *Server) SetRateLimiter(l *ratelimit.Limiter) { s.limiter = l }

// SetWorkers sets the number of datagrams handled concurrently.
func (s *Server) SetWorkers(n int) {
	if n > 0 {
		s.workers = n
	}
}

// ProcessRequest executes a decoded request and returns its response.
func (s *Server) ProcessRequest(req wire.Request) wire.Response {
	switch r := req.(type) {
	case *wire.TransferRequest:
		entry, err := s.acc.Apply(r.Transfer)
		resp := &wire.TransferResponse{Status: s.statusOf(err), ID: entry.ID, Sig: r.Transfer.Sig}
		if err != nil {
			resp.ID = s.acc.CurrentID()
		}
		return resp

	case *wire.BalanceRequest:
		return &wire.BalanceResponse{Key: r.Key, Val: s.acc.BalanceOf(r.Key)}

	case *wire.EntriesRequest:
		resp := &wire.EntriesResponse{Since: r.LastID}
		for e := range s.acc.EntriesSince(r.LastID) {
			resp.Entries = append(resp.Entries, e)
			if len(resp.Entries) == wire.MaxEntriesPerResponse {
				break
			}
		}
		return resp

	case *wire.IDRequest:
		if !r.IsLast {
			return &wire.IDResponse{ID: s.acc.GenesisID()}
		}
		s.acc.Finalize()
		return &wire.IDResponse{ID: s.acc.CurrentID(), IsLast: true}

	default:
		return nil
	}
}

func (s *Server) statusOf(err error) wire.Status {
	if err == nil {
		return wire.StatusApplied
	}
	reason, ok := accountant.ReasonOf(err)
	if !ok {
		s.logger.Error("transfer failed", zap.Error(err))
		return wire.StatusFailed
	}
	switch reason {
	case accountant.BadSignature:
		return wire.StatusBadSignature
	case accountant.StaleOrConflictingReference:
		return wire.StatusStaleReference
	case accountant.InsufficientFunds:
		return wire.StatusInsufficientFunds
	default:
		return wire.StatusFailed
	}
}

// Serve reads datagrams from conn until ctx is cancelled, answering each on
// the same conn. It returns nil after cancellation once in-flight datagrams
// are answered, or the first read error otherwise.
func (s *Server) Serve(ctx context.Context, conn net.PacketConn) error {
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	var g errgroup.Group
	g.SetLimit(s.workers)
	defer g.Wait() //nolint:errcheck

	s.logger.Info("rpc server listening", zap.Stringer("addr", conn.LocalAddr()))

	buf := make([]byte, wire.MaxDatagramSize)
	for {
		n, src, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("read datagram: %w", err)
		}
		data := bytes.Clone(buf[:n])
		g.Go(func() error {
			s.handle(conn, src, data)
			return nil
		})
	}
}

func (s *Server) handle(conn net.PacketConn, src net.Addr, data []byte) {
	log := s.logger.With(
		zap.String("request_id", uuid.NewString()),
		zap.Stringer("src", src),
	)

	if !s.limiter.Allow(sourceKey(src)) {
		metrics.RecordDatagram("rate_limited")
		log.Debug("datagram rate limited")
		return
	}

	req, err := wire.DecodeRequest(data)
	if err != nil {
		metrics.RecordDatagram("malformed")
		log.Warn("dropping undecodable datagram", zap.Int("bytes", len(data)), zap.Error(err))
		return
	}

	resp := s.ProcessRequest(req)
	metrics.RecordDatagram("handled")
	if resp == nil {
		return
	}
	if _, err := conn.WriteTo(wire.EncodeResponse(resp), src); err != nil {
		metrics.RecordDatagram("send_error")
		log.Warn("send response", zap.Error(err))
		return
	}
	log.Debug("request handled", zap.String("kind", fmt.Sprintf("%T", req)))
}

// sourceKey identifies a datagram's sender for rate limiting.
func sourceKey(src net.Addr) string {
	if u, ok := src.(*net.UDPAddr); ok {
		return u.IP.String()
	}
	return src.String()
}
