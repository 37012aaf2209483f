// Package client is the Go SDK for the accountant's UDP protocol.
//
//	c, err := client.New("localhost:8000", client.WithTimeout(2*time.Second))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Close()
//
//	head, err := c.LastID(ctx)
//	newHead, err := c.Transfer(ctx, kp, to, 50, head)
//	if errors.Is(err, client.ErrStaleReference) {
//	    // someone else moved the head first; fetch it again and resubmit
//	}
//
// Requests are sent one at a time per Client. Queries are retried on
// timeout; transfers are not, because a lost response is indistinguishable
// from a lost request. TransferLatest resubmits against a fresh head instead.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/jmerrifield20/accountant/internal/wire"
	"github.com/jmerrifield20/accountant/pkg/event"
	"github.com/jmerrifield20/accountant/pkg/keys"
)

var (
	// ErrBadSignature means the server rejected the transfer's signature.
	ErrBadSignature = errors.New("bad signature")
	// ErrStaleReference means the transfer's reference was not the chain head.
	ErrStaleReference = errors.New("stale or conflicting reference")
	// ErrInsufficientFunds means the sender's balance was too low.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrServer means the server failed to process the transfer.
	ErrServer = errors.New("server error")
	// ErrTimeout means no matching response arrived in time.
	ErrTimeout = errors.New("request timed out")
)

// Entry is one link of the server's hash chain.
type Entry struct {
	ID    event.Digest
	Event event.Transfer
}

// Client talks to one accountant server.
type Client struct {
	mu      sync.Mutex
	conn    net.Conn
	timeout time.Duration
	retries int
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithTimeout sets how long to wait for each response. Default 2s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive, got %s", d)
		}
		c.timeout = d
		return nil
	}
}

// WithRetries sets how many times a query is resent after a timeout.
// Default 2.
func WithRetries(n int) Option {
	return func(c *Client) error {
		if n < 0 {
			return fmt.Errorf("retries must be non-negative, got %d", n)
		}
		c.retries = n
		return nil
	}
}

// New creates a Client for the server at addr (host:port).
func New(addr string, opts ...Option) (*Client, error) {
	c := &Client{timeout: 2 * time.Second, retries: 2}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	c.conn = conn
	return c, nil
}

// Close releases the client's socket.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Balance returns the balance of id.
func (c *Client) Balance(ctx context.Context, id event.Identity) (uint64, error) {
	resp, err := c.roundTrip(ctx, &wire.BalanceRequest{Key: id}, c.retries, func(r wire.Response) bool {
		b, ok := r.(*wire.BalanceResponse)
		return ok && b.Key == id
	})
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return resp.(*wire.BalanceResponse).Val, nil
}

// FirstID returns the server's genesis digest.
func (c *Client) FirstID(ctx context.Context) (event.Digest, error) {
	return c.id(ctx, false)
}

// LastID returns the server's current chain head. The server finalizes
// in-flight transfers before answering.
func (c *Client) LastID(ctx context.Context) (event.Digest, error) {
	return c.id(ctx, true)
}

func (c *Client) id(ctx context.Context, isLast bool) (event.Digest, error) {
	resp, err := c.roundTrip(ctx, &wire.IDRequest{IsLast: isLast}, c.retries, func(r wire.Response) bool {
		id, ok := r.(*wire.IDResponse)
		return ok && id.IsLast == isLast
	})
	if err != nil {
		return event.Digest{}, fmt.Errorf("get id: %w", err)
	}
	return resp.(*wire.IDResponse).ID, nil
}

// Entries returns the entries appended after since. The server caps a single
// response; call again with the last returned ID to continue.
func (c *Client) Entries(ctx context.Context, since event.Digest) ([]Entry, error) {
	resp, err := c.roundTrip(ctx, &wire.EntriesRequest{LastID: since}, c.retries, func(r wire.Response) bool {
		e, ok := r.(*wire.EntriesResponse)
		return ok && e.Since == since
	})
	if err != nil {
		return nil, fmt.Errorf("get entries: %w", err)
	}
	src := resp.(*wire.EntriesResponse).Entries
	out := make([]Entry, len(src))
	for i, e := range src {
		out[i] = Entry{ID: e.ID, Event: e.Event}
	}
	return out, nil
}

// Transfer signs and submits a transfer of amount from kp to to, referencing
// lastID. On success it returns the ID of the appended entry; on a stale
// reference it returns the server's head.
func (c *Client) Transfer(ctx context.Context, kp *keys.Keypair, to event.Identity, amount uint64, lastID event.Digest) (event.Digest, error) {
	tr := event.Transfer{To: to, Amount: amount, Reference: lastID}
	kp.Sign(&tr)

	resp, err := c.roundTrip(ctx, &wire.TransferRequest{Transfer: tr}, 0, func(r wire.Response) bool {
		t, ok := r.(*wire.TransferResponse)
		return ok && t.Sig == tr.Sig
	})
	if err != nil {
		return event.Digest{}, fmt.Errorf("transfer: %w", err)
	}
	tresp := resp.(*wire.TransferResponse)
	if err := statusErr(tresp.Status); err != nil {
		return tresp.ID, fmt.Errorf("transfer: %w", err)
	}
	return tresp.ID, nil
}

// TransferLatest fetches the current head and submits the transfer against
// it, resubmitting up to attempts times while the reference goes stale.
func (c *Client) TransferLatest(ctx context.Context, kp *keys.Keypair, to event.Identity, amount uint64, attempts int) (event.Digest, error) {
	head, err := c.LastID(ctx)
	if err != nil {
		return event.Digest{}, err
	}
	for i := 0; ; i++ {
		newHead, err := c.Transfer(ctx, kp, to, amount, head)
		if !errors.Is(err, ErrStaleReference) || i+1 >= attempts {
			return newHead, err
		}
		head = newHead
	}
}

func statusErr(s wire.Status) error {
	switch s {
	case wire.StatusApplied:
		return nil
	case wire.StatusBadSignature:
		return ErrBadSignature
	case wire.StatusStaleReference:
		return ErrStaleReference
	case wire.StatusInsufficientFunds:
		return ErrInsufficientFunds
	default:
		return fmt.Errorf("%w: %s", ErrServer, s)
	}
}

// roundTrip sends req and waits for a response accepted by match, resending
// up to retries times on timeout. Responses that do not match (late replies
// to an earlier request) are discarded.
func (c *Client) roundTrip(ctx context.Context, req wire.Request, retries int, match func(wire.Response) bool) (wire.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	payload := wire.EncodeRequest(req)
	buf := make([]byte, wire.MaxDatagramSize)

	for attempt := 0; attempt <= retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := c.conn.Write(payload); err != nil {
			return nil, fmt.Errorf("send request: %w", err)
		}

		deadline := time.Now().Add(c.timeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		if err := c.conn.SetReadDeadline(deadline); err != nil {
			return nil, fmt.Errorf("set deadline: %w", err)
		}

		for {
			n, err := c.conn.Read(buf)
			if err != nil {
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					break
				}
				return nil, fmt.Errorf("read response: %w", err)
			}
			resp, err := wire.DecodeResponse(buf[:n])
			if err != nil {
				continue
			}
			if match(resp) {
				return resp, nil
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, ErrTimeout
}
