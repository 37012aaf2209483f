// Package wire encodes the accountant's datagram protocol.
//
// Messages use the protobuf wire format, written and read directly with
// protowire. A request or response is an envelope holding exactly one
// variant as a length-delimited submessage:
//
//	Request  { 1: Transfer  2: GetBalance  3: GetEntries  4: GetID }
//	Response { 1: Balance   2: Entries     3: ID          4: TransferResult }
//
// Entries and TransferResult echo what identifies their request (the since
// digest, the transfer signature) so a client can discard late replies.
//
// Unknown field numbers inside a variant are skipped. Fixed-size values
// (identities, digests, signatures) must have their exact length; anything
// else is ErrMalformed. Decoding never panics on untrusted input.
package wire

import (
	"errors"
	"fmt"

	"github.com/jmerrifield20/accountant/internal/ledger"
	"github.com/jmerrifield20/accountant/pkg/event"
	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformed is returned for any datagram that cannot be decoded.
var ErrMalformed = errors.New("malformed message")

const (
	// MaxDatagramSize bounds a single request or response.
	MaxDatagramSize = 64 * 1024
	// MaxEntriesPerResponse bounds the entries carried by one Entries response
	// so that it fits in MaxDatagramSize.
	MaxEntriesPerResponse = 64
)

// Status is the outcome of a transfer request.
type Status uint64

const (
	StatusApplied Status = iota + 1
	StatusBadSignature
	StatusStaleReference
	StatusInsufficientFunds
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusApplied:
		return "applied"
	case StatusBadSignature:
		return "bad_signature"
	case StatusStaleReference:
		return "stale_reference"
	case StatusInsufficientFunds:
		return "insufficient_funds"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", uint64(s))
	}
}

// Request is one of *TransferRequest, *BalanceRequest, *EntriesRequest or
// *IDRequest.
type Request interface {
	appendRequest(b []byte) []byte
}

// Response is one of *BalanceResponse, *EntriesResponse, *IDResponse or
// *TransferResponse.
type Response interface {
	appendResponse(b []byte) []byte
}

// TransferRequest submits a signed transfer.
type TransferRequest struct {
	Transfer event.Transfer
}

// BalanceRequest asks for the balance of Key.
type BalanceRequest struct {
	Key event.Identity
}

// EntriesRequest asks for the entries appended after LastID.
type EntriesRequest struct {
	LastID event.Digest
}

// IDRequest asks for the chain head (IsLast) or the genesis digest.
type IDRequest struct {
	IsLast bool
}

// BalanceResponse answers a BalanceRequest.
type BalanceResponse struct {
	Key event.Identity
	Val uint64
}

// EntriesResponse answers an EntriesRequest. Since echoes the request's
// LastID.
type EntriesResponse struct {
	Since   event.Digest
	Entries []ledger.Entry
}

// IDResponse answers an IDRequest.
type IDResponse struct {
	ID     event.Digest
	IsLast bool
}

// TransferResponse reports the outcome of a TransferRequest. ID is the
// appended entry's ID when the transfer was applied, otherwise a head at or
// after the rejection. Sig echoes the transfer's signature.
type TransferResponse struct {
	Status Status
	ID     event.Digest
	Sig    event.Signature
}

// Envelope field numbers.
const (
	reqTransfer   protowire.Number = 1
	reqGetBalance protowire.Number = 2
	reqGetEntries protowire.Number = 3
	reqGetID      protowire.Number = 4

	respBalance  protowire.Number = 1
	respEntries  protowire.Number = 2
	respID       protowire.Number = 3
	respTransfer protowire.Number = 4
)

// EncodeRequest returns the wire form of r.
func EncodeRequest(r Request) []byte { return r.appendRequest(nil) }

// EncodeResponse returns the wire form of r.
func EncodeResponse(r Response) []byte { return r.appendResponse(nil) }

func (r *TransferRequest) appendRequest(b []byte) []byte {
	return appendMessage(b, reqTransfer, appendTransfer(nil, &r.Transfer))
}

func (r *BalanceRequest) appendRequest(b []byte) []byte {
	return appendMessage(b, reqGetBalance, appendBytesField(nil, 1, r.Key[:]))
}

func (r *EntriesRequest) appendRequest(b []byte) []byte {
	return appendMessage(b, reqGetEntries, appendBytesField(nil, 1, r.LastID[:]))
}

func (r *IDRequest) appendRequest(b []byte) []byte {
	return appendMessage(b, reqGetID, appendBoolField(nil, 1, r.IsLast))
}

func (r *BalanceResponse) appendResponse(b []byte) []byte {
	m := appendBytesField(nil, 1, r.Key[:])
	m = appendVarintField(m, 2, r.Val)
	return appendMessage(b, respBalance, m)
}

func (r *EntriesResponse) appendResponse(b []byte) []byte {
	var m []byte
	for i := range r.Entries {
		e := &r.Entries[i]
		em := appendBytesField(nil, 1, e.ID[:])
		em = appendMessage(em, 2, appendTransfer(nil, &e.Event))
		m = appendMessage(m, 1, em)
	}
	m = appendBytesField(m, 2, r.Since[:])
	return appendMessage(b, respEntries, m)
}

func (r *IDResponse) appendResponse(b []byte) []byte {
	m := appendBytesField(nil, 1, r.ID[:])
	m = appendBoolField(m, 2, r.IsLast)
	return appendMessage(b, respID, m)
}

func (r *TransferResponse) appendResponse(b []byte) []byte {
	m := appendVarintField(nil, 1, uint64(r.Status))
	m = appendBytesField(m, 2, r.ID[:])
	m = appendBytesField(m, 3, r.Sig[:])
	return appendMessage(b, respTransfer, m)
}

// DecodeRequest parses a request datagram.
func DecodeRequest(b []byte) (Request, error) {
	num, body, err := decodeEnvelope(b)
	if err != nil {
		return nil, err
	}
	fs, err := parseFields(body)
	if err != nil {
		return nil, err
	}
	switch num {
	case reqTransfer:
		t, err := decodeTransfer(fs)
		if err != nil {
			return nil, err
		}
		return &TransferRequest{Transfer: *t}, nil
	case reqGetBalance:
		r := &BalanceRequest{}
		if err := requireFixed(fs, 1, r.Key[:], "get_balance.key"); err != nil {
			return nil, err
		}
		return r, nil
	case reqGetEntries:
		r := &EntriesRequest{}
		if err := requireFixed(fs, 1, r.LastID[:], "get_entries.last_id"); err != nil {
			return nil, err
		}
		return r, nil
	case reqGetID:
		v, _, err := varintField(fs, 1, "get_id.is_last")
		if err != nil {
			return nil, err
		}
		return &IDRequest{IsLast: v != 0}, nil
	default:
		return nil, fmt.Errorf("%w: unknown request variant %d", ErrMalformed, num)
	}
}

// DecodeResponse parses a response datagram.
func DecodeResponse(b []byte) (Response, error) {
	num, body, err := decodeEnvelope(b)
	if err != nil {
		return nil, err
	}
	fs, err := parseFields(body)
	if err != nil {
		return nil, err
	}
	switch num {
	case respBalance:
		r := &BalanceResponse{}
		if err := requireFixed(fs, 1, r.Key[:], "balance.key"); err != nil {
			return nil, err
		}
		if r.Val, _, err = varintField(fs, 2, "balance.val"); err != nil {
			return nil, err
		}
		return r, nil
	case respEntries:
		r := &EntriesResponse{}
		if err := requireFixed(fs, 2, r.Since[:], "entries.since"); err != nil {
			return nil, err
		}
		for _, f := range fs {
			if f.num != 1 {
				continue
			}
			if f.typ != protowire.BytesType {
				return nil, fmt.Errorf("%w: entries.entry has wrong wire type", ErrMalformed)
			}
			e, err := decodeEntry(f.bytes)
			if err != nil {
				return nil, err
			}
			r.Entries = append(r.Entries, *e)
		}
		return r, nil
	case respID:
		r := &IDResponse{}
		if err := requireFixed(fs, 1, r.ID[:], "id.id"); err != nil {
			return nil, err
		}
		v, _, err := varintField(fs, 2, "id.is_last")
		if err != nil {
			return nil, err
		}
		r.IsLast = v != 0
		return r, nil
	case respTransfer:
		r := &TransferResponse{}
		v, ok, err := varintField(fs, 1, "transfer_result.status")
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: transfer_result.status missing", ErrMalformed)
		}
		r.Status = Status(v)
		if err := requireFixed(fs, 2, r.ID[:], "transfer_result.id"); err != nil {
			return nil, err
		}
		if err := requireFixed(fs, 3, r.Sig[:], "transfer_result.sig"); err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("%w: unknown response variant %d", ErrMalformed, num)
	}
}

func decodeEntry(b []byte) (*ledger.Entry, error) {
	fs, err := parseFields(b)
	if err != nil {
		return nil, err
	}
	e := &ledger.Entry{}
	if err := requireFixed(fs, 1, e.ID[:], "entry.id"); err != nil {
		return nil, err
	}
	tb, ok := bytesField(fs, 2)
	if !ok {
		return nil, fmt.Errorf("%w: entry.event missing", ErrMalformed)
	}
	tfs, err := parseFields(tb)
	if err != nil {
		return nil, err
	}
	t, err := decodeTransfer(tfs)
	if err != nil {
		return nil, err
	}
	e.Event = *t
	return e, nil
}

func appendTransfer(b []byte, t *event.Transfer) []byte {
	b = appendBytesField(b, 1, t.From[:])
	b = appendBytesField(b, 2, t.To[:])
	b = appendVarintField(b, 3, t.Amount)
	b = appendBytesField(b, 4, t.Reference[:])
	b = appendBytesField(b, 5, t.Sig[:])
	return b
}

func decodeTransfer(fs []field) (*event.Transfer, error) {
	t := &event.Transfer{}
	if err := requireFixed(fs, 1, t.From[:], "transfer.from"); err != nil {
		return nil, err
	}
	if err := requireFixed(fs, 2, t.To[:], "transfer.to"); err != nil {
		return nil, err
	}
	amount, _, err := varintField(fs, 3, "transfer.val")
	if err != nil {
		return nil, err
	}
	t.Amount = amount
	if err := requireFixed(fs, 4, t.Reference[:], "transfer.last_id"); err != nil {
		return nil, err
	}
	if err := requireFixed(fs, 5, t.Sig[:], "transfer.sig"); err != nil {
		return nil, err
	}
	return t, nil
}
