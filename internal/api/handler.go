// Package api exposes the accountant over HTTP/JSON. Keys, digests, and
// signatures are base58 strings.
package api

import (
	"iter"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/accountant/internal/accountant"
	"github.com/jmerrifield20/accountant/internal/ledger"
	"github.com/jmerrifield20/accountant/pkg/event"
	"github.com/jmerrifield20/accountant/pkg/keys"
	"go.uber.org/zap"
)

const (
	defaultEntriesLimit = 100
	maxEntriesLimit     = 1000
)

// Engine is the subset of *accountant.Accountant the handler calls.
type Engine interface {
	Apply(ev event.Transfer) (ledger.Entry, error)
	BalanceOf(id event.Identity) uint64
	GenesisID() event.Digest
	CurrentID() event.Digest
	Finalize()
	EntriesSince(d event.Digest) iter.Seq[ledger.Entry]
	Len() int
	Verify() error
	Supply() uint64
}

// Handler serves the accountant's HTTP endpoints.
type Handler struct {
	acc    Engine
	logger *zap.Logger
}

// NewHandler creates a new Handler.
func NewHandler(acc Engine, logger *zap.Logger) *Handler {
	return &Handler{acc: acc, logger: logger}
}

// Register mounts the routes on the given router group.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.GET("/accounts/:key/balance", h.Balance)
	rg.POST("/transfers", h.Transfer)

	l := rg.Group("/ledger")
	{
		l.GET("", h.Overview)
		l.GET("/verify", h.Verify)
		l.GET("/entries", h.Entries)
	}
}

// TransferRequest is the JSON body of POST /transfers.
type TransferRequest struct {
	From      string `json:"from" binding:"required"`
	To        string `json:"to" binding:"required"`
	Amount    uint64 `json:"amount"`
	Reference string `json:"reference" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

// EntryJSON is the JSON form of a ledger entry.
type EntryJSON struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Amount    uint64 `json:"amount"`
	Reference string `json:"reference"`
	Signature string `json:"signature"`
}

func entryJSON(e ledger.Entry) EntryJSON {
	return EntryJSON{
		ID:        keys.EncodeDigest(e.ID),
		From:      keys.EncodeIdentity(e.Event.From),
		To:        keys.EncodeIdentity(e.Event.To),
		Amount:    e.Event.Amount,
		Reference: keys.EncodeDigest(e.Event.Reference),
		Signature: keys.EncodeSignature(e.Event.Sig),
	}
}

// Balance handles GET /accounts/:key/balance.
func (h *Handler) Balance(c *gin.Context) {
	id, err := keys.ParseIdentity(c.Param("key"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"key":     keys.EncodeIdentity(id),
		"balance": h.acc.BalanceOf(id),
	})
}

// Transfer handles POST /transfers.
func (h *Handler) Transfer(c *gin.Context) {
	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ev, err := req.toEvent()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entry, err := h.acc.Apply(ev)
	if err == nil {
		c.JSON(http.StatusOK, gin.H{"status": "applied", "id": keys.EncodeDigest(entry.ID)})
		return
	}
	head := keys.EncodeDigest(h.acc.CurrentID())

	reason, ok := accountant.ReasonOf(err)
	if !ok {
		h.logger.Error("process transfer", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process transfer"})
		return
	}
	body := gin.H{"status": reason.String(), "error": err.Error(), "id": head}
	switch reason {
	case accountant.BadSignature:
		c.JSON(http.StatusUnauthorized, body)
	case accountant.StaleOrConflictingReference:
		c.JSON(http.StatusConflict, body)
	default:
		c.JSON(http.StatusUnprocessableEntity, body)
	}
}

func (r *TransferRequest) toEvent() (event.Transfer, error) {
	var (
		ev  event.Transfer
		err error
	)
	if ev.From, err = keys.ParseIdentity(r.From); err != nil {
		return ev, err
	}
	if ev.To, err = keys.ParseIdentity(r.To); err != nil {
		return ev, err
	}
	if ev.Reference, err = keys.ParseDigest(r.Reference); err != nil {
		return ev, err
	}
	if ev.Sig, err = keys.ParseSignature(r.Signature); err != nil {
		return ev, err
	}
	ev.Amount = r.Amount
	return ev, nil
}

// Overview handles GET /ledger. It finalizes before reading the head.
func (h *Handler) Overview(c *gin.Context) {
	h.acc.Finalize()
	c.JSON(http.StatusOK, gin.H{
		"genesis": keys.EncodeDigest(h.acc.GenesisID()),
		"head":    keys.EncodeDigest(h.acc.CurrentID()),
		"entries": h.acc.Len(),
		"supply":  h.acc.Supply(),
	})
}

// Verify handles GET /ledger/verify by walking the full chain.
func (h *Handler) Verify(c *gin.Context) {
	if err := h.acc.Verify(); err != nil {
		h.logger.Warn("ledger integrity check failed", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{
			"valid": false,
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true})
}

// Entries handles GET /ledger/entries?since=<digest>&limit=<n>. since
// defaults to the genesis digest; an unknown digest yields an empty list.
func (h *Handler) Entries(c *gin.Context) {
	since := h.acc.GenesisID()
	if s := c.Query("since"); s != "" {
		d, err := keys.ParseDigest(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		since = d
	}

	limit := defaultEntriesLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxEntriesLimit)
	}

	out := make([]EntryJSON, 0)
	for e := range h.acc.EntriesSince(since) {
		out = append(out, entryJSON(e))
		if len(out) == limit {
			break
		}
	}
	c.JSON(http.StatusOK, gin.H{"entries": out})
}
