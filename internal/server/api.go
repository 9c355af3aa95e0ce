// Package server provides the wgtally Gin-based REST API.
// Routes are split into two groups:
//   - Control plane: JWT-protected browsing and annotate API for operators.
//   - Data plane:    Bearer-token-protected dump ingestion from collectors.
package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/vesaa/wgtally/internal/dump"
	"github.com/vesaa/wgtally/internal/ledger"
	"github.com/vesaa/wgtally/internal/logging"
	"github.com/vesaa/wgtally/internal/metrics"
	"github.com/vesaa/wgtally/internal/models"
)

// IngestRequest is the JSON body of POST /api/dumps.
type IngestRequest struct {
	DumpText string `json:"dump_text"`
	// Source names the host the dump came from; informational only.
	Source string `json:"source"`
}

// PeerSummary is one dashboard row.
type PeerSummary struct {
	ID          uint      `json:"id"`
	PublicKey   string    `json:"public_key"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email,omitempty"`
	Received    int64     `json:"received_bytes"`
	Sent        int64     `json:"sent_bytes"`
	Endpoint    string    `json:"endpoint"`
	LastSeen    time.Time `json:"last_seen"`
}

// ── Handlers ──────────────────────────────────────────────────────────────────

// handleLogin accepts username + password and returns a signed JWT.
//
//	POST /api/login
//	Body: { "username": "admin", "password": "admin" }
func (s *Server) handleLogin(c *gin.Context) {
	var body struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password required"})
		return
	}

	if !s.auth.CheckAdmin(body.Username, body.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, err := s.auth.GenerateJWT(body.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_in": int(tokenTTL.Seconds()),
		"type":       "Bearer",
	})
}

// handleIngest accepts a dump as JSON or as a raw text/plain body.
//
//	POST /api/dumps
func (s *Server) handleIngest(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxDumpBytes)

	var req IngestRequest
	if strings.HasPrefix(c.ContentType(), "text/plain") {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			respondBodyError(c, fmt.Errorf("reading body: %w", err))
			return
		}
		req.DumpText = string(body)
		req.Source = c.GetHeader("X-Dump-Source")
	} else if err := c.ShouldBindJSON(&req); err != nil {
		respondBodyError(c, err)
		return
	}

	if strings.TrimSpace(req.DumpText) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no data provided"})
		return
	}

	start := time.Now()
	res, err := s.ledger.Ingest(c.Request.Context(), req.DumpText)
	if err != nil {
		var pe *dump.ParseError
		if errors.As(err, &pe) {
			metrics.RecordIngest(metrics.ResultParseError, 0, time.Since(start))
			logging.Warn().Err(err).Str("source", req.Source).Int("line", pe.Line).Msg("rejected corrupt dump")
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":                err.Error(),
				"line":                 pe.Line,
				"observations_created": 0,
			})
			return
		}
		metrics.RecordIngest(metrics.ResultStoreError, 0, time.Since(start))
		logging.Error().Err(err).Str("source", req.Source).Msg("ingest failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":                err.Error(),
			"observations_created": 0,
		})
		return
	}

	metrics.RecordIngest(metrics.ResultOK, res.ObservationsCreated, time.Since(start))
	logging.Info().
		Str("source", req.Source).
		Int("identities", res.IdentitiesTouched).
		Int("observations", res.ObservationsCreated).
		Msg("dump ingested")
	c.JSON(http.StatusOK, res)
}

// handlePeers returns every peer that has at least one observation, with its
// latest counters.
func (s *Server) handlePeers(c *gin.Context) {
	snaps, err := s.ledger.AllIdentitiesWithLatest(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	rows := make([]PeerSummary, 0, len(snaps))
	for _, snap := range snaps {
		rows = append(rows, PeerSummary{
			ID:          snap.Identity.ID,
			PublicKey:   snap.Identity.PublicKey,
			DisplayName: snap.Identity.DisplayName(),
			Email:       snap.Identity.Email,
			Received:    snap.Latest.ReceivedBytes,
			Sent:        snap.Latest.SentBytes,
			Endpoint:    snap.Latest.Endpoint,
			LastSeen:    snap.Latest.ObservedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"data": rows})
}

// handlePeerDetail returns one peer with its recent history and the totals
// of that window.
//
//	GET /api/peers/:id?limit=100
func (s *Server) handlePeerDetail(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	limit, err := s.parseLimit(c.Query("limit"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	ident, err := s.ledger.Identity(ctx, id)
	if err != nil {
		respondLedgerError(c, err)
		return
	}
	history, err := s.ledger.History(ctx, id, limit)
	if err != nil {
		respondLedgerError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"identity":     ident,
		"display_name": ident.DisplayName(),
		"history":      history,
		"totals":       ledger.SumWindow(history),
		"limit":        limit,
	})
}

// handlePeerAnnotate sets a peer's display name and contact.
//
//	PUT /api/peers/:id
//	Body: { "name": "laptop", "email": "ops@example.com" }
func (s *Server) handlePeerAnnotate(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var p models.Profile
	if err := c.ShouldBindJSON(&p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": fieldErrors(verrs)})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ident, err := s.ledger.Annotate(c.Request.Context(), id, p)
	if err != nil {
		respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": ident})
}

// ── helpers ───────────────────────────────────────────────────────────────────

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return uint(id), true
}

func (s *Server) parseLimit(raw string) (int, error) {
	if raw == "" {
		return s.historyLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	if n > maxHistoryLimit {
		n = maxHistoryLimit
	}
	return n, nil
}

// respondBodyError answers 413 for an oversized upload and 400 otherwise.
func respondBodyError(c *gin.Context, err error) {
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": fmt.Sprintf("dump exceeds %d bytes", tooBig.Limit),
		})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func respondLedgerError(c *gin.Context, err error) {
	if errors.Is(err, ledger.ErrIdentityNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "peer not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// fieldErrors maps each failed field to the rule it broke, e.g.
// {"name": "max=64", "email": "email"}.
func fieldErrors(verrs validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		out[strings.ToLower(fe.Field())] = rule
	}
	return out
}
