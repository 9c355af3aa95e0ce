package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vesaa/wgtally/internal/ledger"
	"github.com/vesaa/wgtally/internal/logging"
	"github.com/vesaa/wgtally/internal/metrics"
)

const (
	planeControl = "control"
	planeData    = "data"
)

// maxHistoryLimit caps the ?limit= query on peer detail.
const maxHistoryLimit = 1000

// maxDumpBytes bounds an uploaded dump.
const maxDumpBytes = 8 << 20

// Server serves the browsing API (control plane) and dump ingestion
// (data plane) on top of a Ledger.
type Server struct {
	ledger       *ledger.Ledger
	auth         *Auth
	historyLimit int
}

// New returns a Server. historyLimit is the default peer history window.
func New(l *ledger.Ledger, auth *Auth, historyLimit int) *Server {
	if historyLimit <= 0 {
		historyLimit = 100
	}
	if historyLimit > maxHistoryLimit {
		historyLimit = maxHistoryLimit
	}
	return &Server{ledger: l, auth: auth, historyLimit: historyLimit}
}

// ControlEngine builds the engine for the control port.
//
//	Public:          POST /api/login, GET /api/health
//	Protected (JWT): /api/peers..., POST /api/dumps
func (s *Server) ControlEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(planeControl), corsMiddleware)
	s.registerControlRoutes(r)
	return r
}

// DataEngine builds the engine for the data port. Dump uploads require the
// agent token; health and metrics do not.
func (s *Server) DataEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(planeData))
	s.registerDataRoutes(r)
	return r
}

func (s *Server) registerControlRoutes(r *gin.Engine) {
	api := r.Group("/api")

	// ── Public endpoints ──────────────────────────────────────────────────────
	api.POST("/login", s.handleLogin)
	api.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "time": time.Now().UTC()})
	})

	// ── JWT-protected endpoints ───────────────────────────────────────────────
	auth := api.Group("/", s.auth.JWTMiddleware())
	{
		auth.GET("/peers", s.handlePeers)
		auth.GET("/peers/:id", s.handlePeerDetail)
		auth.PUT("/peers/:id", s.handlePeerAnnotate)

		// Manual upload from the operator, same contract as the data plane.
		auth.POST("/dumps", s.handleIngest)
	}
}

func (s *Server) registerDataRoutes(r *gin.Engine) {
	api := r.Group("/api", s.auth.AgentTokenMiddleware())
	{
		api.POST("/dumps", s.handleIngest)
	}

	// no auth — load-balancer probes and Prometheus scrapes
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func corsMiddleware(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
	c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
	if c.Request.Method == "OPTIONS" {
		c.AbortWithStatus(204)
		return
	}
	c.Next()
}

// requestLogger tags each request with an X-Request-ID, counts it and logs
// it once it completes.
func requestLogger(plane string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)

		c.Next()

		status := c.Writer.Status()
		metrics.RecordAPIRequest(plane, c.FullPath(), status)

		ev := logging.Debug()
		if status >= 500 {
			ev = logging.Warn()
		}
		ev.Str("plane", plane).
			Str("request_id", id).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}
