// Package collector ships WireGuard dumps to the wgtally data plane.
// It periodically reads `wg show all dump` (locally or over SSH) and posts
// the raw text; every request carries: Authorization: Bearer <token>
package collector

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/vesaa/wgtally/internal/logging"
)

// Payload is the JSON body posted to /api/dumps.
type Payload struct {
	DumpText string `json:"dump_text"`
	Source   string `json:"source"`
}

// Result mirrors the data plane's success response.
type Result struct {
	IdentitiesTouched   int `json:"identities_touched"`
	ObservationsCreated int `json:"observations_created"`
}

// Collector fetches dumps from a Source and reports them.
type Collector struct {
	src      Source
	endpoint string
	token    string
	interval time.Duration
	hostname string
	client   *http.Client
	log      zerolog.Logger
}

// New creates a Collector. joinAddr is the data-plane address, e.g.
// "192.168.1.1:6681"; a scheme prefix is optional.
func New(src Source, joinAddr, token string, interval time.Duration) *Collector {
	base := joinAddr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Collector{
		src:      src,
		endpoint: strings.TrimRight(base, "/") + "/api/dumps",
		token:    token,
		interval: interval,
		hostname: sourceName(),
		client:   &http.Client{Timeout: 10 * time.Second},
		log:      logging.With().Str("component", "collector").Logger(),
	}
}

// sourceName identifies this host in reports.
func sourceName() string {
	if info, err := host.Info(); err == nil && info.Hostname != "" {
		return info.Hostname
	}
	if h, err := os.Hostname(); err == nil {
		return h
	}
	return "unknown"
}

// ReportOnce fetches one dump and posts it.
func (c *Collector) ReportOnce(ctx context.Context) (*Result, error) {
	text, err := c.src.Dump(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading dump: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("reading dump: command produced no output")
	}

	var res Result
	if err := c.postJSON(ctx, Payload{DumpText: text, Source: c.hostname}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Run reports immediately and then once per interval until ctx is done.
// Failed reports are logged and retried on the next tick.
func (c *Collector) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.log.Info().Str("endpoint", c.endpoint).Dur("interval", c.interval).Msg("collector started")
	for {
		res, err := c.ReportOnce(ctx)
		if err != nil {
			c.log.Warn().Err(err).Msg("report failed")
		} else {
			c.log.Info().
				Int("identities", res.IdentitiesTouched).
				Int("observations", res.ObservationsCreated).
				Msg("dump reported")
		}

		select {
		case <-ctx.Done():
			c.log.Info().Msg("collector stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// postJSON sends v as JSON with the Bearer token and decodes the reply into out.
func (c *Collector) postJSON(ctx context.Context, v, out any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("server rejected token (401) — check --token or collect_token in config")
	}
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
