// Package neng pulls device inventory and live power readings from the
// upstream NENG API and merges them into per-PDU records.
package neng

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rackwatch/rackwatch/internal/models"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Config configures the upstream client.
type Config struct {
	BaseURL string
	Token   string // optional bearer token
	Timeout time.Duration
	Retries int // attempts per endpoint per cycle
}

// Client fetches PDU batches from NENG.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	retries int
	backoff backoffConfig
}

// NewClient creates a NENG client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retries := cfg.Retries
	if retries <= 0 {
		retries = 3
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
		retries: retries,
		backoff: defaultBackoff(),
	}
}

// envelope is the common NENG response wrapper.
type envelope struct {
	Code int             `json:"code"`
	Data json.RawMessage `json:"data"`
}

// flexString tolerates upstream fields that arrive as either JSON strings
// or numbers.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*s = ""
		return nil
	}
	if b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	*s = flexString(b)
	return nil
}

type deviceRecord struct {
	ID      flexString `json:"id"`
	Name    string     `json:"name"`
	RackID  flexString `json:"rackId"`
	Country string     `json:"country"`
	Site    string     `json:"site"`
	DC      string     `json:"dc"`
	Phase   string     `json:"phase"`
	Chain   string     `json:"chain"`
	Node    string     `json:"node"`
	Serial  string     `json:"serial"`
	GwName  string     `json:"gwName"`
	GwIP    string     `json:"gwIp"`
}

type powerRecord struct {
	ID                flexString      `json:"id"`
	TotalAmps         json.RawMessage `json:"totalAmps"`
	TotalVolts        json.RawMessage `json:"totalVolts"`
	TotalWatts        json.RawMessage `json:"totalWatts"`
	Temperature       json.RawMessage `json:"temperature"`
	SensorTemperature json.RawMessage `json:"sensorTemperature"`
	SensorHumidity    json.RawMessage `json:"sensorHumidity"`
}

// parseReading turns a raw JSON field into a measurement. Absent or null
// fields are unreadable (nil), never zero. A present but non-numeric field
// reports invalid=true so the classifier can flag it.
func parseReading(raw json.RawMessage) (value *float64, invalid bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil, false
	}
	var f float64
	if err := json.Unmarshal(trimmed, &f); err == nil {
		return &f, false
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return &f, false
		}
	}
	return nil, true
}

// parsePhase normalises the upstream phase label.
func parsePhase(raw string) models.Phase {
	p := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case p == "":
		return models.PhaseUnknown
	case strings.Contains(p, "3"):
		return models.PhaseThree
	case strings.Contains(p, "1"), strings.Contains(p, "single"):
		return models.PhaseSingle
	default:
		return models.PhaseUnknown
	}
}

// Fetch pulls both endpoints and joins them by device id. Either endpoint
// failing fails the whole batch: a partial batch must never reach the
// reconciler, or alerts would spuriously clear.
func (c *Client) Fetch(ctx context.Context) ([]models.PDU, error) {
	var (
		devices []deviceRecord
		power   []powerRecord
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.getWithRetry(gctx, "/device", &devices)
	})
	g.Go(func() error {
		return c.getWithRetry(gctx, "/power", &power)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	powerByID := make(map[string]powerRecord, len(power))
	for _, p := range power {
		if p.ID == "" {
			continue
		}
		powerByID[string(p.ID)] = p
	}

	batch := make([]models.PDU, 0, len(devices))
	dropped := 0
	for _, d := range devices {
		if d.ID == "" {
			dropped++
			continue
		}
		p, ok := powerByID[string(d.ID)]
		if !ok {
			// Present in only one endpoint: cannot be evaluated.
			dropped++
			continue
		}
		pdu := models.PDU{
			ID:      string(d.ID),
			RackID:  string(d.RackID),
			Name:    d.Name,
			Country: d.Country,
			Site:    d.Site,
			DC:      d.DC,
			Phase:   parsePhase(d.Phase),
			Chain:   d.Chain,
			Node:    d.Node,
			Serial:  d.Serial,
			GwName:  d.GwName,
			GwIP:    d.GwIP,
		}
		pdu.Current, pdu.CurrentInvalid = parseReading(p.TotalAmps)
		pdu.Voltage, _ = parseReading(p.TotalVolts)
		pdu.Power, _ = parseReading(p.TotalWatts)
		pdu.Temperature, _ = parseReading(p.Temperature)
		pdu.SensorTemperature, _ = parseReading(p.SensorTemperature)
		pdu.SensorHumidity, _ = parseReading(p.SensorHumidity)
		batch = append(batch, pdu)
	}

	log.Debug().
		Int("devices", len(devices)).
		Int("powerRecords", len(power)).
		Int("merged", len(batch)).
		Int("dropped", dropped).
		Msg("Fetched PDU batch from NENG")

	return batch, nil
}

// getWithRetry performs one endpoint GET with exponential backoff on
// transient failures.
func (c *Client) getWithRetry(ctx context.Context, path string, out any) error {
	var lastErr error
	for attempt := 0; attempt < c.retries; attempt++ {
		if attempt > 0 {
			delay := c.backoff.nextDelay(attempt-1, rand.Float64())
			log.Debug().
				Str("path", path).
				Int("attempt", attempt+1).
				Dur("delay", delay).
				Msg("Retrying NENG request")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := c.get(ctx, path, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !isRetryable(err) {
			return err
		}
	}
	return fmt.Errorf("NENG %s failed after %d attempts: %w", path, c.retries, lastErr)
}

// statusError marks HTTP-level failures so retry can distinguish 5xx from
// client errors.
type statusError struct {
	code int
	path string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("NENG %s returned status %d", e.path, e.code)
}

func isRetryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500
	}
	// Network-level errors are transient by default.
	return true
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build NENG request %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("NENG request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{code: resp.StatusCode, path: path}
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode NENG response %s: %w", path, err)
	}
	if env.Code != 200 {
		return fmt.Errorf("NENG %s returned code %d", path, env.Code)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode NENG data %s: %w", path, err)
	}
	return nil
}
