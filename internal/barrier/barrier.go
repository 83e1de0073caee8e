package barrier

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/icholy/digest"
	"github.com/rs/zerolog"

	"parking-service/internal/config"
)

var (
	ErrUnknownGate  = errors.New("unknown gate")
	ErrUnauthorized = errors.New("barrier rejected credentials")
)

const (
	StateUnknown = "unknown"

	defaultTimeout = 5 * time.Second
	maxBodyBytes   = 64 << 10
)

// Actuator drives the physical gates. Failures are reported as false and
// never returned to the vehicle-facing flow.
type Actuator interface {
	Open(ctx context.Context, gate string) bool
	Close(ctx context.Context, gate string) bool
	Status(ctx context.Context, gate string) (string, bool)
}

type gate struct {
	cfg    config.BarrierConfig
	client *http.Client
}

// Controller talks ISAPI to Hikvision barrier controllers using digest auth.
type Controller struct {
	gates map[string]gate
	log   zerolog.Logger
}

func NewController(gates map[string]config.BarrierConfig, log zerolog.Logger) *Controller {
	c := &Controller{gates: make(map[string]gate, len(gates)), log: log}
	for id, cfg := range gates {
		if cfg.Timeout <= 0 {
			cfg.Timeout = defaultTimeout
		}
		if cfg.Port == 0 {
			cfg.Port = 80
		}
		if cfg.Channel == 0 {
			cfg.Channel = 1
		}
		c.gates[id] = gate{
			cfg: cfg,
			client: &http.Client{
				Transport: &digest.Transport{Username: cfg.User, Password: cfg.Password},
			},
		}
	}
	return c
}

func (c *Controller) Open(ctx context.Context, gateID string) bool {
	return c.control(ctx, gateID, "open")
}

func (c *Controller) Close(ctx context.Context, gateID string) bool {
	return c.control(ctx, gateID, "close")
}

func (c *Controller) Status(ctx context.Context, gateID string) (string, bool) {
	g, ok := c.gates[gateID]
	if !ok {
		c.log.Warn().Str("gate", gateID).Msg("status requested for unknown gate")
		return StateUnknown, false
	}

	body, err := c.do(ctx, g, http.MethodGet, g.url("/status"), "")
	if err != nil {
		c.log.Warn().Err(err).Str("gate", gateID).Msg("barrier status failed")
		return StateUnknown, false
	}

	var status struct {
		BarrierState string `xml:"barrierState"`
	}
	if err := xml.Unmarshal(body, &status); err != nil || status.BarrierState == "" {
		c.log.Warn().Str("gate", gateID).Msg("barrier status response has no barrierState")
		return StateUnknown, false
	}
	return status.BarrierState, true
}

func (c *Controller) control(ctx context.Context, gateID, mode string) bool {
	g, ok := c.gates[gateID]
	if !ok {
		c.log.Warn().Err(ErrUnknownGate).Str("gate", gateID).Str("mode", mode).Msg("barrier command skipped")
		return false
	}

	payload := fmt.Sprintf("<BarrierGate><ctrlMode>%s</ctrlMode></BarrierGate>", mode)
	attempts := g.cfg.Retries + 1
	var err error
	for i := 1; i <= attempts; i++ {
		_, err = c.do(ctx, g, http.MethodPut, g.url(""), payload)
		if err == nil {
			c.log.Info().Str("gate", gateID).Str("mode", mode).Int("attempt", i).Msg("barrier command accepted")
			return true
		}
		if errors.Is(err, ErrUnauthorized) || ctx.Err() != nil {
			break
		}
	}
	c.log.Error().Err(err).Str("gate", gateID).Str("mode", mode).Str("host", g.cfg.Host).Msg("barrier command failed")
	return false
}

func (c *Controller) do(ctx context.Context, g gate, method, url, payload string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	var body io.Reader
	if payload != "" {
		body = strings.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	if payload != "" {
		req.Header.Set("Content-Type", "application/xml")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	switch {
	case resp.StatusCode == http.StatusOK:
		return data, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
	default:
		return nil, fmt.Errorf("barrier returned status %d", resp.StatusCode)
	}
}

func (g gate) url(suffix string) string {
	return fmt.Sprintf("http://%s:%d/ISAPI/Parking/channels/%d/barrierGate%s", g.cfg.Host, g.cfg.Port, g.cfg.Channel, suffix)
}
