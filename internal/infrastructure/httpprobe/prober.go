// Package httpprobe implements [domain.EndpointProber] over net/http.
package httpprobe

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fleetgate/fleetgate-server/internal/domain"
)

// maxBodyBytes caps how much of a response body is read for substring
// matching.
const maxBodyBytes = 1 << 20

// defaultConnectTimeout bounds the dial phase when no connect timeout is
// configured. It keeps a black-holing host from spending the whole probe
// budget on the connect alone.
const defaultConnectTimeout = 5 * time.Second

// Prober issues one HTTP request per probe, bounded by the endpoint's
// configured timeout. Any network failure, timeout, status mismatch, or
// missing body substring is returned as the failing reason.
type Prober struct {
	// ConnectTimeout bounds the dial and TLS-handshake phases of each
	// probe. The per-endpoint timeout still bounds the probe as a whole,
	// so an oversized value is effectively capped by the probe budget.
	// Defaults to defaultConnectTimeout.
	ConnectTimeout time.Duration

	// Client overrides the probe client entirely; ConnectTimeout is
	// ignored when it is set.
	Client *http.Client

	once   sync.Once
	client *http.Client
}

func (p *Prober) httpClient() *http.Client {
	if p.Client != nil {
		return p.Client
	}
	p.once.Do(func() {
		ct := p.ConnectTimeout
		if ct <= 0 {
			ct = defaultConnectTimeout
		}
		p.client = &http.Client{
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: ct}).DialContext,
				TLSHandshakeTimeout: ct,
			},
		}
	})
	return p.client
}

// Probe implements [domain.EndpointProber].
func (p *Prober) Probe(ctx context.Context, ep domain.HealthCheckEndpoint) error {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(ep.TimeoutMS)*time.Millisecond)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, string(ep.Method), ep.URL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for k, v := range ep.Headers {
		req.Header.Set(k, v)
	}

	resp, err := p.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != ep.ExpectedStatus {
		return fmt.Errorf("status %d, want %d", resp.StatusCode, ep.ExpectedStatus)
	}

	if ep.BodyContains != "" {
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		if !strings.Contains(string(body), ep.BodyContains) {
			return fmt.Errorf("body does not contain %q", ep.BodyContains)
		}
	}
	return nil
}
