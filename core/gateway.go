package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

const maxErrorBody = 1 << 20

// GatewayFactory builds per-browser gateways sharing one base transport.
type GatewayFactory struct {
	base      string
	timeout   time.Duration
	transport http.RoundTripper
	log       zerolog.Logger
}

// NewGatewayFactory returns a factory for baseURL. A nil transport means http.DefaultTransport.
func NewGatewayFactory(baseURL string, timeout time.Duration, transport http.RoundTripper, log zerolog.Logger) *GatewayFactory {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &GatewayFactory{base: baseURL, timeout: timeout, transport: transport, log: log}
}

// For returns a gateway whose interceptors read and write tokens.
func (f *GatewayFactory) For(tokens TokenStore) *Gateway {
	return NewGateway(f.base, f.timeout, f.transport, tokens, f.log)
}

// Gateway is the single point of outbound traffic to the Terrabia backend.
type Gateway struct {
	client *http.Client
	base   string
	log    zerolog.Logger
}

// NewGateway wraps transport with the bearer and 401 interceptors.
func NewGateway(baseURL string, timeout time.Duration, transport http.RoundTripper, tokens TokenStore, log zerolog.Logger) *Gateway {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Gateway{
		client: &http.Client{
			Timeout:   timeout,
			Transport: &authTransport{next: transport, tokens: tokens, log: log},
		},
		base: baseURL,
		log:  log,
	}
}

// authTransport attaches the bearer token to every request and clears the
// token store on any 401, whatever the endpoint.
type authTransport struct {
	next   http.RoundTripper
	tokens TokenStore
	log    zerolog.Logger
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if token, ok := t.tokens.Token(ctx); ok {
		req = req.Clone(ctx)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		if clearErr := t.tokens.ClearTokens(ctx); clearErr != nil {
			t.log.Error().Err(clearErr).Msg("failed to clear tokens after 401")
		}
		unauthorizedTotal.Inc()
		t.log.Info().Str("method", req.Method).Str("path", req.URL.Path).Msg("backend returned 401, credentials cleared")
	}
	return resp, nil
}

// call describes one backend request. name is the low-cardinality metric label.
type call struct {
	name        string
	method      string
	path        string
	query       url.Values
	body        io.Reader
	contentType string
}

func (g *Gateway) do(ctx context.Context, c call, out any) error {
	endpoint := g.base + c.path
	if len(c.query) > 0 {
		endpoint += "?" + c.query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, c.method, endpoint, c.body)
	if err != nil {
		return fmt.Errorf("build request %s %s: %w", c.method, c.path, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.contentType != "" {
		req.Header.Set("Content-Type", c.contentType)
	}

	started := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		gatewayRequests.WithLabelValues(c.name, "error").Inc()
		g.log.Warn().Err(err).Str("endpoint", c.name).Msg("backend unreachable")
		return &APIError{Kind: KindNetwork, Method: c.method, Path: c.path, Err: err}
	}
	defer resp.Body.Close()
	gatewayRequests.WithLabelValues(c.name, strconv.Itoa(resp.StatusCode)).Inc()
	gatewayLatency.WithLabelValues(c.name).Observe(time.Since(started).Seconds())

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		var env ErrorEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			env = nil
		}
		g.log.Debug().Str("endpoint", c.name).Int("status", resp.StatusCode).Bytes("body", raw).Msg("backend error")
		return &APIError{
			Kind:     kindForStatus(resp.StatusCode, env),
			Status:   resp.StatusCode,
			Method:   c.method,
			Path:     c.path,
			Envelope: env,
		}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", c.name, err)
	}
	return nil
}

func (g *Gateway) get(ctx context.Context, name, path string, query url.Values, out any) error {
	return g.do(ctx, call{name: name, method: http.MethodGet, path: path, query: query}, out)
}

func (g *Gateway) sendJSON(ctx context.Context, name, method, path string, in, out any) error {
	c := call{name: name, method: method, path: path}
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s payload: %w", name, err)
		}
		c.body = bytes.NewReader(b)
		c.contentType = "application/json"
	}
	return g.do(ctx, c, out)
}
