package resource

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/proxy"
)

const defaultProbeTimeout = 5 * time.Second

// Prober checks that a candidate can carry traffic and reports its latency.
type Prober interface {
	Probe(ctx context.Context, r Resource) (time.Duration, error)
}

// HTTPProber issues a GET to each echo target through the candidate, in
// order, until one answers with a 2xx.
type HTTPProber struct {
	targets []string
	timeout time.Duration
}

func NewHTTPProber(targets []string, timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	return &HTTPProber{targets: targets, timeout: timeout}
}

func (p *HTTPProber) Probe(ctx context.Context, r Resource) (time.Duration, error) {
	if len(p.targets) == 0 {
		return 0, errors.New("no probe targets configured")
	}

	client, err := NewHTTPClient(r, p.timeout, true)
	if err != nil {
		return 0, err
	}
	defer client.CloseIdleConnections()

	var lastErr error
	for _, target := range p.targets {
		start := time.Now()
		if err := probeOnce(ctx, client, target); err != nil {
			lastErr = err
			continue
		}
		return time.Since(start), nil
	}
	return 0, lastErr
}

func probeOnce(ctx context.Context, client *http.Client, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("probe %s returned status %d", target, resp.StatusCode)
	}
	return nil
}

// NewTransport routes every request through r. HTTP(S) proxies use the
// standard CONNECT/forward path; SOCKS5 goes through x/net/proxy.
// skipVerify disables certificate checks and is meant for liveness probes
// only, never for traffic carrying task data.
func NewTransport(r Resource, timeout time.Duration, skipVerify bool) (*http.Transport, error) {
	dialer := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		IdleConnTimeout:       timeout,
		TLSHandshakeTimeout:   timeout,
		ExpectContinueTimeout: 1 * time.Second,
		DisableKeepAlives:     true,
	}
	if skipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	switch r.Scheme {
	case SchemeHTTP, SchemeHTTPS:
		proxyURL, err := url.Parse(r.URI)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL %s: %w", r.URI, err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
		transport.DialContext = dialer.DialContext
	case SchemeSOCKS5:
		d, err := proxy.SOCKS5("tcp", r.Address(), nil, dialer)
		if err != nil {
			return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
		}
		cd, ok := d.(proxy.ContextDialer)
		if !ok {
			return nil, errors.New("SOCKS5 dialer does not support contexts")
		}
		transport.DialContext = cd.DialContext
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrMalformed, r.Scheme)
	}

	return transport, nil
}

func NewHTTPClient(r Resource, timeout time.Duration, skipVerify bool) (*http.Client, error) {
	transport, err := NewTransport(r, timeout, skipVerify)
	if err != nil {
		return nil, err
	}
	return &http.Client{Transport: transport, Timeout: timeout}, nil
}
