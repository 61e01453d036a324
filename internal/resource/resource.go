// Package resource manages the pool of egress proxy endpoints that task
// attempts borrow. Candidates come from feeds (or a static backup set), are
// probed for liveness, and are evicted after repeated failures.
package resource

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	SchemeHTTP   = "http"
	SchemeHTTPS  = "https"
	SchemeSOCKS5 = "socks5"
)

// SupportedSchemes is the set a scheme-less candidate may be assigned from.
var SupportedSchemes = []string{SchemeHTTP, SchemeHTTPS, SchemeSOCKS5}

var (
	ErrUnavailable = errors.New("no working resource available")
	ErrMalformed   = errors.New("malformed resource")
)

type Resource struct {
	URI         string        `json:"uri"`
	Scheme      string        `json:"scheme"`
	Host        string        `json:"host"`
	Port        int           `json:"port"`
	FailCount   int           `json:"fail_count"`
	Valid       bool          `json:"valid"`
	Latency     time.Duration `json:"latency"`
	LastChecked time.Time     `json:"last_checked"`
}

func (r Resource) Address() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

func (r Resource) String() string {
	return r.URI
}

// Parse builds a Resource from a canonical or raw candidate. A candidate
// without a scheme gets fallbackScheme.
func Parse(raw, fallbackScheme string) (Resource, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Resource{}, fmt.Errorf("%w: empty", ErrMalformed)
	}

	if !strings.Contains(raw, "://") {
		raw = fallbackScheme + "://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Resource{}, fmt.Errorf("%w: %q: %v", ErrMalformed, raw, err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme == "socks5h" {
		scheme = SchemeSOCKS5
	}
	if !isSupported(scheme) {
		return Resource{}, fmt.Errorf("%w: unsupported scheme %q", ErrMalformed, u.Scheme)
	}

	host := u.Hostname()
	portStr := u.Port()
	if host == "" || portStr == "" {
		return Resource{}, fmt.Errorf("%w: %q needs host and port", ErrMalformed, raw)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return Resource{}, fmt.Errorf("%w: invalid port %q", ErrMalformed, portStr)
	}

	host = strings.ToLower(host)
	return Resource{
		URI:    scheme + "://" + net.JoinHostPort(host, portStr),
		Scheme: scheme,
		Host:   host,
		Port:   port,
	}, nil
}

// Normalize reduces a feed line to scheme://host:port.
func Normalize(raw, fallbackScheme string) (string, error) {
	r, err := Parse(raw, fallbackScheme)
	if err != nil {
		return "", err
	}
	return r.URI, nil
}

func isSupported(scheme string) bool {
	for _, s := range SupportedSchemes {
		if s == scheme {
			return true
		}
	}
	return false
}
