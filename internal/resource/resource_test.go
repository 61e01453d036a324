package resource

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		fallback string
		expected string
		wantErr  bool
	}{
		{name: "bare host and port", raw: "1.2.3.4:1080", fallback: "socks5", expected: "socks5://1.2.3.4:1080"},
		{name: "fallback http", raw: "1.2.3.4:8080", fallback: "http", expected: "http://1.2.3.4:8080"},
		{name: "explicit scheme wins", raw: "http://1.2.3.4:8080", fallback: "socks5", expected: "http://1.2.3.4:8080"},
		{name: "surrounding whitespace", raw: "  https://Proxy.Example.com:443 \r", fallback: "socks5", expected: "https://proxy.example.com:443"},
		{name: "socks5h alias", raw: "socks5h://1.2.3.4:1080", fallback: "http", expected: "socks5://1.2.3.4:1080"},
		{name: "ipv6", raw: "[2001:db8::1]:1080", fallback: "socks5", expected: "socks5://[2001:db8::1]:1080"},
		{name: "path dropped", raw: "http://1.2.3.4:8080/", fallback: "socks5", expected: "http://1.2.3.4:8080"},
		{name: "empty", raw: "", fallback: "socks5", wantErr: true},
		{name: "missing port", raw: "1.2.3.4", fallback: "socks5", wantErr: true},
		{name: "port out of range", raw: "1.2.3.4:70000", fallback: "socks5", wantErr: true},
		{name: "port zero", raw: "1.2.3.4:0", fallback: "socks5", wantErr: true},
		{name: "unsupported scheme", raw: "ftp://1.2.3.4:21", fallback: "socks5", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.raw, tt.fallback)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestParse_Fields(t *testing.T) {
	r, err := Parse("http://10.1.2.3:3128", "socks5")
	require.NoError(t, err)

	assert.Equal(t, "http", r.Scheme)
	assert.Equal(t, "10.1.2.3", r.Host)
	assert.Equal(t, 3128, r.Port)
	assert.Equal(t, "10.1.2.3:3128", r.Address())
	assert.Equal(t, "http://10.1.2.3:3128", r.String())
	assert.Zero(t, r.FailCount)
	assert.False(t, r.Valid)
}

func TestHTTPFeed_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("1.1.1.1:1080\n\n# comment\nhttp://2.2.2.2:8080\r\n"))
	}))
	defer server.Close()

	feed := NewHTTPFeed(server.URL, time.Second)
	lines, err := feed.Fetch(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"1.1.1.1:1080", "http://2.2.2.2:8080"}, lines)
	assert.Equal(t, server.URL, feed.Name())
}

func TestHTTPFeed_Non200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := NewHTTPFeed(server.URL, time.Second).Fetch(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestHTTPFeed_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.URL
	server.Close()

	_, err := NewHTTPFeed(addr, time.Second).Fetch(context.Background())
	assert.Error(t, err)
}

func TestFileFeed_Fetch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "list.txt")
	require.NoError(t, os.WriteFile(path, []byte("3.3.3.3:1080\n#skip\n4.4.4.4:1080\n"), 0o644))

	feed := NewFileFeed(path)
	lines, err := feed.Fetch(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"3.3.3.3:1080", "4.4.4.4:1080"}, lines)

	_, err = NewFileFeed(filepath.Join(t.TempDir(), "missing.txt")).Fetch(context.Background())
	assert.Error(t, err)
}

// forwardProxy answers any proxied GET itself, which is all an echo probe
// needs to see.
func forwardProxy(t *testing.T, status int) (*httptest.Server, Resource) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte("203.0.113.7"))
	}))

	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	r, err := Parse("http://"+u.Host, "http")
	require.NoError(t, err)
	return server, r
}

func TestHTTPProber_Probe(t *testing.T) {
	server, r := forwardProxy(t, http.StatusOK)
	defer server.Close()

	prober := NewHTTPProber([]string{"http://echo.invalid/ip"}, 2*time.Second)
	latency, err := prober.Probe(context.Background(), r)

	require.NoError(t, err)
	assert.Greater(t, latency, time.Duration(0))
}

func TestHTTPProber_TriesTargetsInOrder(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.URL.Host)
		mu.Unlock()
		if r.URL.Host == "first.invalid" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	u, _ := url.Parse(server.URL)
	r, err := Parse("http://"+u.Host, "http")
	require.NoError(t, err)

	prober := NewHTTPProber([]string{"http://first.invalid/", "http://second.invalid/", "http://third.invalid/"}, 2*time.Second)
	_, err = prober.Probe(context.Background(), r)

	require.NoError(t, err)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first.invalid", "second.invalid"}, seen)
}

func TestHTTPProber_Failures(t *testing.T) {
	t.Run("bad status", func(t *testing.T) {
		server, r := forwardProxy(t, http.StatusForbidden)
		defer server.Close()

		_, err := NewHTTPProber([]string{"http://echo.invalid/"}, time.Second).Probe(context.Background(), r)
		assert.Error(t, err)
	})

	t.Run("dead proxy", func(t *testing.T) {
		server, r := forwardProxy(t, http.StatusOK)
		server.Close()

		_, err := NewHTTPProber([]string{"http://echo.invalid/"}, time.Second).Probe(context.Background(), r)
		assert.Error(t, err)
	})

	t.Run("no targets", func(t *testing.T) {
		_, err := NewHTTPProber(nil, time.Second).Probe(context.Background(), Resource{Scheme: SchemeHTTP})
		assert.Error(t, err)
	})
}

func TestNewTransport(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "http", raw: "http://127.0.0.1:3128"},
		{name: "https", raw: "https://127.0.0.1:3129"},
		{name: "socks5", raw: "socks5://127.0.0.1:1080"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Parse(tt.raw, "")
			require.NoError(t, err)

			tr, err := NewTransport(r, time.Second, false)
			require.NoError(t, err)
			assert.NotNil(t, tr.DialContext)
			assert.Nil(t, tr.TLSClientConfig)

			tr, err = NewTransport(r, time.Second, true)
			require.NoError(t, err)
			require.NotNil(t, tr.TLSClientConfig)
			assert.True(t, tr.TLSClientConfig.InsecureSkipVerify)
		})
	}

	_, err := NewTransport(Resource{Scheme: "ftp"}, time.Second, false)
	assert.ErrorIs(t, err, ErrMalformed)
}
