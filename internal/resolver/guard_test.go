package resolver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckHost(t *testing.T) {
	orig := lookupIP
	t.Cleanup(func() { lookupIP = orig })
	lookupIP = func(host string) ([]net.IP, error) {
		switch host {
		case "internal.example.com":
			return []net.IP{net.ParseIP("93.184.216.34"), net.ParseIP("127.0.0.1")}, nil
		case "public.example.com":
			return []net.IP{net.ParseIP("93.184.216.34")}, nil
		}
		return nil, errors.New("no such host")
	}

	for _, host := range []string{
		"127.0.0.1", "::1", "localhost", "LOCALHOST.", "api.localhost",
		"169.254.169.254", "fe80::1", "0.0.0.0", "metadata.google.internal",
		"internal.example.com",
	} {
		assert.ErrorIs(t, CheckHost(host), ErrBlockedHost, host)
	}
	for _, host := range []string{"93.184.216.34", "public.example.com", "unknown.example.com"} {
		assert.NoError(t, CheckHost(host), host)
	}
}

func TestFetch_LoopbackBlockedByDefault(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		_, _ = w.Write([]byte(`{"description":"internal-only"}`))
	}))
	defer srv.Close()

	r := newTestResolver(t, Options{Sources: map[string]Source{"http": NewHTTPSource(HTTPConfig{})}})
	_, err := r.Fetch(context.Background(), srv.URL+"/secret.json", false)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.ErrorIs(t, err, ErrBlockedHost)
	assert.Zero(t, hits)
}

func TestHTTPSource_RedirectTargetsChecked(t *testing.T) {
	guarded := NewHTTPSource(HTTPConfig{})
	open := NewHTTPSource(HTTPConfig{AllowPrivateHosts: true})

	via := []*http.Request{{URL: &url.URL{Scheme: "https", Host: "93.184.216.34"}}}
	to := &http.Request{URL: &url.URL{Scheme: "http", Host: "169.254.169.254", Path: "/latest/meta-data"}}

	assert.ErrorIs(t, guarded.client.CheckRedirect(to, via), ErrBlockedHost)
	assert.NoError(t, open.client.CheckRedirect(to, via))

	many := make([]*http.Request, 10)
	assert.Error(t, open.client.CheckRedirect(to, many))
}
