package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds a single document request.
	DefaultTimeout = 15 * time.Second
	// DefaultMaxBodyBytes caps the size of a fetched document (8MB).
	DefaultMaxBodyBytes = 8 << 20
	// DefaultUserAgent is sent with every request.
	DefaultUserAgent = "schable/1.0"
	// DefaultRelayPrefix is the CORS relay locators are rewritten through
	// when a fetch asks for it.
	DefaultRelayPrefix = "https://corsproxy.io/?"
)

// Raw is a document as retrieved, before decoding.
type Raw struct {
	Locator     string
	Body        []byte
	ContentType string
}

// Source retrieves raw documents for one or more locator schemes.
type Source interface {
	Get(ctx context.Context, locator string, useRelay bool) (*Raw, error)
}

// HTTPConfig configures an HTTPSource.
type HTTPConfig struct {
	Timeout      time.Duration
	MaxBodyBytes int64
	UserAgent    string
	RelayPrefix  string
	// AllowPrivateHosts disables the CheckHost guard on request and
	// redirect targets.
	AllowPrivateHosts bool
}

func (c HTTPConfig) withDefaults() HTTPConfig {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.RelayPrefix == "" {
		c.RelayPrefix = DefaultRelayPrefix
	}
	return c
}

// HTTPSource fetches documents over HTTP(S).
type HTTPSource struct {
	cfg    HTTPConfig
	client *http.Client
}

// NewHTTPSource creates an HTTPSource. Zero config fields take defaults.
func NewHTTPSource(cfg HTTPConfig) *HTTPSource {
	cfg = cfg.withDefaults()
	s := &HTTPSource{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   5 * time.Second,
				ResponseHeaderTimeout: cfg.Timeout,
				IdleConnTimeout:       90 * time.Second,
				MaxIdleConns:          32,
				MaxIdleConnsPerHost:   8,
				ForceAttemptHTTP2:     true,
			},
		},
	}
	s.client.CheckRedirect = s.checkRedirect
	return s
}

func (s *HTTPSource) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= 10 {
		return errors.New("too many redirects")
	}
	return s.checkTarget(req.URL)
}

func (s *HTTPSource) checkTarget(u *url.URL) error {
	if s.cfg.AllowPrivateHosts {
		return nil
	}
	return CheckHost(u.Hostname())
}

// RelayURL rewrites locator through the configured relay prefix.
func (s *HTTPSource) RelayURL(locator string) string {
	return s.cfg.RelayPrefix + url.QueryEscape(locator)
}

// Get issues a GET for locator, through the relay when useRelay is set.
func (s *HTTPSource) Get(ctx context.Context, locator string, useRelay bool) (*Raw, error) {
	target := locator
	if useRelay {
		target = s.RelayURL(locator)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if err := s.checkTarget(req.URL); err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", s.cfg.UserAgent)
	req.Header.Set("Accept", "application/schema+json, application/json, application/yaml;q=0.9, */*;q=0.5")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.cfg.MaxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > s.cfg.MaxBodyBytes {
		return nil, fmt.Errorf("body exceeds %d bytes", s.cfg.MaxBodyBytes)
	}
	return &Raw{Locator: locator, Body: body, ContentType: resp.Header.Get("Content-Type")}, nil
}

// Reader is the subset of the catalog storage the resolver reads from.
type Reader interface {
	Read(path string) ([]byte, error)
}

// CatalogScheme addresses documents inside the local schema catalog,
// e.g. "catalog:/people/person.json".
const CatalogScheme = "catalog"

// CatalogLocator returns the locator of a catalog-relative path.
func CatalogLocator(path string) string {
	return CatalogScheme + ":/" + strings.TrimPrefix(path, "/")
}

// CatalogSource serves "catalog:" locators from local storage. The relay
// flag does not apply to it.
type CatalogSource struct {
	store Reader
}

// NewCatalogSource creates a CatalogSource over store.
func NewCatalogSource(store Reader) *CatalogSource {
	return &CatalogSource{store: store}
}

// Get reads the catalog file named by locator.
func (s *CatalogSource) Get(_ context.Context, locator string, _ bool) (*Raw, error) {
	u, err := url.Parse(locator)
	if err != nil {
		return nil, err
	}
	if u.Scheme != CatalogScheme {
		return nil, fmt.Errorf("not a catalog locator: %s", locator)
	}
	p := strings.TrimPrefix(u.Path, "/")
	if p == "" {
		p = strings.TrimPrefix(u.Opaque, "/")
	}
	data, err := s.store.Read(p)
	if err != nil {
		return nil, err
	}
	return &Raw{Locator: locator, Body: data}, nil
}
