package outbox

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"time"
)

// ErrUnroutableAddress is returned when the coordinator host resolves to a
// private, loopback, link-local, or otherwise non-routable address. The
// call is rejected before any connection is made.
var ErrUnroutableAddress = errors.New("coordinator resolves to a non-routable address")

// cgnat is 100.64.0.0/10, not covered by netip's named predicates.
var cgnat = netip.MustParsePrefix("100.64.0.0/10")

// Routable reports whether an address is acceptable as a delivery target.
func Routable(addr netip.Addr) bool {
	addr = addr.Unmap()
	if !addr.IsValid() || addr.IsUnspecified() || addr.IsLoopback() ||
		addr.IsPrivate() || addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() ||
		addr.IsMulticast() {
		return false
	}
	if addr.Is4() && cgnat.Contains(addr) {
		return false
	}
	return true
}

// Poster delivers one serialized payload to a coordinator path.
type Poster interface {
	Post(ctx context.Context, path string, body []byte) error
}

// Client is the sandboxed HTTP client for coordinator delivery. It
// resolves the destination first, vets every resolved address, and dials
// pinned to the vetted address so the connection cannot be re-routed by a
// second lookup. DNS failure is delivery failure, never a bypass.
type Client struct {
	base    *url.URL
	token   string
	timeout time.Duration

	resolver *net.Resolver
}

func NewClient(baseURL, token string, timeout time.Duration) (*Client, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid coordinator URL: %w", err)
	}
	return &Client{
		base:     parsed,
		token:    token,
		timeout:  timeout,
		resolver: net.DefaultResolver,
	}, nil
}

func (c *Client) Post(ctx context.Context, path string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	host := c.base.Hostname()
	port := c.base.Port()
	if port == "" {
		if c.base.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}

	target, err := c.vetHost(ctx, host)
	if err != nil {
		return err
	}

	dialAddr := net.JoinHostPort(target.String(), port)
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, dialAddr)
		},
		TLSClientConfig:   &tls.Config{ServerName: host},
		DisableKeepAlives: true,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base.String()+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build coordinator request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	client := &http.Client{Transport: transport}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("coordinator request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("coordinator returned status %d", resp.StatusCode)
	}
	return nil
}

// vetHost resolves host and rejects the call unless every resolved
// address is routable.
func (c *Client) vetHost(ctx context.Context, host string) (netip.Addr, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		if !Routable(addr) {
			return netip.Addr{}, ErrUnroutableAddress
		}
		return addr, nil
	}

	addrs, err := c.resolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("coordinator DNS resolution failed: %w", err)
	}
	if len(addrs) == 0 {
		return netip.Addr{}, fmt.Errorf("coordinator host %q resolved to no addresses", host)
	}
	for _, addr := range addrs {
		if !Routable(addr) {
			return netip.Addr{}, ErrUnroutableAddress
		}
	}
	return addrs[0], nil
}
