package transport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"
)

// NewSafeHTTPClient returns a client whose dialer refuses loopback, private and
// link-local peers. It is used for caller-supplied URLs such as response_url.
func NewSafeHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext:         safeDial,
			TLSHandshakeTimeout: 5 * time.Second,
			MaxIdleConnsPerHost: 4,
		},
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func safeDial(ctx context.Context, network, addr string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: 5 * time.Second}
	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	host, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
	ip := net.ParseIP(host)
	if ip == nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to parse remote IP for %q", addr)
	}
	if blockedIP(ip) {
		_ = conn.Close()
		return nil, fmt.Errorf("access to private IP %s is denied", ip)
	}

	return conn, nil
}

func blockedIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified()
}
