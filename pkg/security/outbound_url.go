// Package security checks the endpoints chatctl sends signed requests to.
package security

import (
	"net/netip"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

var ErrUnsafeURL = errors.New("unsafe outbound url")

// OutboundURLOptions configures endpoint validation.
type OutboundURLOptions struct {
	// AllowHTTP permits plain http. https is always allowed.
	AllowHTTP bool
	// AllowLocalNetworks permits loopback, private and link-local targets and
	// localhost-style host names. A web UI on the same machine needs this.
	AllowLocalNetworks bool
}

// ValidateOutboundURL rejects endpoints the notifier should not post bearer tokens to:
// unknown schemes, missing hosts, embedded credentials and, unless allowed, local
// network targets. IP literals are checked without DNS lookups.
func ValidateOutboundURL(rawURL string, opts OutboundURLOptions) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.Wrapf(ErrUnsafeURL, "parse %q: %v", rawURL, err)
	}

	switch parsed.Scheme {
	case "https":
	case "http":
		if !opts.AllowHTTP {
			return errors.Wrap(ErrUnsafeURL, "http scheme is not allowed")
		}
	default:
		return errors.Wrapf(ErrUnsafeURL, "unsupported scheme %q", parsed.Scheme)
	}
	if parsed.User != nil {
		return errors.Wrap(ErrUnsafeURL, "credentials in url are not allowed")
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return errors.Wrap(ErrUnsafeURL, "host is required")
	}

	if !opts.AllowLocalNetworks {
		if host == "localhost" || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".local") {
			return errors.Wrapf(ErrUnsafeURL, "local host name %q", host)
		}
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		return nil
	}
	if addr.Zone() != "" && !opts.AllowLocalNetworks {
		return errors.Wrapf(ErrUnsafeURL, "zoned address %q", host)
	}
	addr = addr.Unmap()
	if addr.IsUnspecified() || addr.IsMulticast() {
		return errors.Wrapf(ErrUnsafeURL, "address %q", host)
	}
	if !opts.AllowLocalNetworks {
		if addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() {
			return errors.Wrapf(ErrUnsafeURL, "local network address %q", host)
		}
	}
	return nil
}
