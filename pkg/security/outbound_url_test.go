package security

import (
	"testing"

	"github.com/pkg/errors"
)

func TestValidateOutboundURL(t *testing.T) {
	strict := OutboundURLOptions{}
	local := OutboundURLOptions{AllowHTTP: true, AllowLocalNetworks: true}

	cases := []struct {
		name string
		url  string
		opts OutboundURLOptions
		ok   bool
	}{
		{"public https", "https://chat.example.com/api/v1/events", strict, true},
		{"http rejected by default", "http://chat.example.com/api/v1/events", strict, false},
		{"http allowed", "http://chat.example.com/api/v1/events", OutboundURLOptions{AllowHTTP: true}, true},
		{"ftp", "ftp://chat.example.com/", local, false},
		{"no host", "https:///events", local, false},
		{"credentials", "https://user:pw@chat.example.com/", local, false},
		{"localhost strict", "https://localhost:8080/", strict, false},
		{"localhost allowed", "http://localhost:8080/api/v1/events", local, true},
		{"loopback ip strict", "https://127.0.0.1/", strict, false},
		{"private ip strict", "https://10.1.2.3/", strict, false},
		{"private ip allowed", "http://10.1.2.3/", local, true},
		{"unspecified", "https://0.0.0.0/", local, false},
		{"mapped loopback", "https://[::ffff:127.0.0.1]/", strict, false},
		{"zoned ipv6 strict", "https://[fe80::1%25eth0]/", strict, false},
		{"zoned ipv6 allowed", "https://[fe80::1%25eth0]/", local, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateOutboundURL(tc.url, tc.opts)
			if tc.ok && err != nil {
				t.Fatalf("expected %s to be accepted: %v", tc.url, err)
			}
			if !tc.ok {
				if err == nil {
					t.Fatalf("expected %s to be rejected", tc.url)
				}
				if !errors.Is(err, ErrUnsafeURL) {
					t.Fatalf("expected ErrUnsafeURL, got %v", err)
				}
			}
		})
	}
}
