package cache

import (
	"testing"
)

func TestKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind  string
		parts []string
		want  string
	}{
		{"account", []string{"email_abc"}, "vc:account:email_abc"},
		{"lock", []string{"subscription-sweep"}, "vc:lock:subscription-sweep"},
		{"ratelimit", []string{"session", "0011"}, "vc:ratelimit:session:0011"},
	}

	for _, tt := range tests {
		if got := key(tt.kind, tt.parts...); got != tt.want {
			t.Errorf("key(%q, %v) = %q, want %q", tt.kind, tt.parts, got, tt.want)
		}
	}
}

func TestHashIP(t *testing.T) {
	t.Parallel()

	seen := make(map[string]string)
	for _, ip := range []string{"192.168.1.1", "192.168.1.2", "::1", "2001:db8::8a2e:370:7334", ""} {
		h := hashIP(ip)
		if len(h) != 16 {
			t.Errorf("hashIP(%q) length = %d, want 16", ip, len(h))
		}
		if h != hashIP(ip) {
			t.Errorf("hashIP(%q) is not deterministic", ip)
		}
		if prev, dup := seen[h]; dup {
			t.Errorf("hashIP collision between %q and %q", prev, ip)
		}
		seen[h] = ip
	}
}
