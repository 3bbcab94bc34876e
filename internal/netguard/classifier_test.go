package netguard

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/netip"
	"testing"
)

// fakeResolver answers from a fixed table and counts lookups.
type fakeResolver struct {
	answers map[string][]netip.Addr
	calls   int
}

func (f *fakeResolver) LookupNetIP(_ context.Context, _, host string) ([]netip.Addr, error) {
	f.calls++
	addrs, ok := f.answers[host]
	if !ok {
		return nil, errors.New("no such host")
	}
	return addrs, nil
}

func addrs(ss ...string) []netip.Addr {
	out := make([]netip.Addr, 0, len(ss))
	for _, s := range ss {
		out = append(out, netip.MustParseAddr(s))
	}
	return out
}

func newTestClassifier(answers map[string][]netip.Addr) (*Classifier, *fakeResolver) {
	r := &fakeResolver{answers: answers}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClassifierWithResolver(r, logger), r
}

func TestClassifier_IsPrivate(t *testing.T) {
	c, _ := newTestClassifier(map[string][]netip.Addr{
		"loopback.test":   addrs("127.0.0.1"),
		"ten.test":        addrs("10.1.2.3"),
		"linklocal.test":  addrs("169.254.169.254"),
		"home.test":       addrs("192.168.1.10"),
		"corp-low.test":   addrs("172.16.0.1"),
		"corp-high.test":  addrs("172.31.255.255"),
		"v6-loopback":     addrs("::1"),
		"public.test":     addrs("93.184.216.34"),
		"edge-below.test": addrs("172.15.255.255"),
		"edge-above.test": addrs("172.32.0.0"),
		"mixed.test":      addrs("93.184.216.34", "10.0.0.1"),
		"mapped.test":     addrs("::ffff:127.0.0.1"),
		"public-v6.test":  addrs("2606:2800:220:1:248:1893:25c8:1946"),
		"empty.test":      {},
	})

	tests := []struct {
		host string
		want bool
	}{
		{"loopback.test", true},
		{"ten.test", true},
		{"linklocal.test", true},
		{"home.test", true},
		{"corp-low.test", true},
		{"corp-high.test", true},
		{"v6-loopback", true},
		{"public.test", false},
		{"edge-below.test", false},
		{"edge-above.test", false},
		{"mixed.test", true},
		{"mapped.test", true},
		{"public-v6.test", false},
		{"empty.test", false},
		{"unresolvable.test", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			if got := c.IsPrivate(context.Background(), tt.host); got != tt.want {
				t.Errorf("IsPrivate(%q) = %v, want %v", tt.host, got, tt.want)
			}
		})
	}
}

func TestClassifier_IsPrivate_LiteralSkipsResolver(t *testing.T) {
	c, r := newTestClassifier(nil)

	if !c.IsPrivate(context.Background(), "127.0.0.1") {
		t.Error("IsPrivate(127.0.0.1) = false, want true")
	}
	if !c.IsPrivate(context.Background(), "::1") {
		t.Error("IsPrivate(::1) = false, want true")
	}
	if c.IsPrivate(context.Background(), "93.184.216.34") {
		t.Error("IsPrivate(93.184.216.34) = true, want false")
	}
	if r.calls != 0 {
		t.Errorf("resolver called %d times for literals, want 0", r.calls)
	}
}

func TestClassifier_IsPrivate_ResolvesEveryCall(t *testing.T) {
	c, r := newTestClassifier(map[string][]netip.Addr{"public.test": addrs("93.184.216.34")})

	for i := 0; i < 3; i++ {
		c.IsPrivate(context.Background(), "public.test")
	}
	if r.calls != 3 {
		t.Errorf("resolver calls = %d, want 3", r.calls)
	}

	// A changed answer is picked up on the next call.
	r.answers["public.test"] = addrs("10.0.0.5")
	if !c.IsPrivate(context.Background(), "public.test") {
		t.Error("IsPrivate after DNS change = false, want true")
	}
}

func TestIsPrivateAddr(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"127.255.255.254", true},
		{"10.255.255.255", true},
		{"169.254.0.1", true},
		{"192.168.0.1", true},
		{"172.20.10.1", true},
		{"0.0.0.0", true},
		{"::1", true},
		{"fe80::1%eth0", true},
		{"fd00::1", true},
		{"8.8.8.8", false},
		{"192.169.0.1", false},
		{"2001:4860:4860::8888", false},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			if got := IsPrivateAddr(netip.MustParseAddr(tt.addr)); got != tt.want {
				t.Errorf("IsPrivateAddr(%s) = %v, want %v", tt.addr, got, tt.want)
			}
		})
	}
}

func TestClassifier_DialControl(t *testing.T) {
	c, _ := newTestClassifier(nil)

	tests := []struct {
		name    string
		address string
		wantErr bool
	}{
		{"public v4", "93.184.216.34:443", false},
		{"loopback v4", "127.0.0.1:8080", true},
		{"private v4", "10.0.0.1:80", true},
		{"loopback v6", "[::1]:80", true},
		{"public v6", "[2606:2800:220:1:248:1893:25c8:1946]:443", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.DialControl("tcp", tt.address, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("DialControl(%q) error = %v, wantErr %v", tt.address, err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrPrivateAddress) {
				t.Errorf("DialControl(%q) error = %v, want ErrPrivateAddress", tt.address, err)
			}
		})
	}
}

func TestClassifier_DialControl_BadAddress(t *testing.T) {
	c, _ := newTestClassifier(nil)

	err := c.DialControl("tcp", "not-an-address", nil)
	if err == nil {
		t.Fatal("DialControl() expected error for malformed address, got nil")
	}
	if errors.Is(err, ErrPrivateAddress) {
		t.Error("malformed address should not be reported as private")
	}
}
