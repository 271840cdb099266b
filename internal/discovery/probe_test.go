package discovery

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"github.com/HerbHall/iloscout/pkg/netaddr"
)

type staticChecker map[netaddr.IPv4Address]bool

func (c staticChecker) IsRegisteredAddress(addr netaddr.IPv4Address) bool {
	return c[addr]
}

func TestValidateRIMP(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{
			name: "valid document",
			body: "<RIMP><HSI><SBSN>CZ1234</SBSN></HSI><MP><PN>Integrated Lights-Out 5 (iLO 5)</PN></MP></RIMP>",
		},
		{
			name: "leading whitespace",
			body: "\n  <RIMP><MP></MP></RIMP>",
		},
		{
			name:    "html login page",
			body:    "<html><body>router login</body></html>",
			wantErr: true,
		},
		{
			name:    "empty body",
			body:    "",
			wantErr: true,
		},
		{
			name:    "truncated xml",
			body:    "<RIMP><HSI><SBSN>CZ1234",
			wantErr: true,
		},
		{
			name:    "entity expansion",
			body:    "<RIMP>&bomb;</RIMP>",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateRIMP([]byte(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIsConnectTimeout(t *testing.T) {
	assert.True(t, isConnectTimeout(context.DeadlineExceeded))
	assert.True(t, isConnectTimeout(&net.OpError{Op: "dial", Err: timeoutErr{}}))
	assert.True(t, isConnectTimeout(errors.New("i/o timeout")))
	assert.False(t, isConnectTimeout(errors.New("connection refused")))
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "timed out" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsILOShortCircuits(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	bl := NewBlacklist()
	blacklisted := mustAddr(t, "10.6.0.9")
	registered := mustAddr(t, "10.6.0.10")
	bl.Add(blacklisted)

	p := NewProber(ProbeConfig{}, bl, staticChecker{registered: true}, nil, zaptest.NewLogger(t))

	// Neither path touches the network.
	assert.False(t, p.IsILO(ctx, blacklisted))
	assert.True(t, p.IsILO(ctx, registered))
}

func TestRecheckProbesRegisteredAddresses(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	bl := NewBlacklist()
	registered := mustAddr(t, "192.0.2.1")

	p := NewProber(ProbeConfig{
		ConnectTimeout: 25 * time.Millisecond,
		ReadTimeout:    25 * time.Millisecond,
	}, bl, staticChecker{registered: true}, nil, zaptest.NewLogger(t))

	// Registration does not short-circuit: the dark address probes false,
	// and the failure does not blacklist it.
	assert.False(t, p.Recheck(ctx, registered))
	assert.False(t, bl.Contains(registered))

	bl.Add(registered)
	assert.False(t, p.Recheck(ctx, registered))
}

func TestProberDefaultTimeouts(t *testing.T) {
	p := NewProber(ProbeConfig{}, NewBlacklist(), nil, nil, zaptest.NewLogger(t))
	assert.Equal(t, DefaultConnectTimeout, p.cfg.ConnectTimeout)
	assert.Equal(t, DefaultReadTimeout, p.cfg.ReadTimeout)
}
