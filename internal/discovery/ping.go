package discovery

import (
	"context"
	"runtime"
	"time"

	probing "github.com/prometheus-community/pro-bing"
	"go.uber.org/zap"

	"github.com/HerbHall/iloscout/pkg/netaddr"
)

// pingTimeout bounds the reachability check that gates registration.
const pingTimeout = 5 * time.Second

// Pinger answers ICMP reachability questions.
type Pinger interface {
	Reachable(ctx context.Context, addr netaddr.IPv4Address) bool
}

// Compile-time interface guard.
var _ Pinger = (*ICMPPinger)(nil)

// ICMPPinger checks reachability with a single echo request.
type ICMPPinger struct {
	timeout time.Duration
	logger  *zap.Logger
}

// NewICMPPinger creates a pinger with the default timeout.
func NewICMPPinger(logger *zap.Logger) *ICMPPinger {
	return &ICMPPinger{timeout: pingTimeout, logger: logger}
}

// Reachable reports whether the address answers an echo request within
// the timeout.
func (p *ICMPPinger) Reachable(ctx context.Context, addr netaddr.IPv4Address) bool {
	pinger, err := probing.NewPinger(addr.String())
	if err != nil {
		p.logger.Debug("failed to create pinger",
			zap.String("address", addr.String()),
			zap.Error(err),
		)
		return false
	}

	pinger.Count = 1
	pinger.Timeout = p.timeout
	pinger.SetPrivileged(runtime.GOOS == "windows")

	done := make(chan struct{})
	go func() {
		defer close(done)
		if runErr := pinger.Run(); runErr != nil {
			p.logger.Debug("ping failed",
				zap.String("address", addr.String()),
				zap.Error(runErr),
			)
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
		pinger.Stop()
		return false
	}

	return pinger.Statistics().PacketsRecv > 0
}
