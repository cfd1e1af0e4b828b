package bridge

import (
	"fmt"
	"net"

	"github.com/forge3d/forge3d/pkg/errdefs"
)

// acquirePort bind-then-releases the first free loopback port in
// [lo, hi], in order. The worker is handed the port immediately after,
// so the race window is accepted for a localhost deployment.
func acquirePort(lo, hi int) (int, error) {
	for port := lo; port <= hi; port++ {
		l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			continue
		}
		l.Close()
		return port, nil
	}
	return 0, fmt.Errorf("no free worker port in [%d, %d]: %w", lo, hi, errdefs.ErrBridgeUnavailable)
}
