package agents

import (
	"fmt"
	"net"
)

// FreePortAllocator asks the kernel for an unused local TCP port
type FreePortAllocator struct{}

// Allocate binds :0 on loopback, reads the assigned port and releases it.
// The port may be taken by another process before it is used.
func (FreePortAllocator) Allocate() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("failed to allocate port: %w", err)
	}
	defer l.Close()

	return l.Addr().(*net.TCPAddr).Port, nil
}
