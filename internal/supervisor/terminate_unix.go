//go:build unix

package supervisor

import (
	"os"

	"golang.org/x/sys/unix"
)

// terminate asks the process to shut down. It returns os.ErrProcessDone when
// the process has already exited.
func terminate(p *os.Process) error {
	return p.Signal(unix.SIGTERM)
}
