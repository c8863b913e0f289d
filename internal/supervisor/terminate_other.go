//go:build !unix

package supervisor

import "os"

// terminate has no graceful variant off unix; the grace period still applies
// to output pipes left open by descendants.
func terminate(p *os.Process) error {
	return p.Kill()
}
