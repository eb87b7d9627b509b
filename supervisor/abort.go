package supervisor

import (
	"os"
	"syscall"
)

// AbortParent asks the supervising process to shut down. Workers call it on
// unrecoverable errors instead of trying to recover in place.
func AbortParent() error {
	ppid := os.Getppid()
	if ppid <= 1 {
		return nil
	}
	return syscall.Kill(ppid, syscall.SIGTERM)
}
