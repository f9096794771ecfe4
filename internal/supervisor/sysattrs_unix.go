//go:build !windows

package supervisor

import (
	"os/exec"
	"syscall"
)

// configureDetached starts the child in a new session (setsid) so it is
// detached from the controlling terminal and survives the parent's exit.
func configureDetached(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}
}
