//go:build unix

package claude

import (
	"os/exec"
	"syscall"
)

// setProcessGroup places the child in its own process group so a kill
// reaches any grandchildren it spawned.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killProcessGroup(cmd *exec.Cmd) bool {
	if cmd.Process == nil {
		return false
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		// Fall back to the single process if the group is already gone.
		return cmd.Process.Kill() == nil
	}
	return true
}
