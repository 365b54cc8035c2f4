//go:build !windows

package renderer

import (
	"os/exec"
	"syscall"
)

// setProcessGroup starts cmd in its own process group so a timeout can kill
// everything latex spawned (mktexpk, kpsewhich, ...).
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessGroup kills a process and all its children by sending SIGKILL
// to the process group (negative PID).
func killProcessGroup(pid int) {
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}
