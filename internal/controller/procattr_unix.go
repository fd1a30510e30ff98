//go:build !windows

package controller

import (
	"os/exec"
	"syscall"
)

// setChildProcAttr places the child in its own process group so terminal
// signals aimed at the supervisor do not reach it.
func setChildProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
