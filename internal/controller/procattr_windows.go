//go:build windows

package controller

import (
	"os/exec"
	"syscall"
)

// setChildProcAttr detaches the child from the supervisor's console so
// Ctrl-C events do not reach it.
func setChildProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}
