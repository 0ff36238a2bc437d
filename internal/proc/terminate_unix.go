//go:build unix

package proc

import (
	"os/exec"
	"syscall"
)

// setProcAttributes puts the worker in its own process group so
// terminate can signal the whole tree, including merge/encode
// subprocesses yt-dlp spawns.
func setProcAttributes(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminate asks the worker's process group to shut down. yt-dlp treats
// SIGINT like Ctrl-C and removes its own partial files where it can.
func terminate(pid int) error {
	return syscall.Kill(-pid, syscall.SIGINT)
}

// forceTerminate kills the process group outright.
func forceTerminate(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}
