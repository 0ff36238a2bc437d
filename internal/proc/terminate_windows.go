//go:build windows

package proc

import (
	"os/exec"
	"strconv"
)

// setProcAttributes is a no-op on Windows; tree termination goes through
// taskkill /T instead of process groups.
func setProcAttributes(cmd *exec.Cmd) {}

// terminate asks the worker process tree to shut down.
func terminate(pid int) error {
	return runTaskkill(pid, false)
}

// forceTerminate kills the worker process tree outright.
func forceTerminate(pid int) error {
	return runTaskkill(pid, true)
}

func runTaskkill(pid int, force bool) error {
	args := []string{"/T", "/PID", strconv.Itoa(pid)}
	if force {
		args = append([]string{"/F"}, args...)
	}
	cmd := exec.Command("taskkill", args...)
	return cmd.Run()
}
