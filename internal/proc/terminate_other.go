//go:build !unix && !windows

package proc

import (
	"os"
	"os/exec"
)

func setProcAttributes(cmd *exec.Cmd) {}

// terminate falls back to killing only the direct process; descendants
// are orphaned on platforms without group or tree semantics.
func terminate(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}

func forceTerminate(pid int) error {
	return terminate(pid)
}
