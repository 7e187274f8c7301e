//go:build !unix

package runner

import (
	"os"
	"os/exec"
)

func configureKill(cmd *exec.Cmd) {
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return cmd.Process.Kill()
	}
}

func signalExitCode(ps *os.ProcessState) int { return ps.ExitCode() }
