// Package localshell provides a local-PTY stand-in for a real SSH shell
// channel, used by the end-to-end test harness: spec's shell-echo and
// resize-propagation scenarios (spec §8) need a PTY to talk to, and a real
// SSH server isn't available in CI, so tests exercise the shell pump and
// session broker against a local bash PTY through the exact same
// stdin/stdout/Resizer seam a real SSH session uses.
//
// Grounded on internal/terminal/terminal.go's LocalSession, which bridges a
// local bash PTY directly to a WebSocket; here the PTY is exposed as plain
// io.WriteCloser/io.Reader/broker.Resizer instead, since bridging to the
// framed client stream is shellpump's job, not this package's.
package localshell

import (
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/creack/pty"
)

// Shell is a local PTY-backed process, wired into a broker.Session via
// broker.NewConnected.
type Shell struct {
	cmd  *exec.Cmd
	ptmx *os.File
}

// Start launches shellPath (defaults to "bash" when empty) under a PTY.
func Start(shellPath string) (*Shell, error) {
	if shellPath == "" {
		shellPath = "bash"
	}
	cmd := exec.Command(shellPath)
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("localshell: start %s: %w", shellPath, err)
	}
	return &Shell{cmd: cmd, ptmx: ptmx}, nil
}

// Stdin returns the PTY's write side (keyboard input).
func (s *Shell) Stdin() io.WriteCloser { return s.ptmx }

// Stdout returns the PTY's read side (terminal output). Same underlying
// file as Stdin — a PTY master is bidirectional.
func (s *Shell) Stdout() io.Reader { return s.ptmx }

// WindowChange implements broker.Resizer.
func (s *Shell) WindowChange(rows, cols int) error {
	return pty.Setsize(s.ptmx, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
}

// Close kills the subprocess and releases the PTY.
func (s *Shell) Close() error {
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	err := s.ptmx.Close()
	_ = s.cmd.Wait()
	return err
}
