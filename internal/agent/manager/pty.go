//go:build !windows

// Package manager implements the PTY-backed agent fleet: spawning,
// stopping, and serialized prompt delivery for subprocess CLI agents.
package manager

import (
	"os"
	"os/exec"

	"github.com/creack/pty"
)

// PTY abstracts the master side of a pseudo-terminal so the rest of the
// package does not depend directly on the platform-specific syscalls.
type PTY interface {
	Read(b []byte) (int, error)
	Write(b []byte) (int, error)
	Close() error
	Resize(cols, rows uint16) error
}

type unixPTY struct {
	f *os.File
}

func (p *unixPTY) Read(b []byte) (int, error)  { return p.f.Read(b) }
func (p *unixPTY) Write(b []byte) (int, error) { return p.f.Write(b) }
func (p *unixPTY) Close() error                { return p.f.Close() }

func (p *unixPTY) Resize(cols, rows uint16) error {
	return pty.Setsize(p.f, &pty.Winsize{Cols: cols, Rows: rows})
}

// startPTY launches cmd attached to a new PTY sized cols x rows.
func startPTY(cmd *exec.Cmd, cols, rows int) (PTY, error) {
	f, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	if err != nil {
		return nil, err
	}
	return &unixPTY{f: f}, nil
}
