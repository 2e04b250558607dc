// Package terminal controls the local terminal: raw mode for the relay
// phase, size queries for PTY allocation, and resize notifications.
package terminal

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
	"golang.org/x/term"

	"sshterm/pkg/define"
)

// State remembers the terminal mode in effect before MakeStdinRaw, so the
// terminal can be restored no matter how the session ends.
type State struct {
	state *term.State
}

// IsTerminal reports whether stdin is attached to a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// Size returns the current terminal dimensions in columns and rows.
func Size() (width, height int, err error) {
	return term.GetSize(int(os.Stdin.Fd()))
}

// MakeStdinRaw switches stdin to raw mode and returns the previous state.
// The caller must restore it with Restore before the process exits.
func MakeStdinRaw() (*State, error) {
	st, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err != nil {
		return nil, err
	}
	return &State{state: st}, nil
}

// Restore puts the terminal back into the recorded mode. Safe to call more
// than once.
func (s *State) Restore() {
	if s == nil || s.state == nil {
		return
	}
	if err := term.Restore(int(os.Stdin.Fd()), s.state); err != nil {
		logrus.Warnf("restore terminal state: %v", err)
	}
	s.state = nil
}

// Type returns the local terminal type, falling back to a sane default when
// $TERM is unset.
func Type() string {
	termEnv := os.Getenv("TERM")
	if termEnv == "" {
		termEnv = define.DefaultTermType
	}
	return termEnv
}

// OnResize invokes fn with the new dimensions every time the terminal is
// resized, and once immediately with the current size. The watcher stops
// when ctx is done.
func OnResize(ctx context.Context, fn func(width, height int)) {
	ch := make(chan os.Signal, 1)
	notifyResize(ch)

	if width, height, err := Size(); err == nil {
		fn(width, height)
	}

	go func() {
		defer stopNotify(ch)
		for {
			select {
			case <-ctx.Done():
				logrus.Debugf("terminal resize watcher done")
				return
			case <-ch:
				if width, height, err := Size(); err == nil {
					fn(width, height)
				}
			}
		}
	}()
}
