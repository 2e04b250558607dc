// Package relay pumps bytes in both directions between an interactive
// transport channel and the local terminal until either side closes, an
// I/O error occurs, or the session is interrupted.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"sshterm/pkg/define"
	"sshterm/pkg/transport"
)

// Result describes why the relay stopped.
type Result int

const (
	// RemoteClosed: the remote side ended the session (clean EOF).
	RemoteClosed Result = iota
	// LocalClosed: local input reached EOF.
	LocalClosed
	// Interrupted: the context was cancelled.
	Interrupted
)

func (r Result) String() string {
	switch r {
	case RemoteClosed:
		return "remote closed"
	case LocalClosed:
		return "local input closed"
	case Interrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// AbortError reports a relay-phase I/O failure with the direction it
// occurred in.
type AbortError struct {
	Direction string
	Err       error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("session aborted: %s: %v", e.Direction, e.Err)
}

func (e *AbortError) Unwrap() error {
	return e.Err
}

// Relay moves bytes between Channel and the local Input/Output streams.
// One Relay serves exactly one interactive session.
type Relay struct {
	Channel transport.Channel
	Input   io.Reader
	Output  io.Writer

	// Grace bounds the wait for both pumps to stop after the first
	// terminator; zero means the default.
	Grace time.Duration

	shutdown  atomic.Bool
	closeOnce sync.Once
}

type outcome struct {
	result Result
	err    error
}

// Run pumps until termination and reports how the session ended. A non-nil
// error means the session aborted on an I/O failure; Result is still valid
// and names the direction that terminated first.
//
// First terminator wins: whichever pump stops first decides the outcome,
// the channel is closed exactly once to unblock the other pump, and the
// wait for the second pump is bounded by Grace. The local input pump may
// outlive the relay when it is parked in a terminal read that only ends at
// process exit; it holds no resources beyond its buffer.
func (r *Relay) Run(ctx context.Context) (Result, error) {
	outcomes := make(chan outcome, 2)

	g := new(errgroup.Group)
	g.Go(func() error {
		out := r.pumpRemote()
		outcomes <- out
		return out.err
	})
	g.Go(func() error {
		out := r.pumpLocal()
		outcomes <- out
		return out.err
	})

	var res Result
	var abortErr error
	select {
	case out := <-outcomes:
		res, abortErr = out.result, out.err
	case <-ctx.Done():
		res = Interrupted
	}

	r.closeChannel()

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(r.grace()):
		logrus.Debugf("relay shutdown grace period elapsed")
	}

	logrus.Debugf("relay finished: %s", res)
	return res, abortErr
}

// pumpRemote moves remote output to the local output stream.
func (r *Relay) pumpRemote() outcome {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Channel.Read(buf)
		if n > 0 {
			if werr := writeFull(r.Output, buf[:n]); werr != nil {
				return outcome{RemoteClosed, &AbortError{Direction: "remote to local", Err: werr}}
			}
		}
		if err != nil {
			// A definitive end of stream is a normal session end; anything
			// else aborts the session.
			if errors.Is(err, io.EOF) || errors.Is(err, transport.ErrChannelClosed) {
				return outcome{RemoteClosed, nil}
			}
			return outcome{RemoteClosed, &AbortError{Direction: "remote to local", Err: err}}
		}
		// Zero-byte read without an error is not EOF; retry.
	}
}

// pumpLocal moves local input to the channel.
func (r *Relay) pumpLocal() outcome {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Input.Read(buf)
		if n > 0 {
			if werr := writeFull(r.Channel, buf[:n]); werr != nil {
				if errors.Is(werr, transport.ErrChannelClosed) && r.shutdown.Load() {
					return outcome{LocalClosed, nil}
				}
				return outcome{LocalClosed, &AbortError{Direction: "local to remote", Err: werr}}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return outcome{LocalClosed, nil}
			}
			if r.shutdown.Load() {
				return outcome{LocalClosed, nil}
			}
			return outcome{LocalClosed, &AbortError{Direction: "local to remote", Err: err}}
		}
	}
}

// closeChannel closes the channel exactly once, even when both pumps and
// the coordinator race to shut down.
func (r *Relay) closeChannel() {
	r.closeOnce.Do(func() {
		r.shutdown.Store(true)
		if err := r.Channel.Close(); err != nil {
			logrus.Debugf("close channel: %v", err)
		}
	})
}

func (r *Relay) grace() time.Duration {
	if r.Grace > 0 {
		return r.Grace
	}
	return define.DefaultShutdownGrace
}

// writeFull loops until p is fully written, since channel writes may be
// partial.
func writeFull(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}
