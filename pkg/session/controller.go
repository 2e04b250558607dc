// Package session orchestrates the full interactive session lifecycle:
// credential acquisition, connect, authenticate, channel open, relay, and
// teardown. The controller owns at most one transport handle at a time and
// always disconnects it, error paths included.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"sshterm/pkg/credential"
	"sshterm/pkg/define"
	"sshterm/pkg/relay"
	"sshterm/pkg/terminal"
	"sshterm/pkg/transport"
)

// Options configures one session controller.
type Options struct {
	Target      transport.Target
	Dialer      transport.Dialer
	Credentials credential.Source

	// AuthRetries bounds the number of authentication attempts; zero means
	// the default.
	AuthRetries int

	// TermType is the terminal type requested for the remote PTY; empty
	// means the local terminal's type.
	TermType string

	// Grace bounds the relay shutdown wait.
	Grace time.Duration

	// Input and Output are the local ends of the relay; they default to
	// stdin and stdout.
	Input  io.Reader
	Output io.Writer

	// RawMode puts the local terminal into raw mode for the relay phase.
	// Ignored when stdin is not a terminal.
	RawMode bool
}

// Controller drives one session through its state machine.
type Controller struct {
	opts Options
	log  *logrus.Entry

	mu     sync.Mutex
	state  State
	handle transport.Handle
}

// New validates the options and returns an idle controller.
func New(opts Options) (*Controller, error) {
	if err := opts.Target.Validate(); err != nil {
		return nil, err
	}
	if opts.Dialer == nil {
		return nil, errors.New("session requires a transport dialer")
	}
	if opts.Credentials == nil {
		return nil, errors.New("session requires a credential source")
	}
	if opts.AuthRetries <= 0 {
		opts.AuthRetries = define.DefaultAuthRetries
	}
	if opts.Input == nil {
		opts.Input = os.Stdin
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	return &Controller{
		opts:  opts,
		state: Idle,
		log:   logrus.WithField("session", uuid.NewString()[:8]),
	}, nil
}

// State returns the controller's current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.log.Debugf("session state: %s", s)
}

// Run drives the session to a terminal state. It returns nil when the
// session ended normally (remote close, local EOF, or user interrupt
// during the relay) and a *StageError for every failure.
func (c *Controller) Run(ctx context.Context) error {
	handle, err := c.connectAndAuthenticate(ctx)
	if err != nil {
		return c.fail(err)
	}
	c.handle = handle

	channel, restore, err := c.openChannel(ctx, handle)
	if err != nil {
		return c.fail(&StageError{Stage: StageChannel, Err: err})
	}
	defer restore()

	// Watch for local terminal resizes for the duration of the relay.
	relayCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	if terminal.IsTerminal() {
		terminal.OnResize(relayCtx, func(width, height int) {
			if err := channel.Resize(transport.Geometry{Width: width, Height: height}); err != nil {
				c.log.Debugf("resize notification failed: %v", err)
			}
		})
	}

	c.setState(Relaying)
	rel := &relay.Relay{
		Channel: channel,
		Input:   c.opts.Input,
		Output:  c.opts.Output,
		Grace:   c.opts.Grace,
	}
	result, relayErr := rel.Run(ctx)

	c.setState(Closing)
	cancelWatch()
	restore()
	_ = channel.Close()
	_ = handle.Disconnect()
	c.handle = nil

	if relayErr != nil {
		c.setState(Failed)
		return &StageError{Stage: StageRelay, Err: relayErr}
	}

	c.setState(Closed)
	c.log.Debugf("session ended: %s", result)
	return nil
}

// connectAndAuthenticate runs the bounded retry loop. Each attempt uses a
// fresh connection, so at most one transport handle exists at a time.
func (c *Controller) connectAndAuthenticate(ctx context.Context) (transport.Handle, error) {
	target := c.opts.Target

	for attempt := 0; attempt < c.opts.AuthRetries; attempt++ {
		cred, err := c.opts.Credentials.Next(ctx, target.User, target.Host, attempt)
		if err != nil {
			return nil, &StageError{Stage: StageAuth, Err: err}
		}

		c.setState(Connecting)
		if attempt == 0 {
			fmt.Fprintf(os.Stderr, "Connecting to %s...\n", target)
		}
		c.log.Debugf("connecting to %s, attempt %d", target, attempt+1)
		handle, err := c.opts.Dialer.Connect(ctx, target)
		if err != nil {
			cred.Wipe()
			return nil, &StageError{Stage: StageConnect, Err: err}
		}
		c.handle = handle

		c.setState(Authenticating)
		err = handle.Authenticate(ctx, cred)
		cred.Wipe()
		if err == nil {
			fmt.Fprintln(os.Stderr, "Connected.")
			return handle, nil
		}

		_ = handle.Disconnect()
		c.handle = nil

		// Host key problems are a connect-stage failure: the endpoint
		// could not be trusted at all.
		if errors.Is(err, transport.ErrUntrustedHostKey) {
			return nil, &StageError{Stage: StageConnect, Err: err}
		}
		if errors.Is(err, transport.ErrAuthRejected) && attempt+1 < c.opts.AuthRetries {
			fmt.Fprintln(os.Stderr, "Permission denied, please try again.")
			continue
		}
		return nil, &StageError{Stage: StageAuth, Err: err}
	}

	return nil, &StageError{
		Stage: StageAuth,
		Err:   fmt.Errorf("%w: %d attempts", transport.ErrAuthRejected, c.opts.AuthRetries),
	}
}

// openChannel opens the PTY channel and, when requested, switches the
// local terminal into raw mode. The returned restore function is safe to
// call multiple times and must run no matter how the session ends.
func (c *Controller) openChannel(ctx context.Context, handle transport.Handle) (transport.Channel, func(), error) {
	geom := transport.DefaultGeometry
	if terminal.IsTerminal() {
		if width, height, err := terminal.Size(); err == nil {
			geom = transport.Geometry{Width: width, Height: height}
		}
	}

	termType := c.opts.TermType
	if termType == "" {
		termType = terminal.Type()
	}

	channel, err := handle.OpenChannel(ctx, termType, geom)
	if err != nil {
		return nil, nil, err
	}
	c.setState(ChannelOpen)

	restore := func() {}
	if c.opts.RawMode && terminal.IsTerminal() {
		state, err := terminal.MakeStdinRaw()
		if err != nil {
			_ = channel.Close()
			return nil, nil, fmt.Errorf("enter raw mode: %w", err)
		}
		restore = state.Restore
	}

	return channel, restore, nil
}

// fail moves the controller to Failed after cleaning up any
// partially-established handle.
func (c *Controller) fail(err error) error {
	if c.handle != nil {
		_ = c.handle.Disconnect()
		c.handle = nil
	}
	c.setState(Failed)

	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return err
	}
	return &StageError{Stage: StageConnect, Err: err}
}
