package sshclient

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"sshterm/pkg/transport"
)

// Channel is one interactive shell channel with a remote PTY. It is bound
// to the handle that opened it and becomes invalid when that handle closes.
type Channel struct {
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader

	closeOnce sync.Once
	closed    chan struct{}
}

func openChannel(client *ssh.Client, termType string, geom transport.Geometry) (*Channel, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", transport.ErrChannelRequestDenied, err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.IUTF8:         1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}

	if geom.Width == 0 || geom.Height == 0 {
		geom = transport.DefaultGeometry
	}
	if err := session.RequestPty(termType, geom.Height, geom.Width, modes); err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("%w: pty: %v", transport.ErrChannelRequestDenied, err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("%w: stdin pipe: %v", transport.ErrChannelRequestDenied, err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("%w: stdout pipe: %v", transport.ErrChannelRequestDenied, err)
	}

	if err := session.Shell(); err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("%w: shell: %v", transport.ErrChannelRequestDenied, err)
	}

	logrus.Debugf("interactive channel open: %s (%dx%d)", termType, geom.Width, geom.Height)
	return &Channel{
		session: session,
		stdin:   stdin,
		stdout:  stdout,
		closed:  make(chan struct{}),
	}, nil
}

// Read reads remote output. A clean remote close surfaces as io.EOF; reads
// after Close return ErrChannelClosed.
func (c *Channel) Read(p []byte) (int, error) {
	n, err := c.stdout.Read(p)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return n, io.EOF
		}
		if c.isClosed() {
			return n, transport.ErrChannelClosed
		}
		return n, fmt.Errorf("%w: %v", transport.ErrTransportGone, err)
	}
	return n, nil
}

// Write sends local input to the remote shell. Partial writes are possible;
// callers loop until all bytes are sent.
func (c *Channel) Write(p []byte) (int, error) {
	if c.isClosed() {
		return 0, transport.ErrChannelClosed
	}
	n, err := c.stdin.Write(p)
	if err != nil {
		if c.isClosed() || errors.Is(err, io.EOF) {
			return n, transport.ErrChannelClosed
		}
		return n, fmt.Errorf("%w: %v", transport.ErrTransportGone, err)
	}
	return n, nil
}

// Resize notifies the remote PTY of a local terminal size change.
func (c *Channel) Resize(geom transport.Geometry) error {
	if c.isClosed() {
		return transport.ErrChannelClosed
	}
	return c.session.WindowChange(geom.Height, geom.Width)
}

// Close shuts the channel down and unblocks any pending read. Idempotent.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)

		if err := c.stdin.Close(); err != nil && !isAlreadyClosed(err) && !errors.Is(err, io.EOF) {
			logrus.Debugf("close channel stdin: %v", err)
		}
		// Closing the session tears the channel down server-side, which
		// unblocks the stdout read.
		if err := c.session.Close(); err != nil && !isAlreadyClosed(err) && !errors.Is(err, io.EOF) {
			logrus.Debugf("close channel session: %v", err)
		}

		logrus.Debugf("interactive channel closed")
	})
	return nil
}

func (c *Channel) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
