// Package transport defines the capability contract consumed by the session
// layer: a Dialer produces authenticated Handles, a Handle produces
// interactive Channels. The real SSH-backed implementation lives in
// pkg/sshclient; tests substitute in-memory fakes.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"sshterm/pkg/credential"
	"sshterm/pkg/define"
)

var (
	// ErrDNSFailure is returned when the target hostname cannot be resolved.
	ErrDNSFailure = errors.New("hostname resolution failed")
	// ErrUnreachableHost is returned when the target resolved but refused or
	// dropped the connection attempt.
	ErrUnreachableHost = errors.New("host unreachable")
	// ErrTimeoutExceeded is returned when the connect deadline elapsed.
	ErrTimeoutExceeded = errors.New("connect timeout exceeded")
	// ErrUntrustedHostKey is returned when the host key policy rejected the
	// presented key.
	ErrUntrustedHostKey = errors.New("host key not trusted")
	// ErrAuthRejected is returned when the server rejected the credential.
	ErrAuthRejected = errors.New("authentication rejected")
	// ErrAuthMethodUnsupported is returned when the server accepts none of
	// the offered authentication methods.
	ErrAuthMethodUnsupported = errors.New("authentication method unsupported")
	// ErrChannelRequestDenied is returned when the server refused the
	// interactive channel or PTY request.
	ErrChannelRequestDenied = errors.New("channel request denied")
	// ErrChannelClosed is returned by channel I/O after the channel closed.
	ErrChannelClosed = errors.New("channel is closed")
	// ErrTransportGone is returned when the underlying connection vanished.
	ErrTransportGone = errors.New("transport connection is gone")
)

// Target identifies the remote endpoint of one session. Immutable once the
// session starts.
type Target struct {
	Host string
	Port uint16
	User string
}

// Addr returns the host:port dial address. IPv6 hosts are bracketed.
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(int(t.Port)))
}

// String renders the target in user@host:port form for logs and prompts.
func (t Target) String() string {
	return fmt.Sprintf("%s@%s", t.User, t.Addr())
}

// Validate checks the target is complete enough to dial.
func (t Target) Validate() error {
	if t.Host == "" {
		return errors.New("target host cannot be empty")
	}
	if t.User == "" {
		return errors.New("target user cannot be empty")
	}
	if t.Port == 0 {
		return errors.New("target port must be greater than 0")
	}
	return nil
}

// Geometry is the terminal size passed to PTY allocation and resize.
type Geometry struct {
	Width  int
	Height int
}

// DefaultGeometry is used when the local terminal size cannot be queried.
var DefaultGeometry = Geometry{Width: 80, Height: 24}

// Dialer establishes transport connections. Connect performs network setup
// only; the returned handle is not authenticated yet.
type Dialer interface {
	Connect(ctx context.Context, target Target) (Handle, error)
}

// Handle owns one established connection: its socket and cryptographic
// session state. Exactly one handle is live per session controller at a
// time, and it is destroyed by Disconnect on every path, error paths
// included.
type Handle interface {
	// Authenticate proves the target user's identity with the given
	// credential. It does not retry; retry policy belongs to the caller.
	Authenticate(ctx context.Context, cred credential.Credential) error

	// OpenChannel opens the interactive PTY channel. Valid only after
	// Authenticate succeeded.
	OpenChannel(ctx context.Context, termType string, geom Geometry) (Channel, error)

	// Disconnect tears down the connection. Idempotent: calling it twice or
	// on a never-authenticated handle is a no-op, not an error.
	Disconnect() error
}

// Channel is one interactive byte stream bound 1:1 to its handle. Read
// returns io.EOF or ErrChannelClosed once the remote side is gone — it never
// blocks forever against a dead peer. Write may be partial; callers loop.
type Channel interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)

	// Resize notifies the remote PTY of a local size change. Best effort:
	// failures are for logging, never session-fatal.
	Resize(geom Geometry) error

	// Close shuts the channel down and unblocks pending reads. Idempotent.
	Close() error
}

// NewTarget builds a validated target, applying the default SSH port when
// port is zero.
func NewTarget(host string, port uint16, user string) (Target, error) {
	if port == 0 {
		port = define.DefaultSSHPort
	}
	t := Target{Host: host, Port: port, User: user}
	if err := t.Validate(); err != nil {
		return Target{}, err
	}
	return t, nil
}
