// Package sshclient is the real transport provider: it implements the
// pkg/transport contract on top of golang.org/x/crypto/ssh.
package sshclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"sshterm/pkg/credential"
	"sshterm/pkg/define"
	"sshterm/pkg/hostkey"
	"sshterm/pkg/transport"
)

// Dialer produces SSH transport handles. The zero value is not usable;
// construct it with a host key policy.
type Dialer struct {
	Policy            hostkey.Policy
	ConnectTimeout    time.Duration
	KeepaliveInterval time.Duration
}

// NewDialer returns a dialer with the default timeouts.
func NewDialer(policy hostkey.Policy) *Dialer {
	return &Dialer{
		Policy:            policy,
		ConnectTimeout:    define.DefaultConnectTimeout,
		KeepaliveInterval: define.DefaultKeepaliveInterval,
	}
}

// Connect establishes the TCP connection to the target. The SSH handshake
// happens later, in Handle.Authenticate.
func (d *Dialer) Connect(ctx context.Context, target transport.Target) (transport.Handle, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}

	dialer := &net.Dialer{Timeout: d.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", target.Addr())
	if err != nil {
		return nil, classifyDialError(target, err)
	}

	logrus.Debugf("tcp connection established to %s", target.Addr())
	return &Handle{
		target:    target,
		conn:      conn,
		policy:    d.Policy,
		keepalive: d.KeepaliveInterval,
		timeout:   d.ConnectTimeout,
		closed:    make(chan struct{}),
	}, nil
}

func classifyDialError(target transport.Target, err error) error {
	// An interrupted dial is not a network verdict; let the caller see the
	// context error directly.
	if errors.Is(err, context.Canceled) {
		return err
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Errorf("%w: %s: %w", transport.ErrDNSFailure, target.Host, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %s", transport.ErrTimeoutExceeded, target.Addr())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", transport.ErrTimeoutExceeded, target.Addr())
	}

	return fmt.Errorf("%w: %s: %w", transport.ErrUnreachableHost, target.Addr(), err)
}

// Handle owns one TCP connection and, after Authenticate, the SSH session
// state on top of it. It is destroyed by Disconnect on every path.
type Handle struct {
	target    transport.Target
	conn      net.Conn
	policy    hostkey.Policy
	keepalive time.Duration
	timeout   time.Duration

	client *ssh.Client

	closeOnce sync.Once
	closed    chan struct{}
	mu        sync.RWMutex
}

// Authenticate runs the SSH handshake with the credential's methods and the
// host key policy. It performs exactly one attempt; a failed attempt
// consumes the underlying connection, so callers reconnect before retrying.
func (h *Handle) Authenticate(ctx context.Context, cred credential.Credential) error {
	if h.isClosed() {
		return transport.ErrTransportGone
	}

	methods, err := cred.Methods(ctx)
	if err != nil {
		if errors.Is(err, credential.ErrNoMethods) {
			return fmt.Errorf("%w: %v", transport.ErrAuthMethodUnsupported, err)
		}
		return err
	}

	// The policy error is captured out-of-band: the ssh package flattens
	// callback errors into its handshake error string, which would defeat
	// errors.Is classification.
	var policyErr error
	cb := func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := h.policy.Evaluate(hostname, remote, key)
		if err != nil {
			policyErr = err
		}
		return err
	}

	cfg := &ssh.ClientConfig{
		User:            h.target.User,
		Auth:            methods,
		HostKeyCallback: cb,
	}

	// NewClientConn has no context or timeout of its own (ClientConfig.Timeout
	// only applies to ssh.Dial's TCP dial), so the handshake is bounded by a
	// socket deadline, and cancellation unblocks it by closing the socket.
	if h.timeout > 0 {
		if err := h.conn.SetDeadline(time.Now().Add(h.timeout)); err != nil {
			return fmt.Errorf("%w: %v", transport.ErrTransportGone, err)
		}
	}
	handshakeDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = h.conn.Close()
		case <-handshakeDone:
		}
	}()

	clientConn, chans, reqs, err := ssh.NewClientConn(h.conn, h.target.Addr(), cfg)
	close(handshakeDone)
	if err != nil {
		_ = h.conn.Close()
		if policyErr != nil {
			return fmt.Errorf("%w: %v", transport.ErrUntrustedHostKey, policyErr)
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%w: authentication aborted", ctx.Err())
		}
		var netErr net.Error
		if (errors.As(err, &netErr) && netErr.Timeout()) || strings.Contains(err.Error(), "i/o timeout") {
			return fmt.Errorf("%w: handshake with %s", transport.ErrTimeoutExceeded, h.target.Addr())
		}
		if strings.Contains(err.Error(), "unable to authenticate") {
			return fmt.Errorf("%w: %v", transport.ErrAuthRejected, err)
		}
		return fmt.Errorf("%w: %v", transport.ErrTransportGone, err)
	}
	_ = h.conn.SetDeadline(time.Time{})

	h.mu.Lock()
	h.client = ssh.NewClient(clientConn, chans, reqs)
	h.mu.Unlock()

	if h.keepalive > 0 {
		go h.keepaliveLoop()
	}

	logrus.Debugf("authenticated as %s@%s", h.target.User, h.target.Addr())
	return nil
}

// OpenChannel opens the interactive PTY channel. Authenticate must have
// succeeded first.
func (h *Handle) OpenChannel(ctx context.Context, termType string, geom transport.Geometry) (transport.Channel, error) {
	h.mu.RLock()
	client := h.client
	h.mu.RUnlock()

	if client == nil || h.isClosed() {
		return nil, transport.ErrTransportGone
	}

	return openChannel(client, termType, geom)
}

// keepaliveLoop sends periodic keepalive requests until the handle closes
// or a request fails.
func (h *Handle) keepaliveLoop() {
	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-h.closed:
			return
		case <-ticker.C:
			h.mu.RLock()
			client := h.client
			h.mu.RUnlock()

			if client == nil {
				return
			}
			if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				logrus.Debugf("keepalive failed: %v", err)
				return
			}
		}
	}
}

// Disconnect tears down the SSH client and the socket. Idempotent.
func (h *Handle) Disconnect() error {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		close(h.closed)

		if h.client != nil {
			if err := h.client.Close(); err != nil && !isAlreadyClosed(err) {
				logrus.Debugf("close ssh client: %v", err)
			}
			h.client = nil
		}
		if h.conn != nil {
			if err := h.conn.Close(); err != nil && !isAlreadyClosed(err) {
				logrus.Debugf("close connection: %v", err)
			}
			h.conn = nil
		}

		logrus.Debugf("transport to %s closed", h.target.Addr())
	})
	return nil
}

func (h *Handle) isClosed() bool {
	select {
	case <-h.closed:
		return true
	default:
		return false
	}
}

func isAlreadyClosed(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, net.ErrClosed) ||
		strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection already closed")
}
