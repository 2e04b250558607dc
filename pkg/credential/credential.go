// Package credential holds the secret material used to authenticate a
// session. Secrets live only in memory and are wiped once the transport no
// longer needs them; nothing in this package logs secret bytes.
package credential

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	pkgerrors "github.com/pkg/errors"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"sshterm/pkg/define"
)

var (
	// ErrNoMethods is returned when a credential produces no usable
	// authentication methods.
	ErrNoMethods = errors.New("no authentication method available")
	// ErrPromptAborted is returned when the user cancelled an interactive
	// prompt.
	ErrPromptAborted = errors.New("prompt aborted")
)

// Credential turns secret material into SSH authentication methods.
// Implementations must support Wipe being called multiple times.
type Credential interface {
	// Methods assembles the ssh.AuthMethod values for one handshake attempt.
	Methods(ctx context.Context) ([]ssh.AuthMethod, error)

	// Wipe zeroes any secret bytes held in memory. The credential is
	// unusable afterwards.
	Wipe()
}

// Password authenticates with a static secret held in memory.
type Password struct {
	secret []byte
}

// NewPassword takes ownership of secret; the caller must not reuse it.
func NewPassword(secret []byte) *Password {
	return &Password{secret: secret}
}

func (p *Password) Methods(ctx context.Context) ([]ssh.AuthMethod, error) {
	if p.secret == nil {
		return nil, ErrNoMethods
	}
	return []ssh.AuthMethod{ssh.Password(string(p.secret))}, nil
}

func (p *Password) Wipe() {
	for i := range p.secret {
		p.secret[i] = 0
	}
	p.secret = nil
}

// PrivateKey authenticates with an on-disk private key. Encrypted keys
// trigger a passphrase prompt at handshake time.
type PrivateKey struct {
	Path     string
	Prompter Prompter

	passphrase []byte
}

func (k *PrivateKey) Methods(ctx context.Context) ([]ssh.AuthMethod, error) {
	keyData, err := os.ReadFile(k.Path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "read private key %q", k.Path)
	}

	signer, err := ssh.ParsePrivateKey(keyData)
	if err == nil {
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}

	var missing *ssh.PassphraseMissingError
	if !errors.As(err, &missing) {
		return nil, fmt.Errorf("parse private key %q: %w", k.Path, err)
	}
	if k.Prompter == nil {
		return nil, fmt.Errorf("private key %q is encrypted and no prompter is available", k.Path)
	}

	k.passphrase, err = k.Prompter.Secret(fmt.Sprintf("Enter passphrase for %s: ", k.Path))
	if err != nil {
		return nil, err
	}
	signer, err = ssh.ParsePrivateKeyWithPassphrase(keyData, k.passphrase)
	if err != nil {
		return nil, fmt.Errorf("decrypt private key %q: %w", k.Path, err)
	}
	return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
}

func (k *PrivateKey) Wipe() {
	for i := range k.passphrase {
		k.passphrase[i] = 0
	}
	k.passphrase = nil
}

// AgentKeys authenticates with whatever identities the user's SSH agent
// holds. The private keys never enter this process; the agent signs on our
// behalf.
type AgentKeys struct {
	// SocketPath overrides $SSH_AUTH_SOCK when set.
	SocketPath string

	conn net.Conn
}

func (a *AgentKeys) Methods(ctx context.Context) ([]ssh.AuthMethod, error) {
	sock := a.SocketPath
	if sock == "" {
		sock = os.Getenv(define.SSHAuthSockEnv)
	}
	if sock == "" {
		return nil, fmt.Errorf("%w: no SSH agent socket", ErrNoMethods)
	}

	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "dial SSH agent %q", sock)
	}
	a.conn = conn

	ag := agent.NewClient(conn)
	return []ssh.AuthMethod{ssh.PublicKeysCallback(ag.Signers)}, nil
}

// Wipe closes the agent connection; there is no key material to zero.
func (a *AgentKeys) Wipe() {
	if a.conn != nil {
		_ = a.conn.Close()
		a.conn = nil
	}
}

// composite tries several credentials in order within one handshake.
type composite struct {
	parts []Credential
}

// Compose combines credentials so the handshake offers their methods in
// sequence. Order matters: most secure first (agent, then key, then
// password).
func Compose(parts ...Credential) Credential {
	return &composite{parts: parts}
}

func (c *composite) Methods(ctx context.Context) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	for _, p := range c.parts {
		m, err := p.Methods(ctx)
		if err != nil {
			if errors.Is(err, ErrNoMethods) {
				continue
			}
			return nil, err
		}
		methods = append(methods, m...)
	}
	if len(methods) == 0 {
		return nil, ErrNoMethods
	}
	return methods, nil
}

func (c *composite) Wipe() {
	for _, p := range c.parts {
		p.Wipe()
	}
}
