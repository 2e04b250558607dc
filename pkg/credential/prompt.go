package credential

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/term"

	"sshterm/pkg/define"
)

// Prompter collects interactive input from the user. The session core only
// consumes the resulting values; it never parses raw input itself.
type Prompter interface {
	// Line reads one line of visible input.
	Line(prompt string) (string, error)

	// Secret reads one line without echoing it.
	Secret(prompt string) ([]byte, error)
}

// TTYPrompter prompts on the process's terminal. Prompts go to stderr so
// stdout stays a clean relay surface.
type TTYPrompter struct {
	In  *os.File
	Out io.Writer
}

// NewTTYPrompter prompts on stdin/stderr.
func NewTTYPrompter() *TTYPrompter {
	return &TTYPrompter{In: os.Stdin, Out: os.Stderr}
}

func (p *TTYPrompter) Line(prompt string) (string, error) {
	fmt.Fprint(p.Out, prompt)
	reader := bufio.NewReader(p.In)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("%w: %v", ErrPromptAborted, err)
	}
	return strings.TrimSpace(line), nil
}

func (p *TTYPrompter) Secret(prompt string) ([]byte, error) {
	fmt.Fprint(p.Out, prompt)
	defer fmt.Fprint(p.Out, "\r\n")

	if term.IsTerminal(int(p.In.Fd())) {
		secret, err := term.ReadPassword(int(p.In.Fd()))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPromptAborted, err)
		}
		return secret, nil
	}

	// Not a terminal (tests, piped input): fall back to a plain line read.
	line, err := p.Line("")
	if err != nil {
		return nil, err
	}
	return []byte(line), nil
}

// Source produces the credential for each authentication attempt. attempt
// is zero-based; implementations may offer a richer credential on the first
// attempt and a fresh password prompt on later ones.
type Source interface {
	Next(ctx context.Context, user, host string, attempt int) (Credential, error)
}

// InteractiveSource is the default source: the first attempt offers the SSH
// agent (when a socket is present), the configured identity file (when it
// exists), and a lazy password prompt; subsequent attempts re-prompt for
// the password only, since static material will not change between
// attempts.
type InteractiveSource struct {
	IdentityPath string
	Prompter     Prompter
}

func (s *InteractiveSource) Next(ctx context.Context, user, host string, attempt int) (Credential, error) {
	if s.Prompter == nil {
		return nil, fmt.Errorf("interactive source requires a prompter")
	}

	password := &PasswordPrompt{
		Prompt:   fmt.Sprintf("%s@%s's password: ", user, host),
		Prompter: s.Prompter,
	}
	if attempt > 0 {
		return password, nil
	}

	var parts []Credential
	if os.Getenv(define.SSHAuthSockEnv) != "" {
		parts = append(parts, &AgentKeys{})
	}
	if s.IdentityPath != "" {
		if _, statErr := os.Stat(s.IdentityPath); statErr == nil {
			parts = append(parts, &PrivateKey{Path: s.IdentityPath, Prompter: s.Prompter})
		}
	}
	parts = append(parts, password)
	return Compose(parts...), nil
}

// PasswordPrompt defers the password prompt until the server actually asks
// for password authentication, so key and agent methods run first without
// bothering the user.
type PasswordPrompt struct {
	Prompt   string
	Prompter Prompter

	secret []byte
}

func (p *PasswordPrompt) Methods(ctx context.Context) ([]ssh.AuthMethod, error) {
	cb := func() (string, error) {
		secret, err := p.Prompter.Secret(p.Prompt)
		if err != nil {
			return "", err
		}
		p.secret = secret
		return string(secret), nil
	}
	return []ssh.AuthMethod{ssh.PasswordCallback(cb)}, nil
}

func (p *PasswordPrompt) Wipe() {
	for i := range p.secret {
		p.secret[i] = 0
	}
	p.secret = nil
}
