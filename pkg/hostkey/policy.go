package hostkey

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"sshterm/pkg/credential"
)

var (
	// ErrKeyChanged is returned when the presented key differs from the
	// recorded one. This rejection is unconditional: no policy mode may
	// override it.
	ErrKeyChanged = errors.New("remote host identification has changed")
	// ErrKeyRejected is returned when the policy declined a previously
	// unseen key.
	ErrKeyRejected = errors.New("host key rejected")
)

// Policy decides whether to accept a presented host key. Implementations
// must reject a key that conflicts with a recorded one regardless of how
// permissive they are about unseen keys.
type Policy interface {
	Evaluate(hostport string, remote net.Addr, key ssh.PublicKey) error
}

// Callback adapts a Policy to the ssh.HostKeyCallback the transport
// provider plugs into the handshake.
func Callback(p Policy) ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		return p.Evaluate(hostname, remote, key)
	}
}

// checkRecorded applies the mandatory mismatch check shared by every
// policy mode. It returns (handled, err): when handled is true the
// classification is final.
func checkRecorded(store *Store, hostport string, remote net.Addr, key ssh.PublicKey, warn io.Writer) (bool, error) {
	status, err := store.Check(hostport, remote, key)
	if err != nil {
		return true, err
	}
	switch status {
	case Trusted:
		return true, nil
	case Changed:
		fmt.Fprintf(warn,
			"@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@\n"+
				"@    WARNING: REMOTE HOST IDENTIFICATION HAS CHANGED!     @\n"+
				"@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@\n"+
				"The %s key sent by %s is\n%s\n"+
				"A different key is recorded in %s.\n",
			key.Type(), hostport, ssh.FingerprintSHA256(key), store.Path())
		return true, fmt.Errorf("%w: %s", ErrKeyChanged, hostport)
	default:
		return false, nil
	}
}

// AutoAcceptPolicy records any previously unseen key and continues
// (trust-on-first-use). This convenience mode is an explicit opt-in; it
// still rejects a key that conflicts with a recorded one.
type AutoAcceptPolicy struct {
	Store *Store

	// Warn receives user-facing notices; defaults to stderr.
	Warn io.Writer
}

func (p *AutoAcceptPolicy) Evaluate(hostport string, remote net.Addr, key ssh.PublicKey) error {
	warn := p.Warn
	if warn == nil {
		warn = os.Stderr
	}

	handled, err := checkRecorded(p.Store, hostport, remote, key, warn)
	if handled {
		return err
	}

	if err := p.Store.Append(hostport, key); err != nil {
		return err
	}
	fmt.Fprintf(warn, "Warning: Permanently added '%s' (%s) to the list of known hosts.\n",
		hostport, key.Type())
	return nil
}

// PromptPolicy shows the fingerprint of a previously unseen key and asks
// the user to confirm before recording it. This is the default mode.
type PromptPolicy struct {
	Store    *Store
	Prompter credential.Prompter

	Warn io.Writer
}

func (p *PromptPolicy) Evaluate(hostport string, remote net.Addr, key ssh.PublicKey) error {
	warn := p.Warn
	if warn == nil {
		warn = os.Stderr
	}

	handled, err := checkRecorded(p.Store, hostport, remote, key, warn)
	if handled {
		return err
	}

	fingerprint := ssh.FingerprintSHA256(key)
	fmt.Fprintf(warn, "The authenticity of host '%s' can't be established.\n"+
		"%s key fingerprint is %s.\n", hostport, key.Type(), fingerprint)

	for {
		answer, err := p.Prompter.Line("Are you sure you want to continue connecting (yes/no/[fingerprint])? ")
		if err != nil {
			return fmt.Errorf("%w: %v", ErrKeyRejected, err)
		}
		if answer == fingerprint {
			break
		}
		switch strings.ToLower(answer) {
		case "yes":
		case "no":
			return fmt.Errorf("%w: %s", ErrKeyRejected, hostport)
		default:
			continue
		}
		break
	}

	if err := p.Store.Append(hostport, key); err != nil {
		return err
	}
	logrus.Debugf("host key for %s accepted by user", hostport)
	return nil
}
