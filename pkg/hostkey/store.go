// Package hostkey implements the host key trust store and the policies
// that decide whether a presented key is acceptable. The store is an
// OpenSSH-format known_hosts file; entries are appended on first contact
// and consulted on every subsequent connect.
package hostkey

import (
	"errors"
	"net"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Status classifies a presented key against the store.
type Status int

const (
	// Unknown means no key is on file for the host.
	Unknown Status = iota
	// Trusted means the presented key matches the recorded one.
	Trusted
	// Changed means a different key is on file for the host.
	Changed
)

// Record is one trust-store entry as shown to the user.
type Record struct {
	Hosts       []string
	Algorithm   string
	Fingerprint string
}

// Store wraps one known_hosts file. Concurrent appends from multiple
// processes are serialized with a file lock.
type Store struct {
	path string
}

// NewStore opens (creating if necessary) the known_hosts file at path.
func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, pkgerrors.Wrapf(err, "create directory for %q", path)
	}
	f, err := os.OpenFile(path, os.O_CREATE, 0600)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "create known_hosts %q", path)
	}
	_ = f.Close()
	return &Store{path: path}, nil
}

// Path returns the backing file location.
func (s *Store) Path() string {
	return s.path
}

// Check classifies key against the recorded entry for hostport.
func (s *Store) Check(hostport string, remote net.Addr, key ssh.PublicKey) (Status, error) {
	cb, err := knownhosts.New(s.path)
	if err != nil {
		return Unknown, pkgerrors.Wrapf(err, "load known_hosts %q", s.path)
	}

	err = cb(hostport, remote, key)
	if err == nil {
		return Trusted, nil
	}

	var keyErr *knownhosts.KeyError
	if errors.As(err, &keyErr) {
		if len(keyErr.Want) > 0 {
			return Changed, nil
		}
		return Unknown, nil
	}
	return Unknown, err
}

// Append records key for hostport. The write is guarded by an exclusive
// file lock so two racing sessions cannot interleave partial lines.
func (s *Store) Append(hostport string, key ssh.PublicKey) error {
	lock := flock.New(s.path + ".lock")
	if err := lock.Lock(); err != nil {
		return pkgerrors.Wrapf(err, "lock known_hosts %q", s.path)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logrus.Warnf("unlock known_hosts: %v", err)
		}
	}()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return pkgerrors.Wrapf(err, "open known_hosts %q", s.path)
	}
	defer f.Close()

	line := knownhosts.Line([]string{knownhosts.Normalize(hostport)}, key)
	if _, err := f.WriteString(line + "\n"); err != nil {
		return pkgerrors.Wrapf(err, "append to known_hosts %q", s.path)
	}

	logrus.Debugf("recorded host key for %s (%s)", hostport, key.Type())
	return nil
}

// List returns every entry in the store.
func (s *Store) List() ([]Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "read known_hosts %q", s.path)
	}

	var records []Record
	rest := data
	for len(rest) > 0 {
		_, hosts, key, _, remaining, err := ssh.ParseKnownHosts(rest)
		if err != nil {
			// Skip unparsable trailing content rather than failing the
			// whole listing.
			break
		}
		records = append(records, Record{
			Hosts:       hosts,
			Algorithm:   key.Type(),
			Fingerprint: ssh.FingerprintSHA256(key),
		})
		rest = remaining
	}
	return records, nil
}
