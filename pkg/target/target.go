// Package target turns a command-line destination like user@host:port into
// a validated connection target, consulting the user's ssh_config for
// aliases, default users, ports, and identity files.
package target

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kevinburke/ssh_config"
	"github.com/sirupsen/logrus"

	"sshterm/pkg/define"
	"sshterm/pkg/transport"
)

// Resolved is a parse result: the dial target plus any identity file the
// ssh_config names for it.
type Resolved struct {
	Target       transport.Target
	IdentityFile string
}

// Resolve parses dest ([user@]host[:port]) and fills in the blanks from
// ssh_config and the current OS user. Explicit flag values win over
// ssh_config values, which win over defaults.
func Resolve(dest, flagUser string, flagPort uint16) (Resolved, error) {
	if dest == "" {
		return Resolved{}, fmt.Errorf("destination cannot be empty")
	}

	var userName, host string
	if idx := strings.Index(dest, "@"); idx > 0 {
		userName = dest[:idx]
		host = dest[idx+1:]
	} else {
		host = dest
	}

	host, port, err := splitHostPort(host)
	if err != nil {
		return Resolved{}, err
	}
	if host == "" {
		return Resolved{}, fmt.Errorf("no host in destination %q", dest)
	}

	// The destination may be an ssh_config alias; the alias stays the
	// lookup key while HostName replaces the dial address.
	alias := host
	if hostName := ssh_config.Get(alias, "HostName"); hostName != "" {
		logrus.Debugf("ssh_config alias %q resolves to %q", alias, hostName)
		host = hostName
	}

	if flagUser != "" {
		userName = flagUser
	}
	if userName == "" {
		userName = ssh_config.Get(alias, "User")
	}
	if userName == "" {
		current, err := user.Current()
		if err != nil {
			return Resolved{}, fmt.Errorf("determine current user: %w", err)
		}
		userName = current.Username
	}

	if flagPort != 0 {
		port = flagPort
	}
	if port == 0 {
		if cfgPort := ssh_config.Get(alias, "Port"); cfgPort != "" {
			p, err := strconv.ParseUint(cfgPort, 10, 16)
			if err == nil {
				port = uint16(p)
			}
		}
	}
	if port == 0 {
		port = define.DefaultSSHPort
	}

	t, err := transport.NewTarget(host, port, userName)
	if err != nil {
		return Resolved{}, err
	}

	return Resolved{
		Target:       t,
		IdentityFile: identityFor(alias),
	}, nil
}

// identityFor returns the ssh_config IdentityFile for the alias when the
// file actually exists, with ~ expanded.
func identityFor(alias string) string {
	path := ssh_config.Get(alias, "IdentityFile")
	if path == "" {
		return ""
	}
	path = ExpandHome(path)
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// splitHostPort splits an optional trailing :port off dest. Bracketed IPv6
// literals ([::1]:22) are unwrapped; a bare IPv6 literal like ::1 has more
// than one colon and is left intact.
func splitHostPort(dest string) (string, uint16, error) {
	if strings.HasPrefix(dest, "[") {
		end := strings.Index(dest, "]")
		if end < 0 {
			return "", 0, fmt.Errorf("unmatched bracket in %q", dest)
		}
		host := dest[1:end]
		rest := dest[end+1:]
		if rest == "" {
			return host, 0, nil
		}
		if !strings.HasPrefix(rest, ":") {
			return "", 0, fmt.Errorf("invalid destination %q", dest)
		}
		port, err := parsePort(dest, rest[1:])
		return host, port, err
	}

	if strings.Count(dest, ":") != 1 {
		return dest, 0, nil
	}
	idx := strings.LastIndex(dest, ":")
	port, err := parsePort(dest, dest[idx+1:])
	return dest[:idx], port, err
}

func parsePort(dest, s string) (uint16, error) {
	p, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid port in %q: %w", dest, err)
	}
	return uint16(p), nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(strings.TrimPrefix(path, "~"), "/"))
	}
	return path
}
