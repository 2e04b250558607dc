package target

import (
	"os"
	"path/filepath"
	"testing"

	"sshterm/pkg/define"
)

// The ssh_config package parses the user config once per process, so the
// whole package shares one fixture written before any test runs.
func TestMain(m *testing.M) {
	home, err := os.MkdirTemp("", "target-test-home-")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(home)

	sshDir := filepath.Join(home, ".ssh")
	if err := os.MkdirAll(sshDir, 0700); err != nil {
		panic(err)
	}

	identity := filepath.Join(sshDir, "alias_key")
	if err := os.WriteFile(identity, []byte("placeholder\n"), 0600); err != nil {
		panic(err)
	}

	config := "Host bastion\n" +
		"    HostName bastion.internal.example.com\n" +
		"    User deploy\n" +
		"    Port 2200\n" +
		"    IdentityFile ~/.ssh/alias_key\n"
	if err := os.WriteFile(filepath.Join(sshDir, "config"), []byte(config), 0600); err != nil {
		panic(err)
	}

	os.Setenv("HOME", home)
	os.Exit(m.Run())
}

func TestResolveFullDestination(t *testing.T) {
	resolved, err := Resolve("alice@server.example.com:2222", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	target := resolved.Target
	if target.User != "alice" {
		t.Errorf("user = %q, want %q", target.User, "alice")
	}
	if target.Host != "server.example.com" {
		t.Errorf("host = %q, want %q", target.Host, "server.example.com")
	}
	if target.Port != 2222 {
		t.Errorf("port = %d, want 2222", target.Port)
	}
	if got := target.Addr(); got != "server.example.com:2222" {
		t.Errorf("addr = %q, want %q", got, "server.example.com:2222")
	}
}

func TestResolveBareHostUsesDefaults(t *testing.T) {
	resolved, err := Resolve("server.example.com", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if resolved.Target.Port != define.DefaultSSHPort {
		t.Errorf("port = %d, want %d", resolved.Target.Port, define.DefaultSSHPort)
	}
	if resolved.Target.User == "" {
		t.Error("user must fall back to the current OS user")
	}
}

func TestResolveFlagsWin(t *testing.T) {
	resolved, err := Resolve("alice@server.example.com:2222", "bob", 8022)
	if err != nil {
		t.Fatal(err)
	}
	if resolved.Target.User != "bob" {
		t.Errorf("user = %q, flag must win over destination", resolved.Target.User)
	}
	if resolved.Target.Port != 8022 {
		t.Errorf("port = %d, flag must win over destination", resolved.Target.Port)
	}
}

func TestResolveSSHConfigAlias(t *testing.T) {
	resolved, err := Resolve("bastion", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	target := resolved.Target
	if target.Host != "bastion.internal.example.com" {
		t.Errorf("host = %q, alias must resolve to HostName", target.Host)
	}
	if target.User != "deploy" {
		t.Errorf("user = %q, want ssh_config User", target.User)
	}
	if target.Port != 2200 {
		t.Errorf("port = %d, want ssh_config Port", target.Port)
	}
	if want := filepath.Join(os.Getenv("HOME"), ".ssh", "alias_key"); resolved.IdentityFile != want {
		t.Errorf("identity = %q, want %q", resolved.IdentityFile, want)
	}
}

func TestResolveAliasFlagsStillWin(t *testing.T) {
	resolved, err := Resolve("root@bastion:22", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if resolved.Target.User != "root" {
		t.Errorf("user = %q, destination user must win over ssh_config", resolved.Target.User)
	}
	if resolved.Target.Port != 22 {
		t.Errorf("port = %d, destination port must win over ssh_config", resolved.Target.Port)
	}
}

func TestResolveRejectsBadInput(t *testing.T) {
	for _, dest := range []string{"", ":22", "alice@", "alice@:22", "[::1", "host:notaport"} {
		if _, err := Resolve(dest, "", 0); err == nil {
			t.Errorf("Resolve(%q) succeeded, want error", dest)
		}
	}
}

func TestResolveIPv6(t *testing.T) {
	cases := []struct {
		dest string
		host string
		port uint16
	}{
		{"::1", "::1", define.DefaultSSHPort},
		{"[::1]", "::1", define.DefaultSSHPort},
		{"[::1]:2222", "::1", 2222},
		{"alice@[2001:db8::1]:2222", "2001:db8::1", 2222},
		{"fe80::5054:ff:fe12:3456", "fe80::5054:ff:fe12:3456", define.DefaultSSHPort},
	}

	for _, tc := range cases {
		resolved, err := Resolve(tc.dest, "", 0)
		if err != nil {
			t.Errorf("Resolve(%q): %v", tc.dest, err)
			continue
		}
		if resolved.Target.Host != tc.host {
			t.Errorf("Resolve(%q) host = %q, want %q", tc.dest, resolved.Target.Host, tc.host)
		}
		if resolved.Target.Port != tc.port {
			t.Errorf("Resolve(%q) port = %d, want %d", tc.dest, resolved.Target.Port, tc.port)
		}
	}
}

func TestExpandHome(t *testing.T) {
	home := os.Getenv("HOME")
	if got := ExpandHome("~/.ssh/id_ed25519"); got != filepath.Join(home, ".ssh", "id_ed25519") {
		t.Errorf("ExpandHome = %q", got)
	}
	if got := ExpandHome("/etc/ssh/key"); got != "/etc/ssh/key" {
		t.Errorf("absolute path changed: %q", got)
	}
	if got := ExpandHome("~"); got != home {
		t.Errorf("ExpandHome(~) = %q, want %q", got, home)
	}
}
