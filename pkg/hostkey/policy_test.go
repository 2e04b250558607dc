package hostkey

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/ssh"
)

func newKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	key, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatal(err)
	}
	return key
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "known_hosts"))
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func remoteAddr(t *testing.T) net.Addr {
	t.Helper()
	addr, err := net.ResolveTCPAddr("tcp", "192.0.2.10:22")
	if err != nil {
		t.Fatal(err)
	}
	return addr
}

// scriptedPrompter replays canned answers to confirmation prompts.
type scriptedPrompter struct {
	answers []string
	asked   int
}

func (p *scriptedPrompter) Line(prompt string) (string, error) {
	if p.asked >= len(p.answers) {
		return "", fmt.Errorf("no answer scripted for %q", prompt)
	}
	answer := p.answers[p.asked]
	p.asked++
	return answer, nil
}

func (p *scriptedPrompter) Secret(prompt string) ([]byte, error) {
	line, err := p.Line(prompt)
	return []byte(line), err
}

func TestStoreCheckStatuses(t *testing.T) {
	store := newTestStore(t)
	key := newKey(t)
	other := newKey(t)
	remote := remoteAddr(t)

	status, err := store.Check("example.com:22", remote, key)
	if err != nil {
		t.Fatal(err)
	}
	if status != Unknown {
		t.Fatalf("status before record = %v, want %v", status, Unknown)
	}

	if err := store.Append("example.com:22", key); err != nil {
		t.Fatal(err)
	}

	status, err = store.Check("example.com:22", remote, key)
	if err != nil {
		t.Fatal(err)
	}
	if status != Trusted {
		t.Errorf("status for recorded key = %v, want %v", status, Trusted)
	}

	status, err = store.Check("example.com:22", remote, other)
	if err != nil {
		t.Fatal(err)
	}
	if status != Changed {
		t.Errorf("status for conflicting key = %v, want %v", status, Changed)
	}

	// A different host is still unknown.
	status, err = store.Check("other.example.com:22", remote, key)
	if err != nil {
		t.Fatal(err)
	}
	if status != Unknown {
		t.Errorf("status for unrecorded host = %v, want %v", status, Unknown)
	}
}

func TestStoreList(t *testing.T) {
	store := newTestStore(t)
	key := newKey(t)

	records, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Fatalf("fresh store lists %d records", len(records))
	}

	if err := store.Append("example.com:22", key); err != nil {
		t.Fatal(err)
	}
	if err := store.Append("[example.org]:2222", newKey(t)); err != nil {
		t.Fatal(err)
	}

	records, err = store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("store lists %d records, want 2", len(records))
	}
	if records[0].Algorithm != ssh.KeyAlgoED25519 {
		t.Errorf("algorithm = %q, want %q", records[0].Algorithm, ssh.KeyAlgoED25519)
	}
	if records[0].Fingerprint != ssh.FingerprintSHA256(key) {
		t.Errorf("fingerprint = %q, want %q", records[0].Fingerprint, ssh.FingerprintSHA256(key))
	}
}

func TestAutoAcceptRecordsUnseenKey(t *testing.T) {
	store := newTestStore(t)
	key := newKey(t)
	var warn bytes.Buffer

	policy := &AutoAcceptPolicy{Store: store, Warn: &warn}

	if err := policy.Evaluate("example.com:22", remoteAddr(t), key); err != nil {
		t.Fatalf("first contact rejected: %v", err)
	}
	if !strings.Contains(warn.String(), "Permanently added") {
		t.Errorf("missing first-use notice, got %q", warn.String())
	}

	status, err := store.Check("example.com:22", remoteAddr(t), key)
	if err != nil {
		t.Fatal(err)
	}
	if status != Trusted {
		t.Errorf("key not recorded after auto-accept: status %v", status)
	}

	// The same key passes silently on the next connect.
	warn.Reset()
	if err := policy.Evaluate("example.com:22", remoteAddr(t), key); err != nil {
		t.Fatalf("recorded key rejected: %v", err)
	}
	if warn.Len() != 0 {
		t.Errorf("unexpected output for a trusted key: %q", warn.String())
	}
}

func TestChangedKeyAlwaysRejected(t *testing.T) {
	store := newTestStore(t)
	recorded := newKey(t)
	imposter := newKey(t)
	if err := store.Append("example.com:22", recorded); err != nil {
		t.Fatal(err)
	}

	// Even the permissive mode must refuse a conflicting key.
	var warn bytes.Buffer
	auto := &AutoAcceptPolicy{Store: store, Warn: &warn}
	err := auto.Evaluate("example.com:22", remoteAddr(t), imposter)
	if !errors.Is(err, ErrKeyChanged) {
		t.Fatalf("auto-accept returned %v, want ErrKeyChanged", err)
	}
	if !strings.Contains(warn.String(), "REMOTE HOST IDENTIFICATION HAS CHANGED") {
		t.Errorf("missing mismatch warning, got %q", warn.String())
	}

	prompter := &scriptedPrompter{answers: []string{"yes"}}
	prompt := &PromptPolicy{Store: store, Prompter: prompter, Warn: &warn}
	err = prompt.Evaluate("example.com:22", remoteAddr(t), imposter)
	if !errors.Is(err, ErrKeyChanged) {
		t.Fatalf("prompt policy returned %v, want ErrKeyChanged", err)
	}
	if prompter.asked != 0 {
		t.Errorf("user was asked %d times about a conflicting key, want 0", prompter.asked)
	}
}

func TestPromptPolicyAnswers(t *testing.T) {
	key := newKey(t)
	fingerprint := ssh.FingerprintSHA256(key)

	cases := []struct {
		name     string
		answers  []string
		accepted bool
	}{
		{"yes accepts", []string{"yes"}, true},
		{"no rejects", []string{"no"}, false},
		{"fingerprint accepts", []string{fingerprint}, true},
		{"garbage reasks", []string{"maybe", "y", "yes"}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newTestStore(t)
			var warn bytes.Buffer
			policy := &PromptPolicy{
				Store:    store,
				Prompter: &scriptedPrompter{answers: tc.answers},
				Warn:     &warn,
			}

			err := policy.Evaluate("example.com:22", remoteAddr(t), key)
			if tc.accepted {
				if err != nil {
					t.Fatalf("Evaluate: %v", err)
				}
				status, checkErr := store.Check("example.com:22", remoteAddr(t), key)
				if checkErr != nil {
					t.Fatal(checkErr)
				}
				if status != Trusted {
					t.Errorf("accepted key not recorded: status %v", status)
				}
			} else {
				if !errors.Is(err, ErrKeyRejected) {
					t.Fatalf("Evaluate returned %v, want ErrKeyRejected", err)
				}
				status, checkErr := store.Check("example.com:22", remoteAddr(t), key)
				if checkErr != nil {
					t.Fatal(checkErr)
				}
				if status != Unknown {
					t.Errorf("rejected key was recorded: status %v", status)
				}
			}
			if !strings.Contains(warn.String(), "can't be established") {
				t.Errorf("missing authenticity warning, got %q", warn.String())
			}
		})
	}
}

func TestCallbackAdapts(t *testing.T) {
	store := newTestStore(t)
	key := newKey(t)
	if err := store.Append("example.com:22", key); err != nil {
		t.Fatal(err)
	}

	cb := Callback(&AutoAcceptPolicy{Store: store, Warn: &bytes.Buffer{}})
	if err := cb("example.com:22", remoteAddr(t), key); err != nil {
		t.Errorf("callback rejected a trusted key: %v", err)
	}
}
