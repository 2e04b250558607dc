package define

import "time"

const (
	DefaultSSHPort    = 22
	DefaultTermType   = "xterm-256color"
	DefaultEnvPrefix  = "SSHTERM"
	DefaultConfigDir  = ".config/sshterm"
	DefaultConfigFile = "config.yaml"
	DefaultKnownHosts = ".ssh/known_hosts"
	DefaultIdentity   = ".ssh/id_ed25519"

	SSHAuthSockEnv = "SSH_AUTH_SOCK"
)

const (
	DefaultConnectTimeout    = 30 * time.Second
	DefaultKeepaliveInterval = 15 * time.Second
	DefaultAuthRetries       = 3
	DefaultShutdownGrace     = 3 * time.Second
)

const (
	FlagDebug          = "debug"
	FlagConfig         = "config"
	FlagPort           = "port"
	FlagUser           = "user"
	FlagIdentity       = "identity"
	FlagKnownHosts     = "known-hosts"
	FlagConnectTimeout = "connect-timeout"
	FlagKeepalive      = "keepalive"
	FlagAuthRetries    = "auth-retries"
	FlagAutoAccept     = "auto-accept-new-hosts"
	FlagTermType       = "term"
	FlagKeyFile        = "file"
	FlagPassphrase     = "passphrase"
)

// Process exit codes. Each failure stage gets a distinct code so callers
// can tell a refused login from a dead host without parsing stderr.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitConnect = 2
	ExitAuth    = 3
	ExitChannel = 4
	ExitRelay   = 5
)
