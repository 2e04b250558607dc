package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"sshterm/pkg/config"
	"sshterm/pkg/credential"
	"sshterm/pkg/define"
	"sshterm/pkg/hostkey"
	"sshterm/pkg/session"
	"sshterm/pkg/sshclient"
	"sshterm/pkg/target"
)

var connectCommand = cli.Command{
	Name:        "connect",
	Aliases:     []string{"c"},
	Usage:       "open an interactive shell on a remote host",
	UsageText:   "sshterm connect [OPTIONS] [user@]host[:port]",
	Description: "connect to the host, authenticate, and relay the remote shell to this terminal",
	Action:      runConnect,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    define.FlagUser,
			Aliases: []string{"l"},
			Usage:   "login user on the remote host",
		},
		&cli.Uint16Flag{
			Name:    define.FlagPort,
			Aliases: []string{"p"},
			Usage:   "remote SSH port",
		},
		&cli.StringFlag{
			Name:    define.FlagIdentity,
			Aliases: []string{"i"},
			Usage:   "private key file for public key authentication",
		},
		&cli.StringFlag{
			Name:  define.FlagKnownHosts,
			Usage: "known_hosts file recording trusted host keys",
		},
		&cli.DurationFlag{
			Name:  define.FlagConnectTimeout,
			Usage: "connection timeout",
		},
		&cli.DurationFlag{
			Name:  define.FlagKeepalive,
			Usage: "keepalive interval, 0 disables",
			Value: -1,
		},
		&cli.IntFlag{
			Name:  define.FlagAuthRetries,
			Usage: "maximum authentication attempts",
		},
		&cli.BoolFlag{
			Name:  define.FlagAutoAccept,
			Usage: "record previously unseen host keys without asking (trust-on-first-use)",
		},
		&cli.StringFlag{
			Name:  define.FlagTermType,
			Usage: "terminal type requested for the remote PTY",
		},
	},
}

func runConnect(ctx context.Context, command *cli.Command) error {
	settings, err := config.Load(command.String(define.FlagConfig))
	if err != nil {
		return err
	}

	prompter := credential.NewTTYPrompter()

	dest := command.Args().First()
	if dest == "" {
		dest, err = prompter.Line("Hostname: ")
		if err != nil || dest == "" {
			return cli.Exit("no destination given", define.ExitFailure)
		}
	}

	flagPort := command.Uint16(define.FlagPort)
	if flagPort == 0 && settings.Port != define.DefaultSSHPort {
		flagPort = settings.Port
	}
	resolved, err := target.Resolve(dest, command.String(define.FlagUser), flagPort)
	if err != nil {
		return cli.Exit(fmt.Sprintf("bad destination: %v", err), define.ExitFailure)
	}

	knownHostsPath := command.String(define.FlagKnownHosts)
	if knownHostsPath == "" {
		knownHostsPath = settings.KnownHostsPath
	}
	store, err := hostkey.NewStore(target.ExpandHome(knownHostsPath))
	if err != nil {
		return cli.Exit(fmt.Sprintf("open known_hosts: %v", err), define.ExitFailure)
	}

	var policy hostkey.Policy
	if command.Bool(define.FlagAutoAccept) || settings.AutoAcceptNewHosts {
		policy = &hostkey.AutoAcceptPolicy{Store: store}
	} else {
		policy = &hostkey.PromptPolicy{Store: store, Prompter: prompter}
	}

	dialer := sshclient.NewDialer(policy)
	if timeout := command.Duration(define.FlagConnectTimeout); timeout > 0 {
		dialer.ConnectTimeout = timeout
	} else if settings.ConnectTimeout > 0 {
		dialer.ConnectTimeout = settings.ConnectTimeout
	}
	if keepalive := command.Duration(define.FlagKeepalive); keepalive >= 0 {
		dialer.KeepaliveInterval = keepalive
	} else {
		dialer.KeepaliveInterval = settings.KeepaliveInterval
	}

	source := &credential.InteractiveSource{
		IdentityPath: identityPath(command, settings, resolved),
		Prompter:     prompter,
	}

	retries := int(command.Int(define.FlagAuthRetries))
	if retries <= 0 {
		retries = settings.AuthRetries
	}
	termType := command.String(define.FlagTermType)
	if termType == "" {
		termType = settings.TermType
	}

	controller, err := session.New(session.Options{
		Target:      resolved.Target,
		Dialer:      dialer,
		Credentials: source,
		AuthRetries: retries,
		TermType:    termType,
		Grace:       settings.ShutdownGrace,
		RawMode:     true,
	})
	if err != nil {
		return cli.Exit(err.Error(), define.ExitFailure)
	}

	if err := controller.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "Disconnected by user.")
			return nil
		}
		return exitForStage(err)
	}

	fmt.Fprintln(os.Stderr, "SSH session closed.")
	return nil
}

// identityPath picks the private key: explicit flag, then config file,
// then ssh_config IdentityFile, then the default identity when present.
func identityPath(command *cli.Command, settings *config.Settings, resolved target.Resolved) string {
	if path := command.String(define.FlagIdentity); path != "" {
		return target.ExpandHome(path)
	}
	if settings.IdentityFile != "" {
		return target.ExpandHome(settings.IdentityFile)
	}
	if resolved.IdentityFile != "" {
		return resolved.IdentityFile
	}
	path := target.ExpandHome("~/" + define.DefaultIdentity)
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
}

// exitForStage maps a session failure to its stage-specific exit code so
// scripts can tell a refused login from a dead host.
func exitForStage(err error) error {
	var stageErr *session.StageError
	if !errors.As(err, &stageErr) {
		return cli.Exit(err.Error(), define.ExitFailure)
	}

	code := define.ExitFailure
	switch stageErr.Stage {
	case session.StageConnect:
		code = define.ExitConnect
	case session.StageAuth:
		code = define.ExitAuth
	case session.StageChannel:
		code = define.ExitChannel
	case session.StageRelay:
		code = define.ExitRelay
	}
	return cli.Exit(fmt.Sprintf("session failed at %s stage: %v", stageErr.Stage, stageErr.Err), code)
}
