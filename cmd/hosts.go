package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"sshterm/pkg/config"
	"sshterm/pkg/define"
	"sshterm/pkg/hostkey"
	"sshterm/pkg/target"
)

var hostsCommand = cli.Command{
	Name:        "hosts",
	Usage:       "list recorded host keys",
	UsageText:   "sshterm hosts [OPTIONS]",
	Description: "show every host key recorded in the trust store",
	Action:      runHosts,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  define.FlagKnownHosts,
			Usage: "known_hosts file recording trusted host keys",
		},
	},
}

func runHosts(ctx context.Context, command *cli.Command) error {
	settings, err := config.Load(command.String(define.FlagConfig))
	if err != nil {
		return err
	}

	path := command.String(define.FlagKnownHosts)
	if path == "" {
		path = settings.KnownHostsPath
	}

	store, err := hostkey.NewStore(target.ExpandHome(path))
	if err != nil {
		return err
	}

	records, err := store.List()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Printf("no host keys recorded in %s\n", store.Path())
		return nil
	}

	for _, r := range records {
		fmt.Printf("%-40s %-20s %s\n", strings.Join(r.Hosts, ","), r.Algorithm, r.Fingerprint)
	}
	return nil
}
