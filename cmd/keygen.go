package main

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/keygen"
	"github.com/urfave/cli/v3"

	"sshterm/pkg/credential"
	"sshterm/pkg/define"
	"sshterm/pkg/target"
)

var keygenCommand = cli.Command{
	Name:        "keygen",
	Usage:       "generate a client identity key pair",
	UsageText:   "sshterm keygen [OPTIONS]",
	Description: "generate an ed25519 key pair to use for public key authentication",
	Action:      runKeygen,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    define.FlagKeyFile,
			Aliases: []string{"f"},
			Usage:   "where to write the private key",
			Value:   "~/" + define.DefaultIdentity,
		},
		&cli.BoolFlag{
			Name:  define.FlagPassphrase,
			Usage: "protect the key with a passphrase",
		},
	},
}

func runKeygen(ctx context.Context, command *cli.Command) error {
	path := target.ExpandHome(command.String(define.FlagKeyFile))
	if _, err := os.Stat(path); err == nil {
		return cli.Exit(fmt.Sprintf("refusing to overwrite existing key %s", path), define.ExitFailure)
	}

	opts := []keygen.Option{keygen.WithKeyType(keygen.Ed25519)}
	if command.Bool(define.FlagPassphrase) {
		prompter := credential.NewTTYPrompter()
		passphrase, err := prompter.Secret("Enter passphrase (empty for no passphrase): ")
		if err != nil {
			return err
		}
		confirm, err := prompter.Secret("Enter same passphrase again: ")
		if err != nil {
			return err
		}
		if string(passphrase) != string(confirm) {
			return cli.Exit("passphrases do not match", define.ExitFailure)
		}
		if len(passphrase) > 0 {
			opts = append(opts, keygen.WithPassphrase(string(passphrase)))
		}
	}

	kp, err := keygen.New(path, opts...)
	if err != nil {
		return fmt.Errorf("generate key pair: %w", err)
	}
	if err := kp.WriteKeys(); err != nil {
		return fmt.Errorf("write key pair: %w", err)
	}

	fmt.Printf("Your identification has been saved in %s\n", path)
	fmt.Printf("Your public key has been saved in %s.pub\n", path)
	return nil
}
