package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"

	"sshterm/pkg/define"
)

func main() {
	app := cli.Command{
		Name:        "sshterm",
		Usage:       "interactive SSH terminal client",
		UsageText:   "sshterm [command] [flags]",
		Description: "open an interactive shell on a remote host over SSH",
		Before:      earlyStage,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  define.FlagDebug,
				Usage: "enable debug logging",
				Value: false,
			},
			&cli.StringFlag{
				Name:  define.FlagConfig,
				Usage: "path to config file",
			},
		},
	}

	app.Commands = []*cli.Command{
		&connectCommand,
		&keygenCommand,
		&hostsCommand,
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func earlyStage(ctx context.Context, command *cli.Command) (context.Context, error) {
	setLogrus(command.Bool(define.FlagDebug))
	ctx, _ = signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT, os.Interrupt)

	return ctx, nil
}

func setLogrus(debug bool) {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	logrus.SetOutput(os.Stderr)
	if debug {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}
}
