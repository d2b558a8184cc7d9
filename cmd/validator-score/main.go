// Package main is the validator-score CLI. It scores a Sui validator snapshot
// read from a full node or from saved RPC responses and prints the result.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
)

const (
	formatJSON = "json"
	formatYAML = "yaml"
)

var (
	name    = "validator-score"
	version = "v0.0.1-default"
	commit  = ""

	debugFlag = &cli.BoolFlag{
		Name:  "debug",
		Usage: "Prints verbose logs (optional, default: false)",
	}

	formatFlag = &cli.StringFlag{
		Name:  "format",
		Usage: "Output format [json, yaml]",
		Value: formatJSON,
	}
)

func main() {
	initLogging()

	if err := newApp(os.Stdout).Run(context.Background(), os.Args); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func newApp(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:    name,
		Version: fmt.Sprintf("%s - (commit: %s)", version, commit),
		Usage:   "Score and rank Sui validators",
		Flags: []cli.Flag{
			debugFlag,
			formatFlag,
		},
		Commands: []*cli.Command{
			rankCmd(out),
			summaryCmd(out),
			weightsCmd(out),
			verifyCmd(out),
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			if cmd.Bool(debugFlag.Name) {
				log.SetLevel(log.DebugLevel)
			}
			switch f := cmd.String(formatFlag.Name); f {
			case formatJSON, formatYAML, "yml":
			default:
				return ctx, fmt.Errorf("unsupported format %q", f)
			}
			return ctx, nil
		},
	}
}

func initLogging() {
	log.SetOutput(os.Stderr)
	log.SetLevel(log.WarnLevel)
	log.SetFormatter(&log.TextFormatter{
		DisableTimestamp:       true,
		DisableLevelTruncation: true,
		PadLevelText:           true,
	})
}
