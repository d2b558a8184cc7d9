package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"

	"github.com/yourorg/validator-score-ea/internal/aggregate"
	"github.com/yourorg/validator-score-ea/internal/config"
	"github.com/yourorg/validator-score-ea/internal/fetch"
	"github.com/yourorg/validator-score-ea/internal/model"
	"github.com/yourorg/validator-score-ea/internal/ranking"
	"github.com/yourorg/validator-score-ea/internal/security"
	"github.com/yourorg/validator-score-ea/internal/validation"
)

const (
	defaultRPCURL  = "https://fullnode.mainnet.sui.io:443"
	defaultTimeout = 30 * time.Second
)

// sourceFlags select where the snapshot comes from. Each command gets its own
// instances since flags carry parsed state.
func sourceFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "rpc-url",
			Usage:   "Sui full node JSON-RPC endpoint",
			Value:   defaultRPCURL,
			Sources: cli.EnvVars("SUI_RPC_URL"),
		},
		&cli.StringFlag{
			Name:  "state-file",
			Usage: "Saved suix_getLatestSuiSystemState response; skips the RPC when set",
		},
		&cli.StringFlag{
			Name:  "apy-file",
			Usage: "Saved suix_getValidatorsApy response (optional, used with --state-file)",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "RPC timeout",
			Value: defaultTimeout,
		},
		&cli.IntFlag{
			Name:  "retries",
			Usage: "RPC retry attempts",
			Value: 3,
		},
		&cli.BoolFlag{
			Name:  "outliers",
			Usage: "Drop IQR outlier APYs before scoring",
		},
	}
}

func weightsFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "weights",
		Usage:   "YAML file with weight overrides and apy_top",
		Sources: cli.EnvVars("SCORE_WEIGHTS_FILE"),
	}
}

func rankCmd(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:    "rank",
		Aliases: []string{"r"},
		Usage:   "Score, classify and rank every active validator",
		Flags: append(sourceFlags(),
			weightsFlag(),
			&cli.BoolFlag{
				Name:  "issues-only",
				Usage: "Only list validators with safety issues",
			},
			&cli.IntFlag{
				Name:  "top",
				Usage: "Limit output to the top N validators (0 lists all)",
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "Scoring goroutines for large validator sets",
				Value: 4,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cmdRank(ctx, cmd, out)
		},
	}
}

func summaryCmd(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:    "summary",
		Aliases: []string{"s"},
		Usage:   "Print network wide APY and stake figures",
		Flags:   sourceFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cmdSummary(ctx, cmd, out)
		},
	}
}

func weightsCmd(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "weights",
		Usage: "Print the effective score weights",
		Flags: []cli.Flag{weightsFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			scorer, err := config.NewScorer(cmd.String("weights"))
			if err != nil {
				return err
			}
			w := scorer.Weights()
			return printResult(out, cmd, map[string]interface{}{
				"weights":     w,
				"positiveSum": w.PositiveSum(),
				"penaltySum":  w.PenaltySum(),
			})
		},
	}
}

func verifyCmd(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "verify",
		Usage:     "Verify a signed ranking snapshot",
		ArgsUsage: "<envelope.json>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "signer",
				Usage: "Expected signer address (optional)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cmdVerify(cmd, out)
		},
	}
}

// loadSnapshot fetches and sanitizes a snapshot from the selected source.
func loadSnapshot(ctx context.Context, cmd *cli.Command) (model.Snapshot, error) {
	var fetcher fetch.Fetcher
	if path := cmd.String("state-file"); path != "" {
		fetcher = fetch.FileFetcher{StatePath: path, APYPath: cmd.String("apy-file")}
	} else {
		fetcher = fetch.NewClient(config.Config{
			SuiRPCURL:      cmd.String("rpc-url"),
			RequestTimeout: cmd.Duration("timeout"),
			RetryMax:       int(cmd.Int("retries")),
		})
	}

	snap, err := fetcher.Snapshot(ctx)
	if err != nil {
		return snap, fmt.Errorf("fetching snapshot: %w", err)
	}

	opts := validation.DefaultValidationOptions()
	opts.MaxAge = 0
	opts.EnableOutlierDetection = cmd.Bool("outliers")

	snap, err = validation.Sanitize(snap, opts, 1)
	if err != nil {
		return snap, err
	}

	log.WithFields(log.Fields{
		"epoch":      snap.Epoch,
		"validators": len(snap.Validators),
		"apys":       len(snap.Apys),
	}).Debug("Snapshot loaded")
	return snap, nil
}

func cmdRank(ctx context.Context, cmd *cli.Command, out io.Writer) error {
	scorer, err := config.NewScorer(cmd.String("weights"))
	if err != nil {
		return err
	}

	snap, err := loadSnapshot(ctx, cmd)
	if err != nil {
		return err
	}

	ranked := ranking.Rank(snap, scorer, ranking.Options{Workers: int(cmd.Int("workers"))})
	if cmd.Bool("issues-only") {
		ranked = ranking.WithIssues(ranked)
	}
	if top := int(cmd.Int("top")); top > 0 && top < len(ranked) {
		ranked = ranked[:top]
	}

	return printResult(out, cmd, map[string]interface{}{
		"epoch":      snap.Epoch,
		"count":      len(ranked),
		"validators": ranked,
	})
}

func cmdSummary(ctx context.Context, cmd *cli.Command, out io.Writer) error {
	snap, err := loadSnapshot(ctx, cmd)
	if err != nil {
		return err
	}

	ranked := ranking.Rank(snap, nil, ranking.Options{})
	return printResult(out, cmd, map[string]interface{}{
		"summary":     aggregate.Summarize(snap),
		"issueCounts": ranking.IssueCounts(ranked),
	})
}

func cmdVerify(cmd *cli.Command, out io.Writer) error {
	path := cmd.Args().First()
	if path == "" {
		return errors.New("envelope file is required")
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var env security.Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}

	if err := security.Verify(env); err != nil {
		return fmt.Errorf("envelope %s is invalid: %w", path, err)
	}
	if want := cmd.String("signer"); want != "" && !strings.EqualFold(want, env.Signer) {
		return fmt.Errorf("%w: got %s, want %s", security.ErrUnknownSigner, env.Signer, want)
	}

	return printResult(out, cmd, map[string]interface{}{
		"valid":     true,
		"signer":    env.Signer,
		"algorithm": env.Algorithm,
		"signedAt":  time.Unix(env.SignedAt, 0).UTC().Format(time.RFC3339),
	})
}
