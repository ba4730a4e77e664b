package main

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/Sternrassler/beacon-duty-fetcher/internal/config"
	"github.com/Sternrassler/beacon-duty-fetcher/pkg/batch"
	"github.com/Sternrassler/beacon-duty-fetcher/pkg/dataset"
	"github.com/Sternrassler/beacon-duty-fetcher/pkg/duty"
	"github.com/Sternrassler/beacon-duty-fetcher/pkg/gaps"
	"github.com/Sternrassler/beacon-duty-fetcher/pkg/logging"
	"github.com/Sternrassler/beacon-duty-fetcher/pkg/metrics"
	"github.com/Sternrassler/beacon-duty-fetcher/pkg/progress"
	"github.com/Sternrassler/beacon-duty-fetcher/pkg/ratelimit"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

const (
	defaultFailedFile = "failed_epochs.txt"
	defaultListOutput = "proposer_duties_specific_epochs.csv"
)

var (
	errNoEpochs        = errors.New("no epochs selected: use --start and --end, a start-end argument, --input, --retry-queue or --retry-db")
	errAmbiguousEpochs = errors.New("select epochs with exactly one of --start/--end, a start-end argument, --input, --retry-queue or --retry-db")
)

// outputFlags are the files a fetch writes.
type outputFlags struct {
	output     string
	failedFile string
	ledgerFile string
	sort       bool
}

func (o *outputFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&o.output, "output", "o", "", "Output CSV (default depends on the epoch selection)")
	fs.StringVar(&o.failedFile, "failed-file", defaultFailedFile, "Failed epochs list, written only when epochs fail")
	fs.StringVar(&o.ledgerFile, "ledger-file", "", "Outcome ledger CSV with one row per requested epoch")
	fs.BoolVar(&o.sort, "sort", true, "Sort output rows by epoch")
}

func (o outputFlags) writer(defaultOutput string) batch.Writer {
	output := o.output
	if output == "" {
		output = defaultOutput
	}
	logger := logging.NewLogger("export")
	return batch.Writer{
		OutputPath: output,
		FailedPath: o.failedFile,
		LedgerPath: o.ledgerFile,
		Logger:     &logger,
	}
}

type fetchFlags struct {
	start      uint64
	end        uint64
	input      string
	retryQueue bool
	queueLimit int
	retryDB    bool
	outputFlags
}

func newFetchCmd(cfg *config.Config) *cobra.Command {
	var flags fetchFlags

	cmd := &cobra.Command{
		Use:   "fetch [start-end]",
		Short: "Fetch proposer duties for an epoch range or list",
		Example: `  duty-fetcher fetch --start 250000 --end 251000
  duty-fetcher fetch 250000-251000 --ledger-file ledger.csv
  duty-fetcher fetch --input missing_epochs.txt
  DUTY_REDIS_URL=localhost:6379 duty-fetcher fetch --retry-queue
  duty-fetcher fetch --retry-db --postgres-url postgres://localhost/duties`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.ValidateFetch(); err != nil {
				return err
			}

			ctx := cmd.Context()
			d, err := openDeps(ctx, cfg)
			if err != nil {
				return err
			}
			defer d.Close()

			epochs, defaultOutput, err := selectEpochs(ctx, cmd.Flags(), args, flags, d)
			if err != nil {
				return err
			}

			_, err = runFetch(ctx, cfg, d, epochs, flags.writer(defaultOutput), flags.sort)
			return err
		},
	}

	fs := cmd.Flags()
	fs.Uint64Var(&flags.start, "start", 0, "First epoch (inclusive)")
	fs.Uint64Var(&flags.end, "end", 0, "Last epoch (inclusive)")
	fs.StringVarP(&flags.input, "input", "i", "", "File with one epoch per line, e.g. a missing epochs list")
	fs.BoolVar(&flags.retryQueue, "retry-queue", false, "Fetch the epochs queued in Redis by earlier failed runs")
	fs.IntVar(&flags.queueLimit, "queue-limit", 0, "Maximum queued epochs to fetch (0 = all)")
	fs.BoolVar(&flags.retryDB, "retry-db", false, "Fetch the epochs whose last outcome in PostgreSQL is failed")
	flags.outputFlags.register(fs)

	return cmd
}

// selectEpochs resolves the epochs to fetch and the default output file.
func selectEpochs(ctx context.Context, fs *pflag.FlagSet, args []string, flags fetchFlags, d *deps) ([]uint64, string, error) {
	hasRange := fs.Changed("start") || fs.Changed("end")
	selected := 0
	for _, set := range []bool{hasRange, len(args) > 0, flags.input != "", flags.retryQueue, flags.retryDB} {
		if set {
			selected++
		}
	}
	switch selected {
	case 0:
		return nil, "", errNoEpochs
	case 1:
	default:
		return nil, "", errAmbiguousEpochs
	}

	switch {
	case hasRange:
		if !fs.Changed("start") || !fs.Changed("end") {
			return nil, "", fmt.Errorf("--start and --end must be given together")
		}
		return rangeEpochs(flags.start, flags.end)

	case len(args) > 0:
		r, err := gaps.ParseRange(args[0])
		if err != nil {
			return nil, "", err
		}
		return rangeEpochs(r.Start, r.End)

	case flags.input != "":
		epochs, err := dataset.ReadEpochListFile(flags.input)
		if err != nil {
			return nil, "", err
		}
		return epochs, defaultListOutput, nil

	case flags.retryDB:
		if d.store == nil {
			return nil, "", fmt.Errorf("%w: --retry-db requires postgres-url", config.ErrInvalidConfig)
		}
		epochs, err := d.store.FailedEpochs(ctx)
		if err != nil {
			return nil, "", err
		}
		return epochs, defaultListOutput, nil

	default:
		if d.queue == nil {
			return nil, "", fmt.Errorf("%w: --retry-queue requires redis-url", config.ErrInvalidConfig)
		}
		epochs, err := d.queue.Pending(ctx, flags.queueLimit)
		if err != nil {
			return nil, "", err
		}
		return epochs, defaultListOutput, nil
	}
}

func rangeEpochs(start, end uint64) ([]uint64, string, error) {
	epochs, err := duty.Range(start, end)
	if err != nil {
		return nil, "", err
	}
	return epochs, rangeOutput(start, end), nil
}

func rangeOutput(start, end uint64) string {
	return fmt.Sprintf("proposer_duties_%d_to_%d.csv", start, end)
}

// runFetch fetches epochs, writes the files and records the outcomes in the
// configured stores. Per-epoch failures are reported, not returned.
func runFetch(ctx context.Context, cfg *config.Config, d *deps, epochs []uint64, w batch.Writer, sortRows bool) (*batch.Result, error) {
	logger := logging.NewLogger("fetch")

	if len(epochs) == 0 {
		logger.Info().Msg("No epochs to fetch")
		return &batch.Result{}, nil
	}

	// The client owns the request spacing so retries are paced too; the
	// batch must not wait a second time.
	c, err := d.newClient(cfg, ratelimit.NewIntervalLimiter(cfg.RateLimitInterval))
	if err != nil {
		return nil, err
	}
	defer c.Close()

	observer := progress.Multi{
		progress.NewReporter(logging.NewLogger("progress"), progress.WithEvery(cfg.ProgressEvery)),
		progress.Metrics{},
	}

	fetcher, err := batch.New(c, cfg.Batch(),
		batch.WithLimiter(ratelimit.Unlimited()),
		batch.WithObserver(observer),
		batch.WithLogger(logging.NewLogger("batch-fetcher")),
	)
	if err != nil {
		return nil, err
	}

	logger.Info().
		Int("epochs", len(epochs)).
		Uint64("first", epochs[0]).
		Uint64("last", epochs[len(epochs)-1]).
		Int("concurrency", cfg.Concurrency).
		Dur("rate_limit_interval", cfg.RateLimitInterval).
		Str("beacon", c.BaseURL()).
		Msg("Starting fetch")

	var res *batch.Result
	err = withMetrics(ctx, cfg.MetricsAddr, func(ctx context.Context) error {
		var err error
		res, err = fetcher.FetchBatch(ctx, epochs)
		return err
	})
	if err != nil {
		return nil, err
	}

	if sortRows {
		res.SortRecords()
	}

	if err := w.WriteResult(res); err != nil {
		return res, err
	}

	// Use a fresh context so an interrupted run is still recorded
	storeCtx := context.WithoutCancel(ctx)
	if d.store != nil {
		if _, err := d.store.SaveRun(storeCtx, res); err != nil {
			return res, err
		}
	}
	if d.queue != nil {
		if err := d.queue.Record(storeCtx, res.Outcomes); err != nil {
			return res, err
		}
		queued, err := d.queue.Count(storeCtx)
		if err != nil {
			return res, err
		}
		logger.Info().Int("queued", queued).Str("network", cfg.Network).Msg("Failed epoch queue updated")
	}

	if len(res.Failed) > 0 && w.FailedPath != "" {
		logger.Warn().
			Int("failed", len(res.Failed)).
			Str("retry_with", "fetch --input "+w.FailedPath).
			Msg("Some epochs failed and can be retried")
	}

	return res, nil
}

// withMetrics runs fn while serving metrics on addr, if set.
func withMetrics(ctx context.Context, addr string, fn func(ctx context.Context) error) error {
	if addr == "" {
		return fn(ctx)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on metrics address: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	serveCtx, stopServing := context.WithCancel(gctx)

	g.Go(func() error {
		return metrics.Serve(serveCtx, ln)
	})
	g.Go(func() error {
		defer stopServing()
		return fn(gctx)
	})

	return g.Wait()
}
