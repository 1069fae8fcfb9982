package main

import (
	"context"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/profile-collector/internal/collect"
	"github.com/sells-group/profile-collector/internal/config"
	"github.com/sells-group/profile-collector/internal/export"
	"github.com/sells-group/profile-collector/internal/metrics"
	"github.com/sells-group/profile-collector/internal/model"
	"github.com/sells-group/profile-collector/internal/store"
)

var collectFlags struct {
	target      int
	concurrency int
	outputDir   string
	format      string
	store       string
	metricsAddr string
	parallel    bool
}

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collect profiles from one or all sources",
}

func sourceCmd(source, short string) *cobra.Command {
	return &cobra.Command{
		Use:   source,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCollect(cmd, []string{source}, false)
		},
	}
}

var collectAllCmd = &cobra.Command{
	Use:   "all",
	Short: "Collect from every source, sequentially unless --parallel",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runCollect(cmd, model.Sources, collectFlags.parallel)
	},
}

func init() {
	pf := collectCmd.PersistentFlags()
	pf.IntVar(&collectFlags.target, "target", 0, "target record count per source (0 = config)")
	pf.IntVar(&collectFlags.concurrency, "concurrency", 0, "concurrent detail calls per source (0 = config)")
	pf.StringVar(&collectFlags.outputDir, "output-dir", "", "output directory (default from config)")
	pf.StringVar(&collectFlags.format, "format", "", "output format: csv or xlsx")
	pf.StringVar(&collectFlags.store, "store", "", "persist runs to a store: sqlite or postgres")
	pf.StringVar(&collectFlags.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address during the run")
	collectAllCmd.Flags().BoolVar(&collectFlags.parallel, "parallel", false, "run sources concurrently")

	collectCmd.AddCommand(
		sourceCmd(model.SourceLeetCode, "Collect LeetCode global ranking profiles"),
		sourceCmd(model.SourceGitHub, "Collect GitHub user profiles with repository aggregates"),
		sourceCmd(model.SourceStackOverflow, "Collect Stack Overflow users by reputation"),
		collectAllCmd,
	)
	rootCmd.AddCommand(collectCmd)
}

// applyCollectFlags overlays non-zero flags on the loaded config.
func applyCollectFlags(c *config.Config) {
	for _, sc := range []*config.SourceConfig{
		&c.LeetCode.SourceConfig,
		&c.GitHub.SourceConfig,
		&c.StackOverflow.SourceConfig,
	} {
		if collectFlags.target > 0 {
			sc.TargetCount = collectFlags.target
		}
		if collectFlags.concurrency > 0 {
			sc.Concurrency = collectFlags.concurrency
		}
	}
	if collectFlags.outputDir != "" {
		c.Output.Dir = collectFlags.outputDir
	}
	if collectFlags.format != "" {
		c.Output.Format = collectFlags.format
	}
	if collectFlags.store != "" {
		c.Store.Driver = collectFlags.store
	}
	if collectFlags.metricsAddr != "" {
		c.Metrics.Addr = collectFlags.metricsAddr
	}
}

func runCollect(cmd *cobra.Command, sources []string, parallel bool) error {
	applyCollectFlags(cfg)
	if err := cfg.Validate("collect"); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	env := &collectEnv{metrics: metrics.New(reg)}

	if cfg.Metrics.Addr != "" {
		srvCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := metrics.Serve(srvCtx, cfg.Metrics.Addr, reg); err != nil {
				zap.L().Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}

	st, err := initStore(ctx)
	if err != nil {
		return eris.Wrap(err, "collect: open store")
	}
	if st != nil {
		defer st.Close() //nolint:errcheck
		env.store = st
	}

	return collectSources(ctx, env, sources, parallel)
}

// collectEnv holds what every source run shares.
type collectEnv struct {
	metrics *metrics.Metrics
	store   store.Store
}

// collectSources runs each source, concurrently when parallel is set. A
// source whose output cannot be written does not stop the others.
func collectSources(ctx context.Context, env *collectEnv, sources []string, parallel bool) error {
	var (
		mu   sync.Mutex
		errs []error
	)
	record := func(err error) {
		if err == nil {
			return
		}
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	if parallel {
		var g errgroup.Group
		for _, s := range sources {
			g.Go(func() error {
				record(collectSource(ctx, env, s))
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, s := range sources {
			// An interrupted run keeps the artifacts of sources it never reached.
			if i > 0 && ctx.Err() != nil {
				zap.L().Warn("collection interrupted, skipping remaining sources",
					zap.Strings("skipped", sources[i:]))
				break
			}
			record(collectSource(ctx, env, s))
		}
	}

	if len(errs) > 0 {
		return eris.Wrapf(errs[0], "collect: %d of %d sources failed", len(errs), len(sources))
	}
	return nil
}

func collectSource(ctx context.Context, env *collectEnv, source string) error {
	switch source {
	case model.SourceLeetCode:
		return execute[model.LeetCodeProfile](ctx, env, newLeetCode(env.metrics), cfg.LeetCode.SourceConfig, false)
	case model.SourceGitHub:
		src, err := newGitHub(ctx, env.metrics)
		if err != nil {
			return err
		}
		return execute[model.GitHubProfile](ctx, env, src, cfg.GitHub.SourceConfig, true)
	case model.SourceStackOverflow:
		return execute[model.StackOverflowProfile](ctx, env, newStackOverflow(env.metrics), cfg.StackOverflow.SourceConfig, false)
	default:
		return eris.Errorf("collect: unknown source %q", source)
	}
}

// execute runs one source, writes its artifact and persists the run. The
// artifact is written even when the run ended early.
func execute[R model.Record](ctx context.Context, env *collectEnv, src collect.Source[R], sc config.SourceConfig, bom bool) error {
	name := src.Name()
	// Persistence outlives a cancelled collection.
	persistCtx := context.WithoutCancel(ctx)

	var run *model.Run
	if env.store != nil {
		r, err := env.store.CreateRun(persistCtx, name)
		if err != nil {
			return eris.Wrapf(err, "collect: %s: create run", name)
		}
		run = r
	}

	res := collect.Run(ctx, src, collect.Options{
		TargetCount: sc.TargetCount,
		Concurrency: sc.Concurrency,
		Metrics:     env.metrics,
		OnState: func(state model.RunState) {
			if run == nil || state == model.RunStateDone {
				return
			}
			if err := env.store.UpdateRunState(persistCtx, run.ID, state); err != nil {
				zap.L().Warn("collect: update run state", zap.String("source", name), zap.Error(err))
			}
		},
	})

	format, err := export.ParseFormat(cfg.Output.Format)
	if err != nil {
		return err
	}
	path, err := export.Write(export.Options{
		Dir:     cfg.Output.Dir,
		Name:    sc.Output,
		Format:  format,
		Columns: model.ColumnsFor(name),
		BOM:     bom,
	}, res.Rows())
	if err != nil {
		return eris.Wrapf(err, "collect: %s", name)
	}

	if run == nil {
		return nil
	}
	if _, err := env.store.SaveRecords(persistCtx, run.ID, name, res.Rows()); err != nil {
		return eris.Wrapf(err, "collect: %s: save records", name)
	}
	if err := env.store.SaveFailures(persistCtx, run.ID, res.Failures); err != nil {
		return eris.Wrapf(err, "collect: %s: save failures", name)
	}
	if err := env.store.CompleteRun(persistCtx, run.ID, res.Stats, path); err != nil {
		return eris.Wrapf(err, "collect: %s: complete run", name)
	}
	zap.L().Info("collect: run persisted", zap.String("source", name), zap.String("run_id", run.ID))
	return nil
}
