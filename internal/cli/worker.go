package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"derived-dsl/internal/dictionary"
	"derived-dsl/internal/pipeline"
)

func (a *app) workerCommand() *cobra.Command {
	var (
		workers       int
		metricsAddr   string
		drain         bool
		grammarReload time.Duration
	)

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the compilation worker pool",
		Long: `Claim queued compilation jobs and store their source and optimized
artifacts. Failed jobs are retried with exponential backoff until the retry
limit, then marked failed. The pool stops on SIGINT or SIGTERM.

Examples:
  dsl worker --workers 8 --metrics-addr :9090
  dsl worker --drain`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			eng, err := a.startEngine(ctx)
			if err != nil {
				return err
			}

			poolCfg := a.cfg.Pool
			if cmd.Flags().Changed("workers") {
				poolCfg.Workers = workers
			}
			if metricsAddr == "" {
				metricsAddr = a.cfg.MetricsAddr
			}

			compiler := pipeline.NewDSLCompiler(a.store, eng.Registry().Current)
			pool := pipeline.NewPool(a.store, compiler, poolCfg, a.log, pipeline.WithMetrics(a.metrics))

			if drain {
				n, err := pool.Drain(ctx)
				if err != nil {
					return err
				}
				success(cmd.OutOrStdout(), "Processed %d jobs", n)
				return nil
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return pool.Run(gctx) })

			if grammarReload > 0 {
				g.Go(func() error {
					ticker := time.NewTicker(grammarReload)
					defer ticker.Stop()
					for {
						select {
						case <-gctx.Done():
							return nil
						case <-ticker.C:
							if _, err := eng.ReloadGrammar(gctx); err != nil {
								a.log.Warnw("grammar reload failed, keeping previous version", "error", err)
							}
						}
					}
				})
			}

			if metricsAddr != "" {
				srv := &http.Server{
					Addr:              metricsAddr,
					Handler:           promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
					ReadHeaderTimeout: 5 * time.Second,
				}
				g.Go(func() error {
					a.log.Infow("serving metrics", "addr", metricsAddr)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return fmt.Errorf("metrics server: %w", err)
					}
					return nil
				})
				g.Go(func() error {
					<-gctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				})
			}

			a.log.Infow("worker pool started", "workers", poolCfg.Workers, "poll_interval", poolCfg.PollInterval)
			err = g.Wait()
			a.log.Infow("worker pool stopped")
			return err
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 0, "Number of workers (overrides DSL_WORKERS)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (overrides DSL_METRICS_ADDR)")
	cmd.Flags().BoolVar(&drain, "drain", false, "Process every available job, then exit")
	cmd.Flags().DurationVar(&grammarReload, "grammar-reload", 30*time.Second, "How often to pick up grammar changes (0 disables)")
	return cmd
}

func (a *app) jobsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect compilation jobs",
	}
	cmd.AddCommand(a.jobsListCommand())
	return cmd
}

func (a *app) jobsListCommand() *cobra.Command {
	var (
		rule   string
		status string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List compilation jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}

			filter := pipeline.JobFilter{Status: pipeline.JobStatus(status), Limit: limit}
			if rule != "" {
				// accept an attribute name as well as a rule id
				def, err := a.store.GetAttributeByName(ctx, rule)
				switch {
				case err == nil:
					filter.RuleID = def.AttributeID
				case errors.Is(err, dictionary.ErrAttributeNotFound):
					filter.RuleID = rule
				default:
					return err
				}
			}

			jobs, err := a.service.Jobs(ctx, filter)
			if err != nil {
				return err
			}

			tw := table(cmd.OutOrStdout())
			fmt.Fprintln(tw, "JOB\tRULE\tKIND\tPRIORITY\tSTATUS\tRETRIES\tERROR")
			for _, j := range jobs {
				msg := ""
				if j.ErrorMessage != nil {
					msg = *j.ErrorMessage
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%d/%d\t%s\n",
					j.JobID, j.RuleID, j.ArtifactKind, j.Priority, j.Status, j.RetryCount, j.MaxRetries, msg)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&rule, "rule", "", "Only jobs of this attribute name or rule id")
	cmd.Flags().StringVar(&status, "status", "", "Only jobs in this status (pending, processing, completed, failed, cancelled)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of jobs (0 for all)")
	return cmd
}
