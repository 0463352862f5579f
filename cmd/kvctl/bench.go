package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/oriys/keystore/internal/affinity"
	"github.com/oriys/keystore/internal/keystore"
	"github.com/oriys/keystore/internal/metrics"
	"github.com/oriys/keystore/internal/workspace"
)

func benchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Drive concurrent load through one session",
	}
	cmd.AddCommand(benchIncrCmd(a))
	return cmd
}

func benchIncrCmd(a *app) *cobra.Command {
	var (
		workers int
		ops     int
		reset   bool
	)

	cmd := &cobra.Command{
		Use:   "incr <key>",
		Short: "Increment key from many workers sharing one session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if workers < 1 || ops < 1 {
				return fmt.Errorf("--workers and --ops must be positive")
			}
			key := args[0]
			return a.withSession(cmd, func(ctx context.Context, s *keystore.Session, ws *workspace.Workspace, out io.Writer) error {
				if reset {
					if _, err := s.Delete(worker(ctx), key); err != nil {
						return err
					}
				}

				start := time.Now()
				g, gctx := errgroup.WithContext(ctx)
				for i := 0; i < workers; i++ {
					wctx := affinity.WithWorker(gctx, affinity.WorkerID(i+1))
					g.Go(func() error {
						for n := 0; n < ops; n++ {
							if _, err := s.Increment(wctx, key); err != nil {
								return err
							}
						}
						return nil
					})
				}
				if err := g.Wait(); err != nil {
					return err
				}
				elapsed := time.Since(start)

				v, found, err := s.Get(worker(ctx), ws, key)
				if err != nil {
					return err
				}
				total := workers * ops
				fmt.Fprintf(out, "value: %s\n", valueOrNil(v, found))
				fmt.Fprintf(out, "commands: %d in %s (%.0f/s)\n", total, elapsed.Round(time.Microsecond), float64(total)/elapsed.Seconds())
				return printOps(out)
			})
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 8, "Concurrent workers")
	cmd.Flags().IntVar(&ops, "ops", 1000, "Increments per worker")
	cmd.Flags().BoolVar(&reset, "reset", false, "Delete key before starting")
	return cmd
}

func printOps(out io.Writer) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "OP\tCOMMANDS\tFAILURES\tAVG(us)\tMAX(us)")
	for _, st := range metrics.Global().Ops() {
		fmt.Fprintf(w, "%s\t%d\t%d\t%.1f\t%d\n", st.Op, st.Commands, st.Failures, st.AvgUs, st.MaxUs)
	}
	return w.Flush()
}

func valueOrNil(v []byte, found bool) string {
	if !found {
		return nilReply
	}
	return string(v)
}
