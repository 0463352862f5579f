package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/oriys/keystore/internal/affinity"
	"github.com/oriys/keystore/internal/keystore"
	"github.com/oriys/keystore/internal/workspace"
)

const nilReply = "(nil)"

// cliWorker is the worker id single-shot commands run as, so worker-affine
// DSNs work from the command line.
const cliWorker affinity.WorkerID = 1

func driversCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "drivers",
		Short: "List registered drivers in lookup order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ORDER\tNAME\tSTATUS")
			seen := map[string]bool{}
			for i, name := range a.reg.Names() {
				status := "active"
				if seen[name] {
					status = "shadowed"
				}
				seen[name] = true
				fmt.Fprintf(w, "%d\t%s\t%s\n", i, name, status)
			}
			return w.Flush()
		},
	}
}

func getCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print the value stored at key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *keystore.Session, ws *workspace.Workspace, out io.Writer) error {
				v, found, err := s.Get(worker(ctx), ws, args[0])
				if err != nil {
					return err
				}
				printValue(out, v, found)
				return nil
			})
		},
	}
}

func setCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store value at key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *keystore.Session, _ *workspace.Workspace, out io.Writer) error {
				if err := s.Set(worker(ctx), args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintln(out, "OK")
				return nil
			})
		},
	}
}

func addCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "add <key> <value>",
		Short: "Store value at key only if the key is absent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *keystore.Session, _ *workspace.Workspace, out io.Writer) error {
				added, err := s.Add(worker(ctx), args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintln(out, added)
				return nil
			})
		},
	}
}

func existsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "exists <key>",
		Short: "Report whether key is present",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *keystore.Session, _ *workspace.Workspace, out io.Writer) error {
				ok, err := s.Exists(worker(ctx), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(out, ok)
				return nil
			})
		},
	}
}

func delCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "del <key>",
		Aliases: []string{"delete"},
		Short:   "Delete key",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *keystore.Session, _ *workspace.Workspace, out io.Writer) error {
				deleted, err := s.Delete(worker(ctx), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(out, deleted)
				return nil
			})
		},
	}
}

func expireCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "expire <key> <ttl>",
		Short: "Set a time to live on key (e.g. 30s, 5m)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ttl, err := time.ParseDuration(args[1])
			if err != nil {
				return fmt.Errorf("invalid ttl %q: %w", args[1], err)
			}
			return a.withSession(cmd, func(ctx context.Context, s *keystore.Session, _ *workspace.Workspace, out io.Writer) error {
				ok, err := s.Expire(worker(ctx), args[0], ttl)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, ok)
				return nil
			})
		},
	}
}

func incrCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "incr <key>",
		Short: "Increment the integer at key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *keystore.Session, _ *workspace.Workspace, out io.Writer) error {
				n, err := s.Increment(worker(ctx), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(out, n)
				return nil
			})
		},
	}
}

func decrCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "decr <key>",
		Short: "Decrement the integer at key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *keystore.Session, _ *workspace.Workspace, out io.Writer) error {
				n, err := s.Decrement(worker(ctx), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(out, n)
				return nil
			})
		},
	}
}

func rawCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "raw <command...>",
		Short: "Pass a command to the backend verbatim (drivers with raw support only)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *keystore.Session, ws *workspace.Workspace, out io.Writer) error {
				v, found, err := s.Raw(worker(ctx), ws, strings.Join(args, " "))
				if err != nil {
					return err
				}
				printValue(out, v, found)
				return nil
			})
		},
	}
}

func worker(ctx context.Context) context.Context {
	if _, ok := affinity.WorkerFrom(ctx); ok {
		return ctx
	}
	return affinity.WithWorker(ctx, cliWorker)
}

func printValue(out io.Writer, v []byte, found bool) {
	fmt.Fprintln(out, valueOrNil(v, found))
}
