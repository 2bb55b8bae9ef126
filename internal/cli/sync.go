package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/shiftsync/internal/apperr"
	"github.com/roach88/shiftsync/internal/conflict"
	"github.com/roach88/shiftsync/internal/queue"
	"github.com/roach88/shiftsync/internal/syncer"
)

// NewSyncCommand creates the sync command group.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Inspect and drive the sync queue",
	}

	cmd.AddCommand(
		newSyncStatusCommand(rootOpts),
		newSyncTriggerCommand(rootOpts),
		newSyncConflictsCommand(rootOpts),
		newSyncResolveCommand(rootOpts),
		newSyncAuditCommand(rootOpts),
		newSyncRecoverCommand(rootOpts),
		newSyncFailedCommand(rootOpts),
		newSyncRequeueCommand(rootOpts),
		newSyncRunCommand(rootOpts),
	)
	return cmd
}

func newSyncStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "status",
		Short:         "Show queue counts and the last drain",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDevice(rootOpts, cmd, func(ctx context.Context, d *device) error {
				st, err := d.sync.Status(ctx)
				if err != nil {
					return d.out.Fail("sync status", err)
				}
				return d.out.Render(st, func(w io.Writer) {
					online := "offline"
					if st.Online {
						online = "online"
					}
					fmt.Fprintf(w, "Remote:     %s\n", online)
					fmt.Fprintf(w, "Pending:    %d\n", st.PendingItems)
					fmt.Fprintf(w, "Processing: %d\n", st.ProcessingItems)
					fmt.Fprintf(w, "Failed:     %d\n", st.FailedItems)
					fmt.Fprintf(w, "Conflicts:  %d\n", st.OpenConflicts)
					if st.LastSyncAt != nil {
						fmt.Fprintf(w, "Last sync:  %s (%s)\n", st.LastSyncAt.Format(time.RFC3339), st.LastSyncStatus)
					} else {
						fmt.Fprintln(w, "Last sync:  never")
					}
				})
			})
		},
	}
}

// TriggerOptions holds flags for sync trigger.
type TriggerOptions struct {
	*RootOptions
	BatchSize   int
	AutoResolve bool
}

func newSyncTriggerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TriggerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Drain the queue once",
		Long: `Push queued changes to the server in order, one entity at a time.

Fails with SYNC_TRANSIENT when the server is unreachable or another drain
is running.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDevice(opts.RootOptions, cmd, func(ctx context.Context, d *device) error {
				auto := d.cfg.Sync.AutoResolve
				if cmd.Flags().Changed("auto-resolve") {
					auto = opts.AutoResolve
				}
				res, err := d.sync.Trigger(ctx, syncer.TriggerOptions{BatchSize: opts.BatchSize, AutoResolve: auto})
				if errors.Is(err, syncer.ErrOffline) || errors.Is(err, syncer.ErrSyncInProgress) {
					err = apperr.Transient("sync", err)
				}
				if err != nil {
					return d.out.Fail("sync trigger", err)
				}
				return d.out.Render(res, func(w io.Writer) {
					fmt.Fprintf(w, "✓ Processed %d: %d succeeded, %d failed, %d conflict(s), %d auto-resolved\n",
						res.Processed, res.Succeeded, res.Failed, res.Conflicts, res.AutoResolved)
					if res.Interrupted {
						fmt.Fprintln(w, "  interrupted: connection lost, remaining entries left queued")
					}
				})
			})
		},
	}

	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", 0, "entries to apply (0 uses the configured batch size)")
	cmd.Flags().BoolVar(&opts.AutoResolve, "auto-resolve", false, "apply resolution rules to new conflicts")

	return cmd
}

func newSyncConflictsCommand(rootOpts *RootOptions) *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:           "conflicts",
		Short:         "List conflicts",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDevice(rootOpts, cmd, func(ctx context.Context, d *device) error {
				cs, err := d.sync.Conflicts(ctx, conflict.Status(status))
				if err != nil {
					return d.out.Fail("list conflicts", err)
				}
				if cs == nil {
					cs = []conflict.Record{}
				}
				return d.out.Render(cs, func(w io.Writer) {
					if len(cs) == 0 {
						fmt.Fprintln(w, "No conflicts.")
						return
					}
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "ID\tENTITY\tTYPE\tFIELDS\tSTATUS")
					for _, c := range cs {
						fmt.Fprintf(tw, "%s\t%s/%s\t%s\t%v\t%s\n",
							c.ID, c.EntityType, c.EntityID, c.ConflictType, c.ConflictFields, c.Status)
					}
					_ = tw.Flush()
				})
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", string(conflict.StatusPending), "pending|resolved|ignored (empty lists all)")
	return cmd
}

// ResolveOptions holds flags for sync resolve.
type ResolveOptions struct {
	*RootOptions
	Actor  ActorOptions
	Merged string
	Reason string
}

func newSyncResolveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResolveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "resolve <conflict-id> <use_local|use_remote|merge|ignore>",
		Short: "Resolve a conflict",
		Long: `Close a pending conflict. Only managers may resolve.

merge needs --merged with the full merged entity as JSON.

Example:
  shiftsync sync resolve 0193... use_remote --as 7 --reason "server is right"`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDevice(opts.RootOptions, cmd, func(ctx context.Context, d *device) error {
				actor, err := opts.Actor.resolve(ctx, d)
				if err != nil {
					return d.out.Fail("resolve conflict", err)
				}
				res, err := conflict.ParseResolution(args[1])
				if err != nil {
					return d.out.Fail("resolve conflict", err)
				}
				var merged json.RawMessage
				if opts.Merged != "" {
					if !json.Valid([]byte(opts.Merged)) {
						return d.out.Fail("resolve conflict", apperr.Validation("merged", "must be valid JSON"))
					}
					merged = json.RawMessage(opts.Merged)
				}
				rec, err := d.sync.ResolveConflict(ctx, args[0], res, merged, opts.Reason, actor)
				if err != nil {
					return d.out.Fail("resolve conflict", err)
				}
				return d.out.Render(rec, func(w io.Writer) {
					fmt.Fprintf(w, "✓ Conflict %s %s (%s)\n", rec.ID, rec.Status, rec.Resolution)
				})
			})
		},
	}

	opts.Actor.bind(cmd, "")
	cmd.Flags().StringVar(&opts.Merged, "merged", "", "merged entity JSON (merge only)")
	cmd.Flags().StringVar(&opts.Reason, "reason", "", "note kept in the audit trail")
	_ = cmd.MarkFlagRequired("as")

	return cmd
}

func newSyncAuditCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "audit [conflict-id]",
		Short:         "Show the resolution audit trail",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ""
			if len(args) == 1 {
				id = args[0]
			}
			return withDevice(rootOpts, cmd, func(ctx context.Context, d *device) error {
				entries, err := d.sync.Audit(ctx, id)
				if err != nil {
					return d.out.Fail("audit", err)
				}
				if entries == nil {
					entries = []conflict.AuditEntry{}
				}
				return d.out.Render(entries, func(w io.Writer) {
					if len(entries) == 0 {
						fmt.Fprintln(w, "No resolutions recorded.")
						return
					}
					for _, a := range entries {
						fmt.Fprintf(w, "%s %s %s by %s", a.Timestamp.Format(time.RFC3339), a.ConflictID, a.Resolution, a.Actor)
						if a.Reason != "" {
							fmt.Fprintf(w, ": %s", a.Reason)
						}
						fmt.Fprintln(w)
					}
				})
			})
		},
	}
}

func newSyncRecoverCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "recover",
		Short:         "Return entries interrupted mid-drain to pending",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDevice(rootOpts, cmd, func(ctx context.Context, d *device) error {
				n, err := d.sync.Recover(ctx)
				if err != nil {
					return d.out.Fail("recover", err)
				}
				return d.out.Render(map[string]int64{"recovered": n}, func(w io.Writer) {
					fmt.Fprintf(w, "✓ Recovered %d entr(ies)\n", n)
				})
			})
		},
	}
}

func newSyncFailedCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "failed",
		Short:         "List entries that need an operator",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDevice(rootOpts, cmd, func(ctx context.Context, d *device) error {
				es, err := d.sync.FailedItems(ctx)
				if err != nil {
					return d.out.Fail("failed items", err)
				}
				if es == nil {
					es = []queue.Entry{}
				}
				return d.out.Render(es, func(w io.Writer) {
					if len(es) == 0 {
						fmt.Fprintln(w, "No failed entries.")
						return
					}
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "ID\tOP\tENTITY\tATTEMPTS\tERROR")
					for _, e := range es {
						fmt.Fprintf(tw, "%s\t%s\t%s/%s\t%d\t%s\n",
							e.ID, e.Operation, e.EntityType, e.EntityID, e.Attempts, e.LastError)
					}
					_ = tw.Flush()
				})
			})
		},
	}
}

func newSyncRequeueCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "requeue <entry-id>",
		Short:         "Retry a terminally failed entry",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDevice(rootOpts, cmd, func(ctx context.Context, d *device) error {
				e, err := d.sync.Requeue(ctx, args[0])
				if err != nil {
					return d.out.Fail("requeue", err)
				}
				return d.out.Render(e, func(w io.Writer) {
					fmt.Fprintf(w, "✓ Requeued %s (%s %s/%s)\n", e.ID, e.Operation, e.EntityType, e.EntityID)
				})
			})
		},
	}
}

func newSyncRunCommand(rootOpts *RootOptions) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Drain the queue in the background until interrupted",
		Long: `Recover interrupted entries, then drain on every tick while the server
is reachable. Stops on Ctrl-C.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDevice(rootOpts, cmd, func(ctx context.Context, d *device) error {
				every := d.cfg.Sync.Interval
				if interval > 0 {
					every = interval
				}
				ctx, cancel := signalContext(ctx)
				defer cancel()

				fmt.Fprintln(cmd.OutOrStdout(), "Sync loop started. Press Ctrl-C to stop.")
				if err := d.sync.Run(ctx, every); err != nil {
					return WrapExitError(ExitFailure, "sync loop", err)
				}
				slog.Info("sync loop stopped gracefully")
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 0, "time between drains (0 uses the configured interval)")
	return cmd
}

// signalContext is cancelled on SIGINT, SIGTERM or when parent ends.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan) // Prevent signal handler leak
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
