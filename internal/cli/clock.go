package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/shiftsync/internal/apperr"
	"github.com/roach88/shiftsync/internal/attendance"
	"github.com/roach88/shiftsync/internal/tracker"
)

// ClockOptions holds flags for clock-in and clock-out.
type ClockOptions struct {
	*RootOptions
	At    string
	Notes string
}

// NewClockInCommand creates the clock-in command.
func NewClockInCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ClockOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "clock-in <employee>",
		Short: "Start a shift",
		Long: `Start a shift for an employee, by ID or employee number.

The shift is written locally first and pushed to the server when it is
reachable; otherwise it waits in the sync queue.

Example:
  shiftsync clock-in 1042
  shiftsync clock-in 1042 --at 2025-03-03T08:55:00Z --notes "front desk"`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDevice(opts.RootOptions, cmd, func(ctx context.Context, d *device) error {
				at, err := parseTimeFlag("at", opts.At)
				if err != nil {
					return d.out.Fail("clock in", err)
				}
				in := tracker.ClockInOptions{At: at}
				if cmd.Flags().Changed("notes") {
					in.Notes = &opts.Notes
				}
				res, err := d.svc.ClockIn(ctx, args[0], in)
				if err != nil {
					return d.out.Fail("clock in", err)
				}
				return d.out.Render(res, func(w io.Writer) {
					fmt.Fprintf(w, "✓ Clocked in at %s [%s]\n", res.Record.ClockInTime.Format(time.RFC3339), syncLine(res.Sync))
					fmt.Fprintf(w, "  record: %s\n", res.Record.ID)
				})
			})
		},
	}

	cmd.Flags().StringVar(&opts.At, "at", "", "clock-in time (RFC 3339, defaults to now)")
	cmd.Flags().StringVar(&opts.Notes, "notes", "", "free-text notes")

	return cmd
}

// NewClockOutCommand creates the clock-out command.
func NewClockOutCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ClockOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "clock-out <employee>",
		Short: "End the current shift",
		Long: `End an employee's open shift. Total hours and the pay category are
derived from the categories active on this device.

Example:
  shiftsync clock-out 1042`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDevice(opts.RootOptions, cmd, func(ctx context.Context, d *device) error {
				at, err := parseTimeFlag("at", opts.At)
				if err != nil {
					return d.out.Fail("clock out", err)
				}
				res, err := d.svc.ClockOut(ctx, args[0], at)
				if err != nil {
					return d.out.Fail("clock out", err)
				}
				return d.out.Render(res, func(w io.Writer) {
					rec := res.Record
					fmt.Fprintf(w, "✓ Clocked out at %s [%s]\n", rec.ClockOutTime.Format(time.RFC3339), syncLine(res.Sync))
					fmt.Fprintf(w, "  hours: %.2f\n", *rec.TotalHours)
					fmt.Fprintf(w, "  category: %s\n", categoryName(rec))
				})
			})
		},
	}

	cmd.Flags().StringVar(&opts.At, "at", "", "clock-out time (RFC 3339, defaults to now)")

	return cmd
}

// NewShiftCommand creates the shift command.
func NewShiftCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "shift <employee>",
		Short:         "Show whether an employee is on shift",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDevice(rootOpts, cmd, func(ctx context.Context, d *device) error {
				sh, err := d.svc.CurrentShift(ctx, args[0])
				if err != nil {
					return d.out.Fail("current shift", err)
				}
				return d.out.Render(sh, func(w io.Writer) {
					if !sh.IsActive {
						fmt.Fprintln(w, "Not on shift.")
						return
					}
					fmt.Fprintf(w, "On shift since %s (%.2fh)\n",
						sh.Record.ClockInTime.Format(time.RFC3339), *sh.ElapsedHours)
				})
			})
		},
	}
}

// NewRecordsCommand creates the records command.
func NewRecordsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "records [employee]",
		Short: "List shifts",
		Long: `List recorded shifts with their sync status, for one employee or for
everyone.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := ""
			if len(args) == 1 {
				ref = args[0]
			}
			return withDevice(rootOpts, cmd, func(ctx context.Context, d *device) error {
				recs, err := d.svc.Records(ctx, ref)
				if err != nil {
					return d.out.Fail("list records", err)
				}
				if recs == nil {
					recs = []attendance.Record{}
				}
				return d.out.Render(recs, func(w io.Writer) {
					if len(recs) == 0 {
						fmt.Fprintln(w, "No shifts recorded.")
						return
					}
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "ID\tEMPLOYEE\tIN\tOUT\tHOURS\tCATEGORY\tSYNC")
					for _, r := range recs {
						out, hours := "-", "-"
						if r.ClockOutTime != nil {
							out = r.ClockOutTime.Format(time.RFC3339)
						}
						if r.TotalHours != nil {
							hours = fmt.Sprintf("%.2f", *r.TotalHours)
						}
						fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
							r.ID, r.EmployeeID, r.ClockInTime.Format(time.RFC3339), out, hours, categoryName(r), r.SyncStatus)
					}
					_ = tw.Flush()
				})
			})
		},
	}
}

func categoryName(r attendance.Record) string {
	if r.TimeCategoryName != nil {
		return *r.TimeCategoryName
	}
	return "-"
}

// parseTimeFlag parses an optional RFC 3339 flag value.
func parseTimeFlag(name, v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, apperr.Validation(name, "must be an RFC 3339 timestamp; got %q", v)
	}
	return &t, nil
}
