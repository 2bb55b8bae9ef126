package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/shiftsync/internal/apperr"
	"github.com/roach88/shiftsync/internal/attendance"
	"github.com/roach88/shiftsync/internal/auth"
)

// ActorOptions names who a command acts as.
type ActorOptions struct {
	As   string
	Role string
}

func (a *ActorOptions) bind(cmd *cobra.Command, defaultAs string) {
	cmd.Flags().StringVar(&a.As, "as", defaultAs, "employee ID or number acting")
	cmd.Flags().StringVar(&a.Role, "role", "", "role to act with (defaults to the employee's registered role)")
}

// resolve turns the flags into an actor. The system actor needs no
// registration; anyone else must be a known employee.
func (a *ActorOptions) resolve(ctx context.Context, d *device) (auth.Actor, error) {
	if a.As == "" {
		return auth.Actor{}, apperr.Validation("as", "is required")
	}
	if a.As == auth.System.EmployeeID {
		return auth.System, nil
	}
	e, err := d.svc.Employee(ctx, a.As)
	if err != nil {
		return auth.Actor{}, err
	}
	role := e.Role
	if a.Role != "" {
		role = a.Role
	}
	r, err := auth.ParseRole(role)
	if err != nil {
		return auth.Actor{}, err
	}
	return auth.Actor{EmployeeID: e.ID, Role: r}, nil
}

// AdjustOptions holds flags for the adjust command.
type AdjustOptions struct {
	*RootOptions
	Actor  ActorOptions
	Field  string
	Value  string
	Reason string
}

// AdjustResult is the JSON payload of adjust.
type AdjustResult struct {
	Record      attendance.Record       `json:"record"`
	Sync        string                  `json:"sync"`
	Adjustments []attendance.Adjustment `json:"adjustments"`
}

// NewAdjustCommand creates the adjust command.
func NewAdjustCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AdjustOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "adjust <record-id>",
		Short: "Correct a completed shift",
		Long: `Correct one field of a completed shift and record why.

Employees may correct their own shifts; anyone else's needs a manager.
Moving a boundary re-derives the hours and pay category.

Example:
  shiftsync adjust 0193... --field clockInTime --value 2025-03-03T08:00:00Z \
    --reason "badge reader down" --as 7 --role manager`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDevice(opts.RootOptions, cmd, func(ctx context.Context, d *device) error {
				actor, err := opts.Actor.resolve(ctx, d)
				if err != nil {
					return d.out.Fail("adjust", err)
				}
				res, err := d.svc.AdjustTime(ctx, args[0], opts.Field, opts.Value, opts.Reason, actor)
				if err != nil {
					return d.out.Fail("adjust", err)
				}
				adj, err := d.svc.Adjustments(ctx, args[0])
				if err != nil {
					return d.out.Fail("adjust", err)
				}
				out := AdjustResult{Record: res.Record, Sync: syncLine(res.Sync), Adjustments: adj}
				return d.out.Render(out, func(w io.Writer) {
					fmt.Fprintf(w, "✓ Adjusted %s [%s]\n", res.Record.ID, out.Sync)
					if res.Record.TotalHours != nil {
						fmt.Fprintf(w, "  hours: %.2f (%s)\n", *res.Record.TotalHours, categoryName(res.Record))
					}
					for _, a := range adj {
						fmt.Fprintf(w, "  %s %s: %q -> %q by %s (%s)\n",
							a.Timestamp.Format("2006-01-02 15:04"), a.Field, a.OriginalValue, a.NewValue, a.AdjustedBy, a.Reason)
					}
				})
			})
		},
	}

	opts.Actor.bind(cmd, "")
	cmd.Flags().StringVar(&opts.Field, "field", "", "field to change (clockInTime|clockOutTime|notes)")
	cmd.Flags().StringVar(&opts.Value, "value", "", "new value (RFC 3339 for times)")
	cmd.Flags().StringVar(&opts.Reason, "reason", "", "why the correction is needed (required)")
	_ = cmd.MarkFlagRequired("field")
	_ = cmd.MarkFlagRequired("as")

	return cmd
}
