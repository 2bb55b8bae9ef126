package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/shiftsync/internal/attendance"
	"github.com/roach88/shiftsync/internal/auth"
)

// EmployeesOptions holds flags for the employees commands.
type EmployeesOptions struct {
	*RootOptions
	Role string
}

// NewEmployeesCommand creates the employees command group.
func NewEmployeesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EmployeesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "employees",
		Short: "Manage the employees who can clock in",
	}

	add := &cobra.Command{
		Use:   "add <number> <name>",
		Short: "Register an employee",
		Long: `Register an employee on this device.

Employee numbers are unique; registering a number twice fails with DUPLICATE.

Example:
  shiftsync employees add 1042 "Ada Lovelace" --role manager`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDevice(opts.RootOptions, cmd, func(ctx context.Context, d *device) error {
				e, err := d.svc.RegisterEmployee(ctx, args[0], args[1], opts.Role)
				if err != nil {
					return d.out.Fail("register employee", err)
				}
				return d.out.Render(e, func(w io.Writer) {
					fmt.Fprintf(w, "✓ Registered %s (%s) as %s\n", e.Name, e.Number, e.Role)
					fmt.Fprintf(w, "  id: %s\n", e.ID)
				})
			})
		},
	}
	add.Flags().StringVar(&opts.Role, "role", string(auth.RoleEmployee), "role (employee|manager|admin)")

	list := &cobra.Command{
		Use:           "list",
		Short:         "List registered employees",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDevice(opts.RootOptions, cmd, func(ctx context.Context, d *device) error {
				es, err := d.svc.Employees(ctx)
				if err != nil {
					return d.out.Fail("list employees", err)
				}
				if es == nil {
					es = []attendance.Employee{}
				}
				return d.out.Render(es, func(w io.Writer) {
					if len(es) == 0 {
						fmt.Fprintln(w, "No employees registered.")
						return
					}
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "NUMBER\tNAME\tROLE\tID")
					for _, e := range es {
						fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Number, e.Name, e.Role, e.ID)
					}
					_ = tw.Flush()
				})
			})
		},
	}

	cmd.AddCommand(add, list)
	return cmd
}
