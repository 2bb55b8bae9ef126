package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/shiftsync/internal/apperr"
	"github.com/roach88/shiftsync/internal/auth"
	"github.com/roach88/shiftsync/internal/category"
)

// NewCategoriesCommand creates the categories command group.
func NewCategoriesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "categories",
		Short: "Manage pay categories",
	}

	cmd.AddCommand(
		newCategoriesListCommand(rootOpts),
		newCategoriesPreviewCommand(rootOpts),
		newCategoriesConflictsCommand(rootOpts),
		newCategoriesAddCommand(rootOpts),
		newCategoriesDeactivateCommand(rootOpts),
	)
	return cmd
}

func newCategoriesListCommand(rootOpts *RootOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List categories",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDevice(rootOpts, cmd, func(ctx context.Context, d *device) error {
				cs, err := d.svc.Categories(ctx, !all)
				if err != nil {
					return d.out.Fail("list categories", err)
				}
				if cs == nil {
					cs = []category.TimeCategory{}
				}
				return d.out.Render(cs, func(w io.Writer) {
					if len(cs) == 0 {
						fmt.Fprintln(w, "No categories.")
						return
					}
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "ID\tNAME\tRANGE\tMULTIPLIER\tACTIVE")
					for _, c := range cs {
						fmt.Fprintf(tw, "%s\t%s\t%s\t%gx\t%t\n", c.ID, c.Name, c.Range(), c.PayMultiplier, c.IsActive)
					}
					_ = tw.Flush()
				})
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "include deactivated categories")
	return cmd
}

func newCategoriesPreviewCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "preview <hours> <base-rate>",
		Short: "Price hours against the active categories",
		Long: `Show which category a shift of the given length falls into and what it
pays at base-rate.

Example:
  shiftsync categories preview 10 20`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDevice(rootOpts, cmd, func(ctx context.Context, d *device) error {
				hours, err := parseFloatArg("hours", args[0])
				if err != nil {
					return d.out.Fail("preview", err)
				}
				rate, err := parseFloatArg("baseRate", args[1])
				if err != nil {
					return d.out.Fail("preview", err)
				}
				p, err := d.svc.PreviewPay(ctx, hours, rate)
				if err != nil {
					return d.out.Fail("preview", err)
				}
				return d.out.Render(p, func(w io.Writer) {
					name := "none"
					if p.AssignedCategory != nil {
						name = p.AssignedCategory.Name
					}
					fmt.Fprintf(w, "%.2fh at %.2f: %s (%gx) = %.2f\n", p.Hours, p.BaseRate, name, p.Multiplier, p.CalculatedPay)
				})
			})
		},
	}
}

func newCategoriesConflictsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "conflicts",
		Short:         "Report overlapping active categories",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDevice(rootOpts, cmd, func(ctx context.Context, d *device) error {
				overlaps, err := d.svc.CategoryConflicts(ctx)
				if err != nil {
					return d.out.Fail("category conflicts", err)
				}
				if overlaps == nil {
					overlaps = []category.Overlap{}
				}
				return d.out.Render(overlaps, func(w io.Writer) {
					fmt.Fprint(w, category.Report(overlaps))
				})
			})
		},
	}
}

// CategoryOptions holds flags for categories add.
type CategoryOptions struct {
	*RootOptions
	Actor      ActorOptions
	ID         string
	Name       string
	MinHours   float64
	MaxHours   float64
	Multiplier float64
}

func newCategoriesAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CategoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create or update a category",
		Long: `Create a category, or update it when --id names an existing one.
Ranges include both ends and a shift on a shared boundary goes to the
higher band. Leaving out --max makes the range open-ended. A range that
overlaps another active category is rejected.

Example:
  shiftsync categories add --id overtime --name Overtime --min 8 --max 12 --multiplier 1.5`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDevice(opts.RootOptions, cmd, func(ctx context.Context, d *device) error {
				actor, err := opts.Actor.resolve(ctx, d)
				if err != nil {
					return d.out.Fail("save category", err)
				}
				c := category.TimeCategory{
					ID:            opts.ID,
					Name:          opts.Name,
					MinHours:      opts.MinHours,
					PayMultiplier: opts.Multiplier,
				}
				if cmd.Flags().Changed("max") {
					upper := opts.MaxHours
					c.MaxHours = &upper
				}
				res, err := d.svc.SaveCategory(ctx, c, actor)
				if err != nil {
					return d.out.Fail("save category", err)
				}
				return d.out.Render(res, func(w io.Writer) {
					fmt.Fprintf(w, "✓ Saved %s %s %s (%gx) [%s]\n",
						res.Category.ID, res.Category.Name, res.Category.Range(), res.Category.PayMultiplier, syncLine(res.Sync))
				})
			})
		},
	}

	opts.Actor.bind(cmd, auth.System.EmployeeID)
	cmd.Flags().StringVar(&opts.ID, "id", "", "category ID (empty mints one)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "display name")
	cmd.Flags().Float64Var(&opts.MinHours, "min", 0, "lower bound in hours")
	cmd.Flags().Float64Var(&opts.MaxHours, "max", 0, "upper bound in hours (omit for open-ended)")
	cmd.Flags().Float64Var(&opts.Multiplier, "multiplier", 1, "pay multiplier")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func newCategoriesDeactivateCommand(rootOpts *RootOptions) *cobra.Command {
	var actor ActorOptions

	cmd := &cobra.Command{
		Use:   "deactivate <category-id>",
		Short: "Retire a category",
		Long: `Retire a category. Shifts already assigned to it keep it; new shifts
are no longer classified into it.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDevice(rootOpts, cmd, func(ctx context.Context, d *device) error {
				a, err := actor.resolve(ctx, d)
				if err != nil {
					return d.out.Fail("deactivate category", err)
				}
				res, err := d.svc.DeactivateCategory(ctx, args[0], a)
				if err != nil {
					return d.out.Fail("deactivate category", err)
				}
				return d.out.Render(res, func(w io.Writer) {
					if res.Sync.Entry.ID == "" {
						fmt.Fprintf(w, "%s is already inactive\n", res.Category.ID)
						return
					}
					fmt.Fprintf(w, "✓ Deactivated %s [%s]\n", res.Category.ID, syncLine(res.Sync))
				})
			})
		},
	}

	actor.bind(cmd, auth.System.EmployeeID)
	return cmd
}

func parseFloatArg(name, v string) (float64, error) {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, apperr.Validation(name, "must be a number; got %q", v)
	}
	return f, nil
}
