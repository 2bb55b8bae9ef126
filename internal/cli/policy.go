package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/shiftsync/internal/auth"
	"github.com/roach88/shiftsync/internal/conflict"
	"github.com/roach88/shiftsync/internal/policy"
)

// NewPolicyCommand creates the policy command group.
func NewPolicyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Check and apply site policy files",
		Long: `A policy file is CUE declaring pay categories and conflict-resolution
rules:

  categories: overtime: {name: "Overtime", minHours: 8, maxHours: 12, payMultiplier: 1.5}
  rules: notes: {entityType: "attendance_record", conflictType: "data", strategy: "use_local"}`,
	}

	cmd.AddCommand(
		newPolicyCheckCommand(rootOpts),
		newPolicyApplyCommand(rootOpts),
		newPolicyRulesCommand(rootOpts),
	)
	return cmd
}

func newPolicyCheckCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "check <file.cue>",
		Short:         "Compile a policy without applying it",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd)
			p, err := policy.LoadFile(args[0])
			if err != nil {
				return policyFailure(out, err)
			}
			return out.Render(p, func(w io.Writer) {
				fmt.Fprintf(w, "✓ %s: %d categor(ies), %d rule(s)\n", args[0], len(p.Categories), len(p.Rules))
			})
		},
	}
}

// PolicyApplyOptions holds flags for policy apply.
type PolicyApplyOptions struct {
	*RootOptions
	Actor ActorOptions
}

func newPolicyApplyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PolicyApplyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "apply [file.cue]",
		Short: "Make this device's categories and rules match a policy",
		Long: `Compile a policy and apply it: categories missing from the file are
deactivated, new or changed ones are saved, and the rule set is replaced.
Without an argument the configured policy_file is used.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDevice(opts.RootOptions, cmd, func(ctx context.Context, d *device) error {
				path := d.cfg.PolicyFile
				if len(args) == 1 {
					path = args[0]
				}
				if path == "" {
					return NewExitError(ExitCommandError, "no policy file given and none configured")
				}
				p, err := policy.LoadFile(path)
				if err != nil {
					return policyFailure(d.out, err)
				}
				actor, err := opts.Actor.resolve(ctx, d)
				if err != nil {
					return d.out.Fail("apply policy", err)
				}
				sum, err := policy.Apply(ctx, p, d.svc, d.sync, actor, d.logger)
				if err != nil {
					return d.out.Fail("apply policy", err)
				}
				return d.out.Render(sum, func(w io.Writer) {
					fmt.Fprintf(w, "✓ Applied %s\n", path)
					fmt.Fprintf(w, "  saved:       %v\n", sum.Saved)
					fmt.Fprintf(w, "  deactivated: %v\n", sum.Deactivated)
					fmt.Fprintf(w, "  unchanged:   %v\n", sum.Unchanged)
					fmt.Fprintf(w, "  rules:       %d\n", sum.Rules)
				})
			})
		},
	}

	opts.Actor.bind(cmd, auth.System.EmployeeID)
	return cmd
}

func newPolicyRulesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "rules",
		Short:         "List the active conflict-resolution rules",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDevice(rootOpts, cmd, func(ctx context.Context, d *device) error {
				rules, err := d.sync.Rules(ctx)
				if err != nil {
					return d.out.Fail("list rules", err)
				}
				if rules == nil {
					rules = []conflict.Rule{}
				}
				return d.out.Render(rules, func(w io.Writer) {
					if len(rules) == 0 {
						fmt.Fprintln(w, "No rules configured.")
						return
					}
					for _, r := range rules {
						state := ""
						if !r.Enabled {
							state = " (disabled)"
						}
						fmt.Fprintf(w, "%3d %s: %s/%s -> %s%s\n", r.Priority, r.ID, r.EntityType, r.ConflictType, r.Strategy, state)
					}
				})
			})
		},
	}
}

// policyFailure reports a policy that failed to load or compile.
func policyFailure(out *OutputFormatter, err error) error {
	var ce *policy.CompileError
	if !errors.As(err, &ce) {
		_ = out.Error("POLICY_UNREADABLE", err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to read policy", err)
	}
	var details map[string]any
	if ce.Pos.IsValid() {
		details = map[string]any{
			"file":   ce.Pos.Filename(),
			"line":   ce.Pos.Line(),
			"column": ce.Pos.Column(),
		}
	}
	_ = out.Error("POLICY_INVALID", ce.Error(), details)
	return WrapExitError(ExitFailure, "policy invalid", err)
}
