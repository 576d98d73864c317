package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/target/reclaim/internal/domain/lifecycle"
	"github.com/target/reclaim/internal/service"
)

func newShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <type> <id>",
		Short: "Display an entity with its state and attributes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				e, err := rt.Lifecycle.Get(ctx, refArgs(args))
				if err != nil {
					return err
				}
				return a.printEntity(e)
			})
		},
	}
}

func newEraseCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "erase <type> <id>",
		Short: "Mark an entity deleted, cascade to dependents and enqueue finalization",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				ref := refArgs(args)
				erased, err := rt.Lifecycle.Erase(ctx, ref)
				if err != nil {
					return err
				}
				return a.printResult(map[string]any{"erased": erased}, eraseMessage(ref, erased))
			})
		},
	}
}

func newSafeEraseCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "safe-erase <type> <id>",
		Short: "Erase an entity only if its type's erasable predicate allows it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				ref := refArgs(args)
				e, err := rt.Lifecycle.Get(ctx, ref)
				if err != nil {
					return err
				}
				if e.Deleted() {
					return a.printResult(map[string]any{"erased": false}, eraseMessage(ref, false))
				}
				ok, err := rt.Lifecycle.SafeErase(ctx, e)
				if err != nil {
					return err
				}
				if !ok {
					msg := "entity cannot be erased"
					if n := len(e.Errors); n > 0 {
						msg = e.Errors[n-1]
					}
					return userError{fmt.Errorf("%s: %s", ref, msg)}
				}
				return a.printResult(map[string]any{"erased": true}, eraseMessage(ref, true))
			})
		},
	}
}

func newFinalizeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "finalize <type> <id>",
		Short: "Enqueue a finalize job for a deleted entity that has none pending",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				ref := refArgs(args)
				enqueued, err := rt.Lifecycle.RestartFinalize(ctx, ref, rt.Jobs)
				if err != nil {
					return err
				}
				msg := fmt.Sprintf("Enqueued finalize job for %s\n", ref)
				if !enqueued {
					msg = fmt.Sprintf("A finalize job for %s is already pending or running\n", ref)
				}
				return a.printResult(map[string]any{"enqueued": enqueued}, msg)
			})
		},
	}
}

func newRunFinalizeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run-finalize <type> <id>",
		Short: "Run the finalizers of a deleted entity now and destroy it on success",
		Long: `run-finalize runs finalizeAndDestroy synchronously in this process. It does not
touch the job queue: a pending finalize job for the entity is discarded by the
worker once the entity is gone.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				ref := refArgs(args)
				e, err := rt.Lifecycle.Get(ctx, ref)
				if err != nil {
					return err
				}
				if !e.Deleted() {
					return fmt.Errorf("%w: %s", service.ErrNotDeleted, ref)
				}
				res := rt.Lifecycle.FinalizeAndDestroy(ctx, e)
				if perr := a.printFinalizeResult(ref, res); perr != nil {
					return perr
				}
				if res.Outcome == lifecycle.OutcomeFatal {
					return res.Error()
				}
				return nil
			})
		},
	}
}

func eraseMessage(ref lifecycle.Ref, erased bool) string {
	if erased {
		return fmt.Sprintf("Erased %s\n", ref)
	}
	return fmt.Sprintf("%s was already deleted\n", ref)
}

type finalizeOutput struct {
	Type      string            `json:"type"`
	ID        string            `json:"id"`
	Outcome   lifecycle.Outcome `json:"outcome"`
	Destroyed bool              `json:"destroyed"`
	Finalizer string            `json:"finalizer,omitempty"`
	Reason    string            `json:"reason,omitempty"`
}

func (a *app) printFinalizeResult(ref lifecycle.Ref, res lifecycle.Result) error {
	out := finalizeOutput{
		Type:      ref.Type,
		ID:        ref.ID,
		Outcome:   res.Outcome,
		Destroyed: res.Proceed(),
		Finalizer: res.Finalizer,
		Reason:    res.Reason,
	}
	if out.Outcome == "" {
		out.Outcome = lifecycle.OutcomeContinue
	}
	if a.jsonOut {
		return a.printJSON(out)
	}
	if out.Destroyed {
		return a.printf("Destroyed %s\n", ref)
	}
	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Entity:\t%s\n", ref)
	fmt.Fprintf(tw, "Outcome:\t%s\n", out.Outcome)
	if out.Finalizer != "" {
		fmt.Fprintf(tw, "Finalizer:\t%s\n", out.Finalizer)
	}
	if out.Reason != "" {
		fmt.Fprintf(tw, "Reason:\t%s\n", out.Reason)
	}
	return tw.Flush()
}

func (a *app) printEntity(e *lifecycle.Entity) error {
	if a.jsonOut {
		return a.printJSON(e)
	}

	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Type:\t%s\n", e.Type)
	fmt.Fprintf(tw, "ID:\t%s\n", e.ID)
	fmt.Fprintf(tw, "State:\t%s\n", e.State)
	if e.StateAt != nil {
		fmt.Fprintf(tw, "State at:\t%s\n", formatTime(*e.StateAt))
	}
	if e.DeleteAt != nil {
		fmt.Fprintf(tw, "Delete at:\t%s\n", formatTime(*e.DeleteAt))
	}
	if e.ParentType != nil && e.ParentID != nil {
		fmt.Fprintf(tw, "Parent:\t%s/%s (%s)\n", *e.ParentType, *e.ParentID, deref(e.Association))
	}
	fmt.Fprintf(tw, "Created:\t%s\n", formatTime(e.CreatedAt))
	fmt.Fprintf(tw, "Updated:\t%s\n", formatTime(e.UpdatedAt))
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(e.Attributes) > 0 {
		if err := a.printf("\nAttributes:\n"); err != nil {
			return err
		}
		keys := make([]string, 0, len(e.Attributes))
		for k := range e.Attributes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			v, err := json.Marshal(e.Attributes[k])
			if err != nil {
				return fmt.Errorf("marshal attribute %s: %w", k, err)
			}
			if err := a.printf("  %s: %s\n", k, v); err != nil {
				return err
			}
		}
	}
	for i, msg := range e.Errors {
		if i == 0 {
			if err := a.printf("\nErrors:\n"); err != nil {
				return err
			}
		}
		if err := a.printf("  %s\n", msg); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) printResult(v any, text string) error {
	if a.jsonOut {
		return a.printJSON(v)
	}
	return a.printf("%s", text)
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
