package catalog

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/target/reclaim/internal/core"
	"github.com/target/reclaim/internal/domain/lifecycle"
	"github.com/target/reclaim/internal/service"
)

// BuildOptions groups dependencies for compiling a catalog.
type BuildOptions struct {
	Store     core.EntityStore            // Required: source of association repositories
	Webhooks  *service.WebhookFinalizers  // Required when any type declares finalizers
	Counts    *core.DependentCountCache   // Optional: dependents count cache
	Evaluator service.JMESPathEvaluator   // Optional: defaults to go-jmespath
	Logger    *slog.Logger                // Optional: structured logger
}

// Registry compiles the catalog into a new registry.
func (c *Catalog) Registry(opts BuildOptions) (*lifecycle.Registry, error) {
	reg := lifecycle.NewRegistry()
	if err := c.Register(reg, opts); err != nil {
		return nil, err
	}
	return reg, nil
}

// Register compiles every declared type and adds it to reg.
func (c *Catalog) Register(reg *lifecycle.Registry, opts BuildOptions) error {
	if opts.Store == nil {
		return errors.New("entity store is required")
	}
	eval := opts.Evaluator
	if eval == nil {
		eval = service.DefaultJMESPathEvaluator()
	}
	if err := c.Validate(eval); err != nil {
		return fmt.Errorf("invalid catalog: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	for _, name := range c.TypeNames() {
		def, err := c.compile(name, c.Types[name], opts, eval, logger)
		if err != nil {
			return err
		}
		if err := reg.Register(def); err != nil {
			return fmt.Errorf("register %s: %w", name, err)
		}
	}
	logger.Info("entity catalog registered", "types", len(c.Types))
	return nil
}

func (c *Catalog) compile(
	name string,
	spec TypeSpec,
	opts BuildOptions,
	eval service.JMESPathEvaluator,
	logger *slog.Logger,
) (*lifecycle.TypeDefinition, error) {
	def := lifecycle.NewType(name)

	if expr := strings.TrimSpace(spec.Erasable); expr != "" {
		def.Erasable(erasablePredicate(expr, spec.ErasableMessage, eval))
	}

	for _, dep := range spec.Dependencies {
		assoc := strings.TrimSpace(dep.Association)
		repo := service.NewCountingDependents(opts.Store.Association(name, assoc), opts.Counts, name, assoc, logger)
		if dep.Cascade {
			def.EraseDependents(dep.descriptor(repo))
		} else {
			def.WaitForNoDependents(dep.descriptor(repo))
		}
	}

	if len(spec.Finalizers) > 0 && opts.Webhooks == nil {
		return nil, fmt.Errorf("%s: webhook finalizers declared but no webhook factory configured", name)
	}
	for _, f := range spec.Finalizers {
		fn, err := opts.Webhooks.Build(f.webhook())
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		def.AddFinalizer(strings.TrimSpace(f.Name), fn)
	}
	return def, nil
}

// erasablePredicate evaluates expr against the entity document. Evaluation errors deny
// the erase so a broken expression never lets an entity through.
func erasablePredicate(expr, message string, eval service.JMESPathEvaluator) lifecycle.ErasablePredicate {
	return func(e *lifecycle.Entity) (bool, string) {
		doc, err := service.JSONDocument(e)
		if err != nil {
			return false, fmt.Sprintf("erasable check failed: %v", err)
		}
		res, err := eval.Evaluate(expr, doc)
		if err != nil {
			return false, fmt.Sprintf("erasable check failed: %v", err)
		}
		if truthy(res) {
			return true, ""
		}
		return false, message
	}
}

// truthy applies JMESPath truthiness: false, null and empty strings, arrays and objects are false.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}
