package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// Cardinality describes how many dependents an association can hold.
type Cardinality string

const (
	// CardinalityOne is a singular association.
	CardinalityOne Cardinality = "one"
	// CardinalityMany is a collection-valued association.
	CardinalityMany Cardinality = "many"
)

// Valid returns true if the Cardinality is known.
func (c Cardinality) Valid() bool {
	return c == CardinalityOne || c == CardinalityMany
}

// DependentRepository answers questions about one parent -> child relationship.
type DependentRepository interface {
	// Count returns how many dependents (deleted or not) still physically exist.
	Count(ctx context.Context, parentID string) (int, error)
	// ListNotDeleted returns dependents that have not been erased yet.
	ListNotDeleted(ctx context.Context, parentID string) ([]*Entity, error)
}

// DependencyDescriptor declares an association to dependent entities.
type DependencyDescriptor struct {
	Association  string
	Cardinality  Cardinality
	EraseIfFound bool
	// Cascade erases dependents synchronously when the owner transitions into deleted.
	Cascade bool
	Repo    DependentRepository
}

// FinalizerFunc is a unit of cleanup logic. It must be idempotent.
type FinalizerFunc func(ctx context.Context, e *Entity) Result

// FinalizerDescriptor is an ordered, optionally named finalizer.
type FinalizerDescriptor struct {
	Name     string
	RunFirst bool
	Fn       FinalizerFunc
	// Dependency is set for dependency checks; Fn is then supplied by the resolver.
	Dependency *DependencyDescriptor
}

// ErasablePredicate decides whether safe erase may proceed; a denial carries a reason.
type ErasablePredicate func(e *Entity) (bool, string)

// DestroyHook runs around the physical destroy.
type DestroyHook func(ctx context.Context, e *Entity) error

// TypeDefinition is the per-type lifecycle configuration, assembled with the builder methods.
type TypeDefinition struct {
	name          string
	finalizers    []FinalizerDescriptor
	dependencies  []DependencyDescriptor
	erasable      ErasablePredicate
	beforeDestroy []DestroyHook
	afterDestroy  []DestroyHook
}

// NewType starts a definition for the named entity type.
func NewType(name string) *TypeDefinition {
	return &TypeDefinition{name: strings.TrimSpace(name)}
}

// Name returns the entity type name.
func (d *TypeDefinition) Name() string {
	return d.name
}

// AddFinalizer appends a finalizer that runs in registration order.
func (d *TypeDefinition) AddFinalizer(name string, fn FinalizerFunc) *TypeDefinition {
	d.finalizers = append(d.finalizers, FinalizerDescriptor{Name: name, Fn: fn})
	return d
}

// AddFinalizerFirst appends a finalizer that runs ahead of all regular finalizers.
func (d *TypeDefinition) AddFinalizerFirst(name string, fn FinalizerFunc) *TypeDefinition {
	d.finalizers = append(d.finalizers, FinalizerDescriptor{Name: name, Fn: fn, RunFirst: true})
	return d
}

// WaitForNoDependents registers a run-first check that blocks finalization while dependents exist.
func (d *TypeDefinition) WaitForNoDependents(dep DependencyDescriptor) *TypeDefinition {
	if dep.Cardinality == "" {
		dep.Cardinality = CardinalityMany
	}
	d.dependencies = append(d.dependencies, dep)
	stored := d.dependencies[len(d.dependencies)-1]
	d.finalizers = append(d.finalizers, FinalizerDescriptor{
		Name:       "wait_for_no_dependents:" + dep.Association,
		RunFirst:   true,
		Dependency: &stored,
	})
	return d
}

// EraseDependents waits for dependents with erase-if-found and cascades erase on transition.
func (d *TypeDefinition) EraseDependents(dep DependencyDescriptor) *TypeDefinition {
	dep.EraseIfFound = true
	dep.Cascade = true
	return d.WaitForNoDependents(dep)
}

// Erasable sets the safe-erase predicate.
func (d *TypeDefinition) Erasable(p ErasablePredicate) *TypeDefinition {
	d.erasable = p
	return d
}

// BeforeDestroy adds a hook that runs before the record is removed.
func (d *TypeDefinition) BeforeDestroy(h DestroyHook) *TypeDefinition {
	d.beforeDestroy = append(d.beforeDestroy, h)
	return d
}

// AfterDestroy adds a hook that runs after the record is removed.
func (d *TypeDefinition) AfterDestroy(h DestroyHook) *TypeDefinition {
	d.afterDestroy = append(d.afterDestroy, h)
	return d
}

// Finalizers returns descriptors in execution order: run-first entries, then the rest,
// each group in registration order. Anonymous finalizers get a positional name.
func (d *TypeDefinition) Finalizers() []FinalizerDescriptor {
	out := make([]FinalizerDescriptor, 0, len(d.finalizers))
	for _, first := range []bool{true, false} {
		for i, f := range d.finalizers {
			if f.RunFirst != first {
				continue
			}
			if f.Name == "" {
				f.Name = "finalizer[" + strconv.Itoa(i) + "]"
			}
			out = append(out, f)
		}
	}
	return out
}

// Dependencies returns all declared dependency descriptors.
func (d *TypeDefinition) Dependencies() []DependencyDescriptor {
	return append([]DependencyDescriptor(nil), d.dependencies...)
}

// CascadeTargets returns the dependencies erased synchronously on transition.
func (d *TypeDefinition) CascadeTargets() []DependencyDescriptor {
	var out []DependencyDescriptor
	for _, dep := range d.dependencies {
		if dep.Cascade {
			out = append(out, dep)
		}
	}
	return out
}

// CanErase evaluates the safe-erase predicate; types without one are always erasable.
func (d *TypeDefinition) CanErase(e *Entity) (bool, string) {
	if d.erasable == nil {
		return true, ""
	}
	ok, reason := d.erasable(e)
	if !ok && strings.TrimSpace(reason) == "" {
		reason = fmt.Sprintf("%s cannot be erased", d.name)
	}
	return ok, reason
}

// BeforeDestroyHooks returns the pre-destroy hooks.
func (d *TypeDefinition) BeforeDestroyHooks() []DestroyHook {
	return d.beforeDestroy
}

// AfterDestroyHooks returns the post-destroy hooks.
func (d *TypeDefinition) AfterDestroyHooks() []DestroyHook {
	return d.afterDestroy
}

// Validate checks the definition for wiring mistakes.
func (d *TypeDefinition) Validate() error {
	if d.name == "" {
		return errors.New("type name is required")
	}
	seen := make(map[string]bool, len(d.dependencies))
	for _, dep := range d.dependencies {
		if strings.TrimSpace(dep.Association) == "" {
			return fmt.Errorf("%s: dependency association is required", d.name)
		}
		if seen[dep.Association] {
			return fmt.Errorf("%s: duplicate dependency %q", d.name, dep.Association)
		}
		seen[dep.Association] = true
		if !dep.Cardinality.Valid() {
			return fmt.Errorf("%s: dependency %q has invalid cardinality %q", d.name, dep.Association, dep.Cardinality)
		}
		if dep.Repo == nil {
			return fmt.Errorf("%s: dependency %q has no repository", d.name, dep.Association)
		}
	}
	for _, f := range d.finalizers {
		if f.Fn == nil && f.Dependency == nil {
			return fmt.Errorf("%s: finalizer %q has no function", d.name, f.Name)
		}
	}
	return nil
}

// Registry holds the type definitions known to the process.
type Registry struct {
	mu    sync.RWMutex
	types map[string]*TypeDefinition
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]*TypeDefinition)}
}

// Register validates and adds a definition. Registering a type twice is an error.
func (r *Registry) Register(def *TypeDefinition) error {
	if def == nil {
		return errors.New("type definition is required")
	}
	if err := def.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[def.name]; exists {
		return fmt.Errorf("type %q already registered", def.name)
	}
	r.types[def.name] = def
	return nil
}

// MustRegister registers the definition and panics on error.
func (r *Registry) MustRegister(def *TypeDefinition) {
	if err := r.Register(def); err != nil {
		//nolint:forbidigo // registration happens at startup; a broken definition must stop the process
		panic(fmt.Sprintf("register type: %v", err))
	}
}

// Lookup returns the definition for a type.
func (r *Registry) Lookup(name string) (*TypeDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.types[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, name)
	}
	return def, nil
}

// Types lists registered type names.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	return names
}
