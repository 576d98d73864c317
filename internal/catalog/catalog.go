// Package catalog loads declarative entity type definitions from YAML and compiles them
// into lifecycle registry entries.
//
// A catalog file looks like:
//
//	types:
//	  server:
//	    erasable: "attributes.protected != `true`"
//	    erasable_message: "server is protected"
//	    dependencies:
//	      - association: volumes
//	        cardinality: many
//	        cascade: true
//	  volume:
//	    dependencies:
//	      - association: snapshots
//	        erase_if_found: true
//	    finalizers:
//	      - name: detach
//	        url: https://storage.example.com/volumes/__ENTITY_ID__/attachment
//	        method: DELETE
//	        progress_attribute: attachment_id
package catalog

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/viper"

	"github.com/target/reclaim/internal/domain/lifecycle"
	"github.com/target/reclaim/internal/service"
)

// keyDelimiter keeps dotted type names intact; viper splits nested keys on ".".
const keyDelimiter = "::"

// Catalog is the parsed YAML document.
type Catalog struct {
	Types map[string]TypeSpec `mapstructure:"types"`
}

// TypeSpec declares one entity type.
type TypeSpec struct {
	// Erasable is a JMESPath expression over the entity document; a truthy result permits safe erase.
	Erasable        string           `mapstructure:"erasable"`
	ErasableMessage string           `mapstructure:"erasable_message"`
	Dependencies    []DependencySpec `mapstructure:"dependencies"`
	Finalizers      []FinalizerSpec  `mapstructure:"finalizers"`
}

// DependencySpec declares a parent -> child association.
type DependencySpec struct {
	Association  string `mapstructure:"association"`
	Cardinality  string `mapstructure:"cardinality"`
	EraseIfFound bool   `mapstructure:"erase_if_found"`
	// Cascade erases dependents when the owner is erased and implies erase_if_found.
	Cascade bool `mapstructure:"cascade"`
}

// FinalizerSpec declares a webhook finalizer.
type FinalizerSpec struct {
	Name              string            `mapstructure:"name"`
	URL               string            `mapstructure:"url"`
	Method            string            `mapstructure:"method"`
	Headers           map[string]string `mapstructure:"headers"`
	OkStatus          int               `mapstructure:"ok_status"`
	Body              string            `mapstructure:"body"`
	ProgressAttribute string            `mapstructure:"progress_attribute"`
}

// Load reads a catalog file. The format follows the file extension and defaults to YAML.
func Load(path string) (*Catalog, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter(keyDelimiter))
	v.SetConfigFile(path)
	if !hasConfigExt(path) {
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return decode(v)
}

// Parse reads a YAML catalog from r.
func Parse(r io.Reader) (*Catalog, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter(keyDelimiter))
	v.SetConfigType("yaml")
	if err := v.ReadConfig(r); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Catalog, error) {
	var c Catalog
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if len(c.Types) == 0 {
		return nil, errors.New("catalog declares no types")
	}
	return &c, nil
}

func hasConfigExt(path string) bool {
	lower := strings.ToLower(path)
	for _, ext := range viper.SupportedExts {
		if strings.HasSuffix(lower, "."+ext) {
			return true
		}
	}
	return false
}

// TypeNames returns the declared type names in sorted order.
func (c *Catalog) TypeNames() []string {
	names := make([]string, 0, len(c.Types))
	for name := range c.Types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks the catalog without binding it to a store. Every problem found is reported.
func (c *Catalog) Validate(eval service.JMESPathEvaluator) error {
	var errs []error
	for _, name := range c.TypeNames() {
		spec := c.Types[name]
		if strings.TrimSpace(name) == "" {
			errs = append(errs, errors.New("type name is required"))
			continue
		}
		if expr := strings.TrimSpace(spec.Erasable); expr != "" {
			if err := eval.Validate(expr); err != nil {
				errs = append(errs, fmt.Errorf("%s: invalid erasable expression: %w", name, err))
			}
		}
		seen := make(map[string]bool, len(spec.Dependencies))
		for _, dep := range spec.Dependencies {
			assoc := strings.TrimSpace(dep.Association)
			switch {
			case assoc == "":
				errs = append(errs, fmt.Errorf("%s: dependency association is required", name))
			case seen[assoc]:
				errs = append(errs, fmt.Errorf("%s: duplicate dependency %q", name, assoc))
			}
			seen[assoc] = true
			if !dep.cardinality().Valid() {
				errs = append(errs, fmt.Errorf("%s: dependency %q has invalid cardinality %q", name, assoc, dep.Cardinality))
			}
		}
		names := make(map[string]bool, len(spec.Finalizers))
		for _, f := range spec.Finalizers {
			if names[f.Name] {
				errs = append(errs, fmt.Errorf("%s: duplicate finalizer %q", name, f.Name))
			}
			names[f.Name] = true
			if err := f.webhook().Validate(eval); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}

func (d DependencySpec) cardinality() lifecycle.Cardinality {
	if strings.TrimSpace(d.Cardinality) == "" {
		return lifecycle.CardinalityMany
	}
	return lifecycle.Cardinality(strings.ToLower(strings.TrimSpace(d.Cardinality)))
}

func (d DependencySpec) descriptor(repo lifecycle.DependentRepository) lifecycle.DependencyDescriptor {
	return lifecycle.DependencyDescriptor{
		Association:  strings.TrimSpace(d.Association),
		Cardinality:  d.cardinality(),
		EraseIfFound: d.EraseIfFound,
		Cascade:      d.Cascade,
		Repo:         repo,
	}
}

func (f FinalizerSpec) webhook() service.WebhookSpec {
	return service.WebhookSpec{
		Name:              strings.TrimSpace(f.Name),
		URL:               strings.TrimSpace(f.URL),
		Method:            f.Method,
		Headers:           f.Headers,
		OkStatus:          f.OkStatus,
		Body:              f.Body,
		ProgressAttribute: strings.TrimSpace(f.ProgressAttribute),
	}
}
