package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/target/reclaim/internal/catalog"
	"github.com/target/reclaim/internal/service"
)

func newCatalogCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect the entity type catalog",
	}
	cmd.AddCommand(newCatalogValidateCmd(a))
	return cmd
}

// catalogReport is the JSON form of catalog validate.
type catalogReport struct {
	Path   string   `json:"path"`
	Valid  bool     `json:"valid"`
	Types  []string `json:"types,omitempty"`
	Errors []string `json:"errors,omitempty"`
}

func newCatalogValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [path]",
		Short: "Check a catalog file without connecting to any database",
		Long: `validate parses the catalog and checks erasable expressions, dependency
declarations and webhook finalizers. The path defaults to CATALOG_PATH.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.cfg.CatalogPath
			if len(args) == 1 {
				path = args[0]
			}
			report := catalogReport{Path: path}

			c, err := catalog.Load(path)
			if err != nil {
				return userError{err}
			}
			report.Types = c.TypeNames()

			if verr := c.Validate(service.DefaultJMESPathEvaluator()); verr != nil {
				report.Errors = strings.Split(verr.Error(), "\n")
			}
			report.Valid = len(report.Errors) == 0

			if perr := a.printCatalogReport(report); perr != nil {
				return perr
			}
			if !report.Valid {
				return userError{fmt.Errorf("catalog %s has %d problem(s)", path, len(report.Errors))}
			}
			return nil
		},
	}
}

func (a *app) printCatalogReport(r catalogReport) error {
	if a.jsonOut {
		return a.printJSON(r)
	}
	if r.Valid {
		return a.printf("%s: ok (%d types: %s)\n", r.Path, len(r.Types), strings.Join(r.Types, ", "))
	}
	if err := a.printf("%s: invalid\n", r.Path); err != nil {
		return err
	}
	for _, msg := range r.Errors {
		if err := a.printf("  - %s\n", msg); err != nil {
			return err
		}
	}
	return nil
}
