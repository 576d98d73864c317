//go:build tools

// Package tools documents development tool dependencies.
// These tools are installed via `go install` and are not tracked in go.mod.
package tools

// mockgen - regenerates internal/mocks (go generate ./internal/mocks/...)
//   Install: go install go.uber.org/mock/mockgen@v0.6.0
//   Docs: https://github.com/uber-go/mock
//
// golangci-lint - static checks
//   Install: go install github.com/golangci/golangci-lint/v2/cmd/golangci-lint@v2.5.0
