// Command reclaim-admin inspects and drives entity lifecycles from a shell.
package main

import (
	"fmt"
	"os"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

func main() {
	a := newApp(os.Stdout)
	if err := newRootCmd(a).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err)) //nolint:forbidigo // CLI must propagate failure to the shell
	}
	os.Exit(exitSuccess) //nolint:forbidigo // explicit success status for scripts
}
