// Command apiaccess manages sealed API secrets and issues gateway calls from
// the shell.
package main

import (
	"fmt"
	"os"

	"github.com/goliatone/go-apiaccess/pkg/apierror"
)

func main() {
	root := newRootCmd(os.Stdout, os.Stderr, os.LookupEnv)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "apiaccess: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps the error kind onto a process exit status.
func exitCode(err error) int {
	switch apierror.KindOf(err) {
	case apierror.KindConfig:
		return 2
	case apierror.KindValidation, apierror.KindRequest:
		return 3
	case apierror.KindAuth, apierror.KindAuthentication:
		return 4
	case apierror.KindTimeout:
		return 5
	default:
		return 1
	}
}
