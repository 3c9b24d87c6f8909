package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Version details",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), BuildDetails())
		},
	}
}

// BuildDetails returns the version, commit and build date of the binary
func BuildDetails() string {
	if version == "" {
		return `
edmongo (unknown version)
For more info:
https://github.com/edmongo/edmongo
`
	}

	return fmt.Sprintf(`
edmongo %s
For more info:
https://github.com/edmongo/edmongo

Commit SHA-1          : %s
Commit timestamp      : %s
Go version            : %s
`,
		version,
		commit,
		date,
		runtime.Version())
}
