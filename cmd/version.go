// cmd/version.go
package cmd

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Version is the application version, set at build time with
// -ldflags "-X github.com/xkilldash9x/settle/cmd.Version=1.2.0".
var Version = "dev"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the settle version and the browser protocol libraries it was built with",
		Args:  cobra.NoArgs,
		// Printing the version needs neither config nor logging.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "settle %s\n", Version)
			info, ok := debug.ReadBuildInfo()
			if !ok {
				return
			}
			fmt.Fprintf(out, "go %s\n", info.GoVersion)
			for _, dep := range info.Deps {
				switch dep.Path {
				case "github.com/chromedp/chromedp", "github.com/chromedp/cdproto":
					fmt.Fprintf(out, "%s %s\n", dep.Path, dep.Version)
				}
			}
		},
	}
}
