package commands

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var errConnectionFailed = errors.New("connection test failed")

func newPingCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the API is reachable with the configured credentials",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, _ []string) error {
			if !a.client.TestConnection(cmd.Context()) {
				return fmt.Errorf("%w: %s", errConnectionFailed, a.client.BaseURL())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok %s\n", a.client.BaseURL())
			return nil
		}),
	}
}

func newVersionCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mammoth version %s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "Built with %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
