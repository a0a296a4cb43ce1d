// Command stardag is the SDK's companion CLI: authenticate against a
// registry and manage profiles and target roots — the client-side
// counterpart to cmd/registryd.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "stardag",
	Short: "Stardag build-tracking CLI",
	Long: `stardag authenticates against a registry and manages the local
profiles and target-root cache that sdk/client reads.`,
}

func main() {
	rootCmd.AddCommand(authCmd, configCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
