package cli

import (
	"fmt"
	"os"

	"github.com/mcptrust/execgate/internal/version"
	"github.com/spf13/cobra"
)

var versionJSONFlag bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	// No config or logger needed.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		info := version.Get()
		if versionJSONFlag {
			return writeJSON(os.Stdout, info)
		}
		fmt.Printf("execgate %s", info.Version)
		if info.Revision != "" {
			fmt.Printf(" (%s)", info.Revision)
		}
		fmt.Printf(" %s\n", info.GoVersion)
		return nil
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionJSONFlag, "json", false, "Print as JSON")
}

func GetVersionCmd() *cobra.Command {
	return versionCmd
}
