package commands

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/stagefs/stagefs/internal/cli/output"
)

var (
	versionShort  bool
	versionOutput string
)

// buildInfo is the version payload for structured output.
type buildInfo struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	Built     string `json:"built" yaml:"built"`
	GoVersion string `json:"go_version" yaml:"go_version"`
	Platform  string `json:"platform" yaml:"platform"`
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long:  `Display the stagefs version, build information, and system details.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if versionShort {
			fmt.Println(Version)
			return nil
		}

		info := buildInfo{
			Version:   Version,
			Commit:    Commit,
			Built:     Date,
			GoVersion: runtime.Version(),
			Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		}

		format, err := output.ParseFormat(versionOutput)
		if err != nil {
			return err
		}
		switch format {
		case output.FormatJSON:
			return output.PrintJSON(os.Stdout, info)
		case output.FormatYAML:
			return output.PrintYAML(os.Stdout, info)
		}

		fmt.Printf("stagefs %s\n", info.Version)
		fmt.Printf("  Commit:     %s\n", info.Commit)
		fmt.Printf("  Built:      %s\n", info.Built)
		fmt.Printf("  Go version: %s\n", info.GoVersion)
		fmt.Printf("  OS/Arch:    %s\n", info.Platform)
		return nil
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "Show only version number")
	versionCmd.Flags().StringVarP(&versionOutput, "output", "o", "table", "Output format (table|json|yaml)")
}
