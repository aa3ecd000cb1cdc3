package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/stagefs/stagefs/cmd/stagefsctl/cmdutil"
	"github.com/stagefs/stagefs/internal/cli/output"
)

// buildInfo is the version payload for structured output.
type buildInfo struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	Built     string `json:"built" yaml:"built"`
	GoVersion string `json:"go_version" yaml:"go_version"`
	Platform  string `json:"platform" yaml:"platform"`
}

var versionShort bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
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

		format, err := cmdutil.GetOutputFormatParsed()
		if err != nil {
			return err
		}
		switch format {
		case output.FormatJSON:
			return output.PrintJSON(cmd.OutOrStdout(), info)
		case output.FormatYAML:
			return output.PrintYAML(cmd.OutOrStdout(), info)
		}

		fmt.Printf("stagefsctl version %s\n", info.Version)
		fmt.Printf("  Commit:     %s\n", info.Commit)
		fmt.Printf("  Built:      %s\n", info.Built)
		fmt.Printf("  Go version: %s\n", info.GoVersion)
		fmt.Printf("  OS/Arch:    %s\n", info.Platform)
		return nil
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "Print only the version number")
}
