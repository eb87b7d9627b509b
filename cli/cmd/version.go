package cmd

import (
	"encoding/json"

	"github.com/urfave/cli/v2"

	"github.com/edgeorder/labelreader/types"
)

// VersionResponse is the output of the version command.
type VersionResponse struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// VersionCommand returns the version command. It loads no configuration.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:   "version",
		Usage:  "Show version information",
		Action: versionAction(commit),
	}
}

func versionAction(commit string) cli.ActionFunc {
	return func(c *cli.Context) error {
		enc := json.NewEncoder(c.App.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(VersionResponse{Version: types.Version, Commit: commit})
	}
}
