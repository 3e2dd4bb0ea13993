package main

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/claudeconnect/client/internal/discovery"
)

type buildInfo struct {
	Version   string `json:"version"`
	Protocol  string `json:"protocol"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

func newVersionCmd(a *app) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := buildInfo{
				Version:   Version,
				Protocol:  discovery.ProtocolVersion,
				GoVersion: runtime.Version(),
				OS:        runtime.GOOS,
				Arch:      runtime.GOARCH,
			}
			if jsonOutput {
				data, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(a.stdout, string(data))
				return nil
			}
			fmt.Fprintf(a.stdout, "claudeconnect %s\n", info.Version)
			fmt.Fprintf(a.stdout, "  Protocol:   %s\n", info.Protocol)
			fmt.Fprintf(a.stdout, "  Go version: %s\n", info.GoVersion)
			fmt.Fprintf(a.stdout, "  OS/Arch:    %s/%s\n", info.OS, info.Arch)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}
