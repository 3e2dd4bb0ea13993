package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/claudeconnect/client/internal/discovery"
)

func newDiscoverCmd(a *app) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Find companion servers on the local network",
		Long: `Discover browses mDNS for companion servers. Finding a server does not
pair with it: you still need the pairing id from its QR code.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if timeout <= 0 {
				timeout = a.cfg.Discovery()
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			fmt.Fprintf(a.stderr, "Browsing for %s (%s)...\n", discovery.ServiceType, timeout)
			hosts, err := discovery.Discover(ctx)
			if err != nil {
				return err
			}
			if len(hosts) == 0 {
				fmt.Fprintln(a.stdout, "No servers found.")
				return nil
			}
			for _, h := range hosts {
				fmt.Fprintf(a.stdout, "%s  %s\n", labelStyle.Render(h.Name), h.URL())
				if h.Fingerprint != "" {
					fmt.Fprintf(a.stdout, "  %s\n", dimStyle.Render("fingerprint "+h.Fingerprint))
				}
				if h.Version != "" && h.Version != discovery.ProtocolVersion {
					fmt.Fprintf(a.stdout, "  %s\n", dimStyle.Render("protocol version "+h.Version+" may be incompatible"))
				}
			}
			fmt.Fprintln(a.stdout, "\nPair with: claudeconnect pair --url <url> --id <pairing id>")
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "how long to browse (default from config, 3s)")
	return cmd
}
