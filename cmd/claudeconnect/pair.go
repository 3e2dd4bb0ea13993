package main

import (
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"github.com/claudeconnect/client/internal/auth"
	apperrors "github.com/claudeconnect/client/internal/errors"
)

func newPairCmd(a *app) *cobra.Command {
	var (
		serverURL string
		pairingID string
	)

	cmd := &cobra.Command{
		Use:   "pair [payload]",
		Short: "Store the pairing id (and server URL) shown by the companion server",
		Long: `Pair stores the credentials a companion server displays in its QR code.

The payload is either the JSON carried by the QR code ({"uuid":"...","url":"..."})
or a bare pairing id. Use --url and --id to enter the values by hand. Pairing
replaces any previous pairing id and discards the old reconnection token.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload string
			switch {
			case len(args) == 1:
				payload = args[0]
			case pairingID != "":
				payload = auth.PairingPayload{UUID: strings.TrimSpace(pairingID), URL: strings.TrimSpace(serverURL)}.Encode()
			default:
				return cmd.Usage()
			}

			s, err := a.newSession(boolPtr(false))
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.Start(); err != nil {
				return err
			}
			if err := s.Pair(payload); err != nil {
				return err
			}

			c := s.Snapshot().Credentials
			if c.ServerURL == "" {
				fmt.Fprintf(a.stdout, "Stored pairing id %s. No server URL is stored yet; pass --url or use a QR payload.\n", c.AuthID)
				return nil
			}
			fmt.Fprintf(a.stdout, "Paired with %s.\n", c.ServerURL)
			fmt.Fprintln(a.stdout, "Run 'claudeconnect connect' to start a session.")
			return nil
		},
	}
	cmd.Flags().StringVar(&serverURL, "url", "", "server URL, ws://host:port/ws")
	cmd.Flags().StringVar(&pairingID, "id", "", "pairing id")

	cmd.AddCommand(newPairShowCmd(a))
	return cmd
}

func newPairShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Render the stored pairing as a QR code for another device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.credentials()
			if err != nil {
				return err
			}
			c, err := store.Load()
			if err != nil {
				return err
			}
			if c.AuthID == "" || c.ServerURL == "" {
				return apperrors.NoCredentials()
			}
			displayPairingQR(a.stdout, auth.PairingPayload{UUID: c.AuthID, URL: c.ServerURL}, "")
			return nil
		},
	}
}

// displayPairingQR prints the pairing payload as a QR code followed by a
// plain-text fallback.
func displayPairingQR(w io.Writer, p auth.PairingPayload, fingerprint string) {
	payload := p.Encode()

	qr, err := qrcode.New(payload, qrcode.Medium)
	if err != nil {
		fmt.Fprintf(w, "Error generating QR code: %v\n", err)
		fmt.Fprintf(w, "Falling back to text display.\n\n")
	} else {
		fmt.Fprintln(w, "")
		fmt.Fprintln(w, "===========================================")
		fmt.Fprintln(w, "         SCAN TO PAIR")
		fmt.Fprintln(w, "===========================================")
		fmt.Fprintln(w, "")
		fmt.Fprint(w, qr.ToSmallString(false))
	}

	fmt.Fprintln(w, "-------------------------------------------")
	fmt.Fprintln(w, "  Plain-text fallback:")
	fmt.Fprintf(w, "  Pairing id:  %s\n", p.UUID)
	fmt.Fprintf(w, "  Server:      %s\n", p.URL)
	if fingerprint != "" {
		fmt.Fprintf(w, "  Fingerprint: %s\n", fingerprint)
	}
	fmt.Fprintf(w, "  Payload:     %s\n", payload)
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "")
}

// preferredOutboundIP returns the local IPv4 address the OS would route
// external traffic from. No packets are sent.
func preferredOutboundIP() string {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return ""
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}
