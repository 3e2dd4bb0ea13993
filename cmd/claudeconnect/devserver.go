package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/claudeconnect/client/internal/auth"
	"github.com/claudeconnect/client/internal/devserver"
	"github.com/claudeconnect/client/internal/discovery"
	"github.com/claudeconnect/client/internal/logger"
	apptls "github.com/claudeconnect/client/internal/tls"
)

type devserverFlags struct {
	addr          string
	roots         []string
	secure        bool
	legacy        bool
	noMDNS        bool
	name          string
	authTimeout   time.Duration
	persistTokens bool
}

func newDevserverCmd(a *app) *cobra.Command {
	var f devserverFlags

	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Run a local companion server emulator",
		Long: `Devserver runs a local stand-in for the companion server: one client at a
time, pairing id and reconnection token auth, repository listing from --root
directories, slash command catalogs, and prompt echo.

While it runs, type "restart" to revoke every token and issue a new pairing
id (what a real server restart looks like), "drop" to cut the current client,
or "quit".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.runDevserver(ctx, f)
		},
	}
	cmd.Flags().StringVar(&f.addr, "addr", "0.0.0.0:7070", "listen address")
	cmd.Flags().StringSliceVar(&f.roots, "root", nil, "directory whose git repositories are served (repeatable, default current dir)")
	cmd.Flags().BoolVar(&f.secure, "tls", false, "serve wss:// with a self-signed certificate from the data dir")
	cmd.Flags().BoolVar(&f.legacy, "legacy", false, "reply to auth with bare AUTH_* strings and no token")
	cmd.Flags().BoolVar(&f.noMDNS, "no-mdns", false, "do not advertise on the local network")
	cmd.Flags().StringVar(&f.name, "name", "", "advertised name (default hostname)")
	cmd.Flags().DurationVar(&f.authTimeout, "auth-timeout", 5*time.Second, "time a client has to authenticate")
	cmd.Flags().BoolVar(&f.persistTokens, "persist-tokens", false, "keep issued tokens in the store so they survive a process restart")
	return cmd
}

func (a *app) runDevserver(ctx context.Context, f devserverFlags) error {
	log := logger.Component("devserver")

	roots := f.roots
	if len(roots) == 0 {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		roots = []string{wd}
	}

	issuerCfg := auth.IssuerConfig{}
	if f.persistTokens {
		store, err := a.openStore()
		if err != nil {
			return err
		}
		issuerCfg.Store = store
	}

	srv := devserver.New(devserver.Config{
		Issuer:      auth.NewIssuer(issuerCfg),
		Roots:       roots,
		AuthTimeout: f.authTimeout,
		Legacy:      f.legacy,
	})

	ln, err := net.Listen("tcp", f.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", f.addr, err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	host := advertisedHost(f.addr)

	var certFile, keyFile, fingerprint string
	scheme := "ws"
	if f.secure {
		dataDir, err := a.cfg.ResolvedDataDir()
		if err != nil {
			ln.Close()
			return err
		}
		cert, err := apptls.EnsureCertificate(apptls.CertConfig{
			Dir:   filepath.Join(dataDir, "certs"),
			Hosts: []string{"localhost", "127.0.0.1", host},
		})
		if err != nil {
			ln.Close()
			return err
		}
		certFile, keyFile, fingerprint = cert.CertPath, cert.KeyPath, cert.Fingerprint
		scheme = "wss"
		fmt.Fprintf(a.stderr, "Certificate: %s\n", cert.CertPath)
		fmt.Fprintf(a.stderr, "Clients pin it with tls_cert = %q in their config.\n", cert.CertPath)
	}

	serverURL := scheme + "://" + net.JoinHostPort(host, strconv.Itoa(port)) + "/ws"

	if !f.noMDNS {
		adv := discovery.NewAdvertiser(discovery.Config{
			Port:        port,
			Name:        f.name,
			Secure:      f.secure,
			Fingerprint: fingerprint,
		})
		if err := adv.Start(); err != nil {
			log.Warn().Err(err).Msg("mdns advertisement unavailable")
		} else {
			defer adv.Stop()
		}
	}

	displayPairingQR(a.stdout, srv.PairingPayload(serverURL), fingerprint)
	fmt.Fprintf(a.stdout, "Serving %s\n", serverURL)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go a.devserverConsole(ctx, cancel, srv, serverURL, fingerprint)

	return srv.Serve(ctx, ln, certFile, keyFile)
}

// devserverConsole reads operator commands from stdin until EOF.
func (a *app) devserverConsole(ctx context.Context, cancel context.CancelFunc, srv *devserver.Server, serverURL, fingerprint string) {
	if a.stdin == nil {
		return
	}
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(a.stdin)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(scanner.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			a.devserverCommand(line, cancel, srv, serverURL, fingerprint)
		}
	}
}

func (a *app) devserverCommand(line string, cancel context.CancelFunc, srv *devserver.Server, serverURL, fingerprint string) {
	var out io.Writer = a.stdout
	switch line {
	case "":
	case "restart":
		if err := srv.Restart(); err != nil {
			fmt.Fprintf(a.stderr, "restart failed: %v\n", err)
			return
		}
		fmt.Fprintln(out, "Restarted: every reconnection token is revoked.")
		displayPairingQR(out, srv.PairingPayload(serverURL), fingerprint)
	case "drop":
		srv.DropClient()
		fmt.Fprintln(out, "Client dropped.")
	case "status":
		if srv.ClientConnected() {
			fmt.Fprintln(out, "A client is connected.")
		} else {
			fmt.Fprintln(out, "No client connected.")
		}
	case "qr":
		displayPairingQR(out, srv.PairingPayload(serverURL), fingerprint)
	case "quit", "exit":
		cancel()
	default:
		fmt.Fprintln(out, "Commands: restart, drop, status, qr, quit")
	}
}

// advertisedHost picks the host clients should dial for a listen address.
func advertisedHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err == nil && host != "" && host != "0.0.0.0" && host != "::" {
		return host
	}
	if ip := preferredOutboundIP(); ip != "" {
		return ip
	}
	return "127.0.0.1"
}
