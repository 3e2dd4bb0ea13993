// Package discovery finds companion servers on the local network over
// mDNS/DNS-SD, and lets the local emulator advertise itself the same way.
//
// Service type: _claudeconnect._tcp. TXT records carry the protocol version,
// a display name, the WebSocket scheme and path, and the TLS certificate
// fingerprint when the server uses wss://. Discovery only reveals presence;
// a pairing id is still required to authenticate.
package discovery

import (
	"context"
	"fmt"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog"

	"github.com/claudeconnect/client/internal/logger"
)

// ServiceType is the DNS-SD service type of companion servers.
const ServiceType = "_claudeconnect._tcp"

// ProtocolVersion is advertised so clients can skip incompatible servers.
const ProtocolVersion = "1"

const domain = "local."

// Config describes what an Advertiser announces.
type Config struct {
	Port int
	// Name defaults to the hostname.
	Name string
	// Path is the WebSocket endpoint path. Default "/ws".
	Path string
	// Secure advertises wss:// instead of ws://.
	Secure      bool
	Fingerprint string
}

func (c Config) txtRecords(name string) []string {
	path := c.Path
	if path == "" {
		path = "/ws"
	}
	scheme := "ws"
	if c.Secure {
		scheme = "wss"
	}
	txt := []string{
		"version=" + ProtocolVersion,
		"name=" + name,
		"scheme=" + scheme,
		"path=" + path,
	}
	if c.Fingerprint != "" {
		txt = append(txt, "fp="+c.Fingerprint)
	}
	return txt
}

// Advertiser registers one service instance.
type Advertiser struct {
	mu     sync.Mutex
	config Config
	server *zeroconf.Server
	log    zerolog.Logger
}

// NewAdvertiser creates a stopped advertiser.
func NewAdvertiser(cfg Config) *Advertiser {
	return &Advertiser{config: cfg, log: logger.Component("discovery")}
}

// Start registers the service. Calling it while running is a no-op.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		return nil
	}

	name := a.config.Name
	if name == "" {
		if h, err := os.Hostname(); err == nil {
			name = h
		} else {
			name = "claudeconnect"
		}
	}

	server, err := zeroconf.Register(name, ServiceType, domain, a.config.Port, a.config.txtRecords(name), nil)
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}
	a.server = server
	a.log.Info().Str("name", name).Int("port", a.config.Port).Msg("advertising")
	return nil
}

// Stop unregisters the service. Safe to call more than once.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// IsRunning reports whether the service is registered.
func (a *Advertiser) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server != nil
}

// Host is a server found on the network.
type Host struct {
	Name        string
	Host        string
	Port        int
	Scheme      string
	Path        string
	Fingerprint string
	Version     string
}

// URL is the WebSocket URL to connect to.
func (h Host) URL() string {
	scheme := h.Scheme
	if scheme == "" {
		scheme = "ws"
	}
	path := h.Path
	if path == "" {
		path = "/ws"
	}
	return scheme + "://" + net.JoinHostPort(h.Host, strconv.Itoa(h.Port)) + path
}

func hostFromEntry(e *zeroconf.ServiceEntry) Host {
	h := Host{Name: e.Instance, Port: e.Port}
	switch {
	case len(e.AddrIPv4) > 0:
		h.Host = e.AddrIPv4[0].String()
	case len(e.AddrIPv6) > 0:
		h.Host = e.AddrIPv6[0].String()
	default:
		h.Host = strings.TrimSuffix(e.HostName, ".")
	}
	for _, txt := range e.Text {
		key, value, ok := strings.Cut(txt, "=")
		if !ok {
			continue
		}
		switch key {
		case "name":
			h.Name = value
		case "scheme":
			h.Scheme = value
		case "path":
			h.Path = value
		case "fp":
			h.Fingerprint = value
		case "version":
			h.Version = value
		}
	}
	return h
}

// Discover browses until ctx is done and returns the hosts seen, sorted by
// name. Give ctx a deadline.
func Discover(ctx context.Context) ([]Host, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	var (
		hosts []Host
		seen  = make(map[string]bool)
		wg    sync.WaitGroup
	)
	entries := make(chan *zeroconf.ServiceEntry)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for e := range entries {
			h := hostFromEntry(e)
			if seen[h.URL()] {
				continue
			}
			seen[h.URL()] = true
			hosts = append(hosts, h)
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, domain, entries); err != nil {
		return nil, fmt.Errorf("mdns browse: %w", err)
	}
	<-ctx.Done()
	// zeroconf closes entries once ctx is done.
	wg.Wait()

	sort.Slice(hosts, func(i, j int) bool { return hosts[i].Name < hosts[j].Name })
	return hosts, nil
}
