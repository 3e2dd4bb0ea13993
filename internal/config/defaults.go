package config

import "time"

// DefaultDirName is the per-user state directory under $HOME.
const DefaultDirName = ".claudeconnect"

// DefaultStoreName is the SQLite file inside the data directory.
const DefaultStoreName = "claudeconnect.db"

const (
	DefaultKeepAliveInterval = 30 * time.Second
	DefaultPingTimeout       = 10 * time.Second
	DefaultConnectivityWait  = 10 * time.Second
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultBackgroundBudget  = 3 * time.Minute
	DefaultDiscoveryTimeout  = 3 * time.Second
)

// DefaultLogLimit caps the diagnostic log; older entries are discarded.
const DefaultLogLimit = 500
