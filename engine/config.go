package engine

import "net"

// Config holds the on/off switches and locations the engine needs,
// matching the teacher's Config/DefaultConfig pattern (alice/config.go)
// generalized from a two-flag struct to the full set this engine wires.
type Config struct {
	UseTrackers bool
	UseDHT      bool

	// ShowProgress drives an optional terminal progress bar, the same
	// Config-flag-gated uiprogress usage as alice/download.go.
	ShowProgress bool

	// CacheDir is where verified metadata is stored; empty defaults to a
	// subdirectory of the system temp directory (see metaget/cache).
	CacheDir string

	// IgnoreIPs are addresses the peer registry always rejects, in
	// addition to 0.0.0.0 and 127.0.0.1.
	IgnoreIPs []net.IP

	// ExternalIP, if set, is rejected as a candidate address (it is us).
	ExternalIP net.IP
}

// DefaultConfig mirrors alice/config.go's package-level DefaultConfig:
// trackers and DHT on, progress bar on.
var DefaultConfig = Config{
	UseTrackers:  true,
	UseDHT:       true,
	ShowProgress: true,
}
