// Package config manages the SoAd daemon configuration using koanf/v2.
//
// Supports YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/soad-project/soad/internal/soad"
	"github.com/soad-project/soad/internal/soaddr"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete soad configuration.
type Config struct {
	Admin   AdminConfig   `koanf:"admin"`
	Metrics MetricsConfig `koanf:"metrics"`
	Log     LogConfig     `koanf:"log"`
	SoAd    SoAdConfig    `koanf:"soad"`
}

// AdminConfig holds the health/metrics admin server configuration.
type AdminConfig struct {
	// Addr is the admin HTTP listen address (e.g., ":8080").
	Addr string `koanf:"addr"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Path is the URL path for the metrics endpoint (e.g., "/metrics"),
	// served on AdminConfig.Addr.
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// SoAdConfig holds the declarative routing topology: groups, connections,
// and the rx/tx route tables. It is parsed once at startup and turned into
// an immutable soad.Registry by Build; nothing in this struct is mutated
// after load.
type SoAdConfig struct {
	// TickInterval is the period between soad.Adaptor.MainFunction calls.
	TickInterval time.Duration `koanf:"tick_interval"`

	Groups       []GroupConfig       `koanf:"groups"`
	Connections  []ConnConfig        `koanf:"connections"`
	SocketRoutes []SocketRouteConfig `koanf:"socket_routes"`
	PduRoutes    []PduRouteConfig    `koanf:"pdu_routes"`
}

// GroupConfig describes one connection group (AUTOSAR SoGrp).
type GroupConfig struct {
	// Name identifies the group for ConnConfig.Group references.
	Name string `koanf:"name"`

	// LocalAddr is the group's local bind address. Empty means wildcard.
	LocalAddr string `koanf:"local_addr"`
	// LocalPort is the local bind port. Zero means soaddr.PortAny.
	LocalPort uint16 `koanf:"local_port"`

	// Protocol is "tcp" or "udp".
	Protocol string `koanf:"protocol"`

	// Automatic opens the group on the first tick without a request_open.
	Automatic bool `koanf:"automatic"`
	// Initiate selects active TCP connect over passive listen/accept.
	Initiate bool `koanf:"initiate"`
	// ListenOnly suppresses UDP wildcard-remote promotion on rx.
	ListenOnly bool `koanf:"listen_only"`

	// DefaultSocketRoute names the SocketRouteConfig applied to any
	// connection in this group that does not set its own. Empty means none.
	DefaultSocketRoute string `koanf:"default_socket_route"`

	// MaxChannels bounds how many connections may belong to this group;
	// 0 means unbounded.
	MaxChannels int `koanf:"max_channels"`
}

// ConnConfig describes one connection (AUTOSAR SoCon).
type ConnConfig struct {
	// Group names the owning GroupConfig.
	Group string `koanf:"group"`

	// RemoteAddr is the configured remote address; empty means wildcard.
	RemoteAddr string `koanf:"remote_addr"`
	// RemotePort is the configured remote port; zero means soaddr.PortAny.
	RemotePort uint16 `koanf:"remote_port"`

	// SocketRoute overrides the owning group's DefaultSocketRoute when set.
	SocketRoute string `koanf:"socket_route"`
}

// SocketRouteConfig describes one rx route: an upper sink bound to a PDU
// id, looked up by name at Build time against the sinks map the caller
// supplies (sinks are Go values, not representable in YAML).
type SocketRouteConfig struct {
	// Name identifies the route for GroupConfig.DefaultSocketRoute and
	// ConnConfig.SocketRoute references.
	Name string `koanf:"name"`

	// HeaderID is carried into the registry; route resolution does not
	// consult it (each connection resolves to a single route).
	HeaderID uint32 `koanf:"header_id"`
	// PDU is the PduID reported to the sink's methods.
	PDU uint32 `koanf:"pdu"`
	// Sink names the soad.RxSink bound to this route.
	Sink string `koanf:"sink"`
}

// PduRouteConfig describes one tx route: an outbound PDU mapped to a
// target connection and an upper source looked up by name.
type PduRouteConfig struct {
	// PDU is the outbound PduID.
	PDU uint32 `koanf:"pdu"`
	// Source names the soad.TxSource bound to this route.
	Source string `koanf:"source"`
	// TargetConn names the ConnConfig this PDU routes to.
	TargetConn string `koanf:"target_conn"`
	// OutboundHeader is carried into the registry; the transport's
	// transmit calls take no header, so it is not sent on the wire.
	OutboundHeader uint32 `koanf:"outbound_header"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Admin: AdminConfig{
			Addr: ":8080",
		},
		Metrics: MetricsConfig{
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		SoAd: SoAdConfig{
			TickInterval: 100 * time.Millisecond,
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for SoAd configuration.
// Variables are named SOAD_<section>_<key>, e.g., SOAD_ADMIN_ADDR.
const envPrefix = "SOAD_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (SOAD_ prefix), and merges on top of DefaultConfig().
// Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	SOAD_ADMIN_ADDR        -> admin.addr
//	SOAD_METRICS_PATH      -> metrics.path
//	SOAD_LOG_LEVEL         -> log.level
//	SOAD_LOG_FORMAT        -> log.format
//	SOAD_SOAD_TICK_INTERVAL -> soad.tick_interval
//
// Uses koanf/v2 with file + env providers and YAML parser. The groups,
// connections, and route tables are file-only: they reference each other
// by name and are awkward to express as flat env vars.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms SOAD_ADMIN_ADDR -> admin.addr.
// Strips the SOAD_ prefix, lowercases, and replaces the first _ (the
// section separator) with ., so keys such as tick_interval keep theirs.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.Replace(s, "_", ".", 1)
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"admin.addr":         defaults.Admin.Addr,
		"metrics.path":       defaults.Metrics.Path,
		"log.level":          defaults.Log.Level,
		"log.format":         defaults.Log.Format,
		"soad.tick_interval": defaults.SoAd.TickInterval.String(),
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyAdminAddr indicates the admin listen address is empty.
	ErrEmptyAdminAddr = errors.New("admin.addr must not be empty")

	// ErrInvalidTickInterval indicates the tick interval is not positive.
	ErrInvalidTickInterval = errors.New("soad.tick_interval must be > 0")

	// ErrEmptyGroupName indicates a group has no name.
	ErrEmptyGroupName = errors.New("group name must not be empty")

	// ErrDuplicateGroupName indicates two groups share the same name.
	ErrDuplicateGroupName = errors.New("duplicate group name")

	// ErrInvalidProtocol indicates a group protocol is not tcp or udp.
	ErrInvalidProtocol = errors.New("group protocol must be tcp or udp")

	// ErrInvalidLocalAddr indicates a group's local address does not parse.
	ErrInvalidLocalAddr = errors.New("group local_addr is invalid")

	// ErrUnknownGroupRef indicates a connection references an undefined group.
	ErrUnknownGroupRef = errors.New("connection references an undefined group")

	// ErrInvalidRemoteAddr indicates a connection's remote address does not parse.
	ErrInvalidRemoteAddr = errors.New("connection remote_addr is invalid")

	// ErrUnknownSocketRouteRef indicates a reference to an undefined socket route.
	ErrUnknownSocketRouteRef = errors.New("reference to an undefined socket route")

	// ErrEmptySocketRouteSink indicates a socket route has no sink name.
	ErrEmptySocketRouteSink = errors.New("socket route sink must not be empty")

	// ErrUnknownTargetConn indicates a pdu route references an undefined connection.
	ErrUnknownTargetConn = errors.New("pdu route references an undefined connection")

	// ErrEmptyPduRouteSource indicates a pdu route has no source name.
	ErrEmptyPduRouteSource = errors.New("pdu route source must not be empty")

	// ErrDuplicatePduID indicates two pdu routes share the same PDU id.
	ErrDuplicatePduID = errors.New("duplicate pdu route id")
)

// Validate checks the configuration for logical errors that can be
// detected without the sink/source bindings Build requires.
func Validate(cfg *Config) error {
	if cfg.Admin.Addr == "" {
		return ErrEmptyAdminAddr
	}
	if cfg.SoAd.TickInterval <= 0 {
		return ErrInvalidTickInterval
	}

	groupNames := make(map[string]struct{}, len(cfg.SoAd.Groups))
	for i, g := range cfg.SoAd.Groups {
		if g.Name == "" {
			return fmt.Errorf("groups[%d]: %w", i, ErrEmptyGroupName)
		}
		if _, dup := groupNames[g.Name]; dup {
			return fmt.Errorf("groups[%d] %q: %w", i, g.Name, ErrDuplicateGroupName)
		}
		groupNames[g.Name] = struct{}{}

		if g.Protocol != "tcp" && g.Protocol != "udp" {
			return fmt.Errorf("groups[%d] %q: %w", i, g.Name, ErrInvalidProtocol)
		}
		if g.LocalAddr != "" {
			if _, err := netip.ParseAddr(g.LocalAddr); err != nil {
				return fmt.Errorf("groups[%d] %q: %w: %w", i, g.Name, ErrInvalidLocalAddr, err)
			}
		}
	}

	routeNames := make(map[string]struct{}, len(cfg.SoAd.SocketRoutes))
	for i, sr := range cfg.SoAd.SocketRoutes {
		if sr.Sink == "" {
			return fmt.Errorf("socket_routes[%d]: %w", i, ErrEmptySocketRouteSink)
		}
		if sr.Name != "" {
			routeNames[sr.Name] = struct{}{}
		}
	}

	connNames := make(map[string]struct{}, len(cfg.SoAd.Connections))
	for i, c := range cfg.SoAd.Connections {
		if _, ok := groupNames[c.Group]; !ok {
			return fmt.Errorf("connections[%d]: group %q: %w", i, c.Group, ErrUnknownGroupRef)
		}
		if c.RemoteAddr != "" {
			if _, err := netip.ParseAddr(c.RemoteAddr); err != nil {
				return fmt.Errorf("connections[%d]: %w: %w", i, ErrInvalidRemoteAddr, err)
			}
		}
		if c.SocketRoute != "" {
			if _, ok := routeNames[c.SocketRoute]; !ok {
				return fmt.Errorf("connections[%d]: socket route %q: %w", i, c.SocketRoute, ErrUnknownSocketRouteRef)
			}
		}
		connNames[connKey(c, i)] = struct{}{}
	}

	for i, g := range cfg.SoAd.Groups {
		if g.DefaultSocketRoute == "" {
			continue
		}
		if _, ok := routeNames[g.DefaultSocketRoute]; !ok {
			return fmt.Errorf("groups[%d] %q: default socket route %q: %w", i, g.Name, g.DefaultSocketRoute, ErrUnknownSocketRouteRef)
		}
	}

	seenPdu := make(map[uint32]struct{}, len(cfg.SoAd.PduRoutes))
	for i, pr := range cfg.SoAd.PduRoutes {
		if pr.Source == "" {
			return fmt.Errorf("pdu_routes[%d]: %w", i, ErrEmptyPduRouteSource)
		}
		if _, dup := seenPdu[pr.PDU]; dup {
			return fmt.Errorf("pdu_routes[%d] pdu %d: %w", i, pr.PDU, ErrDuplicatePduID)
		}
		seenPdu[pr.PDU] = struct{}{}

		if !connRefExists(cfg.SoAd.Connections, pr.TargetConn) {
			return fmt.Errorf("pdu_routes[%d]: target_conn %q: %w", i, pr.TargetConn, ErrUnknownTargetConn)
		}
	}

	return nil
}

// connKey names a connection for reference resolution: connections have no
// name of their own and are identified positionally via "<group>#<index>",
// where index is the connection's position in the connections list. A bare
// group name is also accepted when that group has exactly one connection.
func connKey(c ConnConfig, index int) string {
	return fmt.Sprintf("%s#%d", c.Group, index)
}

// connRefExists reports whether name matches any configured connection by
// its positional key or its group name (ambiguous group-only references
// are rejected later, at Build, once indices are known).
func connRefExists(conns []ConnConfig, name string) bool {
	if name == "" {
		return false
	}
	for i, c := range conns {
		if connKey(c, i) == name || c.Group == name {
			return true
		}
	}
	return false
}

// -------------------------------------------------------------------------
// Registry construction
// -------------------------------------------------------------------------

// Sentinel errors returned by Build.
var (
	// ErrUnboundSink indicates a socket route names a sink the caller did
	// not supply.
	ErrUnboundSink = errors.New("config: socket route names an unbound sink")

	// ErrUnboundSource indicates a pdu route names a source the caller did
	// not supply.
	ErrUnboundSource = errors.New("config: pdu route names an unbound source")

	// ErrAmbiguousTargetConn indicates a pdu route's target_conn names a
	// group with more than one connection, so the positional key form
	// ("<group>#<index>") must be used instead.
	ErrAmbiguousTargetConn = errors.New("config: target_conn reference is ambiguous, use \"<group>#<index>\"")
)

// Build resolves a SoAdConfig's name references against the supplied sink
// and source bindings and constructs the immutable soad.Registry the
// Adaptor is initialized with. sinks and sources are keyed by the Name
// fields used in SocketRouteConfig.Sink / PduRouteConfig.Source; they are
// plain Go values and cannot be expressed in YAML, so they are wired by the
// caller (typically cmd/soad) rather than parsed here.
func Build(cfg SoAdConfig, sinks map[string]soad.RxSink, sources map[string]soad.TxSource) (*soad.Registry, error) {
	groupIndex := make(map[string]soad.SoGrpID, len(cfg.Groups))
	for i, g := range cfg.Groups {
		groupIndex[g.Name] = soad.SoGrpID(i)
	}

	socketRouteIndex := make(map[string]int, len(cfg.SocketRoutes))
	socketRoutes := make([]soad.SocketRouteConfig, len(cfg.SocketRoutes))
	for i, sr := range cfg.SocketRoutes {
		sink, ok := sinks[sr.Sink]
		if !ok {
			return nil, fmt.Errorf("socket_routes[%d] sink %q: %w", i, sr.Sink, ErrUnboundSink)
		}
		socketRoutes[i] = soad.SocketRouteConfig{
			HeaderID: soad.HeaderID(sr.HeaderID),
			Sink:     sink,
			PDU:      soad.PduID(sr.PDU),
		}
		if sr.Name != "" {
			socketRouteIndex[sr.Name] = i
		}
	}

	connIndex := make(map[string]soad.SoConID, len(cfg.Connections))
	groupConnCount := make(map[string]int, len(cfg.Groups))
	conns := make([]soad.SoConConfig, len(cfg.Connections))
	for i, c := range cfg.Connections {
		group, ok := groupIndex[c.Group]
		if !ok {
			return nil, fmt.Errorf("connections[%d]: group %q: %w", i, c.Group, ErrUnknownGroupRef)
		}

		remote := soaddr.SockAddr{Family: soaddr.FamilyINET, Port: c.RemotePort}
		if c.RemoteAddr != "" {
			addr, err := netip.ParseAddr(c.RemoteAddr)
			if err != nil {
				return nil, fmt.Errorf("connections[%d]: %w: %w", i, ErrInvalidRemoteAddr, err)
			}
			remote = addrToSockAddr(addr, c.RemotePort)
		}

		socketRoute := -1
		if c.SocketRoute != "" {
			idx, ok := socketRouteIndex[c.SocketRoute]
			if !ok {
				return nil, fmt.Errorf("connections[%d]: socket route %q: %w", i, c.SocketRoute, ErrUnknownSocketRouteRef)
			}
			socketRoute = idx
		}

		conns[i] = soad.SoConConfig{
			Group:       group,
			RemoteAddr:  remote,
			SocketRoute: socketRoute,
		}
		connIndex[connKey(c, i)] = soad.SoConID(i)
		groupConnCount[c.Group]++
	}

	groups := make([]soad.SoGrpConfig, len(cfg.Groups))
	for i, g := range cfg.Groups {
		local := soaddr.Unspecified
		if g.LocalAddr != "" {
			addr, err := netip.ParseAddr(g.LocalAddr)
			if err != nil {
				return nil, fmt.Errorf("groups[%d] %q: %w: %w", i, g.Name, ErrInvalidLocalAddr, err)
			}
			local = addrToSockAddr(addr, g.LocalPort)
		} else {
			local = soaddr.SockAddr{Family: soaddr.FamilyINET, Port: g.LocalPort}
		}

		defaultRoute := -1
		if g.DefaultSocketRoute != "" {
			idx, ok := socketRouteIndex[g.DefaultSocketRoute]
			if !ok {
				return nil, fmt.Errorf("groups[%d] %q: default socket route %q: %w", i, g.Name, g.DefaultSocketRoute, ErrUnknownSocketRouteRef)
			}
			defaultRoute = idx
		}

		groups[i] = soad.SoGrpConfig{
			LocalAddr:          local,
			Protocol:           protocolFromString(g.Protocol),
			Automatic:          g.Automatic,
			Initiate:           g.Initiate,
			ListenOnly:         g.ListenOnly,
			DefaultSocketRoute: defaultRoute,
			MaxChannels:        g.MaxChannels,
		}
	}

	pduRoutes := make([]soad.PduRouteConfig, len(cfg.PduRoutes))
	for i, pr := range cfg.PduRoutes {
		source, ok := sources[pr.Source]
		if !ok {
			return nil, fmt.Errorf("pdu_routes[%d] source %q: %w", i, pr.Source, ErrUnboundSource)
		}

		target, err := resolveTargetConn(connIndex, groupConnCount, pr.TargetConn)
		if err != nil {
			return nil, fmt.Errorf("pdu_routes[%d]: %w", i, err)
		}

		pduRoutes[i] = soad.PduRouteConfig{
			PDU:            soad.PduID(pr.PDU),
			Source:         source,
			TargetConn:     target,
			OutboundHeader: soad.HeaderID(pr.OutboundHeader),
		}
	}

	return soad.NewRegistry(groups, conns, socketRoutes, pduRoutes)
}

// resolveTargetConn resolves a pdu route's target_conn reference: the
// positional "<group>#<index>" key directly, or a bare group name only
// when that group owns exactly one connection.
func resolveTargetConn(connIndex map[string]soad.SoConID, groupConnCount map[string]int, name string) (soad.SoConID, error) {
	if id, ok := connIndex[name]; ok {
		return id, nil
	}
	if groupConnCount[name] > 1 {
		return 0, fmt.Errorf("target_conn %q: %w", name, ErrAmbiguousTargetConn)
	}
	for key, id := range connIndex {
		if strings.HasPrefix(key, name+"#") {
			return id, nil
		}
	}
	return 0, fmt.Errorf("target_conn %q: %w", name, ErrUnknownTargetConn)
}

func protocolFromString(s string) soad.Protocol {
	if s == "udp" {
		return soad.ProtocolUDP
	}
	return soad.ProtocolTCP
}

func addrToSockAddr(addr netip.Addr, port uint16) soaddr.SockAddr {
	family := soaddr.FamilyINET
	if addr.Is6() && !addr.Is4In6() {
		family = soaddr.FamilyINET6
	}
	return soaddr.SockAddr{Family: family, Addr: addr, Port: port}
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
