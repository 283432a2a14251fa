package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/soad-project/soad/internal/config"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// formatSoAdConfig renders the group/connection/route tables in the
// requested format.
func formatSoAdConfig(cfg config.SoAdConfig, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatSoAdConfigJSON(cfg)
	case formatTable:
		return formatSoAdConfigTable(cfg)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// --- Table formatter ---

func formatSoAdConfigTable(cfg config.SoAdConfig) (string, error) {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Tick Interval: %s\n\n", cfg.TickInterval)

	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "GROUPS")
	fmt.Fprintln(w, "NAME\tPROTOCOL\tLOCAL\tMODE\tDEFAULT-SINK\tMAX-CHANNELS")
	for _, g := range cfg.Groups {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
			g.Name, g.Protocol, localEndpoint(g), groupMode(g), valueOrDash(g.DefaultSocketRoute), g.MaxChannels)
	}
	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	fmt.Fprintln(&buf)
	w = tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CONNECTIONS")
	fmt.Fprintln(w, "#\tGROUP\tREMOTE\tSOCKET-ROUTE")
	for i, c := range cfg.Connections {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i, c.Group, remoteEndpoint(c), valueOrDash(c.SocketRoute))
	}
	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	fmt.Fprintln(&buf)
	w = tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SOCKET ROUTES")
	fmt.Fprintln(w, "NAME\tHEADER-ID\tPDU\tSINK")
	for _, sr := range cfg.SocketRoutes {
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", valueOrDash(sr.Name), sr.HeaderID, sr.PDU, sr.Sink)
	}
	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	fmt.Fprintln(&buf)
	w = tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PDU ROUTES")
	fmt.Fprintln(w, "PDU\tSOURCE\tTARGET-CONN\tOUTBOUND-HEADER")
	for _, pr := range cfg.PduRoutes {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\n", pr.PDU, pr.Source, pr.TargetConn, pr.OutboundHeader)
	}
	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	return buf.String(), nil
}

func localEndpoint(g config.GroupConfig) string {
	addr := valueOrWildcard(g.LocalAddr)
	if g.LocalPort == 0 {
		return fmt.Sprintf("%s:*", addr)
	}
	return fmt.Sprintf("%s:%d", addr, g.LocalPort)
}

func remoteEndpoint(c config.ConnConfig) string {
	addr := valueOrWildcard(c.RemoteAddr)
	if c.RemotePort == 0 {
		return fmt.Sprintf("%s:*", addr)
	}
	return fmt.Sprintf("%s:%d", addr, c.RemotePort)
}

func groupMode(g config.GroupConfig) string {
	var modes []string
	if g.Automatic {
		modes = append(modes, "automatic")
	}
	if g.Initiate {
		modes = append(modes, "initiate")
	}
	if g.ListenOnly {
		modes = append(modes, "listen-only")
	}
	if len(modes) == 0 {
		return "-"
	}
	return strings.Join(modes, ",")
}

func valueOrDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func valueOrWildcard(s string) string {
	if s == "" {
		return "*"
	}
	return s
}

// --- JSON formatter ---

func formatSoAdConfigJSON(cfg config.SoAdConfig) (string, error) {
	data, err := json.MarshalIndent(soAdConfigToView(cfg), "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal routing tables to JSON: %w", err)
	}
	return string(data), nil
}

// --- View types for clean JSON output ---

type soAdConfigView struct {
	TickInterval string                     `json:"tick_interval"`
	Groups       []config.GroupConfig       `json:"groups"`
	Connections  []config.ConnConfig        `json:"connections"`
	SocketRoutes []config.SocketRouteConfig `json:"socket_routes"`
	PduRoutes    []config.PduRouteConfig    `json:"pdu_routes"`
}

func soAdConfigToView(cfg config.SoAdConfig) soAdConfigView {
	return soAdConfigView{
		TickInterval: cfg.TickInterval.String(),
		Groups:       cfg.Groups,
		Connections:  cfg.Connections,
		SocketRoutes: cfg.SocketRoutes,
		PduRoutes:    cfg.PduRoutes,
	}
}
