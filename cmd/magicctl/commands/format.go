package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// formatSessions renders a slice of sessions in the requested format.
func formatSessions(sessions []sessionView, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalIndent(sessions)
	case formatTable:
		return formatSessionsTable(sessions), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// formatSession renders a single session in the requested format.
func formatSession(s sessionView, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalIndent(s)
	case formatTable:
		return formatSessionDetail(s), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// formatLinks renders a slice of links in the requested format.
func formatLinks(links []linkView, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalIndent(links)
	case formatTable:
		return formatLinksTable(links), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// formatStats renders a stats snapshot in the requested format.
func formatStats(s statsView, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalIndent(s)
	case formatTable:
		return formatStatsDetail(s), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func marshalIndent(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal to JSON: %w", err)
	}
	return string(data), nil
}

// --- Table formatters ---

func formatSessionsTable(sessions []sessionView) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tCLIENT\tLINK\tSTATE\tFWD-KBPS\tREV-KBPS\tQOS")

	for _, s := range sessions {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%d\t%d\n",
			s.SessionID, s.ClientID, s.LinkID, s.State,
			s.GrantedFwdKbps, s.GrantedRevKbps, s.QoSClass)
	}

	_ = w.Flush()
	return buf.String()
}

func formatSessionDetail(s sessionView) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "Session ID:\t%d\n", s.SessionID)
	fmt.Fprintf(w, "Client ID:\t%s\n", s.ClientID)
	fmt.Fprintf(w, "Link ID:\t%s\n", s.LinkID)
	fmt.Fprintf(w, "State:\t%s\n", s.State)
	fmt.Fprintf(w, "Granted Forward:\t%d kbps\n", s.GrantedFwdKbps)
	fmt.Fprintf(w, "Granted Reverse:\t%d kbps\n", s.GrantedRevKbps)
	fmt.Fprintf(w, "QoS Class:\t%d\n", s.QoSClass)

	_ = w.Flush()
	return buf.String()
}

func formatLinksTable(links []linkView) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "LINK\tTYPE\tSTATE\tRSSI\tQUALITY\tFWD-KBPS\tREV-KBPS\tBEARERS\tPRIORITY\tCOST/MB")

	for _, l := range links {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%.3f\n",
			l.LinkID, l.Type, l.State, l.RSSIdBm, l.SignalQuality,
			l.CurrentFwd, l.CurrentRev, l.ActiveBearers, l.Priority, l.CostPerMB)
	}

	_ = w.Flush()
	return buf.String()
}

func formatStatsDetail(s statsView) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "Bytes In:\t%d\n", s.BytesIn)
	fmt.Fprintf(w, "Bytes Out:\t%d\n", s.BytesOut)
	fmt.Fprintf(w, "Packets In:\t%d\n", s.PacketsIn)
	fmt.Fprintf(w, "Packets Out:\t%d\n", s.PacketsOut)

	_ = w.Flush()
	return buf.String()
}
