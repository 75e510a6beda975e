package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"securevpn/internal/metrics"
	"securevpn/internal/model"
	"securevpn/internal/netprobe"
	"securevpn/internal/session"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	cellStyle   = lipgloss.NewStyle().PaddingRight(2)
)

// formatTime renders elapsed seconds as HH:MM:SS.
func formatTime(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, seconds%3600/60, seconds%60)
}

// formatData renders a gigabyte counter in human units.
func formatData(gb float64) string {
	if gb <= 0 {
		return "0 B"
	}
	return humanize.Bytes(uint64(gb * 1e9))
}

func formatRate(mbps float64) string {
	return humanize.FormatFloat("#,###.#", mbps) + " Mbps"
}

func loadStyle(load int) lipgloss.Style {
	switch {
	case load >= 80:
		return errStyle
	case load >= 60:
		return warnStyle
	default:
		return okStyle
	}
}

func renderServers(endpoints []model.Endpoint, preferred string) string {
	if len(endpoints) == 0 {
		return dimStyle.Render("no servers available") + "\n"
	}

	rows := [][]string{{"", "ID", "SERVER", "LOCATION", "PING", "LOAD", "ADDRESS"}}
	for _, ep := range endpoints {
		mark := " "
		if ep.ID == preferred {
			mark = "*"
		}
		rows = append(rows, []string{
			mark,
			ep.ID,
			strings.TrimSpace(ep.Marker + " " + ep.Name),
			ep.Region,
			fmt.Sprintf("%d ms", ep.PingMs),
			loadStyle(ep.Load).Render(fmt.Sprintf("%d%%", ep.Load)),
			ep.Address,
		})
	}
	return renderTable(rows)
}

// renderTable pads columns to their widest cell. The first row is the header.
func renderTable(rows [][]string) string {
	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, cell := range row {
			if w := lipgloss.Width(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var b strings.Builder
	for r, row := range rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			style := cellStyle.Width(widths[i] + 2)
			if r == 0 {
				style = style.Inherit(headerStyle)
			}
			cells[i] = style.Render(cell)
		}
		b.WriteString(strings.TrimRight(lipgloss.JoinHorizontal(lipgloss.Top, cells...), " "))
		b.WriteString("\n")
	}
	return b.String()
}

func renderEvent(e session.Event) string {
	name := e.Endpoint.Name
	if name == "" {
		name = e.Endpoint.ID
	}
	switch e.Kind {
	case session.EventDirectoryRefreshed:
		return dimStyle.Render("directory refreshed, selected " + name)
	case session.EventDirectoryUnavailable:
		return warnStyle.Render(fmt.Sprintf("directory unavailable: %v", e.Err))
	case session.EventConnected:
		return okStyle.Render("connected to "+name) + dimStyle.Render(" session "+e.SessionID)
	case session.EventConnectFailed:
		return errStyle.Render(fmt.Sprintf("could not connect to %s: %v", name, e.Err))
	case session.EventDisconnected:
		return okStyle.Render("disconnected from " + name)
	case session.EventDisconnectFailed:
		return warnStyle.Render(fmt.Sprintf("disconnected from %s locally: %v", name, e.Err))
	default:
		return e.Kind.String()
	}
}

func renderStatus(snap session.Snapshot) string {
	state := snap.State.String()
	switch snap.State {
	case session.Connected:
		state = okStyle.Render("● " + state)
	case session.Disconnected:
		state = dimStyle.Render("○ " + state)
	default:
		state = warnStyle.Render("◌ " + state)
	}
	if snap.Session == nil {
		return state
	}

	return fmt.Sprintf("%s  %s  %s  ↓ %s  ↑ %s  %s",
		state,
		snap.Session.EndpointAddress,
		formatTime(snap.Sample.ElapsedSeconds),
		formatRate(snap.Sample.DownloadMbps),
		formatRate(snap.Sample.UploadMbps),
		formatData(snap.Sample.DataGB),
	)
}

func renderSummary(s metrics.Summary) string {
	if s.Count == 0 {
		return dimStyle.Render("no samples in window") + "\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s samples across %s sessions, %s to %s\n",
		headerStyle.Render("telemetry"),
		humanize.Comma(int64(s.Count)),
		humanize.Comma(int64(s.Sessions)),
		humanize.Time(s.From),
		humanize.Time(s.To),
	)
	fmt.Fprintf(&b, "download avg=%s p95=%s min=%s max=%s\n",
		formatRate(s.AvgDownloadMbps), formatRate(s.P95DownloadMbps), formatRate(s.MinDownloadMbps), formatRate(s.MaxDownloadMbps))
	fmt.Fprintf(&b, "upload avg=%s  data=%s  longest session=%s\n",
		formatRate(s.AvgUploadMbps), formatData(s.TotalDataGB), formatTime(s.LongestSessionSec))
	return b.String()
}

func renderProbe(res netprobe.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s (%s)\n", headerStyle.Render("public address"), res.PublicAddr, res.NATType)
	for _, m := range res.Mappings {
		fmt.Fprintf(&b, "  %s  %s  %s\n", m.Server, m.Addr, dimStyle.Render(m.RTT.Round(time.Millisecond).String()))
	}
	failed := make([]string, 0, len(res.Failures))
	for server := range res.Failures {
		failed = append(failed, server)
	}
	sort.Strings(failed)
	for _, server := range failed {
		fmt.Fprintf(&b, "  %s  %s\n", server, warnStyle.Render(res.Failures[server].Error()))
	}
	return b.String()
}
