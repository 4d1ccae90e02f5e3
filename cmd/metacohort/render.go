package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"metacohort/pkg/federation"
	"metacohort/pkg/types"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	primaryColor   = lipgloss.Color("#FF79C6")
	secondaryColor = lipgloss.Color("#8BE9FD")
	accentColor    = lipgloss.Color("#50FA7B")
	warningColor   = lipgloss.Color("#FFB86C")
	dangerColor    = lipgloss.Color("#FF5555")
	mutedColor     = lipgloss.Color("#6272A4")
	bgLightColor   = lipgloss.Color("#44475A")
	fgColor        = lipgloss.Color("#F8F8F2")

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(1, 2).
			MarginBottom(1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	iconStyle = lipgloss.NewStyle().
			Foreground(secondaryColor).
			Bold(true).
			MarginRight(1)

	mutedStyle = lipgloss.NewStyle().Foreground(mutedColor)

	labelStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Width(20)

	valueStyle = lipgloss.NewStyle().
			Foreground(fgColor).
			Bold(true)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(secondaryColor).
			Background(bgLightColor).
			Padding(0, 1)

	rowStyle = lipgloss.NewStyle().Padding(0, 1)
)

func createPanel(title, icon, content string, width int) string {
	panel := panelStyle
	if width > 0 {
		panel = panel.Width(width)
	}
	titleLine := iconStyle.Render(icon) + titleStyle.Render(title)
	return panel.Render(lipgloss.JoinVertical(lipgloss.Left, titleLine, content))
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(bgLightColor)).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return rowStyle.Foreground(fgColor)
		}).
		Headers(headers...)
}

func field(label, value string) string {
	return labelStyle.Render(label) + valueStyle.Render(value)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func renderEntity(e *types.EntityDetail) string {
	lines := []string{
		field("GUID", e.GUID),
		field("Type", e.Type.TypeDefName),
		field("Home Collection", e.HomeMetadataCollectionID),
		field("Status", string(e.Status)),
		field("Version", fmt.Sprintf("%d", e.Version)),
		field("Updated", formatTime(e.UpdateTime)),
	}
	if len(e.Classifications) > 0 {
		names := make([]string, 0, len(e.Classifications))
		for _, c := range e.Classifications {
			names = append(names, c.Name)
		}
		lines = append(lines, field("Classifications", strings.Join(names, ", ")))
	}

	if len(e.Properties) > 0 {
		props := newTable("PROPERTY", "VALUE")
		for _, name := range sortedKeys(e.Properties) {
			props.Row(name, fmt.Sprint(e.Properties[name]))
		}
		lines = append(lines, "", props.Render())
	}
	return createPanel("Entity", "◆", strings.Join(lines, "\n"), 0)
}

func renderEntities(entities []*types.EntityDetail) string {
	if len(entities) == 0 {
		return mutedStyle.Render("No matching entities")
	}
	t := newTable("GUID", "TYPE", "HOME", "STATUS", "VERSION", "QUALIFIED NAME")
	for _, e := range entities {
		qn, _ := e.Properties["qualifiedName"].(string)
		t.Row(e.GUID, e.Type.TypeDefName, e.HomeMetadataCollectionID, string(e.Status), fmt.Sprintf("%d", e.Version), qn)
	}
	return t.Render() + "\n" + mutedStyle.Render(fmt.Sprintf("%d entities", len(entities)))
}

func renderTypes(defs []*types.TypeDef) string {
	if len(defs) == 0 {
		return mutedStyle.Render("No matching types")
	}
	sorted := append([]*types.TypeDef(nil), defs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	t := newTable("NAME", "CATEGORY", "VERSION", "SUPERTYPE", "GUID")
	for _, def := range sorted {
		super := "-"
		if def.SuperType != nil {
			super = def.SuperType.Name
		}
		t.Row(def.Name, string(def.Category), fmt.Sprintf("%d", def.Version), super, def.GUID)
	}
	return t.Render()
}

func peerStatusStyle(s federation.PeerStatus) lipgloss.Style {
	switch s {
	case federation.PeerAlive:
		return rowStyle.Foreground(accentColor)
	case federation.PeerSuspected:
		return rowStyle.Foreground(warningColor)
	case federation.PeerDead:
		return rowStyle.Foreground(dangerColor)
	default:
		return rowStyle.Foreground(mutedColor)
	}
}

func renderPeers(peers []federation.Peer) string {
	if len(peers) == 0 {
		return mutedStyle.Render("No peers configured")
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(bgLightColor)).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == 2 {
				return peerStatusStyle(peers[row].Status)
			}
			return rowStyle.Foreground(fgColor)
		}).
		Headers("ADDRESS", "COLLECTION", "STATUS", "FAILURES", "LAST SEEN")

	for _, p := range peers {
		id := p.CollectionID
		if id == "" {
			id = "-"
		}
		t.Row(p.Address, id, strings.ToUpper(p.Status.String()), fmt.Sprintf("%d", p.Failures), formatTime(p.LastSeen))
	}
	return t.Render()
}

func renderSummary(peers []federation.Peer, registered int) string {
	alive := 0
	for _, p := range peers {
		if p.Status == federation.PeerAlive {
			alive++
		}
	}
	content := strings.Join([]string{
		field("Peers", fmt.Sprintf("%d", len(peers))),
		field("Reachable", fmt.Sprintf("%d", alive)),
		field("Collections", fmt.Sprintf("%d", registered)),
	}, "\n")
	return createPanel("Cohort", "◎", content, 0)
}

func sortedKeys(props types.InstanceProperties) []string {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
