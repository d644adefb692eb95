package engine

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
	"gopkg.in/yaml.v3"

	"github.com/glennswest/leafroute/pkg/fabric"
	"github.com/glennswest/leafroute/pkg/fabric/protocol"
)

// Output formats.
const (
	FormatText = "text"
	FormatYAML = "yaml"
	FormatJSON = "json"
)

// RenderReport writes res in the given format.
func RenderReport(w io.Writer, res *RunResult, format string) error {
	switch format {
	case FormatYAML:
		return writeYAML(w, res)
	case FormatJSON:
		return writeIndentedJSON(w, res)
	case FormatText, "":
	default:
		return fmt.Errorf("unknown output format %q", format)
	}

	header := fmt.Sprintf("run %s (%s): %s", res.RunID, res.Protocol, res.Message)
	if res.Detail != "" {
		header += " [" + res.Detail + "]"
	}

	data := make([][]string, 0, len(res.Switches))
	for _, s := range res.Switches {
		summary := strings.Join(s.Summary, "\n")
		if s.Exception != "" {
			summary = strings.TrimSpace(summary + "\nexception: " + s.Exception)
		}
		data = append(data, []string{
			s.Switch,
			strconv.FormatBool(s.Changed),
			strconv.FormatBool(s.Unreachable),
			strconv.FormatBool(s.Failed),
			summary,
		})
	}

	table, err := renderTable([]string{"Switch", "Changed", "Unreachable", "Failed", "Summary"}, data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n\n%s", header, table)
	return err
}

// RenderPlan writes plan in the given format.
func RenderPlan(w io.Writer, plan *protocol.Plan, format string) error {
	switch format {
	case FormatYAML:
		return writeYAML(w, plan)
	case FormatJSON:
		return writeIndentedJSON(w, plan)
	case FormatText, "":
	default:
		return fmt.Errorf("unknown output format %q", format)
	}

	var data [][]string
	for _, c := range plan.Clusters {
		id, _ := plan.Identifiers.Of(c.A)
		state := "new"
		if c.Existing {
			state = "existing"
		}
		link := "-"
		if l, ok := plan.Links[c.Name]; ok {
			link = fmt.Sprintf("%s (%s, %s)", l.Network, l.A.Addr(), l.B.Addr())
		}
		data = append(data, []string{c.Name, c.A + ", " + c.B, state, strconv.FormatUint(uint64(id), 10), link})
	}
	for _, s := range plan.Singletons {
		id, ok := plan.Identifiers.Of(s)
		idStr := "-"
		if ok {
			idStr = strconv.FormatUint(uint64(id), 10)
		}
		data = append(data, []string{"-", s, "single", idStr, "-"})
	}

	idHeader := "AS"
	if plan.Protocol == fabric.ProtocolOSPF {
		idHeader = "Area"
	}
	table, err := renderTable([]string{"Cluster", "Members", "State", idHeader, "Internal link"}, data)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, table); err != nil {
		return err
	}
	if len(plan.Unreachable) > 0 {
		_, err = fmt.Fprintf(w, "\nunreachable: %s\n", strings.Join(plan.Unreachable, ", "))
	}
	return err
}

func renderTable(headers []string, data [][]string) (string, error) {
	str := &strings.Builder{}

	cfg := tablewriter.Config{
		Row: tw.CellConfig{
			Formatting: tw.CellFormatting{
				AutoWrap:  tw.WrapNormal,
				Alignment: tw.AlignLeft,
			},
			Padding: tw.CellPadding{Global: tw.Padding{Right: "    "}},
		},
		Header: tw.CellConfig{
			Formatting: tw.CellFormatting{
				AutoWrap:  tw.WrapNormal,
				Alignment: tw.AlignLeft,
			},
			Padding: tw.CellPadding{Global: tw.Padding{Right: "    "}},
		},
	}
	rendition := tw.Rendition{
		Borders: tw.BorderNone,
		Settings: tw.Settings{
			Lines:      tw.LinesNone,
			Separators: tw.SeparatorsNone,
		},
	}

	table := tablewriter.NewTable(str,
		tablewriter.WithRenderer(renderer.NewBlueprint(rendition)),
		tablewriter.WithConfig(cfg),
	)
	table.Header(headers)
	if err := table.Bulk(data); err != nil {
		return "", fmt.Errorf("adding table rows: %w", err)
	}
	if err := table.Render(); err != nil {
		return "", fmt.Errorf("rendering table: %w", err)
	}
	return str.String(), nil
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func writeIndentedJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
