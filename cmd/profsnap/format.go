package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"profsnap/internal/analyzer"
	"profsnap/internal/store"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type hotspotJSON struct {
	NameID      int32   `json:"name_id"`
	Function    string  `json:"function"`
	TotalCycles int64   `json:"total_cycles"`
	SelfCycles  int64   `json:"self_cycles"`
	TotalTimeMs float64 `json:"total_time_ms"`
	SelfTimeMs  float64 `json:"self_time_ms"`
	CallCount   int     `json:"call_count"`
	Percentage  float64 `json:"percentage"`
	SelfPercent float64 `json:"self_percentage"`
}

func toHotspotsJSON(hotspots []analyzer.Hotspot) []hotspotJSON {
	out := make([]hotspotJSON, 0, len(hotspots))
	for _, hs := range hotspots {
		out = append(out, hotspotJSON{
			NameID:      hs.NameID,
			Function:    hs.Function,
			TotalCycles: hs.TotalCycles,
			SelfCycles:  hs.SelfCycles,
			TotalTimeMs: hs.TotalTime,
			SelfTimeMs:  hs.SelfTime,
			CallCount:   hs.CallCount,
			Percentage:  hs.Percentage,
			SelfPercent: hs.SelfPercent,
		})
	}
	return out
}

// formatHotspotsText formats hotspots as aligned columns.
func formatHotspotsText(w io.Writer, hotspots []analyzer.Hotspot) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tTOTAL%\tSELF%\tTOTAL(ms)\tCALLS\tFUNCTION")
	for i, hs := range hotspots {
		fmt.Fprintf(tw, "%d\t%.2f\t%.2f\t%.3f\t%d\t%s\n",
			i+1, hs.Percentage, hs.SelfPercent, hs.TotalTime, hs.CallCount, hs.Function)
	}
	tw.Flush()
}

type sessionJSON struct {
	ID                 string `json:"id"`
	Source             string `json:"source"`
	CreatedAt          string `json:"created_at"`
	Is64Bit            bool   `json:"is_64bit"`
	IsFirst            bool   `json:"is_first"`
	ProcessorFrequency int64  `json:"processor_frequency_mhz"`
	Length             int    `json:"length"`
	NodeCount          int    `json:"node_count"`
}

func toSessionsJSON(sessions []store.Session) []sessionJSON {
	out := make([]sessionJSON, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionJSON{
			ID:                 s.ID,
			Source:             s.Source,
			CreatedAt:          s.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
			Is64Bit:            s.Is64Bit,
			IsFirst:            s.IsFirst,
			ProcessorFrequency: s.ProcessorFrequency,
			Length:             s.Length,
			NodeCount:          s.NodeCount,
		})
	}
	return out
}

// formatSessionsText formats sessions as aligned columns.
func formatSessionsText(w io.Writer, sessions []store.Session) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tNODES\tSOURCE")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n",
			s.ID, s.CreatedAt.Format("2006-01-02 15:04:05"), s.NodeCount, s.Source)
	}
	tw.Flush()
}

type functionTotalJSON struct {
	NameID    int32  `json:"name_id"`
	Function  string `json:"function"`
	Calls     int64  `json:"calls"`
	CPUCycles int64  `json:"cpu_cycles"`
	Nodes     int    `json:"nodes"`
}

func toFunctionTotalsJSON(totals []store.FunctionTotal) []functionTotalJSON {
	out := make([]functionTotalJSON, 0, len(totals))
	for _, ft := range totals {
		out = append(out, functionTotalJSON{
			NameID:    ft.Mapping.ID,
			Function:  ft.Mapping.Signature(),
			Calls:     ft.Calls,
			CPUCycles: ft.CPUCycles,
			Nodes:     ft.Nodes,
		})
	}
	return out
}

// formatFunctionTotalsText formats per-function totals as aligned columns.
func formatFunctionTotalsText(w io.Writer, totals []store.FunctionTotal) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CYCLES\tCALLS\tNODES\tFUNCTION")
	for _, ft := range totals {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%s\n", ft.CPUCycles, ft.Calls, ft.Nodes, ft.Mapping.Signature())
	}
	tw.Flush()
}
