package orchestrator

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/vk/testprojbuilds/internal/model"
)

var (
	passLabel = color.New(color.FgGreen, color.Bold).SprintFunc()
	failLabel = color.New(color.FgRed, color.Bold).SprintFunc()
)

// PrintSummary writes one row per variant, in dispatch order, followed by the
// log of every failed variant.
func PrintSummary(w io.Writer, results []model.RunResult) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Build", "Long Name", "Result", "Failed Phase", "Duration"})
	table.SetAutoWrapText(false)

	for _, r := range results {
		result := passLabel("PASS")
		phase := "-"
		if !r.Success {
			result = failLabel("FAIL")
			phase = string(r.FailurePhase)
		}
		table.Append([]string{
			r.Variant.ShortName,
			r.Variant.LongName,
			result,
			phase,
			r.Duration.Round(time.Second).String(),
		})
	}
	table.Render()

	for _, r := range results {
		if r.Success {
			continue
		}
		fmt.Fprintln(w, strings.Repeat("=", 79))
		fmt.Fprintln(w, failureHeadline(r))
		fmt.Fprintln(w, strings.Repeat("=", 79))
		fmt.Fprintln(w, strings.TrimRight(r.LogExcerpt, "\n"))
	}
}

func failureHeadline(r model.RunResult) string {
	switch r.FailurePhase {
	case model.PhaseConfig:
		return fmt.Sprintf("Build type %s failed at config time. Here's the config log:", r.Variant.LongName)
	case model.PhaseBuild:
		return fmt.Sprintf("Build type %s failed at build time. Here's the build log:", r.Variant.LongName)
	case model.PhaseTest:
		return fmt.Sprintf("Build type %s failed at testing time. Here's the test log:", r.Variant.LongName)
	}
	return fmt.Sprintf("Build type %s failed before the configure step.", r.Variant.LongName)
}
