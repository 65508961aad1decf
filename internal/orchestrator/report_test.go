package orchestrator

import (
	"bytes"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/vk/testprojbuilds/internal/model"
)

func TestPrintSummary(t *testing.T) {
	color.NoColor = true

	dbg := model.NewBuildVariant("dbg", "full_debug")
	opt := model.NewBuildVariant("opt", "release")
	sp := model.NewBuildVariant("sp", "full_sp_debug")
	results := []model.RunResult{
		{Variant: dbg, Success: true, FailurePhase: model.PhaseNone, Duration: 90 * time.Second},
		{Variant: opt, Success: false, FailurePhase: model.PhaseBuild, LogExcerpt: "error: undefined reference\n", Duration: time.Second},
		{Variant: sp, Success: false, FailurePhase: model.PhaseTest, LogExcerpt: "1 test failed"},
	}

	var buf bytes.Buffer
	PrintSummary(&buf, results)
	out := buf.String()

	assert.Contains(t, out, "LONG NAME")
	assert.Contains(t, out, "full_debug")
	assert.Contains(t, out, "PASS")
	assert.Contains(t, out, "1m30s")
	assert.Contains(t, out, "Build type release failed at build time. Here's the build log:")
	assert.Contains(t, out, "error: undefined reference")
	assert.Contains(t, out, "Build type full_sp_debug failed at testing time")
	assert.NotContains(t, out, "Build type full_debug failed")
}

func TestFailureHeadline_NoPhase(t *testing.T) {
	r := model.RunResult{Variant: model.NewBuildVariant("dbg", "full_debug"), FailurePhase: model.PhaseNone}
	assert.Equal(t, "Build type full_debug failed before the configure step.", failureHeadline(r))
}
