// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package model

import "time"

// Phase is a named stage of a variant's run.
type Phase string

const (
	PhaseNone   Phase = "none"
	PhaseConfig Phase = "config"
	PhaseBuild  Phase = "build"
	PhaseTest   Phase = "test"
)

// LogFile is the name of the file, inside the variant's build directory, that
// captures the combined output of the phase.
func (p Phase) LogFile() string {
	switch p {
	case PhaseConfig:
		return "LastConfig.log"
	case PhaseBuild:
		return "LastBuild.log"
	case PhaseTest:
		return "LastTest.log"
	}
	return ""
}

// State is a step of the per-variant state machine.
type State int

const (
	StateInit State = iota
	StateConfiguring
	StateBuilding
	StateTesting
	StateGeneratingBaselines
	StateDone
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateConfiguring:
		return "configuring"
	case StateBuilding:
		return "building"
	case StateTesting:
		return "testing"
	case StateGeneratingBaselines:
		return "generating_baselines"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	}
	return "unknown"
}

// Phase maps an active state to the phase it executes.
func (s State) Phase() Phase {
	switch s {
	case StateConfiguring:
		return PhaseConfig
	case StateBuilding:
		return PhaseBuild
	case StateTesting, StateGeneratingBaselines:
		return PhaseTest
	}
	return PhaseNone
}

// RunResult is the immutable outcome of one variant's run.
type RunResult struct {
	Variant      *BuildVariant
	Success      bool
	FailurePhase Phase
	// LogExcerpt is the content of the deepest phase log reached, or a
	// diagnostic message when no log exists.
	LogExcerpt string
	Duration   time.Duration
}
