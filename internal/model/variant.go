// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package model

import "fmt"

// Unassigned marks a resource count the partitioning step has not set yet.
const Unassigned = -1

// Option is a resolved build-configuration option.
type Option struct {
	Name  string
	Value string
}

// BuildVariant is one build configuration to configure, build and test.
type BuildVariant struct {
	// ShortName is the key users pass on the command line.
	ShortName string
	// LongName names the build and baseline directories and is used in reports.
	LongName      string
	Description   string
	UsesBaselines bool
	OnByDefault   bool
	// CMakeArgs are resolved options in declaration order.
	CMakeArgs []Option

	// Runtime fields, written once per run.
	BuildResourceCount int
	TestResourceCount  int
	BaselinesMissing   bool
}

// NewBuildVariant returns a variant whose resource counts are unassigned.
func NewBuildVariant(shortName, longName string) *BuildVariant {
	return &BuildVariant{
		ShortName:          shortName,
		LongName:           longName,
		BuildResourceCount: Unassigned,
		TestResourceCount:  Unassigned,
	}
}

// ResourceCount returns the count assigned for the given phase. Configure
// shares the build allotment.
func (v *BuildVariant) ResourceCount(phase Phase) int {
	if phase == PhaseTest {
		return v.TestResourceCount
	}
	return v.BuildResourceCount
}

func (v *BuildVariant) String() string {
	return fmt.Sprintf("%s (%s)", v.ShortName, v.LongName)
}
