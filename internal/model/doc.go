// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// Package model holds the resolved, strongly-typed domain objects of a test
// run: the Project, the Machine it runs on, the BuildVariants to exercise,
// and the per-variant RunResult.
//
// Why a separate model package?
//
// The configuration layer (package config) is raw: optional
// values are pointers and option values are unevaluated templates. The
// registry turns that into the types defined here, with defaults applied and
// substitutions resolved, so that the resource pool, the runner and the
// orchestrator never have to know which file format a definition came from.
//
// Machine, Project and the static fields of BuildVariant are immutable after
// resolution. The runtime fields of BuildVariant (resource counts and the
// baselines flag) are written once per run: the counts by the resource pool
// before dispatch, the flag by the baseline manager.
package model
