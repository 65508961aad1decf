// Package subst resolves ${object.attribute} references inside build option
// values.
//
// The interpreter works over a closed set of three objects (project, machine
// and build) whose attributes are enumerated in lookup tables; there is no
// reflection. Every reference is checked before anything is evaluated: the
// object and attribute must exist and the attribute must be set. Options may
// reference sibling options through build.cmake_args.NAME; an option naming
// its own key is rejected, and so is any cycle between options. Evaluation
// then proceeds in dependency order.
package subst

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/vk/testprojbuilds/internal/config"
	"github.com/vk/testprojbuilds/internal/dag"
	"github.com/vk/testprojbuilds/internal/model"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

const (
	objProject = "project"
	objMachine = "machine"
	objBuild   = "build"

	// optionsAttr is the build attribute that exposes sibling options.
	optionsAttr = "cmake_args"
)

// Scope is the set of objects a build's options can reference.
type Scope struct {
	Project *model.Project
	Machine *model.Machine
	// Build carries the variant's static fields; its options are filled in
	// while resolving.
	Build *model.BuildVariant
}

// reference is one parsed traversal such as machine.name or
// build.cmake_args.CMAKE_BUILD_TYPE.
type reference struct {
	object string
	attr   string
	option string
	rng    hcl.Range
}

// ResolveOptions evaluates the raw options of a build definition against the
// scope and returns them in declaration order.
func ResolveOptions(scope Scope, def *config.BuildDefinition) ([]model.Option, error) {
	tables := map[string]map[string]cty.Value{
		objProject: projectTable(scope.Project),
		objMachine: machineTable(scope.Machine),
		objBuild:   buildTable(scope.Build),
	}

	byName := make(map[string]*config.Option, len(def.CMakeArgs))
	g := dag.New()
	for _, opt := range def.CMakeArgs {
		byName[opt.Name] = opt
		g.AddNode(opt.Name)
	}

	// Static pass: validate every reference and record option dependencies.
	for _, opt := range def.CMakeArgs {
		for _, trav := range opt.Expr.Variables() {
			ref, err := parseReference(trav)
			if err != nil {
				return nil, optionError(def, opt, err)
			}
			if ref.object == objBuild && ref.attr == optionsAttr {
				if ref.option == opt.Name {
					return nil, optionError(def, opt, fmt.Errorf("%s: option references itself", ref.rng))
				}
				if _, ok := byName[ref.option]; !ok {
					return nil, optionError(def, opt, fmt.Errorf("%s: unknown option %q", ref.rng, ref.option))
				}
				if err := g.AddEdge(ref.option, opt.Name); err != nil {
					return nil, optionError(def, opt, err)
				}
				continue
			}
			val, ok := tables[ref.object][ref.attr]
			if !ok {
				return nil, optionError(def, opt, fmt.Errorf("%s: %s has no attribute %q (available: %s)",
					ref.rng, ref.object, ref.attr, strings.Join(Attributes(ref.object), ", ")))
			}
			if val.IsNull() {
				return nil, optionError(def, opt, fmt.Errorf("%s: %s.%s is not set", ref.rng, ref.object, ref.attr))
			}
		}
	}

	order, err := g.TopologicalOrder()
	if err != nil {
		return nil, config.Errorf("build %q: options reference each other in a cycle (%s): %w", def.ShortName, describeReferences(g, def), err)
	}

	resolved := make(map[string]cty.Value, len(order))
	for _, name := range order {
		opt := byName[name]
		evalCtx := &hcl.EvalContext{
			Variables: map[string]cty.Value{
				objProject: cty.ObjectVal(tables[objProject]),
				objMachine: cty.ObjectVal(tables[objMachine]),
				objBuild:   buildObject(tables[objBuild], resolved),
			},
		}
		val, diags := opt.Expr.Value(evalCtx)
		if diags.HasErrors() {
			return nil, optionError(def, opt, diags)
		}
		str, err := asString(val)
		if err != nil {
			return nil, optionError(def, opt, err)
		}
		if strings.Contains(str, `"`) {
			return nil, optionError(def, opt, fmt.Errorf("value %s contains double quotes; use single quotes instead", str))
		}
		resolved[name] = cty.StringVal(str)
	}

	out := make([]model.Option, 0, len(def.CMakeArgs))
	for _, opt := range def.CMakeArgs {
		out = append(out, model.Option{Name: opt.Name, Value: resolved[opt.Name].AsString()})
	}
	return out, nil
}

func parseReference(trav hcl.Traversal) (reference, error) {
	ref := reference{object: trav.RootName(), rng: trav.SourceRange()}
	switch ref.object {
	case objProject, objMachine, objBuild:
	default:
		return ref, fmt.Errorf("%s: unknown object %q (expected project, machine or build)", ref.rng, ref.object)
	}

	rest := trav[1:]
	if len(rest) == 0 {
		return ref, fmt.Errorf("%s: reference to %s needs an attribute", ref.rng, ref.object)
	}
	attr, ok := stepName(rest[0])
	if !ok {
		return ref, fmt.Errorf("%s: invalid attribute access on %s", ref.rng, ref.object)
	}
	ref.attr = attr

	if ref.object == objBuild && attr == optionsAttr {
		if len(rest) != 2 {
			return ref, fmt.Errorf("%s: expected build.%s.NAME", ref.rng, optionsAttr)
		}
		name, ok := stepName(rest[1])
		if !ok {
			return ref, fmt.Errorf("%s: invalid option name", ref.rng)
		}
		ref.option = name
		return ref, nil
	}
	if len(rest) != 1 {
		return ref, fmt.Errorf("%s: %s.%s has no nested attributes", ref.rng, ref.object, attr)
	}
	return ref, nil
}

// stepName accepts both .name and ["name"] traversal steps.
func stepName(step hcl.Traverser) (string, bool) {
	switch s := step.(type) {
	case hcl.TraverseAttr:
		return s.Name, true
	case hcl.TraverseIndex:
		if s.Key.Type() == cty.String && s.Key.IsKnown() && !s.Key.IsNull() {
			return s.Key.AsString(), true
		}
	}
	return "", false
}

func asString(val cty.Value) (string, error) {
	if val.IsNull() {
		return "", fmt.Errorf("value is null")
	}
	if !val.IsWhollyKnown() {
		return "", fmt.Errorf("value is not known")
	}
	str, err := convert.Convert(val, cty.String)
	if err != nil {
		return "", fmt.Errorf("value of type %s cannot be used as a string: %w", val.Type().FriendlyName(), err)
	}
	return str.AsString(), nil
}

// describeReferences lists which sibling options each option uses, e.g.
// "X uses Y; Y uses X".
func describeReferences(g *dag.Graph, def *config.BuildDefinition) string {
	var parts []string
	for _, opt := range def.CMakeArgs {
		deps, err := g.Dependencies(opt.Name)
		if err != nil || len(deps) == 0 {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s uses %s", opt.Name, strings.Join(deps, ", ")))
	}
	return strings.Join(parts, "; ")
}

func optionError(def *config.BuildDefinition, opt *config.Option, err error) error {
	return config.Errorf("build %q, option %q: %w", def.ShortName, opt.Name, err)
}

func buildObject(static map[string]cty.Value, resolved map[string]cty.Value) cty.Value {
	attrs := make(map[string]cty.Value, len(static)+1)
	for k, v := range static {
		attrs[k] = v
	}
	if len(resolved) == 0 {
		attrs[optionsAttr] = cty.EmptyObjectVal
	} else {
		attrs[optionsAttr] = cty.ObjectVal(resolved)
	}
	return cty.ObjectVal(attrs)
}

// Attributes lists the attribute names available on an object, sorted. It
// backs the unknown-attribute error.
func Attributes(object string) []string {
	var table map[string]cty.Value
	switch object {
	case objProject:
		table = projectTable(&model.Project{})
	case objMachine:
		table = machineTable(&model.Machine{})
	case objBuild:
		table = buildTable(&model.BuildVariant{})
		table[optionsAttr] = cty.NilVal
	default:
		return nil
	}
	names := make([]string, 0, len(table))
	for k := range table {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
