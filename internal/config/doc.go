// Package config defines the format-agnostic configuration model that every
// configuration source (HCL, YAML) translates into.
//
// The model is "raw": optional fields are pointers so that the
// registry can tell an omitted value from an explicit zero, and option values
// are kept as unevaluated hcl.Expression templates so that substitution can run
// once the machine they refer to has been resolved.
package config
