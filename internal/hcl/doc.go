// Package hcl provides the HCL implementation of the config.Loader interface.
// It is responsible for discovering *.hcl files, decoding the project, machine
// and build blocks they contain, and translating them into the
// format-agnostic config.Model. Option values are kept as unevaluated HCL
// template expressions.
package hcl
