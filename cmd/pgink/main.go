// Package main provides the pgink CLI.
//
// The CLI supports:
//   - generate: Render the DDL registration script from an entity manifest
//   - validate: Load a manifest and resolve its entity graph without output
//   - config: Show the effective configuration
//
// This tool is typically run during development and packaging to keep the
// extension's SQL script synchronized with the declared callables.
//
// Usage:
//
//	pgink [flags] <command>
//
// No command needs database access; everything is derived statically from
// the manifest.
package main

func main() {
	Execute()
}
