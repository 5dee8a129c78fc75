// Package output provides output formatting for the clustersnap CLI.
//
//   - formatter.go: Formatter interface, factory and --output parsing
//   - table.go: tabwriter tables built from structs, slices and maps
//   - json.go, yaml.go: machine-readable output for scripting
//   - spinner.go: progress animation for long operations
//
// Struct fields tagged `table:"-"` are never shown in tables and fields
// tagged `table:"wide"` only with --wide.
package output
