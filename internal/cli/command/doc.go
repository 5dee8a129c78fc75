// Package command provides the clustersnap CLI commands.
//
// Commands are defined with urfave/cli/v2:
//
//   - root.go: App, global flags, config loading
//   - serve.go: run a node with the HTTP API
//   - snapshot.go: offline snapshot archive management
//   - config.go: show and test configuration
//   - version.go: build information
//
// Every command parses its flags, opens what it needs from the
// configuration, and renders results through internal/cli/output.
package command
