// Package confloader loads configuration with koanf and watches the
// configuration file for changes.
//
// Priority (highest to lowest):
//
//  1. Overrides (command-line flags)
//  2. Environment variables (CLUSTERSNAP_ prefix, "__" between sections)
//  3. Configuration file (YAML)
//  4. Defaults already present in the target struct
package confloader
