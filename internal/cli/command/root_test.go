package command

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// lockedBuffer is written by loggers and spinners from several goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// runApp runs the CLI with args and returns stdout.
func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	app := App()
	var out bytes.Buffer
	app.Writer = &out
	app.ErrWriter = &lockedBuffer{}
	err := app.Run(append([]string{"clustersnap"}, args...))
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := runApp(t, args...)
	if err != nil {
		t.Fatalf("clustersnap %s: %v", strings.Join(args, " "), err)
	}
	return out
}

func decodeJSON(t *testing.T, data string, v any) {
	t.Helper()
	if err := json.Unmarshal([]byte(data), v); err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestApp(t *testing.T) {
	app := App()
	if app.Name != "clustersnap" {
		t.Errorf("Name = %q, want clustersnap", app.Name)
	}

	commands := make(map[string]bool)
	for _, cmd := range app.Commands {
		commands[cmd.Name] = true
	}
	for _, name := range []string{"serve", "snapshot", "config", "version"} {
		if !commands[name] {
			t.Errorf("missing command: %s", name)
		}
	}

	flags := make(map[string]bool)
	for _, f := range app.Flags {
		flags[f.Names()[0]] = true
	}
	for _, name := range []string{"config", "data-dir", "log-level", "output", "wide"} {
		if !flags[name] {
			t.Errorf("missing global flag: %s", name)
		}
	}
}

func TestApp_RejectsUnknownOutput(t *testing.T) {
	if _, err := runApp(t, "--output", "xml", "version"); err == nil {
		t.Fatal("expected error for unknown output format")
	}
}

func TestVersionCommand(t *testing.T) {
	var info struct {
		Version   string `json:"version"`
		GoVersion string `json:"go_version"`
	}
	decodeJSON(t, mustRun(t, "-o", "json", "version"), &info)
	if info.Version == "" || !strings.HasPrefix(info.GoVersion, "go") {
		t.Errorf("info = %+v", info)
	}
}

func TestConfigShow(t *testing.T) {
	dir := t.TempDir()
	cfgFile := writeFile(t, dir, "clustersnap.yaml", `
snapshot:
  fragment_limit: 25
  app_version: "3.2.1"
`)

	out := mustRun(t, "--config", cfgFile, "--data-dir", dir, "config", "show")
	for _, want := range []string{"fragment_limit: 25", "app_version: 3.2.1", "data_dir: " + dir, "read_timeout: 10s"} {
		if !strings.Contains(out, want) {
			t.Errorf("config show missing %q:\n%s", want, out)
		}
	}
}

func TestConfigTest(t *testing.T) {
	dir := t.TempDir()
	valid := writeFile(t, dir, "valid.yaml", "storage:\n  data_dir: "+filepath.Join(dir, "data")+"\n")
	invalid := writeFile(t, dir, "invalid.yaml", "snapshot:\n  time_unit: fortnights\n")

	out := mustRun(t, "config", "test", valid)
	if !strings.Contains(out, "Configuration is valid: "+valid) {
		t.Errorf("unexpected output: %q", out)
	}

	_, err := runApp(t, "--data-dir", dir, "config", "test", "--offline", invalid)
	if err == nil || !strings.Contains(err.Error(), "snapshot.time_unit") {
		t.Errorf("expected snapshot.time_unit error, got %v", err)
	}
}
