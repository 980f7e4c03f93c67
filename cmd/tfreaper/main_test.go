package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aatumaykin/tfreaper/internal/projectfile"
	"github.com/aatumaykin/tfreaper/internal/store"
	"github.com/aatumaykin/tfreaper/internal/store/sqlite"
)

func TestCommandStructure(t *testing.T) {
	if rootCmd == nil {
		t.Fatal("rootCmd should not be nil")
	}

	expectedCommands := []string{"serve", "discover", "register", "list", "cancel", "extend", "config", "version"}
	foundCommands := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		foundCommands[cmd.Name()] = true
	}

	for _, expected := range expectedCommands {
		if !foundCommands[expected] {
			t.Errorf("Expected command '%s' not found in rootCmd", expected)
		}
	}
}

func TestConfigSubcommands(t *testing.T) {
	expected := []string{"check", "init", "show"}
	found := make(map[string]bool)
	for _, cmd := range configCmd.Commands() {
		found[cmd.Name()] = true
	}

	for _, name := range expected {
		if !found[name] {
			t.Errorf("Expected 'config %s' subcommand not found", name)
		}
	}
}

// execCLI runs the root command with the given arguments and resets shared
// flag state afterwards.
func execCLI(t *testing.T, args ...string) error {
	t.Helper()

	rootCmd.SetArgs(args)
	err := rootCmd.Execute()

	rootCmd.SetArgs(nil)
	cfgFile = ""
	registerTimeout = ""
	listStatus = ""
	listJSON = false
	extendBy = ""
	return err
}

// cliFixture writes a minimal config plus one project directory and returns
// the config path, the project directory and the database path.
func cliFixture(t *testing.T) (cfgPath, projectDir, dbPath string) {
	t.Helper()

	base := t.TempDir()
	root := filepath.Join(base, "projects")
	projectDir = filepath.Join(root, "staging")
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		t.Fatal(err)
	}

	content := "version: 1\nname: staging\ntimeout: 2h\n"
	if err := os.WriteFile(filepath.Join(projectDir, projectfile.Filename), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	stateDir := filepath.Join(base, "state")
	cfgPath = filepath.Join(base, "config.toml")
	cfgContent := "[daemon]\nstate_dir = \"" + stateDir + "\"\n\n[discovery]\nroots = [\"" + root + "\"]\n"
	if err := os.WriteFile(cfgPath, []byte(cfgContent), 0o644); err != nil {
		t.Fatal(err)
	}

	return cfgPath, projectDir, filepath.Join(stateDir, "tfreaper.db")
}

func TestRegisterCancelFlow(t *testing.T) {
	cfgPath, projectDir, dbPath := cliFixture(t)
	ctx := context.Background()

	if err := execCLI(t, "register", projectDir, "--config", cfgPath, "--timeout", "90 minutes"); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	st, err := sqlite.Open(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	p, err := st.GetProjectByPath(ctx, projectDir)
	if err != nil {
		t.Fatalf("project was not registered: %v", err)
	}
	if p.Status != store.StatusActive {
		t.Errorf("status = %s, want active", p.Status)
	}
	want := time.Now().Add(90 * time.Minute)
	if diff := p.DestroyAt.Sub(want); diff < -time.Minute || diff > time.Minute {
		t.Errorf("destroy_at = %s, want about %s", p.DestroyAt, want)
	}

	events, err := st.QueryEvents(ctx, store.EventFilter{ProjectID: p.ID, Type: store.EventRegistered})
	if err != nil || len(events) == 0 {
		t.Errorf("expected a registered event, got %d (err %v)", len(events), err)
	}

	if err := execCLI(t, "extend", projectDir, "--config", cfgPath, "--by", "1h"); err != nil {
		t.Fatalf("extend failed: %v", err)
	}
	p, err = st.GetProject(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	want = time.Now().Add(150 * time.Minute)
	if diff := p.DestroyAt.Sub(want); diff < -time.Minute || diff > time.Minute {
		t.Errorf("after extend destroy_at = %s, want about %s", p.DestroyAt, want)
	}

	if err := execCLI(t, "cancel", projectDir, "--config", cfgPath); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	p, err = st.GetProject(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != store.StatusCancelled {
		t.Errorf("status after cancel = %s, want cancelled", p.Status)
	}

	// Terminal projects reject both repeat cancels and extensions.
	if err := execCLI(t, "cancel", projectDir, "--config", cfgPath); err == nil {
		t.Error("second cancel should fail")
	}
	if err := execCLI(t, "extend", projectDir, "--config", cfgPath, "--by", "1h"); err == nil {
		t.Error("extending a cancelled project should fail")
	}
}

func TestRegisterRequiresProjectFile(t *testing.T) {
	cfgPath, _, _ := cliFixture(t)
	empty := t.TempDir()

	if err := execCLI(t, "register", empty, "--config", cfgPath); err == nil {
		t.Error("register should fail without a project file")
	}
}

func TestListRunsAgainstEmptyState(t *testing.T) {
	cfgPath, _, _ := cliFixture(t)

	if err := execCLI(t, "list", "--config", cfgPath); err != nil {
		t.Errorf("list failed: %v", err)
	}
	if err := execCLI(t, "list", "--config", cfgPath, "--json"); err != nil {
		t.Errorf("list --json failed: %v", err)
	}
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	if err := execCLI(t, "config", "init", path); err != nil {
		t.Fatalf("config init failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config init wrote nothing: %v", err)
	}

	// A second init must refuse to overwrite.
	if err := execCLI(t, "config", "init", path); err == nil {
		t.Error("config init should refuse to overwrite an existing file")
	}
}
