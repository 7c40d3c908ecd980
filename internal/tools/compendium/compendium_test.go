package compendium

import (
	"bytes"
	"context"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/louisbranch/lorebound/internal/compendium/schema"
)

func parseArgs(t *testing.T, args ...string) (Config, error) {
	t.Helper()
	fs := flag.NewFlagSet(t.Name(), flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return ParseConfig(fs, args)
}

func TestParseConfigRequiresAction(t *testing.T) {
	t.Parallel()

	if _, err := parseArgs(t, "-db-path", "compendium.db"); err == nil {
		t.Fatal("expected error when no action flag is set")
	}
}

func TestParseConfigRejectsCombinedActions(t *testing.T) {
	t.Parallel()

	if _, err := parseArgs(t, "-stats", "-render", "srd-basic-item-club"); err == nil {
		t.Fatal("expected error when actions are combined")
	}
}

func TestParseConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := parseArgs(t, "-stats")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.DBPath == "" {
		t.Fatal("expected a default db path")
	}
	if cfg.System != "srd-basic" {
		t.Fatalf("system = %q, want srd-basic", cfg.System)
	}
}

const rulesJSON = `[
  {
    "system": "srd-basic",
    "entry_type": "basic-rule",
    "name": "Combat",
    "category": "container",
    "data": {"name": "Combat", "description": "Rules for fighting."}
  },
  {
    "system": "srd-basic",
    "entry_type": "basic-rule",
    "name": "Attacks",
    "parent": "srd-basic-basic-rule-combat",
    "data": {"name": "Attacks", "description": "How to attack."}
  },
  {
    "system": "srd-basic",
    "entry_type": "item",
    "name": "Club",
    "data": {"name": "Club", "weight": 2}
  }
]`

func seedDatabase(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	contentDir := filepath.Join(dir, "content")
	if err := os.Mkdir(contentDir, 0o755); err != nil {
		t.Fatalf("mkdir content: %v", err)
	}
	if err := os.WriteFile(filepath.Join(contentDir, "rules.json"), []byte(rulesJSON), 0o644); err != nil {
		t.Fatalf("write rules.json: %v", err)
	}

	dbPath := filepath.Join(dir, "compendium.db")
	cfg, err := parseArgs(t, "-db-path", dbPath, "-import-dir", contentDir)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	var out bytes.Buffer
	if err := Run(context.Background(), cfg, &out); err != nil {
		t.Fatalf("import run: %v", err)
	}
	if got := out.String(); !strings.Contains(got, "3 created") {
		t.Fatalf("import output = %q, want 3 created", got)
	}
	return dbPath
}

func TestRunImportThenStats(t *testing.T) {
	t.Parallel()

	dbPath := seedDatabase(t)

	cfg, err := parseArgs(t, "-db-path", dbPath, "-stats")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	var out bytes.Buffer
	if err := Run(context.Background(), cfg, &out); err != nil {
		t.Fatalf("stats run: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "entries: 3") {
		t.Fatalf("stats output = %q, want 3 entries", got)
	}
	if !strings.Contains(got, "basic-rule: 2") || !strings.Contains(got, "item: 1") {
		t.Fatalf("stats output = %q, want per-type counts", got)
	}
}

func TestRunRender(t *testing.T) {
	t.Parallel()

	dbPath := seedDatabase(t)

	cfg, err := parseArgs(t, "-db-path", dbPath, "-render", "srd-basic-basic-rule-combat")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	var out bytes.Buffer
	if err := Run(context.Background(), cfg, &out); err != nil {
		t.Fatalf("render run: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "# Combat\n") || !strings.Contains(got, "## Attacks\n") {
		t.Fatalf("render output = %q, want nested headings", got)
	}
}

func TestRunSchemaOutputsDescriptor(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "compendium.db")
	cfg, err := parseArgs(t, "-db-path", dbPath, "-schema", "item")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	var out bytes.Buffer
	if err := Run(context.Background(), cfg, &out); err != nil {
		t.Fatalf("schema run: %v", err)
	}

	var descriptor schema.Descriptor
	if err := json.Unmarshal(out.Bytes(), &descriptor); err != nil {
		t.Fatalf("decode descriptor: %v", err)
	}
	if descriptor.EntryType != "item" {
		t.Fatalf("entry type = %q, want item", descriptor.EntryType)
	}
	if len(descriptor.Fields) == 0 {
		t.Fatal("expected field descriptors")
	}
}

func TestRunListFiltersByText(t *testing.T) {
	t.Parallel()

	dbPath := seedDatabase(t)

	cfg, err := parseArgs(t, "-db-path", dbPath, "-list", "-text", "club")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	var out bytes.Buffer
	if err := Run(context.Background(), cfg, &out); err != nil {
		t.Fatalf("list run: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "srd-basic-item-club") || strings.Contains(got, "Attacks") {
		t.Fatalf("list output = %q, want only the club entry", got)
	}
}

func TestRunMissingImportDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg, err := parseArgs(t, "-db-path", filepath.Join(dir, "compendium.db"), "-import-dir", filepath.Join(dir, "empty"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := Run(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected error for missing content directory")
	}
}
