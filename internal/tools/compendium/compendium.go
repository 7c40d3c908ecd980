// Package compendium parses compendium command flags and runs the
// selected maintenance action against a compendium database.
package compendium

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/louisbranch/lorebound/internal/compendium/catalog"
	"github.com/louisbranch/lorebound/internal/compendium/hierarchy"
	"github.com/louisbranch/lorebound/internal/compendium/importer"
	"github.com/louisbranch/lorebound/internal/compendium/storage/sqlite"
	"github.com/louisbranch/lorebound/internal/compendium/systems/basic"
	"github.com/louisbranch/lorebound/internal/platform/config"
	"github.com/louisbranch/lorebound/internal/platform/otel"
)

const otelShutdownTimeout = 5 * time.Second

// Config holds compendium command configuration.
type Config struct {
	DBPath string `env:"LOREBOUND_COMPENDIUM_DB_PATH"`

	ImportDir      string
	UpdateExisting bool

	RenderGUID string

	Stats bool

	SchemaEntryType string

	List           bool
	System         string
	EntryType      string
	Text           string
	Filter         string
	PageSize       int
	PageToken      string
	IncludeRetired bool

	JSONOutput bool
}

// ParseConfig loads environment defaults and parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join("data", "compendium.db")
	}

	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "path to compendium sqlite database (default: LOREBOUND_COMPENDIUM_DB_PATH or data/compendium.db)")
	fs.StringVar(&cfg.ImportDir, "import-dir", "", "directory of JSON/YAML content files to import")
	fs.BoolVar(&cfg.UpdateExisting, "update-existing", false, "update entries that already exist during import")
	fs.StringVar(&cfg.RenderGUID, "render", "", "GUID of the entry subtree to render as a markdown document")
	fs.BoolVar(&cfg.Stats, "stats", false, "print aggregate entry counts")
	fs.StringVar(&cfg.SchemaEntryType, "schema", "", "print the field descriptors for this entry type")
	fs.BoolVar(&cfg.List, "list", false, "list entries matching the query flags")
	fs.StringVar(&cfg.System, "system", basic.System, "game system identifier")
	fs.StringVar(&cfg.EntryType, "entry-type", "", "restrict listing to one entry type")
	fs.StringVar(&cfg.Text, "text", "", "match entry names containing this text")
	fs.StringVar(&cfg.Filter, "filter", "", "AIP-160 filter expression for listing")
	fs.IntVar(&cfg.PageSize, "page-size", 0, "max entries per listing page (0 = default)")
	fs.StringVar(&cfg.PageToken, "page-token", "", "resume listing from a previous next-page token")
	fs.BoolVar(&cfg.IncludeRetired, "include-retired", false, "include retired entries in listings")
	fs.BoolVar(&cfg.JSONOutput, "json", false, "output JSON instead of text")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	actions := 0
	if cfg.ImportDir != "" {
		actions++
	}
	if cfg.RenderGUID != "" {
		actions++
	}
	if cfg.Stats {
		actions++
	}
	if cfg.SchemaEntryType != "" {
		actions++
	}
	if cfg.List {
		actions++
	}
	if actions == 0 {
		return Config{}, errors.New("one of -import-dir, -render, -stats, -schema, or -list is required")
	}
	if actions > 1 {
		return Config{}, errors.New("-import-dir, -render, -stats, -schema, and -list cannot be combined")
	}
	return cfg, nil
}

// Run executes the compendium command.
func Run(ctx context.Context, cfg Config, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if out == nil {
		out = io.Discard
	}

	shutdown, err := otel.Setup(ctx, "compendium")
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), otelShutdownTimeout)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			log.Printf("compendium otel shutdown: %v", err)
		}
	}()

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	schemas, err := basic.BuildRegistry()
	if err != nil {
		return fmt.Errorf("build schema registry: %w", err)
	}
	svc := catalog.NewService(store, schemas, nil)

	switch {
	case cfg.ImportDir != "":
		return runImport(ctx, cfg, svc, out)
	case cfg.RenderGUID != "":
		engine := hierarchy.NewEngine(store)
		doc, err := engine.Render(ctx, cfg.RenderGUID)
		if err != nil {
			return err
		}
		_, err = io.WriteString(out, doc)
		return err
	case cfg.Stats:
		return runStats(ctx, cfg, svc, out)
	case cfg.SchemaEntryType != "":
		return runSchema(cfg, svc, out)
	case cfg.List:
		return runList(ctx, cfg, svc, out)
	}
	return errors.New("no action selected")
}

func runImport(ctx context.Context, cfg Config, svc *catalog.Service, out io.Writer) error {
	fsys := os.DirFS(cfg.ImportDir)
	paths, err := contentFiles(fsys)
	if err != nil {
		return fmt.Errorf("scan %s: %w", cfg.ImportDir, err)
	}
	if len(paths) == 0 {
		return fmt.Errorf("no content files found in %s", cfg.ImportDir)
	}

	imp := importer.New(svc)
	imp.UpdateExisting = cfg.UpdateExisting
	stats, err := imp.Run(ctx, fsys, paths)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "imported %d item(s): %d created, %d updated, %d skipped, %d error(s)\n",
		stats.Total, stats.Created, stats.Updated, stats.Skipped, stats.Errors)
	return err
}

// contentFiles returns the importable files under fsys in lexical order.
func contentFiles(fsys fs.FS) ([]string, error) {
	var paths []string
	err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".json", ".yaml", ".yml":
			paths = append(paths, path)
		}
		return nil
	})
	return paths, err
}

func runStats(ctx context.Context, cfg Config, svc *catalog.Service, out io.Writer) error {
	stats, err := svc.Stats(ctx)
	if err != nil {
		return err
	}
	if cfg.JSONOutput {
		return writeJSON(out, stats)
	}

	fmt.Fprintf(out, "entries: %d (%d official, %d homebrew)\n",
		stats.TotalEntries, stats.OfficialCount, stats.HomebrewCount)
	types := make([]string, 0, len(stats.ByEntryType))
	for entryType := range stats.ByEntryType {
		types = append(types, entryType)
	}
	sort.Strings(types)
	for _, entryType := range types {
		fmt.Fprintf(out, "  %s: %d\n", entryType, stats.ByEntryType[entryType])
	}
	return nil
}

func runSchema(cfg Config, svc *catalog.Service, out io.Writer) error {
	descriptor, err := svc.SchemaDescriptor(cfg.System, cfg.SchemaEntryType)
	if err != nil {
		return err
	}
	return writeJSON(out, descriptor)
}

func runList(ctx context.Context, cfg Config, svc *catalog.Service, out io.Writer) error {
	page, err := svc.Query(ctx, catalog.QueryParams{
		System:         cfg.System,
		EntryType:      cfg.EntryType,
		Text:           cfg.Text,
		IncludeRetired: cfg.IncludeRetired,
		Filter:         cfg.Filter,
		PageSize:       cfg.PageSize,
		PageToken:      cfg.PageToken,
	})
	if err != nil {
		return err
	}
	if cfg.JSONOutput {
		return writeJSON(out, page)
	}

	for _, entry := range page.Entries {
		fmt.Fprintf(out, "%s\t%s\t%s\n", entry.GUID, entry.EntryType, entry.Name)
	}
	if page.NextPageToken != "" {
		fmt.Fprintf(out, "next page token: %s\n", page.NextPageToken)
	}
	return nil
}

func writeJSON(out io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = out.Write(data)
	return err
}
