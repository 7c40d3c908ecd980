// Package importer loads compendium content from JSON and YAML files:
// bulk SRD drops, homebrew packs, and fixture data.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"path"
	"strings"

	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/louisbranch/lorebound/internal/compendium/catalog"
	"github.com/louisbranch/lorebound/internal/compendium/document"
	"github.com/louisbranch/lorebound/internal/compendium/storage"
	apperrors "github.com/louisbranch/lorebound/internal/platform/errors"
)

// Item is one entry definition inside an import file.
type Item struct {
	System    string         `json:"system" yaml:"system"`
	EntryType string         `json:"entry_type" yaml:"entry_type"`
	Name      string         `json:"name" yaml:"name"`
	Category  string         `json:"category" yaml:"category"`
	Parent    string         `json:"parent" yaml:"parent"`
	Source    string         `json:"source" yaml:"source"`
	Homebrew  bool           `json:"homebrew" yaml:"homebrew"`
	Data      map[string]any `json:"data" yaml:"data"`
}

// Stats summarizes one import run.
type Stats struct {
	Total   int
	Created int
	Updated int
	Skipped int
	Errors  int
}

// Importer feeds files through the catalog service.
type Importer struct {
	catalog *catalog.Service
	// UpdateExisting refreshes entries that already exist instead of
	// skipping them.
	UpdateExisting bool
}

// New builds an importer over a catalog service.
func New(svc *catalog.Service) *Importer {
	return &Importer{catalog: svc}
}

// Run imports every named file from fsys. Item-level failures are counted
// and logged, not fatal; file-level failures abort the run.
func (imp *Importer) Run(ctx context.Context, fsys fs.FS, paths []string) (Stats, error) {
	var stats Stats
	for _, filePath := range paths {
		if err := imp.importFile(ctx, fsys, filePath, &stats); err != nil {
			return stats, fmt.Errorf("import %s: %w", filePath, err)
		}
	}
	return stats, nil
}

func (imp *Importer) importFile(ctx context.Context, fsys fs.FS, filePath string, stats *Stats) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := fs.ReadFile(fsys, filePath)
	if err != nil {
		return err
	}

	items, err := decodeItems(filePath, raw)
	if err != nil {
		return err
	}

	stats.Total += len(items)
	for _, item := range items {
		if err := imp.importItem(ctx, item, stats); err != nil {
			log.Printf("import %s %s/%s %q: %v", filePath, item.System, item.EntryType, item.Name, err)
			stats.Errors++
		}
	}
	return nil
}

// decodeItems accepts either a single item document or a list of them.
func decodeItems(filePath string, raw []byte) ([]Item, error) {
	unmarshal := json.Unmarshal
	switch strings.ToLower(path.Ext(filePath)) {
	case ".yaml", ".yml":
		unmarshal = yaml.Unmarshal
	}

	var items []Item
	if err := unmarshal(raw, &items); err == nil {
		return items, nil
	}
	var single Item
	if err := unmarshal(raw, &single); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	return []Item{single}, nil
}

func (imp *Importer) importItem(ctx context.Context, item Item, stats *Stats) error {
	data, err := document.FromGo(item.Data)
	if err != nil {
		return fmt.Errorf("convert data: %w", err)
	}

	existing, found, err := imp.findExisting(ctx, item)
	if err != nil {
		return err
	}
	if found {
		if !imp.UpdateExisting {
			stats.Skipped++
			return nil
		}
		if _, err := imp.catalog.UpdateEntry(ctx, catalog.UpdateEntryParams{
			GUID:            existing.GUID,
			Name:            item.Name,
			Data:            data,
			LastSeenVersion: existing.Version,
		}); err != nil {
			return fmt.Errorf("update entry: %w", err)
		}
		stats.Updated++
		return nil
	}

	if _, err := imp.catalog.CreateEntry(ctx, catalog.CreateEntryParams{
		System:     item.System,
		EntryType:  item.EntryType,
		Name:       item.Name,
		Data:       data,
		ParentGUID: item.Parent,
		Category:   storage.Category(item.Category),
		Homebrew:   item.Homebrew,
		Source:     item.Source,
	}); err != nil {
		return fmt.Errorf("create entry: %w", err)
	}
	stats.Created++
	return nil
}

// findExisting resolves an item to an already imported entry by its base
// GUID. Suffixed duplicates are treated as distinct entries.
func (imp *Importer) findExisting(ctx context.Context, item Item) (storage.Entry, bool, error) {
	guid, err := catalog.EntryGUID(item.System, item.EntryType, item.Name)
	if err != nil {
		return storage.Entry{}, false, err
	}
	entry, err := imp.catalog.GetEntry(ctx, guid)
	if err != nil {
		var appErr *apperrors.Error
		if errors.As(err, &appErr) && appErr.Code == apperrors.CodeNotFound {
			return storage.Entry{}, false, nil
		}
		return storage.Entry{}, false, err
	}
	return entry, true, nil
}
