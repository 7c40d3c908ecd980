// Package hierarchy walks parent and child links between compendium entries
// and renders subtrees as markdown documents.
package hierarchy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/lorebound/internal/compendium/storage"
	apperrors "github.com/louisbranch/lorebound/internal/platform/errors"
)

// MaxDepth bounds every traversal. Any chain deeper than this indicates a
// corrupted parent link rather than legitimate content.
const MaxDepth = 32

// Engine traverses entry hierarchies.
type Engine struct {
	store storage.EntryStore
}

// NewEngine builds a hierarchy engine over an entry store.
func NewEngine(store storage.EntryStore) *Engine {
	return &Engine{store: store}
}

// Node is one entry in a resolved subtree.
type Node struct {
	Entry    storage.Entry
	Children []*Node
}

// Children returns an entry's direct active children ordered by name.
func (e *Engine) Children(ctx context.Context, guid string) ([]storage.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := e.getEntry(ctx, guid); err != nil {
		return nil, err
	}
	return e.store.ListChildren(ctx, guid)
}

// Ancestors returns the chain from the root container down to the entry's
// direct parent. An entry without a parent has no ancestors.
func (e *Engine) Ancestors(ctx context.Context, guid string) ([]storage.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entry, err := e.getEntry(ctx, guid)
	if err != nil {
		return nil, err
	}

	var chain []storage.Entry
	visited := map[string]struct{}{entry.GUID: {}}
	current := entry
	for current.ParentGUID != "" {
		if len(chain) >= MaxDepth {
			return nil, cycleError(guid, current.ParentGUID)
		}
		if _, seen := visited[current.ParentGUID]; seen {
			return nil, cycleError(guid, current.ParentGUID)
		}
		parent, err := e.getEntry(ctx, current.ParentGUID)
		if err != nil {
			return nil, err
		}
		visited[parent.GUID] = struct{}{}
		chain = append(chain, parent)
		current = parent
	}

	// Reverse so the root comes first.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// Tree resolves the full subtree rooted at guid. Children are ordered by
// name at every level.
func (e *Engine) Tree(ctx context.Context, guid string) (*Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entry, err := e.getEntry(ctx, guid)
	if err != nil {
		return nil, err
	}
	visited := map[string]struct{}{entry.GUID: {}}
	return e.buildTree(ctx, entry, visited, 0)
}

func (e *Engine) buildTree(ctx context.Context, entry storage.Entry, visited map[string]struct{}, depth int) (*Node, error) {
	if depth >= MaxDepth {
		return nil, cycleError(entry.GUID, entry.ParentGUID)
	}
	node := &Node{Entry: entry}
	children, err := e.store.ListChildren(ctx, entry.GUID)
	if err != nil {
		return nil, fmt.Errorf("list children of %s: %w", entry.GUID, err)
	}
	for _, child := range children {
		if _, seen := visited[child.GUID]; seen {
			return nil, cycleError(entry.GUID, child.GUID)
		}
		visited[child.GUID] = struct{}{}
		childNode, err := e.buildTree(ctx, child, visited, depth+1)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, childNode)
	}
	return node, nil
}

// Descendants returns the subtree entries in pre-order, excluding the root.
func (e *Engine) Descendants(ctx context.Context, guid string) ([]storage.Entry, error) {
	root, err := e.Tree(ctx, guid)
	if err != nil {
		return nil, err
	}
	var entries []storage.Entry
	var walk func(node *Node)
	walk = func(node *Node) {
		for _, child := range node.Children {
			entries = append(entries, child.Entry)
			walk(child)
		}
	}
	walk(root)
	return entries, nil
}

// Render produces a markdown document for the subtree rooted at guid. Each
// entry contributes a heading at its depth and its description body, with
// children in name order. Rendering the same tree twice yields identical
// output.
func (e *Engine) Render(ctx context.Context, guid string) (string, error) {
	root, err := e.Tree(ctx, guid)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	renderNode(&b, root, 0)
	return b.String(), nil
}

func renderNode(b *strings.Builder, node *Node, depth int) {
	level := depth + 1
	if level > 6 {
		level = 6
	}
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	b.WriteString(strings.Repeat("#", level))
	b.WriteString(" ")
	b.WriteString(node.Entry.Name)
	b.WriteString("\n")

	if description, ok := node.Entry.Data.Field("description"); ok && !description.IsNull() {
		if text := description.StringVal(); text != "" {
			b.WriteString("\n")
			b.WriteString(text)
			b.WriteString("\n")
		}
	}

	for _, child := range node.Children {
		renderNode(b, child, depth+1)
	}
}

func (e *Engine) getEntry(ctx context.Context, guid string) (storage.Entry, error) {
	entry, err := e.store.GetEntry(ctx, guid)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Entry{}, apperrors.WithMetadata(
				apperrors.CodeNotFound,
				"entry does not exist",
				map[string]string{"guid": guid},
			)
		}
		return storage.Entry{}, fmt.Errorf("get entry: %w", err)
	}
	return entry, nil
}

func cycleError(start, offender string) error {
	return apperrors.WithMetadata(
		apperrors.CodeCycleDetected,
		"hierarchy contains a cycle",
		map[string]string{"guid": start, "offending_guid": offender},
	)
}
