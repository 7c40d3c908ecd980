package fieldtype

import (
	"fmt"
	"sort"

	apperrors "github.com/louisbranch/lorebound/internal/platform/errors"
)

// Factory rehydrates a Type from its descriptor.
type Factory func(Descriptor) (Type, error)

// Registry maps kind names to factories. New kinds register here; the
// validation engine never needs to change for them.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns a registry with all built-in kinds registered.
func NewRegistry() *Registry {
	r := &Registry{factories: map[string]Factory{}}

	mustRegister := func(kind string, f Factory) {
		if err := r.Register(kind, f); err != nil {
			panic(fmt.Sprintf("register builtin %s: %v", kind, err))
		}
	}

	mustRegister(KindShortText, func(d Descriptor) (Type, error) {
		return ShortText(d.MaxLength), nil
	})
	mustRegister(KindLongText, func(d Descriptor) (Type, error) {
		return LongText(d.MaxLength), nil
	})
	mustRegister(KindMarkdown, func(Descriptor) (Type, error) {
		return Markdown(), nil
	})
	mustRegister(KindInteger, func(d Descriptor) (Type, error) {
		return Integer(d.Min, d.Max), nil
	})
	mustRegister(KindSelect, func(d Descriptor) (Type, error) {
		return Select(d.Options...), nil
	})
	mustRegister(KindCompendiumLink, func(d Descriptor) (Type, error) {
		if d.Pattern == "" {
			return nil, fmt.Errorf("compendium_link requires a pattern")
		}
		return CompendiumLink(d.Pattern), nil
	})
	mustRegister(KindParentLink, func(d Descriptor) (Type, error) {
		return ParentLink(d.ParentCategory), nil
	})
	mustRegister(KindResource, func(Descriptor) (Type, error) {
		return Resource(), nil
	})

	return r
}

// Register adds a kind factory. Registering an existing kind is an error so
// systems cannot silently shadow built-ins.
func (r *Registry) Register(kind string, f Factory) error {
	if kind == "" {
		return fmt.Errorf("field kind name is required")
	}
	if f == nil {
		return fmt.Errorf("field kind factory is required")
	}
	if _, exists := r.factories[kind]; exists {
		return fmt.Errorf("field kind %q already registered", kind)
	}
	r.factories[kind] = f
	return nil
}

// New builds a Type from a descriptor.
func (r *Registry) New(desc Descriptor) (Type, error) {
	f, ok := r.factories[desc.Kind]
	if !ok {
		return nil, apperrors.WithMetadata(apperrors.CodeFieldKindUnknown,
			fmt.Sprintf("unknown field kind %q", desc.Kind),
			map[string]string{"kind": desc.Kind})
	}
	return f(desc)
}

// Kinds returns the registered kind names in sorted order.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.factories))
	for kind := range r.factories {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}
