// Package fieldtype provides the pluggable validation and description units
// that compendium schemas are composed of. Each kind validates one shape of
// leaf value and describes itself for form rendering.
package fieldtype

import (
	"fmt"
	"path"

	"github.com/louisbranch/lorebound/internal/compendium/document"
)

// Issue is a single field-level validation problem. Validation never panics
// on malformed input; it reports issues instead.
type Issue struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Validation issue codes.
const (
	IssueWrongType       = "wrong_type"
	IssueTooLong         = "too_long"
	IssueOutOfRange      = "out_of_range"
	IssueInvalidOption   = "invalid_option"
	IssuePatternMismatch = "pattern_mismatch"
	IssueRequired        = "required"
	IssueUnknownField    = "unknown_field"
)

// Descriptor is the wire shape of a field kind plus its constraints. It is
// what form builders consume and what the registry rehydrates types from.
type Descriptor struct {
	Kind           string   `json:"kind"`
	MaxLength      int      `json:"max_length,omitempty"`
	Min            *int64   `json:"min,omitempty"`
	Max            *int64   `json:"max,omitempty"`
	Options        []string `json:"options,omitempty"`
	Pattern        string   `json:"pattern,omitempty"`
	ParentCategory string   `json:"parent_category,omitempty"`
}

// Type validates and describes one kind of field value.
type Type interface {
	Kind() string
	Validate(field string, value document.Value) []Issue
	Describe() Descriptor
}

// Bound returns a pointer to n, for integer range constraints.
func Bound(n int64) *int64 { return &n }

// Field kind names.
const (
	KindShortText      = "short_text"
	KindLongText       = "long_text"
	KindMarkdown       = "markdown_text"
	KindInteger        = "integer"
	KindSelect         = "select"
	KindCompendiumLink = "compendium_link"
	KindParentLink     = "parent_link"
	KindResource       = "resource"
)

type textType struct {
	kind      string
	maxLength int
}

// ShortText returns a single-line text kind with a maximum length.
func ShortText(maxLength int) Type {
	return &textType{kind: KindShortText, maxLength: maxLength}
}

// LongText returns a multi-line text kind with a maximum length; 0 means
// unbounded.
func LongText(maxLength int) Type {
	return &textType{kind: KindLongText, maxLength: maxLength}
}

// Markdown returns a markdown text kind. Content is stored verbatim; only
// shape and length are validated.
func Markdown() Type {
	return &textType{kind: KindMarkdown}
}

func (t *textType) Kind() string { return t.kind }

func (t *textType) Validate(field string, value document.Value) []Issue {
	if value.Kind() != document.KindString {
		return []Issue{{Field: field, Code: IssueWrongType, Message: fmt.Sprintf("expected string, got %s", value.Kind())}}
	}
	if t.maxLength > 0 && len(value.StringVal()) > t.maxLength {
		return []Issue{{Field: field, Code: IssueTooLong, Message: fmt.Sprintf("exceeds maximum length %d", t.maxLength)}}
	}
	return nil
}

func (t *textType) Describe() Descriptor {
	return Descriptor{Kind: t.kind, MaxLength: t.maxLength}
}

type integerType struct {
	min *int64
	max *int64
}

// Integer returns an integer kind with optional inclusive bounds.
func Integer(min, max *int64) Type {
	return &integerType{min: min, max: max}
}

func (t *integerType) Kind() string { return KindInteger }

func (t *integerType) Validate(field string, value document.Value) []Issue {
	if value.Kind() != document.KindNumber {
		return []Issue{{Field: field, Code: IssueWrongType, Message: fmt.Sprintf("expected number, got %s", value.Kind())}}
	}
	n := value.NumberVal()
	if n != float64(int64(n)) {
		return []Issue{{Field: field, Code: IssueWrongType, Message: "expected integer, got fraction"}}
	}
	i := int64(n)
	if t.min != nil && i < *t.min {
		return []Issue{{Field: field, Code: IssueOutOfRange, Message: fmt.Sprintf("below minimum %d", *t.min)}}
	}
	if t.max != nil && i > *t.max {
		return []Issue{{Field: field, Code: IssueOutOfRange, Message: fmt.Sprintf("above maximum %d", *t.max)}}
	}
	return nil
}

func (t *integerType) Describe() Descriptor {
	return Descriptor{Kind: KindInteger, Min: t.min, Max: t.max}
}

type selectType struct {
	options []string
}

// Select returns an enumerated kind restricted to a fixed option set.
func Select(options ...string) Type {
	return &selectType{options: options}
}

func (t *selectType) Kind() string { return KindSelect }

func (t *selectType) Validate(field string, value document.Value) []Issue {
	if value.Kind() != document.KindString {
		return []Issue{{Field: field, Code: IssueWrongType, Message: fmt.Sprintf("expected string, got %s", value.Kind())}}
	}
	for _, opt := range t.options {
		if value.StringVal() == opt {
			return nil
		}
	}
	return []Issue{{Field: field, Code: IssueInvalidOption, Message: fmt.Sprintf("%q is not a valid option", value.StringVal())}}
}

func (t *selectType) Describe() Descriptor {
	return Descriptor{Kind: KindSelect, Options: t.options}
}

type linkType struct {
	pattern string
}

// CompendiumLink returns a kind holding a GUID that must match a glob
// pattern, e.g. "srd-basic-damage-type-*".
func CompendiumLink(pattern string) Type {
	return &linkType{pattern: pattern}
}

func (t *linkType) Kind() string { return KindCompendiumLink }

func (t *linkType) Validate(field string, value document.Value) []Issue {
	if value.Kind() != document.KindString {
		return []Issue{{Field: field, Code: IssueWrongType, Message: fmt.Sprintf("expected guid string, got %s", value.Kind())}}
	}
	matched, err := path.Match(t.pattern, value.StringVal())
	if err != nil || !matched {
		return []Issue{{Field: field, Code: IssuePatternMismatch, Message: fmt.Sprintf("guid does not match %q", t.pattern)}}
	}
	return nil
}

func (t *linkType) Describe() Descriptor {
	return Descriptor{Kind: KindCompendiumLink, Pattern: t.pattern}
}

type parentLinkType struct {
	category string
}

// ParentLink returns a kind holding the GUID of a container entry of the
// given category.
func ParentLink(category string) Type {
	return &parentLinkType{category: category}
}

func (t *parentLinkType) Kind() string { return KindParentLink }

func (t *parentLinkType) Validate(field string, value document.Value) []Issue {
	if value.Kind() != document.KindString {
		return []Issue{{Field: field, Code: IssueWrongType, Message: fmt.Sprintf("expected guid string, got %s", value.Kind())}}
	}
	return nil
}

func (t *parentLinkType) Describe() Descriptor {
	return Descriptor{Kind: KindParentLink, ParentCategory: t.category}
}

type resourceType struct{}

// Resource returns a kind describing a rechargeable pool, stored as a map
// with a non-negative "maximum". The current value lives in snapshot mutable
// state, never in content data.
func Resource() Type {
	return &resourceType{}
}

func (t *resourceType) Kind() string { return KindResource }

func (t *resourceType) Validate(field string, value document.Value) []Issue {
	if value.Kind() != document.KindMap {
		return []Issue{{Field: field, Code: IssueWrongType, Message: fmt.Sprintf("expected map, got %s", value.Kind())}}
	}
	maximum, ok := value.Field("maximum")
	if !ok {
		return []Issue{{Field: field, Code: IssueRequired, Message: "resource requires a maximum"}}
	}
	if maximum.Kind() != document.KindNumber || maximum.NumberVal() < 0 {
		return []Issue{{Field: field, Code: IssueOutOfRange, Message: "resource maximum must be a non-negative number"}}
	}
	return nil
}

func (t *resourceType) Describe() Descriptor {
	return Descriptor{Kind: KindResource, Min: Bound(0)}
}
