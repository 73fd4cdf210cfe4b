package topic

import (
	"strings"
)

// Builder constructs topic strings of the form {root}/{segment}/{id}.
// Segments are defined by the caller (see internal/pkg/mqtt/paths) so the
// same builder serves every component that shares a root namespace.
type Builder struct {
	root string
}

// NewBuilder returns a Builder rooted at root, e.g. "aefi/v1". Leading and
// trailing slashes are trimmed.
func NewBuilder(root string) *Builder {
	return &Builder{root: strings.Trim(root, "/")}
}

// Root returns the namespace every topic starts with.
func (b *Builder) Root() string {
	return b.root
}

// Build returns {root}/{segment}/{id}.
func (b *Builder) Build(segment, id string) string {
	return b.root + "/" + strings.Trim(segment, "/") + "/" + id
}

// Wildcard returns the filter matching segment for every id.
func (b *Builder) Wildcard(segment string) string {
	return b.Build(segment, Wildcard)
}

// All returns the filter matching everything beneath segment.
func (b *Builder) All(segment string) string {
	return b.root + "/" + strings.Trim(segment, "/") + "/" + MultiWildcard
}
