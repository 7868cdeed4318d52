// Package subjects maps polymorphic subject references (type tag, record id) to locators,
// the URLs a detail lookup redirects to. The registry is built once at process start; a tag
// that was never registered and a record that no longer exists both resolve to an error,
// never to a stale locator.
package subjects

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/object-log/object-log/internal/db/models"
)

var (
	// ErrUnknownType is returned for a type tag with no registered resolver.
	ErrUnknownType = errors.New("unknown subject type")
	// ErrRecordNotFound is returned when the referenced record does not exist.
	ErrRecordNotFound = errors.New("subject record not found")
)

// Resolver locates records of one subject type.
type Resolver interface {
	// Locate returns the locator for recordID, or ErrRecordNotFound.
	Locate(ctx context.Context, recordID string) (string, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, recordID string) (string, error)

// Locate calls f.
func (f ResolverFunc) Locate(ctx context.Context, recordID string) (string, error) {
	return f(ctx, recordID)
}

// Registry holds one Resolver per type tag.
type Registry struct {
	mu        sync.RWMutex
	resolvers map[string]Resolver
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{resolvers: make(map[string]Resolver)}
}

// Register adds or replaces the resolver for tag.
func (r *Registry) Register(tag string, resolver Resolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolvers[tag] = resolver
}

// Resolve returns the locator for ref.
func (r *Registry) Resolve(ctx context.Context, ref models.SubjectRef) (string, error) {
	r.mu.RLock()
	resolver, found := r.resolvers[ref.TypeTag]
	r.mu.RUnlock()

	if !found {
		return "", fmt.Errorf("%w: %s", ErrUnknownType, ref.TypeTag)
	}
	if ref.RecordID == "" {
		return "", fmt.Errorf("%w: empty record id", ErrRecordNotFound)
	}

	locator, err := resolver.Locate(ctx, ref.RecordID)
	if err != nil {
		return "", err
	}
	return locator, nil
}

// Tags returns the registered type tags in sorted order.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tags := make([]string, 0, len(r.resolvers))
	for t := range r.resolvers {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// Has checks if a type tag is registered
func (r *Registry) Has(tag string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, found := r.resolvers[tag]
	return found
}
