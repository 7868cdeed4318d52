// resolvers.go implements the concrete resolvers: an existence check paired with a URL
// template, the table-backed variant configured per type tag, and the built-in user and
// group resolvers.
package subjects

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/object-log/object-log/internal/config"
	"github.com/object-log/object-log/internal/db/models"
)

// IDPlaceholder is replaced by the escaped record id in locator templates.
const IDPlaceholder = "{id}"

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ExistsFunc reports whether a record exists.
type ExistsFunc func(ctx context.Context, recordID string) (bool, error)

// LocatorResolver checks existence and renders a URL template.
type LocatorResolver struct {
	exists   ExistsFunc
	template string
	uuidIDs  bool
}

// NewLocatorResolver creates a resolver from an existence check and a locator template
// containing {id}.
func NewLocatorResolver(exists ExistsFunc, urlTemplate string) *LocatorResolver {
	return &LocatorResolver{exists: exists, template: urlTemplate}
}

// RequireUUID makes ids that are not UUIDs resolve to ErrRecordNotFound without a lookup.
func (r *LocatorResolver) RequireUUID() *LocatorResolver {
	r.uuidIDs = true
	return r
}

// Locate implements Resolver.
func (r *LocatorResolver) Locate(ctx context.Context, recordID string) (string, error) {
	if r.uuidIDs {
		if _, err := uuid.Parse(recordID); err != nil {
			return "", fmt.Errorf("%w: %q is not a valid id", ErrRecordNotFound, recordID)
		}
	}

	ok, err := r.exists(ctx, recordID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrRecordNotFound, recordID)
	}
	return strings.ReplaceAll(r.template, IDPlaceholder, url.PathEscape(recordID)), nil
}

// quoteIdentifier validates and quotes a possibly schema-qualified identifier.
func quoteIdentifier(name string) (string, error) {
	parts := strings.Split(name, ".")
	if len(parts) > 2 {
		return "", fmt.Errorf("invalid identifier %q", name)
	}
	for i, p := range parts {
		if !identifierPattern.MatchString(p) {
			return "", fmt.Errorf("invalid identifier %q", name)
		}
		parts[i] = pq.QuoteIdentifier(p)
	}
	return strings.Join(parts, "."), nil
}

// NewTableResolver resolves records stored in an arbitrary table of the same database.
func NewTableResolver(db *sqlx.DB, table, idColumn, urlTemplate string) (*LocatorResolver, error) {
	qTable, err := quoteIdentifier(table)
	if err != nil {
		return nil, err
	}
	if idColumn == "" {
		idColumn = "id"
	}
	qColumn, err := quoteIdentifier(idColumn)
	if err != nil {
		return nil, err
	}
	if !strings.Contains(urlTemplate, IDPlaceholder) {
		return nil, fmt.Errorf("url template %q must contain %s", urlTemplate, IDPlaceholder)
	}

	query := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE %s::text = $1)`, qTable, qColumn)
	exists := func(ctx context.Context, recordID string) (bool, error) {
		var found bool
		err := db.QueryRowContext(ctx, query, recordID).Scan(&found)
		return found, err
	}
	return NewLocatorResolver(exists, urlTemplate), nil
}

// Lookups are the existence checks the built-in resolvers need.
type Lookups struct {
	UserExists  ExistsFunc
	GroupExists ExistsFunc
}

// NewRegistryFromConfig registers the built-in user and group resolvers plus every table
// resolver in cfg.Subjects.Types.
func NewRegistryFromConfig(cfg *config.Config, db *sqlx.DB, lookups Lookups) (*Registry, error) {
	base := strings.TrimRight(cfg.Server.BaseURL, "/")
	reg := NewRegistry()

	if lookups.UserExists != nil {
		reg.Register(models.SubjectTypeUser, NewLocatorResolver(lookups.UserExists, base+"/user/"+IDPlaceholder+"/").RequireUUID())
	}
	if lookups.GroupExists != nil {
		reg.Register(models.SubjectTypeGroup, NewLocatorResolver(lookups.GroupExists, base+"/group/"+IDPlaceholder+"/").RequireUUID())
	}

	for _, t := range cfg.Subjects.Types {
		if t.Tag == "" {
			return nil, fmt.Errorf("subjects.types: entry for table %q has no tag", t.Table)
		}
		tmpl := t.URLTemplate
		if strings.HasPrefix(tmpl, "/") {
			tmpl = base + tmpl
		}
		resolver, err := NewTableResolver(db, t.Table, t.IDColumn, tmpl)
		if err != nil {
			return nil, fmt.Errorf("subjects.types[%s]: %w", t.Tag, err)
		}
		reg.Register(t.Tag, resolver)
	}

	return reg, nil
}
