// Package objectlog is the query layer of the object log. Every HTTP view, in both its HTML
// and JSON form, goes through one Service method; access control is applied by the caller
// before the method runs.
package objectlog

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/object-log/object-log/internal/audit"
	"github.com/object-log/object-log/internal/db/models"
	"github.com/object-log/object-log/internal/db/repositories"
	"github.com/object-log/object-log/internal/safego"
	"github.com/object-log/object-log/internal/subjects"
	"github.com/object-log/object-log/internal/telemetry"
)

// shipTimeout bounds a single background ship of a recorded entry.
const shipTimeout = 30 * time.Second

// EntryStore persists and queries log entries.
type EntryStore interface {
	Create(ctx context.Context, entry *models.LogEntry) error
	ListBySubject(ctx context.Context, ref models.SubjectRef, filters repositories.LogEntryFilters, limit, offset int) ([]*models.LogEntry, int, error)
	ListByActor(ctx context.Context, actorID string, filters repositories.LogEntryFilters, limit, offset int) ([]*models.LogEntry, int, error)
	GetByID(ctx context.Context, id string) (*models.LogEntry, error)
}

// UserStore looks up users. A missing user is (nil, nil).
type UserStore interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
}

// GroupStore looks up groups. A missing group is (nil, nil).
type GroupStore interface {
	GetGroupByID(ctx context.Context, id string) (*models.Group, error)
}

// SubjectResolver maps a subject reference to a locator.
type SubjectResolver interface {
	Resolve(ctx context.Context, ref models.SubjectRef) (string, error)
}

// Shipper forwards recorded entries to external sinks.
type Shipper interface {
	Ship(ctx context.Context, ev *audit.Event) error
}

// RecordInput describes an action to record.
type RecordInput struct {
	Actor       *models.UserSummary
	Action      string
	Description string
	Data        map[string]any
	Subjects    []models.SubjectRef
}

// Service implements record, the subject and actor queries, and subject resolution.
type Service struct {
	entries  EntryStore
	users    UserStore
	groups   GroupStore
	resolver SubjectResolver
	shipper  Shipper
}

// NewService creates a Service. shipper may be nil.
func NewService(entries EntryStore, users UserStore, groups GroupStore, resolver SubjectResolver, shipper Shipper) *Service {
	return &Service{
		entries:  entries,
		users:    users,
		groups:   groups,
		resolver: resolver,
		shipper:  shipper,
	}
}

// Record validates and persists an entry, then ships it in the background. Subjects keep the
// order given. A store failure is returned as a *PersistenceError and is not retried.
func (s *Service) Record(ctx context.Context, in RecordInput) (*models.LogEntry, error) {
	if in.Actor == nil || in.Actor.ID == "" {
		return nil, invalid("actor is required")
	}
	action := strings.TrimSpace(in.Action)
	if action == "" {
		return nil, invalid("action is required")
	}
	if n := utf8.RuneCountInString(action); n > models.MaxActionLen {
		return nil, invalid("action is %d characters, at most %d allowed", n, models.MaxActionLen)
	}
	if len(in.Subjects) > models.MaxSubjects {
		return nil, invalid("%d subjects given, at most %d allowed", len(in.Subjects), models.MaxSubjects)
	}

	refs := make([]models.SubjectRef, 0, len(in.Subjects))
	for i, ref := range in.Subjects {
		ref.TypeTag = strings.TrimSpace(ref.TypeTag)
		ref.RecordID = strings.TrimSpace(ref.RecordID)
		if ref.TypeTag == "" || ref.RecordID == "" {
			return nil, invalid("subject %d needs a type tag and a record id", i+1)
		}
		if utf8.RuneCountInString(ref.TypeTag) > models.MaxTypeTagLen {
			return nil, invalid("subject %d type tag exceeds %d characters", i+1, models.MaxTypeTagLen)
		}
		if utf8.RuneCountInString(ref.RecordID) > models.MaxRecordIDLen {
			return nil, invalid("subject %d record id exceeds %d characters", i+1, models.MaxRecordIDLen)
		}
		refs = append(refs, ref)
	}

	actorID := in.Actor.ID
	actor := *in.Actor
	entry := &models.LogEntry{
		ActorID:     &actorID,
		Actor:       &actor,
		Action:      action,
		Description: in.Description,
		Data:        in.Data,
		Subjects:    refs,
	}

	if err := s.entries.Create(ctx, entry); err != nil {
		if errors.Is(err, repositories.ErrUnknownActor) {
			return nil, invalid("actor %s does not exist", actorID)
		}
		return nil, persistence("record entry", err)
	}

	telemetry.EntriesRecordedTotal.WithLabelValues(entry.Action).Inc()
	slog.Debug("object log entry recorded", "entry_id", entry.ID, "action", entry.Action, "actor_id", actorID, "subjects", len(refs))

	s.ship(entry)
	return entry, nil
}

func (s *Service) ship(entry *models.LogEntry) {
	if s.shipper == nil {
		return
	}
	shipped := *entry
	safego.Go(safego.TaskShip, func() {
		ctx, cancel := context.WithTimeout(context.Background(), shipTimeout)
		defer cancel()
		// only the stored row carries the log_actions template
		if stored, err := s.entries.GetByID(ctx, shipped.ID); err == nil && stored != nil {
			shipped.ActionTemplate = stored.ActionTemplate
		}
		// failures are logged and counted by the shipper
		_ = s.shipper.Ship(ctx, audit.NewEvent(&shipped))
	})
}

// ListForObject returns entries that reference ref in any slot. It performs no access check.
func (s *Service) ListForObject(ctx context.Context, ref models.SubjectRef, opts ListOptions) (*Page, error) {
	if ref.TypeTag == "" || ref.RecordID == "" {
		return nil, ErrNotFound
	}
	return s.listBySubject(ctx, "object", ref, opts)
}

// ListForUser returns entries whose subject is the given user.
func (s *Service) ListForUser(ctx context.Context, userID string, opts ListOptions) (*Page, error) {
	if err := s.requireUser(ctx, userID); err != nil {
		return nil, err
	}
	ref := models.SubjectRef{TypeTag: models.SubjectTypeUser, RecordID: userID}
	return s.listBySubject(ctx, "user", ref, opts)
}

// ListForGroup returns entries whose subject is the given group.
func (s *Service) ListForGroup(ctx context.Context, groupID string, opts ListOptions) (*Page, error) {
	if !isUUID(groupID) {
		return nil, ErrNotFound
	}
	group, err := s.groups.GetGroupByID(ctx, groupID)
	if err != nil {
		return nil, persistence("get group", err)
	}
	if group == nil {
		return nil, ErrNotFound
	}
	ref := models.SubjectRef{TypeTag: models.SubjectTypeGroup, RecordID: groupID}
	return s.listBySubject(ctx, "group", ref, opts)
}

// ListUserActions returns entries authored by the given user.
func (s *Service) ListUserActions(ctx context.Context, userID string, opts ListOptions) (*Page, error) {
	if err := s.requireUser(ctx, userID); err != nil {
		return nil, err
	}
	opts = opts.normalize()
	entries, total, err := s.entries.ListByActor(ctx, userID, opts.filters(), opts.PerPage, opts.offset())
	if err != nil {
		return nil, persistence("list entries by actor", err)
	}
	telemetry.QueriesTotal.WithLabelValues("actor").Inc()
	return &Page{Entries: entries, Total: total, Page: opts.Page, PerPage: opts.PerPage}, nil
}

// Get returns a single entry.
func (s *Service) Get(ctx context.Context, id string) (*models.LogEntry, error) {
	if !isUUID(id) {
		return nil, ErrNotFound
	}
	entry, err := s.entries.GetByID(ctx, id)
	if err != nil {
		return nil, persistence("get entry", err)
	}
	if entry == nil {
		return nil, ErrNotFound
	}
	return entry, nil
}

// Resolve returns the locator of a subject. Unknown type tags and missing records are
// ErrNotFound; lookup failures are a *PersistenceError.
func (s *Service) Resolve(ctx context.Context, typeTag, recordID string) (string, error) {
	locator, err := s.resolver.Resolve(ctx, models.SubjectRef{TypeTag: typeTag, RecordID: recordID})
	switch {
	case err == nil:
		telemetry.SubjectResolutionsTotal.WithLabelValues(typeTag, "found").Inc()
		return locator, nil
	case errors.Is(err, subjects.ErrUnknownType):
		telemetry.SubjectResolutionsTotal.WithLabelValues("unknown", "not_found").Inc()
		return "", ErrNotFound
	case errors.Is(err, subjects.ErrRecordNotFound):
		telemetry.SubjectResolutionsTotal.WithLabelValues(typeTag, "not_found").Inc()
		return "", ErrNotFound
	default:
		telemetry.SubjectResolutionsTotal.WithLabelValues(typeTag, "error").Inc()
		return "", persistence("resolve subject", err)
	}
}

func (s *Service) listBySubject(ctx context.Context, dimension string, ref models.SubjectRef, opts ListOptions) (*Page, error) {
	opts = opts.normalize()
	entries, total, err := s.entries.ListBySubject(ctx, ref, opts.filters(), opts.PerPage, opts.offset())
	if err != nil {
		return nil, persistence("list entries by subject", err)
	}
	telemetry.QueriesTotal.WithLabelValues(dimension).Inc()
	return &Page{Entries: entries, Total: total, Page: opts.Page, PerPage: opts.PerPage}, nil
}

func (s *Service) requireUser(ctx context.Context, userID string) error {
	if !isUUID(userID) {
		return ErrNotFound
	}
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return persistence("get user", err)
	}
	if user == nil {
		return ErrNotFound
	}
	return nil
}

// isUUID filters ids that cannot exist in a uuid column before they reach the database.
func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
