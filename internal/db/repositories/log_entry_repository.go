// log_entry_repository.go implements LogEntryRepository, the append-only store behind the
// object log. Entries reference their subjects through the log_entry_subjects child table so
// a single indexed EXISTS answers "which entries mention this record" regardless of slot.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/object-log/object-log/internal/db/models"
)

// psql builds PostgreSQL statements with $n placeholders.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var logEntryColumns = []string{
	"e.id",
	"e.actor_id",
	"e.action",
	"e.description",
	"e.data",
	"e.created_at",
	"u.username AS actor_username",
	"u.email AS actor_email",
	"a.template AS action_template",
}

// ErrUnknownActor is returned by Create when the actor does not reference an existing user.
var ErrUnknownActor = errors.New("actor does not exist")

// foreignKeyViolation is the PostgreSQL SQLSTATE for foreign_key_violation.
const foreignKeyViolation = "23503"

// LogEntryFilters narrows list queries. Nil fields are ignored.
type LogEntryFilters struct {
	Action *string
	Since  *time.Time
	Until  *time.Time
}

// LogEntryRepository handles log entry database operations
type LogEntryRepository struct {
	db *sqlx.DB
}

// NewLogEntryRepository creates a new LogEntryRepository
func NewLogEntryRepository(db *sqlx.DB) *LogEntryRepository {
	return &LogEntryRepository{db: db}
}

type logEntryRow struct {
	ID             string         `db:"id"`
	ActorID        sql.NullString `db:"actor_id"`
	Action         string         `db:"action"`
	Description    string         `db:"description"`
	Data           []byte         `db:"data"`
	CreatedAt      time.Time      `db:"created_at"`
	ActorUsername  sql.NullString `db:"actor_username"`
	ActorEmail     sql.NullString `db:"actor_email"`
	ActionTemplate sql.NullString `db:"action_template"`
}

func (row *logEntryRow) toModel() (*models.LogEntry, error) {
	entry := &models.LogEntry{
		ID:          row.ID,
		Action:      row.Action,
		Description: row.Description,
		CreatedAt:   row.CreatedAt,
		Subjects:    []models.SubjectRef{},
	}
	if row.ActorID.Valid {
		actorID := row.ActorID.String
		entry.ActorID = &actorID
		if row.ActorUsername.Valid {
			entry.Actor = &models.UserSummary{
				ID:       actorID,
				Username: row.ActorUsername.String,
				Email:    row.ActorEmail.String,
			}
		}
	}
	if row.ActionTemplate.Valid {
		tmpl := row.ActionTemplate.String
		entry.ActionTemplate = &tmpl
	}
	if len(row.Data) > 0 {
		if err := json.Unmarshal(row.Data, &entry.Data); err != nil {
			return nil, fmt.Errorf("failed to decode data for entry %s: %w", row.ID, err)
		}
	}
	return entry, nil
}

// Create inserts the entry and its subject rows in one transaction. ID, CreatedAt and
// subject slots are assigned here.
func (r *LogEntryRepository) Create(ctx context.Context, entry *models.LogEntry) error {
	if len(entry.Subjects) > models.MaxSubjects {
		return fmt.Errorf("entry has %d subjects, at most %d allowed", len(entry.Subjects), models.MaxSubjects)
	}

	entry.ID = uuid.New().String()
	entry.CreatedAt = time.Now().UTC()
	for i := range entry.Subjects {
		entry.Subjects[i].Slot = i + 1
	}

	var dataJSON []byte
	if entry.Data != nil {
		var err error
		dataJSON, err = json.Marshal(entry.Data)
		if err != nil {
			return fmt.Errorf("failed to encode entry data: %w", err)
		}
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO log_entries (id, action, actor_id, description, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.ID, entry.Action, entry.ActorID, entry.Description, dataJSON, entry.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation {
			return ErrUnknownActor
		}
		return fmt.Errorf("failed to insert log entry: %w", err)
	}

	if len(entry.Subjects) > 0 {
		insert := psql.Insert("log_entry_subjects").Columns("log_entry_id", "slot", "type_tag", "record_id")
		for _, s := range entry.Subjects {
			insert = insert.Values(entry.ID, s.Slot, s.TypeTag, s.RecordID)
		}
		query, args, err := insert.ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to insert log entry subjects: %w", err)
		}
	}

	return tx.Commit()
}

// ListBySubject returns entries that reference ref in any slot, newest first. An entry that
// names the same record in several slots is returned once.
func (r *LogEntryRepository) ListBySubject(ctx context.Context, ref models.SubjectRef, filters LogEntryFilters, limit, offset int) ([]*models.LogEntry, int, error) {
	where := sq.Expr(
		"EXISTS (SELECT 1 FROM log_entry_subjects s WHERE s.log_entry_id = e.id AND s.type_tag = ? AND s.record_id = ?)",
		ref.TypeTag, ref.RecordID,
	)
	return r.list(ctx, where, filters, limit, offset)
}

// ListByActor returns entries authored by actorID, newest first.
func (r *LogEntryRepository) ListByActor(ctx context.Context, actorID string, filters LogEntryFilters, limit, offset int) ([]*models.LogEntry, int, error) {
	return r.list(ctx, sq.Eq{"e.actor_id": actorID}, filters, limit, offset)
}

func (r *LogEntryRepository) list(ctx context.Context, where sq.Sqlizer, filters LogEntryFilters, limit, offset int) ([]*models.LogEntry, int, error) {
	conds := sq.And{where}
	if filters.Action != nil {
		conds = append(conds, sq.Eq{"e.action": *filters.Action})
	}
	if filters.Since != nil {
		conds = append(conds, sq.GtOrEq{"e.created_at": *filters.Since})
	}
	if filters.Until != nil {
		conds = append(conds, sq.Lt{"e.created_at": *filters.Until})
	}

	countQuery, countArgs, err := psql.Select("COUNT(*)").From("log_entries e").Where(conds).ToSql()
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := r.db.QueryRowxContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	sel := r.selectEntries().
		Where(conds).
		OrderBy("e.created_at DESC", "e.id DESC")
	if limit > 0 {
		sel = sel.Limit(uint64(limit))
	}
	if offset > 0 {
		sel = sel.Offset(uint64(offset))
	}

	query, args, err := sel.ToSql()
	if err != nil {
		return nil, 0, err
	}

	var rows []logEntryRow
	if err := sqlx.SelectContext(ctx, r.db, &rows, query, args...); err != nil {
		return nil, 0, err
	}

	entries := make([]*models.LogEntry, 0, len(rows))
	for i := range rows {
		entry, err := rows[i].toModel()
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, entry)
	}

	if err := r.loadSubjects(ctx, entries); err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// GetByID retrieves a single entry, or nil when it does not exist.
func (r *LogEntryRepository) GetByID(ctx context.Context, id string) (*models.LogEntry, error) {
	query, args, err := r.selectEntries().Where(sq.Eq{"e.id": id}).ToSql()
	if err != nil {
		return nil, err
	}

	var row logEntryRow
	err = sqlx.GetContext(ctx, r.db, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	entry, err := row.toModel()
	if err != nil {
		return nil, err
	}
	if err := r.loadSubjects(ctx, []*models.LogEntry{entry}); err != nil {
		return nil, err
	}
	return entry, nil
}

// ListOlderThan returns entries created before cutoff, oldest first.
func (r *LogEntryRepository) ListOlderThan(ctx context.Context, cutoff time.Time, limit, offset int) ([]*models.LogEntry, error) {
	sel := r.selectEntries().
		Where(sq.Lt{"e.created_at": cutoff}).
		OrderBy("e.created_at ASC", "e.id ASC").
		Limit(uint64(limit))
	if offset > 0 {
		sel = sel.Offset(uint64(offset))
	}
	query, args, err := sel.ToSql()
	if err != nil {
		return nil, err
	}

	var rows []logEntryRow
	if err := sqlx.SelectContext(ctx, r.db, &rows, query, args...); err != nil {
		return nil, err
	}
	entries := make([]*models.LogEntry, 0, len(rows))
	for i := range rows {
		entry, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := r.loadSubjects(ctx, entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// DeleteOlderThan removes entries created before cutoff and returns how many were removed.
// Subject rows go with them through ON DELETE CASCADE.
func (r *LogEntryRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM log_entries WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *LogEntryRepository) selectEntries() sq.SelectBuilder {
	return psql.Select(logEntryColumns...).
		From("log_entries e").
		LeftJoin("users u ON u.id = e.actor_id").
		LeftJoin("log_actions a ON a.name = e.action")
}

// loadSubjects fills Subjects for all entries with one query.
func (r *LogEntryRepository) loadSubjects(ctx context.Context, entries []*models.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	byID := make(map[string]*models.LogEntry, len(entries))
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		byID[e.ID] = e
		ids = append(ids, e.ID)
	}

	rows, err := r.db.QueryxContext(ctx, `
		SELECT log_entry_id, slot, type_tag, record_id
		FROM log_entry_subjects
		WHERE log_entry_id = ANY($1)
		ORDER BY log_entry_id, slot
	`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to load subjects: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var entryID string
		var ref models.SubjectRef
		if err := rows.Scan(&entryID, &ref.Slot, &ref.TypeTag, &ref.RecordID); err != nil {
			return err
		}
		if e, ok := byID[entryID]; ok {
			e.Subjects = append(e.Subjects, ref)
		}
	}
	return rows.Err()
}
