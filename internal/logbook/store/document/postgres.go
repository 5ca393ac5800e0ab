package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"logbook/internal/logbook/models"
	"logbook/internal/logbook/ports"
	"logbook/internal/logbook/query"
	platformpg "logbook/internal/platform/postgres"
	id "logbook/pkg/domain"
	"logbook/pkg/platform/sentinel"
)

var tables = map[models.Collection]string{
	models.CollectionOperation:                     "logbook_operation",
	models.CollectionLifecycleUnit:                 "logbook_lifecycle_unit",
	models.CollectionLifecycleUnitInProcess:        "logbook_lifecycle_unit_in_process",
	models.CollectionLifecycleObjectGroup:          "logbook_lifecycle_object_group",
	models.CollectionLifecycleObjectGroupInProcess: "logbook_lifecycle_object_group_in_process",
}

var selectColumns = []string{
	query.ColumnID,
	query.ColumnTenant,
	query.ColumnVersion,
	query.ColumnEvents,
	query.ColumnStage,
	query.ColumnProcess,
	query.ColumnLastPersistedAt,
}

// PostgresStore keeps each collection in its own JSONB table keyed by
// (tenant, id). The tenant clause is added to every statement here, ahead of
// any caller predicate.
type PostgresStore struct {
	pool *pgxpool.Pool
	tx   *platformpg.TxManager
	sb   sq.StatementBuilderType
	now  func() time.Time
}

// NewPostgres creates a store over pool.
func NewPostgres(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		pool: pool,
		tx:   platformpg.NewTxManager(pool),
		sb:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		now:  time.Now,
	}
}

// RunInTx runs fn inside one database transaction.
func (s *PostgresStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.tx.RunInTx(ctx, fn)
}

func tableFor(c models.Collection) (string, error) {
	t, ok := tables[c]
	if !ok {
		return "", fmt.Errorf("unknown collection %q", c)
	}
	return t, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (s *PostgresStore) insert(table string, tenant id.TenantID, doc models.Document, now time.Time) (string, []any, error) {
	events, err := json.Marshal(doc.Events)
	if err != nil {
		return "", nil, fmt.Errorf("encode events: %w", err)
	}
	return s.sb.Insert(table).
		Columns(query.ColumnTenant, query.ColumnID, query.ColumnVersion, query.ColumnEvents,
			query.ColumnStage, query.ColumnProcess, query.ColumnLastPersistedAt).
		Values(int(tenant), doc.ID, doc.Version, sq.Expr("?::jsonb", string(events)),
			nullable(string(doc.Stage)), nullable(doc.ProcessID), now).
		ToSql()
}

func (s *PostgresStore) Create(ctx context.Context, c models.Collection, tenant id.TenantID, doc models.Document) error {
	table, err := tableFor(c)
	if err != nil {
		return err
	}
	sqlStr, args, err := s.insert(table, tenant, doc, s.now().UTC())
	if err != nil {
		return err
	}
	if _, err := platformpg.QuerierFromCtx(ctx, s.pool).Exec(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("create %s %s: %w", c, doc.ID, platformpg.MapError(err))
	}
	return nil
}

// CreateMany sends every insert in one batch round trip inside a transaction.
func (s *PostgresStore) CreateMany(ctx context.Context, c models.Collection, tenant id.TenantID, docs []models.Document) error {
	table, err := tableFor(c)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}
	now := s.now().UTC()
	batch := &pgx.Batch{}
	for _, doc := range docs {
		sqlStr, args, err := s.insert(table, tenant, doc, now)
		if err != nil {
			return err
		}
		batch.Queue(sqlStr, args...)
	}

	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		results := platformpg.QuerierFromCtx(ctx, s.pool).SendBatch(ctx, batch)
		for _, doc := range docs {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return fmt.Errorf("create %s %s: %w", c, doc.ID, platformpg.MapError(err))
			}
		}
		return platformpg.MapError(results.Close())
	})
}

func (s *PostgresStore) FindByID(ctx context.Context, c models.Collection, tenant id.TenantID, docID string) (models.Document, bool, error) {
	table, err := tableFor(c)
	if err != nil {
		return models.Document{}, false, err
	}
	sqlStr, args, err := s.sb.Select(selectColumns...).From(table).
		Where(sq.Eq{query.ColumnTenant: int(tenant), query.ColumnID: docID}).
		ToSql()
	if err != nil {
		return models.Document{}, false, err
	}
	doc, err := scanDocument(platformpg.QuerierFromCtx(ctx, s.pool).QueryRow(ctx, sqlStr, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Document{}, false, nil
	}
	if err != nil {
		return models.Document{}, false, fmt.Errorf("find %s %s: %w", c, docID, platformpg.MapError(err))
	}
	return doc, true, nil
}

func (s *PostgresStore) UpdateByID(ctx context.Context, c models.Collection, tenant id.TenantID, docID string, m models.Mutation) (int, error) {
	table, err := tableFor(c)
	if err != nil {
		return 0, err
	}
	push, err := json.Marshal(m.Push)
	if err != nil {
		return 0, fmt.Errorf("encode events: %w", err)
	}
	if m.Push == nil {
		push = []byte("[]")
	}

	where := sq.Eq{query.ColumnTenant: int(tenant), query.ColumnID: docID}
	if m.ExpectedVersion != nil {
		where[query.ColumnVersion] = *m.ExpectedVersion
	}
	sqlStr, args, err := s.sb.Update(table).
		Set(query.ColumnEvents, sq.Expr(query.ColumnEvents+" || ?::jsonb", string(push))).
		Set(query.ColumnVersion, sq.Expr(query.ColumnVersion+" + 1")).
		Set(query.ColumnLastPersistedAt, s.now().UTC()).
		Where(where).
		Suffix("RETURNING " + query.ColumnVersion).
		ToSql()
	if err != nil {
		return 0, err
	}

	var version int
	err = platformpg.QuerierFromCtx(ctx, s.pool).QueryRow(ctx, sqlStr, args...).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		if m.ExpectedVersion != nil {
			if ok, existsErr := s.Exists(ctx, c, tenant, docID); existsErr == nil && ok {
				return 0, fmt.Errorf("%s %s: expected version %d: %w", c, docID, *m.ExpectedVersion, sentinel.ErrConflict)
			}
		}
		return 0, fmt.Errorf("%s %s: %w", c, docID, sentinel.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("update %s %s: %w", c, docID, platformpg.MapError(err))
	}
	return version, nil
}

func (s *PostgresStore) Delete(ctx context.Context, c models.Collection, tenant id.TenantID, docID string) error {
	table, err := tableFor(c)
	if err != nil {
		return err
	}
	sqlStr, args, err := s.sb.Delete(table).
		Where(sq.Eq{query.ColumnTenant: int(tenant), query.ColumnID: docID}).
		ToSql()
	if err != nil {
		return err
	}
	tag, err := platformpg.QuerierFromCtx(ctx, s.pool).Exec(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", c, docID, platformpg.MapError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %s: %w", c, docID, sentinel.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) Exists(ctx context.Context, c models.Collection, tenant id.TenantID, docID string) (bool, error) {
	table, err := tableFor(c)
	if err != nil {
		return false, err
	}
	sub := s.sb.Select("1").From(table).Where(sq.Eq{query.ColumnTenant: int(tenant), query.ColumnID: docID})
	sqlStr, args, err := s.sb.Select().Column(sq.Expr("EXISTS (?)", sub)).ToSql()
	if err != nil {
		return false, err
	}
	var exists bool
	if err := platformpg.QuerierFromCtx(ctx, s.pool).QueryRow(ctx, sqlStr, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("exists %s %s: %w", c, docID, platformpg.MapError(err))
	}
	return exists, nil
}

// Find compiles q into one SELECT. Projection is applied while iterating.
func (s *PostgresStore) Find(ctx context.Context, c models.Collection, tenant id.TenantID, q *query.Query) (ports.Cursor, error) {
	table, err := tableFor(c)
	if err != nil {
		return nil, err
	}
	if q == nil {
		q = query.All()
	}
	pred, err := query.CompileSQL(q.Where)
	if err != nil {
		return nil, err
	}
	orderBy, err := query.CompileOrderBy(q.OrderBy)
	if err != nil {
		return nil, err
	}
	builder := s.sb.Select(selectColumns...).From(table).
		Where(sq.Eq{query.ColumnTenant: int(tenant)}).
		Where(pred).
		OrderBy(orderBy...)
	if q.Limit > 0 {
		builder = builder.Limit(uint64(q.Limit))
	}
	sqlStr, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := platformpg.QuerierFromCtx(ctx, s.pool).Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", c, platformpg.MapError(err))
	}
	return &rowsCursor{rows: rows, projection: q.Projection}, nil
}

type rowsCursor struct {
	rows       pgx.Rows
	projection query.Projection
	cur        models.Document
	err        error
}

func (c *rowsCursor) Next(ctx context.Context) bool {
	if c.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		c.err = err
		return false
	}
	if !c.rows.Next() {
		return false
	}
	doc, err := scanDocument(c.rows)
	if err == nil {
		doc, err = c.projection.Apply(doc)
	}
	if err != nil {
		c.err = err
		return false
	}
	c.cur = doc
	return true
}

func (c *rowsCursor) Document() models.Document { return c.cur }

func (c *rowsCursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return platformpg.MapError(c.rows.Err())
}

func (c *rowsCursor) Close() error {
	c.rows.Close()
	return nil
}

func scanDocument(row pgx.Row) (models.Document, error) {
	var (
		doc            models.Document
		tenant         int
		events         []byte
		stage, process *string
	)
	if err := row.Scan(&doc.ID, &tenant, &doc.Version, &events, &stage, &process, &doc.LastPersistedDate); err != nil {
		return models.Document{}, err
	}
	doc.Tenant = id.TenantID(tenant)
	if err := json.Unmarshal(events, &doc.Events); err != nil {
		return models.Document{}, fmt.Errorf("decode events of %s: %w", doc.ID, err)
	}
	if stage != nil {
		doc.Stage = models.Stage(*stage)
	}
	if process != nil {
		doc.ProcessID = *process
	}
	doc.LastPersistedDate = doc.LastPersistedDate.UTC()
	return doc, nil
}
