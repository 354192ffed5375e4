package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/personal/banner-lifecycle/internal/domain/banner"
	"github.com/personal/banner-lifecycle/pkg/monitoring"
)

const bannersTable = "banners"

const bannerColumns = `banner_id, name, client_name, url, category, status, schedule_at,
	running_no, desktop_asset, mobile_asset, created_at, updated_at`

// Postgres error codes that make a unit of work safely retryable
var retryableCodes = map[pq.ErrorCode]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
	"23505": true, // unique_violation on (category, running_no)
}

// PostgresBannerRepository implements the banner.Repository interface using PostgreSQL
type PostgresBannerRepository struct {
	db      *sql.DB
	factory *banner.Factory
}

// NewPostgresBannerRepository creates a new PostgresBannerRepository
func NewPostgresBannerRepository(db *sql.DB) *PostgresBannerRepository {
	return &PostgresBannerRepository{db: db, factory: banner.NewFactory()}
}

// queryer is satisfied by both *sql.DB and *sql.Tx
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// bannerRow represents a banner row in the database
type bannerRow struct {
	BannerID     string
	Name         string
	ClientName   string
	URL          string
	Category     string
	Status       string
	ScheduleAt   sql.NullTime
	RunningNo    sql.NullInt64
	DesktopAsset string
	MobileAsset  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (r *bannerRow) scan(s rowScanner) error {
	return s.Scan(
		&r.BannerID,
		&r.Name,
		&r.ClientName,
		&r.URL,
		&r.Category,
		&r.Status,
		&r.ScheduleAt,
		&r.RunningNo,
		&r.DesktopAsset,
		&r.MobileAsset,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
}

// toEntity converts a database row to a banner entity
func (r *bannerRow) toEntity(f *banner.Factory) (*banner.Banner, error) {
	id, err := banner.ParseID(r.BannerID)
	if err != nil {
		return nil, fmt.Errorf("invalid banner id %q: %w", r.BannerID, err)
	}

	var scheduleAt *time.Time
	if r.ScheduleAt.Valid {
		at := r.ScheduleAt.Time
		scheduleAt = &at
	}
	var runningNo *int
	if r.RunningNo.Valid {
		n := int(r.RunningNo.Int64)
		runningNo = &n
	}

	return f.ReconstructBanner(
		id,
		r.Name,
		r.ClientName,
		r.URL,
		banner.Category(r.Category),
		banner.Status(r.Status),
		scheduleAt,
		runningNo,
		r.DesktopAsset,
		r.MobileAsset,
		r.CreatedAt,
		r.UpdatedAt,
	), nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

// classify maps driver errors onto the domain taxonomy
func classify(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && retryableCodes[pqErr.Code] {
		return fmt.Errorf("%w: %s: %v", banner.ErrTransactionFailed, op, err)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func observe(queryType string, start time.Time, err *error) {
	monitoring.RecordDatabaseQuery(queryType, bannersTable, time.Since(start), *err)
}

// FindByID finds a banner by its ID
func (r *PostgresBannerRepository) FindByID(ctx context.Context, id banner.ID) (b *banner.Banner, err error) {
	defer observe("select", time.Now(), &err)
	return findByID(ctx, r.db, r.factory, id, false)
}

func findByID(ctx context.Context, q queryer, f *banner.Factory, id banner.ID, forUpdate bool) (*banner.Banner, error) {
	query := `SELECT ` + bannerColumns + ` FROM banners WHERE banner_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var row bannerRow
	if err := row.scan(q.QueryRowContext(ctx, query, id.String())); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, banner.ErrBannerNotFound
		}
		return nil, classify("find banner by id", err)
	}

	return row.toEntity(f)
}

// List returns banners matching the filter, newest first
func (r *PostgresBannerRepository) List(ctx context.Context, filter banner.ListFilter) (out []*banner.Banner, err error) {
	defer observe("select", time.Now(), &err)

	var (
		conds []string
		args  []interface{}
	)
	if filter.Category != "" {
		args = append(args, string(filter.Category))
		conds = append(conds, fmt.Sprintf("category = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + bannerColumns + ` FROM banners`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC`

	return r.queryBanners(ctx, query, args...)
}

// FindPublished returns the published banners of a category ordered by running number
func (r *PostgresBannerRepository) FindPublished(ctx context.Context, category banner.Category) (out []*banner.Banner, err error) {
	defer observe("select", time.Now(), &err)

	query := `SELECT ` + bannerColumns + ` FROM banners
		WHERE category = $1 AND status = 'published'
		ORDER BY running_no ASC`

	return r.queryBanners(ctx, query, string(category))
}

func (r *PostgresBannerRepository) queryBanners(ctx context.Context, query string, args ...interface{}) ([]*banner.Banner, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("query banners", err)
	}
	defer rows.Close()

	var banners []*banner.Banner
	for rows.Next() {
		var row bannerRow
		if err := row.scan(rows); err != nil {
			return nil, fmt.Errorf("failed to scan banner row: %w", err)
		}

		b, err := row.toEntity(r.factory)
		if err != nil {
			return nil, fmt.Errorf("failed to convert row to entity: %w", err)
		}
		banners = append(banners, b)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate banners", err)
	}

	return banners, nil
}

// WithinTx runs fn inside a read-committed transaction. Ranking writers
// serialize per category through LockCategory, so each statement after the
// lock sees every rank committed before it.
func (r *PostgresBannerRepository) WithinTx(ctx context.Context, fn func(tx banner.Tx) error) (err error) {
	defer observe("transaction", time.Now(), &err)

	sqlTx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return classify("begin transaction", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&postgresTx{tx: sqlTx, factory: r.factory}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", banner.ErrTransactionFailed, err)
	}
	return nil
}

// postgresTx implements banner.Tx on top of *sql.Tx
type postgresTx struct {
	tx      *sql.Tx
	factory *banner.Factory
}

func (t *postgresTx) LockCategory(ctx context.Context, category banner.Category) error {
	_, err := t.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext('banner_rank:' || $1))`, string(category))
	if err != nil {
		return classify("lock category", err)
	}
	return nil
}

func (t *postgresTx) FindByIDForUpdate(ctx context.Context, id banner.ID) (*banner.Banner, error) {
	return findByID(ctx, t.tx, t.factory, id, true)
}

func (t *postgresTx) CountPublished(ctx context.Context, category banner.Category) (int, error) {
	var count int
	err := t.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM banners WHERE category = $1 AND status = 'published'`,
		string(category),
	).Scan(&count)
	if err != nil {
		return 0, classify("count published banners", err)
	}
	return count, nil
}

func (t *postgresTx) RunningNumbers(ctx context.Context, category banner.Category) ([]int, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT running_no FROM banners
		WHERE category = $1 AND running_no IS NOT NULL
		ORDER BY running_no ASC`,
		string(category),
	)
	if err != nil {
		return nil, classify("read running numbers", err)
	}
	defer rows.Close()

	var ranks []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to scan running number: %w", err)
		}
		ranks = append(ranks, n)
	}
	return ranks, rows.Err()
}

func (t *postgresTx) Insert(ctx context.Context, b *banner.Banner) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO banners (`+bannerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		b.ID().String(),
		b.Name(),
		b.ClientName(),
		b.URL(),
		string(b.Category()),
		string(b.Status()),
		nullTime(b.ScheduleAt()),
		nullInt(b.RunningNo()),
		b.DesktopAsset(),
		b.MobileAsset(),
		b.CreatedAt(),
		b.UpdatedAt(),
	)
	if err != nil {
		return classify("insert banner", err)
	}
	return nil
}

func (t *postgresTx) Update(ctx context.Context, b *banner.Banner) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE banners SET
			name = $2,
			client_name = $3,
			url = $4,
			status = $5,
			schedule_at = $6,
			running_no = $7,
			desktop_asset = $8,
			mobile_asset = $9,
			updated_at = $10
		WHERE banner_id = $1`,
		b.ID().String(),
		b.Name(),
		b.ClientName(),
		b.URL(),
		string(b.Status()),
		nullTime(b.ScheduleAt()),
		nullInt(b.RunningNo()),
		b.DesktopAsset(),
		b.MobileAsset(),
		b.UpdatedAt(),
	)
	if err != nil {
		return classify("update banner", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return banner.ErrBannerNotFound
	}
	return nil
}

func (t *postgresTx) Delete(ctx context.Context, id banner.ID) error {
	result, err := t.tx.ExecContext(ctx, `DELETE FROM banners WHERE banner_id = $1`, id.String())
	if err != nil {
		return classify("delete banner", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return banner.ErrBannerNotFound
	}
	return nil
}

// DecrementRanksAbove closes the gap left at rank with a single set-based update
func (t *postgresTx) DecrementRanksAbove(ctx context.Context, category banner.Category, rank int) (int64, error) {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE banners
		SET running_no = running_no - 1, updated_at = NOW()
		WHERE category = $1 AND status = 'published' AND running_no > $2`,
		string(category), rank,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: close ranking gap: %v", banner.ErrTransactionFailed, err)
	}

	shifted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return shifted, nil
}
