package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	v1 "github.com/peanutgallery/catalog/internal/api/v1"
	"github.com/peanutgallery/catalog/internal/core/catalog"
	"github.com/peanutgallery/catalog/internal/core/storage"
)

// CatalogAdapter implements storage.CatalogStore for PostgreSQL.
type CatalogAdapter struct {
	db               *sql.DB
	stmtUpsertMovie  *sql.Stmt
	stmtGetMovie     *sql.Stmt
	stmtByScore      *sql.Stmt
	stmtByPopularity *sql.Stmt
	nowFn            func() time.Time
}

// NewCatalogAdapter prepares the catalog statements on a shared connection.
//
// IMPORTANT: Schema must be initialized separately via migrations.
func NewCatalogAdapter(db *sql.DB) (*CatalogAdapter, error) {
	if err := validateTable(db, "movies"); err != nil {
		return nil, fmt.Errorf("schema validation failed - did you run migrations?: %w", err)
	}

	stmtUpsert, err := db.Prepare(queryUpsertMovie)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare upsertMovie statement: %w", err)
	}

	stmtGet, err := db.Prepare(queryGetMovie)
	if err != nil {
		stmtUpsert.Close()
		return nil, fmt.Errorf("failed to prepare getMovie statement: %w", err)
	}

	stmtScore, err := db.Prepare(queryMoviesByScore)
	if err != nil {
		stmtUpsert.Close()
		stmtGet.Close()
		return nil, fmt.Errorf("failed to prepare moviesByScore statement: %w", err)
	}

	stmtPopularity, err := db.Prepare(queryMoviesByPopularity)
	if err != nil {
		stmtUpsert.Close()
		stmtGet.Close()
		stmtScore.Close()
		return nil, fmt.Errorf("failed to prepare moviesByPopularity statement: %w", err)
	}

	slog.Info("[Postgres] Catalog adapter initialized with prepared statements")

	return &CatalogAdapter{
		db:               db,
		stmtUpsertMovie:  stmtUpsert,
		stmtGetMovie:     stmtGet,
		stmtByScore:      stmtScore,
		stmtByPopularity: stmtPopularity,
		nowFn: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

// UpsertMovie recomputes the derived fields and writes the base record with
// both rank keys in a single statement.
func (a *CatalogAdapter) UpsertMovie(ctx context.Context, movie *v1.Movie) error {
	if err := catalog.Derive(movie); err != nil {
		return catalog.Persistence("upsert movie", err)
	}
	if err := movie.Validate(); err != nil {
		return catalog.Persistence("upsert movie", err)
	}

	genreJSON, err := marshalGenreIDs(movie.GenreIDs)
	if err != nil {
		return catalog.Persistence("upsert movie", err)
	}

	result, err := a.stmtUpsertMovie.ExecContext(ctx,
		movie.ID,
		movie.WeekBucket,
		movie.Score,
		movie.Popularity,
		movie.ScoreSortKey,
		movie.PopularitySortKey,
		movie.Title,
		movie.OriginalTitle,
		movie.Overview,
		movie.OriginalLanguage,
		movie.ReleaseDate,
		movie.VoteCount,
		movie.PosterPath,
		genreJSON,
		a.nowFn(),
	)
	if err != nil {
		return catalog.Persistence("upsert movie "+movie.ID, err)
	}

	// Zero rows affected means the stored row was already identical.
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		slog.Debug("[Postgres] Upsert was a no-op", "movie_id", movie.ID)
	}
	return nil
}

func (a *CatalogAdapter) GetMovie(ctx context.Context, id string) (*v1.Movie, error) {
	m, err := scanMovieRow(a.stmtGetMovie.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, catalog.Persistence("get movie "+id, err)
	}
	return m, nil
}

// QueryByIndex reads one page of a rank index in descending key order.
func (a *CatalogAdapter) QueryByIndex(ctx context.Context, weekBucket string, dim v1.Dimension, limit int, afterKey string) ([]*v1.Movie, error) {
	stmt := a.stmtByScore
	if dim == v1.DimensionPopularity {
		stmt = a.stmtByPopularity
	}

	rows, err := stmt.QueryContext(ctx, weekBucket, afterKey, limit)
	if err != nil {
		return nil, catalog.Persistence("query "+string(dim)+" index", err)
	}
	defer rows.Close()

	movies := make([]*v1.Movie, 0, limit)
	for rows.Next() {
		m, err := scanMovieRow(rows)
		if err != nil {
			return nil, catalog.Persistence("scan movie row", err)
		}
		movies = append(movies, m)
	}

	if err := rows.Err(); err != nil {
		return nil, catalog.Persistence("iterate movie rows", err)
	}

	return movies, nil
}

// Ping reports database reachability for health checks.
func (a *CatalogAdapter) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

// Close closes the prepared statements. The shared connection is closed by
// its owner.
func (a *CatalogAdapter) Close() error {
	var firstErr error

	for name, stmt := range map[string]*sql.Stmt{
		"upsertMovie":        a.stmtUpsertMovie,
		"getMovie":           a.stmtGetMovie,
		"moviesByScore":      a.stmtByScore,
		"moviesByPopularity": a.stmtByPopularity,
	} {
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close %s statement: %w", name, err)
		}
	}

	if firstErr != nil {
		return firstErr
	}

	slog.Info("[Postgres] Catalog adapter closed")
	return nil
}

var _ storage.CatalogStore = (*CatalogAdapter)(nil)
