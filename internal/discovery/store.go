package discovery

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/prospector/internal/db"
	"github.com/sells-group/prospector/internal/model"
)

// Store defines persistence operations for the discovery subsystem.
type Store interface {
	ResolveDataset(ctx context.Context, userID, locationID, industry string) (string, error)
	FindBusinesses(ctx context.Context, locationID string, industries []string) ([]model.Business, error)
	LinkBusinesses(ctx context.Context, ids []string, datasetID, runID string) ([]string, error)
	UpsertBusinesses(ctx context.Context, businesses []model.Business) ([]string, error)
	BusinessesForRun(ctx context.Context, runID string) ([]model.Business, error)
}

// PostgresStore implements Store using pgx.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// ResolveDataset returns the dataset for (user, location, industry),
// creating it on first use. Concurrent callers converge on one row.
func (s *PostgresStore) ResolveDataset(ctx context.Context, userID, locationID, industry string) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO datasets (user_id, location_id, industry)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, location_id, industry) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING id`,
		userID, locationID, industry,
	).Scan(&id)
	if err != nil {
		return "", eris.Wrapf(err, "discovery: resolve dataset %s/%s", locationID, industry)
	}
	return id, nil
}

// BusinessColumns is the select list matching ScanBusiness.
const BusinessColumns = `id, external_id, source, name, COALESCE(address, ''), COALESCE(postal_code, ''),
	location_id, COALESCE(industry, ''), COALESCE(website, ''), COALESCE(domain, ''),
	COALESCE(phone, ''), COALESCE(email, ''), COALESCE(place_id, ''), latitude, longitude,
	COALESCE(dataset_id, ''), COALESCE(discovery_run_id, ''), created_at, updated_at`

// ScanBusiness scans one row selected with BusinessColumns.
func ScanBusiness(row pgx.Row) (*model.Business, error) {
	var b model.Business
	err := row.Scan(&b.ID, &b.ExternalID, &b.Source, &b.Name, &b.Address, &b.PostalCode,
		&b.LocationID, &b.Industry, &b.Website, &b.Domain,
		&b.Phone, &b.Email, &b.PlaceID, &b.Latitude, &b.Longitude,
		&b.DatasetID, &b.DiscoveryRunID, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *PostgresStore) queryBusinesses(ctx context.Context, op, query string, args ...any) ([]model.Business, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "discovery: %s", op)
	}
	defer rows.Close()

	var out []model.Business
	for rows.Next() {
		b, err := ScanBusiness(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "discovery: %s scan", op)
		}
		out = append(out, *b)
	}
	return out, eris.Wrapf(rows.Err(), "discovery: %s iterate", op)
}

// FindBusinesses returns stored businesses in the location, or in any
// location nested under it by code prefix, for the given industries.
func (s *PostgresStore) FindBusinesses(ctx context.Context, locationID string, industries []string) ([]model.Business, error) {
	return s.queryBusinesses(ctx, "find businesses", `
		SELECT `+BusinessColumns+`
		FROM businesses
		WHERE (location_id = $1 OR location_id LIKE $1 || '%')
			AND industry = ANY($2)
		ORDER BY created_at, id`,
		locationID, industries,
	)
}

// LinkBusinesses points existing businesses at the dataset and run. It
// returns the other runs the businesses were linked to before, which may
// now be closable.
func (s *PostgresStore) LinkBusinesses(ctx context.Context, ids []string, datasetID, runID string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		WITH prev AS (
			SELECT id, discovery_run_id FROM businesses
			WHERE id = ANY($1)
			FOR UPDATE
		)
		UPDATE businesses b SET dataset_id = $2, discovery_run_id = $3, updated_at = now()
		FROM prev
		WHERE b.id = prev.id
		RETURNING prev.discovery_run_id`,
		ids, datasetID, runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "discovery: link %d businesses", len(ids))
	}
	defer rows.Close()

	var prev []*string
	for rows.Next() {
		var id *string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "discovery: link scan")
		}
		prev = append(prev, id)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "discovery: link %d businesses", len(ids))
	}
	return displacedRuns(prev, runID), nil
}

// displacedRuns returns the distinct non-empty run ids other than current,
// in first-seen order.
func displacedRuns(prev []*string, current ...string) []string {
	skip := make(map[string]bool, len(current)+len(prev))
	for _, c := range current {
		skip[c] = true
	}
	var out []string
	for _, p := range prev {
		if p == nil || *p == "" || skip[*p] {
			continue
		}
		skip[*p] = true
		out = append(out, *p)
	}
	return out
}

var upsertColumns = []string{
	"external_id", "source", "name", "address", "postal_code", "location_id", "industry",
	"website", "domain", "phone", "email", "place_id", "latitude", "longitude",
	"dataset_id", "discovery_run_id",
}

// UpsertBusinesses inserts unseen businesses and merges known ones by
// external id: stored values are kept, nulls are filled, and the dataset and
// run links always move to the incoming values. A business without a
// location id aborts the whole batch with ErrMissingLocation. It returns the
// runs that lost businesses to the incoming links.
func (s *PostgresStore) UpsertBusinesses(ctx context.Context, businesses []model.Business) ([]string, error) {
	if len(businesses) == 0 {
		return nil, nil
	}

	rows := make([][]any, len(businesses))
	externalIDs := make([]string, len(businesses))
	var incoming []string
	for i, b := range businesses {
		if b.ExternalID == "" {
			return nil, eris.Errorf("discovery: business %q has no external id", b.Name)
		}
		if b.LocationID == "" {
			return nil, eris.Wrapf(ErrMissingLocation, "external id %s", b.ExternalID)
		}
		externalIDs[i] = b.ExternalID
		if b.DiscoveryRunID != "" {
			incoming = append(incoming, b.DiscoveryRunID)
		}
		rows[i] = []any{
			b.ExternalID, b.Source, b.Name, nullable(b.Address), nullable(b.PostalCode), b.LocationID,
			nullable(b.Industry), nullable(b.Website), nullable(b.Domain), nullable(b.Phone),
			nullable(b.Email), nullable(b.PlaceID), b.Latitude, b.Longitude,
			nullable(b.DatasetID), nullable(b.DiscoveryRunID),
		}
	}

	prev, err := s.linkedRuns(ctx, externalIDs)
	if err != nil {
		return nil, err
	}

	_, err = db.CopyMerge(ctx, s.pool, db.Merge{
		Table:   "businesses",
		Key:     "external_id",
		Columns: upsertColumns,
		Replace: []string{"dataset_id", "discovery_run_id"},
		Frozen:  []string{"source"},
		Touch:   "updated_at",
	}, rows)
	if err != nil {
		return nil, eris.Wrap(err, "discovery: upsert businesses")
	}
	return displacedRuns(prev, incoming...), nil
}

// linkedRuns returns the runs that stored businesses with the given external
// ids are linked to.
func (s *PostgresStore) linkedRuns(ctx context.Context, externalIDs []string) ([]*string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT discovery_run_id FROM businesses
		WHERE external_id = ANY($1) AND discovery_run_id IS NOT NULL`,
		externalIDs,
	)
	if err != nil {
		return nil, eris.Wrap(err, "discovery: linked runs")
	}
	defer rows.Close()

	var out []*string
	for rows.Next() {
		var id *string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "discovery: linked runs scan")
		}
		out = append(out, id)
	}
	return out, eris.Wrap(rows.Err(), "discovery: linked runs iterate")
}

// BusinessesForRun returns the businesses currently linked to the run.
func (s *PostgresStore) BusinessesForRun(ctx context.Context, runID string) ([]model.Business, error) {
	return s.queryBusinesses(ctx, "businesses for run", `
		SELECT `+BusinessColumns+`
		FROM businesses
		WHERE discovery_run_id = $1
		ORDER BY created_at, id`,
		runID,
	)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
