package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospector/internal/model"
)

var businessCols = []string{
	"id", "external_id", "source", "name", "address", "postal_code",
	"location_id", "industry", "website", "domain",
	"phone", "email", "place_id", "latitude", "longitude",
	"dataset_id", "discovery_run_id", "created_at", "updated_at",
}

func businessRow(rows *pgxmock.Rows, id, externalID string) *pgxmock.Rows {
	lat, lng := 35.68, 139.76
	now := time.Now()
	return rows.AddRow(id, externalID, "registry", "Acme", "Tokyo", "100-0001",
		"13101", "dental", "https://acme.jp", "acme.jp",
		"+81312345678", "", "", &lat, &lng,
		"ds-1", "run-1", now, now)
}

func TestPostgresStore_ResolveDataset(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStore(mock)

	mock.ExpectQuery(`INSERT INTO datasets .* ON CONFLICT \(user_id, location_id, industry\) DO UPDATE .* RETURNING id`).
		WithArgs("user-1", "13101", "dental").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("ds-1"))

	id, err := store.ResolveDataset(context.Background(), "user-1", "13101", "dental")
	require.NoError(t, err)
	assert.Equal(t, "ds-1", id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindBusinesses(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStore(mock)

	mock.ExpectQuery(`SELECT .* FROM businesses WHERE \(location_id = \$1 OR location_id LIKE \$1 \|\| '%'\) AND industry = ANY\(\$2\)`).
		WithArgs("13", []string{"dental"}).
		WillReturnRows(businessRow(businessRow(pgxmock.NewRows(businessCols), "b1", "reg:1"), "b2", "reg:2"))

	got, err := store.FindBusinesses(context.Background(), "13", []string{"dental"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "reg:2", got[1].ExternalID)
	require.NotNil(t, got[0].Latitude)
	assert.InDelta(t, 35.68, *got[0].Latitude, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LinkBusinesses(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStore(mock)

	runA, runB := "run-a", "run-2"
	mock.ExpectQuery(`WITH prev AS \(.*FOR UPDATE.*UPDATE businesses b SET dataset_id = \$2, discovery_run_id = \$3.*RETURNING prev.discovery_run_id`).
		WithArgs([]string{"b1", "b2", "b3", "b4"}, "ds-1", "run-2").
		WillReturnRows(pgxmock.NewRows([]string{"discovery_run_id"}).
			AddRow(&runA).AddRow(&runB).AddRow((*string)(nil)).AddRow(&runA))

	displaced, err := store.LinkBusinesses(context.Background(), []string{"b1", "b2", "b3", "b4"}, "ds-1", "run-2")
	require.NoError(t, err)
	assert.Equal(t, []string{"run-a"}, displaced)
	assert.NoError(t, mock.ExpectationsWereMet())

	displaced, err = store.LinkBusinesses(context.Background(), nil, "ds-1", "run-2")
	require.NoError(t, err)
	assert.Empty(t, displaced)
}

func TestPostgresStore_UpsertBusinesses(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStore(mock)

	runOld, runNew := "run-0", "run-1"
	mock.ExpectQuery(`SELECT DISTINCT discovery_run_id FROM businesses WHERE external_id = ANY\(\$1\)`).
		WithArgs([]string{"reg:1", "reg:2"}).
		WillReturnRows(pgxmock.NewRows([]string{"discovery_run_id"}).AddRow(&runOld).AddRow(&runNew))
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_stage_businesses"}, upsertColumns).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "businesses" AS t .* ON CONFLICT \("external_id"\) DO UPDATE SET "name" = COALESCE\(t."name", EXCLUDED."name"\), .* "dataset_id" = EXCLUDED."dataset_id", "discovery_run_id" = EXCLUDED."discovery_run_id", "updated_at" = now\(\)`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	displaced, err := store.UpsertBusinesses(context.Background(), []model.Business{
		{ExternalID: "reg:1", Source: "registry", Name: "Acme", LocationID: "13101", DatasetID: "ds-1", DiscoveryRunID: "run-1"},
		{ExternalID: "reg:2", Source: "registry", Name: "Beta", LocationID: "13101", DatasetID: "ds-1", DiscoveryRunID: "run-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"run-0"}, displaced)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertBusinesses_MissingLocation(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStore(mock)

	_, err = store.UpsertBusinesses(context.Background(), []model.Business{
		{ExternalID: "reg:1", Name: "Ok", LocationID: "13101"},
		{ExternalID: "reg:2", Name: "Broken"},
	})
	assert.ErrorIs(t, err, ErrMissingLocation)
	// Nothing reaches the database.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertBusinesses_MissingExternalID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewPostgresStore(mock).UpsertBusinesses(context.Background(), []model.Business{{Name: "X", LocationID: "1"}})
	assert.Error(t, err)
}

func TestPostgresStore_BusinessesForRun(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStore(mock)

	mock.ExpectQuery(`SELECT .* FROM businesses WHERE discovery_run_id = \$1`).
		WithArgs("run-1").
		WillReturnRows(businessRow(pgxmock.NewRows(businessCols), "b1", "reg:1"))

	got, err := store.BusinessesForRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b1", got[0].ID)
	assert.Equal(t, "acme.jp", got[0].Domain)
	assert.Equal(t, "run-1", got[0].DiscoveryRunID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
