package extract

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/prospector/internal/db"
	"github.com/sells-group/prospector/internal/discovery"
	"github.com/sells-group/prospector/internal/model"
)

// ErrBusinessNotFound is returned when the job's business row is gone.
var ErrBusinessNotFound = eris.New("extract: business not found")

// Patch carries values for empty business fields, from crawled contacts or
// the place fallback.
type Patch struct {
	Website string
	Domain  string
	Phone   string
	Email   string
	PlaceID string
}

// Empty reports whether the patch would change nothing.
func (p Patch) Empty() bool {
	return p.Website == "" && p.Phone == "" && p.Email == "" && p.PlaceID == ""
}

// Store persists contacts and reads the business being extracted.
type Store interface {
	GetBusiness(ctx context.Context, id string) (*model.Business, error)
	ContactTypes(ctx context.Context, businessID string) (hasEmail, hasPhone bool, err error)
	SaveFindings(ctx context.Context, businessID string, findings []Finding) (int, error)
	SaveSocialLinks(ctx context.Context, businessID string, links []Social) (int, error)
	FillBusiness(ctx context.Context, businessID string, patch Patch) error
}

// PostgresStore implements Store.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// GetBusiness loads one business.
func (s *PostgresStore) GetBusiness(ctx context.Context, id string) (*model.Business, error) {
	b, err := discovery.ScanBusiness(s.pool.QueryRow(ctx,
		`SELECT `+discovery.BusinessColumns+` FROM businesses WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrBusinessNotFound, "extract: business %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "extract: get business %s", id)
	}
	return b, nil
}

// ContactTypes reports which contact types are already linked to the business.
func (s *PostgresStore) ContactTypes(ctx context.Context, businessID string) (bool, bool, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT c.type FROM contact_sources cs
		JOIN contacts c ON c.id = cs.contact_id
		WHERE cs.business_id = $1`, businessID)
	if err != nil {
		return false, false, eris.Wrapf(err, "extract: contact types %s", businessID)
	}
	defer rows.Close()

	var hasEmail, hasPhone bool
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return false, false, eris.Wrap(err, "extract: scan contact type")
		}
		switch model.ContactType(t) {
		case model.ContactEmail:
			hasEmail = true
		case model.ContactPhone:
			hasPhone = true
		}
	}
	return hasEmail, hasPhone, eris.Wrap(rows.Err(), "extract: contact types iterate")
}

// SaveFindings upserts each contact by (type, value) and links it to the
// business. An existing link keeps its original source. It returns the
// number of new links.
func (s *PostgresStore) SaveFindings(ctx context.Context, businessID string, findings []Finding) (int, error) {
	if len(findings) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "extract: begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	linked := 0
	for _, f := range findings {
		var contactID string
		err := tx.QueryRow(ctx, `
			INSERT INTO contacts (type, value, is_generic) VALUES ($1, $2, $3)
			ON CONFLICT (type, value) DO UPDATE SET is_generic = contacts.is_generic OR EXCLUDED.is_generic
			RETURNING id`,
			string(f.Type), f.Value, f.IsGeneric,
		).Scan(&contactID)
		if err != nil {
			return 0, eris.Wrapf(err, "extract: upsert contact %s", f.Value)
		}

		tag, err := tx.Exec(ctx, `
			INSERT INTO contact_sources (contact_id, business_id, source_url, page_type, content_hash)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (contact_id, business_id) DO NOTHING`,
			contactID, businessID, f.SourceURL, string(f.PageType), f.ContentHash,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "extract: link contact %s", f.Value)
		}
		linked += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "extract: commit contacts")
	}
	return linked, nil
}

// SaveSocialLinks inserts canonical profile links, ignoring ones already
// stored.
func (s *PostgresStore) SaveSocialLinks(ctx context.Context, businessID string, links []Social) (int, error) {
	if len(links) == 0 {
		return 0, nil
	}
	platforms := make([]string, len(links))
	urls := make([]string, len(links))
	for i, l := range links {
		platforms[i] = l.Platform
		urls[i] = l.URL
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO social_links (business_id, platform, url)
		SELECT $1, p, u FROM unnest($2::text[], $3::text[]) AS t(p, u)
		ON CONFLICT DO NOTHING`,
		businessID, platforms, urls,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "extract: save social links %s", businessID)
	}
	return int(tag.RowsAffected()), nil
}

// FillBusiness writes patch values into fields that are still empty.
// Values already on the row are never overwritten.
func (s *PostgresStore) FillBusiness(ctx context.Context, businessID string, p Patch) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE businesses SET
			website = COALESCE(NULLIF(website, ''), $2),
			domain = COALESCE(NULLIF(domain, ''), $3),
			phone = COALESCE(NULLIF(phone, ''), $4),
			place_id = COALESCE(NULLIF(place_id, ''), $5),
			email = COALESCE(NULLIF(email, ''), $6),
			updated_at = now()
		WHERE id = $1`,
		businessID, nullable(p.Website), nullable(p.Domain), nullable(p.Phone), nullable(p.PlaceID), nullable(p.Email),
	)
	return eris.Wrapf(err, "extract: fill business %s", businessID)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
