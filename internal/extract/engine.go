package extract

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/discovery"
	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/monitoring"
	"github.com/sells-group/prospector/internal/resilience"
	"github.com/sells-group/prospector/internal/store"
	"github.com/sells-group/prospector/pkg/google"
)

// Jobs is the slice of the job store extraction needs.
type Jobs interface {
	LatestCrawlPages(ctx context.Context, businessID string) ([]model.CrawlPage, error)
	EnqueueCrawlJob(ctx context.Context, businessID, websiteURL string, pagesLimit int) (bool, error)
	FinishExtractionJob(ctx context.Context, id string, status model.ExtractionStatus, errMsg string) error
	CloseRunIfDone(ctx context.Context, runID string) (bool, model.RunStatus, error)
}

// Config tunes the engine.
type Config struct {
	PagesLimit   int
	LanguageCode string
	Blocklist    []string
}

// Outcome describes what one extraction did.
type Outcome struct {
	Skipped       bool
	Pages         int
	Contacts      int
	SocialLinks   int
	FallbackUsed  bool
	FallbackErr   error
	Patch         Patch
	// Filled holds crawled contacts copied onto empty business fields.
	Filled        Patch
	CrawlEnqueued bool
}

// Engine runs extraction jobs.
type Engine struct {
	store   Store
	jobs    Jobs
	places  google.Client
	breaker *resilience.Breaker
	cfg     Config
}

// NewEngine creates an Engine. A nil places client disables the fallback;
// a nil breaker gets the default configuration.
func NewEngine(st Store, jobs Jobs, places google.Client, breaker *resilience.Breaker, cfg Config) *Engine {
	if breaker == nil {
		breaker = resilience.NewBreaker(resilience.BreakerConfig{Name: "places"})
	}
	if cfg.PagesLimit <= 0 {
		cfg.PagesLimit = model.DefaultPagesLimit
	}
	if cfg.LanguageCode == "" {
		cfg.LanguageCode = "ja"
	}
	if cfg.Blocklist == nil {
		cfg.Blocklist = discovery.DefaultDirectoryBlocklist
	}
	return &Engine{store: st, jobs: jobs, places: places, breaker: breaker, cfg: cfg}
}

const finishTimeout = 10 * time.Second

// Run extracts contacts for a claimed job, writes its terminal status and
// closes the business's discovery run if nothing else is outstanding. A
// business with no contacts still succeeds.
func (e *Engine) Run(ctx context.Context, job model.ExtractionJob) (*Outcome, error) {
	log := zap.L().With(
		zap.String("component", "extract"),
		zap.String("job_id", job.ID),
		zap.String("business_id", job.BusinessID),
	)

	biz, out, runErr := e.extract(ctx, job.BusinessID, log)

	status, errMsg := model.ExtractionStatusSuccess, ""
	if runErr != nil {
		status, errMsg = model.ExtractionStatusFailed, runErr.Error()
	}

	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	err := e.jobs.FinishExtractionJob(finishCtx, job.ID, status, errMsg)
	switch {
	case errors.Is(err, store.ErrNotClaimed):
		// A new crawl re-queued the job while it ran; the queued run wins.
		log.Info("extraction job was reset while running")
		err = nil
	case err != nil:
		return out, eris.Wrapf(err, "extract: finish job %s", job.ID)
	default:
		monitoring.JobsFinished.WithLabelValues(monitoring.KindExtraction, string(status)).Inc()
	}

	log.Info("extraction job finished",
		zap.String("status", string(status)),
		zap.Int("contacts", out.Contacts),
		zap.Bool("skipped", out.Skipped),
		zap.Bool("fallback", out.FallbackUsed),
		zap.String("error", errMsg),
	)

	if biz != nil && biz.DiscoveryRunID != "" {
		if _, _, err := e.jobs.CloseRunIfDone(finishCtx, biz.DiscoveryRunID); err != nil {
			return out, eris.Wrapf(err, "extract: close run %s", biz.DiscoveryRunID)
		}
	}
	return out, nil
}

func (e *Engine) extract(ctx context.Context, businessID string, log *zap.Logger) (*model.Business, *Outcome, error) {
	out := &Outcome{}

	biz, err := e.store.GetBusiness(ctx, businessID)
	if err != nil {
		return nil, out, err
	}

	hasEmail, hasPhone, err := e.store.ContactTypes(ctx, biz.ID)
	if err != nil {
		return biz, out, err
	}
	if hasEmail && hasPhone {
		out.Skipped = true
		return biz, out, nil
	}

	pages, err := e.jobs.LatestCrawlPages(ctx, biz.ID)
	if err != nil {
		return biz, out, err
	}
	out.Pages = len(pages)

	findings, social := Collect(pages)
	phoneFound := hasPhone || biz.Phone != ""
	for _, f := range findings {
		if f.Type == model.ContactPhone {
			phoneFound = true
		}
	}

	if out.Contacts, err = e.store.SaveFindings(ctx, biz.ID, findings); err != nil {
		return biz, out, err
	}
	for _, f := range findings {
		monitoring.ContactsFound.WithLabelValues(string(f.Type)).Inc()
	}
	if out.SocialLinks, err = e.store.SaveSocialLinks(ctx, biz.ID, social); err != nil {
		return biz, out, err
	}

	if filled := contactPatch(biz, findings); !filled.Empty() {
		if err := e.store.FillBusiness(ctx, biz.ID, filled); err != nil {
			return biz, out, err
		}
		if biz.Email == "" {
			biz.Email = filled.Email
		}
		if biz.Phone == "" {
			biz.Phone = filled.Phone
		}
		out.Filled = filled
	}

	if len(pages) == 0 || biz.Website == "" || !phoneFound {
		if err := e.fallback(ctx, biz, phoneFound, out, log); err != nil {
			return biz, out, err
		}
	}
	return biz, out, nil
}

// contactPatch takes the first crawled email and phone for whichever of the
// business's own fields are empty.
func contactPatch(biz *model.Business, findings []Finding) Patch {
	var p Patch
	for _, f := range findings {
		switch {
		case f.Type == model.ContactEmail && biz.Email == "" && p.Email == "":
			p.Email = f.Value
		case f.Type == model.ContactPhone && biz.Phone == "" && p.Phone == "":
			p.Phone = f.Value
		}
	}
	return p
}

// Collect extracts every page in order and merges the results. The first
// sighting of a contact keeps its source.
func Collect(pages []model.CrawlPage) ([]Finding, []Social) {
	seen := make(map[string]bool)
	seenSocial := make(map[string]bool)
	var findings []Finding
	var social []Social
	for _, p := range pages {
		r := ExtractPage(p)
		for _, f := range r.Contacts {
			if !seen[f.Key()] {
				seen[f.Key()] = true
				findings = append(findings, f)
			}
		}
		for _, s := range r.Social {
			if !seenSocial[s.URL] {
				seenSocial[s.URL] = true
				social = append(social, s)
			}
		}
	}
	return findings, social
}

// fallback asks the place API for a website and phone. The API never
// supplies email. Lookup failures are logged and leave the job successful;
// store failures are returned.
func (e *Engine) fallback(ctx context.Context, biz *model.Business, phoneFound bool, out *Outcome, log *zap.Logger) error {
	if e.places == nil {
		return nil
	}
	out.FallbackUsed = true

	detail, err := resilience.Guard(ctx, e.breaker, func(ctx context.Context) (*google.PlaceDetail, error) {
		return e.lookup(ctx, biz)
	})
	if err != nil {
		out.FallbackErr = err
		log.Warn("extract: place fallback failed", zap.Error(err))
		return nil
	}
	if detail == nil {
		return nil
	}

	var patch Patch
	if biz.Website == "" {
		if w := discovery.NormalizeWebsite(detail.WebsiteURI, e.cfg.Blocklist); w != "" {
			patch.Website = w
			patch.Domain = discovery.NormalizeDomain(w)
		}
	}
	if !phoneFound {
		if p, ok := NormalizePhone(detail.Phone()); ok {
			patch.Phone = p
		}
	}
	if biz.PlaceID == "" {
		patch.PlaceID = detail.ID
	}
	out.Patch = patch
	if patch.Empty() {
		return nil
	}

	if err := e.store.FillBusiness(ctx, biz.ID, patch); err != nil {
		return err
	}
	if patch.Website != "" {
		created, err := e.jobs.EnqueueCrawlJob(ctx, biz.ID, patch.Website, e.cfg.PagesLimit)
		if err != nil {
			return err
		}
		out.CrawlEnqueued = created
	}
	return nil
}

// lookup fetches place details by the stored place id, or finds the place
// by name and address for registry businesses that have none. A search hit
// whose name does not match the business is ignored.
func (e *Engine) lookup(ctx context.Context, biz *model.Business) (*google.PlaceDetail, error) {
	if biz.PlaceID != "" {
		monitoring.PlaceCalls.WithLabelValues("detail").Inc()
		return e.places.PlaceDetails(ctx, biz.PlaceID)
	}
	if biz.Name == "" {
		return nil, nil
	}

	req := google.TextSearchRequest{
		Query:        strings.TrimSpace(biz.Name + " " + biz.Address),
		LanguageCode: e.cfg.LanguageCode,
	}
	if biz.Latitude != nil && biz.Longitude != nil {
		req.Center = &google.LatLng{Latitude: *biz.Latitude, Longitude: *biz.Longitude}
		req.RadiusMeters = 500
	}
	monitoring.PlaceCalls.WithLabelValues("search").Inc()
	resp, err := e.places.TextSearch(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp == nil || len(resp.Places) == 0 {
		return nil, nil
	}

	p := resp.Places[0]
	want, got := discovery.NormalizeName(biz.Name), discovery.NormalizeName(p.DisplayName.Text)
	if want == "" || got == "" || (!strings.Contains(got, want) && !strings.Contains(want, got)) {
		return nil, nil
	}
	return &google.PlaceDetail{
		ID:                       p.ID,
		WebsiteURI:               p.WebsiteURI,
		NationalPhoneNumber:      p.NationalPhoneNumber,
		InternationalPhoneNumber: p.InternationalPhoneNumber,
	}, nil
}
