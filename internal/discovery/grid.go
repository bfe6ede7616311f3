package discovery

import (
	"context"
	"math"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/prospector/internal/cost"
	"github.com/sells-group/prospector/internal/monitoring"
	"github.com/sells-group/prospector/pkg/google"
)

const (
	// kmPerDegreeLat is the approximate length of one degree of latitude.
	kmPerDegreeLat = 111.0
	earthRadiusKM  = 6371.0
	// maxPagesPerQuery limits pagination to avoid excessive API costs per point.
	maxPagesPerQuery = 3
)

// JapanBounds is the lng/lat extent of Japanese territory. Grid points
// outside it are never searched.
var JapanBounds = geom.NewBounds(geom.XY).Set(122.93, 20.42, 153.99, 45.56)

// GridConfig tunes geo-grid discovery.
type GridConfig struct {
	SpacingKM float64
	RadiusKM  float64 // default area radius when the request has none
	BatchSize int     // (point, keyword) searches per batch
	// NewRatioThreshold is the new-business ratio under which a batch
	// counts as low yield.
	NewRatioThreshold float64
	// LowYieldBatches consecutive low-yield batches stop the grid.
	LowYieldBatches int
	Workers         int
	LanguageCode    string
}

func (c *GridConfig) applyDefaults() {
	if c.SpacingKM <= 0 {
		c.SpacingKM = 2
	}
	if c.RadiusKM <= 0 {
		c.RadiusKM = 5
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.NewRatioThreshold <= 0 {
		c.NewRatioThreshold = 0.1
	}
	if c.LowYieldBatches <= 0 {
		c.LowYieldBatches = 3
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.LanguageCode == "" {
		c.LanguageCode = "ja"
	}
}

// GridPoints lays a square lattice with spacingKM between points over the
// circle around center and keeps the points inside both the circle and
// JapanBounds. Points are XY (lng, lat) in SRID 4326. The center is always
// included when it lies in Japan; otherwise there are no points.
func GridPoints(center LatLng, radiusKM, spacingKM float64) []*geom.Point {
	if !InJapan(center) {
		return nil
	}
	if spacingKM <= 0 || radiusKM <= 0 {
		return []*geom.Point{newPoint(center.Lng, center.Lat)}
	}

	latStep := spacingKM / kmPerDegreeLat
	lngStep := latStep / math.Max(math.Cos(center.Lat*math.Pi/180), 0.01)
	n := int(math.Floor(radiusKM / spacingKM))

	var points []*geom.Point
	for i := -n; i <= n; i++ {
		for j := -n; j <= n; j++ {
			lat := center.Lat + float64(i)*latStep
			lng := center.Lng + float64(j)*lngStep
			if !InJapan(LatLng{Lat: lat, Lng: lng}) {
				continue
			}
			if haversineKM(center, LatLng{Lat: lat, Lng: lng}) > radiusKM+1e-9 {
				continue
			}
			points = append(points, newPoint(lng, lat))
		}
	}
	return points
}

// InJapan reports whether p lies inside JapanBounds.
func InJapan(p LatLng) bool {
	return JapanBounds.OverlapsPoint(geom.XY, geom.Coord{p.Lng, p.Lat})
}

func newPoint(lng, lat float64) *geom.Point {
	return geom.NewPointFlat(geom.XY, []float64{lng, lat}).SetSRID(4326)
}

func haversineKM(a, b LatLng) float64 {
	rad := math.Pi / 180
	dLat := (b.Lat - a.Lat) * rad
	dLng := (b.Lng - a.Lng) * rad
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*rad)*math.Cos(b.Lat*rad)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKM * math.Asin(math.Min(1, math.Sqrt(h)))
}

// GridSource issues one keyword search per (grid point, keyword) pair and
// stops once searches stop turning up new places.
type GridSource struct {
	places google.Client
	cfg    GridConfig
}

// NewGridSource creates a GridSource.
func NewGridSource(places google.Client, cfg GridConfig) *GridSource {
	cfg.applyDefaults()
	return &GridSource{places: places, cfg: cfg}
}

type gridTask struct {
	point   *geom.Point
	keyword string
}

type taskResult struct {
	places []google.Place
	calls  int
	err    error
}

// Collect walks the grid in batches. Each batch's new-place ratio is the
// share of returned places not seen in earlier batches; after
// LowYieldBatches consecutive batches under NewRatioThreshold the walk stops.
func (s *GridSource) Collect(ctx context.Context, req Request, terms Terms) ([]Candidate, cost.Usage, error) {
	var usage cost.Usage
	if req.Center == nil {
		return nil, usage, eris.New("discovery: grid requires a center")
	}
	if len(terms.Keywords) == 0 {
		return nil, usage, eris.New("discovery: no keywords for grid search")
	}

	radius := req.RadiusKM
	if radius <= 0 {
		radius = s.cfg.RadiusKM
	}
	points := GridPoints(*req.Center, radius, s.cfg.SpacingKM)
	if len(points) == 0 {
		return nil, usage, eris.Errorf("discovery: grid center %.4f,%.4f is outside Japan", req.Center.Lat, req.Center.Lng)
	}

	var tasks []gridTask
	for _, p := range points {
		for _, kw := range terms.Keywords {
			tasks = append(tasks, gridTask{point: p, keyword: kw})
		}
	}

	log := zap.L().With(
		zap.String("location_id", req.LocationID),
		zap.Int("points", len(points)),
		zap.Int("tasks", len(tasks)),
	)
	log.Info("discovery: grid search starting")

	seen := make(map[string]bool)
	var cands []Candidate
	lowYield := 0
	batches := 0

	for start := 0; start < len(tasks); start += s.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, usage, eris.Wrap(err, "discovery: grid search canceled")
		}
		end := min(start+s.cfg.BatchSize, len(tasks))
		results := s.runBatch(ctx, tasks[start:end])
		batches++

		returned, fresh, failed := 0, 0, 0
		var lastErr error
		for i, r := range results {
			usage.SearchCalls += r.calls
			monitoring.PlaceCalls.WithLabelValues("search").Add(float64(r.calls))
			if r.err != nil {
				failed++
				lastErr = r.err
				log.Warn("discovery: grid search failed",
					zap.String("keyword", tasks[start+i].keyword),
					zap.Error(r.err),
				)
				continue
			}
			for _, p := range r.places {
				returned++
				if p.ID == "" || seen[p.ID] {
					continue
				}
				seen[p.ID] = true
				fresh++
				cands = append(cands, placeCandidate(p, req.LocationID, terms.ByKeyword[tasks[start+i].keyword]))
			}
		}
		if failed == len(results) {
			return nil, usage, eris.Wrap(lastErr, "discovery: every search in batch failed")
		}

		ratio := 0.0
		if returned > 0 {
			ratio = float64(fresh) / float64(returned)
		}
		if ratio < s.cfg.NewRatioThreshold {
			lowYield++
		} else {
			lowYield = 0
		}
		log.Debug("discovery: grid batch",
			zap.Int("batch", batches),
			zap.Int("returned", returned),
			zap.Int("new", fresh),
			zap.Float64("new_ratio", ratio),
			zap.Int("low_yield_streak", lowYield),
		)
		if lowYield >= s.cfg.LowYieldBatches {
			log.Info("discovery: grid stopped on diminishing returns",
				zap.Int("batches", batches),
				zap.Int("tasks_run", end),
			)
			break
		}
	}

	log.Info("discovery: grid search finished",
		zap.Int("candidates", len(cands)),
		zap.Int("search_calls", usage.SearchCalls),
	)
	return cands, usage, nil
}

func (s *GridSource) runBatch(ctx context.Context, tasks []gridTask) []taskResult {
	results := make([]taskResult, len(tasks))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for i, t := range tasks {
		g.Go(func() error {
			places, calls, err := s.search(gctx, t)
			mu.Lock()
			results[i] = taskResult{places: places, calls: calls, err: err}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *GridSource) search(ctx context.Context, t gridTask) ([]google.Place, int, error) {
	req := google.TextSearchRequest{
		Query:        t.keyword,
		Center:       &google.LatLng{Latitude: t.point.Y(), Longitude: t.point.X()},
		RadiusMeters: s.cfg.SpacingKM * 1000,
		LanguageCode: s.cfg.LanguageCode,
	}

	var all []google.Place
	calls := 0
	for page := 0; page < maxPagesPerQuery; page++ {
		resp, err := s.places.TextSearch(ctx, req)
		calls++
		if err != nil {
			return all, calls, eris.Wrapf(err, "discovery: text search %q", t.keyword)
		}
		all = append(all, resp.Places...)
		if resp.NextPageToken == "" {
			break
		}
		req.PageToken = resp.NextPageToken
	}
	return all, calls, nil
}

func placeCandidate(p google.Place, locationID, industry string) Candidate {
	c := Candidate{
		Source:     SourcePlaces,
		ProviderID: p.ID,
		PlaceID:    p.ID,
		Name:       p.DisplayName.Text,
		Address:    p.FormattedAddress,
		LocationID: locationID,
		Industry:   industry,
		Website:    p.WebsiteURI,
		Phone:      p.NationalPhoneNumber,
	}
	if c.Phone == "" {
		c.Phone = p.InternationalPhoneNumber
	}
	if p.PostalAddress != nil {
		c.PostalCode = p.PostalAddress.PostalCode
	}
	if p.Location != nil {
		lat, lng := p.Location.Latitude, p.Location.Longitude
		c.Latitude, c.Longitude = &lat, &lng
	}
	return c
}
