// Command seedqueue fills a station queue database with realistic pending
// hazard reports for demos and manual testing. It goes through the actual
// store and domain packages, so seeded rows are exactly what syncd would
// have written, and a fixed clock keeps the output reproducible.
//
// Usage:
//
//	go run ./cmd/seedqueue -db /tmp/station.db -count 25 -failed 3
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/couchcryptid/coastal-report-sync/internal/config"
	"github.com/couchcryptid/coastal-report-sync/internal/domain"
	"github.com/couchcryptid/coastal-report-sync/internal/observability"
	"github.com/couchcryptid/coastal-report-sync/internal/store"
	"github.com/jonboulle/clockwork"
)

var baseTime = time.Date(2026, time.March, 14, 6, 0, 0, 0, time.UTC)

// pngStub is a minimal PNG header, enough to pass media validation and to
// give list output a believable attachment size.
var pngStub = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	dbPath := flag.String("db", "", "path to the queue database to seed")
	count := flag.Int("count", 25, "number of reports to enqueue")
	failed := flag.Int("failed", 3, "of those, how many to mark failed with exhausted retries")
	mediaEvery := flag.Int("media-every", 4, "attach a photo stub to every nth report (0 disables)")
	flag.Parse()

	if *dbPath == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -db")
	}
	if *failed > *count {
		return fmt.Errorf("-failed %d exceeds -count %d", *failed, *count)
	}

	// Fixed clock, advanced between entries, for reproducible enqueue times.
	clock := clockwork.NewFakeClockAt(baseTime)

	cfg := &config.Config{DBPath: *dbPath, MediaMaxBytes: 8 << 20}
	logger := observability.NewLogger("warn", "text")

	st, err := store.Open(cfg, clock, logger, observability.NewMetrics())
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	ids := make([]string, 0, *count)
	for i := 0; i < *count; i++ {
		payload := templates[i%len(templates)]
		// Nudge coordinates so entries do not stack on one point.
		payload.Lat += float64(i) * 0.0004
		payload.Lon -= float64(i) * 0.0007

		var media *domain.MediaAttachment
		if *mediaEvery > 0 && i%*mediaEvery == 0 {
			media = &domain.MediaAttachment{MIME: "image/png", Data: pngStub}
		}

		entry, err := st.Enqueue(ctx, payload, media)
		if err != nil {
			return fmt.Errorf("enqueue report %d: %w", i, err)
		}
		ids = append(ids, entry.ID)
		clock.Advance(90 * time.Second)
	}
	log.Printf("enqueued %d reports into %s", *count, *dbPath)

	// Walk the first -failed entries through a full exhausted retry budget so
	// they look exactly like real submission failures.
	for i := 0; i < *failed; i++ {
		id := ids[i]
		lastErr := "hazard API error: status 503: upstream unavailable"
		for attempt := 1; attempt <= 3; attempt++ {
			status := domain.StatusPending
			if attempt == 3 {
				status = domain.StatusFailed
			}
			if err := st.RecordFailure(ctx, id, status, lastErr); err != nil {
				return fmt.Errorf("marking report %s failed: %w", id, err)
			}
		}
	}
	if *failed > 0 {
		log.Printf("marked %d reports failed", *failed)
	}

	counts, err := st.Counts(ctx)
	if err != nil {
		return err
	}
	log.Printf("queue now holds: active=%d failed=%d", counts.Active, counts.Failed)
	return nil
}

// templates cycles through the hazard categories with plausible Washington
// coast sightings.
var templates = []domain.ReportPayload{
	{
		HazardType:  "rip_current",
		Description: "Strong rip pulling south of the jetty, two swimmers warned off",
		Severity:    "severe",
		Lat:         46.9042,
		Lon:         -124.1051,
		Location:    "north jetty, Westport",
	},
	{
		HazardType:  "storm_surge",
		Description: "Water over the back parking lot at high tide, roughly 30cm standing",
		Severity:    "moderate",
		Lat:         46.8881,
		Lon:         -124.1037,
		Location:    "marina access road",
	},
	{
		HazardType:  "high_surf",
		Description: "Sets breaking over the south seawall, spray reaching the walkway",
		Severity:    "severe",
		Lat:         46.8653,
		Lon:         -124.1160,
	},
	{
		HazardType:  "coastal_flood",
		Description: "Dune overtopping at the state park entrance, trail flooded ankle deep",
		Severity:    "minor",
		Lat:         46.8979,
		Lon:         -124.1205,
		Location:    "Westhaven state park",
	},
	{
		HazardType:  "erosion",
		Description: "Fresh scarp about two meters high, undercutting the dune grass line",
		Severity:    "moderate",
		Lat:         46.8430,
		Lon:         -124.1108,
	},
	{
		HazardType:  "debris",
		Description: "Drift logs across the beach approach, one blocking the emergency access",
		Severity:    "moderate",
		Lat:         46.9102,
		Lon:         -124.1144,
		Location:    "beach approach 3",
	},
	{
		HazardType:  "pollution",
		Description: "Oily sheen in the surf line stretching about 200m north of the groin",
		Severity:    "extreme",
		Lat:         46.8795,
		Lon:         -124.1090,
	},
}
