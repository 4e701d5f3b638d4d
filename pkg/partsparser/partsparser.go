// Package partsparser drains elevations whose parts blob has landed on disk
// but not yet been parsed, opens each blob as a SQLite file, and writes the
// fixed enrichment columns back onto the Elevation row. Grounded in the
// original system's sqlite_parser_tasks.py (parse_elevation_sqlite_task,
// batch_parse_elevations_task's MAX_CONCURRENT_WORKERS=2 semaphore) and the
// Elevations/Glass schema fixed by test_sqlite_parser.py.
package partsparser

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	synerr "github.com/scrollit/logikal-sync/internal/errors"
	"github.com/scrollit/logikal-sync/pkg/metrics"
	"github.com/scrollit/logikal-sync/pkg/model"
	"github.com/scrollit/logikal-sync/pkg/store"
)

const (
	maxConcurrentParses = 2
	maxRetries          = 3
	batchSize           = 10
)

// backoff mirrors the original task's exponential countdown — 60*2^retry
// seconds, capped at 30 minutes. The value is only logged as retry_in; the
// poll loop does not wait for it, and the next poll picks a failed
// retryable elevation up again.
func backoff(retryCount int) time.Duration {
	d := time.Duration(60*(1<<uint(retryCount))) * time.Second
	const cap = 30 * time.Minute
	if d > cap {
		d = cap
	}
	return d
}

// retryableSubstrings are substrings of sqlite errors worth retrying — a
// locked file, a disk I/O error, or a malformed database image, any of which
// may come from a blob still being written by a sync in flight.
var retryableSubstrings = []string{
	"database is locked",
	"disk I/O error",
	"database disk image is malformed",
}

func isRetryable(err error) bool {
	msg := err.Error()
	for _, s := range retryableSubstrings {
		if containsFold(msg, s) {
			return true
		}
	}
	return false
}

func containsFold(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if equalFold(haystack[i:i+len(needle)], needle) {
			return true
		}
	}
	return false
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// Worker drains ListElevationsPendingParse in batches, bounding itself to
// maxConcurrentParses in-flight parses at a time via a buffered channel
// semaphore, same limit the original Celery task enforced.
type Worker struct {
	Store  store.Store
	Logger *logrus.Logger
}

func New(s store.Store, logger *logrus.Logger) *Worker {
	if logger == nil {
		logger = logrus.New()
	}
	return &Worker{Store: s, Logger: logger}
}

// RunOnce parses one batch of pending elevations and returns how many
// succeeded, were skipped (hash unchanged since the last successful parse),
// and failed.
func (w *Worker) RunOnce(ctx context.Context) (parsed, skipped, failed int, err error) {
	elevations, err := w.Store.ListElevationsPendingParse(ctx, batchSize, maxRetries)
	if err != nil {
		return 0, 0, 0, synerr.New("partsparser.RunOnce", synerr.CategorySystem, err)
	}

	sem := make(chan struct{}, maxConcurrentParses)
	results := make(chan string, len(elevations))

	for _, e := range elevations {
		e := e
		sem <- struct{}{}
		go func() {
			defer func() { <-sem }()
			results <- w.parseOne(ctx, e)
		}()
	}
	for range elevations {
		outcome := <-results
		metrics.RecordPartsParsed(outcome)
		switch outcome {
		case "parsed":
			parsed++
		case "skipped":
			skipped++
		case "failed":
			failed++
		}
	}
	return parsed, skipped, failed, nil
}

func (w *Worker) parseOne(ctx context.Context, e model.Elevation) string {
	logger := w.Logger.WithField("elevation_id", e.ID)
	if e.PartsBlobPath == nil {
		logger.Warn("pending parse with no staged blob, skipping")
		return "skipped"
	}

	result, err := parseBlob(*e.PartsBlobPath)
	if err != nil {
		if isRetryable(err) && e.ParseRetryCount < maxRetries {
			delay := backoff(e.ParseRetryCount)
			logger.WithError(err).WithField("retry_in", delay).Warn("retryable parse failure")
		} else {
			logger.WithError(err).Error("parse failed")
		}
		if failErr := w.Store.SetElevationParseFailed(ctx, e.ID, err.Error()); failErr != nil {
			logger.WithError(failErr).Error("failed to record parse failure")
		}
		return "failed"
	}

	if e.PartsBlobHash != nil && result.Hash == *e.PartsBlobHash && e.ParseStatus == model.ParseStatusOK {
		logger.Debug("blob hash unchanged since last successful parse, skipping")
		return "skipped"
	}

	if err := w.Store.SetElevationParseResult(ctx, e.ID, result); err != nil {
		logger.WithError(err).Error("failed to write parse result")
		return "failed"
	}
	return "parsed"
}

// parseBlob opens path as a SQLite file read-only and runs the fixed
// enrichment query against the Elevations/Glass schema the upstream parts
// list export always produces.
func parseBlob(path string) (store.ElevationParseResult, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro&immutable=1")
	if err != nil {
		return store.ElevationParseResult{}, synerr.New("partsparser.parseBlob", synerr.CategorySystem, err)
	}
	defer db.Close()

	var (
		widthMM, heightMM, weightKG, areaM2       sql.NullFloat64
		systemCode, systemName                    sql.NullString
	)
	row := db.QueryRow(`
		SELECT Width_Out, Heighth_Out, Weight_Out, Area_Output, Systemcode, SystemName
		FROM Elevations LIMIT 1
	`)
	if err := row.Scan(&widthMM, &heightMM, &weightKG, &areaM2, &systemCode, &systemName); err != nil {
		return store.ElevationParseResult{}, synerr.New("partsparser.parseBlob", synerr.CategoryBusinessLogic,
			fmt.Errorf("read Elevations row: %w", err))
	}

	var glassCount int
	var glassSpec sql.NullString
	if err := db.QueryRow(`SELECT COUNT(*), GROUP_CONCAT(Name, ', ') FROM Glass`).Scan(&glassCount, &glassSpec); err != nil {
		return store.ElevationParseResult{}, synerr.New("partsparser.parseBlob", synerr.CategoryBusinessLogic,
			fmt.Errorf("read Glass table: %w", err))
	}

	hash, err := fileHash(path)
	if err != nil {
		return store.ElevationParseResult{}, err
	}

	result := store.ElevationParseResult{Hash: hash, PartsCount: &glassCount}
	if widthMM.Valid {
		result.WidthMM = &widthMM.Float64
	}
	if heightMM.Valid {
		result.HeightMM = &heightMM.Float64
	}
	if weightKG.Valid {
		result.WeightKG = &weightKG.Float64
	}
	if areaM2.Valid {
		result.AreaM2 = &areaM2.Float64
	}
	if systemCode.Valid {
		result.SystemCode = &systemCode.String
	}
	if systemName.Valid {
		result.SystemName = &systemName.String
	}
	if glassSpec.Valid {
		result.GlassSpec = &glassSpec.String
	}
	return result, nil
}

// fileHash sha256-hashes the blob on disk — the same algorithm
// ElevationSyncer.fetchAndStageBlob used to compute PartsBlobHash, so a
// reparse after a content-unchanged resync is detected and skipped.
func fileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", synerr.New("partsparser.fileHash", synerr.CategorySystem, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", synerr.New("partsparser.fileHash", synerr.CategorySystem, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
