package survey

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rpggio/dugongwatch/internal/domain/activity"
	"github.com/rpggio/dugongwatch/internal/domain/detection"
	"github.com/rpggio/dugongwatch/internal/domain/ledger"
	"github.com/rpggio/dugongwatch/internal/export"
	"github.com/rpggio/dugongwatch/internal/repository"
)

// Config tunes session behavior.
type Config struct {
	TTL                time.Duration
	BestEffortRecovery bool
	Clock              func() time.Time
}

// Dependencies are the collaborators a Service needs. Activity and Events are optional.
type Dependencies struct {
	Ledgers  repository.LedgerRepository
	Blobs    repository.BlobStore
	Pipeline Processor
	Activity ActivityLog
	Events   EventPublisher
}

// Service handles survey session operations.
type Service struct {
	ledgers    repository.LedgerRepository
	blobs      repository.BlobStore
	pipeline   Processor
	activity   ActivityLog
	events     EventPublisher
	locks      *sessionLocks
	ttl        time.Duration
	bestEffort bool
	now        func() time.Time
	logger     *slog.Logger
}

// NewService creates a new survey service.
func NewService(deps Dependencies, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = ledger.DefaultTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		ledgers:    deps.Ledgers,
		blobs:      deps.Blobs,
		pipeline:   deps.Pipeline,
		activity:   deps.Activity,
		events:     deps.Events,
		locks:      newSessionLocks(),
		ttl:        ttl,
		bestEffort: cfg.BestEffortRecovery,
		now:        clock,
		logger:     logger,
	}
}

// TTL returns the inactivity window applied to sessions.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// Upload stores a batch, runs the pipeline over it and merges the results
// into the session ledger. An empty sessionID starts a new session. Parts
// whose content type is not image/* are skipped.
func (s *Service) Upload(ctx context.Context, sessionID string, images []detection.Image) (*UploadResult, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if !ValidSessionID(sessionID) {
		return nil, fmt.Errorf("%w: session id %q", ErrInvalidInput, sessionID)
	}

	batch := make([]detection.Image, 0, len(images))
	var skipped []string
	for _, img := range images {
		if !strings.HasPrefix(img.ContentType, "image/") {
			skipped = append(skipped, img.Filename)
			continue
		}
		if !ValidFilename(img.Filename) {
			return nil, fmt.Errorf("%w: filename %q", ErrInvalidInput, img.Filename)
		}
		batch = append(batch, img)
	}
	if len(batch) == 0 {
		return nil, fmt.Errorf("%w: no images in batch", ErrInvalidInput)
	}

	l, records, err := s.processAndMerge(ctx, sessionID, batch, true)
	if err != nil {
		return nil, err
	}

	s.logger.Info("upload processed", "session_id", sessionID, "images", len(batch), "skipped", len(skipped), "file_count", l.FileCount)
	s.record(ctx, sessionID, activity.TypeImagesProcessed,
		fmt.Sprintf("processed %d images", len(batch)),
		map[string]any{"files": filenames(batch), "skipped": skipped})

	return &UploadResult{
		SessionID: sessionID,
		Files:     records,
		Skipped:   skipped,
		Ledger:    l,
	}, nil
}

// Backfill runs the pipeline over stored images that have no ledger record yet.
// A session without a ledger starts fresh.
func (s *Service) Backfill(ctx context.Context, sessionID string) (*BackfillResult, error) {
	if !ValidSessionID(sessionID) {
		return nil, fmt.Errorf("%w: session id %q", ErrInvalidInput, sessionID)
	}

	existing, err := s.loadLedger(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	keys, err := s.blobs.List(ctx, ImagesPrefix(sessionID))
	if err != nil {
		return nil, fmt.Errorf("listing images: %w", err)
	}

	var batch []detection.Image
	for _, key := range keys {
		name := strings.TrimPrefix(key, ImagesPrefix(sessionID))
		contentType, ok := backfillContentType(name)
		if !ok || !ValidFilename(name) || existing.Has(name) {
			continue
		}
		data, err := s.blobs.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("loading image %s: %w", name, err)
		}
		batch = append(batch, detection.Image{Filename: name, Data: data, ContentType: contentType})
	}

	if len(batch) == 0 {
		result := &BackfillResult{SessionID: sessionID, Files: []ledger.FileRecord{}}
		if existing != nil {
			result.Files = existing.SortedFiles()
		}
		return result, nil
	}

	l, _, err := s.processAndMerge(ctx, sessionID, batch, false)
	if err != nil {
		return nil, err
	}

	s.logger.Info("backfill processed", "session_id", sessionID, "images", len(batch), "file_count", l.FileCount)
	s.record(ctx, sessionID, activity.TypeBackfill,
		fmt.Sprintf("backfilled %d images", len(batch)),
		map[string]any{"files": filenames(batch)})

	return &BackfillResult{
		SessionID: sessionID,
		Processed: len(batch),
		Files:     l.SortedFiles(),
	}, nil
}

// processAndMerge runs the pipeline, then stores its artifacts and merges the
// results into the ledger under the session lock so a concurrent purge cannot
// interleave with the writes. With storeRaw the batch's raw images are stored
// too, even when the pipeline fails, so a later Backfill can retry them.
func (s *Service) processAndMerge(ctx context.Context, sessionID string, batch []detection.Image, storeRaw bool) (*ledger.Ledger, []ledger.FileRecord, error) {
	results, procErr := s.pipeline.Process(ctx, batch)

	unlock := s.locks.lock(sessionID)
	defer unlock()

	if storeRaw {
		if err := s.storeImages(ctx, sessionID, batch); err != nil {
			return nil, nil, err
		}
	}
	if procErr != nil {
		return nil, nil, fmt.Errorf("processing batch: %w", procErr)
	}

	for _, res := range results {
		if err := s.blobs.Put(ctx, ResultKey(sessionID, res.Filename), res.AnnotatedImage, "image/jpeg"); err != nil {
			return nil, nil, fmt.Errorf("storing result %s: %w", res.Filename, err)
		}
		if err := s.blobs.Put(ctx, LabelKey(sessionID, res.Filename), []byte(res.LabelText), "text/plain"); err != nil {
			return nil, nil, fmt.Errorf("storing labels %s: %w", res.Filename, err)
		}
	}

	existing, err := s.loadLedger(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	merged := ledger.Merge(existing, results, sessionID, func(name string) string {
		return ImageKey(sessionID, name)
	}, s.now())
	if err := s.saveLedger(ctx, merged); err != nil {
		return nil, nil, err
	}

	records := make([]ledger.FileRecord, 0, len(results))
	for _, res := range results {
		records = append(records, merged.Files[res.Filename])
	}

	s.publish(Event{
		Type:      EventFilesProcessed,
		SessionID: sessionID,
		Files:     filenames(batch),
		FileCount: merged.FileCount,
		At:        merged.LastActivity,
	})
	return merged, records, nil
}

func (s *Service) storeImages(ctx context.Context, sessionID string, batch []detection.Image) error {
	for _, img := range batch {
		if err := s.blobs.Put(ctx, ImageKey(sessionID, img.Filename), img.Data, img.ContentType); err != nil {
			return fmt.Errorf("storing image %s: %w", img.Filename, err)
		}
	}
	return nil
}

// Reclassify applies a reviewer's correction to one record and moves the raw
// image into the false positive folder for the new class. An empty
// newClass flips the current label.
func (s *Service) Reclassify(ctx context.Context, sessionID, filename, newClass string) (*ledger.FileRecord, error) {
	if !ValidSessionID(sessionID) {
		return nil, fmt.Errorf("%w: session id %q", ErrInvalidInput, sessionID)
	}
	name := ledger.CleanFilename(filename)

	unlock := s.locks.lock(sessionID)
	defer unlock()

	l, err := s.loadLedger(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, ErrSessionNotFound
	}
	rec, ok := l.Files[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrNotFound, name)
	}

	var class ledger.ImageClass
	if newClass == "" {
		current, err := ledger.ParseImageClass(rec.ImageClass)
		if err != nil {
			return nil, fmt.Errorf("current class %q: %w", rec.ImageClass, err)
		}
		class = current.Opposite()
	} else {
		class, err = ledger.ParseImageClass(newClass)
		if err != nil {
			return nil, fmt.Errorf("new class %q: %w", newClass, err)
		}
	}

	now := s.now()
	updated, err := ledger.Reclassify(l, name, class, now)
	if err != nil {
		return nil, err
	}
	updated.LastActivity = now

	if err := s.saveLedger(ctx, updated); err != nil {
		return nil, err
	}
	if err := s.moveToFalsePositive(ctx, sessionID, name, class); err != nil {
		if rerr := s.saveLedger(ctx, l); rerr != nil {
			s.logger.Error("failed to restore ledger after move failure", "session_id", sessionID, "error", rerr)
		}
		return nil, err
	}

	out := updated.Files[name]
	s.logger.Info("image reclassified", "session_id", sessionID, "filename", name, "from", rec.ImageClass, "to", class)
	s.record(ctx, sessionID, activity.TypeReclassified,
		fmt.Sprintf("%s marked %s", name, class),
		map[string]string{"filename": name, "from": rec.ImageClass, "to": class.String()})
	s.publish(Event{
		Type:      EventReclassified,
		SessionID: sessionID,
		Files:     []string{name},
		FileCount: updated.FileCount,
		At:        now,
	})
	return &out, nil
}

func (s *Service) moveToFalsePositive(ctx context.Context, sessionID, name string, class ledger.ImageClass) error {
	src := ImageKey(sessionID, name)
	err := s.blobs.Copy(ctx, src, FalsePositiveKey(sessionID, class.String(), name))
	if errors.Is(err, repository.ErrNotFound) {
		s.logger.Warn("raw image missing for reclassification", "session_id", sessionID, "filename", name)
		return nil
	}
	if err != nil {
		return fmt.Errorf("copying image to false positives: %w", err)
	}
	if err := s.blobs.Delete(ctx, src); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("removing reclassified image: %w", err)
	}
	return nil
}

// Get returns a session's ledger.
func (s *Service) Get(ctx context.Context, sessionID string) (*ledger.Ledger, error) {
	if !ValidSessionID(sessionID) {
		return nil, fmt.Errorf("%w: session id %q", ErrInvalidInput, sessionID)
	}
	l, err := s.loadLedger(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, ErrSessionNotFound
	}
	return l, nil
}

// Status reports a session's liveness and files.
func (s *Service) Status(ctx context.Context, sessionID string) (*StatusResult, error) {
	l, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &StatusResult{
		SessionID:    l.SessionID,
		LastActivity: l.LastActivity,
		Liveness:     ledger.Status(l, s.ttl, s.now()),
		FileCount:    l.FileCount,
		Files:        l.SortedFiles(),
	}, nil
}

// Export writes the session ledger as CSV.
func (s *Service) Export(ctx context.Context, sessionID string, w io.Writer) error {
	l, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	return export.WriteCSV(w, l)
}

// Activity lists a session's recent activity, newest first.
func (s *Service) Activity(ctx context.Context, sessionID string, limit int) ([]activity.ActivityEntry, error) {
	if !ValidSessionID(sessionID) {
		return nil, fmt.Errorf("%w: session id %q", ErrInvalidInput, sessionID)
	}
	if s.activity == nil {
		return []activity.ActivityEntry{}, nil
	}
	return s.activity.GetRecentActivity(ctx, activity.ListActivityOptions{SessionID: sessionID, Limit: limit})
}

// Purge deletes a session's ledger and every stored blob.
func (s *Service) Purge(ctx context.Context, sessionID string) (*PurgeResult, error) {
	if !ValidSessionID(sessionID) {
		return nil, fmt.Errorf("%w: session id %q", ErrInvalidInput, sessionID)
	}
	result, err := s.purge(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !result.LedgerDeleted && result.BlobsDeleted == 0 {
		return nil, ErrSessionNotFound
	}

	s.logger.Info("session purged", "session_id", sessionID, "blobs", result.BlobsDeleted)
	s.record(ctx, sessionID, activity.TypeSessionPurged,
		fmt.Sprintf("purged %d files", result.BlobsDeleted), nil)
	s.publish(Event{Type: EventPurged, SessionID: sessionID, At: s.now()})
	return result, nil
}

func (s *Service) purge(ctx context.Context, sessionID string) (*PurgeResult, error) {
	unlock := s.locks.lock(sessionID)
	defer unlock()
	return s.purgeLocked(ctx, sessionID)
}

// purgeLocked expects the caller to hold the session lock.
func (s *Service) purgeLocked(ctx context.Context, sessionID string) (*PurgeResult, error) {
	result := &PurgeResult{SessionID: sessionID}
	switch err := s.ledgers.Delete(ctx, sessionID); {
	case err == nil:
		result.LedgerDeleted = true
	case errors.Is(err, repository.ErrNotFound):
	default:
		return nil, fmt.Errorf("deleting ledger: %w", err)
	}

	n, err := s.blobs.DeletePrefix(ctx, SessionPrefix(sessionID))
	if err != nil {
		return nil, fmt.Errorf("deleting session files: %w", err)
	}
	result.BlobsDeleted = n
	return result, nil
}

// loadLedger returns nil without error when the session has no ledger.
func (s *Service) loadLedger(ctx context.Context, sessionID string) (*ledger.Ledger, error) {
	doc, err := s.ledgers.Get(ctx, sessionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading ledger: %w", err)
	}

	l, err := ledger.Decode(doc)
	if err == nil {
		return l, nil
	}
	if !s.bestEffort {
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}

	l, warn := ledger.DecodeBestEffort(doc)
	s.logger.Warn("recovered corrupt ledger", "session_id", sessionID, "warning", warn, "recovered", l != nil)
	return l, nil
}

func (s *Service) saveLedger(ctx context.Context, l *ledger.Ledger) error {
	doc, err := ledger.Encode(l)
	if err != nil {
		return err
	}
	if err := s.ledgers.Put(ctx, l.SessionID, doc); err != nil {
		return fmt.Errorf("saving ledger: %w", err)
	}
	return nil
}

func (s *Service) record(ctx context.Context, sessionID string, typ activity.ActivityType, summary string, details any) {
	if s.activity == nil {
		return
	}
	s.activity.Record(ctx, sessionID, typ, summary, details)
}

func (s *Service) publish(evt Event) {
	if s.events == nil {
		return
	}
	s.events.Publish(evt)
}

func filenames(images []detection.Image) []string {
	names := make([]string, len(images))
	for i, img := range images {
		names[i] = img.Filename
	}
	return names
}

func backfillContentType(name string) (string, bool) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".jpg"), strings.HasSuffix(lower, ".jpeg"):
		return "image/jpeg", true
	case strings.HasSuffix(lower, ".png"):
		return "image/png", true
	case strings.HasSuffix(lower, ".webp"):
		return "image/webp", true
	default:
		return "", false
	}
}
