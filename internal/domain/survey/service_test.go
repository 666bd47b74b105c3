package survey_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rpggio/dugongwatch/internal/blob"
	"github.com/rpggio/dugongwatch/internal/domain/activity"
	"github.com/rpggio/dugongwatch/internal/domain/detection"
	"github.com/rpggio/dugongwatch/internal/domain/ledger"
	"github.com/rpggio/dugongwatch/internal/domain/survey"
	"github.com/rpggio/dugongwatch/internal/repository"
	"github.com/rpggio/dugongwatch/internal/repository/mocks"
	"github.com/rpggio/dugongwatch/internal/sqlite"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type outcome struct {
	dugongs, calves int
	class           string
}

// fakeProcessor returns canned outcomes keyed by filename.
type fakeProcessor struct {
	mu       sync.Mutex
	outcomes map[string]outcome
	err      error
	calls    [][]string
	clock    *testClock
}

func (p *fakeProcessor) set(name string, o outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outcomes[name] = o
}

func (p *fakeProcessor) Process(_ context.Context, images []detection.Image) ([]detection.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	names := make([]string, len(images))
	for i, img := range images {
		names[i] = img.Filename
	}
	p.calls = append(p.calls, names)
	if p.err != nil {
		return nil, p.err
	}

	results := make([]detection.Result, len(images))
	for i, img := range images {
		o := p.outcomes[img.Filename]
		if o.class == "" {
			o.class = "feeding"
		}
		results[i] = detection.Result{
			Filename:       img.Filename,
			DugongCount:    o.dugongs,
			CalfCount:      o.calves,
			TotalCount:     detection.TotalCount(o.dugongs, o.calves),
			ImageClass:     o.class,
			AnnotatedImage: append([]byte("annotated:"), img.Data...),
			LabelText:      "0 0.5 0.5 0.1 0.1\n",
			CreatedAt:      p.clock.Now(),
		}
	}
	return results, nil
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []survey.Event
}

func (p *recordingPublisher) Publish(evt survey.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

func (p *recordingPublisher) types() []survey.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]survey.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

// hookedLedgers runs callbacks around an underlying ledger store.
type hookedLedgers struct {
	repository.LedgerRepository
	afterGet  func(sessionID string)
	afterList func()
	putErr    error
}

func (h *hookedLedgers) Get(ctx context.Context, sessionID string) ([]byte, error) {
	doc, err := h.LedgerRepository.Get(ctx, sessionID)
	if h.afterGet != nil {
		h.afterGet(sessionID)
	}
	return doc, err
}

func (h *hookedLedgers) List(ctx context.Context) ([]string, error) {
	ids, err := h.LedgerRepository.List(ctx)
	if h.afterList != nil {
		h.afterList()
	}
	return ids, err
}

func (h *hookedLedgers) Put(ctx context.Context, sessionID string, doc []byte) error {
	if h.putErr != nil {
		return h.putErr
	}
	return h.LedgerRepository.Put(ctx, sessionID, doc)
}

type failingCopyBlobs struct {
	repository.BlobStore
	fail bool
}

func (b *failingCopyBlobs) Copy(ctx context.Context, src, dst string) error {
	if b.fail {
		return errors.New("bucket unavailable")
	}
	return b.BlobStore.Copy(ctx, src, dst)
}

type harness struct {
	svc       *survey.Service
	ledgers   *sqlite.LedgerRepository
	blobs     *blob.FSStore
	processor *fakeProcessor
	events    *recordingPublisher
	clock     *testClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, nil, nil)
}

// newHarnessWith lets a test wrap the stores the service sees.
func newHarnessWith(t *testing.T,
	wrapLedgers func(repository.LedgerRepository) repository.LedgerRepository,
	wrapBlobs func(repository.BlobStore) repository.BlobStore,
) *harness {
	t.Helper()

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.RunMigrations())
	t.Cleanup(func() { db.Close() })

	blobs, err := blob.NewFSStore(filepath.Join(t.TempDir(), "blobs"))
	require.NoError(t, err)

	clock := &testClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	processor := &fakeProcessor{outcomes: map[string]outcome{}, clock: clock}
	events := &recordingPublisher{}
	ledgers := sqlite.NewLedgerRepository(db)

	var svcLedgers repository.LedgerRepository = ledgers
	if wrapLedgers != nil {
		svcLedgers = wrapLedgers(ledgers)
	}
	var svcBlobs repository.BlobStore = blobs
	if wrapBlobs != nil {
		svcBlobs = wrapBlobs(blobs)
	}

	svc := survey.NewService(survey.Dependencies{
		Ledgers:  svcLedgers,
		Blobs:    svcBlobs,
		Pipeline: processor,
		Activity: activity.NewService(sqlite.NewActivityRepository(db), nil),
		Events:   events,
	}, survey.Config{TTL: 15 * time.Minute, Clock: clock.Now}, nil)

	return &harness{svc: svc, ledgers: ledgers, blobs: blobs, processor: processor, events: events, clock: clock}
}

func jpeg(name string) detection.Image {
	return detection.Image{Filename: name, Data: []byte("raw:" + name), ContentType: "image/jpeg"}
}

func TestUpload_CreatesAndMergesLedger(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	h.processor.set("a.jpg", outcome{2, 1, "feeding"})
	res, err := h.svc.Upload(ctx, "s1", []detection.Image{jpeg("a.jpg")})
	require.NoError(t, err)
	require.Equal(t, "s1", res.SessionID)
	require.Len(t, res.Files, 1)
	require.Equal(t, 4, res.Files[0].TotalCount)
	require.Equal(t, "s1/images/a.jpg", res.Files[0].Path)
	require.Equal(t, 1, res.Ledger.FileCount)

	raw, err := h.blobs.Get(ctx, "s1/images/a.jpg")
	require.NoError(t, err)
	require.Equal(t, []byte("raw:a.jpg"), raw)
	annotated, err := h.blobs.Get(ctx, "s1/results/a.jpg")
	require.NoError(t, err)
	require.Equal(t, []byte("annotated:raw:a.jpg"), annotated)
	labels, err := h.blobs.Get(ctx, "s1/labels/a.txt")
	require.NoError(t, err)
	require.Equal(t, "0 0.5 0.5 0.1 0.1\n", string(labels))

	h.clock.Advance(time.Minute)
	h.processor.set("b.jpg", outcome{0, 0, "resting"})
	_, err = h.svc.Upload(ctx, "s1", []detection.Image{jpeg("b.jpg")})
	require.NoError(t, err)

	l, err := h.svc.Get(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, 2, l.FileCount)
	require.Equal(t, 4, l.Files["a.jpg"].TotalCount)
	require.Equal(t, 0, l.Files["b.jpg"].TotalCount)
	require.Equal(t, h.clock.Now(), l.LastActivity)
	require.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), l.CreatedAt)

	h.processor.set("a.jpg", outcome{5, 0, "resting"})
	_, err = h.svc.Upload(ctx, "s1", []detection.Image{jpeg("a.jpg")})
	require.NoError(t, err)

	l, err = h.svc.Get(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, 2, l.FileCount)
	require.Equal(t, 5, l.Files["a.jpg"].TotalCount)
	require.Equal(t, "resting", l.Files["a.jpg"].ImageClass)

	require.Equal(t, []survey.EventType{
		survey.EventFilesProcessed, survey.EventFilesProcessed, survey.EventFilesProcessed,
	}, h.events.types())

	entries, err := h.svc.Activity(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, activity.TypeImagesProcessed, entries[0].ActivityType)
}

func TestUpload_NewSessionSkipsNonImages(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	res, err := h.svc.Upload(ctx, "", []detection.Image{
		jpeg("a.jpg"),
		{Filename: "notes.txt", Data: []byte("x"), ContentType: "text/plain"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.SessionID)
	require.True(t, survey.ValidSessionID(res.SessionID))
	require.Equal(t, []string{"notes.txt"}, res.Skipped)
	require.Equal(t, [][]string{{"a.jpg"}}, h.processor.calls)
}

func TestUpload_InvalidInput(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.svc.Upload(ctx, "s1", nil)
	require.ErrorIs(t, err, survey.ErrInvalidInput)

	_, err = h.svc.Upload(ctx, "s1", []detection.Image{{Filename: "x.txt", ContentType: "text/plain"}})
	require.ErrorIs(t, err, survey.ErrInvalidInput)

	_, err = h.svc.Upload(ctx, "../etc", []detection.Image{jpeg("a.jpg")})
	require.ErrorIs(t, err, survey.ErrInvalidInput)

	_, err = h.svc.Upload(ctx, "s1", []detection.Image{jpeg("../a.jpg")})
	require.ErrorIs(t, err, survey.ErrInvalidInput)

	require.Empty(t, h.processor.calls)
}

func TestUpload_PipelineFailureLeavesLedgerUntouched(t *testing.T) {
	ctx := context.Background()

	ledgers := &mocks.LedgerRepository{}
	blobs := &mocks.BlobStore{}
	blobs.On("Put", ctx, "s1/images/a.jpg", mock.Anything, "image/jpeg").Return(nil)

	processor := &fakeProcessor{
		outcomes: map[string]outcome{},
		err:      &detection.InferenceError{Stage: detection.StageDetect, Err: errors.New("model crashed")},
		clock:    &testClock{},
	}
	svc := survey.NewService(survey.Dependencies{Ledgers: ledgers, Blobs: blobs, Pipeline: processor}, survey.Config{}, nil)

	_, err := svc.Upload(ctx, "s1", []detection.Image{jpeg("a.jpg")})
	require.ErrorIs(t, err, detection.ErrInferenceFailure)

	ledgers.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything)
	ledgers.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
	blobs.AssertExpectations(t)
}

func TestUpload_ConcurrentSameSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.svc.Upload(ctx, "s1", []detection.Image{jpeg(fmt.Sprintf("img%d.jpg", i))})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	l, err := h.svc.Get(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, 8, l.FileCount)
}

func TestBackfill_ProcessesOnlyUnrecordedImages(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.svc.Upload(ctx, "s1", []detection.Image{jpeg("a.jpg")})
	require.NoError(t, err)

	require.NoError(t, h.blobs.Put(ctx, "s1/images/c.PNG", []byte("c"), "image/png"))
	require.NoError(t, h.blobs.Put(ctx, "s1/images/d.webp", []byte("d"), "image/webp"))
	require.NoError(t, h.blobs.Put(ctx, "s1/images/notes.txt", []byte("n"), "text/plain"))
	h.processor.set("c.PNG", outcome{1, 1, "resting"})

	res, err := h.svc.Backfill(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, 2, res.Processed)
	require.Len(t, res.Files, 3)
	require.Equal(t, []string{"c.PNG", "d.webp"}, h.processor.calls[1])

	l, err := h.svc.Get(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, 3, l.FileCount)
	require.Equal(t, 3, l.Files["c.PNG"].TotalCount)

	res, err = h.svc.Backfill(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, 0, res.Processed)
	require.Len(t, res.Files, 3)
	require.Len(t, h.processor.calls, 2)
}

func TestBackfill_WithoutLedgerStartsFresh(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	res, err := h.svc.Backfill(ctx, "s2")
	require.NoError(t, err)
	require.Equal(t, 0, res.Processed)
	require.Empty(t, res.Files)
	_, err = h.svc.Get(ctx, "s2")
	require.ErrorIs(t, err, survey.ErrSessionNotFound)

	require.NoError(t, h.blobs.Put(ctx, "s2/images/a.jpg", []byte("a"), "image/jpeg"))
	res, err = h.svc.Backfill(ctx, "s2")
	require.NoError(t, err)
	require.Equal(t, 1, res.Processed)

	l, err := h.svc.Get(ctx, "s2")
	require.NoError(t, err)
	require.Equal(t, 1, l.FileCount)
}

func TestReclassify(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	h.processor.set("a.jpg", outcome{2, 1, "feeding"})
	_, err := h.svc.Upload(ctx, "s1", []detection.Image{jpeg("a.jpg"), jpeg("b.jpg")})
	require.NoError(t, err)
	before, err := h.svc.Get(ctx, "s1")
	require.NoError(t, err)

	h.clock.Advance(30 * time.Second)
	rec, err := h.svc.Reclassify(ctx, "s1", "a.jpg?X-Goog-Signature=abc", "Resting")
	require.NoError(t, err)
	require.Equal(t, "resting", rec.ImageClass)
	require.Equal(t, 2, rec.DugongCount)
	require.Equal(t, 1, rec.CalfCount)
	require.Equal(t, 4, rec.TotalCount)
	require.NotNil(t, rec.UpdatedAt)
	require.Equal(t, h.clock.Now(), *rec.UpdatedAt)

	after, err := h.svc.Get(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, before.Files["b.jpg"], after.Files["b.jpg"])
	require.Equal(t, h.clock.Now(), after.LastActivity)

	moved, err := h.blobs.Get(ctx, "s1/false_positives/resting/a.jpg")
	require.NoError(t, err)
	require.Equal(t, []byte("raw:a.jpg"), moved)
	_, err = h.blobs.Get(ctx, "s1/images/a.jpg")
	require.ErrorIs(t, err, repository.ErrNotFound)

	// Empty target flips; the raw image is already gone, which is tolerated.
	rec, err = h.svc.Reclassify(ctx, "s1", "a.jpg", "")
	require.NoError(t, err)
	require.Equal(t, "feeding", rec.ImageClass)

	require.Contains(t, h.events.types(), survey.EventReclassified)
}

func TestReclassify_Failures(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.svc.Reclassify(ctx, "s1", "a.jpg", "resting")
	require.ErrorIs(t, err, survey.ErrSessionNotFound)

	_, err = h.svc.Upload(ctx, "s1", []detection.Image{jpeg("a.jpg")})
	require.NoError(t, err)
	before, err := h.ledgers.Get(ctx, "s1")
	require.NoError(t, err)

	_, err = h.svc.Reclassify(ctx, "s1", "missing.jpg", "resting")
	require.ErrorIs(t, err, ledger.ErrNotFound)

	_, err = h.svc.Reclassify(ctx, "s1", "a.jpg", "sleeping")
	require.ErrorIs(t, err, ledger.ErrInvalidClass)

	after, err := h.ledgers.Get(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, before, after)

	_, err = h.blobs.Get(ctx, "s1/images/a.jpg")
	require.NoError(t, err, "raw image stays when reclassification fails")
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.svc.Status(ctx, "s1")
	require.ErrorIs(t, err, survey.ErrSessionNotFound)

	_, err = h.svc.Upload(ctx, "s1", []detection.Image{jpeg("a.jpg")})
	require.NoError(t, err)

	h.clock.Advance(10 * time.Second)
	st, err := h.svc.Status(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, 890, st.Liveness.RemainingSeconds)
	require.False(t, st.Liveness.IsExpired)
	require.Equal(t, 1, st.FileCount)

	h.clock.Advance(1000 * time.Second)
	st, err = h.svc.Status(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, 0, st.Liveness.RemainingSeconds)
	require.True(t, st.Liveness.IsExpired)
}

func TestExport(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	h.processor.set("a.jpg", outcome{2, 1, "feeding"})
	_, err := h.svc.Upload(ctx, "s1", []detection.Image{jpeg("a.jpg")})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, h.svc.Export(ctx, "s1", &buf))
	require.Contains(t, buf.String(), "CALFCOUNT,CREATEDAT")
	require.Contains(t, buf.String(), "a.jpg,Feeding,s1/images/a.jpg,4")

	require.ErrorIs(t, h.svc.Export(ctx, "nope", &buf), survey.ErrSessionNotFound)
}

func TestPurge(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.svc.Upload(ctx, "s1", []detection.Image{jpeg("a.jpg")})
	require.NoError(t, err)

	res, err := h.svc.Purge(ctx, "s1")
	require.NoError(t, err)
	require.True(t, res.LedgerDeleted)
	require.Equal(t, 3, res.BlobsDeleted)

	_, err = h.svc.Get(ctx, "s1")
	require.ErrorIs(t, err, survey.ErrSessionNotFound)

	_, err = h.svc.Purge(ctx, "s1")
	require.ErrorIs(t, err, survey.ErrSessionNotFound)

	entries, err := h.svc.Activity(ctx, "s1", 0)
	require.NoError(t, err)
	require.Equal(t, activity.TypeSessionPurged, entries[0].ActivityType)
}

func TestSweepExpired(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.svc.Upload(ctx, "old", []detection.Image{jpeg("a.jpg")})
	require.NoError(t, err)
	h.clock.Advance(10 * time.Minute)
	_, err = h.svc.Upload(ctx, "fresh", []detection.Image{jpeg("b.jpg")})
	require.NoError(t, err)
	h.clock.Advance(6 * time.Minute)

	purged, err := h.svc.SweepExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"old"}, purged)

	_, err = h.svc.Get(ctx, "old")
	require.ErrorIs(t, err, survey.ErrSessionNotFound)
	_, err = h.svc.Get(ctx, "fresh")
	require.NoError(t, err)

	keys, err := h.blobs.List(ctx, "old/")
	require.NoError(t, err)
	require.Empty(t, keys)
	require.Contains(t, h.events.types(), survey.EventExpired)
}

func TestSweepExpired_UploadDuringSweepSurvives(t *testing.T) {
	ctx := context.Background()
	hooks := &hookedLedgers{}
	h := newHarnessWith(t, func(inner repository.LedgerRepository) repository.LedgerRepository {
		hooks.LedgerRepository = inner
		return hooks
	}, nil)

	_, err := h.svc.Upload(ctx, "s1", []detection.Image{jpeg("a.jpg")})
	require.NoError(t, err)
	h.clock.Advance(16 * time.Minute)

	// The sweep has read the stale ledger when the upload arrives.
	var armed atomic.Bool
	armed.Store(true)
	uploadDone := make(chan error, 1)
	hooks.afterGet = func(string) {
		if !armed.CompareAndSwap(true, false) {
			return
		}
		go func() {
			_, err := h.svc.Upload(ctx, "s1", []detection.Image{jpeg("b.jpg")})
			uploadDone <- err
		}()
		select {
		case err := <-uploadDone:
			uploadDone <- err
		case <-time.After(200 * time.Millisecond):
		}
	}

	purged, err := h.svc.SweepExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"s1"}, purged)

	select {
	case err := <-uploadDone:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("upload did not finish")
	}

	l, err := h.svc.Get(ctx, "s1")
	require.NoError(t, err, "upload after the sweep must leave a live session")
	require.True(t, l.Has("b.jpg"))
	require.False(t, l.Has("a.jpg"))

	st, err := h.svc.Status(ctx, "s1")
	require.NoError(t, err)
	require.False(t, st.Liveness.IsExpired)

	raw, err := h.blobs.Get(ctx, "s1/images/b.jpg")
	require.NoError(t, err)
	require.Equal(t, []byte("raw:b.jpg"), raw)
}

func TestSweepExpired_SkipsSessionRefreshedAfterListing(t *testing.T) {
	ctx := context.Background()
	hooks := &hookedLedgers{}
	h := newHarnessWith(t, func(inner repository.LedgerRepository) repository.LedgerRepository {
		hooks.LedgerRepository = inner
		return hooks
	}, nil)

	_, err := h.svc.Upload(ctx, "s1", []detection.Image{jpeg("a.jpg")})
	require.NoError(t, err)
	h.clock.Advance(16 * time.Minute)

	hooks.afterList = func() {
		hooks.afterList = nil
		_, err := h.svc.Upload(ctx, "s1", []detection.Image{jpeg("b.jpg")})
		require.NoError(t, err)
	}

	purged, err := h.svc.SweepExpired(ctx)
	require.NoError(t, err)
	require.Empty(t, purged)

	l, err := h.svc.Get(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, 2, l.FileCount)
	_, err = h.blobs.Get(ctx, "s1/images/a.jpg")
	require.NoError(t, err)
}

func TestReclassify_FailedWriteKeepsImageInPlace(t *testing.T) {
	ctx := context.Background()
	hooks := &hookedLedgers{}
	copyBlobs := &failingCopyBlobs{}
	h := newHarnessWith(t,
		func(inner repository.LedgerRepository) repository.LedgerRepository {
			hooks.LedgerRepository = inner
			return hooks
		},
		func(inner repository.BlobStore) repository.BlobStore {
			copyBlobs.BlobStore = inner
			return copyBlobs
		})

	_, err := h.svc.Upload(ctx, "s1", []detection.Image{jpeg("a.jpg")})
	require.NoError(t, err)
	before, err := h.svc.Get(ctx, "s1")
	require.NoError(t, err)

	hooks.putErr = errors.New("disk full")
	_, err = h.svc.Reclassify(ctx, "s1", "a.jpg", "resting")
	require.Error(t, err)
	_, err = h.blobs.Get(ctx, "s1/images/a.jpg")
	require.NoError(t, err, "raw image stays when the ledger write fails")
	_, err = h.blobs.Get(ctx, "s1/false_positives/resting/a.jpg")
	require.ErrorIs(t, err, repository.ErrNotFound)

	hooks.putErr = nil
	copyBlobs.fail = true
	_, err = h.svc.Reclassify(ctx, "s1", "a.jpg", "resting")
	require.Error(t, err)

	after, err := h.svc.Get(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "feeding", after.Files["a.jpg"].ImageClass, "ledger is restored when the move fails")
	require.Nil(t, after.Files["a.jpg"].UpdatedAt)
	require.True(t, before.LastActivity.Equal(after.LastActivity))
	_, err = h.blobs.Get(ctx, "s1/images/a.jpg")
	require.NoError(t, err)
}

func TestCorruptLedger(t *testing.T) {
	ctx := context.Background()
	damaged := []byte(`{"sessionId":"s1","lastActivity":"2024-01-01T00:00:00Z","files":[
		{"filename":"a.jpg","dugongCount":1,"imageClass":"feeding"},
		{"filename":"b.jpg","dugongCount":-1}]}`)

	ledgers := &mocks.LedgerRepository{}
	ledgers.On("Get", ctx, "s1").Return(damaged, nil)

	strict := survey.NewService(survey.Dependencies{Ledgers: ledgers}, survey.Config{}, nil)
	_, err := strict.Get(ctx, "s1")
	require.ErrorIs(t, err, ledger.ErrCorruptLedger)

	lenient := survey.NewService(survey.Dependencies{Ledgers: ledgers}, survey.Config{BestEffortRecovery: true}, nil)
	l, err := lenient.Get(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, 1, l.FileCount)
	require.True(t, l.Has("a.jpg"))

	ledgers.On("Get", ctx, "s2").Return([]byte(`garbage`), nil)
	_, err = lenient.Get(ctx, "s2")
	require.ErrorIs(t, err, survey.ErrSessionNotFound)
}

func TestActivity_WithoutLog(t *testing.T) {
	svc := survey.NewService(survey.Dependencies{}, survey.Config{}, nil)
	entries, err := svc.Activity(context.Background(), "s1", 5)
	require.NoError(t, err)
	require.Empty(t, entries)
}
