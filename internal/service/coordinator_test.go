package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/timmy/recap/internal/config"
	"github.com/timmy/recap/internal/domain"
)

// fakeStore is an in-memory ContentStore that records the operation order
// per fingerprint.
type fakeStore struct {
	mu      sync.Mutex
	records map[string]*domain.ContentRecord
	ops     map[string][]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records: make(map[string]*domain.ContentRecord),
		ops:     make(map[string][]string),
	}
}

func (s *fakeStore) GetByFingerprint(ctx context.Context, fingerprint string) (*domain.ContentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops[fingerprint] = append(s.ops[fingerprint], "get")
	return s.records[fingerprint], nil
}

func (s *fakeStore) DeleteByFingerprint(ctx context.Context, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops[fingerprint] = append(s.ops[fingerprint], "delete")
	delete(s.records, fingerprint)
	return nil
}

func (s *fakeStore) Insert(ctx context.Context, rec *domain.ContentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops[rec.Fingerprint] = append(s.ops[rec.Fingerprint], "insert")
	s.records[rec.Fingerprint] = rec
	return nil
}

func (s *fakeStore) opsFor(fingerprint string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.ops[fingerprint]))
	copy(out, s.ops[fingerprint])
	return out
}

// fakeVision drives the pipeline without network calls. The payload bytes
// double as the item key for failure and panic injection.
type fakeVision struct {
	mu          sync.Mutex
	detectCalls int
	inflight    int
	maxInflight int

	started chan struct{} // receives one token per DetectContent call
	release chan struct{} // DetectContent blocks on this when non-nil
	failOn  string
	panicOn string
	detType string
}

func (f *fakeVision) DetectContent(ctx context.Context, img []byte, format string) (*ContentDetection, error) {
	f.mu.Lock()
	f.detectCalls++
	f.inflight++
	if f.inflight > f.maxInflight {
		f.maxInflight = f.inflight
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inflight--
		f.mu.Unlock()
	}()

	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}

	key := string(img)
	if f.panicOn != "" && f.panicOn == key {
		panic("detector blew up")
	}
	if f.failOn != "" && f.failOn == key {
		return nil, errors.New("detection failed")
	}

	detType := f.detType
	if detType == "" {
		detType = "other"
	}
	return &ContentDetection{
		Type:       detType,
		Confidence: 0.9,
		Title:      "On Screen Title",
		Channel:    "On Screen Channel",
	}, nil
}

func (f *fakeVision) ExtractText(ctx context.Context, img []byte, format string) (*Extraction, error) {
	return &Extraction{
		ExtractedText: "text extracted from " + string(img),
		Title:         "Extracted Title",
		KeyInsights:   []string{"first insight"},
		Topics:        []string{"testing"},
	}, nil
}

func (f *fakeVision) AnalyzeTranscript(ctx context.Context, title, channel, transcript string) (*Analysis, error) {
	return &Analysis{
		Summary:     strings.Repeat("transcript analysis of "+title+" ", 4),
		KeyInsights: []string{"from transcript"},
	}, nil
}

func (f *fakeVision) AnalyzeVisual(ctx context.Context, ex *Extraction) (*Analysis, error) {
	return &Analysis{
		Summary:     strings.Repeat("visual analysis summary ", 4),
		KeyInsights: ex.KeyInsights,
		Topics:      ex.Topics,
	}, nil
}

func (f *fakeVision) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.detectCalls
}

func (f *fakeVision) peak() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInflight
}

type fakeTranscripts struct {
	transcript string
	err        error
}

func (f *fakeTranscripts) Transcript(ctx context.Context, externalID string) (string, error) {
	return f.transcript, f.err
}

func testPipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{
		ConcurrencyLimit: 3,
		MaxBatchSize:     50,
		MaxPayloadBytes:  1 << 20,
		UnitCost:         0.08,
		JobRetention:     time.Hour,
		ItemTimeout:      time.Minute,
		MinTypeScore:     0.5,
	}
}

func newTestCoordinator(cfg config.PipelineConfig, store *fakeStore, vision *fakeVision, index SearchIndex, transcripts TranscriptFetcher) *Coordinator {
	if index == nil {
		index = &fakeIndex{}
	}
	if transcripts == nil {
		transcripts = &fakeTranscripts{}
	}
	return NewCoordinator(
		cfg,
		store,
		vision,
		NewResolver(index, testResolverConfig()),
		transcripts,
		nil,
		NewCacheGate(testGateConfig()),
	)
}

func makeItems(n int) []BatchItem {
	items := make([]BatchItem, n)
	for i := range items {
		items[i] = BatchItem{
			Filename: fmt.Sprintf("capture-%d.png", i+1),
			Payload:  []byte(fmt.Sprintf("img-%d", i+1)),
			Format:   "png",
		}
	}
	return items
}

func waitForJob(t *testing.T, c *Coordinator, jobID string) *domain.ProcessingJob {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Wait(ctx, jobID); err != nil {
		t.Fatalf("job %s did not settle: %v", jobID, err)
	}
	job, err := c.GetJob(jobID)
	if err != nil {
		t.Fatalf("GetJob(%s): %v", jobID, err)
	}
	return job
}

func TestSubmitBatchValidation(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.MaxBatchSize = 2
	cfg.MaxPayloadBytes = 10

	valid := BatchItem{Filename: "a.png", Payload: []byte("ok"), Format: "png"}

	tests := []struct {
		name  string
		items []BatchItem
	}{
		{"empty batch", nil},
		{"too many items", []BatchItem{valid, {Filename: "b.png", Payload: []byte("ok")}, {Filename: "c.png", Payload: []byte("ok")}}},
		{"missing filename", []BatchItem{{Payload: []byte("ok")}}},
		{"duplicate filename", []BatchItem{valid, valid}},
		{"empty payload", []BatchItem{{Filename: "a.png"}}},
		{"oversized payload", []BatchItem{{Filename: "a.png", Payload: []byte("this payload is too large")}}},
	}

	c := newTestCoordinator(cfg, newFakeStore(), &fakeVision{}, nil, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.SubmitBatch(context.Background(), tt.items, false)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("SubmitBatch() error = %v, want *ValidationError", err)
			}
			if len(verr.Problems) == 0 {
				t.Error("validation error carries no problems")
			}
		})
	}
}

func TestBatchRunsInWaves(t *testing.T) {
	store := newFakeStore()
	vision := &fakeVision{
		started: make(chan struct{}, 10),
		release: make(chan struct{}),
	}
	c := newTestCoordinator(testPipelineConfig(), store, vision, nil, nil)

	job, err := c.SubmitBatch(context.Background(), makeItems(5), false)
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	if want := 5 * 0.08; math.Abs(job.EstimatedCost-want) > 1e-9 {
		t.Errorf("EstimatedCost = %f, want %f", job.EstimatedCost, want)
	}

	// First wave: exactly the concurrency limit starts, the rest hold at
	// the barrier.
	for i := 0; i < 3; i++ {
		select {
		case <-vision.started:
		case <-time.After(2 * time.Second):
			t.Fatalf("wave 1 item %d never started", i+1)
		}
	}
	time.Sleep(50 * time.Millisecond)
	if got := vision.calls(); got != 3 {
		t.Fatalf("detect calls before barrier = %d, want 3", got)
	}

	close(vision.release)
	final := waitForJob(t, c, job.ID)

	if final.Status != domain.JobStatusCompleted {
		t.Errorf("Status = %s, want completed", final.Status)
	}
	if final.SuccessCount != 5 || final.ProcessedCount != 5 {
		t.Errorf("SuccessCount/ProcessedCount = %d/%d, want 5/5", final.SuccessCount, final.ProcessedCount)
	}
	if want := 5 * 0.08; math.Abs(final.ActualCost-want) > 1e-9 {
		t.Errorf("ActualCost = %f, want %f", final.ActualCost, want)
	}
	if peak := vision.peak(); peak > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", peak)
	}
}

func TestItemFailureDoesNotFailJob(t *testing.T) {
	store := newFakeStore()
	vision := &fakeVision{failOn: "img-2"}
	c := newTestCoordinator(testPipelineConfig(), store, vision, nil, nil)

	job, err := c.SubmitBatch(context.Background(), makeItems(3), false)
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	final := waitForJob(t, c, job.ID)

	if final.Status != domain.JobStatusCompleted {
		t.Errorf("Status = %s, want completed", final.Status)
	}
	if final.SuccessCount != 2 || final.FailureCount != 1 {
		t.Errorf("success/failure = %d/%d, want 2/1", final.SuccessCount, final.FailureCount)
	}
	for _, item := range final.Items {
		if item.Filename == "capture-2.png" {
			if item.Status != domain.ItemStatusFailed {
				t.Errorf("item 2 status = %s, want failed", item.Status)
			}
			if item.Error == "" {
				t.Error("failed item carries no error message")
			}
		} else if item.Status != domain.ItemStatusCompleted {
			t.Errorf("item %s status = %s, want completed", item.Filename, item.Status)
		}
	}
}

func TestCachedRecordSkipsPipeline(t *testing.T) {
	store := newFakeStore()
	store.records["capture-1.png"] = &domain.ContentRecord{
		Fingerprint:        "capture-1.png",
		ContentType:        domain.ContentTypeVisual,
		StructuredAnalysis: strings.Repeat("stored analysis ", 10),
	}
	vision := &fakeVision{}
	c := newTestCoordinator(testPipelineConfig(), store, vision, nil, nil)

	job, err := c.SubmitBatch(context.Background(), makeItems(1), false)
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	final := waitForJob(t, c, job.ID)

	if vision.calls() != 0 {
		t.Errorf("detect calls = %d, want 0 for a cache hit", vision.calls())
	}
	item := final.Items[0]
	if !item.Cached {
		t.Error("item not marked cached")
	}
	if item.Cost != 0 || final.ActualCost != 0 {
		t.Errorf("cache hit charged cost %f (job %f), want 0", item.Cost, final.ActualCost)
	}
	if item.Result == nil || item.Result.Fingerprint != "capture-1.png" {
		t.Error("cached item missing stored record")
	}
}

func TestForceReplacesCachedRecord(t *testing.T) {
	store := newFakeStore()
	store.records["capture-1.png"] = &domain.ContentRecord{
		Fingerprint:        "capture-1.png",
		ContentType:        domain.ContentTypeVisual,
		StructuredAnalysis: strings.Repeat("stored analysis ", 10),
	}
	vision := &fakeVision{}
	c := newTestCoordinator(testPipelineConfig(), store, vision, nil, nil)

	job, err := c.SubmitBatch(context.Background(), makeItems(1), true)
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	final := waitForJob(t, c, job.ID)

	if vision.calls() == 0 {
		t.Error("force submission never reached the pipeline")
	}
	item := final.Items[0]
	if item.Cached {
		t.Error("forced item marked cached")
	}
	if item.Cost != 0.08 {
		t.Errorf("item cost = %f, want 0.08", item.Cost)
	}

	// Replacement is always delete then insert, never an update.
	ops := store.opsFor("capture-1.png")
	want := []string{"get", "delete", "insert"}
	if len(ops) != len(want) {
		t.Fatalf("ops = %v, want %v", ops, want)
	}
	for i := range want {
		if ops[i] != want[i] {
			t.Fatalf("ops = %v, want %v", ops, want)
		}
	}
}

func TestStaleRecordIsReplaced(t *testing.T) {
	store := newFakeStore()
	store.records["capture-1.png"] = &domain.ContentRecord{
		Fingerprint:        "capture-1.png",
		ContentType:        domain.ContentTypeVisual,
		StructuredAnalysis: "Analysis unavailable for this capture, retry later please",
	}
	vision := &fakeVision{}
	c := newTestCoordinator(testPipelineConfig(), store, vision, nil, nil)

	job, err := c.SubmitBatch(context.Background(), makeItems(1), false)
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	final := waitForJob(t, c, job.ID)

	if final.Items[0].Cached {
		t.Error("stale record served from cache")
	}
	ops := store.opsFor("capture-1.png")
	if len(ops) != 3 || ops[1] != "delete" || ops[2] != "insert" {
		t.Errorf("ops = %v, want [get delete insert]", ops)
	}
}

func TestVideoContentResolvedThroughIndex(t *testing.T) {
	store := newFakeStore()
	vision := &fakeVision{detType: domain.ContentTypeVideo}
	index := &fakeIndex{
		results: [][]IndexEntry{
			{{
				ExternalID: "vid-42",
				Title:      "On Screen Title",
				Channel:    "On Screen Channel",
				URL:        "https://example.com/vid-42",
			}},
		},
	}
	transcripts := &fakeTranscripts{transcript: strings.Repeat("spoken words ", 40)}
	c := newTestCoordinator(testPipelineConfig(), store, vision, index, transcripts)

	job, err := c.SubmitBatch(context.Background(), makeItems(1), false)
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	final := waitForJob(t, c, job.ID)

	item := final.Items[0]
	if item.Status != domain.ItemStatusCompleted {
		t.Fatalf("item status = %s (error %q)", item.Status, item.Error)
	}
	rec := item.Result
	if rec.ContentType != domain.ContentTypeVideo {
		t.Errorf("ContentType = %s, want video", rec.ContentType)
	}
	if rec.SourceURL != "https://example.com/vid-42" {
		t.Errorf("SourceURL = %q", rec.SourceURL)
	}
	if rec.RawMaterial == "" {
		t.Error("video record has no transcript")
	}
	if rec.Title != "On Screen Title" || rec.Channel != "On Screen Channel" {
		t.Errorf("record identity = %q / %q, want index metadata", rec.Title, rec.Channel)
	}
}

func TestUnmatchedVideoFallsBackToExtraction(t *testing.T) {
	store := newFakeStore()
	vision := &fakeVision{detType: domain.ContentTypeVideo}
	// Index has nothing, so the resolver returns no match.
	c := newTestCoordinator(testPipelineConfig(), store, vision, &fakeIndex{}, nil)

	job, err := c.SubmitBatch(context.Background(), makeItems(1), false)
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	final := waitForJob(t, c, job.ID)

	rec := final.Items[0].Result
	if rec == nil {
		t.Fatalf("item did not complete: %q", final.Items[0].Error)
	}
	if rec.ContentType != domain.ContentTypeVisual {
		t.Errorf("ContentType = %s, want visual fallback", rec.ContentType)
	}
	found := false
	for _, flag := range rec.QualityFlags {
		if flag == domain.FlagFallbackMetadata {
			found = true
		}
	}
	if !found {
		t.Errorf("QualityFlags = %v, want %s", rec.QualityFlags, domain.FlagFallbackMetadata)
	}
}

func TestPanicFailsJobKeepingResults(t *testing.T) {
	store := newFakeStore()
	vision := &fakeVision{panicOn: "img-2"}
	c := newTestCoordinator(testPipelineConfig(), store, vision, nil, nil)

	job, err := c.SubmitBatch(context.Background(), makeItems(2), false)
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	final := waitForJob(t, c, job.ID)

	if final.Status != domain.JobStatusFailed {
		t.Errorf("Status = %s, want failed", final.Status)
	}
	if final.Error == "" {
		t.Error("failed job carries no error")
	}
	if final.SuccessCount != 1 {
		t.Errorf("SuccessCount = %d, want 1 preserved result", final.SuccessCount)
	}
}

func TestJobRetentionPurge(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.JobRetention = 30 * time.Millisecond

	c := newTestCoordinator(cfg, newFakeStore(), &fakeVision{}, nil, nil)
	job, err := c.SubmitBatch(context.Background(), makeItems(1), false)
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	waitForJob(t, c, job.ID)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := c.GetJob(job.ID); errors.Is(err, ErrJobNotFound) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s still present after retention window", job.ID)
}

func TestGetJobUnknownID(t *testing.T) {
	c := newTestCoordinator(testPipelineConfig(), newFakeStore(), &fakeVision{}, nil, nil)
	if _, err := c.GetJob("no-such-job"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("GetJob() error = %v, want ErrJobNotFound", err)
	}
}
