package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"strings"
	"sync"
	"time"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/google/uuid"

	"github.com/timmy/recap/internal/config"
	"github.com/timmy/recap/internal/domain"
	"github.com/timmy/recap/internal/logger"
	"github.com/timmy/recap/internal/storage"
)

// ErrJobNotFound is returned when a job ID is unknown or already purged.
var ErrJobNotFound = errors.New("job not found")

// ContentStore is the slice of the repository the coordinator needs.
type ContentStore interface {
	GetByFingerprint(ctx context.Context, fingerprint string) (*domain.ContentRecord, error)
	DeleteByFingerprint(ctx context.Context, fingerprint string) error
	Insert(ctx context.Context, rec *domain.ContentRecord) error
}

// AnalysisProvider is the vision pipeline the coordinator drives per capture.
type AnalysisProvider interface {
	DetectContent(ctx context.Context, image []byte, format string) (*ContentDetection, error)
	ExtractText(ctx context.Context, image []byte, format string) (*Extraction, error)
	AnalyzeTranscript(ctx context.Context, title, channel, transcript string) (*Analysis, error)
	AnalyzeVisual(ctx context.Context, ex *Extraction) (*Analysis, error)
}

// TranscriptFetcher fetches raw material for resolved video content.
type TranscriptFetcher interface {
	Transcript(ctx context.Context, externalID string) (string, error)
}

// BatchItem is one capture submitted for processing.
type BatchItem struct {
	Filename string
	Payload  []byte
	Format   string
}

// ValidationError reports why a batch submission was rejected.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid batch: " + strings.Join(e.Problems, "; ")
}

// Coordinator runs batch jobs over the capture pipeline. Each job processes
// its items in waves of at most the configured concurrency limit, with a
// barrier between waves. Item failures are isolated; only a bug escaping an
// item boundary fails the whole job.
type Coordinator struct {
	cfg         config.PipelineConfig
	store       ContentStore
	vision      AnalysisProvider
	resolver    *Resolver
	transcripts TranscriptFetcher
	captures    storage.ObjectStorage
	gate        *CacheGate

	mu    sync.RWMutex
	jobs  map[string]*jobEntry
	locks keyedMutex
}

type jobEntry struct {
	job   *domain.ProcessingJob
	done  chan struct{}
	timer *time.Timer
}

// NewCoordinator creates a coordinator. captures may be nil when object
// storage is disabled; all other dependencies are required.
func NewCoordinator(
	cfg config.PipelineConfig,
	store ContentStore,
	vision AnalysisProvider,
	resolver *Resolver,
	transcripts TranscriptFetcher,
	captures storage.ObjectStorage,
	gate *CacheGate,
) *Coordinator {
	return &Coordinator{
		cfg:         cfg,
		store:       store,
		vision:      vision,
		resolver:    resolver,
		transcripts: transcripts,
		captures:    captures,
		gate:        gate,
		jobs:        make(map[string]*jobEntry),
	}
}

// SubmitBatch validates a batch, registers a job for it, and starts
// processing on a detached goroutine. The returned job is a snapshot; poll
// GetJob for progress.
// Parameters:
//   - ctx: context for the submission itself, not for processing.
//   - items: captures to process; filenames must be unique within the batch.
//   - force: bypass the cache gate and reprocess every item.
// Returns:
//   - *domain.ProcessingJob: snapshot of the newly registered job.
//   - error: *ValidationError if the batch is rejected.
func (c *Coordinator) SubmitBatch(ctx context.Context, items []BatchItem, force bool) (*domain.ProcessingJob, error) {
	if err := c.validate(items); err != nil {
		return nil, err
	}

	job := &domain.ProcessingJob{
		ID:            uuid.New().String(),
		Status:        domain.JobStatusProcessing,
		CreatedAt:     time.Now(),
		TotalItems:    len(items),
		EstimatedCost: float64(len(items)) * c.cfg.UnitCost,
		Items:         make([]domain.CaptureItem, len(items)),
	}
	for i, item := range items {
		job.Items[i] = domain.CaptureItem{
			Filename: item.Filename,
			Status:   domain.ItemStatusPending,
		}
	}

	c.mu.Lock()
	c.jobs[job.ID] = &jobEntry{
		job:  job,
		done: make(chan struct{}),
	}
	snap := c.snapshot(job)
	c.mu.Unlock()

	logger.CtxInfo(ctx, "job %s accepted with %d items (force=%v)", job.ID, len(items), force)

	// Processing outlives the submitting request.
	go c.run(job.ID, items, force)

	return snap, nil
}

func (c *Coordinator) validate(items []BatchItem) error {
	var problems []string
	if len(items) == 0 {
		problems = append(problems, "batch is empty")
	}
	if len(items) > c.cfg.MaxBatchSize {
		problems = append(problems, fmt.Sprintf("batch has %d items, maximum is %d", len(items), c.cfg.MaxBatchSize))
	}

	seen := make(map[string]bool, len(items))
	for i, item := range items {
		switch {
		case item.Filename == "":
			problems = append(problems, fmt.Sprintf("item %d has no filename", i))
		case seen[item.Filename]:
			problems = append(problems, fmt.Sprintf("duplicate filename %q", item.Filename))
		default:
			seen[item.Filename] = true
		}
		if len(item.Payload) == 0 {
			problems = append(problems, fmt.Sprintf("item %d (%s) has no payload", i, item.Filename))
		} else if len(item.Payload) > c.cfg.MaxPayloadBytes {
			problems = append(problems, fmt.Sprintf("item %d (%s) exceeds %d bytes", i, item.Filename, c.cfg.MaxPayloadBytes))
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// GetJob returns a snapshot of a job's current state.
func (c *Coordinator) GetJob(jobID string) (*domain.ProcessingJob, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	return c.snapshot(entry.job), nil
}

// Wait blocks until the job settles or the context is canceled.
func (c *Coordinator) Wait(ctx context.Context, jobID string) error {
	c.mu.RLock()
	entry, ok := c.jobs[jobID]
	c.mu.RUnlock()
	if !ok {
		return ErrJobNotFound
	}
	select {
	case <-entry.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// snapshot copies a job so callers never observe in-flight mutation.
// Must be called with c.mu held (read or write).
func (c *Coordinator) snapshot(job *domain.ProcessingJob) *domain.ProcessingJob {
	cp := *job
	cp.Items = make([]domain.CaptureItem, len(job.Items))
	copy(cp.Items, job.Items)
	return &cp
}

// run executes the wave schedule for a job. It owns the job lifecycle from
// processing to completed or failed, and schedules the retention purge.
func (c *Coordinator) run(jobID string, items []BatchItem, force bool) {
	ctx := logger.SetJobID(context.Background(), jobID)
	ctx = logger.SetComponent(ctx, "coordinator")

	limit := c.cfg.ConcurrencyLimit
	if limit <= 0 {
		limit = 1
	}

	start := time.Now()
	for offset := 0; offset < len(items); offset += limit {
		end := offset + limit
		if end > len(items) {
			end = len(items)
		}

		var wg sync.WaitGroup
		for _, item := range items[offset:end] {
			wg.Add(1)
			go func(item BatchItem) {
				defer wg.Done()
				// An escaping panic is a bug, not an item failure. It fails
				// the whole job while keeping already completed results.
				defer func() {
					if r := recover(); r != nil {
						logger.CtxError(ctx, "panic processing %s: %v", item.Filename, r)
						c.failJob(jobID, fmt.Sprintf("internal error processing %s: %v", item.Filename, r))
					}
				}()
				c.processItem(ctx, jobID, item, force)
			}(item)
		}
		wg.Wait()

		if c.jobFailed(jobID) {
			break
		}
	}

	c.settle(ctx, jobID, time.Since(start))
}

func (c *Coordinator) processItem(ctx context.Context, jobID string, item BatchItem, force bool) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ItemTimeout)
	defer cancel()
	ctx = logger.WithField(ctx, logger.FieldFingerprint, item.Filename)

	c.updateItem(jobID, item.Filename, func(ci *domain.CaptureItem) {
		ci.Status = domain.ItemStatusProcessing
	})

	// Serialize concurrent work on the same fingerprint across jobs.
	unlock := c.locks.lock(item.Filename)
	defer unlock()

	existing, err := c.store.GetByFingerprint(ctx, item.Filename)
	if err != nil {
		c.failItem(jobID, item.Filename, fmt.Errorf("fingerprint lookup failed: %w", err))
		return
	}

	if c.gate.Evaluate(existing, force) {
		logger.CtxInfo(ctx, "serving cached record")
		c.completeItem(jobID, item.Filename, existing, true, 0)
		return
	}

	if existing != nil {
		logger.CtxInfo(ctx, "existing record is stale, reprocessing")
		if err := c.store.DeleteByFingerprint(ctx, item.Filename); err != nil {
			c.failItem(jobID, item.Filename, fmt.Errorf("failed to invalidate stale record: %w", err))
			return
		}
	}

	rec, err := c.analyze(ctx, item)
	if err != nil {
		c.failItem(jobID, item.Filename, err)
		return
	}

	c.uploadCapture(ctx, item, rec)

	rec.Cost = c.cfg.UnitCost
	rec.ProcessedAt = time.Now()
	if err := c.store.Insert(ctx, rec); err != nil {
		c.failItem(jobID, item.Filename, fmt.Errorf("failed to persist record: %w", err))
		return
	}

	c.completeItem(jobID, item.Filename, rec, false, c.cfg.UnitCost)
}

// analyze runs the vision pipeline for one capture and assembles the record.
func (c *Coordinator) analyze(ctx context.Context, item BatchItem) (*domain.ContentRecord, error) {
	det, err := c.vision.DetectContent(ctx, item.Payload, item.Format)
	if err != nil {
		return nil, err
	}
	logger.CtxDebug(ctx, "detected type=%s confidence=%.2f title=%q", det.Type, det.Confidence, det.Title)

	rec := &domain.ContentRecord{
		Fingerprint: item.Filename,
		Confidence:  det.Confidence,
	}
	rec.Width, rec.Height = decodeDimensions(item.Payload)

	var flags []string
	var analysis *Analysis

	if det.Type == domain.ContentTypeVideo && det.Confidence >= c.cfg.MinTypeScore {
		if match := c.resolver.Resolve(ctx, det.Title, det.Channel); match != nil {
			analysis, flags = c.analyzeVideo(ctx, match, rec)
		} else {
			logger.CtxInfo(ctx, "no index match for %q, falling back to extraction", det.Title)
			flags = append(flags, domain.FlagFallbackMetadata)
		}
	}

	if rec.ContentType == "" {
		ex, err := c.vision.ExtractText(ctx, item.Payload, item.Format)
		if err != nil {
			return nil, err
		}
		rec.ContentType = domain.ContentTypeVisual
		rec.Title = ex.Title
		if (ex.Title == "" || ex.Title == "Untitled capture") && det.Title != "" {
			rec.Title = det.Title
		}
		rec.Channel = det.Channel
		rec.RawMaterial = ex.ExtractedText

		analysis, err = c.vision.AnalyzeVisual(ctx, ex)
		if err != nil {
			logger.CtxWarn(ctx, "visual analysis failed: %v", err)
			analysis = &Analysis{Summary: "Failed to generate analysis", Degraded: true}
		}
	}

	if analysis.Degraded {
		flags = append(flags, domain.FlagUnparseableAnalysis)
		// Degraded analyses store their sentinel summary as plain text so the
		// cache gate recognizes the record as stale on the next submission.
		rec.StructuredAnalysis = analysis.Summary
	} else {
		blob, err := json.Marshal(analysis)
		if err != nil {
			return nil, fmt.Errorf("failed to encode analysis: %w", err)
		}
		rec.StructuredAnalysis = string(blob)
	}

	rec.KeyInsights = domain.StringArray(analysis.KeyInsights)
	rec.Topics = domain.StringArray(analysis.Topics)
	rec.PeopleMentioned = domain.StringArray(analysis.PeopleMentioned)
	rec.QualityFlags = domain.StringArray(flags)
	return rec, nil
}

// analyzeVideo fills the record from a resolved index match and its
// transcript. Transcript and analysis failures degrade instead of failing
// the item; the resulting flags tell the gate to retry next time.
func (c *Coordinator) analyzeVideo(ctx context.Context, match *Match, rec *domain.ContentRecord) (*Analysis, []string) {
	var flags []string

	transcript, err := c.transcripts.Transcript(ctx, match.ExternalID)
	if err != nil {
		logger.CtxWarn(ctx, "transcript fetch failed: %v", err)
		transcript = ""
	}
	if transcript == "" {
		flags = append(flags, domain.FlagTranscriptUnavailable)
	}

	analysis, err := c.vision.AnalyzeTranscript(ctx, match.Title, match.Channel, transcript)
	if err != nil {
		logger.CtxWarn(ctx, "transcript analysis failed: %v", err)
		analysis = &Analysis{Summary: "Failed to generate analysis", Degraded: true}
	}

	rec.ContentType = domain.ContentTypeVideo
	rec.Title = match.Title
	rec.Channel = match.Channel
	rec.SourceURL = match.URL
	rec.RawMaterial = transcript
	rec.Confidence = match.Score
	return analysis, flags
}

// uploadCapture stores the original capture bytes when object storage is
// enabled. Upload failures are logged and do not fail the item.
func (c *Coordinator) uploadCapture(ctx context.Context, item BatchItem, rec *domain.ContentRecord) {
	if c.captures == nil {
		return
	}
	format := item.Format
	if format == "" {
		format = "png"
	}
	contentType := "image/" + format
	if err := c.captures.Upload(ctx, item.Filename, bytes.NewReader(item.Payload), int64(len(item.Payload)), contentType); err != nil {
		logger.CtxWarn(ctx, "capture upload failed: %v", err)
		return
	}
	rec.CaptureURL = c.captures.GetURL(item.Filename)
}

func decodeDimensions(payload []byte) (int, int) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(payload))
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}

func (c *Coordinator) updateItem(jobID, filename string, fn func(*domain.CaptureItem)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.jobs[jobID]
	if !ok {
		return
	}
	for i := range entry.job.Items {
		if entry.job.Items[i].Filename == filename {
			fn(&entry.job.Items[i])
			return
		}
	}
}

func (c *Coordinator) completeItem(jobID, filename string, rec *domain.ContentRecord, cached bool, cost float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.jobs[jobID]
	if !ok {
		return
	}
	for i := range entry.job.Items {
		if entry.job.Items[i].Filename == filename {
			entry.job.Items[i].Status = domain.ItemStatusCompleted
			entry.job.Items[i].Result = rec
			entry.job.Items[i].Cached = cached
			entry.job.Items[i].Cost = cost
			break
		}
	}
	entry.job.ProcessedCount++
	entry.job.SuccessCount++
	entry.job.ActualCost += cost
}

func (c *Coordinator) failItem(jobID, filename string, err error) {
	logger.GetDefault().WithFields(logger.Fields{
		logger.FieldJobID:       jobID,
		logger.FieldFingerprint: filename,
	}).WithError(err).Error("item failed")

	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.jobs[jobID]
	if !ok {
		return
	}
	for i := range entry.job.Items {
		if entry.job.Items[i].Filename == filename {
			entry.job.Items[i].Status = domain.ItemStatusFailed
			entry.job.Items[i].Error = err.Error()
			break
		}
	}
	entry.job.ProcessedCount++
	entry.job.FailureCount++
}

func (c *Coordinator) failJob(jobID, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.jobs[jobID]
	if !ok {
		return
	}
	entry.job.Status = domain.JobStatusFailed
	entry.job.Error = msg
}

func (c *Coordinator) jobFailed(jobID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.jobs[jobID]
	return ok && entry.job.Status == domain.JobStatusFailed
}

// settle finalizes the job status, closes the done channel, and schedules
// the retention purge.
func (c *Coordinator) settle(ctx context.Context, jobID string, elapsed time.Duration) {
	c.mu.Lock()
	entry, ok := c.jobs[jobID]
	if !ok {
		c.mu.Unlock()
		return
	}
	if entry.job.Status != domain.JobStatusFailed {
		entry.job.Status = domain.JobStatusCompleted
	}
	now := time.Now()
	entry.job.CompletedAt = &now
	entry.timer = time.AfterFunc(c.cfg.JobRetention, func() {
		c.removeJob(jobID)
	})
	status := entry.job.Status
	success := entry.job.SuccessCount
	failure := entry.job.FailureCount
	cost := entry.job.ActualCost
	close(entry.done)
	c.mu.Unlock()

	logger.CtxInfo(ctx, "job settled status=%s success=%d failure=%d cost=%.2f in %s",
		status, success, failure, cost, elapsed.Round(time.Millisecond))
}

func (c *Coordinator) removeJob(jobID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.jobs, jobID)
}
