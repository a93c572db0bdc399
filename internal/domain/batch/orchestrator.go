package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/extraction/internal/domain/extraction"
	"github.com/ehr/extraction/internal/platform/cache"
	"github.com/ehr/extraction/internal/platform/db"
	"github.com/ehr/extraction/internal/platform/events"
)

var (
	ErrNoFiles       = errors.New("at least one file is required")
	ErrTooManyFiles  = errors.New("too many files in batch")
	ErrNotFound      = errors.New("batch not found")
	ErrShuttingDown  = errors.New("batch orchestrator is shutting down")
	errBadTransition = errors.New("invalid file status transition")
)

type DocumentProcessor interface {
	Process(ctx context.Context, req extraction.ProcessRequest) (*extraction.Outcome, error)
}

// Snapshots mirrors in-flight jobs for readers on other instances. Misses
// are reported as cache.ErrCacheMiss.
type Snapshots interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Scope runs fn with a database connection bound to tenantID.
type Scope func(ctx context.Context, tenantID string, fn func(ctx context.Context) error) error

type Config struct {
	MaxFiles       int
	InterFileDelay time.Duration
	SnapshotTTL    time.Duration
}

type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

type SubmitRequest struct {
	TenantID    string
	WorkspaceID uuid.UUID
	CreatedBy   string
	PatientID   *uuid.UUID
	EncounterID *uuid.UUID
	TemplateID  *uuid.UUID
	Files       []Upload
}

// entry is one in-flight batch. Its mutex guards job; uploads is only
// touched by the goroutine driving the batch.
type entry struct {
	mu      sync.Mutex
	job     *Job
	uploads []Upload
	saved   bool
}

// Orchestrator drives batches. Each batch runs on its own goroutine and
// processes its files one after another; batches run independently.
type Orchestrator struct {
	cfg       Config
	processor DocumentProcessor
	store     Store
	cache     Snapshots
	scope     Scope
	publisher events.Publisher
	logger    zerolog.Logger
	now       func() time.Time

	mu      sync.RWMutex
	batches map[uuid.UUID]*entry
	closing bool
	wg      sync.WaitGroup
}

// NewOrchestrator builds an orchestrator. snapshots may be nil, in which
// case progress is only visible on the instance running the batch. scope
// may be nil when the processor needs no tenant connection.
func NewOrchestrator(cfg Config, processor DocumentProcessor, store Store, snapshots Snapshots,
	scope Scope, publisher events.Publisher, logger zerolog.Logger) *Orchestrator {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if scope == nil {
		scope = func(ctx context.Context, _ string, fn func(ctx context.Context) error) error { return fn(ctx) }
	}
	return &Orchestrator{
		cfg:       cfg,
		processor: processor,
		store:     store,
		cache:     snapshots,
		scope:     scope,
		publisher: publisher,
		logger:    logger.With().Str("component", "batch").Logger(),
		now:       time.Now,
		batches:   make(map[uuid.UUID]*entry),
	}
}

// Submit registers a batch and starts it in the background. The returned
// job is a snapshot taken before any file has started.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*Job, error) {
	if err := o.CheckFileCount(len(req.Files)); err != nil {
		return nil, err
	}

	now := o.now().UTC()
	job := &Job{
		ID:          uuid.New(),
		WorkspaceID: req.WorkspaceID,
		TenantID:    req.TenantID,
		CreatedBy:   req.CreatedBy,
		PatientID:   req.PatientID,
		EncounterID: req.EncounterID,
		TemplateID:  req.TemplateID,
		Status:      JobPending,
		TotalFiles:  len(req.Files),
		Progress:    Progress{Pending: len(req.Files)},
		Files:       make([]FileTask, len(req.Files)),
		CreatedAt:   now,
	}
	for i, f := range req.Files {
		job.Files[i] = FileTask{
			Index:       i,
			Filename:    f.Filename,
			Size:        int64(len(f.Data)),
			ContentType: f.ContentType,
			Status:      FilePending,
		}
	}
	e := &entry{job: job, uploads: req.Files}

	o.mu.Lock()
	if o.closing {
		o.mu.Unlock()
		return nil, ErrShuttingDown
	}
	o.batches[job.ID] = e
	o.wg.Add(1)
	o.mu.Unlock()

	snap := job.clone()
	o.mirror(ctx, snap)

	o.logger.Info().
		Str("batch_id", job.ID.String()).
		Str("tenant_id", job.TenantID).
		Int("total_files", job.TotalFiles).
		Msg("batch submitted")

	go o.run(context.WithoutCancel(ctx), e)
	return snap, nil
}

// CheckFileCount enforces the per-batch file limits.
func (o *Orchestrator) CheckFileCount(n int) error {
	if n == 0 {
		return ErrNoFiles
	}
	if o.cfg.MaxFiles > 0 && n > o.cfg.MaxFiles {
		return fmt.Errorf("%w: %d files, maximum is %d", ErrTooManyFiles, n, o.cfg.MaxFiles)
	}
	return nil
}

func (o *Orchestrator) run(ctx context.Context, e *entry) {
	defer o.wg.Done()

	e.mu.Lock()
	started := o.now().UTC()
	e.job.Status = JobProcessing
	e.job.StartedAt = &started
	e.mu.Unlock()

	for i := range e.uploads {
		if i > 0 {
			o.pause(ctx)
		}
		o.processFile(ctx, e, i)
	}
	o.finish(ctx, e)
}

func (o *Orchestrator) pause(ctx context.Context) {
	if o.cfg.InterFileDelay <= 0 {
		return
	}
	t := time.NewTimer(o.cfg.InterFileDelay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func (o *Orchestrator) processFile(ctx context.Context, e *entry, i int) {
	o.transition(ctx, e, i, FileProcessing, nil)

	out, err := o.processSafely(ctx, e, i)
	e.uploads[i].Data = nil

	if err != nil {
		msg := err.Error()
		o.logger.Warn().Err(err).
			Str("batch_id", e.job.ID.String()).
			Int("file_index", i).
			Msg("batch file failed")
		o.transition(ctx, e, i, FileFailed, func(ft *FileTask) { ft.Error = &msg })
		return
	}
	o.transition(ctx, e, i, FileCompleted, func(ft *FileTask) {
		ft.DocumentID = &out.Document.ID
		ft.ExtractionID = &out.Record.ID
		ft.PageCount = out.Document.PageCount
	})
}

// processSafely runs one file through the processor. A panic is turned
// into an error so that the remaining files still run.
func (o *Orchestrator) processSafely(ctx context.Context, e *entry, i int) (out *extraction.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error().
				Str("batch_id", e.job.ID.String()).
				Int("file_index", i).
				Str("stack", string(debug.Stack())).
				Msgf("panic while processing batch file: %v", r)
			out, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()

	job := e.job
	upload := e.uploads[i]
	req := extraction.ProcessRequest{
		WorkspaceID: job.WorkspaceID,
		UploadedBy:  job.CreatedBy,
		PatientID:   job.PatientID,
		EncounterID: job.EncounterID,
		TemplateID:  job.TemplateID,
		BatchID:     &job.ID,
		Filename:    upload.Filename,
		ContentType: upload.ContentType,
		Data:        upload.Data,
	}
	err = o.scope(ctx, job.TenantID, func(ctx context.Context) error {
		var perr error
		out, perr = o.processor.Process(ctx, req)
		return perr
	})
	if err == nil && (out == nil || out.Document == nil || out.Record == nil) {
		err = errors.New("processor returned no outcome")
	}
	return out, err
}

func validTransition(from, to FileStatus) bool {
	switch from {
	case FilePending:
		return to == FileProcessing
	case FileProcessing:
		return to == FileCompleted || to == FileFailed
	}
	return false
}

// transition is the only place a FileTask status changes. The task write,
// the bucket move and the completion check happen under one lock.
func (o *Orchestrator) transition(ctx context.Context, e *entry, i int, to FileStatus, mutate func(*FileTask)) {
	e.mu.Lock()
	job := e.job
	ft := &job.Files[i]
	from := ft.Status
	if !validTransition(from, to) {
		e.mu.Unlock()
		o.logger.Error().Err(errBadTransition).
			Str("batch_id", job.ID.String()).
			Int("file_index", i).
			Str("from", string(from)).
			Str("to", string(to)).
			Msg("transition rejected")
		return
	}

	*job.Progress.bucket(from)--
	*job.Progress.bucket(to)++
	ft.Status = to

	now := o.now().UTC()
	if to == FileProcessing {
		ft.StartedAt = &now
	} else {
		ft.CompletedAt = &now
	}
	if mutate != nil {
		mutate(ft)
	}
	if job.Progress.Done() {
		job.Status = JobCompleted
		job.CompletedAt = &now
	}
	snap := job.clone()
	e.mu.Unlock()

	o.logger.Debug().
		Str("batch_id", snap.ID.String()).
		Int("file_index", i).
		Str("from", string(from)).
		Str("to", string(to)).
		Interface("progress", snap.Progress).
		Msg("file transition")
	o.mirror(ctx, snap)
}

func (o *Orchestrator) finish(ctx context.Context, e *entry) {
	e.mu.Lock()
	snap := e.job.clone()
	e.mu.Unlock()

	o.logger.Info().
		Str("batch_id", snap.ID.String()).
		Int("completed", snap.Progress.Completed).
		Int("failed", snap.Progress.Failed).
		Msg("batch completed")

	o.persist(ctx, e, snap)

	ev := events.New(events.BatchCompleted, snap.TenantID, snap.WorkspaceID.String(), snap.ID.String(), map[string]any{
		"total_files": snap.TotalFiles,
		"progress":    snap.Progress,
	})
	if err := o.publisher.Publish(ctx, ev); err != nil {
		o.logger.Warn().Err(err).Str("batch_id", snap.ID.String()).Msg("publish event failed")
	}
}

// persist writes the finished job once and drops it from the registry only
// when the write succeeded, so an unsaved job stays readable.
func (o *Orchestrator) persist(ctx context.Context, e *entry, snap *Job) bool {
	err := o.scope(ctx, snap.TenantID, func(ctx context.Context) error {
		return o.store.Save(ctx, snap)
	})
	if err != nil {
		o.logger.Error().Err(err).Str("batch_id", snap.ID.String()).Msg("persist batch failed; keeping it in memory")
		return false
	}

	e.mu.Lock()
	e.saved = true
	e.mu.Unlock()

	o.mu.Lock()
	delete(o.batches, snap.ID)
	o.mu.Unlock()
	return true
}

func snapshotKey(tenantID string, id uuid.UUID) string {
	return "batch:" + tenantID + ":" + id.String()
}

func (o *Orchestrator) mirror(ctx context.Context, snap *Job) {
	if o.cache == nil {
		return
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		o.logger.Warn().Err(err).Str("batch_id", snap.ID.String()).Msg("encode batch snapshot failed")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := o.cache.Set(ctx, snapshotKey(snap.TenantID, snap.ID), raw, o.cfg.SnapshotTTL); err != nil {
		o.logger.Warn().Err(err).Str("batch_id", snap.ID.String()).Msg("mirror batch snapshot failed")
	}
}

// Get returns the current state of a batch: the in-memory job if this
// instance runs it, else the mirrored snapshot, else the stored job.
func (o *Orchestrator) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	tenant := db.TenantFromContext(ctx)

	o.mu.RLock()
	e, ok := o.batches[id]
	o.mu.RUnlock()
	if ok {
		e.mu.Lock()
		snap := e.job.clone()
		e.mu.Unlock()
		if tenant == "" || snap.TenantID == tenant {
			return snap, nil
		}
		return nil, ErrNotFound
	}

	if o.cache != nil {
		raw, err := o.cache.Get(ctx, snapshotKey(tenant, id))
		switch {
		case err == nil:
			var job Job
			if err := json.Unmarshal(raw, &job); err == nil {
				return &job, nil
			}
		case !errors.Is(err, cache.ErrCacheMiss):
			o.logger.Warn().Err(err).Str("batch_id", id.String()).Msg("read batch snapshot failed")
		}
	}

	return o.store.Get(ctx, id)
}

// List merges this instance's in-flight batches with stored ones, newest
// first.
func (o *Orchestrator) List(ctx context.Context, workspaceID uuid.UUID, limit int) ([]*Job, error) {
	tenant := db.TenantFromContext(ctx)
	stored, err := o.store.List(ctx, workspaceID, limit)
	if err != nil {
		return nil, err
	}

	seen := make(map[uuid.UUID]bool, len(stored))
	out := make([]*Job, 0, len(stored))

	o.mu.RLock()
	for _, e := range o.batches {
		e.mu.Lock()
		if e.job.WorkspaceID == workspaceID && (tenant == "" || e.job.TenantID == tenant) {
			out = append(out, e.job.clone())
			seen[e.job.ID] = true
		}
		e.mu.Unlock()
	}
	o.mu.RUnlock()

	for _, j := range stored {
		if !seen[j.ID] {
			out = append(out, j)
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// InFlight reports how many batches this instance holds in memory.
func (o *Orchestrator) InFlight() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.batches)
}

// Shutdown stops accepting batches and waits for running ones to finish.
// Batches whose final write failed get one more attempt.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closing = true
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("waiting for %d batches: %w", o.InFlight(), ctx.Err())
	}

	o.mu.RLock()
	pending := make([]*entry, 0, len(o.batches))
	for _, e := range o.batches {
		pending = append(pending, e)
	}
	o.mu.RUnlock()

	var failed int
	for _, e := range pending {
		e.mu.Lock()
		snap, saved := e.job.clone(), e.saved
		e.mu.Unlock()
		if saved || !snap.Progress.Done() {
			continue
		}
		if !o.persist(ctx, e, snap) {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d completed batches could not be persisted", failed)
	}
	return nil
}
