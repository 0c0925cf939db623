package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/JonMunkholm/tabimport/internal/schema"
	"github.com/google/uuid"
)

// ServiceConfig holds the tunables of a Service. Zero values fall back to
// the package defaults.
type ServiceConfig struct {
	ChunkSize        int
	SuggestThreshold float64
	AutoMapThreshold float64
	SampleSize       int

	// Timeout bounds an asynchronous import session.
	Timeout time.Duration
	// ResultRetention is how long a finished session stays queryable.
	ResultRetention time.Duration

	MaxConcurrent int
	MaxWaitTime   time.Duration
}

// Default session timings.
const (
	DefaultImportTimeout   = 10 * time.Minute
	DefaultResultRetention = 5 * time.Minute
)

func (c ServiceConfig) withDefaults() ServiceConfig {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.SuggestThreshold <= 0 {
		c.SuggestThreshold = SuggestThreshold
	}
	if c.AutoMapThreshold <= 0 {
		c.AutoMapThreshold = AutoMapThreshold
	}
	if c.SampleSize <= 0 {
		c.SampleSize = DefaultSampleSize
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultImportTimeout
	}
	if c.ResultRetention <= 0 {
		c.ResultRetention = DefaultResultRetention
	}
	return c
}

// Service ties schemas, validation, the batch importer and a Store together
// and tracks asynchronous import sessions.
type Service struct {
	registry *schema.Registry
	store    Store
	cfg      ServiceConfig
	limiter  *ImportLimiter
	observer Observer
	logger   *slog.Logger
	now      func() time.Time

	sessions *sessionTable
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithObserver receives row and batch events from every import.
func WithObserver(o Observer) ServiceOption {
	return func(s *Service) { s.observer = o }
}

// WithLogger replaces slog.Default() as the service logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// WithServiceClock sets the clock handed to validators.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service over registry and store.
func NewService(registry *schema.Registry, store Store, cfg ServiceConfig, opts ...ServiceOption) (*Service, error) {
	if registry == nil {
		return nil, fmt.Errorf("new service: nil registry")
	}
	if store == nil {
		return nil, fmt.Errorf("new service: nil store")
	}

	cfg = cfg.withDefaults()
	s := &Service{
		registry: registry,
		store:    store,
		cfg:      cfg,
		limiter:  NewImportLimiter(cfg.MaxConcurrent, cfg.MaxWaitTime),
		observer: nopObserver{},
		logger:   slog.Default(),
		now:      time.Now,
		sessions: newSessionTable(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Entities returns every registered schema, sorted by entity name.
func (s *Service) Entities() []*schema.Schema {
	return s.registry.All()
}

// Schema returns the schema for entity or ErrUnknownEntity.
func (s *Service) Schema(entity string) (*schema.Schema, error) {
	sc, ok := s.registry.Get(entity)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, entity)
	}
	return sc, nil
}

// SuggestMappings proposes a mapping per column using the interactive
// threshold.
func (s *Service) SuggestMappings(entity string, table *Table) ([]ColumnMapping, error) {
	return s.match(entity, table, s.cfg.SuggestThreshold)
}

// AutoMap maps columns using the lower bulk threshold.
func (s *Service) AutoMap(entity string, table *Table) ([]ColumnMapping, error) {
	return s.match(entity, table, s.cfg.AutoMapThreshold)
}

func (s *Service) match(entity string, table *Table, threshold float64) ([]ColumnMapping, error) {
	sc, err := s.Schema(entity)
	if err != nil {
		return nil, err
	}
	return MatchColumns(table.Headers, table.Rows, sc.Fields(), MatchOptions{
		Threshold:  threshold,
		SampleSize: s.cfg.SampleSize,
	}), nil
}

// ApplyOverrides applies explicit column choices to mappings for entity.
func (s *Service) ApplyOverrides(entity string, mappings []ColumnMapping, overrides map[string]string) ([]ColumnMapping, error) {
	sc, err := s.Schema(entity)
	if err != nil {
		return nil, err
	}
	return ApplyOverrides(mappings, overrides, sc.Fields())
}

// ResolveMappings builds the mapping used for an import. A non-nil explicit
// mapping is taken as complete and columns it leaves out stay unmapped;
// otherwise the columns are auto-mapped. overrides are applied last.
func (s *Service) ResolveMappings(entity string, table *Table, explicit []ColumnMapping, overrides map[string]string) ([]ColumnMapping, error) {
	var (
		mappings []ColumnMapping
		err      error
	)
	if explicit != nil {
		base := make([]ColumnMapping, len(table.Headers))
		for i, h := range table.Headers {
			base[i] = ColumnMapping{SourceColumn: h}
		}
		chosen := make(map[string]string, len(explicit))
		for _, m := range explicit {
			chosen[m.SourceColumn] = m.TargetField
		}
		mappings, err = s.ApplyOverrides(entity, base, chosen)
	} else {
		mappings, err = s.AutoMap(entity, table)
	}
	if err != nil || len(overrides) == 0 {
		return mappings, err
	}
	return s.ApplyOverrides(entity, mappings, overrides)
}

// Validate coerces and validates every row of table under mappings.
// It fails with *MappingIncompleteError when a required field is unmapped.
func (s *Service) Validate(entity string, mappings []ColumnMapping, table *Table) ([]ParsedRow, error) {
	sc, err := s.Schema(entity)
	if err != nil {
		return nil, err
	}
	return NewValidator(sc, WithClock(s.now)).ValidateRows(table.Rows, mappings)
}

// Preview reports what importing table would do without writing anything.
func (s *Service) Preview(ctx context.Context, tenant, entity string, table *Table, mappings []ColumnMapping) (*PreviewResponse, error) {
	if tenant == "" {
		return nil, ErrTenantRequired
	}
	rows, err := s.Validate(entity, mappings, table)
	if err != nil {
		return nil, err
	}
	sc, _ := s.Schema(entity)

	resp, err := AnalyzeImport(ctx, s.store, Scope{Tenant: tenant, Entity: entity}, sc, rows)
	if err != nil {
		return nil, err
	}
	resp.Mappings = mappings
	return resp, nil
}

// Import commits rows synchronously. It waits for a limiter slot and for
// any other batch on the same tenant and entity to finish first.
func (s *Service) Import(ctx context.Context, tenant, entity string, rows []ParsedRow, onProgress ProgressFunc) (ImportBatchResult, error) {
	if tenant == "" {
		return ImportBatchResult{}, ErrTenantRequired
	}
	sc, err := s.Schema(entity)
	if err != nil {
		return ImportBatchResult{}, err
	}
	scope := Scope{Tenant: tenant, Entity: entity}

	if err := s.limiter.Acquire(ctx); err != nil {
		return ImportBatchResult{}, err
	}
	defer s.limiter.Release()

	unlock, err := s.limiter.LockScope(ctx, scope)
	if err != nil {
		return ImportBatchResult{}, err
	}
	defer unlock()

	return RunImportBatch(ctx, s.store, scope, sc, rows, BatchOptions{
		ChunkSize:  s.cfg.ChunkSize,
		OnProgress: onProgress,
		Observer:   s.observer,
		Logger:     s.logger,
	})
}

// StartImport validates table and starts committing it in the background.
// It returns the session id immediately. Mapping errors are returned
// synchronously; everything after that is reported through the session.
func (s *Service) StartImport(ctx context.Context, tenant, entity, fileName string, table *Table, mappings []ColumnMapping) (string, error) {
	if tenant == "" {
		return "", ErrTenantRequired
	}
	rows, err := s.Validate(entity, mappings, table)
	if err != nil {
		return "", err
	}
	sc, _ := s.Schema(entity)

	importID := uuid.New().String()

	// The session outlives the request that started it but keeps its values.
	importCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Timeout)

	session := newActiveImport(importID, tenant, entity, fileName, cancel)
	s.sessions.put(session)

	go s.runSession(importCtx, session, sc, rows)

	return importID, nil
}

func (s *Service) runSession(ctx context.Context, session *activeImport, sc *schema.Schema, rows []ParsedRow) {
	startedAt := time.Now()
	logger := s.logger.With("import_id", session.id, "tenant", session.tenant, "entity", session.entity)

	defer func() {
		session.cancel()
		session.closeListeners()
		close(session.done)
		s.sessions.expire(session.id, s.cfg.ResultRetention)
	}()

	invalid := len(rows) - len(ValidSubset(rows))
	result := &ImportSessionResult{
		ImportID:  session.id,
		Tenant:    session.tenant,
		Entity:    session.entity,
		FileName:  session.fileName,
		Invalid:   invalid,
		Errors:    RowErrors(rows),
		StartedAt: startedAt,
	}
	finish := func(phase Phase, errMsg string) {
		result.Error = errMsg
		result.FinishedAt = time.Now()
		session.finish(phase, result)
	}

	session.update(func(p *ImportProgress) {
		p.Phase = PhaseQueued
		p.Invalid = invalid
	})

	if err := s.limiter.Acquire(ctx); err != nil {
		logger.Warn("import could not start", "error", err)
		finish(phaseFor(err), err.Error())
		return
	}
	defer s.limiter.Release()

	scope := Scope{Tenant: session.tenant, Entity: session.entity}
	unlock, err := s.limiter.LockScope(ctx, scope)
	if err != nil {
		finish(phaseFor(err), err.Error())
		return
	}
	defer unlock()

	session.update(func(p *ImportProgress) { p.Phase = PhaseImporting })
	logger.Info("import started", "rows", len(rows), "invalid", invalid)

	batch, err := RunImportBatch(ctx, s.store, scope, sc, rows, BatchOptions{
		ChunkSize: s.cfg.ChunkSize,
		OnProgress: func(p Progress) {
			session.update(func(ip *ImportProgress) { ip.Progress = p })
		},
		Observer: s.observer,
		Logger:   logger,
	})
	result.Batch = batch

	if err != nil {
		finish(phaseFor(err), "import cancelled: "+err.Error())
		return
	}
	finish(PhaseComplete, batch.Diagnostic)
}

func phaseFor(err error) Phase {
	if errors.Is(err, ErrTooManyImports) {
		return PhaseFailed
	}
	return PhaseCancelled
}

// SubscribeProgress returns a channel of progress updates for importID.
// The current state is sent immediately and the channel is closed when the
// session ends.
func (s *Service) SubscribeProgress(importID string) (<-chan ImportProgress, error) {
	session, ok := s.sessions.get(importID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrImportNotFound, importID)
	}
	return session.subscribe(), nil
}

// CancelImport stops a running session between rows.
func (s *Service) CancelImport(importID string) error {
	session, ok := s.sessions.get(importID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrImportNotFound, importID)
	}
	session.cancel()
	return nil
}

// GetImportResult blocks until the session finishes or ctx is done.
func (s *Service) GetImportResult(ctx context.Context, importID string) (*ImportSessionResult, error) {
	session, ok := s.sessions.get(importID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrImportNotFound, importID)
	}

	select {
	case <-session.done:
		return session.resultSnapshot(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetImportProgress returns the current progress without blocking.
func (s *Service) GetImportProgress(importID string) (ImportProgress, error) {
	session, ok := s.sessions.get(importID)
	if !ok {
		return ImportProgress{}, fmt.Errorf("%w: %s", ErrImportNotFound, importID)
	}
	return session.snapshot(), nil
}

// WaitForImports blocks until all running sessions release their slots.
func (s *Service) WaitForImports(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// LimiterStatus reports the concurrency limiter's state.
func (s *Service) LimiterStatus() ImportLimiterStatus {
	return s.limiter.Status()
}

// Template returns the CSV template for entity and its download name.
func (s *Service) Template(entity string) ([]byte, string, error) {
	sc, err := s.Schema(entity)
	if err != nil {
		return nil, "", err
	}
	data, err := Template(sc)
	if err != nil {
		return nil, "", err
	}
	return data, TemplateFileName(sc), nil
}
