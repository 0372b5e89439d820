package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"eventcast/internal/core/domain"
	"eventcast/internal/core/ports"
	"eventcast/pkg/audio/wav"
	"eventcast/pkg/storage"
	"eventcast/pkg/tracing"

	"go.uber.org/zap"
)

const recordingChannels = 1

type recordingSession struct {
	mu         sync.Mutex
	eventID    domain.EventID
	filename   string
	sampleRate int
	startedAt  time.Time
	writer     *wav.Writer
	closed     bool
	degraded   bool
	appendErrs int
}

// RecordingManager owns at most one WAV recording per event.
type RecordingManager struct {
	mu       sync.Mutex
	sessions map[domain.EventID]*recordingSession

	store   *storage.FileStorage
	repo    ports.RecordingRepository
	metrics ports.AudioMetrics
	now     func() time.Time
	logger  *zap.SugaredLogger
}

func NewRecordingManager(
	store *storage.FileStorage,
	repo ports.RecordingRepository,
	metrics ports.AudioMetrics,
	logger *zap.SugaredLogger,
) *RecordingManager {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &RecordingManager{
		sessions: make(map[domain.EventID]*recordingSession),
		store:    store,
		repo:     repo,
		metrics:  metrics,
		now:      time.Now,
		logger:   logger,
	}
}

// RecordingFilename names a recording by event and UTC start time with
// millisecond precision.
func RecordingFilename(eventID domain.EventID, startedAt time.Time) string {
	return fmt.Sprintf("event_%s_%s.wav", eventID, startedAt.UTC().Format(recordingTimeLayout))
}

const recordingTimeLayout = "20060102T150405.000Z"

// ParseRecordingFilename reverses RecordingFilename.
func ParseRecordingFilename(name string) (domain.EventID, time.Time, bool) {
	const prefix, suffix = "event_", ".wav"
	stamp := len(recordingTimeLayout)
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
		return "", time.Time{}, false
	}

	rest := strings.TrimSuffix(strings.TrimPrefix(name, prefix), suffix)
	if len(rest) < stamp+2 || rest[len(rest)-stamp-1] != '_' {
		return "", time.Time{}, false
	}

	startedAt, err := time.Parse(recordingTimeLayout, rest[len(rest)-stamp:])
	if err != nil {
		return "", time.Time{}, false
	}
	return domain.EventID(rest[:len(rest)-stamp-1]), startedAt, true
}

// Start opens a new recording for eventID. It fails with
// domain.ErrAlreadyRecording when one is active.
func (m *RecordingManager) Start(ctx context.Context, eventID domain.EventID, sampleRate int) error {
	ctx, span := tracing.TraceRecording(ctx, "start", string(eventID))
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[eventID]; exists {
		return domain.ErrAlreadyRecording
	}

	startedAt := m.now()
	filename := RecordingFilename(eventID, startedAt)
	// a restart within the same millisecond must not overwrite the
	// file it just finalized
	for {
		if _, err := m.store.Stat(filename); err != nil {
			break
		}
		startedAt = startedAt.Add(time.Millisecond)
		filename = RecordingFilename(eventID, startedAt)
	}
	path, err := m.store.Path(filename)
	if err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("failed to resolve recording path: %w", err)
	}

	writer, err := wav.NewWriter(path, sampleRate, recordingChannels)
	if err != nil {
		tracing.RecordError(ctx, err)
		m.recordError(eventID, "create")
		return fmt.Errorf("failed to create recording: %w", err)
	}

	m.sessions[eventID] = &recordingSession{
		eventID:    eventID,
		filename:   filename,
		sampleRate: sampleRate,
		startedAt:  startedAt,
		writer:     writer,
	}
	tracing.AddSpanAttributes(ctx, tracing.FilenameKey.String(filename), tracing.SampleRateKey.Int(sampleRate))

	m.metrics.RecordRecordingStarted(eventID)
	m.logger.Infow("Recording started",
		"event_id", eventID,
		"filename", filename,
		"sample_rate", sampleRate,
	)
	return nil
}

// SampleRate returns the rate of the active recording of eventID.
func (m *RecordingManager) SampleRate(eventID domain.EventID) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[eventID]
	if !exists {
		return 0, false
	}
	return session.sampleRate, true
}

// Append writes chunk to the active recording of eventID, if any. A failed
// write marks the recording degraded but keeps it open.
func (m *RecordingManager) Append(eventID domain.EventID, chunk []byte) {
	m.mu.Lock()
	session := m.sessions[eventID]
	m.mu.Unlock()

	if session == nil {
		return
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	if session.closed {
		return
	}
	if err := session.writer.Append(chunk); err != nil {
		session.appendErrs++
		m.recordError(eventID, "append")
		if !session.degraded {
			session.degraded = true
			m.logger.Errorw("Recording append failed",
				"event_id", eventID,
				"filename", session.filename,
				"operation", "append",
				"error", err,
			)
		}
	}
}

// Stop finalizes the active recording of eventID and persists its
// metadata. It returns false when no recording is active. Each session is
// finalized exactly once.
func (m *RecordingManager) Stop(ctx context.Context, eventID domain.EventID) (*domain.RecordingResult, bool) {
	m.mu.Lock()
	session, exists := m.sessions[eventID]
	if exists {
		delete(m.sessions, eventID)
	}
	m.mu.Unlock()

	if !exists {
		return nil, false
	}

	ctx, span := tracing.TraceRecording(ctx, "stop", string(eventID))
	defer span.End()

	session.mu.Lock()
	session.closed = true
	err := session.writer.Complete()
	result := &domain.RecordingResult{
		EventID:         eventID,
		Filename:        session.filename,
		DurationSeconds: session.writer.DurationSeconds(),
		Bytes:           session.writer.DataLength(),
	}
	appendErrs := session.appendErrs
	session.mu.Unlock()

	if err != nil {
		tracing.RecordError(ctx, err)
		m.recordError(eventID, "finalize")
		m.logger.Errorw("Recording finalize failed",
			"event_id", eventID,
			"filename", session.filename,
			"operation", "finalize",
			"error", err,
		)
	}

	meta := domain.RecordingMetadata{
		EventID:         eventID,
		Filename:        result.Filename,
		DurationSeconds: result.DurationSeconds,
		CreatedAt:       session.startedAt,
	}
	if m.repo != nil {
		if err := m.repo.PersistRecordingMetadata(ctx, meta); err != nil {
			m.recordError(eventID, "persist")
			m.logger.Errorw("Recording metadata persist failed",
				"event_id", eventID,
				"filename", result.Filename,
				"operation", "persist",
				"error", err,
			)
		}
	}

	m.metrics.RecordRecordingStopped(eventID, result.DurationSeconds)
	tracing.AddSpanAttributes(ctx, tracing.FilenameKey.String(result.Filename), tracing.DurationKey.Int(result.DurationSeconds))
	m.logger.Infow("Recording stopped",
		"event_id", eventID,
		"filename", result.Filename,
		"duration_seconds", result.DurationSeconds,
		"bytes", result.Bytes,
		"append_errors", appendErrs,
	)
	return result, true
}

// List returns the finished recordings of eventID, newest first. Files on
// disk whose metadata never reached the repository are included with the
// duration read from their header; metadata whose file is gone is not.
func (m *RecordingManager) List(ctx context.Context, eventID domain.EventID) ([]domain.RecordingMetadata, error) {
	names, err := m.store.List(ctx, "event_"+string(eventID)+"_")
	if err != nil {
		return nil, fmt.Errorf("failed to list recordings: %w", err)
	}

	onDisk := make(map[string]time.Time, len(names))
	for _, name := range names {
		id, startedAt, ok := ParseRecordingFilename(name)
		if ok && id == eventID && !m.isActive(eventID, name) {
			onDisk[name] = startedAt
		}
	}

	var list []domain.RecordingMetadata
	if m.repo != nil {
		stored, err := m.repo.ListByEvent(ctx, eventID)
		if err != nil {
			m.logger.Warnw("Recording metadata unavailable, listing files only",
				"event_id", eventID,
				"error", err,
			)
		}
		for _, meta := range stored {
			if _, ok := onDisk[meta.Filename]; ok {
				list = append(list, meta)
				delete(onDisk, meta.Filename)
			}
		}
	}

	for name, startedAt := range onDisk {
		list = append(list, domain.RecordingMetadata{
			EventID:         eventID,
			Filename:        name,
			DurationSeconds: m.fileDuration(ctx, name),
			CreatedAt:       startedAt,
		})
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	return list, nil
}

// Delete removes a finished recording file.
func (m *RecordingManager) Delete(ctx context.Context, filename string) error {
	eventID, _, ok := ParseRecordingFilename(filename)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrRecordingNotFound, filename)
	}
	if m.isActive(eventID, filename) {
		return domain.ErrRecordingActive
	}

	if err := m.store.Delete(ctx, filename); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %s", domain.ErrRecordingNotFound, filename)
		}
		m.recordError(eventID, "delete")
		return fmt.Errorf("failed to delete recording: %w", err)
	}

	m.logger.Infow("Recording deleted", "event_id", eventID, "filename", filename)
	return nil
}

func (m *RecordingManager) isActive(eventID domain.EventID, filename string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[eventID]
	return exists && session.filename == filename
}

func (m *RecordingManager) fileDuration(ctx context.Context, name string) int {
	rc, err := m.store.Load(ctx, name)
	if err != nil {
		return 0
	}
	defer rc.Close()

	header, err := wav.ReadHeader(rc)
	if err != nil {
		m.logger.Debugw("Unreadable recording header", "filename", name, "error", err)
		return 0
	}
	return header.DurationSeconds()
}

// Active reports whether eventID is recording and since when.
func (m *RecordingManager) Active(eventID domain.EventID) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[eventID]
	if !exists {
		return time.Time{}, false
	}
	return session.startedAt, true
}

// StopAll finalizes every active recording. Used on shutdown.
func (m *RecordingManager) StopAll(ctx context.Context) []domain.RecordingResult {
	m.mu.Lock()
	ids := make([]domain.EventID, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var results []domain.RecordingResult
	for _, id := range ids {
		if result, ok := m.Stop(ctx, id); ok {
			results = append(results, *result)
		}
	}
	return results
}

func (m *RecordingManager) recordError(eventID domain.EventID, operation string) {
	m.metrics.RecordRecordingError(eventID, operation)
}
