package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"eventcast/internal/core/domain"
	"eventcast/internal/core/ports"
	"eventcast/pkg/audio/pcm"
	"eventcast/pkg/tracing"

	"go.uber.org/zap"
)

const (
	MinSampleRate = 8000
	MaxSampleRate = 192000
)

type DistributionConfig struct {
	MaxChunkBytes int
}

type liveStream struct {
	broadcaster domain.ConnectionID
	sampleRate  int
	startedAt   time.Time
}

// DistributionService is the audio channel of the hub: it admits
// listeners and managers, binds one broadcaster per event, fans chunks
// out and drives recordings.
type DistributionService struct {
	mu           sync.RWMutex
	streams      map[domain.EventID]*liveStream
	broadcasters map[domain.ConnectionID]domain.EventID

	// recMu orders recording start/stop against stream rate changes so a
	// recording is always written at the rate of the live stream.
	recMu sync.Mutex

	cfg        DistributionConfig
	registry   ports.SessionRegistry
	access     *AccessService
	recordings *RecordingManager
	pusher     ports.Pusher
	publisher  ports.ActivityPublisher
	metrics    ports.AudioMetrics
	logger     *zap.SugaredLogger
}

func NewDistributionService(
	cfg DistributionConfig,
	registry ports.SessionRegistry,
	access *AccessService,
	recordings *RecordingManager,
	pusher ports.Pusher,
	publisher ports.ActivityPublisher,
	metrics ports.AudioMetrics,
	logger *zap.SugaredLogger,
) *DistributionService {
	if publisher == nil {
		publisher = NoopActivityPublisher{}
	}
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	if cfg.MaxChunkBytes <= 0 {
		cfg.MaxChunkBytes = 64 * 1024
	}
	return &DistributionService{
		streams:      make(map[domain.EventID]*liveStream),
		broadcasters: make(map[domain.ConnectionID]domain.EventID),
		cfg:          cfg,
		registry:     registry,
		access:       access,
		recordings:   recordings,
		pusher:       pusher,
		publisher:    publisher,
		metrics:      metrics,
		logger:       logger,
	}
}

// Authorize reports whether caller may listen to eventID.
func (d *DistributionService) Authorize(ctx context.Context, eventID domain.EventID, slug string, caller domain.Identity, token string) bool {
	return d.access.Authorize(ctx, eventID, slug, caller, token)
}

// CanManage reports whether caller may manage eventID.
func (d *DistributionService) CanManage(ctx context.Context, eventID domain.EventID, caller domain.Identity) bool {
	return d.access.CanManage(ctx, eventID, caller)
}

// JoinListener authorizes caller and registers connID as a listener. The
// result carries the sample rate the listener must decode with.
func (d *DistributionService) JoinListener(
	ctx context.Context,
	connID domain.ConnectionID,
	eventID domain.EventID,
	slug string,
	caller domain.Identity,
	token string,
) domain.JoinResult {
	if !d.access.Authorize(ctx, eventID, slug, caller, token) {
		d.metrics.RecordJoinDenied(eventID)
		return domain.JoinResult{
			Allowed:      false,
			SampleRateHz: d.registry.DefaultSampleRate(),
			Reason:       domain.ReasonUnauthorized,
		}
	}

	displayName := caller.DisplayName()
	previous, moved := d.registry.ListenerEvent(connID)
	d.registry.RegisterListener(eventID, connID, displayName)
	if moved && previous != eventID {
		d.metrics.RecordListeners(previous, d.registry.ListenerCount(previous))
	}
	d.metrics.RecordListeners(eventID, d.registry.ListenerCount(eventID))
	d.publish(ctx, eventID, "listener_joined", func(ctx context.Context) error {
		return d.publisher.PublishListenerJoined(ctx, eventID, domain.ListenerInfo{ConnectionID: connID, DisplayName: displayName})
	})

	rate, _ := d.registry.GetSampleRate(eventID)
	result := domain.JoinResult{
		Allowed:      true,
		SampleRateHz: rate,
		Live:         d.IsLive(eventID),
	}
	if !result.Live {
		result.Reason = domain.ReasonNotStarted
	}

	d.logger.Infow("Listener joined",
		"event_id", eventID,
		"connection_id", connID,
		"user_id", caller.UserID,
		"sample_rate", result.SampleRateHz,
		"live", result.Live,
	)
	return result
}

// LeaveListener removes connID from the event it listens to.
func (d *DistributionService) LeaveListener(ctx context.Context, connID domain.ConnectionID) {
	eventID, ok := d.registry.UnregisterListener(connID)
	if !ok {
		return
	}
	d.metrics.RecordListeners(eventID, d.registry.ListenerCount(eventID))
	d.publish(ctx, eventID, "listener_left", func(ctx context.Context) error {
		return d.publisher.PublishListenerLeft(ctx, eventID, domain.ListenerInfo{ConnectionID: connID})
	})
	d.logger.Infow("Listener left", "event_id", eventID, "connection_id", connID)
}

// JoinManager registers connID as a manager of eventID and returns the
// current listeners. Only organizers and admins may manage.
func (d *DistributionService) JoinManager(
	ctx context.Context,
	connID domain.ConnectionID,
	eventID domain.EventID,
	caller domain.Identity,
) ([]domain.ListenerInfo, bool) {
	if !d.access.CanManage(ctx, eventID, caller) {
		return nil, false
	}

	snapshot := d.registry.RegisterManager(eventID, connID)
	d.logger.Infow("Manager joined",
		"event_id", eventID,
		"connection_id", connID,
		"user_id", caller.UserID,
		"listeners", len(snapshot),
	)
	return snapshot, true
}

// StartStream binds connID as the broadcaster of eventID and announces the
// sample rate to everyone in the event. Restarting from the bound
// connection renegotiates the rate.
func (d *DistributionService) StartStream(
	ctx context.Context,
	connID domain.ConnectionID,
	eventID domain.EventID,
	caller domain.Identity,
	sampleRateHz int,
) error {
	ctx, span := tracing.TraceStreamOperation(ctx, "start", string(eventID))
	defer span.End()

	if sampleRateHz < MinSampleRate || sampleRateHz > MaxSampleRate {
		return fmt.Errorf("%w: %d", domain.ErrInvalidSampleRate, sampleRateHz)
	}
	if !d.access.CanManage(ctx, eventID, caller) {
		return domain.ErrForbidden
	}

	d.mu.Lock()
	if current, ok := d.streams[eventID]; ok && current.broadcaster != connID {
		d.mu.Unlock()
		return domain.ErrStreamAlreadyLive
	}
	if other, ok := d.broadcasters[connID]; ok && other != eventID {
		d.mu.Unlock()
		return fmt.Errorf("%w: connection already broadcasts event %s", domain.ErrStreamAlreadyLive, other)
	}
	d.streams[eventID] = &liveStream{
		broadcaster: connID,
		sampleRate:  sampleRateHz,
		startedAt:   time.Now(),
	}
	d.broadcasters[connID] = eventID
	d.registry.SetSampleRate(eventID, sampleRateHz)
	d.mu.Unlock()

	tracing.AddSpanAttributes(ctx,
		tracing.SampleRateKey.Int(sampleRateHz),
		tracing.ConnectionIDKey.String(string(connID)),
		tracing.UserIDKey.String(string(caller.UserID)),
	)
	d.restartRecordingAt(ctx, eventID, sampleRateHz)

	recipients := d.pushToEvent(eventID, ports.OutboundMessage{
		Type:    domain.MsgStreamStarted,
		EventID: eventID,
		Payload: domain.StreamStartedPayload{SampleRate: sampleRateHz},
	})
	tracing.AddSpanAttributes(ctx, tracing.RecipientsKey.Int(recipients))
	d.metrics.RecordStreamStarted(eventID)
	d.publish(ctx, eventID, "stream_started", func(ctx context.Context) error {
		return d.publisher.PublishStreamStarted(ctx, eventID, sampleRateHz)
	})

	d.logger.Infow("Stream started",
		"event_id", eventID,
		"connection_id", connID,
		"user_id", caller.UserID,
		"sample_rate", sampleRateHz,
	)
	return nil
}

// EndStream ends the live stream of eventID on behalf of connID. Only the
// bound broadcaster or a manager of the event may end it.
func (d *DistributionService) EndStream(ctx context.Context, connID domain.ConnectionID, eventID domain.EventID, caller domain.Identity) error {
	d.mu.RLock()
	current, ok := d.streams[eventID]
	d.mu.RUnlock()

	if !ok {
		return domain.ErrStreamNotLive
	}
	if current.broadcaster != connID && !d.access.CanManage(ctx, eventID, caller) {
		return domain.ErrForbidden
	}

	d.endStream(ctx, eventID)
	return nil
}

// endStream unbinds the broadcaster, finalizes any recording and tells
// listeners the stream is over. It returns false if eventID was not live.
func (d *DistributionService) endStream(ctx context.Context, eventID domain.EventID) bool {
	ctx, span := tracing.TraceStreamOperation(ctx, "end", string(eventID))
	defer span.End()

	d.mu.Lock()
	current, ok := d.streams[eventID]
	if ok {
		delete(d.streams, eventID)
		delete(d.broadcasters, current.broadcaster)
		d.registry.ClearSampleRate(eventID)
	}
	d.mu.Unlock()

	if !ok {
		return false
	}

	d.StopRecording(ctx, eventID)

	recipients := d.pushToEvent(eventID, ports.OutboundMessage{
		Type:    domain.MsgStreamEnded,
		EventID: eventID,
	})
	tracing.AddSpanAttributes(ctx, tracing.RecipientsKey.Int(recipients))
	d.metrics.RecordStreamEnded(eventID)
	d.publish(ctx, eventID, "stream_ended", func(ctx context.Context) error {
		return d.publisher.PublishStreamEnded(ctx, eventID)
	})

	d.logger.Infow("Stream ended",
		"event_id", eventID,
		"connection_id", current.broadcaster,
		"duration", time.Since(current.startedAt).String(),
	)
	return true
}

// BroadcastChunk forwards chunk verbatim to every listener of eventID and
// appends it to the active recording. Delivery failures for individual
// listeners never abort the fan-out.
func (d *DistributionService) BroadcastChunk(ctx context.Context, connID domain.ConnectionID, eventID domain.EventID, chunk []byte) error {
	d.mu.RLock()
	current, ok := d.streams[eventID]
	d.mu.RUnlock()

	if !ok {
		return domain.ErrStreamNotLive
	}
	if current.broadcaster != connID {
		return domain.ErrNotBroadcaster
	}
	if err := pcm.Validate(chunk, d.cfg.MaxChunkBytes); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidChunk, err)
	}

	listeners := d.registry.Listeners(eventID)
	result := d.pusher.Broadcast(listeners, ports.OutboundMessage{
		Type:    domain.MsgAudioChunk,
		EventID: eventID,
		Payload: domain.ChunkPayload{Data: chunk},
	})
	if len(result.Failed) > 0 {
		d.logger.Debugw("Chunk not delivered to some listeners",
			"event_id", eventID,
			"failed", len(result.Failed),
			"recipients", result.Recipients,
		)
	}
	d.metrics.RecordChunk(eventID, len(chunk), result)

	d.recordings.Append(eventID, chunk)
	return nil
}

// StartRecording starts recording eventID at the sample rate of its live
// stream. Returns false if caller may not manage the event, the event is
// not live, a recording is already active, or the file cannot be created.
func (d *DistributionService) StartRecording(ctx context.Context, eventID domain.EventID, caller domain.Identity) bool {
	if !d.access.CanManage(ctx, eventID, caller) {
		return false
	}

	d.recMu.Lock()
	defer d.recMu.Unlock()

	d.mu.RLock()
	current, live := d.streams[eventID]
	d.mu.RUnlock()

	if !live {
		d.logger.Warnw("Recording not started",
			"event_id", eventID,
			"user_id", caller.UserID,
			"error", domain.ErrStreamNotLive,
		)
		return false
	}

	if err := d.recordings.Start(ctx, eventID, current.sampleRate); err != nil {
		d.logger.Warnw("Recording not started",
			"event_id", eventID,
			"user_id", caller.UserID,
			"error", err,
		)
		return false
	}
	return true
}

// StopRecording finalizes the recording of eventID and tells the event's
// managers. Returns false when nothing was recording.
func (d *DistributionService) StopRecording(ctx context.Context, eventID domain.EventID) (*domain.RecordingResult, bool) {
	d.recMu.Lock()
	defer d.recMu.Unlock()
	return d.stopRecording(ctx, eventID)
}

func (d *DistributionService) stopRecording(ctx context.Context, eventID domain.EventID) (*domain.RecordingResult, bool) {
	result, ok := d.recordings.Stop(ctx, eventID)
	if !ok {
		return nil, false
	}

	managers := d.registry.Managers(eventID)
	if len(managers) > 0 {
		d.pusher.Broadcast(managers, ports.OutboundMessage{
			Type:    domain.MsgRecordingStopped,
			EventID: eventID,
			Payload: domain.RecordingStoppedPayload{
				Filename: result.Filename,
				Duration: result.DurationSeconds,
			},
		})
	}
	d.publish(ctx, eventID, "recording_completed", func(ctx context.Context) error {
		return d.publisher.PublishRecordingCompleted(ctx, *result)
	})
	return result, true
}

// restartRecordingAt finalizes an active recording whose rate differs from
// sampleRateHz and continues in a new file at the new rate.
func (d *DistributionService) restartRecordingAt(ctx context.Context, eventID domain.EventID, sampleRateHz int) {
	d.recMu.Lock()
	defer d.recMu.Unlock()

	rate, ok := d.recordings.SampleRate(eventID)
	if !ok || rate == sampleRateHz {
		return
	}

	var previous string
	if result, stopped := d.stopRecording(ctx, eventID); stopped {
		previous = result.Filename
	}
	if err := d.recordings.Start(ctx, eventID, sampleRateHz); err != nil {
		d.logger.Errorw("Recording not resumed after rate change",
			"event_id", eventID,
			"sample_rate", sampleRateHz,
			"error", err,
		)
		return
	}
	d.logger.Infow("Recording restarted at new sample rate",
		"event_id", eventID,
		"previous_file", previous,
		"from", rate,
		"to", sampleRateHz,
	)
}

// HandleDisconnect drops every role connID held. A disconnecting
// broadcaster ends its stream, and any recording is finalized before
// HandleDisconnect returns.
func (d *DistributionService) HandleDisconnect(ctx context.Context, connID domain.ConnectionID) {
	d.LeaveListener(ctx, connID)

	if eventID, ok := d.registry.UnregisterManager(connID); ok {
		d.logger.Infow("Manager left", "event_id", eventID, "connection_id", connID)
	}

	d.mu.RLock()
	eventID, broadcasting := d.broadcasters[connID]
	d.mu.RUnlock()

	if broadcasting {
		d.logger.Infow("Broadcaster disconnected", "event_id", eventID, "connection_id", connID)
		d.endStream(ctx, eventID)
	}
}

// IsLive reports whether eventID has a bound broadcaster.
func (d *DistributionService) IsLive(eventID domain.EventID) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.streams[eventID]
	return ok
}

// Status returns a snapshot of eventID's audio session.
func (d *DistributionService) Status(eventID domain.EventID) domain.StreamStatus {
	rate, _ := d.registry.GetSampleRate(eventID)
	status := domain.StreamStatus{
		EventID:      eventID,
		Live:         d.IsLive(eventID),
		SampleRateHz: rate,
		Listeners:    d.registry.ListenerCount(eventID),
		Managers:     len(d.registry.Managers(eventID)),
	}
	if since, ok := d.recordings.Active(eventID); ok {
		status.Recording = true
		status.RecordingSince = since
	}
	return status
}

// Shutdown ends every live stream, finalizing their recordings.
func (d *DistributionService) Shutdown(ctx context.Context) {
	d.mu.RLock()
	ids := make([]domain.EventID, 0, len(d.streams))
	for id := range d.streams {
		ids = append(ids, id)
	}
	d.mu.RUnlock()

	for _, id := range ids {
		d.endStream(ctx, id)
	}
	d.recordings.StopAll(ctx)
}

// pushToEvent sends msg to every listener and manager of eventID and
// returns how many connections it reached.
func (d *DistributionService) pushToEvent(eventID domain.EventID, msg ports.OutboundMessage) int {
	recipients := d.registry.Listeners(eventID)
	seen := make(map[domain.ConnectionID]struct{}, len(recipients))
	for _, id := range recipients {
		seen[id] = struct{}{}
	}
	for _, id := range d.registry.Managers(eventID) {
		if _, dup := seen[id]; !dup {
			recipients = append(recipients, id)
		}
	}
	if len(recipients) == 0 {
		return 0
	}
	return d.pusher.Broadcast(recipients, msg).Delivered
}

func (d *DistributionService) publish(ctx context.Context, eventID domain.EventID, kind string, fn func(context.Context) error) {
	if err := fn(ctx); err != nil {
		d.logger.Warnw("Activity publish failed",
			"event_id", eventID,
			"kind", kind,
			"error", err,
		)
	}
}
