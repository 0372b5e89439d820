package services

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"eventcast/internal/core/domain"
	"eventcast/pkg/audio/pcm"
	"eventcast/pkg/audio/wav"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testChunk(seed, samples int) []byte {
	out := make([]float32, samples)
	for i := range out {
		out[i] = float32((seed*31+i)%200-100) / 100
	}
	return pcm.Encode(out)
}

func chunkData(t *testing.T, hub *testHub, connID domain.ConnectionID) [][]byte {
	t.Helper()
	var out [][]byte
	for _, msg := range hub.pusher.messages(connID, domain.MsgAudioChunk) {
		payload, ok := msg.Payload.(domain.ChunkPayload)
		require.True(t, ok)
		out = append(out, payload.Data)
	}
	return out
}

func TestDistribution_JoinBeforeAndAfterStart(t *testing.T) {
	hub := newTestHub(t)
	ctx := context.Background()

	early := hub.service.JoinListener(ctx, "l1", "ev1", "launch", participant, "")
	assert.True(t, early.Allowed)
	assert.False(t, early.Live)
	assert.Equal(t, domain.DefaultSampleRate, early.SampleRateHz)
	assert.Equal(t, domain.ReasonNotStarted, early.Reason)

	require.NoError(t, hub.service.StartStream(ctx, "b1", "ev1", organizer, 48000))

	started := hub.pusher.messages("l1", domain.MsgStreamStarted)
	require.Len(t, started, 1)
	assert.Equal(t, domain.StreamStartedPayload{SampleRate: 48000}, started[0].Payload)

	late := hub.service.JoinListener(ctx, "l2", "ev1", "", participant, "")
	assert.True(t, late.Allowed)
	assert.True(t, late.Live)
	assert.Equal(t, 48000, late.SampleRateHz)
	assert.Empty(t, late.Reason)
}

func TestDistribution_JoinUsesConfiguredDefaultRate(t *testing.T) {
	hub := newTestHub(t)
	hub.registry.WithDefaultSampleRate(48000)
	ctx := context.Background()

	early := hub.service.JoinListener(ctx, "l1", "ev1", "", participant, "")
	assert.False(t, early.Live)
	assert.Equal(t, 48000, early.SampleRateHz)

	denied := hub.service.JoinListener(ctx, "l2", "ev1", "", stranger, "")
	assert.False(t, denied.Allowed)
	assert.Equal(t, 48000, denied.SampleRateHz)
	assert.Equal(t, 48000, hub.service.Status("ev1").SampleRateHz)
}

func TestDistribution_JoinDenied(t *testing.T) {
	hub := newTestHub(t)

	result := hub.service.JoinListener(context.Background(), "l1", "ev1", "", stranger, "")
	assert.False(t, result.Allowed)
	assert.Equal(t, domain.ReasonUnauthorized, result.Reason)
	assert.Zero(t, hub.registry.ListenerCount("ev1"))
}

func TestDistribution_FanoutCompleteness(t *testing.T) {
	hub := newTestHub(t)
	ctx := context.Background()

	listeners := []domain.ConnectionID{"l1", "l2", "l3"}
	for _, id := range listeners {
		require.True(t, hub.service.JoinListener(ctx, id, "ev2", "", guest, "").Allowed)
	}
	require.NoError(t, hub.service.StartStream(ctx, "b1", "ev2", admin, 44100))

	var sent [][]byte
	for i := 0; i < 20; i++ {
		chunk := testChunk(i, 1024)
		sent = append(sent, chunk)
		require.NoError(t, hub.service.BroadcastChunk(ctx, "b1", "ev2", chunk))
	}

	for _, id := range listeners {
		assert.Equal(t, sent, chunkData(t, hub, id), "listener %s", id)
	}
}

func TestDistribution_FailingListenerDoesNotAbortFanout(t *testing.T) {
	hub := newTestHub(t)
	ctx := context.Background()

	for _, id := range []domain.ConnectionID{"l1", "l2", "l3"} {
		hub.service.JoinListener(ctx, id, "ev2", "", guest, "")
	}
	hub.pusher.failing["l2"] = true
	require.NoError(t, hub.service.StartStream(ctx, "b1", "ev2", admin, 44100))

	chunk := testChunk(1, 256)
	require.NoError(t, hub.service.BroadcastChunk(ctx, "b1", "ev2", chunk))

	assert.Equal(t, [][]byte{chunk}, chunkData(t, hub, "l1"))
	assert.Empty(t, chunkData(t, hub, "l2"))
	assert.Equal(t, [][]byte{chunk}, chunkData(t, hub, "l3"))
}

func TestDistribution_BroadcasterBinding(t *testing.T) {
	hub := newTestHub(t)
	ctx := context.Background()

	err := hub.service.BroadcastChunk(ctx, "b1", "ev1", testChunk(0, 8))
	assert.ErrorIs(t, err, domain.ErrStreamNotLive)

	assert.ErrorIs(t, hub.service.StartStream(ctx, "b1", "ev1", participant, 48000), domain.ErrForbidden)
	assert.ErrorIs(t, hub.service.StartStream(ctx, "b1", "ev1", organizer, 1000), domain.ErrInvalidSampleRate)

	require.NoError(t, hub.service.StartStream(ctx, "b1", "ev1", organizer, 48000))
	assert.ErrorIs(t, hub.service.StartStream(ctx, "b2", "ev1", admin, 48000), domain.ErrStreamAlreadyLive)

	err = hub.service.BroadcastChunk(ctx, "b2", "ev1", testChunk(0, 8))
	assert.ErrorIs(t, err, domain.ErrNotBroadcaster)

	err = hub.service.BroadcastChunk(ctx, "b1", "ev1", []byte{1, 2, 3})
	assert.ErrorIs(t, err, domain.ErrInvalidChunk)

	err = hub.service.BroadcastChunk(ctx, "b1", "ev1", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidChunk)

	err = hub.service.BroadcastChunk(ctx, "b1", "ev1", make([]byte, 64*1024+2))
	assert.ErrorIs(t, err, domain.ErrInvalidChunk)

	// renegotiation from the bound connection
	require.NoError(t, hub.service.StartStream(ctx, "b1", "ev1", organizer, 44100))
	rate, ok := hub.registry.GetSampleRate("ev1")
	assert.True(t, ok)
	assert.Equal(t, 44100, rate)
}

func TestDistribution_EndStream(t *testing.T) {
	hub := newTestHub(t)
	ctx := context.Background()

	hub.service.JoinListener(ctx, "l1", "ev1", "", participant, "")
	require.NoError(t, hub.service.StartStream(ctx, "b1", "ev1", organizer, 48000))

	assert.ErrorIs(t, hub.service.EndStream(ctx, "l1", "ev1", participant), domain.ErrForbidden)
	require.NoError(t, hub.service.EndStream(ctx, "b1", "ev1", organizer))
	assert.ErrorIs(t, hub.service.EndStream(ctx, "b1", "ev1", organizer), domain.ErrStreamNotLive)

	assert.Len(t, hub.pusher.messages("l1", domain.MsgStreamEnded), 1)
	assert.False(t, hub.service.IsLive("ev1"))
	_, ok := hub.registry.GetSampleRate("ev1")
	assert.False(t, ok)

	// the event can go live again with a new broadcaster
	require.NoError(t, hub.service.StartStream(ctx, "b2", "ev1", admin, 22050))
}

func TestDistribution_RecordingFidelity(t *testing.T) {
	hub := newTestHub(t)
	ctx := context.Background()
	hub.recRepo.On("PersistRecordingMetadata", mock.Anything, mock.Anything).Return(nil).Once()

	require.NoError(t, hub.service.StartStream(ctx, "b1", "ev1", organizer, 48000))
	require.True(t, hub.service.StartRecording(ctx, "ev1", organizer))

	var want bytes.Buffer
	for i := 0; i < 50; i++ {
		chunk := testChunk(i, 4800)
		want.Write(chunk)
		require.NoError(t, hub.service.BroadcastChunk(ctx, "b1", "ev1", chunk))
	}

	result, ok := hub.service.StopRecording(ctx, "ev1")
	require.True(t, ok)
	assert.Equal(t, 5, result.DurationSeconds)
	assert.Equal(t, int64(want.Len()), result.Bytes)
	assert.Regexp(t, `^event_ev1_\d{8}T\d{6}\.\d{3}Z\.wav$`, result.Filename)

	path, err := hub.store.Path(result.Filename)
	require.NoError(t, err)
	file, err := wav.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 48000, file.Header.SampleRate)
	assert.Equal(t, 1, file.Header.Channels)
	assert.Equal(t, want.Bytes(), file.Data)

	hub.recRepo.AssertCalled(t, "PersistRecordingMetadata", mock.Anything, mock.MatchedBy(func(meta domain.RecordingMetadata) bool {
		return meta.EventID == "ev1" && meta.Filename == result.Filename && meta.DurationSeconds == 5
	}))
}

func TestDistribution_AtMostOneRecording(t *testing.T) {
	hub := newTestHub(t)
	ctx := context.Background()
	hub.recRepo.On("PersistRecordingMetadata", mock.Anything, mock.Anything).Return(nil)

	require.NoError(t, hub.service.StartStream(ctx, "b1", "ev1", organizer, 48000))
	assert.False(t, hub.service.StartRecording(ctx, "ev1", participant))

	require.True(t, hub.service.StartRecording(ctx, "ev1", organizer))
	assert.False(t, hub.service.StartRecording(ctx, "ev1", admin))

	first, ok := hub.service.StopRecording(ctx, "ev1")
	require.True(t, ok)
	_, ok = hub.service.StopRecording(ctx, "ev1")
	assert.False(t, ok)

	require.True(t, hub.service.StartRecording(ctx, "ev1", organizer))
	second, ok := hub.service.StopRecording(ctx, "ev1")
	require.True(t, ok)
	assert.NotEqual(t, first.Filename, second.Filename)

	files, err := hub.store.List(ctx, "event_ev1_")
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestDistribution_RecordingRequiresLiveStream(t *testing.T) {
	hub := newTestHub(t)
	ctx := context.Background()
	hub.recRepo.On("PersistRecordingMetadata", mock.Anything, mock.Anything).Return(nil)

	assert.False(t, hub.service.StartRecording(ctx, "ev1", organizer))
	_, recording := hub.recordings.Active("ev1")
	assert.False(t, recording)

	files, err := hub.store.List(ctx, "event_ev1_")
	require.NoError(t, err)
	assert.Empty(t, files)

	require.NoError(t, hub.service.StartStream(ctx, "b1", "ev1", organizer, 48000))
	require.True(t, hub.service.StartRecording(ctx, "ev1", organizer))
	require.NoError(t, hub.service.BroadcastChunk(ctx, "b1", "ev1", testChunk(0, 4800)))

	result, ok := hub.service.StopRecording(ctx, "ev1")
	require.True(t, ok)

	path, err := hub.store.Path(result.Filename)
	require.NoError(t, err)
	file, err := wav.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 48000, file.Header.SampleRate)
}

func TestDistribution_RateChangeRestartsRecording(t *testing.T) {
	hub := newTestHub(t)
	ctx := context.Background()
	hub.recRepo.On("PersistRecordingMetadata", mock.Anything, mock.Anything).Return(nil)

	hub.service.JoinManager(ctx, "m1", "ev1", organizer)
	require.NoError(t, hub.service.StartStream(ctx, "b1", "ev1", organizer, 44100))
	require.True(t, hub.service.StartRecording(ctx, "ev1", organizer))

	before := testChunk(1, 4410)
	require.NoError(t, hub.service.BroadcastChunk(ctx, "b1", "ev1", before))

	// same rate: the recording carries on
	require.NoError(t, hub.service.StartStream(ctx, "b1", "ev1", organizer, 44100))
	assert.Empty(t, hub.pusher.messages("m1", domain.MsgRecordingStopped))

	require.NoError(t, hub.service.StartStream(ctx, "b1", "ev1", organizer, 48000))
	stopped := hub.pusher.messages("m1", domain.MsgRecordingStopped)
	require.Len(t, stopped, 1)
	first := stopped[0].Payload.(domain.RecordingStoppedPayload)

	rate, ok := hub.recordings.SampleRate("ev1")
	require.True(t, ok)
	assert.Equal(t, 48000, rate)

	after := testChunk(2, 4800)
	require.NoError(t, hub.service.BroadcastChunk(ctx, "b1", "ev1", after))
	second, ok := hub.service.StopRecording(ctx, "ev1")
	require.True(t, ok)
	assert.NotEqual(t, first.Filename, second.Filename)

	for _, tt := range []struct {
		filename string
		rate     int
		data     []byte
	}{
		{first.Filename, 44100, before},
		{second.Filename, 48000, after},
	} {
		path, err := hub.store.Path(tt.filename)
		require.NoError(t, err)
		file, err := wav.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, tt.rate, file.Header.SampleRate, tt.filename)
		assert.Equal(t, tt.data, file.Data, tt.filename)
	}
}

func TestDistribution_AppendFailureKeepsFanoutAndRecording(t *testing.T) {
	hub := newTestHub(t)
	ctx := context.Background()
	hub.recRepo.On("PersistRecordingMetadata", mock.Anything, mock.Anything).Return(nil)

	hub.service.JoinListener(ctx, "l1", "ev1", "", participant, "")
	require.NoError(t, hub.service.StartStream(ctx, "b1", "ev1", organizer, 8000))
	require.True(t, hub.service.StartRecording(ctx, "ev1", organizer))

	var sent [][]byte
	first := testChunk(0, 8000)
	sent = append(sent, first)
	require.NoError(t, hub.service.BroadcastChunk(ctx, "b1", "ev1", first))

	// the file handle goes away under the session
	hub.recordings.mu.Lock()
	session := hub.recordings.sessions["ev1"]
	hub.recordings.mu.Unlock()
	require.NotNil(t, session)
	require.NoError(t, session.writer.Complete())

	for i := 1; i < 4; i++ {
		chunk := testChunk(i, 8000)
		sent = append(sent, chunk)
		require.NoError(t, hub.service.BroadcastChunk(ctx, "b1", "ev1", chunk))
	}
	assert.Equal(t, sent, chunkData(t, hub, "l1"))

	session.mu.Lock()
	assert.True(t, session.degraded)
	assert.Equal(t, 3, session.appendErrs)
	session.mu.Unlock()

	_, recording := hub.recordings.Active("ev1")
	assert.True(t, recording)

	result, ok := hub.service.StopRecording(ctx, "ev1")
	require.True(t, ok)
	assert.NotEmpty(t, result.Filename)
	assert.Equal(t, 1, result.DurationSeconds)
	assert.Equal(t, int64(len(first)), result.Bytes)
}

func TestDistribution_PersistFailureStillReturnsResult(t *testing.T) {
	hub := newTestHub(t)
	ctx := context.Background()
	hub.recRepo.On("PersistRecordingMetadata", mock.Anything, mock.Anything).Return(errors.New("store down"))

	hub.service.JoinManager(ctx, "m1", "ev1", organizer)
	require.NoError(t, hub.service.StartStream(ctx, "b1", "ev1", organizer, 48000))
	require.True(t, hub.service.StartRecording(ctx, "ev1", organizer))

	result, ok := hub.service.StopRecording(ctx, "ev1")
	require.True(t, ok)
	assert.NotEmpty(t, result.Filename)

	stopped := hub.pusher.messages("m1", domain.MsgRecordingStopped)
	require.Len(t, stopped, 1)
	assert.Equal(t, domain.RecordingStoppedPayload{Filename: result.Filename, Duration: 0}, stopped[0].Payload)
}

func TestDistribution_BroadcasterDisconnectFinalizesOnce(t *testing.T) {
	hub := newTestHub(t)
	ctx := context.Background()
	hub.recRepo.On("PersistRecordingMetadata", mock.Anything, mock.Anything).Return(nil).Once()

	hub.service.JoinListener(ctx, "l1", "ev1", "", participant, "")
	_, ok := hub.service.JoinManager(ctx, "m1", "ev1", organizer)
	require.True(t, ok)
	require.NoError(t, hub.service.StartStream(ctx, "b1", "ev1", organizer, 48000))
	require.True(t, hub.service.StartRecording(ctx, "ev1", organizer))
	require.NoError(t, hub.service.BroadcastChunk(ctx, "b1", "ev1", testChunk(0, 480)))

	hub.service.HandleDisconnect(ctx, "b1")

	hub.recRepo.AssertNumberOfCalls(t, "PersistRecordingMetadata", 1)
	assert.False(t, hub.service.IsLive("ev1"))
	assert.Len(t, hub.pusher.messages("l1", domain.MsgStreamEnded), 1)
	assert.Len(t, hub.pusher.messages("m1", domain.MsgStreamEnded), 1)
	assert.Len(t, hub.pusher.messages("m1", domain.MsgRecordingStopped), 1)

	_, ok = hub.service.StopRecording(ctx, "ev1")
	assert.False(t, ok)

	hub.service.HandleDisconnect(ctx, "b1")
	hub.recRepo.AssertNumberOfCalls(t, "PersistRecordingMetadata", 1)
}

func TestDistribution_DisconnectCleansMembership(t *testing.T) {
	hub := newTestHub(t)
	ctx := context.Background()

	hub.service.JoinManager(ctx, "m1", "ev1", organizer)
	hub.service.JoinListener(ctx, "l1", "ev1", "", participant, "")

	joined := hub.pusher.messages("m1", domain.MsgListenerJoined)
	require.Len(t, joined, 1)
	assert.Equal(t, domain.ListenerInfo{ConnectionID: "l1", DisplayName: "pat"}, joined[0].Payload)

	hub.service.HandleDisconnect(ctx, "l1")
	assert.Zero(t, hub.registry.ListenerCount("ev1"))
	assert.Len(t, hub.pusher.messages("m1", domain.MsgListenerLeft), 1)

	hub.service.HandleDisconnect(ctx, "m1")
	assert.Empty(t, hub.registry.Managers("ev1"))
	assert.Empty(t, hub.registry.Events())
}

func TestDistribution_ManagerRequiresOrganizer(t *testing.T) {
	hub := newTestHub(t)
	ctx := context.Background()

	hub.service.JoinListener(ctx, "l1", "ev1", "", participant, "")

	_, ok := hub.service.JoinManager(ctx, "m1", "ev1", participant)
	assert.False(t, ok)

	snapshot, ok := hub.service.JoinManager(ctx, "m1", "ev1", admin)
	require.True(t, ok)
	assert.Equal(t, []domain.ListenerInfo{{ConnectionID: "l1", DisplayName: "pat"}}, snapshot)

	pushed := hub.pusher.messages("m1", domain.MsgListenersSnapshot)
	require.Len(t, pushed, 1)
	assert.Equal(t, domain.ListenersSnapshotPayload{Listeners: snapshot}, pushed[0].Payload)
}

func TestDistribution_Status(t *testing.T) {
	hub := newTestHub(t)
	ctx := context.Background()
	hub.recRepo.On("PersistRecordingMetadata", mock.Anything, mock.Anything).Return(nil)

	status := hub.service.Status("ev1")
	assert.False(t, status.Live)
	assert.Equal(t, domain.DefaultSampleRate, status.SampleRateHz)

	hub.service.JoinListener(ctx, "l1", "ev1", "", participant, "")
	hub.service.JoinManager(ctx, "m1", "ev1", organizer)
	require.NoError(t, hub.service.StartStream(ctx, "b1", "ev1", organizer, 48000))
	require.True(t, hub.service.StartRecording(ctx, "ev1", organizer))

	status = hub.service.Status("ev1")
	assert.True(t, status.Live)
	assert.Equal(t, 48000, status.SampleRateHz)
	assert.Equal(t, 1, status.Listeners)
	assert.Equal(t, 1, status.Managers)
	assert.True(t, status.Recording)
	assert.False(t, status.RecordingSince.IsZero())

	hub.service.Shutdown(ctx)
	assert.False(t, hub.service.Status("ev1").Recording)
}
