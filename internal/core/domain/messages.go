package domain

// Message types exchanged over the audio channel.
const (
	MsgJoinListener   = "join_listener"
	MsgLeaveListener  = "leave_listener"
	MsgJoinManager    = "join_manager"
	MsgStartStream    = "start_stream"
	MsgEndStream      = "end_stream"
	MsgAudioChunk     = "audio_chunk"
	MsgStartRecording = "start_recording"
	MsgStopRecording  = "stop_recording"
	MsgPing           = "ping"

	MsgResult            = "result"
	MsgError             = "error"
	MsgPong              = "pong"
	MsgStreamStarted     = "stream_started"
	MsgStreamEnded       = "stream_ended"
	MsgListenerJoined    = string(ListenerJoined)
	MsgListenerLeft      = string(ListenerLeft)
	MsgListenersSnapshot = "listeners_snapshot"
	MsgRecordingStopped  = "recording_stopped"
)

type StreamStartedPayload struct {
	SampleRate int `json:"sample_rate"`
}

// ChunkPayload carries raw PCM16 bytes. encoding/json writes []byte as
// base64.
type ChunkPayload struct {
	Data []byte `json:"data"`
}

type ListenersSnapshotPayload struct {
	Listeners []ListenerInfo `json:"listeners"`
}

type RecordingStoppedPayload struct {
	Filename string `json:"filename"`
	Duration int    `json:"duration"`
}
