package domain

import "errors"

var (
	ErrEventNotFound      = errors.New("event not found")
	ErrForbidden          = errors.New("forbidden")
	ErrNotBroadcaster     = errors.New("connection is not the broadcaster for this event")
	ErrStreamAlreadyLive  = errors.New("event already has a live broadcaster")
	ErrStreamNotLive      = errors.New("stream has not started")
	ErrInvalidChunk       = errors.New("invalid audio chunk")
	ErrInvalidSampleRate  = errors.New("invalid sample rate")
	ErrAlreadyRecording   = errors.New("recording already active")
	ErrNotRecording       = errors.New("no active recording")
	ErrRecordingActive    = errors.New("recording is still being written")
	ErrRecordingNotFound  = errors.New("recording not found")
	ErrConnectionNotFound = errors.New("connection not found")
)
