package domain

import "time"

type EventID string
type ConnectionID string

// DefaultSampleRate is returned for events whose broadcaster has not
// negotiated a rate yet.
const DefaultSampleRate = 44100

// GuestName is the display name of unauthenticated callers.
const GuestName = "Guest"

// Event is the part of an event record the audio hub needs from the
// event collaborator.
type Event struct {
	ID             EventID  `json:"id"`
	Slug           string   `json:"slug"`
	Title          string   `json:"title"`
	AllowAnonymous bool     `json:"allow_anonymous"`
	OrganizerIDs   []UserID `json:"organizer_ids,omitempty"`
	ParticipantIDs []UserID `json:"participant_ids,omitempty"`
}

func (e *Event) HasOrganizer(userID UserID) bool {
	for _, id := range e.OrganizerIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func (e *Event) HasParticipant(userID UserID) bool {
	for _, id := range e.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// StreamStatus is a point-in-time view of one event's audio session.
type StreamStatus struct {
	EventID        EventID   `json:"event_id"`
	Live           bool      `json:"live"`
	SampleRateHz   int       `json:"sample_rate"`
	Listeners      int       `json:"listeners"`
	Managers       int       `json:"managers"`
	Recording      bool      `json:"recording"`
	RecordingSince time.Time `json:"recording_since"`
}
