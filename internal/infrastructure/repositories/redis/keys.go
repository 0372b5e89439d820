package redis

import "eventcast/internal/core/domain"

const keyPrefix = "eventcast:"

func eventKey(id domain.EventID) string {
	return keyPrefix + "event:" + string(id)
}

func organizersKey(id domain.EventID) string {
	return eventKey(id) + ":organizers"
}

func participantsKey(id domain.EventID) string {
	return eventKey(id) + ":participants"
}

func eventIndexKey() string {
	return keyPrefix + "events"
}

func recordingsKey(id domain.EventID) string {
	return keyPrefix + "recordings:" + string(id)
}

// ActivityChannel is the pub/sub channel hub activity is published on.
func ActivityChannel(id domain.EventID) string {
	return keyPrefix + "activity:" + string(id)
}

// ActivityPattern matches every activity channel.
const ActivityPattern = keyPrefix + "activity:*"
