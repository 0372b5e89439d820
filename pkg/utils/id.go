package utils

import (
	"github.com/google/uuid"
)

// GenerateConnectionID generates a unique websocket connection ID
func GenerateConnectionID() string {
	return uuid.NewString()
}

// GenerateRequestID generates a unique request ID
func GenerateRequestID() string {
	return "req_" + uuid.NewString()
}
