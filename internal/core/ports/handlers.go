package ports

import (
	"context"

	"eventcast/internal/core/domain"

	"github.com/gin-gonic/gin"
)

type HTTPHandler interface {
	GetEventStatus(c *gin.Context)
	ListRecordings(c *gin.Context)
	DownloadRecording(c *gin.Context)
}

type WebSocketHandler interface {
	HandleMessage(ctx context.Context, connID domain.ConnectionID, message []byte) error
	HandleDisconnect(ctx context.Context, connID domain.ConnectionID)
}
