package clients

import (
	"context"
	"fmt"

	"renttrack/internal/domain"
	ws "renttrack/internal/transport/websocket"
)

const ExportsTopic = "exports"

// PropertyTopic is the hub topic carrying ledger events of one property.
func PropertyTopic(propertyID int64) string {
	return fmt.Sprintf("property:%d", propertyID)
}

type WebSocketClient struct {
	hub *ws.Hub
}

func NewWebSocketClient(hub *ws.Hub) *WebSocketClient {
	return &WebSocketClient{
		hub: hub,
	}
}

func (c *WebSocketClient) PublishLedgerEvent(ctx context.Context, ev domain.LedgerEvent) error {
	if c == nil || c.hub == nil {
		return nil
	}
	c.hub.Broadcast(PropertyTopic(ev.PropertyID), &ws.Message{
		Type: string(ev.Type),
		Data: ev,
	})
	return nil
}

func (c *WebSocketClient) NotifyExportProgress(
	ctx context.Context,
	exportID string,
	progress float64,
	stage string,
) error {
	if c == nil || c.hub == nil {
		return nil
	}

	data := map[string]interface{}{
		"id":       exportID,
		"progress": progress,
	}
	if stage != "" {
		data["stage"] = stage
	}

	c.hub.Broadcast(ExportsTopic, &ws.Message{
		Type: "export_progress",
		Data: data,
	})
	return nil
}

func (c *WebSocketClient) NotifyExportComplete(
	ctx context.Context,
	exportID string,
	url string,
	filename string,
) error {
	if c == nil || c.hub == nil {
		return nil
	}

	c.hub.Broadcast(ExportsTopic, &ws.Message{
		Type: "export_complete",
		Data: map[string]interface{}{
			"id":       exportID,
			"url":      url,
			"filename": filename,
		},
	})
	return nil
}

// NotifyExportFailed tells subscribers that an export failed with the provided error message.
func (c *WebSocketClient) NotifyExportFailed(ctx context.Context, exportID string, errMsg string) error {
	if c == nil || c.hub == nil {
		return nil
	}

	c.hub.Broadcast(ExportsTopic, &ws.Message{
		Type: "export_failed",
		Data: map[string]interface{}{
			"id":      exportID,
			"message": errMsg,
		},
	})
	return nil
}
