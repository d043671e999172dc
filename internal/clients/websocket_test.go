package clients

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"renttrack/internal/domain"
	ws "renttrack/internal/transport/websocket"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func subscribe(t *testing.T, topics ...string) (*ws.Hub, *websocket.Conn) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	hub := ws.NewHub(logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.HandleWebSocket(w, r, topics)
	}))
	t.Cleanup(server.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+server.URL[4:], nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return hub.Subscribers(topics[0]) == 1 }, time.Second, 10*time.Millisecond)
	return hub, conn
}

func readData(t *testing.T, conn *websocket.Conn) (ws.Message, map[string]interface{}) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(time.Second))
	var received ws.Message
	require.NoError(t, conn.ReadJSON(&received))

	raw, err := json.Marshal(received.Data)
	require.NoError(t, err)
	var data map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &data))
	return received, data
}

func TestWebSocketClient_PublishLedgerEvent(t *testing.T) {
	hub, conn := subscribe(t, PropertyTopic(5))
	client := NewWebSocketClient(hub)

	err := client.PublishLedgerEvent(context.Background(), domain.LedgerEvent{
		Type:         domain.EventChargeStatus,
		PropertyID:   5,
		RentChargeID: 11,
		Status:       domain.ChargeStatusPaid,
	})
	require.NoError(t, err)

	msg, data := readData(t, conn)
	assert.Equal(t, "property:5", msg.Topic)
	assert.Equal(t, "charge_status_changed", msg.Type)
	assert.Equal(t, "paid", data["status"])
	assert.EqualValues(t, 11, data["rent_charge_id"])
}

func TestWebSocketClient_NotifyExportProgress(t *testing.T) {
	hub, conn := subscribe(t, ExportsTopic)
	client := NewWebSocketClient(hub)

	require.NoError(t, client.NotifyExportProgress(context.Background(), "exports:123", 50.5, "generating"))

	msg, data := readData(t, conn)
	assert.Equal(t, "export_progress", msg.Type)
	assert.Equal(t, ExportsTopic, msg.Topic)
	assert.Equal(t, "exports:123", data["id"])
	assert.Equal(t, 50.5, data["progress"])
	assert.Equal(t, "generating", data["stage"])
}

func TestWebSocketClient_NotifyExportComplete(t *testing.T) {
	hub, conn := subscribe(t, ExportsTopic)
	client := NewWebSocketClient(hub)

	require.NoError(t, client.NotifyExportComplete(context.Background(), "exports:123", "https://example.com/file.xlsx", "arrears.xlsx"))

	msg, data := readData(t, conn)
	assert.Equal(t, "export_complete", msg.Type)
	assert.Equal(t, "https://example.com/file.xlsx", data["url"])
	assert.Equal(t, "arrears.xlsx", data["filename"])
}

func TestWebSocketClient_NotifyExportFailed(t *testing.T) {
	hub, conn := subscribe(t, ExportsTopic)
	client := NewWebSocketClient(hub)

	require.NoError(t, client.NotifyExportFailed(context.Background(), "exports:123", "upload failed"))

	msg, data := readData(t, conn)
	assert.Equal(t, "export_failed", msg.Type)
	assert.Equal(t, "upload failed", data["message"])
}

func TestWebSocketClient_NilHub(t *testing.T) {
	client := NewWebSocketClient(nil)
	ctx := context.Background()

	assert.NoError(t, client.NotifyExportProgress(ctx, "exports:1", 10, ""))
	assert.NoError(t, client.NotifyExportComplete(ctx, "exports:1", "u", "f"))
	assert.NoError(t, client.NotifyExportFailed(ctx, "exports:1", "x"))
	assert.NoError(t, client.PublishLedgerEvent(ctx, domain.LedgerEvent{PropertyID: 1}))
}
