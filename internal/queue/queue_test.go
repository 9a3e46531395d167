package queue

import (
	"encoding/json"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/reelforge/internal/config"
	"github.com/therealutkarshpriyadarshi/reelforge/pkg/models"
)

func TestNewUploadMessage(t *testing.T) {
	now := time.Date(2026, 6, 1, 9, 30, 0, 0, time.UTC)
	req := &models.UploadRequest{
		MediaPath: "/artifacts/video_1.mp4",
		ObjectKey: "tiktok/video_1.mp4",
		Caption:   "Morning fog over the harbour",
		Tags:      []string{"fog", "harbour"},
		Platform:  models.PlatformTikTok.Name,
		Width:     720,
		Height:    1280,
	}

	msg, err := NewUploadMessage(req, now)
	require.NoError(t, err)

	assert.NotEmpty(t, req.ID)
	assert.Equal(t, now, req.CreatedAt)
	assert.Equal(t, req.ID, msg.MessageId)
	assert.Equal(t, uint8(amqp.Persistent), msg.DeliveryMode)
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, MessageTypeUploadRequest, msg.Type)

	var decoded models.UploadRequest
	require.NoError(t, json.Unmarshal(msg.Body, &decoded))
	assert.Equal(t, req.Caption, decoded.Caption)
	assert.Equal(t, req.Tags, decoded.Tags)
	assert.Equal(t, 1280, decoded.Height)
}

func TestNewUploadMessageKeepsID(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	req := &models.UploadRequest{ID: "req-1", MediaPath: "a.mp4", Platform: models.PlatformShorts.Name, CreatedAt: created}

	msg, err := NewUploadMessage(req, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "req-1", msg.MessageId)
	assert.Equal(t, created, req.CreatedAt)
}

func TestNewUploadMessageValidation(t *testing.T) {
	_, err := NewUploadMessage(&models.UploadRequest{Platform: models.PlatformTikTok.Name}, time.Now())
	assert.Error(t, err)

	_, err = NewUploadMessage(&models.UploadRequest{MediaPath: "a.mp4"}, time.Now())
	assert.Error(t, err)
}

func TestNames(t *testing.T) {
	exchange, queueName := names(config.QueueConfig{})
	assert.Equal(t, DefaultExchangeName, exchange)
	assert.Equal(t, DefaultQueueName, queueName)

	exchange, queueName = names(config.QueueConfig{Exchange: "media", QueueName: "publish"})
	assert.Equal(t, "media", exchange)
	assert.Equal(t, "publish", queueName)
}

func TestDeadLetterArgs(t *testing.T) {
	args := deadLetterArgs("reelforge", "upload_requests")
	assert.Equal(t, "reelforge.dlq", args["x-dead-letter-exchange"])
	assert.Equal(t, "upload_requests.dlq", args["x-dead-letter-routing-key"])
}
