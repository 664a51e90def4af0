package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"screentimed/internal/domain"
	"screentimed/internal/infra"
)

const (
	writeWait      = 10 * time.Second
	readWait       = 30 * time.Second
	maxMessageSize = 1024 * 16
	pushBatchSize  = 100

	// SecretKeyAuthToken names the pairing credential in the secret
	// store.
	SecretKeyAuthToken = "authToken"
)

// ActionStore is the subset of the store the client drains.
type ActionStore interface {
	PendingActions(ctx context.Context, limit int) ([]domain.ActionRecord, error)
	MarkActionsSynced(ctx context.Context, throughSequence int64) error
}

// Client pushes queued actions to the family server over a websocket.
// Each push opens a fresh connection; the daemon holds no standing
// connection so transient network loss costs nothing.
type Client struct {
	serverURL string
	deviceID  string
	store     ActionStore
	secrets   *infra.SecretStore
	logger    *zap.Logger
	dialer    *websocket.Dialer
}

// NewClient creates a sync client for the given server URL.
func NewClient(serverURL, deviceID string, store ActionStore, secrets *infra.SecretStore, logger *zap.Logger) *Client {
	return &Client{
		serverURL: serverURL,
		deviceID:  deviceID,
		store:     store,
		secrets:   secrets,
		logger:    logger,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// pushEnvelope is one uploaded batch.
type pushEnvelope struct {
	Type      string           `json:"type"`
	DeviceID  string           `json:"deviceId"`
	AuthToken string           `json:"authToken"`
	Actions   []envelopeAction `json:"actions"`
}

type envelopeAction struct {
	Sequence int64           `json:"sequence"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
}

// ackMessage is the server's confirmation.
type ackMessage struct {
	Type            string `json:"type"`
	ThroughSequence int64  `json:"throughSequence"`
	Error           string `json:"error,omitempty"`
}

// Push drains the action queue in batches. A device without a pairing
// token skips silently: nothing to authenticate against yet.
func (c *Client) Push(ctx context.Context) error {
	token, err := c.secrets.GetSecret(ctx, SecretKeyAuthToken)
	if err != nil {
		c.logger.Debug("sync skipped, device not paired", zap.Error(err))
		return nil
	}

	for {
		actions, err := c.store.PendingActions(ctx, pushBatchSize)
		if err != nil {
			return fmt.Errorf("load pending actions: %w", err)
		}
		if len(actions) == 0 {
			return nil
		}

		through, err := c.pushBatch(ctx, token, actions)
		if err != nil {
			return err
		}
		if err := c.store.MarkActionsSynced(ctx, through); err != nil {
			return fmt.Errorf("mark actions synced: %w", err)
		}
		c.logger.Info("pushed actions",
			zap.Int("count", len(actions)),
			zap.Int64("throughSequence", through))
		if len(actions) < pushBatchSize {
			return nil
		}
	}
}

func (c *Client) pushBatch(ctx context.Context, token string, actions []domain.ActionRecord) (int64, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.serverURL, nil)
	if err != nil {
		return 0, fmt.Errorf("dial sync server: %w", err)
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessageSize)

	envelope := pushEnvelope{
		Type:      "pushActions",
		DeviceID:  c.deviceID,
		AuthToken: token,
		Actions:   make([]envelopeAction, 0, len(actions)),
	}
	for _, action := range actions {
		envelope.Actions = append(envelope.Actions, envelopeAction{
			Sequence: action.Sequence,
			Type:     action.Type,
			Payload:  json.RawMessage(action.Payload),
		})
	}

	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return 0, err
	}
	if err := conn.WriteJSON(envelope); err != nil {
		return 0, fmt.Errorf("write action batch: %w", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(readWait)); err != nil {
		return 0, err
	}
	var ack ackMessage
	if err := conn.ReadJSON(&ack); err != nil {
		return 0, fmt.Errorf("read ack: %w", err)
	}
	if ack.Error != "" {
		return 0, fmt.Errorf("server rejected batch: %s", ack.Error)
	}
	if ack.ThroughSequence < actions[len(actions)-1].Sequence {
		return 0, fmt.Errorf("partial ack: got %d, want %d",
			ack.ThroughSequence, actions[len(actions)-1].Sequence)
	}

	message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(writeWait))
	return ack.ThroughSequence, nil
}

var _ Transport = (*Client)(nil)
