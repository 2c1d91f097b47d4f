package camera

import (
	"encoding/json"
	"time"
)

// ConnectionInfo is the normalized result of a successful connection attempt.
// It can only be built through NewConnectionInfo and is read-only afterwards.
type ConnectionInfo struct {
	streamURL       string
	backupStreamURL string
	snapshotURL     string
	connected       bool
	strategy        string
	info            map[string]string
	establishedAt   time.Time
}

// NewConnectionInfo validates and builds a ConnectionInfo. A connected result
// must carry a stream URL.
func NewConnectionInfo(strategy, streamURL, backupStreamURL, snapshotURL string, connected bool, info map[string]string) (*ConnectionInfo, error) {
	if connected && streamURL == "" {
		return nil, NewError(ErrCodeValidation, strategy, "connect", "connected result requires a stream url", nil)
	}
	cp := make(map[string]string, len(info))
	for k, v := range info {
		cp[k] = v
	}
	return &ConnectionInfo{
		streamURL:       streamURL,
		backupStreamURL: backupStreamURL,
		snapshotURL:     snapshotURL,
		connected:       connected,
		strategy:        strategy,
		info:            cp,
		establishedAt:   time.Now().UTC(),
	}, nil
}

func (c *ConnectionInfo) StreamURL() string        { return c.streamURL }
func (c *ConnectionInfo) BackupStreamURL() string  { return c.backupStreamURL }
func (c *ConnectionInfo) SnapshotURL() string      { return c.snapshotURL }
func (c *ConnectionInfo) Connected() bool          { return c.connected }
func (c *ConnectionInfo) Strategy() string         { return c.strategy }
func (c *ConnectionInfo) EstablishedAt() time.Time { return c.establishedAt }

// Info returns a copy of the protocol metadata.
func (c *ConnectionInfo) Info() map[string]string {
	out := make(map[string]string, len(c.info))
	for k, v := range c.info {
		out[k] = v
	}
	return out
}

// connectionInfoJSON is the wire form. URLs are masked.
type connectionInfoJSON struct {
	StreamURL       string            `json:"stream_url"`
	BackupStreamURL string            `json:"backup_stream_url,omitempty"`
	SnapshotURL     string            `json:"snapshot_url,omitempty"`
	Connected       bool              `json:"connected"`
	Strategy        string            `json:"strategy"`
	Info            map[string]string `json:"info,omitempty"`
	EstablishedAt   time.Time         `json:"established_at"`
}

// MarshalJSON renders the connection info with credentials masked.
func (c *ConnectionInfo) MarshalJSON() ([]byte, error) {
	return json.Marshal(connectionInfoJSON{
		StreamURL:       MaskCredentials(c.streamURL),
		BackupStreamURL: MaskCredentials(c.backupStreamURL),
		SnapshotURL:     MaskCredentials(c.snapshotURL),
		Connected:       c.connected,
		Strategy:        c.strategy,
		Info:            c.info,
		EstablishedAt:   c.establishedAt,
	})
}
