package event

// Camera lifecycle topics.
const (
	TopicCameraConnected     = "camera.connected"
	TopicCameraConnectFailed = "camera.connect_failed"
	TopicCameraDisconnected  = "camera.disconnected"
	TopicCameraStatus        = "camera.status"
	TopicCameraDiscovered    = "camera.discovered"
)

// CameraPayload is carried by the camera.* topics. URLs are already masked.
type CameraPayload struct {
	CameraID  string         `json:"camera_id"`
	Name      string         `json:"name"`
	Address   string         `json:"address,omitempty"`
	Strategy  string         `json:"strategy,omitempty"`
	StreamURL string         `json:"stream_url,omitempty"`
	Code      string         `json:"code,omitempty"`
	Error     string         `json:"error,omitempty"`
	Attempts  int            `json:"attempts,omitempty"`
	Status    map[string]any `json:"status,omitempty"`
}
