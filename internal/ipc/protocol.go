package ipc

// Command names accepted by a running session owner.
const (
	CommandStatus = "status"
	CommandCancel = "cancel"
	CommandRetry  = "retry"
	CommandClose  = "close"
)

type Request struct {
	Command string `json:"command"`
}

type Response struct {
	OK         bool   `json:"ok"`
	State      string `json:"state,omitempty"`
	Permission string `json:"permission,omitempty"`
	Exchange   string `json:"exchange,omitempty"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
}
