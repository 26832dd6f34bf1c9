package protocol

// SUBSCRIBE (client -> server). First message on the observer connection;
// may be re-sent to change settings.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	// EveryN forwards only every Nth step (crashes are always sent).
	EveryN      int `json:"every_n,omitempty"`
	HistoryTail int `json:"history_tail,omitempty"`
}

// HTTP response for GET /v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string       `json:"protocol_version"`
	RunID           string       `json:"run_id"`
	Scenario        string       `json:"scenario"`
	Start           Pose         `json:"start"`
	Walls           [][4]float64 `json:"walls"`
	Locations       []Location   `json:"locations"`
	DragEpsilon     float64      `json:"drag_epsilon"`
}

type Pose struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Heading float64 `json:"heading"`
}

type Location struct {
	Name string  `json:"name"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// STATE (server -> client). Sent after every body step.
type StateMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	RunID           string `json:"run_id"`
	Mission         string `json:"mission,omitempty"`
	Step            uint64 `json:"step"`

	Steer      string       `json:"steer"`
	Pose       Pose         `json:"pose"`
	Whisker    bool         `json:"whisker"`
	Crashed    bool         `json:"crashed"`
	CrashPoint *[2]float64  `json:"crash_point,omitempty"`
	Locations  []Location   `json:"locations"`
	Tail       [][2]float64 `json:"tail,omitempty"`
}

// DRAG (client -> server). Moves a location with a press/move/release gesture.
type DragMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	Phase           string  `json:"phase"`
	X               float64 `json:"x"`
	Y               float64 `json:"y"`
}

type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AckFor          string `json:"ack_for"`
	Phase           string `json:"phase,omitempty"`
	Accepted        bool   `json:"accepted"`
	Location        string `json:"location,omitempty"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
}

type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}
