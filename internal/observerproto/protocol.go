package observerproto

// Version is the observer protocol version.
const Version = "0.1"

const (
	TypeSubscribe = "SUBSCRIBE"
	TypeNotify    = "NOTIFY"
)

// Client -> Server. First message on the observer WS connection, and can be
// re-sent to change the filter.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// Empty means everything.
	Kinds []string `json:"kinds,omitempty"`
	Sides []string `json:"sides,omitempty"`
}

// HTTP response for GET /observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string `json:"protocol_version"`
	ScenarioID      string `json:"scenario_id"`
	Seed            int64  `json:"seed"`
	Time            int64  `json:"time"`

	ActiveEvent *EventInfo     `json:"active_event,omitempty"`
	Pending     int            `json:"pending_events"`
	Victory     map[string]int `json:"victory,omitempty"`

	Detachments []DetachmentState `json:"detachments"`
	Combats     []CombatState     `json:"combats"`
}

type EventInfo struct {
	Seq      uint64 `json:"seq"`
	FireTime int64  `json:"fire_time"`
	Kind     string `json:"kind"`
	Target   string `json:"target"`
}

type DetachmentState struct {
	ID      string `json:"id"`
	UnitID  string `json:"unit_id"`
	Side    string `json:"side"`
	Hex     [2]int `json:"hex"`
	Mode    string `json:"mode"`
	Fatigue int    `json:"fatigue"`
	Combat  string `json:"combat,omitempty"`
	Order   string `json:"active_order,omitempty"`
	Queued  int    `json:"queued_orders"`
}

type CombatState struct {
	ID        string   `json:"id"`
	Hex       [2]int   `json:"hex"`
	State     string   `json:"state"`
	Attackers []string `json:"attackers"`
	Defenders []string `json:"defenders"`
	Checks    int      `json:"checks"`
}

// Server -> Client. One per game notification. Side is the side of the
// detachment concerned, when there is one.
type NotifyMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Side            string `json:"side,omitempty"`
	Notification    any    `json:"notification"`
}
