package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	WireVersion     uint16            `json:"wire_version"`
	NodeID          string            `json:"node_id"`
	Name            string            `json:"name,omitempty"`
	Capabilities    HelloCapabilities `json:"capabilities,omitempty"`
	Auth            *HelloAuth        `json:"auth,omitempty"`
}

type HelloCapabilities struct {
	MaxQueue     int `json:"max_queue,omitempty"`
	PacketBudget int `json:"packet_budget,omitempty"`
}

type HelloAuth struct {
	Token string `json:"token,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	WireVersion     uint16      `json:"wire_version"`
	SessionID       string      `json:"session_id"`
	NodeID          string      `json:"node_id"`
	ServerClock     uint64      `json:"server_clock"`
	Params          WorldParams `json:"params"`
}

type WorldParams struct {
	TickRateHz         int `json:"tick_rate_hz"`
	PacketBudgetBytes  int `json:"packet_budget_bytes"`
	MaxActionDataBytes int `json:"max_action_data_bytes"`
	DeletedTTLSecs     int `json:"deleted_ttl_secs"`
}

// REJECT (server -> client): the connection is refused.
type RejectMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
}

// PING / PONG carry clocks both ways so peers can estimate skew.
type PingMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SentAt          uint64 `json:"sent_at"`
}

type PongMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	PingSentAt      uint64 `json:"ping_sent_at"`
	ServerClock     uint64 `json:"server_clock"`
}
