package domain

// EventType is the "type" field of every message pushed to subscribers.
type EventType string

const (
	EventInit           EventType = "init"
	EventConfigUpdate   EventType = "config_update"
	EventUpdate         EventType = "update"
	EventAgentMessage   EventType = "agent_message"
	EventSubagentTools  EventType = "subagent_tools"
	EventMessageHistory EventType = "message_history"
)

// InitEvent is the full snapshot sent to new subscribers and after bulk deletions.
type InitEvent struct {
	Type        EventType              `json:"type"`
	Config      []Identity             `json:"config"`
	States      map[string]*AgentState `json:"states"`
	Transitions []Transition           `json:"transitions"`
}

// ConfigUpdateEvent carries the full registry after it changed.
type ConfigUpdateEvent struct {
	Type   EventType  `json:"type"`
	Config []Identity `json:"config"`
}

// UpdateEvent carries one agent's latest state record.
type UpdateEvent struct {
	Type  EventType   `json:"type"`
	Agent *AgentState `json:"agent"`
}

// AgentMessageEvent carries one newly observed inter-agent message.
type AgentMessageEvent struct {
	Type    EventType    `json:"type"`
	Message AgentMessage `json:"message"`
}

// SubagentToolsEvent carries a retroactively reported batch of tool uses.
type SubagentToolsEvent struct {
	Type     EventType `json:"type"`
	AgentID  string    `json:"agentId"`
	ParentID string    `json:"parentId,omitempty"`
	Tools    []ToolUse `json:"tools"`
}

// MessageHistoryEvent carries the inter-agent message log, sent right after init.
type MessageHistoryEvent struct {
	Type     EventType      `json:"type"`
	Messages []AgentMessage `json:"messages"`
}
