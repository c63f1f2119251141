package app

// Policy is the configuration port used by the fleet service.
// Implemented by internal/policy.Policy.
type Policy interface {
	SendMessageTool() string
	Palette() []string
	TransitionLogMax() int
	MessageLogMax() int
}
