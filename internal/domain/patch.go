package domain

import (
	"bytes"
	"encoding/json"
)

// Optional is a JSON field that distinguishes "absent" (Set=false), explicit
// null (Set=true, Valid=false) and a value (Set=true, Valid=true).
// A value that does not decode into T is treated as absent.
type Optional[T any] struct {
	Set   bool
	Valid bool
	Value T
}

// Some returns a present, non-null Optional.
func Some[T any](v T) Optional[T] {
	return Optional[T]{Set: true, Valid: true, Value: v}
}

// Null returns a present, explicitly null Optional.
func Null[T any]() Optional[T] {
	return Optional[T]{Set: true}
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*o = Optional[T]{Set: true}
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		*o = Optional[T]{}
		return nil
	}
	*o = Optional[T]{Set: true, Valid: true, Value: v}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

// Get returns the value when present and non-null.
func (o Optional[T]) Get() (T, bool) {
	return o.Value, o.Valid
}

// StatusPatch is the payload of a status report. Each field is independently
// optional; absent fields leave the stored record untouched.
type StatusPatch struct {
	Status            Optional[Status]
	CurrentTask       Optional[string]
	CurrentTool       Optional[string]
	AgentType         Optional[string]
	Cwd               Optional[string]
	SessionID         Optional[string]
	HookEvent         Optional[string]
	CompletedToolName Optional[string]
	LastMessage       Optional[string]
	ToolDetail        json.RawMessage
}

// statusPatchWire is the wire shape, accepting both the short and the long
// spelling of the working directory and completed tool fields.
type statusPatchWire struct {
	Status            Optional[Status] `json:"status"`
	CurrentTask       Optional[string] `json:"currentTask"`
	CurrentTool       Optional[string] `json:"currentTool"`
	AgentType         Optional[string] `json:"agentType"`
	Cwd               Optional[string] `json:"cwd"`
	WorkingDirectory  Optional[string] `json:"workingDirectory"`
	SessionID         Optional[string] `json:"sessionId"`
	HookEvent         Optional[string] `json:"hookEvent"`
	ToolName          Optional[string] `json:"toolName"`
	CompletedToolName Optional[string] `json:"completedToolName"`
	LastMessage       Optional[string] `json:"lastMessage"`
	ToolDetail        json.RawMessage  `json:"toolDetail"`
}

// ParseStatusPatch decodes a status report body. A body that is not a JSON
// object yields an empty patch; individual malformed fields are dropped.
func ParseStatusPatch(data []byte) StatusPatch {
	var w statusPatchWire
	if len(bytes.TrimSpace(data)) == 0 {
		return StatusPatch{}
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return StatusPatch{}
	}
	p := StatusPatch{
		Status:            w.Status,
		CurrentTask:       w.CurrentTask,
		CurrentTool:       w.CurrentTool,
		AgentType:         w.AgentType,
		Cwd:               w.Cwd,
		SessionID:         w.SessionID,
		HookEvent:         w.HookEvent,
		CompletedToolName: w.CompletedToolName,
		LastMessage:       w.LastMessage,
	}
	if !p.Cwd.Valid && w.WorkingDirectory.Valid {
		p.Cwd = w.WorkingDirectory
	}
	if !p.CompletedToolName.Valid && w.ToolName.Valid {
		p.CompletedToolName = w.ToolName
	}
	if v, ok := p.Status.Get(); ok && !v.Valid() {
		p.Status = Optional[Status]{}
	}
	if len(w.ToolDetail) > 0 && !bytes.Equal(bytes.TrimSpace(w.ToolDetail), []byte("null")) {
		p.ToolDetail = w.ToolDetail
	}
	return p
}

// GoingOffline reports whether the patch explicitly sets the offline status.
func (p StatusPatch) GoingOffline() bool {
	s, ok := p.Status.Get()
	return ok && s == StatusOffline
}

// Hook returns the hook event name, or "".
func (p StatusPatch) Hook() string {
	h, _ := p.HookEvent.Get()
	return h
}

// StartedTool returns the tool being started when the patch is a tool-start
// event that names a tool.
func (p StatusPatch) StartedTool() (string, bool) {
	if p.Hook() != HookPreToolUse {
		return "", false
	}
	tool, ok := p.CurrentTool.Get()
	if !ok || tool == "" {
		return "", false
	}
	return tool, true
}

// MessageMeta is the metadata a send-message tool call carries in toolDetail.meta.
type MessageMeta struct {
	Recipient string `json:"recipient"`
	MsgType   string `json:"msgType"`
	Summary   string `json:"summary"`
	Content   string `json:"content"`
}

// MessageMeta extracts toolDetail.meta, if the tool detail carries one.
func (p StatusPatch) MessageMeta() (MessageMeta, bool) {
	if len(p.ToolDetail) == 0 {
		return MessageMeta{}, false
	}
	var detail struct {
		Meta json.RawMessage `json:"meta"`
	}
	if err := json.Unmarshal(p.ToolDetail, &detail); err != nil || len(detail.Meta) == 0 {
		return MessageMeta{}, false
	}
	if bytes.Equal(bytes.TrimSpace(detail.Meta), []byte("null")) {
		return MessageMeta{}, false
	}
	var meta MessageMeta
	if err := json.Unmarshal(detail.Meta, &meta); err != nil {
		// Tolerate odd field types the same way the patch itself does.
		var loose map[string]any
		if json.Unmarshal(detail.Meta, &loose) != nil {
			return MessageMeta{}, false
		}
		meta.Recipient, _ = loose["recipient"].(string)
		meta.MsgType, _ = loose["msgType"].(string)
		meta.Summary, _ = loose["summary"].(string)
		meta.Content, _ = loose["content"].(string)
	}
	return meta, true
}
