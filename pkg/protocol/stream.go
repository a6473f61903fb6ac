package protocol

// StreamEventType discriminates incremental events on a streaming execution.
type StreamEventType string

const (
	StreamEventText      StreamEventType = "text"
	StreamEventToolStart StreamEventType = "tool_start"
	StreamEventToolEnd   StreamEventType = "tool_end"
	StreamEventError     StreamEventType = "error"
	StreamEventDone      StreamEventType = "done"
)

// StreamEvent is one element of a streaming execution. Done is terminal;
// nothing follows it on the channel.
type StreamEvent struct {
	Type     StreamEventType `json:"type"`
	Text     string          `json:"text,omitempty"`
	ToolName string          `json:"tool_name,omitempty"`
	Message  string          `json:"message,omitempty"` // error events
}

// TextEvent builds a text chunk event.
func TextEvent(chunk string) StreamEvent {
	return StreamEvent{Type: StreamEventText, Text: chunk}
}

// ToolStartEvent signals that the named tool started executing.
func ToolStartEvent(name string) StreamEvent {
	return StreamEvent{Type: StreamEventToolStart, ToolName: name}
}

// ToolEndEvent signals that the named tool finished.
func ToolEndEvent(name string) StreamEvent {
	return StreamEvent{Type: StreamEventToolEnd, ToolName: name}
}

// ErrorEvent reports a terminal failure; Done always follows.
func ErrorEvent(message string) StreamEvent {
	return StreamEvent{Type: StreamEventError, Message: message}
}

// DoneEvent is the stream terminator.
func DoneEvent() StreamEvent {
	return StreamEvent{Type: StreamEventDone}
}
