package tools

import (
	"encoding/json"
	"fmt"
)

// TruncationMarker is appended to oversized remote tool output.
const TruncationMarker = "[TRUNCATED]"

// Normalize renders an arbitrary tool result as text for the model. Strings
// pass through verbatim; structured values are JSON-encoded; media results
// become compact placeholders.
func Normalize(result any) string {
	switch v := result.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return fmt.Sprintf("[binary: %d bytes]", len(v))
	case ImageResult:
		return fmt.Sprintf("[image: %s, %d bytes]", v.MimeType, len(v.Data))
	case ResourceResult:
		return fmt.Sprintf("[resource: %s]", v.URI)
	case error:
		return v.Error()
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	}
}

// Truncate bounds text at maxLen runes, appending the truncation marker when
// anything was cut. maxLen <= 0 disables truncation.
func Truncate(text string, maxLen int) string {
	if maxLen <= 0 || len(text) <= maxLen {
		return text
	}
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	return string(runes[:maxLen]) + TruncationMarker
}

// ImageResult is an image payload returned by a tool.
type ImageResult struct {
	MimeType string
	Data     []byte
}

// ResourceResult is a binary resource reference returned by a tool.
type ResourceResult struct {
	URI      string
	MimeType string
}

// MarshalArgs serializes an argument map to JSON, as sent to remote tools.
func MarshalArgs(args map[string]any) (string, error) {
	if args == nil {
		return "{}", nil
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("failed to serialize tool arguments: %w", err)
	}
	return string(encoded), nil
}
