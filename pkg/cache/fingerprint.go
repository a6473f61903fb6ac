package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/servo-ai/servo/pkg/protocol"
)

// Fingerprint digests the fields that make two commands cache-equivalent:
// system prompt, user prompt, mode, sorted tool names, and the temperature
// bucketed to one decimal place.
func Fingerprint(cmd *protocol.AgentCommand, toolNames []string) string {
	sorted := make([]string, len(toolNames))
	copy(sorted, toolNames)
	sort.Strings(sorted)

	var temperature float64
	if cmd.Temperature != nil {
		temperature = *cmd.Temperature
	}
	bucket := int(temperature*10 + 0.5)

	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%d",
		cmd.SystemPrompt,
		cmd.UserPrompt,
		cmd.EffectiveMode(),
		strings.Join(sorted, ","),
		bucket)

	return hex.EncodeToString(h.Sum(nil))
}
