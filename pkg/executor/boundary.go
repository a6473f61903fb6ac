package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/servo-ai/servo/pkg/config"
	"github.com/servo-ai/servo/pkg/metrics"
)

// TruncatedMarker terminates content cut by the output boundary.
const TruncatedMarker = "[Response truncated]"

// ErrOutputTooShort is returned by Enforce under the FAIL violation mode.
var ErrOutputTooShort = errors.New("output below configured minimum length")

// retryForLength asks the model once for a longer answer. Returns the new
// content.
type retryForLength func(ctx context.Context, continuation string) (string, error)

// boundaryEnforcer applies output length policy after the loop completes.
type boundaryEnforcer struct {
	cfg     config.BoundaryConfig
	publish func(metrics.Event)
}

func newBoundaryEnforcer(cfg config.BoundaryConfig, publish func(metrics.Event)) *boundaryEnforcer {
	return &boundaryEnforcer{cfg: cfg, publish: publish}
}

// Enforce bounds content length. Over-long content truncates with a marker;
// under-length content dispatches on the configured violation mode.
func (b *boundaryEnforcer) Enforce(ctx context.Context, content, tenantID string, retry retryForLength) (string, error) {
	if b.cfg.OutputMaxChars > 0 && len(content) > b.cfg.OutputMaxChars {
		// Limits are in characters; cut on rune boundaries so multi-byte
		// content stays valid UTF-8.
		if runes := []rune(content); len(runes) > b.cfg.OutputMaxChars {
			content = string(runes[:b.cfg.OutputMaxChars]) + TruncatedMarker
			b.publish(metrics.BoundaryViolationEvent{
				Policy:   "truncate",
				Length:   len(runes),
				Limit:    b.cfg.OutputMaxChars,
				TenantID: tenantID,
			})
		}
	}

	if b.cfg.OutputMinChars <= 0 || len(content) >= b.cfg.OutputMinChars {
		return content, nil
	}

	switch b.cfg.OutputMinViolationMode {
	case config.BoundaryRetryOnce:
		b.publish(metrics.BoundaryViolationEvent{
			Policy:   "retry",
			Length:   len(content),
			Limit:    b.cfg.OutputMinChars,
			TenantID: tenantID,
		})
		if retry == nil {
			return content, nil
		}
		continuation := fmt.Sprintf(
			"Your previous answer was too short. Provide a complete answer of at least %d characters.",
			b.cfg.OutputMinChars)
		longer, err := retry(ctx, continuation)
		if err == nil && len(longer) >= b.cfg.OutputMinChars {
			return longer, nil
		}
		return content, nil

	case config.BoundaryFail:
		b.publish(metrics.BoundaryViolationEvent{
			Policy:   "fail",
			Length:   len(content),
			Limit:    b.cfg.OutputMinChars,
			TenantID: tenantID,
		})
		return content, ErrOutputTooShort

	default: // WARN
		b.publish(metrics.BoundaryViolationEvent{
			Policy:   "warn",
			Length:   len(content),
			Limit:    b.cfg.OutputMinChars,
			TenantID: tenantID,
		})
		return content, nil
	}
}
