// Package validate is the sole gate between raw client input and shared
// sync state. Events failing any check here never reach conflict detection,
// persistence, or the transport fan-out.
package validate

import (
	"fmt"
	"regexp"
	"time"

	"github.com/halcyon-ai/halcyon-sync/internal/model"
)

// entityIdRx matches the identifier format used by the persistence layer:
// letters, digits, hyphen and underscore, 1-64 chars.
var entityIdRx = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// DefaultSkewTolerance bounds how far in the future an event timestamp may
// claim to be before it is treated as a spoofed clock.
const DefaultSkewTolerance = 5 * time.Minute

// Validator checks structural validity of incoming sync events.
type Validator struct {
	skew time.Duration
	now  func() time.Time
}

// New returns a Validator with the given future clock-skew tolerance.
// Non-positive tolerance falls back to DefaultSkewTolerance.
func New(skew time.Duration) *Validator {
	if skew <= 0 {
		skew = DefaultSkewTolerance
	}
	return &Validator{skew: skew, now: time.Now}
}

// NewAt is like New but with an injectable clock, used by tests.
func NewAt(skew time.Duration, now func() time.Time) *Validator {
	v := New(skew)
	v.now = now
	return v
}

// Event reports the first violated rule, or nil when e is structurally sound.
// Checks run in a fixed order so rejections are deterministic.
func (v *Validator) Event(e *model.SyncEvent) error {
	if e == nil {
		return fmt.Errorf("event is required")
	}
	if e.ID == "" {
		return fmt.Errorf("event id is required")
	}
	if !model.KnownEntityType(e.EntityType) {
		return fmt.Errorf("unknown entity type %q", e.EntityType)
	}
	if !entityIdRx.MatchString(e.EntityID) {
		return fmt.Errorf("entity id must match %s", entityIdRx.String())
	}
	if !model.KnownAction(e.Action) {
		return fmt.Errorf("unknown action %q", e.Action)
	}
	if e.Data == nil && e.Action != model.ActionDelete {
		return fmt.Errorf("data is required for %s", e.Action)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	if e.Timestamp.After(v.now().Add(v.skew)) {
		return fmt.Errorf("timestamp is more than %s in the future", v.skew)
	}
	if e.Version < 0 {
		return fmt.Errorf("version must not be negative")
	}
	return nil
}
