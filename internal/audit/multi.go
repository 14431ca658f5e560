package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/danielpatrickdp/trustgate/internal/gate"
)

// Multi fans a decision out to every sink in order. All sinks are attempted;
// any failure fails the whole record so the gate denies.
//
// Delivery is at least once per sink and not atomic across them. When a later
// sink fails, earlier sinks keep the decision as scored, possibly allowed,
// while the caller receives the Denied downgrade. The returned error names
// the decision ID so the two can be reconciled; the caller's verdict is the
// one that held.
type Multi []gate.Sink

// Record calls every sink and joins their errors.
func (m Multi) Record(ctx context.Context, d gate.EmitDecision) error {
	var errs []error
	for i, s := range m {
		if err := s.Record(ctx, d); err != nil {
			errs = append(errs, fmt.Errorf("sink %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
