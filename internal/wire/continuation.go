package wire

import "github.com/google/uuid"

// AppendState reports how much of a record an encode pass managed to write.
type AppendState int

const (
	// AppendCompleted: every requested property was written.
	AppendCompleted AppendState = iota
	// AppendPartial: the header and a nonempty subset were written; the rest
	// must resume in a later packet.
	AppendPartial
	// AppendNone: nothing was written for the record (no empty framing is
	// ever emitted); the whole record retries later.
	AppendNone
)

// ContinuationState carries, per record identity, the property set still
// pending after earlier packets ran out of budget.
type ContinuationState struct {
	pending map[uuid.UUID]PropertyFlags
}

func NewContinuationState() *ContinuationState {
	return &ContinuationState{pending: make(map[uuid.UUID]PropertyFlags)}
}

// Requested returns the property set the next encode attempt for id should
// ask for: the stored pending set, or def on the first attempt.
func (c *ContinuationState) Requested(id uuid.UUID, def PropertyFlags) PropertyFlags {
	if f, ok := c.pending[id]; ok {
		return f
	}
	return def
}

// Update records the outcome of an encode attempt. An empty residual clears
// the entry; anything else is stored for the next packet targeting id.
func (c *ContinuationState) Update(id uuid.UUID, residual PropertyFlags) {
	if residual.Empty() {
		delete(c.pending, id)
		return
	}
	c.pending[id] = residual
}

// PendingIDs lists the record identities with properties still waiting.
func (c *ContinuationState) PendingIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	return ids
}

// Pending reports whether id still has properties waiting for a packet.
func (c *ContinuationState) Pending(id uuid.UUID) (PropertyFlags, bool) {
	f, ok := c.pending[id]
	return f, ok
}
