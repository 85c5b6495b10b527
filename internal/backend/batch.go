package backend

import "fmt"

// Entry is one token submitted to a decode step.
type Entry struct {
	Token  int
	Pos    int
	Seq    int
	Logits bool
}

// Batch is a capacity-bounded list of entries in position order.
type Batch struct {
	entries []Entry
}

// NewBatch allocates a batch that holds at most capacity entries.
func NewBatch(capacity int) *Batch {
	return &Batch{entries: make([]Entry, 0, max(capacity, 1))}
}

// Clear resets the logical length to zero and keeps the storage.
func (b *Batch) Clear() {
	b.entries = b.entries[:0]
}

// Add appends an entry. Positions must not go backwards within a batch.
func (b *Batch) Add(token, pos, seq int, logits bool) error {
	if len(b.entries) == cap(b.entries) {
		return fmt.Errorf("%w: capacity %d", ErrBatchFull, cap(b.entries))
	}
	if n := len(b.entries); n > 0 && pos <= b.entries[n-1].Pos {
		return fmt.Errorf("%w: position %d after %d", ErrBatchOrder, pos, b.entries[n-1].Pos)
	}
	b.entries = append(b.entries, Entry{Token: token, Pos: pos, Seq: seq, Logits: logits})
	return nil
}

// SetLogits flips the logits flag of entry i.
func (b *Batch) SetLogits(i int, v bool) {
	b.entries[i].Logits = v
}

func (b *Batch) Len() int { return len(b.entries) }
func (b *Batch) Cap() int { return cap(b.entries) }
func (b *Batch) At(i int) Entry { return b.entries[i] }

// Entries returns the live entries. The slice is only valid until the next
// Clear or Add.
func (b *Batch) Entries() []Entry { return b.entries }

// LastLogits returns the index of the last entry flagged for logits, or -1.
func (b *Batch) LastLogits() int {
	for i := len(b.entries) - 1; i >= 0; i-- {
		if b.entries[i].Logits {
			return i
		}
	}
	return -1
}
