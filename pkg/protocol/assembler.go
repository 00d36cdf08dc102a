package protocol

import "sync"

// Assembler accumulates in-flight file fragments until the terminal metadata
// message arrives. One Assembler exists per connection and is shared by every
// transfer on it: fragments carry no transfer id, so interleaving two
// concurrent sends corrupts both. Senders must finish one file before
// starting the next; this is a wire-format limitation, not something the
// receiver can repair.
type Assembler struct {
	mux    sync.Mutex
	chunks [][]byte
	total  int
}

func NewAssembler() *Assembler {
	return &Assembler{}
}

// Append buffers one payload fragment in arrival order.
func (a *Assembler) Append(payload []byte) {
	copied := make([]byte, len(payload))
	copy(copied, payload)

	a.mux.Lock()
	defer a.mux.Unlock()

	a.chunks = append(a.chunks, copied)
	a.total += len(copied)
}

// Complete concatenates everything buffered so far into one File tagged with
// the carried metadata, and clears the buffer for the next transfer.
func (a *Assembler) Complete(name, mimeType string) File {
	a.mux.Lock()
	defer a.mux.Unlock()

	data := make([]byte, 0, a.total)
	for _, chunk := range a.chunks {
		data = append(data, chunk...)
	}

	a.chunks = nil
	a.total = 0

	return File{Name: name, Type: mimeType, Data: data}
}

// Reset discards any partial transfer. Called on connection teardown so a
// replacement connection never inherits fragments from the old one.
func (a *Assembler) Reset() {
	a.mux.Lock()
	defer a.mux.Unlock()

	a.chunks = nil
	a.total = 0
}

// Buffered reports the number of payload bytes currently held.
func (a *Assembler) Buffered() int {
	a.mux.Lock()
	defer a.mux.Unlock()

	return a.total
}
