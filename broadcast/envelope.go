package broadcast

import (
	"encoding/json"
	"sync"

	"github.com/bytedance/sonic"

	"presence-service/domain"
)

// Frame is the wire shape of a server-to-client message.
type Frame struct {
	Method  domain.EventKind `json:"method"`
	Payload json.RawMessage  `json:"payload"`
}

// Envelope is one publish call as seen by the transport. It is shared by the
// concurrent per-group sends of that call and hands out each connection
// handle at most once.
type Envelope struct {
	EventID string
	Method  domain.EventKind
	Payload json.RawMessage

	once  sync.Once
	frame []byte
	err   error

	mu      sync.Mutex
	claimed map[string]struct{}
}

// NewEnvelope prepares an envelope for ev.
func NewEnvelope(ev domain.Event) *Envelope {
	return &Envelope{
		EventID: ev.ID,
		Method:  ev.Kind,
		Payload: ev.Payload,
		claimed: make(map[string]struct{}),
	}
}

// Claim reports whether the caller is the first to deliver this envelope to
// handle. Only the first claim for a handle returns true.
func (e *Envelope) Claim(handle string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.claimed[handle]; ok {
		return false
	}
	e.claimed[handle] = struct{}{}
	return true
}

// Delivered returns the number of distinct handles claimed so far.
func (e *Envelope) Delivered() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.claimed)
}

// Bytes returns the encoded frame. Encoding happens once per envelope.
func (e *Envelope) Bytes() ([]byte, error) {
	e.once.Do(func() {
		payload := e.Payload
		if len(payload) == 0 {
			payload = json.RawMessage("null")
		}
		e.frame, e.err = sonic.ConfigStd.Marshal(Frame{Method: e.Method, Payload: payload})
	})
	return e.frame, e.err
}
