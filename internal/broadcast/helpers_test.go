package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/YOUniversalIdeas/songIQ-sub006/internal/domain"
)

// fakeTransport records frames and probes. sendErr, when set, is returned by Send.
type fakeTransport struct {
	mu      sync.Mutex
	frames  [][]byte
	probes  int
	closed  bool
	sendErr error
}

func (f *fakeTransport) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	if f.closed {
		return domain.ErrConnectionClosed
	}
	f.frames = append(f.frames, data)
	return nil
}

func (f *fakeTransport) Probe() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes++
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) probeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probes
}

type received struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// messages decodes every frame the transport has accepted so far.
func (f *fakeTransport) messages(t *testing.T) []received {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]received, 0, len(f.frames))
	for _, frame := range f.frames {
		var m received
		require.NoError(t, json.Unmarshal(frame, &m))
		out = append(out, m)
	}
	return out
}

// messagesOfType returns the frames with the given type.
func (f *fakeTransport) messagesOfType(t *testing.T, msgType string) []received {
	t.Helper()
	var out []received
	for _, m := range f.messages(t) {
		if m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeTransport) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = nil
}

// tokenVerifier maps credentials to users; anything else is rejected.
type tokenVerifier map[string]string

func (v tokenVerifier) Verify(_ context.Context, credential string) (string, error) {
	if userID, ok := v[credential]; ok {
		return userID, nil
	}
	return "", domain.ErrInvalidCredential
}

var errBrokenPipe = errors.New("broken pipe")

func subscribeFrame(category, scopeKey string) []byte {
	data, _ := json.Marshal(map[string]any{
		"type": "subscribe",
		"data": map[string]string{"category": category, "scopeKey": scopeKey},
	})
	return data
}

func unsubscribeFrame(category, scopeKey string) []byte {
	data, _ := json.Marshal(map[string]any{
		"type": "unsubscribe",
		"data": map[string]string{"category": category, "scopeKey": scopeKey},
	})
	return data
}
