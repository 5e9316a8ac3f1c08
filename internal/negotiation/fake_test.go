package negotiation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/1ureka/roomcall/internal/protocol"
)

var _ Transport = (*fakeTransport)(nil)
var _ Emitter = (*fakeEmitter)(nil)

// fakeTransport records every call as a short string such as
// "setRemote:offer" or "addCandidate:c1".
type fakeTransport struct {
	mu     sync.Mutex
	calls  []string
	fail   map[string]error
	local  func(protocol.Candidate)
	closed int

	// offerGate, when set, blocks CreateOffer until it is closed or ctx ends.
	offerGate chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{fail: make(map[string]error)}
}

func (f *fakeTransport) record(call, op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.fail[op]
}

func (f *fakeTransport) failOn(op string, err error) {
	f.mu.Lock()
	f.fail[op] = err
	f.mu.Unlock()
}

func (f *fakeTransport) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeTransport) CreateOffer(ctx context.Context) (string, error) {
	if f.offerGate != nil {
		select {
		case <-f.offerGate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err := f.record("createOffer", "createOffer"); err != nil {
		return "", err
	}
	return "v=0 offer", nil
}

func (f *fakeTransport) CreateAnswer(ctx context.Context) (string, error) {
	if err := f.record("createAnswer", "createAnswer"); err != nil {
		return "", err
	}
	return "v=0 answer", nil
}

func (f *fakeTransport) SetLocalDescription(ctx context.Context, desc Description) error {
	return f.record("setLocal:"+string(desc.Type), "setLocal")
}

func (f *fakeTransport) SetRemoteDescription(ctx context.Context, desc Description) error {
	return f.record("setRemote:"+string(desc.Type), "setRemote")
}

func (f *fakeTransport) AddICECandidate(ctx context.Context, c protocol.Candidate) error {
	return f.record("addCandidate:"+c.Candidate, "addCandidate")
}

func (f *fakeTransport) OnLocalCandidate(fn func(protocol.Candidate)) {
	f.mu.Lock()
	f.local = fn
	f.mu.Unlock()
}

func (f *fakeTransport) emitLocal(c protocol.Candidate) {
	f.mu.Lock()
	fn := f.local
	f.mu.Unlock()
	fn(c)
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type forwarded struct {
	from string
	msg  protocol.Message
}

type reported struct {
	to  string
	err error
}

type fakeEmitter struct {
	forwards chan forwarded
	reports  chan reported
}

func newFakeEmitter() *fakeEmitter {
	return &fakeEmitter{
		forwards: make(chan forwarded, 64),
		reports:  make(chan reported, 64),
	}
}

func (e *fakeEmitter) Forward(peerID string, msg protocol.Message) error {
	e.forwards <- forwarded{from: peerID, msg: msg}
	return nil
}

func (e *fakeEmitter) Report(peerID string, err error) {
	e.reports <- reported{to: peerID, err: err}
}

func (e *fakeEmitter) nextForward(t *testing.T) forwarded {
	t.Helper()
	select {
	case f := <-e.forwards:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a forwarded message")
	}
	return forwarded{}
}

func (e *fakeEmitter) nextReport(t *testing.T) reported {
	t.Helper()
	select {
	case r := <-e.reports:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a reported error")
	}
	return reported{}
}

func (e *fakeEmitter) expectQuiet(t *testing.T) {
	t.Helper()
	select {
	case f := <-e.forwards:
		t.Fatalf("unexpected forward: %+v", f)
	case r := <-e.reports:
		t.Fatalf("unexpected report: %+v", r)
	case <-time.After(50 * time.Millisecond):
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitState(t *testing.T, s *Session, want State) {
	t.Helper()
	waitFor(t, fmt.Sprintf("state %s", want), func() bool { return s.State() == want })
}

func candidate(name string) protocol.Candidate {
	return protocol.Candidate{Candidate: name}
}

func waitTimeout() <-chan time.Time {
	return time.After(2 * time.Second)
}
