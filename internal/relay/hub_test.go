package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type recorder struct {
	id     string
	mu     sync.Mutex
	events []Event
	full   bool
	closed bool
}

func (r *recorder) ID() string { return r.id }

func (r *recorder) Deliver(ev Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return false
	}
	r.events = append(r.events, ev)
	return true
}

func (r *recorder) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Name)
	}
	return out
}

func TestHub_PublishReachesEveryObserverInOrder(t *testing.T) {
	h := NewHub(nil)
	const observers, events = 4, 50

	recs := make([]*recorder, observers)
	for i := range recs {
		recs[i] = &recorder{id: fmt.Sprintf("obs-%d", i)}
		require.True(t, h.Subscribe(recs[i]))
	}

	for i := 0; i < events; i++ {
		h.Publish(fmt.Sprintf("e%d", i), i)
	}

	for _, r := range recs {
		require.Len(t, r.events, events)
		for i, ev := range r.events {
			require.Equal(t, fmt.Sprintf("e%d", i), ev.Name)
			require.Equal(t, uint64(i+1), ev.Seq)
		}
	}
}

func TestHub_ConcurrentPublishersKeepOneOrder(t *testing.T) {
	h := NewHub(nil)
	a := &recorder{id: "a"}
	b := &recorder{id: "b"}
	h.Subscribe(a)
	h.Subscribe(b)

	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				h.Publish(fmt.Sprintf("p%d-%d", p, i), nil)
			}
		}(p)
	}
	wg.Wait()

	require.Len(t, a.events, 200)
	require.Equal(t, a.names(), b.names())
	for i := 1; i < len(a.events); i++ {
		require.Greater(t, a.events[i].Seq, a.events[i-1].Seq)
	}
}

func TestHub_SubscribeIsIdempotent(t *testing.T) {
	h := NewHub(nil)
	r := &recorder{id: "x"}
	require.True(t, h.Subscribe(r))
	require.False(t, h.Subscribe(r))
	require.Equal(t, 1, h.Len())

	h.Publish("once", nil)
	require.Len(t, r.events, 1)

	require.True(t, h.Unsubscribe("x"))
	require.False(t, h.Unsubscribe("x"))
	require.True(t, r.closed)
	require.Equal(t, 0, h.Len())
}

func TestHub_NoReplayForLateObservers(t *testing.T) {
	h := NewHub(nil)
	h.Publish("before", nil)
	r := &recorder{id: "late"}
	h.Subscribe(r)
	h.Publish("after", nil)
	require.Equal(t, []string{"after"}, r.names())
}

func TestHub_DropsSlowObserver(t *testing.T) {
	h := NewHub(nil)
	fast := &recorder{id: "fast"}
	slow := &recorder{id: "slow", full: true}
	h.Subscribe(fast)
	h.Subscribe(slow)

	h.Publish("e1", nil)
	h.Publish("e2", nil)

	require.Equal(t, []string{"e1", "e2"}, fast.names())
	require.True(t, slow.closed)
	require.Equal(t, 1, h.Len())
}

func TestHub_SendToTargetsOneObserver(t *testing.T) {
	h := NewHub(nil)
	a := &recorder{id: "a"}
	b := &recorder{id: "b"}
	h.Subscribe(a)
	h.Subscribe(b)

	require.True(t, h.SendTo("a", "private", nil))
	require.False(t, h.SendTo("missing", "private", nil))
	require.Equal(t, []string{"private"}, a.names())
	require.Empty(t, b.names())
}

type handlerFunc func(ctx context.Context, observerID string, cmd Command) error

func (f handlerFunc) HandleCommand(ctx context.Context, observerID string, cmd Command) error {
	return f(ctx, observerID, cmd)
}

func TestHub_DispatchBroadcastsDerivedEventToIssuerToo(t *testing.T) {
	h := NewHub(nil)
	issuer := &recorder{id: "issuer"}
	other := &recorder{id: "other"}
	h.Subscribe(issuer)
	h.Subscribe(other)

	h.SetCommandHandler(handlerFunc(func(_ context.Context, _ string, cmd Command) error {
		h.Publish(EventCallAnswered, CallActionPayload{CallID: cmd.CallID})
		return nil
	}))

	require.NoError(t, h.Dispatch(context.Background(), "issuer", Command{Name: CommandAnswer, CallID: "CA123"}))
	require.Equal(t, []string{EventCallAnswered}, issuer.names())
	require.Equal(t, []string{EventCallAnswered}, other.names())
	require.Equal(t, CallActionPayload{CallID: "CA123"}, other.events[0].Data)
}

func TestHub_DispatchErrorGoesOnlyToIssuer(t *testing.T) {
	h := NewHub(nil)
	issuer := &recorder{id: "issuer"}
	other := &recorder{id: "other"}
	h.Subscribe(issuer)
	h.Subscribe(other)
	h.SetCommandHandler(handlerFunc(func(context.Context, string, Command) error {
		return errors.New("boom")
	}))

	err := h.Dispatch(context.Background(), "issuer", Command{Name: CommandDecline, CallID: "CA1"})
	require.Error(t, err)
	require.Equal(t, []string{EventCommandError}, issuer.names())
	require.Empty(t, other.names())

	payload := issuer.events[0].Data.(CommandErrorPayload)
	require.Equal(t, "call:decline", payload.Command)
	require.Equal(t, "boom", payload.Error)
}

func TestHub_DispatchWithoutHandler(t *testing.T) {
	h := NewHub(nil)
	err := h.Dispatch(context.Background(), "nobody", Command{Name: CommandEnd})
	require.ErrorIs(t, err, ErrNoCommandHandler)
}

func TestHub_CloseRefusesNewObservers(t *testing.T) {
	h := NewHub(nil)
	r := &recorder{id: "a"}
	h.Subscribe(r)
	h.Close()
	require.True(t, r.closed)
	require.False(t, h.Subscribe(&recorder{id: "b"}))
}

func TestClient_DeliverAndClose(t *testing.T) {
	c := NewClient("c1", 1)
	require.True(t, c.Deliver(Event{Name: "a"}))
	require.False(t, c.Deliver(Event{Name: "b"}))

	ev := <-c.Events()
	require.Equal(t, "a", ev.Name)

	c.Close()
	c.Close()
	require.False(t, c.Deliver(Event{Name: "c"}))
	_, open := <-c.Done()
	require.False(t, open)
}

func TestDecodeCommand(t *testing.T) {
	cmd, err := DecodeCommand([]byte(`{"event":"call:transfer","data":{"callId":"CA1","targetAgentId":"2"}}`))
	require.NoError(t, err)
	require.Equal(t, Command{Name: CommandTransfer, CallID: "CA1", TargetAgentID: "2"}, cmd)

	cmd, err = DecodeCommand([]byte(`{"event":"agent:status","data":{"agentId":"1","status":"busy"}}`))
	require.NoError(t, err)
	require.Equal(t, "busy", cmd.Status)

	_, err = DecodeCommand([]byte(`{"event":"call:explode"}`))
	require.ErrorIs(t, err, ErrMalformedCommand)

	_, err = DecodeCommand([]byte(`not json`))
	require.ErrorIs(t, err, ErrMalformedCommand)
}
