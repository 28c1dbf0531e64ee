package classifier

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"go.uber.org/goleak"

	"github.com/ternarybob/agentstream/internal/models"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.Event
}

func (p *recordingPublisher) Publish(event models.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) messages() []models.LogMessage {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]models.LogMessage, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Payload.(models.LogMessage))
	}
	return out
}

func (p *recordingPublisher) sessions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.SessionID)
	}
	return out
}

func fastConfig() StreamConfig {
	return StreamConfig{DrainInterval: time.Millisecond, Burst: 10}
}

func TestStream_PublishesMarkersAndClassifiedLines(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	pub := &recordingPublisher{}
	s := NewStream("session_a", pub, fastConfig(), arbor.NewNoOpLogger())
	s.Start(context.Background())

	_, err := fmt.Fprintln(s, "✨ Starting task: login flow")
	require.NoError(t, err)
	_, _ = fmt.Fprintln(s, "Task Status: Unknown")
	_, _ = fmt.Fprintln(s, "📄 Result: value=42")
	s.Close()

	msgs := pub.messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, MessageStarted, msgs[0].Message)
	assert.Equal(t, MessageInitiating, msgs[1].Message)
	assert.Equal(t, "value=42", msgs[2].Message)
	assert.Equal(t, MessageEnded, msgs[3].Message)

	for _, m := range msgs {
		assert.NotEmpty(t, m.Timestamp)
	}
	for _, id := range pub.sessions() {
		assert.Equal(t, "session_a", id)
	}
}

func TestStream_HoldsPartialLineUntilComplete(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	pub := &recordingPublisher{}
	s := NewStream("s", pub, fastConfig(), arbor.NewNoOpLogger())
	s.Start(context.Background())

	_, _ = s.Write([]byte("📄 Resu"))
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, pub.messages(), 1, "only the start marker before the line completes")

	_, _ = s.Write([]byte("lt: joined\n"))
	require.Eventually(t, func() bool { return len(pub.messages()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "joined", pub.messages()[1].Message)

	s.Close()
}

func TestStream_CloseFlushesUnterminatedLine(t *testing.T) {
	pub := &recordingPublisher{}
	s := NewStream("s", pub, fastConfig(), arbor.NewNoOpLogger())
	s.Start(context.Background())

	_, _ = s.Write([]byte("last words"))
	s.Close()
	s.Close()

	msgs := pub.messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "last words", msgs[1].Message)
	assert.Equal(t, MessageEnded, msgs[2].Message)

	// Writes after close are ignored
	n, err := s.Write([]byte("late\n"))
	assert.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Len(t, pub.messages(), 3)
}

func TestStream_ContextCancelStopsLoop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	pub := &recordingPublisher{}
	s := NewStream("s", pub, fastConfig(), arbor.NewNoOpLogger())

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()

	s.Close()
	msgs := pub.messages()
	assert.Equal(t, MessageEnded, msgs[len(msgs)-1].Message)
}

func TestStream_SessionsStayIsolated(t *testing.T) {
	pubA := &recordingPublisher{}
	pubB := &recordingPublisher{}
	a := NewStream("A", pubA, fastConfig(), arbor.NewNoOpLogger())
	b := NewStream("B", pubB, fastConfig(), arbor.NewNoOpLogger())
	a.Start(context.Background())
	b.Start(context.Background())

	var wg sync.WaitGroup
	for _, s := range []*Stream{a, b} {
		wg.Add(1)
		go func(s *Stream) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_, _ = fmt.Fprintf(s, "line %d from %s\n", i, s.sessionID)
			}
		}(s)
	}
	wg.Wait()
	a.Close()
	b.Close()

	for _, m := range pubA.messages()[1 : len(pubA.messages())-1] {
		assert.Contains(t, m.Message, "from A")
	}
	for _, m := range pubB.messages()[1 : len(pubB.messages())-1] {
		assert.Contains(t, m.Message, "from B")
	}
	assert.Len(t, pubA.messages(), 102)
	assert.Len(t, pubB.messages(), 102)
}
