package session

import (
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/teslashibe/go-tony/pkg/audioio"
	"github.com/teslashibe/go-tony/pkg/inference"
	"github.com/teslashibe/go-tony/pkg/protocol"
	"github.com/teslashibe/go-tony/pkg/tts"
)

func TestTurnProducesOrderedFrames(t *testing.T) {
	mock := inference.NewMock().Then(inference.Text("Good evening, "), inference.Text("Sir."))
	synth := &fakeTTS{chunks: 3, reason: tts.ReasonFinal}
	h := newHarness(t, mock, synth)
	h.start()

	stream := h.tr.next(t)
	stream.final("Hello Tony")
	writes := h.conn.waitFor(t, containsFinalAudio(1))

	want := []string{
		"Hello Tony",
		`{"audio_chunk":"AQ==","chunk_number":1,"first_chunk":true}`,
		`{"audio_chunk":"Ag==","chunk_number":2,"first_chunk":false}`,
		`{"audio_chunk":"Aw==","chunk_number":3,"first_chunk":false}`,
		`{"status":"final_audio","total_chunks":3,"context_id":"ctx-1"}`,
	}
	if !slices.Equal(writes, want) {
		t.Fatalf("writes:\n%q\nwant:\n%q", writes, want)
	}
	if got := synth.calls(); len(got) != 1 || got[0] != "Good evening, Sir." {
		t.Errorf("synthesized %q", got)
	}

	turns := h.session.History().Turns()
	if len(turns) != 2 || turns[0] != (Turn{RoleUser, "Hello Tony"}) || turns[1] != (Turn{RoleAssistant, "Good evening, Sir."}) {
		t.Errorf("history = %+v", turns)
	}

	h.conn.Close()
	if err := h.wait(t); err != nil {
		t.Errorf("Run = %v", err)
	}
	if _, closes, terminate := stream.state(); closes == 0 || !terminate {
		t.Errorf("transcription closes=%d terminate=%v", closes, terminate)
	}
	if h.session.State() != StateClosed {
		t.Errorf("state = %s", h.session.State())
	}
	if h.reg.Metrics().Count() != 1 {
		t.Errorf("recorded turns = %d", h.reg.Metrics().Count())
	}

	types := h.events.types()
	if types[0] != protocol.EventSessionOpened || types[len(types)-1] != protocol.EventSessionClosed {
		t.Errorf("events = %v", types)
	}
	for _, want := range []protocol.EventType{protocol.EventTranscript, protocol.EventReply, protocol.EventTurnMetrics} {
		if !slices.Contains(types, want) {
			t.Errorf("missing %s event in %v", want, types)
		}
	}
}

func TestEmptyReplySkipsSynthesis(t *testing.T) {
	mock := inference.NewMock().Then(inference.Text("   "))
	synth := &fakeTTS{chunks: 2}
	h := newHarness(t, mock, synth)
	h.start()

	h.tr.next(t).final("Hmm")
	writes := h.conn.waitFor(t, hasStatus(`"error"`))

	want := []string{"Hmm", `{"status":"error","message":"No response generated"}`}
	if !slices.Equal(writes, want) {
		t.Errorf("writes = %q", writes)
	}
	if len(synth.calls()) != 0 {
		t.Error("synthesis attempted for empty reply")
	}
	if turns := h.session.History().Turns(); len(turns) != 1 || turns[0].Role != RoleUser {
		t.Errorf("history = %+v", turns)
	}

	h.conn.Close()
	h.wait(t)
}

func TestGenerationFailure(t *testing.T) {
	mock := inference.NewMock().ThenError(errors.New("quota exceeded"))
	synth := &fakeTTS{chunks: 2}
	h := newHarness(t, mock, synth)
	h.start()

	h.tr.next(t).final("Price of gold?")
	writes := h.conn.waitFor(t, hasStatus(`"error"`))
	if writes[len(writes)-1] != `{"status":"error","message":"AI response generation failed"}` {
		t.Errorf("writes = %q", writes)
	}
	if len(synth.calls()) != 0 {
		t.Error("synthesis attempted after failure")
	}

	h.conn.Close()
	h.wait(t)
}

func TestSynthesisFailureCarriesContextID(t *testing.T) {
	tests := []struct {
		name  string
		synth *fakeTTS
	}{
		{"open fails", &fakeTTS{openErr: errors.New("dial refused")}},
		{"service error", &fakeTTS{chunks: 1, reason: tts.ReasonError}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, inference.NewMock().Then(inference.Text("Right away.")), tt.synth)
			h.start()

			h.tr.next(t).final("Do it")
			writes := h.conn.waitFor(t, hasStatus(`"error"`))
			last := writes[len(writes)-1]
			if last != `{"status":"error","message":"Audio generation failed","context_id":"ctx-1"}` {
				t.Errorf("last write = %s", last)
			}
			if hasStatus("final_audio")(writes) {
				t.Error("final_audio sent after failure")
			}

			h.conn.Close()
			h.wait(t)
		})
	}
}

func TestTimeoutStillCompletes(t *testing.T) {
	h := newHarness(t, inference.NewMock().Then(inference.Text("Done.")), &fakeTTS{chunks: 2, reason: tts.ReasonTimeout})
	h.start()

	h.tr.next(t).final("Go")
	writes := h.conn.waitFor(t, containsFinalAudio(1))
	if writes[len(writes)-1] != `{"status":"final_audio","total_chunks":2,"context_id":"ctx-1"}` {
		t.Errorf("writes = %q", writes)
	}
	h.conn.Close()
	h.wait(t)
}

func TestDisconnectMidSynthesis(t *testing.T) {
	h := newHarness(t, inference.NewMock().Then(inference.Text("A long answer.")), &fakeTTS{chunks: 7, reason: tts.ReasonFinal})
	h.conn.onWrite = func(frame string) {
		if strings.Contains(frame, `"chunk_number":3`) {
			h.session.Close()
		}
	}
	h.start()

	stream := h.tr.next(t)
	stream.final("Tell me everything")
	if err := h.wait(t); err != nil {
		t.Fatalf("Run = %v", err)
	}

	writes := h.conn.Writes()
	if len(writes) != 4 {
		t.Fatalf("writes = %q, want transcript and three chunks", writes)
	}
	for _, w := range writes {
		if strings.Contains(w, "final_audio") || strings.Contains(w, `"chunk_number":4`) {
			t.Errorf("write after close: %s", w)
		}
	}
	if _, _, terminate := stream.state(); !terminate {
		t.Error("transcription not terminated")
	}

	// Nothing else is written once the turn has wound down.
	time.Sleep(20 * time.Millisecond)
	if n := len(h.conn.Writes()); n != 4 {
		t.Errorf("writes grew to %d", n)
	}
}

func TestTurnsQueueAndSeeHistoryPrefix(t *testing.T) {
	mock := inference.NewMock().
		Then(inference.Text("First answer.")).
		Then(inference.Text("Second answer."))
	h := newHarness(t, mock, &fakeTTS{chunks: 1, reason: tts.ReasonFinal})
	h.start()

	stream := h.tr.next(t)
	stream.final("one")
	stream.final("two")
	writes := h.conn.waitFor(t, containsFinalAudio(2))

	reqs := mock.Requests()
	if len(reqs) != 2 {
		t.Fatalf("requests = %d", len(reqs))
	}
	if reqs[0].Prompt != "user: one" {
		t.Errorf("first prompt = %q", reqs[0].Prompt)
	}
	if reqs[1].Prompt != "user: one\nassistant: First answer.\nuser: two" {
		t.Errorf("second prompt = %q", reqs[1].Prompt)
	}
	if !strings.HasPrefix(reqs[1].Prompt, reqs[0].Prompt) {
		t.Error("second prompt does not extend the first")
	}

	var finals []string
	for _, w := range writes {
		if strings.Contains(w, "final_audio") {
			finals = append(finals, w)
		}
	}
	if !strings.Contains(finals[0], "ctx-1") || !strings.Contains(finals[1], "ctx-2") {
		t.Errorf("finals = %q", finals)
	}

	h.conn.Close()
	h.wait(t)
}

func TestToolRoundInTurn(t *testing.T) {
	mock := inference.NewMock().
		Then(inference.Text("Let me check."), inference.Call("get_stock_price", map[string]any{"symbol": "TSLA"})).
		Then(inference.Text("Tesla is at 412.5, Sir."))
	synth := &fakeTTS{chunks: 1, reason: tts.ReasonFinal}
	h := newHarness(t, mock, synth)
	h.start()

	h.tr.next(t).final("How is Tesla doing?")
	h.conn.waitFor(t, containsFinalAudio(1))

	if got := synth.calls(); len(got) != 1 || got[0] != "Tesla is at 412.5, Sir." {
		t.Errorf("synthesized %q", got)
	}
	if !slices.Contains(h.events.types(), protocol.EventToolCall) {
		t.Error("tool call not published")
	}
	h.conn.Close()
	h.wait(t)
}

func TestTranscriptionSetupFailure(t *testing.T) {
	h := newHarness(t, inference.NewMock(), &fakeTTS{})
	h.tr.err = errors.New("401 unauthorized")
	h.start()

	err := h.wait(t)
	if err == nil {
		t.Fatal("expected setup error")
	}
	writes := h.conn.Writes()
	if len(writes) != 1 || writes[0] != `{"status":"error","message":"Transcription service unavailable"}` {
		t.Errorf("writes = %q", writes)
	}
	if h.session.State() != StateClosed {
		t.Errorf("state = %s", h.session.State())
	}
	if _, ok := h.reg.Active("abc"); ok {
		t.Error("failed session still registered")
	}
}

func TestTranscriptionErrorKeepsSession(t *testing.T) {
	h := newHarness(t, inference.NewMock().Then(inference.Text("Still here.")), &fakeTTS{chunks: 1})
	h.start()

	stream := h.tr.next(t)
	stream.events <- transcribeError("connection reset")
	h.conn.waitFor(t, hasStatus("Transcription service unavailable"))
	if h.session.State() == StateClosed {
		t.Fatal("session closed on transcription error")
	}
	h.conn.Close()
	h.wait(t)
}

func TestAudioIsResampled(t *testing.T) {
	h := newHarness(t, inference.NewMock(), &fakeTTS{}, WithClientRate(48000))
	h.start()
	stream := h.tr.next(t)

	h.conn.in <- audioio.SamplesToBytes(make([]int16, 960))
	deadline := time.Now().Add(2 * time.Second)
	for {
		fed, _, _ := stream.state()
		if len(fed) == 1 {
			if len(fed[0]) != 640 {
				t.Errorf("fed %d bytes, want 640", len(fed[0]))
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("audio never fed")
		}
		time.Sleep(2 * time.Millisecond)
	}
	h.conn.Close()
	h.wait(t)
}

func TestNewConnectionReplacesOld(t *testing.T) {
	first := newHarness(t, inference.NewMock(), &fakeTTS{})
	first.start()
	first.tr.next(t)
	first.session.History().Append(RoleUser, "remember me")

	second := New("abc", newFakeConn(), first.reg, first.session.deps)
	result := make(chan error, 1)
	go func() { result <- second.Run(t.Context()) }()

	if err := first.wait(t); err != nil {
		t.Errorf("first Run = %v", err)
	}
	if second.History() != first.session.History() || second.History().Len() != 1 {
		t.Error("history not shared across connections")
	}
	if s, ok := first.reg.Active("abc"); !ok || s != second {
		t.Error("second session not active")
	}

	second.Close()
	<-result
}

func TestReplacementWaitsForInFlightTurn(t *testing.T) {
	slow := newGatedGenerator("A1")
	first := newHarness(t, inference.NewMock(), &fakeTTS{})
	first.session.deps.Generators = slow.factory()
	first.start()
	first.tr.next(t).final("u1")
	if p := slow.waitPrompt(t); p != "user: u1" {
		t.Fatalf("first prompt = %q", p)
	}

	fast := newGatedGenerator("A2")
	close(fast.release)
	deps := first.session.deps
	deps.Generators = fast.factory()
	second := New("abc", newFakeConn(), first.reg, deps)
	result := make(chan error, 1)
	go func() { result <- second.Run(t.Context()) }()
	first.tr.next(t).final("u2")

	select {
	case p := <-fast.entered:
		t.Fatalf("second turn generated %q while the first was in flight", p)
	case <-time.After(100 * time.Millisecond):
	}

	close(slow.release)
	if p := fast.waitPrompt(t); p != "user: u1\nassistant: A1\nuser: u2" {
		t.Errorf("second prompt = %q", p)
	}

	deadline := time.Now().Add(3 * time.Second)
	for second.History().Len() < 4 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	want := []Turn{{RoleUser, "u1"}, {RoleAssistant, "A1"}, {RoleUser, "u2"}, {RoleAssistant, "A2"}}
	if got := second.History().Turns(); !slices.Equal(got, want) {
		t.Errorf("history = %+v, want %+v", got, want)
	}

	second.Close()
	<-result
	first.wait(t)
}

func TestStateString(t *testing.T) {
	for st, want := range map[State]string{
		StateIdle: "idle", StateListening: "listening", StateGenerating: "generating",
		StateSynthesizing: "synthesizing", StateClosed: "closed", State(9): "unknown",
	} {
		if st.String() != want {
			t.Errorf("%d.String() = %q", st, st.String())
		}
	}
}
