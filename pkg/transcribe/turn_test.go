package transcribe

import "testing"

func TestInterpretTurn(t *testing.T) {
	tests := []struct {
		name         string
		msg          turnMessage
		alive        bool
		wantEmit     bool
		wantKind     Kind
		wantText     string
		wantReformat bool
	}{
		{
			name:     "partial",
			msg:      turnMessage{Transcript: "what is the price"},
			alive:    true,
			wantEmit: true,
			wantKind: KindPartial,
			wantText: "what is the price",
		},
		{
			name:  "empty partial",
			msg:   turnMessage{Transcript: "  "},
			alive: true,
		},
		{
			name:         "ended but unformatted",
			msg:          turnMessage{Transcript: "what is the price", EndOfTurn: true},
			alive:        true,
			wantReformat: true,
		},
		{
			name:     "ended and formatted",
			msg:      turnMessage{Transcript: " What is the price? ", EndOfTurn: true, TurnIsFormatted: true},
			alive:    true,
			wantEmit: true,
			wantKind: KindFinal,
			wantText: "What is the price?",
		},
		{
			name: "formatted after close",
			msg:  turnMessage{Transcript: "Hello.", EndOfTurn: true, TurnIsFormatted: true},
		},
		{
			name:  "formatted but blank",
			msg:   turnMessage{Transcript: "", EndOfTurn: true, TurnIsFormatted: true},
			alive: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, emit, reformat := interpretTurn(tt.msg, tt.alive)
			if emit != tt.wantEmit || reformat != tt.wantReformat {
				t.Fatalf("emit=%v reformat=%v, want %v %v", emit, reformat, tt.wantEmit, tt.wantReformat)
			}
			if !emit {
				return
			}
			if ev.Kind != tt.wantKind || ev.Text != tt.wantText {
				t.Errorf("event = %+v", ev)
			}
		})
	}
}

func TestKindString(t *testing.T) {
	if KindFinal.String() != "final" || Kind(42).String() != "unknown" {
		t.Error("unexpected kind names")
	}
}
