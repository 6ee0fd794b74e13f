package sequence

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/gray-motion-core/internal/channel"
)

// ─── Mock Dependencies ─────────────────────────────────────────────

type mockChannels map[string]channel.Descriptor

func (m mockChannels) Resolve(name string) (channel.Descriptor, error) {
	d, ok := m[name]
	if !ok {
		return channel.Descriptor{}, channel.ErrUnknownChannel
	}
	return d, nil
}

func testChannels() mockChannels {
	return mockChannels{
		"DOME": {Name: "DOME", Controller: "m0", Index: 0, Min: 0, Max: 180, Home: 90},
		"HEAD": {Name: "HEAD", Controller: "m0", Index: 1, Min: -45, Max: 45},
	}
}

const testCatalog = `
sequences:
  - id: GREETING
    name: Greeting
    priority: 5
    steps:
      - at: 0s
        duration: 500ms
        targets: {DOME: 120, HEAD: 20}
        trigger: {kind: audio, name: hello.wav}
      - at: 1s
        duration: 500ms
        targets: {DOME: 90}
  - id: ALERT
    steps:
      - at: 0s
        duration: 200ms
        targets: {DOME: 30}
`

// ─── Tests ─────────────────────────────────────────────────────────

func TestParse(t *testing.T) {
	lib, err := Parse([]byte(testCatalog), testChannels())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if lib.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", lib.Count())
	}

	g, err := lib.Get("GREETING")
	if err != nil {
		t.Fatalf("Get(GREETING) error = %v", err)
	}
	if g.Steps[1].At != time.Second || g.Steps[0].Duration != 500*time.Millisecond {
		t.Errorf("durations not decoded: %+v", g.Steps)
	}
	if g.Steps[0].Trigger == nil || g.Steps[0].Trigger.Name != "hello.wav" {
		t.Errorf("trigger = %+v", g.Steps[0].Trigger)
	}
	if got := g.Channels(); len(got) != 2 || got[0] != "DOME" || got[1] != "HEAD" {
		t.Errorf("Channels() = %v", got)
	}
	if g.Duration() != 1500*time.Millisecond {
		t.Errorf("Duration() = %v, want 1.5s", g.Duration())
	}

	a, _ := lib.Get("ALERT")
	if a.Priority != DefaultPriority {
		t.Errorf("ALERT priority = %d, want default %d", a.Priority, DefaultPriority)
	}

	list := lib.List()
	if list[0].ID != "ALERT" || list[1].ID != "GREETING" {
		t.Errorf("List() order = %s, %s", list[0].ID, list[1].ID)
	}
}

func TestGet_NotFound(t *testing.T) {
	lib, _ := NewLibrary(nil, testChannels())
	if _, err := lib.Get("NOPE"); !errors.Is(err, ErrSequenceNotFound) {
		t.Errorf("Get() error = %v, want ErrSequenceNotFound", err)
	}
}

func TestList_ReturnsCopies(t *testing.T) {
	lib, err := Parse([]byte(testCatalog), testChannels())
	if err != nil {
		t.Fatal(err)
	}

	list := lib.List()
	list[1].Steps[0].Targets["DOME"] = 0

	g, _ := lib.Get("GREETING")
	if g.Steps[0].Targets["DOME"] != 120 {
		t.Error("List() shares step targets with the library")
	}
}

func TestNewLibrary_CopiesInput(t *testing.T) {
	in := []Sequence{{ID: "WAVE", Priority: 3, Steps: []Step{{Duration: time.Second, Targets: map[string]float64{"HEAD": 10}}}}}
	lib, err := NewLibrary(in, testChannels())
	if err != nil {
		t.Fatal(err)
	}

	in[0].Steps[0].Targets["HEAD"] = 40
	s, _ := lib.Get("WAVE")
	if s.Steps[0].Targets["HEAD"] != 10 {
		t.Error("library entry changed after caller mutated input")
	}
}

func TestValidate(t *testing.T) {
	step := func(at, dur time.Duration, targets map[string]float64) Step {
		return Step{At: at, Duration: dur, Targets: targets}
	}

	tests := []struct {
		name    string
		seq     Sequence
		wantErr error
		wantMsg string
	}{
		{
			name: "valid",
			seq:  Sequence{ID: "OK", Priority: 10, Steps: []Step{step(0, time.Second, map[string]float64{"DOME": 10})}},
		},
		{
			name:    "bad id",
			seq:     Sequence{ID: "has space", Priority: 10, Steps: []Step{step(0, time.Second, map[string]float64{"DOME": 10})}},
			wantErr: ErrInvalidSequence,
		},
		{
			name:    "priority out of range",
			seq:     Sequence{ID: "P", Priority: 101, Steps: []Step{step(0, time.Second, map[string]float64{"DOME": 10})}},
			wantErr: ErrInvalidSequence,
			wantMsg: "priority",
		},
		{
			name:    "no steps",
			seq:     Sequence{ID: "EMPTY", Priority: 10},
			wantErr: ErrInvalidSequence,
			wantMsg: "no steps",
		},
		{
			name:    "unknown channel",
			seq:     Sequence{ID: "U", Priority: 10, Steps: []Step{step(0, time.Second, map[string]float64{"TAIL": 1})}},
			wantErr: channel.ErrUnknownChannel,
		},
		{
			name:    "target out of range",
			seq:     Sequence{ID: "R", Priority: 10, Steps: []Step{step(0, time.Second, map[string]float64{"HEAD": 90})}},
			wantErr: ErrInvalidStep,
			wantMsg: "outside",
		},
		{
			name: "overlapping steps",
			seq: Sequence{ID: "O", Priority: 10, Steps: []Step{
				step(0, time.Second, map[string]float64{"DOME": 10}),
				step(500*time.Millisecond, time.Second, map[string]float64{"HEAD": 10}),
			}},
			wantErr: ErrInvalidStep,
			wantMsg: "before step[0] ends",
		},
		{
			name:    "motion without duration",
			seq:     Sequence{ID: "Z", Priority: 10, Steps: []Step{step(0, 0, map[string]float64{"DOME": 10})}},
			wantErr: ErrInvalidStep,
		},
		{
			name:    "empty step",
			seq:     Sequence{ID: "E", Priority: 10, Steps: []Step{{At: 0}}},
			wantErr: ErrInvalidStep,
		},
		{
			name:    "trigger without name",
			seq:     Sequence{ID: "T", Priority: 10, Steps: []Step{{Trigger: &Trigger{Kind: "audio"}}}},
			wantErr: ErrInvalidStep,
			wantMsg: "trigger",
		},
		{
			name: "trigger-only step",
			seq:  Sequence{ID: "CUE", Priority: 10, Steps: []Step{{Trigger: &Trigger{Kind: "lighting", Name: "red"}}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.seq, testChannels())
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantMsg != "" && !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Validate() error = %q, want it to contain %q", err, tt.wantMsg)
			}
		})
	}
}

func TestNewLibrary_DuplicateID(t *testing.T) {
	s := Sequence{ID: "DUP", Priority: 1, Steps: []Step{{Duration: time.Second, Targets: map[string]float64{"DOME": 1}}}}
	if _, err := NewLibrary([]Sequence{s, s}, testChannels()); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("NewLibrary() error = %v, want ErrDuplicateID", err)
	}
}

func TestCatalog_Replace(t *testing.T) {
	first, _ := Parse([]byte(testCatalog), testChannels())
	cat := NewCatalog(first)

	held, err := cat.Get("GREETING")
	if err != nil {
		t.Fatal(err)
	}

	second, err := NewLibrary([]Sequence{{ID: "ONLY", Priority: 1, Steps: []Step{{Duration: time.Second, Targets: map[string]float64{"DOME": 1}}}}}, testChannels())
	if err != nil {
		t.Fatal(err)
	}
	cat.Replace(second)

	if _, err := cat.Get("GREETING"); !errors.Is(err, ErrSequenceNotFound) {
		t.Errorf("Get(GREETING) after replace error = %v", err)
	}
	// A sequence obtained before the swap is untouched.
	if held.Steps[0].Targets["DOME"] != 120 {
		t.Error("held sequence changed by catalog replace")
	}
}
