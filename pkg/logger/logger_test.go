package logger

import "testing"

type recordedLine struct {
	level   string
	message string
	keyvals []any
}

type recorder struct {
	lines []recordedLine
}

func (r *recorder) add(level, message string, keyvals []any) {
	r.lines = append(r.lines, recordedLine{level: level, message: message, keyvals: keyvals})
}

func (r *recorder) Log(m string, kv ...any)   { r.add("log", m, kv) }
func (r *recorder) Debug(m string, kv ...any) { r.add("debug", m, kv) }
func (r *recorder) Info(m string, kv ...any)  { r.add("info", m, kv) }
func (r *recorder) Warn(m string, kv ...any)  { r.add("warn", m, kv) }
func (r *recorder) Error(m string, kv ...any) { r.add("error", m, kv) }
func (r *recorder) Fatal(m string, kv ...any) { r.add("fatal", m, kv) }

func TestDispatchToAllInstances(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	Init(a, b)
	t.Cleanup(func() { Init() })

	Info("[Pipeline] job finished", "job_id", "j1")
	Log("[Pipeline] plain", "k", 1)

	for _, r := range []*recorder{a, b} {
		if len(r.lines) != 2 {
			t.Fatalf("expected 2 lines, got %d", len(r.lines))
		}
		if r.lines[0].level != "info" || r.lines[0].keyvals[1] != "j1" {
			t.Fatalf("unexpected first line: %+v", r.lines[0])
		}
		if len(r.lines[1].keyvals) != 2 {
			t.Fatalf("expected Log to forward keyvals, got %+v", r.lines[1])
		}
	}
}

func TestCallsBeforeInitAreDropped(t *testing.T) {
	mu.Lock()
	singleton = nil
	mu.Unlock()

	Warn("dropped")
	Error("dropped")
}
