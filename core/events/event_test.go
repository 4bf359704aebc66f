package events

import "testing"

type named string

func (n named) EventType() string { return string(n) }

type recorder struct{ seen []string }

func (r *recorder) Emit(evt Event) { r.seen = append(r.seen, evt.EventType()) }

func TestFanoutDeliversInOrder(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	f := Fanout{a, nil, NoopEmitter{}, b}
	f.Emit(named("lending.pool.created"))
	f.Emit(named("lending.borrowed"))
	for _, r := range []*recorder{a, b} {
		if len(r.seen) != 2 || r.seen[0] != "lending.pool.created" || r.seen[1] != "lending.borrowed" {
			t.Fatalf("unexpected delivery: %v", r.seen)
		}
	}
}
