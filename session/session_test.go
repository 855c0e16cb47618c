package session

import "testing"

func TestClassify(t *testing.T) {
	p := Progress{
		CurrentMatchIndex: 2,
		Matches: []Match{
			{Item1ID: "a", Item2ID: "b"},
			{Item1ID: "c", Item2ID: "d"},
			{Item1ID: "e", Item2ID: "f"},
			{Item1ID: "g", Item2ID: "h"},
		},
	}
	Classify(&p)

	want := []MatchStatus{MatchPassed, MatchPassed, MatchCurrent, MatchUpcoming}
	for i, m := range p.Matches {
		if m.Status != want[i] {
			t.Errorf("match %d status = %s, want %s", i, m.Status, want[i])
		}
	}
}

func TestClassifyFirstMatch(t *testing.T) {
	p := Progress{
		CurrentMatchIndex: 0,
		Matches:           []Match{{Item1ID: "a", Item2ID: "b"}, {Item1ID: "c", Item2ID: "d"}},
	}
	Classify(&p)
	if p.Matches[0].Status != MatchCurrent {
		t.Errorf("match 0 status = %s, want current", p.Matches[0].Status)
	}
	if p.Matches[1].Status != MatchUpcoming {
		t.Errorf("match 1 status = %s, want upcoming", p.Matches[1].Status)
	}
}

func TestClassifyEmptyBracket(t *testing.T) {
	p := Progress{}
	Classify(&p) // must not panic
	if len(p.Matches) != 0 {
		t.Errorf("matches = %v, want empty", p.Matches)
	}
}

func TestCompleted(t *testing.T) {
	p := Progress{}
	if p.Completed() {
		t.Error("zero progress reports completed")
	}
	p.WinnerID = "item7"
	if !p.Completed() {
		t.Error("progress with winner does not report completed")
	}
}
