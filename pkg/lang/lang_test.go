package lang

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Language
	}{
		{"en", English},
		{"EN", English},
		{"en-US", English},
		{"hi_IN", Hindi},
		{"", English},
		{"zz", Language("zz")},
	}

	for _, tt := range tests {
		if got := Parse(tt.in); got != tt.want {
			t.Errorf("Parse(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMatchWholeWord(t *testing.T) {
	r := Default()

	tests := []struct {
		name string
		lang Language
		kind KeywordKind
		text string
		want bool
	}{
		{name: "urgency keyword", lang: English, kind: KeywordUrgency, text: "wait a second", want: true},
		{name: "case insensitive", lang: English, kind: KeywordUrgency, text: "STOP right there", want: true},
		{name: "substring does not match", lang: English, kind: KeywordUrgency, text: "the waiter arrived", want: false},
		{name: "multi-word phrase", lang: English, kind: KeywordClarification, text: "hm, what do you mean by that", want: true},
		{name: "correction", lang: English, kind: KeywordCorrection, text: "actually I wanted the other one", want: true},
		{name: "empty text", lang: English, kind: KeywordUrgency, text: "   ", want: false},
		{name: "hindi urgency", lang: Hindi, kind: KeywordUrgency, text: "ruko ek minute", want: true},
		{name: "unknown language falls back to english", lang: Language("zz"), kind: KeywordUrgency, text: "please stop now", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Match(tt.lang, tt.kind, tt.text); got != tt.want {
				t.Errorf("Match(%q, %v, %q) = %v, want %v", tt.lang, tt.kind, tt.text, got, tt.want)
			}
		})
	}
}

func TestAckPhrases(t *testing.T) {
	if got := AckPhrases(English, "clarification"); len(got) == 0 {
		t.Fatal("no clarification phrases for English")
	}

	// Hindi has no "urgent" table; falls back to English "urgent".
	got := AckPhrases(Hindi, "urgent")
	want := ackTables[English]["urgent"]
	if len(got) != len(want) || got[0] != want[0] {
		t.Errorf("AckPhrases(Hindi, urgent) = %v, want English urgent set", got)
	}

	// Unknown kind falls back to the generic clarification set.
	got = AckPhrases(English, "barge_in")
	want = ackTables[English]["clarification"]
	if len(got) != len(want) || got[0] != want[0] {
		t.Errorf("AckPhrases(English, barge_in) = %v, want clarification set", got)
	}

	// Unknown language falls back to English.
	if got := AckPhrases(Language("zz"), "correction"); len(got) == 0 {
		t.Error("no fallback phrases for unknown language")
	}
}
