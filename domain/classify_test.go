package domain

import "testing"

func TestClassifyDifficulty(t *testing.T) {
	tests := []struct {
		name  string
		title string
		want  Difficulty
	}{
		{name: "hard keyword wins over medium keyword", title: "לקבוע פגישה חשובה", want: Hard},
		{name: "short medium keyword", title: "לקנות חלב", want: Medium},
		{name: "no keyword short", title: "לצחצח שיניים", want: Easy},
		{name: "word count alone", title: "go for a walk in the park", want: Medium},
		{name: "five words stay easy", title: "take the dog outside now", want: Easy},
		{name: "case insensitive english", title: "Study for EXAM", want: Hard},
		{name: "medium english", title: "Call mom", want: Medium},
		{name: "extra whitespace does not add words", title: "  water   the  plants  ", want: Easy},
		{name: "empty", title: "", want: Easy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyDifficulty(tt.title); got != tt.want {
				t.Fatalf("ClassifyDifficulty(%q) = %s, want %s", tt.title, got, tt.want)
			}
			if again := ClassifyDifficulty(tt.title); again != tt.want {
				t.Fatalf("ClassifyDifficulty(%q) not deterministic: %s", tt.title, again)
			}
		})
	}
}

func TestClassifyHardKeywordBeatsLongTitle(t *testing.T) {
	title := "prepare slides and notes for the project review"
	if got := ClassifyDifficulty(title); got != Hard {
		t.Fatalf("expected hard, got %s", got)
	}
}
