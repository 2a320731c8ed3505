package grading

import (
	"reflect"
	"testing"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"lowercases and splits", "Hello World", []string{"hello", "world"}},
		{"strips punctuation", "a) 2-3 pumps!", []string{"a", "2", "3", "pumps"}},
		{"drops stopwords", "she uses the mandolin", []string{"uses", "mandolin"}},
		{"keeps accented letters", "demostración rápida", []string{"demostración", "rápida"}},
		{"collapses glued article", "la cocina", []string{"cocina"}},
		{"empty input", "", []string{}},
		{"punctuation only", "?!...", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Tokenize(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"kitten", "sitting", 3},
		{"mandolin", "mandoline", 1},
		{"same", "same", 0},
		{"café", "cafe", 1},
	}
	for _, tt := range tests {
		if got := Distance(tt.a, tt.b); got != tt.want {
			t.Errorf("Distance(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestIsCorrectResponse(t *testing.T) {
	tests := []struct {
		name     string
		response string
		correct  string
		want     bool
	}{
		{"multiple choice letter match", "a", "a) test", true},
		{"multiple choice letter mismatch", "b", "a) test", false},
		{"multiple choice uppercase", "A", "a) test", true},
		{"empty response", "", "b) 2-3 pumps", false},
		{"whitespace response", "   ", "b) 2-3 pumps", false},
		{"stopwords ignored", "She uses a mandolin", "d) uses / mandolin", true},
		{"yes equivalence", "Yes", "yes, every time", true},
		{"yes cross language", "si", "Yes", true},
		{"no equivalence", "no", "a) no", true},
		{"yes against no answer", "yes", "a) no", false},
		{"close spelling accepted", "mandoline", "b) mandolin", true},
		{"distant spelling rejected", "trombone", "b) mandolin", false},
		{"answer contained in reply", "i think it is four pumps", "four pumps", true},
		{"unrelated reply", "what is this", "b) 2-3 pumps", false},
		{"exact ungraded style match", "ready", "ready", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsCorrectResponse(tt.response, tt.correct); got != tt.want {
				t.Errorf("IsCorrectResponse(%q, %q) = %v, want %v", tt.response, tt.correct, got, tt.want)
			}
		})
	}
}
