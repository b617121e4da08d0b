package main

import "testing"

func TestAPIBase(t *testing.T) {
	cases := []struct {
		relay string
		want  string
	}{
		{"ws://localhost:8080/realtime", "http://localhost:8080"},
		{"wss://dreams.example.com/realtime", "https://dreams.example.com"},
		{"ws://10.0.0.5:9000", "http://10.0.0.5:9000"},
	}
	for _, tc := range cases {
		got, err := apiBase(tc.relay)
		if err != nil {
			t.Errorf("apiBase(%q): %v", tc.relay, err)
			continue
		}
		if got != tc.want {
			t.Errorf("apiBase(%q) = %q, want %q", tc.relay, got, tc.want)
		}
	}
}

func TestTranscriptCollector(t *testing.T) {
	var c transcriptCollector
	c.add("I was in a forest.")
	c.add("  ")
	c.add("The trees were made of glass.")

	want := "I was in a forest. The trees were made of glass."
	if got := c.join(); got != want {
		t.Errorf("join() = %q, want %q", got, want)
	}
}

func TestTranscriptCollector_Empty(t *testing.T) {
	var c transcriptCollector
	if got := c.join(); got != "" {
		t.Errorf("join() = %q, want empty", got)
	}
}
