package command

import "testing"

var testCommands = []Command{
	{Name: "lights-on", Phrases: []string{"turn on the lights", "lights on"}},
	{Name: "lights-off", Phrases: []string{"turn off the lights", "lights off"}},
	{Name: "stop", Phrases: []string{"stop recording"}},
}

func TestMatchExactPhrase(t *testing.T) {
	m := New(testCommands)

	got, ok := m.Match("turn on the lights")
	if !ok {
		t.Fatal("no match for an exact phrase")
	}
	if got.Command != "lights-on" {
		t.Errorf("Command = %q, want %q", got.Command, "lights-on")
	}
	if got.Score < 0.99 {
		t.Errorf("Score = %f, want about 1.0", got.Score)
	}
	if !got.Phonetic {
		t.Error("exact phrase was not phonetically supported")
	}
}

func TestMatchCaseInsensitive(t *testing.T) {
	m := New(testCommands)

	got, ok := m.Match("  Stop Recording  ")
	if !ok || got.Command != "stop" {
		t.Errorf("Match = %+v, %v; want the stop command", got, ok)
	}
}

func TestMatchWithFillerWords(t *testing.T) {
	m := New(testCommands)

	// The phrase appears as a window inside a longer transcript.
	got, ok := m.Match("hey please stop recording now thanks")
	if !ok {
		t.Fatal("no match for an embedded phrase")
	}
	if got.Command != "stop" {
		t.Errorf("Command = %q, want %q", got.Command, "stop")
	}
}

func TestMatchPhoneticMisrecognition(t *testing.T) {
	m := New(testCommands)

	// A plausible recognizer slip: same consonant skeleton, mangled vowels.
	got, ok := m.Match("stopp recordin")
	if !ok {
		t.Fatal("no match for a phonetically close transcript")
	}
	if got.Command != "stop" {
		t.Errorf("Command = %q, want %q", got.Command, "stop")
	}
	if !got.Phonetic {
		t.Error("expected a phonetically supported match")
	}
}

func TestNoMatch(t *testing.T) {
	m := New(testCommands)

	for _, transcript := range []string{
		"what a lovely day for a walk",
		"",
		"   ",
	} {
		if got, ok := m.Match(transcript); ok {
			t.Errorf("Match(%q) = %+v, want no match", transcript, got)
		}
	}
}

func TestPicksClosestPhrase(t *testing.T) {
	m := New(testCommands)

	got, ok := m.Match("lights off")
	if !ok {
		t.Fatal("no match")
	}
	if got.Command != "lights-off" {
		t.Errorf("Command = %q, want %q", got.Command, "lights-off")
	}
	if got.Phrase != "lights off" {
		t.Errorf("Phrase = %q, want %q", got.Phrase, "lights off")
	}
}

func TestThresholdOptions(t *testing.T) {
	// A threshold of 1.01 is unreachable, so nothing can match.
	m := New(testCommands, WithPhoneticThreshold(1.01), WithFuzzyThreshold(1.01))

	if got, ok := m.Match("turn on the lights"); ok {
		t.Errorf("Match = %+v, want no match with unreachable thresholds", got)
	}
}

func TestEmptyCommandSet(t *testing.T) {
	m := New(nil)

	if got, ok := m.Match("turn on the lights"); ok {
		t.Errorf("Match = %+v, want no match with no commands", got)
	}
}

func TestBlankPhrasesSkipped(t *testing.T) {
	m := New([]Command{{Name: "odd", Phrases: []string{"", "   ", "real phrase"}}})

	got, ok := m.Match("real phrase")
	if !ok || got.Command != "odd" {
		t.Errorf("Match = %+v, %v; want the odd command", got, ok)
	}
}
