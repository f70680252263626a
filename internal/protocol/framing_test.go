package protocol

import (
	"bytes"
	"testing"
)

func TestLineFramerRoundTrip(t *testing.T) {
	x := map[string]any{"type": "user", "session_id": "abc", "n": 1.0}
	line, err := EncodeLine(x)
	if err != nil {
		t.Fatalf("EncodeLine: %v", err)
	}

	var f LineFramer
	envs, err := f.Feed(line)
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(envs) != 1 {
		t.Fatalf("want 1 envelope, got %d", len(envs))
	}
	if envs[0].Type != "user" || envs[0].SessionID != "abc" {
		t.Fatalf("unexpected envelope: %+v", envs[0])
	}
}

func TestLineFramerByteAtATime(t *testing.T) {
	inputs := []map[string]any{
		{"type": "a", "session_id": "s1"},
		{"type": "b", "session_id": "s2"},
		{"type": "c", "session_id": "s3"},
	}
	var full bytes.Buffer
	for _, in := range inputs {
		line, err := EncodeLine(in)
		if err != nil {
			t.Fatal(err)
		}
		full.Write(line)
	}

	var f LineFramer
	var got []Envelope
	data := full.Bytes()
	for i := range data {
		envs, err := f.Feed(data[i : i+1])
		if err != nil {
			t.Fatalf("Feed byte %d: %v", i, err)
		}
		got = append(got, envs...)
	}

	if len(got) != len(inputs) {
		t.Fatalf("want %d envelopes, got %d", len(inputs), len(got))
	}
	for i, want := range inputs {
		if got[i].Type != want["type"] {
			t.Errorf("envelope %d: want type %v, got %v", i, want["type"], got[i].Type)
		}
	}
}

func TestLineFramerPartialFrame(t *testing.T) {
	line, _ := EncodeLine(map[string]any{"type": "x", "session_id": "s"})
	split := len(line) / 2

	var f LineFramer
	envs, err := f.Feed(line[:split])
	if err != nil {
		t.Fatal(err)
	}
	if len(envs) != 0 {
		t.Fatalf("expected no complete frames yet, got %d", len(envs))
	}

	envs, err = f.Feed(line[split:])
	if err != nil {
		t.Fatal(err)
	}
	if len(envs) != 1 || envs[0].Type != "x" {
		t.Fatalf("expected one frame of type x, got %+v", envs)
	}
}
