package stt

import (
	"testing"
	"time"
)

func TestMatchesVoicemail(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"you've reached the voicemail of John", true},
		{"please leave a message after the beep", true},
		{"hi, this is John speaking", false},
	}
	for _, c := range cases {
		if _, ok := matchesVoicemail(c.text, DefaultVoicemailKeywords); ok != c.want {
			t.Errorf("matchesVoicemail(%q) = %v, want %v", c.text, ok, c.want)
		}
	}
}

func TestHandlePartial_EmitsVoicemailFinalImmediately(t *testing.T) {
	c := New("https://token.example", "wss://stt.example", "key")
	done := make(chan Event, 1)
	go func() {
		done <- <-c.events
	}()
	c.handlePartial("you've reached the voicemail of", time.Now())

	select {
	case ev := <-done:
		if !ev.VoicemailMatch || ev.Kind != EventFinalTranscript {
			t.Fatalf("expected immediate voicemail final, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for voicemail event")
	}
}

func TestHandlePartial_SuppressesDuplicateWithinCooldown(t *testing.T) {
	c := New("https://token.example", "wss://stt.example", "key")
	now := time.Now()
	c.lastAutoCommit = "yes"
	c.lastAutoCommitAt = now

	events := make(chan Event, 4)
	c.events = events

	c.handlePartial("yes", now.Add(200*time.Millisecond))

	select {
	case ev := <-events:
		t.Fatalf("expected duplicate partial within cooldown to be suppressed, got %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSendAudio_DropsWhenNotReady(t *testing.T) {
	c := New("https://token.example", "wss://stt.example", "key")
	if sent := c.SendAudio(make([]byte, 160)); sent {
		t.Fatal("expected SendAudio to drop frames before Ready")
	}
}

func TestCheckAutoCommit_RequiresMinGap(t *testing.T) {
	c := New("https://token.example", "wss://stt.example", "key")
	events := make(chan Event, 4)
	c.events = events

	now := time.Now()
	c.lastPartial = "hello there"
	c.lastPartialAt = now.Add(-600 * time.Millisecond)
	c.lastAutoCommitAt = now.Add(-500 * time.Millisecond) // inside the 1.5s min gap

	c.checkAutoCommit()

	select {
	case ev := <-events:
		t.Fatalf("expected auto-commit to be withheld inside the min gap, got %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDisconnect_Idempotent(t *testing.T) {
	c := New("https://token.example", "wss://stt.example", "key")
	c.autoCommitStop = make(chan struct{})
	c.Disconnect()
	c.Disconnect() // must not panic on double-close
}
