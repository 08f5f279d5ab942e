package events

import "testing"

func TestPublisher_NilReceiverIsSafe(t *testing.T) {
	var p *Publisher
	// Must not panic.
	p.Publish(SubjectHistorySaved, "history_saved", "user-1", map[string]any{"videoId": "v1"})
}

func TestPublisher_NilJetStreamIsSafe(t *testing.T) {
	p := New(nil, nil)
	p.Publish(SubjectHistoryCleared, "history_cleared", "user-1", nil)
}
