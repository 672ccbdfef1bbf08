package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestCanTransition_OnlyFromQueued(t *testing.T) {
	cases := []struct {
		from, to MessageStatus
		want     bool
	}{
		{StatusQueued, StatusSent, true},
		{StatusQueued, StatusFailed, true},
		{StatusQueued, StatusQueued, false},
		{StatusSent, StatusQueued, false},
		{StatusSent, StatusFailed, false},
		{StatusSent, StatusSent, false},
		{StatusFailed, StatusQueued, false},
		{StatusFailed, StatusSent, false},
	}

	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestSourcesFor(t *testing.T) {
	if got := SourcesFor(StatusQueued); len(got) != 0 {
		t.Fatalf("expected no source for queued, got %v", got)
	}

	got := SourcesFor(StatusFailed)
	if len(got) != 1 || got[0] != StatusQueued {
		t.Fatalf("expected [queued] as sources for failed, got %v", got)
	}
}

func TestMessageStatus_IsTerminal(t *testing.T) {
	if StatusQueued.IsTerminal() {
		t.Errorf("queued must not be terminal")
	}
	if !StatusSent.IsTerminal() || !StatusFailed.IsTerminal() {
		t.Errorf("sent and failed must be terminal")
	}
	if MessageStatus("delivered").Valid() {
		t.Errorf("delivered is no longer a valid status")
	}
}

func TestJob_DecodeEveryKind(t *testing.T) {
	bulk := "bulk-1"
	payloads := []JobPayload{
		SendMessage{MessageID: 7},
		SendBatch{CampaignID: 1, OwnerID: 2, MessageIDs: []int64{3, 4}},
		EnqueueCampaign{CampaignID: 1, OwnerID: 2},
		RefreshStatuses{Limit: 50, BulkID: &bulk},
		ImportContacts{OwnerID: 2, Contacts: []ContactInput{{Phone: "+306900000000"}}},
	}

	for _, p := range payloads {
		job, err := NewJob(p, 5)
		if err != nil {
			t.Fatalf("NewJob(%s) returned error: %v", p.Kind(), err)
		}
		if job.ID == "" {
			t.Fatalf("expected job id to be generated")
		}

		decoded, err := job.Decode()
		if err != nil {
			t.Fatalf("Decode(%s) returned error: %v", p.Kind(), err)
		}
		if decoded.Kind() != p.Kind() {
			t.Fatalf("expected kind %s, got %s", p.Kind(), decoded.Kind())
		}
	}
}

func TestJob_DecodeUnknownKind(t *testing.T) {
	job := Job{ID: "x", Kind: "reticulate_splines", Payload: json.RawMessage(`{}`)}

	_, err := job.Decode()
	if !errors.Is(err, ErrUnknownJobKind) {
		t.Fatalf("expected ErrUnknownJobKind, got %v", err)
	}
}

func TestJob_Exhausted(t *testing.T) {
	job := Job{Attempt: 4, MaxAttempts: 5}
	if job.Exhausted() {
		t.Fatalf("attempt 4 of 5 must leave one more try")
	}
	job.Attempt = 5
	if !job.Exhausted() {
		t.Fatalf("attempt 5 of 5 must be exhausted")
	}
}
