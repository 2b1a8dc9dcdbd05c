package bridge

import (
	"testing"
	"time"
)

func TestResolveSession(t *testing.T) {
	journal := &JournalRef{SessionID: "journal-id", Path: "/x/journal-id.jsonl"}
	fresh := func() string { return "fresh-id" }

	tests := []struct {
		desc          string
		inProcess     *Resolution
		journal       *JournalRef
		handoffID     string
		exited        bool
		wantID        string
		wantResumable bool
		wantReconnect bool
	}{
		{
			desc:          "in-process session wins over everything",
			inProcess:     &Resolution{SessionID: "live-id", Resumable: true},
			journal:       journal,
			handoffID:     "journal-id",
			exited:        true,
			wantID:        "live-id",
			wantResumable: true,
			wantReconnect: true,
		},
		{
			desc:   "no journal means a fresh id",
			wantID: "fresh-id",
		},
		{
			desc:    "deliberate exit forces a fresh id",
			journal: journal,
			exited:  true,
			wantID:  "fresh-id",
		},
		{
			desc:      "matching handoff forces a fresh id",
			journal:   journal,
			handoffID: "journal-id",
			wantID:    "fresh-id",
		},
		{
			desc:          "handoff for a different id does not block resume",
			journal:       journal,
			handoffID:     "some-older-id",
			wantID:        "journal-id",
			wantResumable: true,
		},
		{
			desc:          "plain journal resumes",
			journal:       journal,
			wantID:        "journal-id",
			wantResumable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			got := ResolveSession(tt.inProcess, tt.journal, tt.handoffID, tt.exited, fresh)
			if got.SessionID != tt.wantID {
				t.Errorf("SessionID = %q, want %q", got.SessionID, tt.wantID)
			}
			if got.Resumable != tt.wantResumable {
				t.Errorf("Resumable = %v, want %v", got.Resumable, tt.wantResumable)
			}
			if got.IsReconnect != tt.wantReconnect {
				t.Errorf("IsReconnect = %v, want %v", got.IsReconnect, tt.wantReconnect)
			}
		})
	}
}

func TestResolveSessionDeterministic(t *testing.T) {
	journal := &JournalRef{SessionID: "journal-id", Path: "/x/journal-id.jsonl"}
	fresh := func() string { return "fresh-id" }

	first := ResolveSession(nil, journal, "some-older-id", false, fresh)
	second := ResolveSession(nil, journal, "some-older-id", false, fresh)
	if first != second {
		t.Errorf("repeated resolution diverged: %+v vs %+v", first, second)
	}
}

func TestHandoffIsStale(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		desc          string
		journalAfter  time.Duration
		stale         bool
	}{
		{"journal and handoff land together", 2 * time.Second, false},
		{"journal exactly at the threshold", 60 * time.Second, false},
		{"journal kept growing past the handoff", 61 * time.Second, true},
		{"journal hours newer", 3 * time.Hour, true},
		{"handoff newer than journal", -5 * time.Second, false},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			got := HandoffIsStale(base.Add(tt.journalAfter), base)
			if got != tt.stale {
				t.Errorf("HandoffIsStale = %v, want %v", got, tt.stale)
			}
		})
	}
}
