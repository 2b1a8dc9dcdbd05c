package bridge

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/xiaoyuanzhu-com/gueridon/config"
)

func testRecords() []ReaperRecord {
	return []ReaperRecord{{
		SessionID:  "rec-1",
		FolderPath: "/p/app",
		PID:        4242,
		SpawnedAt:  time.Now(),
	}}
}

func waitForRecord(t *testing.T, path, wantID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(path)
		if err == nil {
			var records []ReaperRecord
			if json.Unmarshal(data, &records) == nil && len(records) == 1 && records[0].SessionID == wantID {
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s to hold record %q", path, wantID)
}

func TestPersistDebouncerQueue(t *testing.T) {
	path := config.Get().SessionsFile()
	os.Remove(path)
	t.Cleanup(func() { os.Remove(path) })

	p := newPersistDebouncer(testRecords)
	t.Cleanup(p.Stop)

	p.Queue()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("the write must wait out the debounce delay")
	}

	waitForRecord(t, path, "rec-1")
}

func TestPersistDebouncerFlush(t *testing.T) {
	path := config.Get().SessionsFile()
	os.Remove(path)
	t.Cleanup(func() { os.Remove(path) })

	p := newPersistDebouncer(testRecords)
	t.Cleanup(p.Stop)

	p.Queue()
	p.Flush()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Flush must write immediately: %v", err)
	}
	var records []ReaperRecord
	if err := json.Unmarshal(data, &records); err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].PID != 4242 {
		t.Errorf("unexpected records %+v", records)
	}

	// the queued timer was consumed by the flush
	if err := os.WriteFile(path, []byte("[]"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(persistDelay + 200*time.Millisecond)
	data, err = os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "[]" {
		t.Error("no debounced write may fire after a flush")
	}
}

func TestPersistDebouncerStop(t *testing.T) {
	path := config.Get().SessionsFile()
	os.Remove(path)
	t.Cleanup(func() { os.Remove(path) })

	p := newPersistDebouncer(testRecords)
	p.Queue()
	p.Stop()
	p.Queue()

	time.Sleep(persistDelay + 200*time.Millisecond)
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("no write may land after Stop")
	}
}
