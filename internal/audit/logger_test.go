package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ragworks/raggate/internal/model"
)

func testRecord(id, tenantID string) *model.AuditRecord {
	tctx := model.NewTenantContext(tenantID, "user-1", model.RoleMember)
	return model.NewAuditRecord(id, tctx, "bot-1", model.StageResponded, "allowed", "")
}

func TestRingBufferNewestFirst(t *testing.T) {
	b := newRingBuffer(3)
	for i := 1; i <= 5; i++ {
		b.add(testRecord("rec-"+strconv.Itoa(i), "tenant-a"))
	}

	got := b.snapshot("", 10)
	if len(got) != 3 {
		t.Fatalf("expected 3 records after wrap, got %d", len(got))
	}
	if got[0].ID != "rec-5" || got[2].ID != "rec-3" {
		t.Fatalf("unexpected order: %s ... %s", got[0].ID, got[2].ID)
	}
}

func TestRingBufferTenantFilter(t *testing.T) {
	b := newRingBuffer(10)
	b.add(testRecord("a1", "tenant-a"))
	b.add(testRecord("b1", "tenant-b"))
	b.add(testRecord("a2", "tenant-a"))

	got := b.snapshot("tenant-a", 10)
	if len(got) != 2 {
		t.Fatalf("expected 2 tenant-a records, got %d", len(got))
	}
	for _, rec := range got {
		if rec.TenantID != "tenant-a" {
			t.Fatalf("foreign record: %+v", rec)
		}
	}
}

func TestLoggerWritesJSONLines(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLogger(Options{LogDir: dir, QueueSize: 8, BufferMax: 8})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	l.Record(testRecord("rec-1", "tenant-a"))
	l.Record(testRecord("rec-2", "tenant-a"))

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	f, err := os.Open(filepath.Join(dir, "audit.jsonl"))
	if err != nil {
		t.Fatalf("open sink: %v", err)
	}
	defer f.Close()

	var lines int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec model.AuditRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", lines+1, err)
		}
		if rec.TenantID != "tenant-a" {
			t.Fatalf("unexpected record: %+v", rec)
		}
		lines++
	}
	if lines != 2 {
		t.Fatalf("expected 2 lines, got %d", lines)
	}
}

func TestLoggerDropsWhenQueueFull(t *testing.T) {
	l, err := NewLogger(Options{QueueSize: 1, BufferMax: 4})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	// No worker running: the second record cannot be enqueued and must be
	// dropped without blocking.
	recorded := make(chan struct{})
	go func() {
		l.Record(testRecord("rec-1", "tenant-a"))
		l.Record(testRecord("rec-2", "tenant-a"))
		close(recorded)
	}()

	select {
	case <-recorded:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a full queue")
	}

	// Both records still appear in the in-memory buffer.
	if got := l.List("tenant-a", 10); len(got) != 2 {
		t.Fatalf("expected both records in buffer, got %d", len(got))
	}
}

func TestLoggerRecordsAreSecretFree(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLogger(Options{LogDir: dir, QueueSize: 8, BufferMax: 8})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	secret := strings.Repeat("e7", 25)
	tctx := model.NewTenantContext("tenant-a", "user-1", model.RoleMember)
	l.Record(model.NewAuditRecord("rec-1", tctx, "bot-1", model.StageInputSafetyChecked, "blocked", "query contained "+secret))

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	raw, err := os.ReadFile(filepath.Join(dir, "audit.jsonl"))
	if err != nil {
		t.Fatalf("read sink: %v", err)
	}
	if strings.Contains(string(raw), secret) {
		t.Fatal("secret written to audit sink")
	}
}
