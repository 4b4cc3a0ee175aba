package channelstore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOpen_CreatesDirectoryTree(t *testing.T) {
	root := t.TempDir()
	s, err := Open(root, "github", "issue-42")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for _, sub := range []string{"artifacts", "attachments", "logs"} {
		if info, err := os.Stat(filepath.Join(root, "github", "issue-42", sub)); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s to exist", sub)
		}
	}
	_ = s
}

func TestWriteTextArtifact_RecordsChecksumAndBytes(t *testing.T) {
	s, err := Open(t.TempDir(), "github", "issue-42")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	rec, err := s.WriteTextArtifact("art-1", "run-1", "reply", VisibilityPublic, 0, "md", "hello world", 1_000)
	if err != nil {
		t.Fatalf("WriteTextArtifact: %v", err)
	}
	if rec.Bytes != int64(len("hello world")) {
		t.Fatalf("expected bytes %d, got %d", len("hello world"), rec.Bytes)
	}
	if rec.ChecksumSHA256 == "" || len(rec.ChecksumSHA256) != 64 {
		t.Fatalf("expected 64-char hex sha256, got %q", rec.ChecksumSHA256)
	}
	if rec.ExpiresUnixMs != nil {
		t.Fatalf("expected no expiry with retentionDays=0")
	}

	data, err := os.ReadFile(filepath.Join(s.root, "artifacts", rec.RelativePath))
	if err != nil {
		t.Fatalf("read artifact file: %v", err)
	}
	if string(data) != "hello world" {
		t.Fatalf("unexpected artifact contents: %q", data)
	}
}

func TestWriteTextArtifact_SetsExpiryFromRetention(t *testing.T) {
	s, _ := Open(t.TempDir(), "github", "issue-42")
	rec, err := s.WriteTextArtifact("art-1", "run-1", "reply", VisibilityPublic, 1, "txt", "x", 0)
	if err != nil {
		t.Fatalf("WriteTextArtifact: %v", err)
	}
	if rec.ExpiresUnixMs == nil || *rec.ExpiresUnixMs != 24*60*60*1000 {
		t.Fatalf("expected expiry at one day in ms, got %+v", rec.ExpiresUnixMs)
	}
}

func TestWriteTextArtifact_RejectsPathTraversal(t *testing.T) {
	s, _ := Open(t.TempDir(), "github", "issue-42")
	_, err := s.WriteTextArtifact("../../escape", "run-1", "reply", VisibilityPublic, 0, "txt", "x", 0)
	if err == nil {
		t.Fatalf("expected path traversal to be rejected")
	}
}

func TestPruneExpired_RemovesOnlyExpiredAndIsIdempotent(t *testing.T) {
	s, _ := Open(t.TempDir(), "github", "issue-42")
	expired, _ := s.WriteTextArtifact("expired", "run-1", "reply", VisibilityPublic, 0, "txt", "a", 1_000)
	expired.ExpiresUnixMs = ptr(int64(500))
	s.idx.Artifacts[0] = expired

	kept, _ := s.WriteTextArtifact("kept", "run-1", "reply", VisibilityPublic, 0, "txt", "b", 1_000)
	kept.ExpiresUnixMs = ptr(int64(5_000))
	s.idx.Artifacts[1] = kept

	removed, err := s.PruneExpired(2_000)
	if err != nil {
		t.Fatalf("PruneExpired: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if len(s.Artifacts()) != 1 || s.Artifacts()[0].ID != "kept" {
		t.Fatalf("expected only 'kept' to remain, got %+v", s.Artifacts())
	}

	removedAgain, err := s.PruneExpired(2_000)
	if err != nil {
		t.Fatalf("PruneExpired (second): %v", err)
	}
	if removedAgain != 0 {
		t.Fatalf("expected idempotent second prune to remove nothing, got %d", removedAgain)
	}
}

func TestAppendLog_WritesJSONLLine(t *testing.T) {
	s, _ := Open(t.TempDir(), "slack", "C123")
	if err := s.AppendLog(LogEntry{TimestampUnixMs: 0, Kind: "processed", Message: "handled event"}); err != nil {
		t.Fatalf("AppendLog: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(s.root, "logs", "1970-01-01.jsonl"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("expected non-empty log file")
	}
}

func TestPutAttachment_RecordsMetadata(t *testing.T) {
	s, _ := Open(t.TempDir(), "slack", "C123")
	rec, err := s.PutAttachment("att-1", "run-1", "screenshot.png", "image/png", []byte{0x89, 0x50, 0x4e, 0x47}, 42)
	if err != nil {
		t.Fatalf("PutAttachment: %v", err)
	}
	if rec.Bytes != 4 {
		t.Fatalf("expected 4 bytes, got %d", rec.Bytes)
	}
	if rec.RelativePath != "att-1.png" {
		t.Fatalf("expected relative path att-1.png, got %s", rec.RelativePath)
	}
}

func ptr[T any](v T) *T { return &v }
