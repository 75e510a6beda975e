package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"securevpn/internal/model"
)

func TestAppendCSV_WritesHeaderOnce(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	path := filepath.Join(tmp, "telemetry.csv")

	m1 := model.SampleRecord{Timestamp: time.Unix(1, 0).UTC(), SessionID: "s1", EndpointID: "1", Sample: model.Sample{ElapsedSeconds: 1}}
	m2 := model.SampleRecord{Timestamp: time.Unix(2, 0).UTC(), SessionID: "s1", EndpointID: "1", Sample: model.Sample{ElapsedSeconds: 2}}

	if err := AppendCSV(path, []model.SampleRecord{m1}); err != nil {
		t.Fatalf("AppendCSV #1: %v", err)
	}
	if err := AppendCSV(path, []model.SampleRecord{m2}); err != nil {
		t.Fatalf("AppendCSV #2: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines=%d\n%s", len(lines), string(data))
	}
	if !strings.HasPrefix(lines[0], "timestamp,") {
		t.Fatalf("missing header: %q", lines[0])
	}
}

func TestReadCSV_ParsesAppended(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "telemetry.csv")
	in := model.SampleRecord{
		Timestamp:  time.Date(2024, 5, 1, 10, 0, 3, 0, time.UTC),
		SessionID:  "01hzx",
		EndpointID: "3",
		Sample:     model.Sample{ElapsedSeconds: 3, DownloadMbps: 91.25, UploadMbps: 44.5, DataGB: 0.75},
	}
	if err := AppendCSV(path, []model.SampleRecord{in}); err != nil {
		t.Fatalf("AppendCSV: %v", err)
	}

	out, err := ReadCSV(path)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("records=%d", len(out))
	}
	got := out[0]
	if !got.Timestamp.Equal(in.Timestamp) || got.SessionID != "01hzx" || got.EndpointID != "3" {
		t.Fatalf("record=%+v", got)
	}
	if got.ElapsedSeconds != 3 || got.DownloadMbps != 91.25 || got.UploadMbps != 44.5 || got.DataGB != 0.75 {
		t.Fatalf("sample=%+v", got.Sample)
	}
}

func TestReadCSV_RejectsShortRecord(t *testing.T) {
	t.Parallel()

	_, err := readCSV(strings.NewReader("timestamp,session_id\n2024-05-01T10:00:00Z,s1\n"))
	if err == nil {
		t.Fatalf("expected error")
	}
}
