package metrics

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"securevpn/internal/model"
)

var header = []string{
	"timestamp",
	"session_id",
	"endpoint_id",
	"elapsed_seconds",
	"download_mbps",
	"upload_mbps",
	"data_gb",
}

// WriteCSV writes telemetry records to CSV with a fixed column order.
func WriteCSV(w io.Writer, items []model.SampleRecord) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(header); err != nil {
		return err
	}
	return writeRecords(writer, items)
}

// AppendCSV appends records to path, writing the header only when the file
// is new or empty.
func AppendCSV(path string, items []model.SampleRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	writer := csv.NewWriter(file)
	if info.Size() == 0 {
		if err := writer.Write(header); err != nil {
			return err
		}
	}
	return writeRecords(writer, items)
}

func writeRecords(writer *csv.Writer, items []model.SampleRecord) error {
	for _, m := range items {
		record := []string{
			m.Timestamp.UTC().Format(time.RFC3339Nano),
			m.SessionID,
			m.EndpointID,
			strconv.Itoa(m.ElapsedSeconds),
			strconv.FormatFloat(m.DownloadMbps, 'f', 3, 64),
			strconv.FormatFloat(m.UploadMbps, 'f', 3, 64),
			strconv.FormatFloat(m.DataGB, 'f', 6, 64),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
