package metrics

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"securevpn/internal/model"
)

// ReadCSV loads telemetry records from a CSV file.
func ReadCSV(path string) ([]model.SampleRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return readCSV(file)
}

func readCSV(r io.Reader) ([]model.SampleRecord, error) {
	reader := csv.NewReader(r)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	start := 0
	if len(records[0]) > 0 && records[0][0] == "timestamp" {
		start = 1
	}

	items := make([]model.SampleRecord, 0, len(records)-start)
	for i := start; i < len(records); i++ {
		rec := records[i]
		if len(rec) < len(header) {
			return nil, fmt.Errorf("invalid record at line %d", i+1)
		}
		ts, err := time.Parse(time.RFC3339Nano, rec[0])
		if err != nil {
			return nil, fmt.Errorf("invalid timestamp at line %d: %w", i+1, err)
		}
		elapsed, err := strconv.Atoi(rec[3])
		if err != nil {
			return nil, fmt.Errorf("invalid elapsed_seconds at line %d: %w", i+1, err)
		}
		down, _ := strconv.ParseFloat(rec[4], 64)
		up, _ := strconv.ParseFloat(rec[5], 64)
		data, _ := strconv.ParseFloat(rec[6], 64)
		items = append(items, model.SampleRecord{
			Timestamp:  ts,
			SessionID:  rec[1],
			EndpointID: rec[2],
			Sample: model.Sample{
				ElapsedSeconds: elapsed,
				DownloadMbps:   down,
				UploadMbps:     up,
				DataGB:         data,
			},
		})
	}

	return items, nil
}
