package model

import (
	"fmt"
	"time"
)

// Endpoint is a selectable relay server as published by the directory service.
type Endpoint struct {
	ID      string
	Name    string
	Region  string
	Marker  string
	PingMs  int
	Load    int
	Address string
	Status  string
}

// Validate rejects records that cannot be offered for selection.
func (e Endpoint) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("endpoint id is required")
	}
	if e.PingMs < 0 {
		return fmt.Errorf("endpoint %s: negative ping %d", e.ID, e.PingMs)
	}
	if e.Load < 0 || e.Load > 100 {
		return fmt.Errorf("endpoint %s: load %d out of range", e.ID, e.Load)
	}
	return nil
}

// Session is the client-side record of an open connection.
type Session struct {
	ID              string
	EndpointID      string
	EndpointAddress string
	StartedAt       time.Time
}

// Sample is one synthesized telemetry measurement for the current session.
type Sample struct {
	ElapsedSeconds int
	DownloadMbps   float64
	UploadMbps     float64
	DataGB         float64
}

// SampleRecord is a sample tagged with the session that produced it.
type SampleRecord struct {
	Timestamp  time.Time
	SessionID  string
	EndpointID string
	Sample
}

// OpenResult is the directory service answer to an open-session request.
type OpenResult struct {
	Success         bool
	SessionID       string
	EndpointAddress string
	Message         string
}

// CloseResult is the directory service answer to a close-session request.
type CloseResult struct {
	Success bool
	Message string
}
