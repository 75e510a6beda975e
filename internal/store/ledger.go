package store

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
)

// Ledger persists sessions issued by the relay.
type Ledger struct {
	UpdatedAt time.Time       `yaml:"updated_at"`
	Sessions  []SessionRecord `yaml:"sessions"`
}

// SessionRecord is one issued session.
type SessionRecord struct {
	ID             string    `yaml:"id"`
	ServerID       string    `yaml:"server_id"`
	ServerName     string    `yaml:"server_name"`
	RemoteAddr     string    `yaml:"remote_addr,omitempty"`
	Status         string    `yaml:"status"`
	ConnectedAt    time.Time `yaml:"connected_at"`
	DisconnectedAt time.Time `yaml:"disconnected_at,omitempty"`
}

// LoadLedger loads the ledger from disk. If the file is missing, returns an empty ledger.
func LoadLedger(path string) (*Ledger, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Ledger{}, nil
		}
		return nil, err
	}

	var l Ledger
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, err
	}

	return &l, nil
}

// SaveLedger writes the ledger to disk.
func SaveLedger(path string, l *Ledger) error {
	if l == nil {
		return nil
	}
	l.UpdatedAt = time.Now().UTC()
	data, err := yaml.Marshal(l)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Open appends a connected session.
func (l *Ledger) Open(rec SessionRecord) {
	rec.Status = StatusConnected
	l.Sessions = append(l.Sessions, rec)
}

// Close marks a connected session as disconnected. It reports false for
// unknown or already closed ids.
func (l *Ledger) Close(id string, at time.Time) (SessionRecord, bool) {
	for i := range l.Sessions {
		if l.Sessions[i].ID != id {
			continue
		}
		if l.Sessions[i].Status != StatusConnected {
			return l.Sessions[i], false
		}
		l.Sessions[i].Status = StatusDisconnected
		l.Sessions[i].DisconnectedAt = at
		return l.Sessions[i], true
	}
	return SessionRecord{}, false
}

// Active counts sessions still connected.
func (l *Ledger) Active() int {
	n := 0
	for _, s := range l.Sessions {
		if s.Status == StatusConnected {
			n++
		}
	}
	return n
}

// Prune drops closed sessions that ended before cutoff and returns how many
// were removed. Connected sessions are always kept.
func (l *Ledger) Prune(cutoff time.Time) int {
	kept := l.Sessions[:0]
	for _, s := range l.Sessions {
		if s.Status != StatusConnected && s.DisconnectedAt.Before(cutoff) {
			continue
		}
		kept = append(kept, s)
	}
	n := len(l.Sessions) - len(kept)
	l.Sessions = kept
	return n
}
