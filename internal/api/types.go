package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"securevpn/internal/model"
)

// Actions selected with the "action" query parameter.
const (
	ActionServers    = "servers"
	ActionConnect    = "connect"
	ActionDisconnect = "disconnect"
)

// CorrelationHeader carries a per-request id in both directions.
const CorrelationHeader = "X-Correlation-ID"

// ServerRecord is one entry of the servers listing.
type ServerRecord struct {
	ID      string `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	Country string `json:"country" yaml:"country"`
	Flag    string `json:"flag" yaml:"flag"`
	Ping    int    `json:"ping" yaml:"ping"`
	Load    int    `json:"load" yaml:"load"`
	IP      string `json:"ip" yaml:"ip"`
	Status  string `json:"status" yaml:"status"`
}

// Endpoint converts the wire record to the client model.
func (r ServerRecord) Endpoint() model.Endpoint {
	return model.Endpoint{
		ID:      r.ID,
		Name:    r.Name,
		Region:  r.Country,
		Marker:  r.Flag,
		PingMs:  r.Ping,
		Load:    r.Load,
		Address: r.IP,
		Status:  r.Status,
	}
}

// ServersResponse lists the catalogue.
type ServersResponse struct {
	Servers []ServerRecord `json:"servers"`
}

// ConnectRequest asks for a session on one server.
type ConnectRequest struct {
	ServerID string `json:"serverId"`
}

// ConnectResponse answers a connect request.
type ConnectResponse struct {
	Success         bool     `json:"success"`
	SessionID       StringID `json:"sessionId,omitempty"`
	EndpointAddress string   `json:"endpointAddress,omitempty"`
	Message         string   `json:"message,omitempty"`
}

// DisconnectRequest closes a session.
type DisconnectRequest struct {
	SessionID string `json:"sessionId"`
}

// DisconnectResponse answers a disconnect request.
type DisconnectResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse is returned with non-2xx statuses.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StringID is an identifier that may arrive as a JSON string or number.
type StringID string

func (id *StringID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = StringID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("session id: %w", err)
	}
	if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
		*id = StringID(strconv.FormatInt(i, 10))
		return nil
	}
	*id = StringID(n.String())
	return nil
}
