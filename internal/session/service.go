package session

import (
	"context"

	"securevpn/internal/model"
)

// Service is the remote directory and session endpoint.
type Service interface {
	ListServers(ctx context.Context) ([]model.Endpoint, error)
	OpenSession(ctx context.Context, endpointID string) (model.OpenResult, error)
	CloseSession(ctx context.Context, sessionID string) (model.CloseResult, error)
}
