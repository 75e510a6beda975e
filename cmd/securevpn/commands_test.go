package main

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"securevpn/internal/model"
	"securevpn/internal/session"
)

type stubService struct {
	mu        sync.Mutex
	endpoints []model.Endpoint
	onOpen    func()
	closed    []string
}

func (s *stubService) ListServers(context.Context) ([]model.Endpoint, error) {
	return s.endpoints, nil
}

func (s *stubService) OpenSession(_ context.Context, id string) (model.OpenResult, error) {
	if s.onOpen != nil {
		s.onOpen()
	}
	return model.OpenResult{Success: true, SessionID: "sess-" + id}, nil
}

func (s *stubService) CloseSession(_ context.Context, id string) (model.CloseResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = append(s.closed, id)
	return model.CloseResult{Success: true}, nil
}

func (s *stubService) closes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.closed...)
}

func newWatchedController(svc session.Service) (*session.Controller, chan session.Event) {
	events := make(chan session.Event, 16)
	ctrl := session.New(svc, session.NotifierFunc(func(e session.Event) {
		select {
		case events <- e:
		default:
		}
	}), session.WithLogger(zerolog.Nop()), session.WithRequestTimeout(time.Second))
	return ctrl, events
}

func TestConnectAndWatch_ClosesSessionOpenedWhileInterrupted(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc := &stubService{
		endpoints: []model.Endpoint{{ID: "1", Name: "Amsterdam"}},
		onOpen:    cancel,
	}
	ctrl, events := newWatchedController(svc)

	var out bytes.Buffer
	_ = connectAndWatch(ctx, ctrl, events, &out, "", time.Second, 2*time.Second)

	if got := svc.closes(); len(got) != 1 || got[0] != "sess-1" {
		t.Fatalf("closed=%v output=%s", got, out.String())
	}
	if ctrl.State() != session.Disconnected {
		t.Fatalf("state=%v", ctrl.State())
	}
}

func TestConnectAndWatch_DisconnectsWhenContextEnds(t *testing.T) {
	t.Parallel()

	svc := &stubService{endpoints: []model.Endpoint{{ID: "1"}, {ID: "2"}}}
	ctrl, events := newWatchedController(svc)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	var out bytes.Buffer
	if err := connectAndWatch(ctx, ctrl, events, &out, "2", 20*time.Millisecond, 2*time.Second); err != nil {
		t.Fatalf("connectAndWatch: %v", err)
	}
	if got := svc.closes(); len(got) != 1 || got[0] != "sess-2" {
		t.Fatalf("closed=%v", got)
	}
	if !bytes.Contains(out.Bytes(), []byte("disconnected from")) {
		t.Fatalf("output=%s", out.String())
	}
}

func TestConnectAndWatch_EmptyDirectory(t *testing.T) {
	t.Parallel()

	svc := &stubService{}
	ctrl, events := newWatchedController(svc)

	var out bytes.Buffer
	if err := connectAndWatch(context.Background(), ctrl, events, &out, "", time.Second, time.Second); err == nil {
		t.Fatalf("expected error for empty directory")
	}
	if len(svc.closes()) != 0 {
		t.Fatalf("close issued without a session")
	}
}
