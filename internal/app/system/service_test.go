package system

import (
	"context"
	"errors"
	"testing"
)

type recordingService struct {
	name    string
	failing bool
	events  *[]string
}

func (s recordingService) Name() string { return s.name }

func (s recordingService) Start(context.Context) error {
	if s.failing {
		return errors.New("boom")
	}
	*s.events = append(*s.events, "start:"+s.name)
	return nil
}

func (s recordingService) Stop(context.Context) error {
	*s.events = append(*s.events, "stop:"+s.name)
	return nil
}

func TestManagerStartStopOrder(t *testing.T) {
	var events []string
	m := NewManager(nil)
	m.Register(recordingService{name: "a", events: &events})
	m.Register(recordingService{name: "b", events: &events})

	if err := m.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	m.StopAll(context.Background())

	want := []string{"start:a", "start:b", "stop:b", "stop:a"}
	if len(events) != len(want) {
		t.Fatalf("expected %v, got %v", want, events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, events)
		}
	}
}

func TestManagerRollsBackOnStartFailure(t *testing.T) {
	var events []string
	m := NewManager(nil)
	m.Register(recordingService{name: "a", events: &events})
	m.Register(recordingService{name: "bad", failing: true, events: &events})

	if err := m.StartAll(context.Background()); err == nil {
		t.Fatal("expected StartAll to fail")
	}
	want := []string{"start:a", "stop:a"}
	if len(events) != 2 || events[0] != want[0] || events[1] != want[1] {
		t.Fatalf("expected %v, got %v", want, events)
	}
}
