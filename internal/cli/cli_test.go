package cli

import (
	"context"
	"strings"
	"testing"
	"time"

	"live-quiz-scheduler/internal/config"
	transport "live-quiz-scheduler/internal/transport/http"
)

func TestNewDispatcherDrivers(t *testing.T) {
	hub := transport.NewHub(nil)

	var cfg config.Config
	d, closeFn, err := newDispatcher(context.Background(), cfg, nil, hub, nil)
	if err != nil {
		t.Fatalf("local driver: %v", err)
	}
	closeFn()
	if d != hub {
		t.Fatalf("expected the hub as local dispatcher, got %T", d)
	}

	cfg.Dispatch.Driver = "redis"
	if _, _, err := newDispatcher(context.Background(), cfg, nil, hub, nil); err == nil {
		t.Fatalf("expected redis driver without a client to fail")
	}

	cfg.Dispatch.Driver = "kafka"
	_, _, err = newDispatcher(context.Background(), cfg, nil, hub, nil)
	if err == nil || !strings.Contains(err.Error(), "unknown dispatch driver") {
		t.Fatalf("expected unknown driver error, got %v", err)
	}
}

func TestCacheClearRequiresOneTarget(t *testing.T) {
	for _, args := range [][]string{
		{"cache", "clear"},
		{"cache", "clear", "--quiz", "quiz-1", "--all"},
	} {
		cmd := newRootCmd()
		cmd.SetArgs(append(args, "--config", "does-not-exist.yaml"))
		err := cmd.Execute()
		if err == nil || !strings.Contains(err.Error(), "exactly one") {
			t.Fatalf("%v: expected target validation error, got %v", args, err)
		}
	}
}

func TestSampleQuizIsStartEligible(t *testing.T) {
	quizzes := sampleQuizzes(fixedNow)
	quiz, ok := quizzes["quiz-1"]
	if !ok {
		t.Fatalf("sample quiz missing")
	}
	if !quiz.IsStartEligible(fixedNow) {
		t.Fatalf("expected sample quiz to be eligible for a scheduled start")
	}
}

var fixedNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
