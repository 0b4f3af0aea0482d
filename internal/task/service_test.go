package task

import (
	"context"
	"errors"
	"testing"

	"AgentStake-Chain/internal/agent"
	xerrors "AgentStake-Chain/internal/errors"
)

type failingProducer struct{}

func (failingProducer) Publish(context.Context, string) error {
	return errors.New("broker unavailable")
}

func (failingProducer) Close() error { return nil }

func TestServiceSubmit(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, NewMemoryQueue(4), 3)

	created, err := svc.Submit(context.Background(), agent.TaskRequest{Utterance: "帮我在 sepolia 质押 100 USDC"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected generated task id")
	}
	if created.Status != StatusPending {
		t.Fatalf("expected pending status, got %s", created.Status)
	}
	if created.MaxRetries != 3 {
		t.Fatalf("expected max retries 3, got %d", created.MaxRetries)
	}
}

func TestServiceSubmitRejectsEmptyUtterance(t *testing.T) {
	svc := NewService(NewMemoryStore(), NewMemoryQueue(4), 3)

	_, err := svc.Submit(context.Background(), agent.TaskRequest{Utterance: "   "})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if xerrors.CodeOf(err) != CodeTaskValidation {
		t.Fatalf("expected %s, got %v", CodeTaskValidation, err)
	}
}

func TestServiceSubmitDeduplicatesByID(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(4)
	svc := NewService(store, queue, 3)

	first, err := svc.Submit(context.Background(), agent.TaskRequest{ID: "stake-1", Utterance: "质押 1 DAI"})
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	second, err := svc.Submit(context.Background(), agent.TaskRequest{ID: "stake-1", Utterance: "质押 1 DAI"})
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected the existing task back, got %s", second.ID)
	}

	// 只有第一次提交真正入队。
	select {
	case <-queue.ch:
	default:
		t.Fatal("expected one queued task")
	}
	select {
	case id := <-queue.ch:
		t.Fatalf("duplicate submit must not enqueue again, got %s", id)
	default:
	}
}

func TestServiceSubmitPublishFailureIsTerminal(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, failingProducer{}, 3)

	_, err := svc.Submit(context.Background(), agent.TaskRequest{ID: "stake-2", Utterance: "质押 5 USDC"})
	if err == nil {
		t.Fatal("expected publish failure")
	}
	if xerrors.CodeOf(err) != CodeTaskPublish {
		t.Fatalf("expected %s, got %v", CodeTaskPublish, err)
	}

	stored, getErr := store.Get(context.Background(), "stake-2")
	if getErr != nil {
		t.Fatalf("get: %v", getErr)
	}
	if stored.Status != StatusFailed {
		t.Fatalf("publish failure must mark the task failed, got %s", stored.Status)
	}
}
