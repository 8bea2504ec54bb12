package admission

import (
	"context"
	"errors"
	"testing"
)

type stubCounter struct {
	n   int
	err error
}

func (s *stubCounter) CountActive(context.Context) (int, error) { return s.n, s.err }

func TestAdmitUnderCap(t *testing.T) {
	c := NewController(&stubCounter{n: 9}, 10)
	if err := c.Admit(context.Background()); err != nil {
		t.Fatalf("Admit under cap: %v", err)
	}
}

func TestAdmitAtCap(t *testing.T) {
	c := NewController(&stubCounter{n: 10}, 10)
	err := c.Admit(context.Background())
	if !errors.Is(err, ErrTooManyTasks) {
		t.Fatalf("expected ErrTooManyTasks at cap, got: %v", err)
	}
}

func TestAdmitCountError(t *testing.T) {
	boom := errors.New("db down")
	c := NewController(&stubCounter{err: boom}, 10)
	err := c.Admit(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected count error to propagate, got: %v", err)
	}
	if errors.Is(err, ErrTooManyTasks) {
		t.Error("a count failure must not masquerade as a cap refusal")
	}
}
