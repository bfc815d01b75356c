package auth

import (
	"errors"
	"sync"
	"testing"
)

func TestGateAllowList(t *testing.T) {
	g, err := NewGate([]string{"123456, 789", " 42 "})
	if err != nil {
		t.Fatalf("new gate: %v", err)
	}
	if g.Size() != 3 {
		t.Fatalf("expected 3 ids, got %d", g.Size())
	}
	for _, id := range []string{"123456", "789", "42", " 42"} {
		if !g.IsAuthorized(id) {
			t.Fatalf("expected %q authorized", id)
		}
	}
	for _, id := range []string{"", "1234567", "-42", "abc"} {
		if g.IsAuthorized(id) {
			t.Fatalf("expected %q denied", id)
		}
	}
}

func TestGateNormalizesPhoneSenders(t *testing.T) {
	g, err := NewGate([]string{"+252611234567"})
	if err != nil {
		t.Fatalf("new gate: %v", err)
	}
	if !g.IsAuthorized("whatsapp:+252611234567") {
		t.Fatalf("expected whatsapp sender authorized")
	}
}

func TestGateRejectsEmptyList(t *testing.T) {
	if _, err := NewGate([]string{" , ", ""}); !errors.Is(err, ErrEmptyAllowList) {
		t.Fatalf("expected empty allow-list error, got %v", err)
	}
	var g *Gate
	if g.IsAuthorized("1") {
		t.Fatalf("nil gate must deny")
	}
}

func TestGateConcurrentReads(t *testing.T) {
	g, _ := NewGate([]string{"1"})
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !g.IsAuthorized("1") {
				t.Errorf("expected authorized")
			}
		}()
	}
	wg.Wait()
}
