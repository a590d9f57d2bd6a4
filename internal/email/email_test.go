package email

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"
)

func TestDisabledSenderReportsNotConfigured(t *testing.T) {
	var s Sender = Disabled{}
	if s.Configured() {
		t.Fatal("expected disabled sender to be unconfigured")
	}
	if err := s.Send(context.Background(), "a@example.com", "s", "b"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("Send() error = %v, want ErrNotConfigured", err)
	}
}

func TestSMTPServiceWithoutHostIsNotConfigured(t *testing.T) {
	s := NewSMTPService("", 0, "", "", "")
	if s.Configured() {
		t.Fatal("expected SMTP service without host to be unconfigured")
	}
	if err := s.Send(context.Background(), "a@example.com", "s", "b"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("Send() error = %v, want ErrNotConfigured", err)
	}
}

func TestSMTPServiceHonoursDeadline(t *testing.T) {
	// A listener that accepts but never speaks SMTP stalls the greeting.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	s := NewSMTPService("127.0.0.1", port, "", "", "library@example.com")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = s.Send(ctx, "a@example.com", "subject", "body")
	if err == nil {
		t.Fatal("expected send to fail on a silent server")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Send() took %s, expected to return near the deadline", elapsed)
	}
}

func TestVerificationMessageContainsCode(t *testing.T) {
	subject, body := VerificationMessage("Alice", "012345", 10*time.Minute)
	if subject == "" {
		t.Fatal("expected subject")
	}
	for _, want := range []string{"Hello Alice!", "012345", "10 minutes"} {
		if !strings.Contains(body, want) {
			t.Fatalf("body missing %q:\n%s", want, body)
		}
	}
}
