package main

import (
	"bytes"
	"context"
	"reflect"
	"strings"
	"testing"

	"presence-service/api"
	"presence-service/domain"
)

func TestGeneratedTokenIsAccepted(t *testing.T) {
	var out bytes.Buffer
	cmd := newCommand()
	cmd.Writer = &out
	args := []string{"gen-token", "--secret", "s3cret", "--sub", "u1", "--role", "FrontDesk", "--hotel", "7", "--booking", "42"}
	if err := cmd.Run(context.Background(), args); err != nil {
		t.Fatalf("run: %v", err)
	}

	auth := api.NewHS256Auth([]byte("s3cret"), "", "")
	p, err := auth.PrincipalFromAuthHeader("Bearer " + strings.TrimSpace(out.String()))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	want := []domain.GroupKey{"user:u1", "role:FrontDesk", "hotel:7", "booking:42"}
	if got := p.Groups(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected groups %v", got)
	}
}

func TestAnonymousToken(t *testing.T) {
	var out bytes.Buffer
	cmd := newCommand()
	cmd.Writer = &out
	if err := cmd.Run(context.Background(), []string{"gen-token", "--secret", "s", "--sub", ""}); err != nil {
		t.Fatalf("run: %v", err)
	}
	p, err := api.NewHS256Auth([]byte("s"), "", "").PrincipalFromAuthHeader("Bearer " + strings.TrimSpace(out.String()))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !p.Anonymous() {
		t.Fatalf("expected anonymous principal, got %+v", p)
	}
}

func TestSignTokenValidation(t *testing.T) {
	if _, err := signToken(tokenOptions{TTL: 0}, []byte("s")); err == nil {
		t.Fatal("expected ttl error")
	}
	if _, err := signToken(tokenOptions{TTL: 1}, nil); err == nil {
		t.Fatal("expected secret error")
	}
}
