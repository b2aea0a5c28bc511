package store

import (
	"context"
	"testing"
)

func TestAccounts(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	got, err := s.GetAccount(ctx, "nobody")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if got != nil {
		t.Fatalf("GetAccount(nobody) = %+v", got)
	}

	acc, err := s.CreateAccount(ctx, "alice", "$2a$10$fakehash")
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if acc.ID == 0 || acc.Username != "alice" {
		t.Fatalf("account = %+v", acc)
	}

	got, err = s.GetAccount(ctx, "alice")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if got == nil || got.PHC != "$2a$10$fakehash" {
		t.Fatalf("GetAccount(alice) = %+v", got)
	}

	if _, err := s.CreateAccount(ctx, "alice", "$2a$10$other"); err == nil {
		t.Error("expected duplicate username to fail")
	}

	list, err := s.ListAccounts(ctx)
	if err != nil {
		t.Fatalf("ListAccounts: %v", err)
	}
	if len(list) != 1 || list[0].Username != "alice" {
		t.Fatalf("ListAccounts = %+v", list)
	}
}
