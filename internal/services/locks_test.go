package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/HammerMeetNail/bingohall/internal/models"
)

func TestLockGameForUpdate_ScansLockedRow(t *testing.T) {
	id := uuid.New()
	db := &fakeDB{
		QueryRowFunc: func(ctx context.Context, sql string, args ...any) Row {
			if !strings.Contains(sql, "FROM games") || !strings.Contains(sql, "FOR UPDATE") {
				t.Fatalf("unexpected sql: %q", sql)
			}
			if args[0].(uuid.UUID) != id {
				t.Fatalf("unexpected id %v", args[0])
			}
			return rowFromValues("active", []int32{4, 19}, "hash")
		},
	}

	g, err := lockGameForUpdate(context.Background(), db, id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.status != models.GameStatusActive || len(g.drawn) != 2 || g.keyHash != "hash" {
		t.Fatalf("unexpected locked game: %+v", g)
	}
}

func TestLockGameForUpdate_NoRowsIsNotFound(t *testing.T) {
	db := &fakeDB{
		QueryRowFunc: func(ctx context.Context, sql string, args ...any) Row {
			return noRows()
		},
	}

	if _, err := lockGameForUpdate(context.Background(), db, uuid.New()); !errors.Is(err, ErrGameNotFound) {
		t.Fatalf("expected ErrGameNotFound, got %v", err)
	}
}

func TestLockGameForUpdate_WrapsUnexpectedError(t *testing.T) {
	db := &fakeDB{
		QueryRowFunc: func(ctx context.Context, sql string, args ...any) Row {
			return errRow(errors.New("boom"))
		},
	}

	_, err := lockGameForUpdate(context.Background(), db, uuid.New())
	if err == nil || !strings.Contains(err.Error(), "lock game") {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestLockOrganizedGame_ChecksKey(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	db := &fakeDB{
		QueryRowFunc: func(ctx context.Context, sql string, args ...any) Row {
			return rowFromValues("pending", []int32{}, string(hash))
		},
	}

	if _, err := lockOrganizedGame(context.Background(), db, uuid.New(), "secret"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := lockOrganizedGame(context.Background(), db, uuid.New(), "wrong"); !errors.Is(err, ErrNotOrganizer) {
		t.Fatalf("expected ErrNotOrganizer, got %v", err)
	}
	if _, err := lockOrganizedGame(context.Background(), db, uuid.New(), ""); !errors.Is(err, ErrNotOrganizer) {
		t.Fatalf("expected ErrNotOrganizer for empty key, got %v", err)
	}
}
