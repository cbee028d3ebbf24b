package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/go-secret-vault/internal/domain"
)

func TestAddRequest_FindRequest(t *testing.T) {
	db := newTestDB(t, true)
	ctx := context.Background()
	app := seedApp(t, db, "k")

	r1 := seedRequest(t, db, app.ID, time.Now())
	r2 := seedRequest(t, db, app.ID, time.Now())
	if r1.ID == 0 || r2.ID <= r1.ID {
		t.Fatalf("expected increasing ids, got %d and %d", r1.ID, r2.ID)
	}

	got, err := FindRequest(ctx, db, r1.ID)
	if err != nil {
		t.Fatalf("FindRequest: %v", err)
	}
	if got.State != domain.StateAwaitingInput || len(got.InputKey) != 24 || got.Email != "user@example.com" {
		t.Fatalf("unexpected request: %+v", got)
	}

	if _, err := FindRequest(ctx, db, 12345); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClearRequestInputKey_OnlyOnce(t *testing.T) {
	db := newTestDB(t, true)
	ctx := context.Background()
	app := seedApp(t, db, "k")
	r := seedRequest(t, db, app.ID, time.Now())

	if err := ClearRequestInputKey(ctx, db, r.ID); err != nil {
		t.Fatalf("first clear: %v", err)
	}
	got, _ := FindRequest(ctx, db, r.ID)
	if got.InputKey != nil || got.State != domain.StateSubmitted {
		t.Fatalf("expected cleared key and submitted state, got %+v", got)
	}

	if err := ClearRequestInputKey(ctx, db, r.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second clear must match no row, got %v", err)
	}
	if err := ClearRequestInputKey(ctx, db, 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown id must be ErrNotFound, got %v", err)
	}
}

func TestTransitionRequest(t *testing.T) {
	db := newTestDB(t, true)
	ctx := context.Background()
	app := seedApp(t, db, "k")
	r := seedRequest(t, db, app.ID, time.Now())

	if err := TransitionRequest(ctx, db, r.ID, domain.StateAwaitingInput, domain.StateUnlocked); !errors.Is(err, domain.ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
	if err := TransitionRequest(ctx, db, r.ID, domain.StateSubmitted, domain.StateUnlocked); !errors.Is(err, ErrNotFound) {
		t.Fatalf("wrong source state must match no row, got %v", err)
	}
	if err := TransitionRequest(ctx, db, r.ID, domain.StateAwaitingInput, domain.StateSubmitted); err != nil {
		t.Fatalf("legal transition: %v", err)
	}
	got, _ := FindRequest(ctx, db, r.ID)
	if got.State != domain.StateSubmitted {
		t.Fatalf("expected submitted, got %s", got.State)
	}
}
