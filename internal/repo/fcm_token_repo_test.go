package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/tbourn/go-shop-relay/internal/domain"
)

func TestSaveToken_UpsertsPerUser(t *testing.T) {
	db := newTestDB(t, &domain.FcmToken{})
	ctx := context.Background()

	if err := SaveToken(ctx, db, "u1", "tok-1"); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}
	if err := SaveToken(ctx, db, "u1", "tok-2"); err != nil {
		t.Fatalf("SaveToken again: %v", err)
	}

	tok, err := GetToken(ctx, db, "u1")
	if err != nil {
		t.Fatalf("GetToken: %v", err)
	}
	if tok != "tok-2" {
		t.Fatalf("newest token should win, got %q", tok)
	}

	var rows int64
	db.Model(&domain.FcmToken{}).Where("user_id = ?", "u1").Count(&rows)
	if rows != 1 {
		t.Fatalf("expected one token row per user, got %d", rows)
	}
}

func TestGetToken_NotFound(t *testing.T) {
	db := newTestDB(t, &domain.FcmToken{})
	if _, err := GetToken(context.Background(), db, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListAndDeleteTokens(t *testing.T) {
	db := newTestDB(t, &domain.FcmToken{})
	ctx := context.Background()
	_ = SaveToken(ctx, db, "u1", "a")
	_ = SaveToken(ctx, db, "u2", "b")
	_ = SaveToken(ctx, db, "u3", "c")

	all, err := ListTokens(ctx, db)
	if err != nil || len(all) != 3 {
		t.Fatalf("ListTokens = %v, %v", all, err)
	}

	n, err := DeleteTokens(ctx, db, []string{"a", "c", "zzz"})
	if err != nil || n != 2 {
		t.Fatalf("DeleteTokens = %d, %v", n, err)
	}
	if n, err := DeleteTokens(ctx, db, nil); err != nil || n != 0 {
		t.Fatalf("DeleteTokens(nil) = %d, %v", n, err)
	}

	all, _ = ListTokens(ctx, db)
	if len(all) != 1 || all[0] != "b" {
		t.Fatalf("expected only token b left, got %v", all)
	}
}
