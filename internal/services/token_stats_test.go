package services

import (
	"context"
	"testing"

	"github.com/oncokb/backend/internal/models"
	"github.com/oncokb/backend/pkg/utils"
)

func TestTokenStatsService(t *testing.T) {
	db := setupServiceTestDB(t)
	clock := newFixedClock()
	ctx := context.Background()

	user := createTestUser(t, db, "caller")
	other := createTestUser(t, db, "other")
	token := createTestToken(t, db, user.ID, clock.Now().Add(day), true)
	otherToken := createTestToken(t, db, other.ID, clock.Now().Add(day), true)

	service := NewTokenStatsService(db, 10)
	for i := 0; i < 3; i++ {
		service.RecordAsync(TokenAccess{TokenID: token.ID, AccessIP: "10.0.0.1", Resource: "/api/v1/genes", At: clock.Now().Add(-day)})
	}
	service.RecordAsync(TokenAccess{TokenID: token.ID, AccessIP: "10.0.0.1", Resource: "/api/v1/info", At: clock.Now()})
	service.RecordAsync(TokenAccess{TokenID: otherToken.ID, AccessIP: "10.0.0.2", Resource: "/api/v1/info", At: clock.Now()})
	service.Close()

	page := utils.PaginationParams{Page: 1, Limit: 20}

	t.Run("by token", func(t *testing.T) {
		stats, total, err := service.List(ctx, TokenStatsFilter{TokenID: &token.ID}, page)
		if err != nil || total != 4 || len(stats) != 4 {
			t.Fatalf("expected 4 stats, got %d/%d (%v)", len(stats), total, err)
		}
		if stats[0].Resource != "/api/v1/info" {
			t.Fatalf("expected newest first, got %s", stats[0].Resource)
		}
	})

	t.Run("by user", func(t *testing.T) {
		_, total, err := service.List(ctx, TokenStatsFilter{UserID: &other.ID}, page)
		if err != nil || total != 1 {
			t.Fatalf("expected 1 stat for the other user, got %d (%v)", total, err)
		}
	})

	t.Run("time window", func(t *testing.T) {
		from := clock.Now().Add(-day / 2)
		count, err := service.UsageCount(ctx, TokenStatsFilter{TokenID: &token.ID, From: &from})
		if err != nil || count != 1 {
			t.Fatalf("expected 1 recent access, got %d (%v)", count, err)
		}
	})

	t.Run("stats follow a deleted token", func(t *testing.T) {
		tokens := NewTokenService(db, clock, testTokenConfig, nil)
		spare, err := tokens.CreateToken(ctx, user)
		if err != nil {
			t.Fatalf("CreateToken returned error: %v", err)
		}
		if err := tokens.DeleteToken(ctx, token.ID, user); err != nil {
			t.Fatalf("DeleteToken returned error: %v", err)
		}
		count, err := service.UsageCount(ctx, TokenStatsFilter{TokenID: &spare.ID})
		if err != nil || count != 4 {
			t.Fatalf("expected 4 accesses on the surviving token, got %d (%v)", count, err)
		}
		var orphaned int64
		db.Model(&models.TokenStats{}).Where("token_id = ?", token.ID).Count(&orphaned)
		if orphaned != 0 {
			t.Fatalf("expected no stats left on the deleted token, got %d", orphaned)
		}
	})
}
