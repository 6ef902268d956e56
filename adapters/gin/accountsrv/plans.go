package accountsrv

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
)

type syncPlanRequest struct {
	UserID         string `json:"userID"`
	IsPremium      bool   `json:"isPremium"`
	ExpirationDate *int64 `json:"expirationDate"`
}

// handleSyncPlan upserts the user's plan row from a pushed snapshot.
// This endpoint is told, not negotiated with: the row always reflects
// the latest push.
func (s *Server) handleSyncPlan(c *gin.Context) {
	var req syncPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.UserID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "userID required"})
		return
	}

	plan := "free"
	if req.IsPremium {
		plan = "premium"
	}
	var expiration *time.Time
	if req.ExpirationDate != nil {
		t := time.UnixMilli(*req.ExpirationDate)
		expiration = &t
	}

	_, err := s.pg.Exec(c.Request.Context(), `
		INSERT INTO `+s.plansTable()+` (user_id, plan, is_premium, expiration, last_sync_date, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			plan = EXCLUDED.plan,
			is_premium = EXCLUDED.is_premium,
			expiration = EXCLUDED.expiration,
			last_sync_date = NOW(),
			updated_at = NOW()`,
		req.UserID, plan, req.IsPremium, expiration)
	if err != nil {
		s.log.WithError(err).Error("plan upsert failed")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// handlePlanGet serves the plan document consumed by grace-period
// evaluation.
func (s *Server) handlePlanGet(c *gin.Context) {
	userID := c.Param("userID")
	var plan string
	var lastSync time.Time
	err := s.pg.QueryRow(c.Request.Context(),
		`SELECT plan, last_sync_date FROM `+s.plansTable()+` WHERE user_id=$1`, userID).
		Scan(&plan, &lastSync)
	if errors.Is(err, pgx.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no plan"})
		return
	}
	if err != nil {
		s.log.WithError(err).Error("plan read failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "plan read failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"plan": plan, "lastSyncDate": lastSync})
}

type profileRequest struct {
	Email           string     `json:"email"`
	AuthMethod      string     `json:"authMethod"`
	DeviceID        string     `json:"deviceID"`
	Plan            string     `json:"plan"`
	TokensRemaining int        `json:"tokensRemaining"`
	ResetAt         time.Time  `json:"resetAt"`
	IsAnonymous     bool       `json:"isAnonymous"`
	TrialEndDate    *time.Time `json:"trialEndDate"`
}

// handleProfilePut initializes or merges the user document at sign-in
// or trial start.
func (s *Server) handleProfilePut(c *gin.Context) {
	userID := c.Param("userID")
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid profile"})
		return
	}
	if req.Plan == "" {
		req.Plan = "free"
	}

	_, err := s.pg.Exec(c.Request.Context(), `
		INSERT INTO `+s.plansTable()+` (user_id, plan, is_premium, tokens_remaining, reset_at, is_anonymous, trial_end_date, last_sync_date, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			plan = EXCLUDED.plan,
			tokens_remaining = EXCLUDED.tokens_remaining,
			reset_at = EXCLUDED.reset_at,
			is_anonymous = EXCLUDED.is_anonymous,
			trial_end_date = EXCLUDED.trial_end_date,
			updated_at = NOW()`,
		userID, req.Plan, req.Plan == "premium", req.TokensRemaining, req.ResetAt, req.IsAnonymous, req.TrialEndDate)
	if err != nil {
		s.log.WithError(err).Error("profile upsert failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "profile write failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
