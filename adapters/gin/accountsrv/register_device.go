package accountsrv

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

type registerDeviceRequest struct {
	DeviceID string `json:"deviceID"`
	UserID   string `json:"userID"`
}

// handleRegisterDevice records the account against the device and
// answers with the block verdict. The quota is a sliding window over a
// Redis ZSET keyed by device: members are account ids, so repeated
// sign-ins of the same account refresh one member instead of burning
// quota.
func (s *Server) handleRegisterDevice(c *gin.Context) {
	var req registerDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.DeviceID) == "" || strings.TrimSpace(req.UserID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "deviceID and userID required"})
		return
	}

	ctx := c.Request.Context()
	key := s.cfg.KeyPrefix + "dev:" + req.DeviceID
	now := time.Now().UnixNano() / 1e6 // ms
	start := now - s.cfg.Window.Milliseconds()

	pipe := s.rdb.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now), Member: req.UserID})
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", start))
	countCmd := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, s.cfg.Window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.WithError(err).Error("device quota check failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "quota check failed"})
		return
	}

	blocked := countCmd.Val() > int64(s.cfg.MaxAccountsPerWindow)
	if blocked {
		s.log.WithFields(logrus.Fields{
			"device_id": req.DeviceID,
			"accounts":  countCmd.Val(),
		}).Info("device over account quota")
	}
	c.JSON(http.StatusOK, gin.H{"isBlocked": blocked})
}
