// Package entgin exposes the entitlement engine to a UI layer over
// HTTP: the observable status plus the purchase, restore, and trial
// operations.
package entgin

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/open-rails/entitlementkit/entitlement"
)

// statusView is the wire shape of a snapshot.
type statusView struct {
	Status         entitlement.Status `json:"status"`
	IsEntitled     bool               `json:"is_entitled"`
	ExpirationDate *time.Time         `json:"expiration_date,omitempty"`
}

func viewOf(s entitlement.Snapshot) statusView {
	return statusView{Status: s.Status, IsEntitled: s.Entitled(), ExpirationDate: s.ExpirationDate}
}

// Routes registers the entitlement endpoints on r.
func Routes(r gin.IRouter, e *entitlement.Engine) {
	r.GET("/entitlement", HandleStatusGET(e))
	r.POST("/entitlement/purchase", HandlePurchasePOST(e))
	r.POST("/entitlement/restore", HandleRestorePOST(e))
	r.POST("/entitlement/trial", HandleTrialPOST(e))
}

// HandleStatusGET returns the current snapshot.
func HandleStatusGET(e *entitlement.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, viewOf(e.Snapshot()))
	}
}

// HandlePurchasePOST runs the purchase flow.
func HandlePurchasePOST(e *entitlement.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := e.Purchase(c.Request.Context()); err != nil {
			writeOpError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true, "snapshot": viewOf(e.Snapshot())})
	}
}

// HandleRestorePOST resynchronizes the platform ledger and re-evaluates.
func HandleRestorePOST(e *entitlement.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := e.Restore(c.Request.Context()); err != nil {
			writeOpError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true, "snapshot": viewOf(e.Snapshot())})
	}
}

// HandleTrialPOST starts the one-time anonymous trial for this device.
func HandleTrialPOST(e *entitlement.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, err := e.StartAnonymousTrial(c.Request.Context())
		if err != nil {
			writeOpError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true, "trial_ends_at": rec.EndsAt})
	}
}

// writeOpError maps a typed operation failure to a response the UI can
// branch on. The error code string matches entitlement.Kind.String().
func writeOpError(c *gin.Context, err error) {
	var oe *entitlement.OpError
	if !errors.As(err, &oe) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unknown"})
		return
	}
	status := http.StatusInternalServerError
	switch oe.Kind {
	case entitlement.KindUserCancelled:
		// Abandonment, not failure; status is unchanged.
		status = http.StatusOK
	case entitlement.KindProductNotFound:
		status = http.StatusNotFound
	case entitlement.KindTrialAlreadyUsed, entitlement.KindDeviceBlocked:
		status = http.StatusConflict
	case entitlement.KindPaymentNotAllowed:
		status = http.StatusForbidden
	case entitlement.KindNetworkError:
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"error": oe.Kind.String()})
}
