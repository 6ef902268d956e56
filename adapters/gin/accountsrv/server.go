// Package accountsrv is a reference implementation of the remote
// account service's callables, for self-hosted deployments and
// integration tests: device registration with an account-per-device
// quota, plan sync writes, and the plan document read.
package accountsrv

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Config tunes the server. Zero values get defaults.
type Config struct {
	// MaxAccountsPerWindow is the distinct-account quota per device.
	// Default 2 (the product's shipped policy).
	MaxAccountsPerWindow int
	// Window is the quota window. Default 24h.
	Window time.Duration
	// Schema is the Postgres schema holding user_plans. Default
	// "entitlements".
	Schema string
	// KeyPrefix namespaces the Redis quota keys. Default
	// "entitlement:acct:".
	KeyPrefix string
}

func (c *Config) applyDefaults() {
	if c.MaxAccountsPerWindow <= 0 {
		c.MaxAccountsPerWindow = 2
	}
	if c.Window <= 0 {
		c.Window = 24 * time.Hour
	}
	if strings.TrimSpace(c.Schema) == "" {
		c.Schema = "entitlements"
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "entitlement:acct:"
	}
}

// Server implements the account-service callables.
type Server struct {
	cfg Config
	rdb *redis.Client
	pg  *pgxpool.Pool
	log logrus.FieldLogger
}

// New builds a server. rdb backs the device quota; pg backs the plan
// documents.
func New(cfg Config, rdb *redis.Client, pg *pgxpool.Pool, log logrus.FieldLogger) *Server {
	cfg.applyDefaults()
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{cfg: cfg, rdb: rdb, pg: pg, log: log}
}

// Routes registers the callables on r.
func (s *Server) Routes(r gin.IRouter) {
	r.POST("/registerDevice", s.handleRegisterDevice)
	r.POST("/syncUserPlan", s.handleSyncPlan)
	r.GET("/users/:userID/plan", s.handlePlanGet)
	r.PUT("/users/:userID", s.handleProfilePut)
}

func (s *Server) plansTable() string { return s.cfg.Schema + ".user_plans" }
