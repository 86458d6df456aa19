package router

import (
	"net/http"
	"time"

	"food_rescue/internal/config"
	"food_rescue/internal/ledger"
	"food_rescue/internal/middleware"
	"food_rescue/internal/store"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
)

// Deps are the collaborators shared by the handlers.
type Deps struct {
	Store  *store.Store
	Ledger *ledger.Ledger
	Redis  *rd.Client
	Config config.AppConfig
}

// Setup registers every HTTP route.
func Setup(r *gin.Engine, d Deps) {
	r.Use(middleware.Identify())

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "pong"})
	})

	api := r.Group("/api")

	// Organizations
	api.POST("/organizations", registerOrganization(d.Store))
	api.GET("/organizations/:id", getOrganization(d.Store))

	// Admin
	admin := api.Group("/admin", middleware.AdminOnly(d.Config.AdminToken))
	admin.POST("/organizations/:id/verify", verifyOrganization(d.Store))
	admin.GET("/groups/:id/audit", auditGroup(d.Ledger))
	admin.GET("/groups/:id/events", groupEvents(d.Store))

	// Listings
	api.GET("/listings", listListings(d.Store))
	api.GET("/listings/:id", getListing(d.Store))
	api.POST("/listings", createListing(d.Ledger))
	api.PATCH("/listings/:id", updateListing(d.Ledger))
	api.DELETE("/listings/:id", deleteListing(d.Ledger))
	api.GET("/groups/:id", getGroup(d.Store))

	// Pickup requests
	api.POST("/requests",
		middleware.RedisRateLimit(d.Redis, d.Config.RequestRateLimit, d.Config.RequestRateWindow),
		createRequest(d.Ledger, d.Store, d.Redis, d.Config.IdempotencyTTL))
	api.GET("/requests", listRequests(d.Store))
	api.GET("/requests/:id", getRequest(d.Store))
	api.POST("/requests/:id/approve", transitionRequest(d.Ledger.Approve))
	api.POST("/requests/:id/ready", transitionRequest(d.Ledger.MarkReady))
	api.POST("/requests/:id/cancel", transitionRequest(d.Ledger.Cancel))
	api.POST("/requests/:id/reject", transitionRequest(d.Ledger.Reject))
	api.POST("/requests/:id/complete", completeRequest(d.Ledger))

	// NGO inventory
	api.GET("/inventory", listInventory(d.Store))
}

const dateLayout = "2006-01-02"

// parseTime accepts a calendar date or an RFC3339 timestamp.
func parseTime(s string) (time.Time, error) {
	if t, err := time.ParseInLocation(dateLayout, s, time.Local); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func parseOptionalTime(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := parseTime(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
