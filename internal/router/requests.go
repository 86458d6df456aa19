package router

import (
	"context"
	"net/http"
	"strings"
	"time"

	"food_rescue/internal/ledger"
	"food_rescue/internal/middleware"
	"food_rescue/internal/model"
	"food_rescue/internal/store"
	rediskey "food_rescue/pkg/redis"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// IdempotencyHeader lets an NGO retry a pickup request safely.
const IdempotencyHeader = "Idempotency-Key"

// createRequest reserves quantity from a listing for the calling NGO.
//
// With an Idempotency-Key the key is claimed in Redis first: a retry after
// success returns the request already created, a retry while the first call
// is still running gets 409, and a failed call frees the key again.
func createRequest(l *ledger.Ledger, s *store.Store, rdb *rd.Client, idemTTL time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			ListingID  uint   `json:"listing_id" binding:"required,min=1"`
			Quantity   int    `json:"quantity" binding:"required,min=1"`
			PickupDate string `json:"pickup_date" binding:"required"`
			Notes      string `json:"notes"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
		pickupDate, err := parseTime(req.PickupDate)
		if err != nil {
			fail(c, http.StatusBadRequest, "pickup_date must be YYYY-MM-DD or RFC3339")
			return
		}

		ctx := c.Request.Context()
		orgID := middleware.OrgID(c)
		idemKey := strings.TrimSpace(c.GetHeader(IdempotencyHeader))
		if orgID == 0 {
			idemKey = ""
		}
		if idemKey != "" {
			state, claimed, err := rediskey.ClaimIdempotency(ctx, rdb, orgID, idemKey, idemTTL)
			if err != nil {
				respondErr(c, err)
				return
			}
			if !claimed {
				replayRequest(c, s, state)
				return
			}
		}

		res, err := l.Reserve(ctx, orgID, req.ListingID, req.Quantity, ledger.RequestMeta{
			PickupDate: pickupDate,
			Notes:      req.Notes,
		})
		if err != nil {
			if idemKey != "" {
				if relErr := rediskey.ReleaseIdempotency(context.WithoutCancel(ctx), rdb, orgID, idemKey); relErr != nil {
					log.Warn().Err(relErr).Str("key", idemKey).Msg("release idempotency key")
				}
			}
			respondErr(c, err)
			return
		}
		if idemKey != "" {
			if err := rediskey.CompleteIdempotency(context.WithoutCancel(ctx), rdb, orgID, idemKey, res.Request.ID, idemTTL); err != nil {
				log.Warn().Err(err).Str("key", idemKey).Uint("request", res.Request.ID).Msg("store idempotency result")
			}
		}
		ok(c, res)
	}
}

func replayRequest(c *gin.Context, s *store.Store, state rediskey.IdempotencyState) {
	if state.Status != rediskey.IdemDone || state.RequestID == 0 {
		fail(c, http.StatusConflict, "a request with this Idempotency-Key is still in progress")
		return
	}
	existing, err := s.GetRequest(c.Request.Context(), state.RequestID)
	if err != nil {
		respondErr(c, err)
		return
	}
	ok(c, gin.H{"request": existing, "replayed": true})
}

// caller resolves the calling organization for read endpoints.
func caller(c *gin.Context, s *store.Store) (*model.Organization, bool) {
	orgID := middleware.OrgID(c)
	if orgID == 0 {
		fail(c, http.StatusForbidden, middleware.OrgHeader+" header is required")
		return nil, false
	}
	org, err := s.FindOrganization(c.Request.Context(), orgID)
	if err != nil {
		fail(c, http.StatusForbidden, "unknown organization")
		return nil, false
	}
	return org, true
}

// listRequests returns the requests the caller is party to.
func listRequests(s *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		org, valid := caller(c, s)
		if !valid {
			return
		}
		status := model.RequestStatus(c.Query("status"))
		limit, valid := queryInt(c, "limit")
		if !valid {
			return
		}
		offset, valid := queryInt(c, "offset")
		if !valid {
			return
		}
		list, err := s.ListRequests(c.Request.Context(), org, status, limit, offset)
		if err != nil {
			respondErr(c, err)
			return
		}
		ok(c, list)
	}
}

// getRequest shows a request to its NGO or grocery only.
func getRequest(s *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := paramID(c, "id")
		if !valid {
			return
		}
		org, valid := caller(c, s)
		if !valid {
			return
		}
		req, err := s.GetRequest(c.Request.Context(), id)
		if err != nil {
			respondErr(c, err)
			return
		}
		if req.NgoID != org.ID && req.GroceryID != org.ID {
			fail(c, http.StatusNotFound, "pickup request not found")
			return
		}
		ok(c, req)
	}
}

type transitionFunc func(ctx context.Context, orgID, requestID uint) (*model.PickupRequest, error)

func transitionRequest(fn transitionFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := paramID(c, "id")
		if !valid {
			return
		}
		req, err := fn(c.Request.Context(), middleware.OrgID(c), id)
		if err != nil {
			respondErr(c, err)
			return
		}
		ok(c, req)
	}
}

func completeRequest(l *ledger.Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := paramID(c, "id")
		if !valid {
			return
		}
		res, err := l.Complete(c.Request.Context(), middleware.OrgID(c), id)
		if err != nil {
			respondErr(c, err)
			return
		}
		ok(c, res)
	}
}

// listInventory returns stock received by the calling NGO.
func listInventory(s *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		org, valid := caller(c, s)
		if !valid {
			return
		}
		if org.Type != model.OrgTypeNGO {
			fail(c, http.StatusForbidden, "only NGOs hold inventory")
			return
		}
		items, err := s.ListInventory(c.Request.Context(), org.ID)
		if err != nil {
			respondErr(c, err)
			return
		}
		ok(c, items)
	}
}
