package router

import (
	"net/http"
	"strconv"

	"food_rescue/internal/ledger"
	"food_rescue/internal/middleware"
	"food_rescue/internal/model"
	"food_rescue/internal/store"

	"github.com/gin-gonic/gin"
)

// listListings browses listings, open ones unless ?status= says otherwise.
func listListings(s *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		f := store.ListingFilter{
			Category: c.Query("category"),
			Status:   model.ListingOpen,
		}
		if raw := c.Query("status"); raw != "" {
			f.Status = model.ListingStatus(raw)
			switch f.Status {
			case model.ListingOpen, model.ListingReserved, model.ListingExpired:
			default:
				fail(c, http.StatusBadRequest, "invalid status")
				return
			}
		}
		if raw := c.Query("grocery_id"); raw != "" {
			id, err := strconv.ParseUint(raw, 10, 32)
			if err != nil {
				fail(c, http.StatusBadRequest, "invalid grocery_id")
				return
			}
			f.GroceryID = uint(id)
		}
		var valid bool
		if f.Limit, valid = queryInt(c, "limit"); !valid {
			return
		}
		if f.Offset, valid = queryInt(c, "offset"); !valid {
			return
		}

		list, err := s.ListListings(c.Request.Context(), f)
		if err != nil {
			respondErr(c, err)
			return
		}
		ok(c, list)
	}
}

func getListing(s *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := paramID(c, "id")
		if !valid {
			return
		}
		listing, err := s.GetListing(c.Request.Context(), id)
		if err != nil {
			respondErr(c, err)
			return
		}
		ok(c, listing)
	}
}

func getGroup(s *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := paramID(c, "id")
		if !valid {
			return
		}
		group, err := s.GetGroup(c.Request.Context(), id)
		if err != nil {
			respondErr(c, err)
			return
		}
		ok(c, group)
	}
}

// createListing posts a new surplus batch for the calling grocery.
func createListing(l *ledger.Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			ProductName string  `json:"product_name" binding:"required"`
			Category    string  `json:"category"`
			Unit        string  `json:"unit"`
			Quantity    int     `json:"quantity" binding:"required,min=1"`
			ExpiryDate  string  `json:"expiry_date" binding:"required"`
			PickupStart *string `json:"pickup_start"`
			PickupEnd   *string `json:"pickup_end"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
		expiry, err := parseTime(req.ExpiryDate)
		if err != nil {
			fail(c, http.StatusBadRequest, "expiry_date must be YYYY-MM-DD or RFC3339")
			return
		}
		start, err := parseOptionalTime(req.PickupStart)
		if err != nil {
			fail(c, http.StatusBadRequest, "pickup_start must be RFC3339")
			return
		}
		end, err := parseOptionalTime(req.PickupEnd)
		if err != nil {
			fail(c, http.StatusBadRequest, "pickup_end must be RFC3339")
			return
		}

		listing, err := l.CreateListing(c.Request.Context(), middleware.OrgID(c), ledger.NewListing{
			ProductName: req.ProductName,
			Category:    req.Category,
			Unit:        req.Unit,
			Quantity:    req.Quantity,
			ExpiryDate:  expiry,
			PickupStart: start,
			PickupEnd:   end,
		})
		if err != nil {
			respondErr(c, err)
			return
		}
		ok(c, listing)
	}
}

// updateListing edits an open listing. Absent fields are left unchanged.
func updateListing(l *ledger.Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := paramID(c, "id")
		if !valid {
			return
		}
		var req struct {
			Quantity    *int    `json:"quantity"`
			ProductName *string `json:"product_name"`
			Category    *string `json:"category"`
			Unit        *string `json:"unit"`
			ExpiryDate  *string `json:"expiry_date"`
			PickupStart *string `json:"pickup_start"`
			PickupEnd   *string `json:"pickup_end"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}

		upd := ledger.ListingUpdate{
			Quantity:    req.Quantity,
			ProductName: req.ProductName,
			Category:    req.Category,
			Unit:        req.Unit,
		}
		var err error
		if upd.ExpiryDate, err = parseOptionalTime(req.ExpiryDate); err != nil {
			fail(c, http.StatusBadRequest, "expiry_date must be YYYY-MM-DD or RFC3339")
			return
		}
		if upd.PickupStart, err = parseOptionalTime(req.PickupStart); err != nil {
			fail(c, http.StatusBadRequest, "pickup_start must be RFC3339")
			return
		}
		if upd.PickupEnd, err = parseOptionalTime(req.PickupEnd); err != nil {
			fail(c, http.StatusBadRequest, "pickup_end must be RFC3339")
			return
		}

		listing, err := l.UpdateListing(c.Request.Context(), middleware.OrgID(c), id, upd)
		if err != nil {
			respondErr(c, err)
			return
		}
		ok(c, listing)
	}
}

func deleteListing(l *ledger.Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := paramID(c, "id")
		if !valid {
			return
		}
		if err := l.DeleteListing(c.Request.Context(), middleware.OrgID(c), id); err != nil {
			respondErr(c, err)
			return
		}
		ok(c, gin.H{"deleted": id})
	}
}
