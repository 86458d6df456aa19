package router

import (
	"net/http"
	"strings"

	"food_rescue/internal/ledger"
	"food_rescue/internal/model"
	"food_rescue/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// registerOrganization signs up a grocery or NGO. New organizations start
// unverified.
func registerOrganization(s *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Name string `json:"name" binding:"required"`
			Type string `json:"type" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
		orgType := model.OrgType(strings.ToLower(strings.TrimSpace(req.Type)))
		if orgType != model.OrgTypeGrocery && orgType != model.OrgTypeNGO {
			fail(c, http.StatusBadRequest, "type must be grocery or ngo")
			return
		}
		name := strings.TrimSpace(req.Name)
		if name == "" {
			fail(c, http.StatusBadRequest, "name is required")
			return
		}

		org := &model.Organization{Name: name, Type: orgType}
		if err := s.CreateOrganization(c.Request.Context(), org); err != nil {
			respondErr(c, err)
			return
		}
		log.Info().Uint("org", org.ID).Str("type", string(org.Type)).Msg("organization registered")
		ok(c, org)
	}
}

func getOrganization(s *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := paramID(c, "id")
		if !valid {
			return
		}
		org, err := s.FindOrganization(c.Request.Context(), id)
		if err != nil {
			respondErr(c, err)
			return
		}
		ok(c, org)
	}
}

func verifyOrganization(s *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := paramID(c, "id")
		if !valid {
			return
		}
		org, err := s.VerifyOrganization(c.Request.Context(), id)
		if err != nil {
			respondErr(c, err)
			return
		}
		log.Info().Uint("org", org.ID).Msg("organization verified")
		ok(c, org)
	}
}

func auditGroup(l *ledger.Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := paramID(c, "id")
		if !valid {
			return
		}
		report, err := l.Audit(c.Request.Context(), id)
		if err != nil {
			respondErr(c, err)
			return
		}
		ok(c, gin.H{"ok": report.OK(), "report": report})
	}
}

func groupEvents(s *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := paramID(c, "id")
		if !valid {
			return
		}
		events, err := s.GroupEvents(c.Request.Context(), id)
		if err != nil {
			respondErr(c, err)
			return
		}
		ok(c, events)
	}
}
