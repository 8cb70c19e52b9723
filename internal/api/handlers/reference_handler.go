package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/rc-assistant/backend/internal/middleware/validation"
	"github.com/rc-assistant/backend/internal/reference"
	"github.com/rc-assistant/backend/pkg/logger"
)

const maxInstitutionLimit = 100

type ReferenceHandler struct {
	journals     *reference.Journals
	institutions *reference.Institutions
}

func NewReferenceHandler(journals *reference.Journals, institutions *reference.Institutions) *ReferenceHandler {
	return &ReferenceHandler{
		journals:     journals,
		institutions: institutions,
	}
}

// LookupJournal resolves a journal by ISSN or title and summarizes its
// impact factor per year.
func (h *ReferenceHandler) LookupJournal(c *fiber.Ctx) error {
	req := validation.Journal(c)
	if req == nil {
		req = &validation.JournalRequest{}
		if err := c.BodyParser(req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
	}
	if req.Query == "" && req.ISSN == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Journal name or ISSN is required",
		})
	}

	match, err := h.journals.Lookup(c.UserContext(), req.ISSN, req.Query, req.Years)
	if err != nil {
		logger.Error("Journal lookup failed", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Journal metrics are unavailable",
		})
	}

	if !match.Found {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"found":  false,
			"reason": match.Reason,
		})
	}

	return c.JSON(fiber.Map{
		"found":     true,
		"journal":   match.Record.DisplayName,
		"issn":      match.Record.Identifiers,
		"matchType": match.MatchType,
		"metrics":   match.Periods,
		"reason":    match.Reason,
	})
}

// LookupInstitution resolves one institution by name, with fuzzy matching.
func (h *ReferenceHandler) LookupInstitution(c *fiber.Ctx) error {
	name := c.Query("name")
	if name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "name is required",
		})
	}

	match, err := h.institutions.LookupByName(c.UserContext(), name)
	if err != nil {
		logger.Error("Institution lookup failed", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Institution rankings are unavailable",
		})
	}

	if !match.Found {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"found":  false,
			"reason": match.Reason,
		})
	}

	return c.JSON(fiber.Map{
		"found":       true,
		"institution": institutionJSON(match.Record),
		"matchType":   match.MatchType,
		"distance":    match.Distance,
		"metrics":     match.Periods,
		"reason":      match.Reason,
	})
}

// TopInstitutions lists institutions in rank order, optionally for one
// country.
func (h *ReferenceHandler) TopInstitutions(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 10)
	if limit <= 0 || limit > maxInstitutionLimit {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "limit must be between 1 and 100",
		})
	}

	var (
		records []*reference.MetricRecord
		err     error
	)
	if country := c.Query("country"); country != "" {
		records, err = h.institutions.ByCountry(c.UserContext(), country, limit)
	} else {
		records, err = h.institutions.Top(c.UserContext(), limit)
	}
	if err != nil {
		logger.Error("Institution listing failed", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Institution rankings are unavailable",
		})
	}

	out := make([]fiber.Map, 0, len(records))
	for _, r := range records {
		out = append(out, institutionJSON(r))
	}

	return c.JSON(fiber.Map{
		"institutions": out,
	})
}

func institutionJSON(r *reference.MetricRecord) fiber.Map {
	return fiber.Map{
		"name":     r.DisplayName,
		"country":  r.Fact(reference.FactCountry),
		"year":     r.Period,
		"position": r.Metric(reference.MetricPosition),
		"count":    r.Metric(reference.MetricCount),
		"share":    r.Metric(reference.MetricShare),
	}
}
