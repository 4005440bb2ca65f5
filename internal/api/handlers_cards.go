package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"cardscan/internal/collection"
	"cardscan/internal/services"
)

const (
	viewIndividual = "individual"
	viewStacked    = "stacked"
)

func (s *Server) listCards(c echo.Context) error {
	ctx := c.Request().Context()
	opts := collection.ListOptions{
		Sort:  c.QueryParam("sort"),
		Set:   c.QueryParam("set"),
		Query: c.QueryParam("q"),
	}
	view := strings.ToLower(strings.TrimSpace(c.QueryParam("view_mode")))
	switch view {
	case "", viewIndividual:
		cards, err := s.cards.ListCards(ctx, opts)
		if err != nil {
			return err
		}
		if cards == nil {
			cards = []collection.Card{}
		}
		return c.JSON(http.StatusOK, CardListResponse{ViewMode: viewIndividual, Cards: cards, Total: len(cards)})
	case viewStacked:
		stacks, err := s.cards.ListStacks(ctx, opts)
		if err != nil {
			return err
		}
		if stacks == nil {
			stacks = []collection.Stack{}
		}
		return c.JSON(http.StatusOK, StackListResponse{ViewMode: viewStacked, Stacks: stacks, Total: len(stacks)})
	default:
		return services.Wrap(services.ErrValidation, component, "list cards",
			fmt.Sprintf("view_mode must be %s or %s", viewIndividual, viewStacked), nil)
	}
}

func (s *Server) createCard(c echo.Context) error {
	var req CardRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	card, err := s.cards.CreateCard(c.Request().Context(), collection.NewCard{
		Name:            req.Name,
		SetCode:         req.SetCode,
		SetName:         req.SetName,
		CollectorNumber: req.CollectorNumber,
		Count:           req.Count,
		Condition:       req.Condition,
		Notes:           req.Notes,
		IsExample:       req.IsExample,
		PriceUSD:        req.PriceUSD,
		PriceEUR:        req.PriceEUR,
		ImageURL:        req.ImageURL,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, card)
}

func (s *Server) getCard(c echo.Context) error {
	card, err := s.cards.GetCard(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, card)
}

func (s *Server) updateCard(c echo.Context) error {
	var req CardUpdateRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	card, err := s.cards.UpdateCard(c.Request().Context(), c.Param("id"), collection.CardPatch{
		Count:     req.Count,
		Condition: req.Condition,
		Notes:     req.Notes,
		IsExample: req.IsExample,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, card)
}

func (s *Server) deleteCard(c echo.Context) error {
	if err := s.cards.DeleteCard(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) incrementCard(c echo.Context) error {
	var req IncrementRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	by := req.By
	if by == 0 {
		by = 1
	}
	card, err := s.cards.IncrementCard(c.Request().Context(), c.Param("id"), by)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, card)
}

func (s *Server) cardProvenance(c echo.Context) error {
	cardID := c.Param("id")
	rows, err := s.cards.Provenance(c.Request().Context(), cardID)
	if err != nil {
		return err
	}
	if rows == nil {
		rows = []collection.Provenance{}
	}
	return c.JSON(http.StatusOK, ProvenanceResponse{CardID: cardID, Provenance: rows})
}

func (s *Server) cardScanImage(c echo.Context) error {
	card, err := s.cards.GetCard(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	if card.ScanID == nil || card.ScanImageID == nil {
		return services.Wrap(services.ErrNotFound, component, "card scan image",
			"card "+card.ID+" was not added from a scan", nil)
	}
	return s.streamImage(c, *card.ScanID, *card.ScanImageID)
}

func (s *Server) stats(c echo.Context) error {
	ctx := c.Request().Context()
	stats, err := s.cards.Stats(ctx)
	if err != nil {
		return err
	}
	counts, err := s.workflow.ScanCounts(ctx)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, StatsResponse{Stats: stats, ScansByStatus: MergeScanStats(counts)})
}
