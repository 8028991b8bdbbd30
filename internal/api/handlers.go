package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/basketexec/internal/execution/model"
	pkgerrors "github.com/Aidin1998/basketexec/pkg/errors"
)

type assetRequest struct {
	ID       string `json:"id" validate:"required"`
	Quantity string `json:"quantity" validate:"required"`
	Price    string `json:"price" validate:"required"`
}

type createBasketRequest struct {
	ID     string         `json:"id" validate:"required"`
	Assets []assetRequest `json:"assets" validate:"required,min=1,dive"`
}

type updatePriceRequest struct {
	Price string `json:"price" validate:"required"`
}

type submitTradeRequest struct {
	Kind       string `json:"kind" validate:"required,oneof=BUY SELL"`
	PositionID string `json:"position_id" validate:"required"`
	BasketID   string `json:"basket_id" validate:"required"`
	Quantity   string `json:"quantity" validate:"required"`
	LimitPrice string `json:"limit_price" validate:"required"`
}

func (s *Server) createBasket(c *gin.Context) {
	var req createBasketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.validator.Struct(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	assets := make([]model.Asset, 0, len(req.Assets))
	for _, a := range req.Assets {
		qty, err := decimal.NewFromString(a.Quantity)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid quantity for asset " + a.ID})
			return
		}
		price, err := decimal.NewFromString(a.Price)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid price for asset " + a.ID})
			return
		}
		assets = append(assets, model.Asset{
			ID:             a.ID,
			Quantity:       qty,
			ReferencePrice: price,
			LivePrice:      price,
		})
	}

	b, err := s.svc.CreateBasket(req.ID, assets)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, basketResponse(b))
}

func (s *Server) getBasket(c *gin.Context) {
	b, err := s.svc.GetBasket(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, basketResponse(b))
}

func (s *Server) deleteBasket(c *gin.Context) {
	if err := s.svc.DeleteBasket(c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) updateAssetPrice(c *gin.Context) {
	var req updatePriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid price"})
		return
	}
	if err := s.svc.UpdateAssetPrice(c.Param("id"), c.Param("assetId"), price); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) submitTrade(c *gin.Context) {
	var req submitTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.validator.Struct(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	qty, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid quantity"})
		return
	}
	limit, err := decimal.NewFromString(req.LimitPrice)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit price"})
		return
	}
	kind, err := model.ParseKind(req.Kind)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	in, err := s.svc.SubmitTrade(kind, req.PositionID, req.BasketID, qty, limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, in.View())
}

func (s *Server) submitCancel(c *gin.Context) {
	in, err := s.svc.SubmitCancel(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, in.View())
}

func (s *Server) submitRebalance(c *gin.Context) {
	in, err := s.svc.SubmitRebalance(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, in.View())
}

func (s *Server) getInstructionStatus(c *gin.Context) {
	view, err := s.svc.InstructionStatus(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) getStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.svc.Stats())
}

func (s *Server) getRebalanceHistory(c *gin.Context) {
	if _, err := s.svc.GetBasket(c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.svc.RebalanceHistory(c.Param("id")))
}

func basketResponse(b *model.Basket) gin.H {
	return gin.H{
		"id":                 b.ID,
		"assets":             b.Assets(),
		"current_value":      b.CurrentValue(),
		"reference_value":    b.ReferenceValue(),
		"created_at":         b.CreatedAt,
		"last_rebalanced_at": b.LastRebalancedAt(),
	}
}

// writeError maps domain errors to HTTP status codes.
func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case pkgerrors.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case pkgerrors.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case pkgerrors.IsVenue(err):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		s.logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
