package ledger

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/LeeeWayyy/execution-core/internal/types"
	"github.com/LeeeWayyy/execution-core/pkg/response"
)

// Service exposes read access to positions and fills.
type Service struct {
	db *Database
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db: NewDatabase(gormDB),
	}
}

func (s *Service) GetPosition(symbol string) (*types.Position, error) {
	return s.db.GetPosition(symbol)
}

func (s *Service) ListPositions() ([]types.Position, error) {
	return s.db.ListPositions()
}

func (s *Service) ListFills(orderID string) ([]types.Fill, error) {
	return s.db.ListFills(orderID)
}

// GinHandlers contains HTTP handlers for position endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// ListPositionsHandler handles GET requests for all positions
func (h *GinHandlers) ListPositionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		positions, err := h.service.ListPositions()
		response.Handle(c, positions, err)
	}
}

// ListFillsHandler handles GET requests for an order's fills
func (h *GinHandlers) ListFillsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		fills, err := h.service.ListFills(c.Param("order_id"))
		response.Handle(c, fills, err)
	}
}

// GetPositionHandler handles GET requests for a single symbol's position
func (h *GinHandlers) GetPositionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		symbol := c.Param("symbol")
		if symbol == "" {
			response.BadRequest(c, "Symbol is required")
			return
		}

		position, err := h.service.GetPosition(symbol)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}
		if position == nil {
			response.NotFound(c, "No position for symbol")
			return
		}

		response.Success(c, position)
	}
}
