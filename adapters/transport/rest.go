// Package transport provides the HTTP and WebSocket edges of the service.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/freyr/offer/offer"
	"github.com/freyr/offer/order"
	"github.com/freyr/offer/saga"
)

// RESTConfig configures the HTTP server.
type RESTConfig struct {
	Port     int
	BasePath string
}

// DefaultRESTConfig returns the default REST configuration.
func DefaultRESTConfig() RESTConfig {
	return RESTConfig{
		Port:     8080,
		BasePath: "/api/v1",
	}
}

// RESTServer is the command entry point: it accepts PlaceOrder over HTTP and
// exposes the order status and offer read models. The business outcome is
// never returned synchronously; placing an order yields 202 plus the
// correlation ID to poll with.
type RESTServer struct {
	config     RESTConfig
	router     *gin.Engine
	pub        saga.Publisher
	projection order.StatusProjection
	offers     offer.Store
	server     *http.Server
	logger     *slog.Logger
}

// NewRESTServer builds the server and its routes. A nil logger falls back to
// slog.Default.
func NewRESTServer(config RESTConfig, pub saga.Publisher, projection order.StatusProjection, offers offer.Store, logger *slog.Logger) *RESTServer {
	if logger == nil {
		logger = slog.Default()
	}
	gin.SetMode(gin.ReleaseMode)
	s := &RESTServer{
		config:     config,
		router:     gin.New(),
		pub:        pub,
		projection: projection,
		offers:     offers,
		logger:     logger,
	}
	s.router.Use(gin.Recovery())
	s.routes()
	return s
}

type placeOrderRequest struct {
	CustomerID  uuid.UUID `json:"customer_id" binding:"required"`
	ProductID   uuid.UUID `json:"product_id" binding:"required"`
	Quantity    int       `json:"quantity" binding:"required,gt=0"`
	AmountCents int64     `json:"amount_cents" binding:"required,gt=0"`
	Currency    string    `json:"currency" binding:"required,len=3"`
}

func (s *RESTServer) routes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.router.Group(s.config.BasePath)
	api.POST("/orders", s.placeOrder)
	api.GET("/orders/:id", s.orderStatus)
	api.GET("/orders/:id/offer", s.orderOffer)
}

func (s *RESTServer) placeOrder(c *gin.Context) {
	var req placeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cmd := order.NewPlaceOrder(uuid.New(), req.CustomerID, req.ProductID, req.Quantity, req.AmountCents, req.Currency)
	if err := s.pub.Publish(c.Request.Context(), cmd); err != nil {
		s.logger.Error("place order failed", "order_id", cmd.OrderID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "order could not be accepted"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"order_id":       cmd.OrderID,
		"correlation_id": cmd.CorrelationID(),
	})
}

func (s *RESTServer) orderStatus(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}
	status, found, err := s.projection.Get(c.Request.Context(), orderID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !found {
		// Accepted but not yet terminal: the saga is still in flight.
		c.JSON(http.StatusOK, order.Status{OrderID: orderID, State: order.StateAccepted})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *RESTServer) orderOffer(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}
	o, found, err := s.offers.GetByOrder(c.Request.Context(), orderID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "no offer for this order"})
		return
	}
	c.JSON(http.StatusOK, o)
}

// Router exposes the gin engine, for tests and for mounting extra routes.
func (s *RESTServer) Router() *gin.Engine {
	return s.router
}

// Start begins serving in a background goroutine.
func (s *RESTServer) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.Port),
		Handler: s.router,
	}
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server failed", "error", err)
		}
	}()
	return nil
}

// Stop shuts the server down gracefully.
func (s *RESTServer) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}
