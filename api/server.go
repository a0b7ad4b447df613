package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/sirupsen/logrus"

	"github.com/chronoswap/chronoswap/config"
	"github.com/chronoswap/chronoswap/service"
)

type Server struct {
	cfg          *config.Config
	orderService service.Order
	sdClient     *statsd.Client
	logger       *logrus.Logger
}

// NewServer returns a new server.
func NewServer(
	cfg *config.Config,
	orderService service.Order,
	sdClient *statsd.Client,
	logger *logrus.Logger,
) *Server {
	return &Server{
		cfg:          cfg,
		orderService: orderService,
		sdClient:     sdClient,
		logger:       logger,
	}
}

func (s *Server) StartServer() error {
	e := echo.New()
	e.Logger.SetLevel(log.DEBUG)
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("2M")) // set maximum allowed size for a request body to 2M
	e.Use(s.statsdMiddleware)
	e.Use(middleware.CORS())
	limiterStore := middleware.NewRateLimiterMemoryStoreWithConfig(
		middleware.RateLimiterMemoryStoreConfig{Rate: 5, Burst: 30, ExpiresIn: 5 * time.Minute},
	)
	e.Use(middleware.RateLimiter(limiterStore))

	e.Validator = &RequestValidator{Validator: validator.New()}

	e.GET("/ping", s.Ping)

	grp := e.Group("/order")
	grp.POST("/dca", s.CreateDCAOrder)
	grp.POST("/limit", s.CreateLimitOrder)
	grp.POST("/payment", s.CreateRecurringPayment)
	grp.GET("/:orderId", s.GetOrder)
	grp.POST("/:orderId/cancel", s.CancelOrder)
	grp.POST("/:orderId/execute", s.ExecuteOrder)

	e.GET("/user/:owner/orders", s.GetUserOrders)

	adminGroup := e.Group("/admin")
	adminGroup.POST("/pause", s.SetPauseAll)
	adminGroup.POST("/winddown", s.EmergencyWindDown)

	return e.Start(fmt.Sprintf(":%d", s.cfg.Server.Port))
}

func (s *Server) Ping(c echo.Context) error {
	return c.String(http.StatusOK, "ChronoSwap server is running")
}
