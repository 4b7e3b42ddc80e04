package api

import (
	"github.com/gin-gonic/gin"

	"github.com/adamscao/acmeserver/internal/acme"
	"github.com/adamscao/acmeserver/internal/api/handlers"
	"github.com/adamscao/acmeserver/internal/api/middleware"
	"github.com/adamscao/acmeserver/internal/config"
)

// Server wraps the gin router, following the teacher's api.Server
// split between construction (NewServer) and Run.
type Server struct {
	router *gin.Engine
	config *config.Config
}

// NewServer builds the router and registers every endpoint from
// spec.md §6's HTTP surface table.
func NewServer(cfg *config.Config, engine *acme.Engine) *Server {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger())

	h := handlers.New(engine)

	group := router.Group(cfg.Server.BasePath)
	group.GET("/directory", h.Directory)
	group.GET("/new-nonce", h.NewNonce)
	group.HEAD("/new-nonce", h.NewNonce)

	group.POST("/new-acct", h.NewAccount)
	group.POST("/new-reg", h.NewAccount) // legacy alias
	group.POST("/reg/:id", h.UpdateAccount)
	group.GET("/reg/:id/orders", h.ListOrders)

	group.POST("/new-app", h.NewApplication)
	group.POST("/new-order", h.NewApplication) // ietf-draft alias
	group.POST("/app/:id", h.GetOrder)
	group.POST("/app/:id/finalize", h.Finalize)

	group.POST("/authz/:id", h.GetAuthorization)
	group.GET("/authz/:id/:index", h.FetchChallenge)
	group.POST("/authz/:id/:index", h.UpdateAuthorization)

	group.POST("/cert/:id", h.GetCertificate)

	group.GET("/:type/:id", h.FetchEntity)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return &Server{router: router, config: cfg}
}

func (s *Server) Run() error {
	return s.router.Run(s.config.Server.ListenAddr)
}

func (s *Server) Router() *gin.Engine {
	return s.router
}
