// Package server assembles the HTTP transport.
package server

import (
	"RxGate/internal/conf"
	"RxGate/internal/server/middleware"
	"RxGate/internal/service"
	pkglog "RxGate/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/google/wire"
)

// ProviderSet is server providers.
var ProviderSet = wire.NewSet(NewHTTPServer)

// NewHTTPServer new an HTTP server.
func NewHTTPServer(c *conf.Server, refillService *service.RefillService, logger log.Logger) *http.Server {
	logHelper := pkglog.NewLogHelper(logger)

	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
			middleware.Auth(logHelper),
			middleware.Logging(logHelper),
		),
	}
	if c.Http.Network != "" {
		opts = append(opts, http.Network(c.Http.Network))
	}
	if c.Http.Addr != "" {
		opts = append(opts, http.Address(c.Http.Addr))
	}
	if c.Http.Timeout != nil {
		opts = append(opts, http.Timeout(c.Http.Timeout.AsDuration()))
	}
	srv := http.NewServer(opts...)

	registerRoutes(srv, refillService)

	return srv
}

// registerRoutes wires the refill endpoints. The API surface is small
// enough that plain routes beat a generated transport.
func registerRoutes(srv *http.Server, svc *service.RefillService) {
	route := srv.Route("/")

	route.POST("/api/v1/refill", func(ctx http.Context) error {
		var req service.RunRefillRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		pkglog.SetConversationID(ctx, req.ConversationID)

		reply, err := svc.RunRefill(ctx, &req)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	route.GET("/api/v1/refill/{id}", func(ctx http.Context) error {
		reply, err := svc.GetRefill(ctx, ctx.Vars().Get("id"))
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	route.GET("/health", func(ctx http.Context) error {
		return ctx.Result(200, svc.Health(ctx))
	})
}
