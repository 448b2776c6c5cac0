package app

import (
	"github.com/Spinnernicholas/cocoa-canvas/internal/middleware"
	"github.com/Spinnernicholas/cocoa-canvas/internal/pkg/logger"
)

type Middleware struct {
	Auth *middleware.AuthMiddleware
}

func wireMiddleware(log *logger.Logger) Middleware {
	return Middleware{
		Auth: middleware.NewAuthMiddleware(log),
	}
}
