package main

import (
	"net/http"
	"os"
	"time"

	"github.com/fiffu/feedwatch/app"
	"github.com/fiffu/feedwatch/config"
	"github.com/fiffu/feedwatch/lib"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func NewLogger() (*zap.Logger, error) {
	switch os.Getenv("ENVIRONMENT") {
	default:
		return zap.NewDevelopment()

	case "production":
		logCfg := zap.NewProductionConfig()
		logCfg.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			t = t.UTC()
			zapcore.ISO8601TimeEncoder(t, enc)
		}
		return logCfg.Build()
	}
}

func main() {
	fx.New(
		fx.Provide(config.NewConfig),
		fx.Provide(NewLogger),

		fx.Provide(app.NewDatabase),
		fx.Provide(app.NewStore),
		fx.Provide(app.NewTransport),

		fx.Provide(app.NewFetcher),
		fx.Provide(app.NewScheduler),
		fx.Provide(app.NewProcessor),
		fx.Provide(app.NewHubClient),
		fx.Provide(app.NewWebSubManager),
		fx.Provide(app.NewPoller),

		fx.Provide(lib.NewService),
		fx.Provide(app.NewAPI),

		fx.Invoke(func(*http.Server) {}),
	).Run()
}
