package server

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"

	"github.com/pipesight/pipesight/pkg/config"
	"github.com/pipesight/pipesight/pkg/contract"
	"github.com/pipesight/pipesight/pkg/ml"
)

// Launch runs the HTTP server until ctx is cancelled, then shuts it
// down gracefully within the configured timeout.
func Launch(ctx context.Context, cfg *config.Config, loader ml.BundleLoader) error {
	app := fiber.New(fiber.Config{
		BodyLimit:             1 * 1024 * 1024,
		ReadTimeout:           5 * time.Second,
		WriteTimeout:          60 * time.Second,
		IdleTimeout:           120 * time.Second,
		ServerHeader:          "pipesight/" + cfg.Version,
		DisableStartupMessage: true,
	})

	app.Use(compress.New())
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(logger.New(logger.Config{
		Format: "${status} - ${latency} ${method} ${path}\n",
		Output: logrus.StandardLogger().Writer(),
	}))

	apiApp, err := newAPIApp(cfg, loader)
	if err != nil {
		return err
	}
	app.Mount("/api/1.0", apiApp)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendString("OK")
	})
	app.Get("/version", func(c *fiber.Ctx) error {
		return c.SendString(cfg.Version)
	})

	go func() {
		<-ctx.Done()
		if err := app.ShutdownWithTimeout(cfg.ShutdownTimeout.Duration); err != nil {
			logrus.Errorf("Failed to gracefully shutdown server: %v", err)
		}
	}()

	if err := app.Listen(cfg.Address); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

//nolint:funlen
func newAPIApp(cfg *config.Config, loader ml.BundleLoader) (*fiber.App, error) {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var e *contract.Error
			if !errors.As(err, &e) {
				code := contract.ErrorCodeInternalError

				var f *fiber.Error
				if errors.As(err, &f) {
					switch f.Code {
					case fiber.StatusBadRequest:
						code = contract.ErrorCodeBadRequest
					case fiber.StatusNotFound:
						code = contract.ErrorCodeResourceDoesNotExist
					case fiber.StatusServiceUnavailable:
						code = contract.ErrorCodeTransientStore
					}
				}

				e = contract.NewError(code, err.Error())
			}

			var fn func(format string, args ...any)

			switch e.StatusCode() {
			case fiber.StatusBadRequest:
				fn = logrus.Infof
			case fiber.StatusNotFound:
				fn = logrus.Debugf
			case fiber.StatusServiceUnavailable:
				fn = logrus.Warnf
			default:
				fn = logrus.Errorf
			}

			fn("Error encountered in %s %s: %s", c.Method(), c.Path(), err)

			return c.Status(e.StatusCode()).JSON(e)
		},
	})

	parser := NewHTTPRequestParser()

	service, err := NewPipesightService(cfg, loader, logrus.StandardLogger())
	if err != nil {
		return nil, err
	}

	registerRoutes(service, parser, app)

	return app, nil
}

//nolint:funlen
func registerRoutes(service *PipesightService, parser *HTTPRequestParser, app *fiber.App) {
	app.Get("/metrics/daily", func(c *fiber.Ctx) error {
		query := &DailyMetricsQuery{}
		if err := parser.ParseQuery(c, query); err != nil {
			return err
		}

		aggregates, err := service.DailyMetrics(c.UserContext(), query)
		if err != nil {
			return err
		}

		return c.JSON(fiber.Map{"daily_metrics": aggregates})
	})

	app.Get("/predictions", func(c *fiber.Ctx) error {
		query := &PredictionsQuery{}
		if err := parser.ParseQuery(c, query); err != nil {
			return err
		}

		predictions, err := service.Predictions(c.UserContext(), query)
		if err != nil {
			return err
		}

		return c.JSON(fiber.Map{"predictions": predictions})
	})

	app.Get("/models/current", func(c *fiber.Ctx) error {
		mv, err := service.CurrentModel(c.UserContext())
		if err != nil {
			return err
		}

		return c.JSON(mv)
	})

	app.Get("/models/:version", func(c *fiber.Ctx) error {
		version, convErr := strconv.ParseInt(c.Params("version"), 10, 32)
		if convErr != nil {
			return contract.NewError(
				contract.ErrorCodeInvalidParameterValue,
				fmt.Sprintf("invalid value %q for parameter 'version'", c.Params("version")),
			)
		}

		mv, err := service.GetModel(c.UserContext(), int32(version))
		if err != nil {
			return err
		}

		return c.JSON(mv)
	})

	app.Post("/models/:version/promote", func(c *fiber.Ctx) error {
		version, convErr := strconv.ParseInt(c.Params("version"), 10, 32)
		if convErr != nil {
			return contract.NewError(
				contract.ErrorCodeInvalidParameterValue,
				fmt.Sprintf("invalid value %q for parameter 'version'", c.Params("version")),
			)
		}

		if err := service.PromoteModel(c.UserContext(), int32(version)); err != nil {
			return err
		}

		return c.SendStatus(fiber.StatusNoContent)
	})

	// Entity keys embed project paths, so they travel as a query
	// parameter rather than a path segment.
	app.Get("/features/online", func(c *fiber.Ctx) error {
		query := &OnlineFeatureQuery{}
		if err := parser.ParseQuery(c, query); err != nil {
			return err
		}

		feature, err := service.OnlineFeature(c.UserContext(), query.EntityKey)
		if err != nil {
			return err
		}

		return c.JSON(feature)
	})

	app.Get("/features/offline", func(c *fiber.Ctx) error {
		query := &OfflineFeaturesQuery{}
		if err := parser.ParseQuery(c, query); err != nil {
			return err
		}

		response, err := service.OfflineFeatures(c.UserContext(), query)
		if err != nil {
			return err
		}

		return c.JSON(response)
	})

	app.Post("/score", func(c *fiber.Ctx) error {
		req := &ScoreRequest{}
		if err := parser.ParseBody(c, req); err != nil {
			return err
		}

		response, err := service.Score(c.UserContext(), req)
		if err != nil {
			return err
		}

		return c.JSON(response)
	})
}
