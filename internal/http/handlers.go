package http

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/domain"
	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/service"
)

type Options struct {
	// Key and AuthToken, when set, are required on every route except
	// /health, as x-api-key or a bearer token respectively.
	Key       string
	AuthToken string

	// Ping backs /health; nil reports healthy.
	Ping func(ctx context.Context) error
}

func Register(app *fiber.App, svcs *service.Services, opts Options) {
	app.Get("/health", func(c *fiber.Ctx) error {
		if opts.Ping != nil {
			if err := opts.Ping(c.UserContext()); err != nil {
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable", "error": err.Error()})
			}
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	g := app.Group("/", requireAuth(opts.Key, opts.AuthToken))

	g.Get("sensors", func(c *fiber.Ctx) error {
		items, err := svcs.Sensors.List(c.UserContext())
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(items)
	})
	// Registered before sensors/:id so "summary" is not taken as an id.
	g.Get("sensors/summary", func(c *fiber.Ctx) error {
		sum, err := svcs.Summary.Get(c.UserContext())
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(sum)
	})
	g.Get("sensors/:id", func(c *fiber.Ctx) error {
		d, err := svcs.Sensors.Detail(c.UserContext(), c.Params("id"))
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(d)
	})
	g.Get("sensors/:id/history", func(c *fiber.Ctx) error {
		rng, err := domain.ParseRange(c.Query("startDate"), c.Query("endDate"))
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		pts, err := svcs.Sensors.History(c.UserContext(), c.Params("id"), rng)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(pts)
	})

	g.Get("alerts", func(c *fiber.Ctx) error {
		limit := c.QueryInt("limit", service.DefaultAlertLimit)
		items, err := svcs.Alerts.List(c.UserContext(), limit)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(items)
	})
	g.Put("alerts/:id/acknowledge", func(c *fiber.Ctx) error {
		id := c.Params("id")
		if err := svcs.Alerts.Acknowledge(c.UserContext(), id); err != nil {
			return fail(c, err)
		}
		return c.JSON(fiber.Map{"id": id, "acknowledged": true})
	})
}

func fail(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not found"})
	case errors.Is(err, service.ErrBadRange):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	log.Error().Err(err).Str("path", c.Path()).Msg("request failed")
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
}

func requireAuth(key, token string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if key == "" && token == "" {
			return c.Next()
		}
		if key != "" && equal(c.Get("x-api-key"), key) {
			return c.Next()
		}
		if token != "" {
			if bearer, ok := strings.CutPrefix(c.Get(fiber.HeaderAuthorization), "Bearer "); ok && equal(bearer, token) {
				return c.Next()
			}
		}
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
