package routes

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/manifest"
	"github.com/any-hub/shellcache/internal/metrics"
	"github.com/any-hub/shellcache/internal/worker"
)

// ControlOptions 汇总控制接口的依赖。
type ControlOptions struct {
	Worker       *worker.Worker
	Metrics      *metrics.Metrics
	ManifestPath string
	Logger       *logrus.Logger
}

// RegisterControlRoutes 暴露 /-/ 下的控制与诊断接口：
// status 查询生命周期，message 投递控制命令，update 重新加载清单并升级，
// metrics 输出 Prometheus 指标。
func RegisterControlRoutes(app *fiber.App, opts ControlOptions) {
	if app == nil || opts.Worker == nil {
		return
	}
	w := opts.Worker

	app.Get("/-/status", func(c fiber.Ctx) error {
		payload := fiber.Map{
			"origin": w.Origin(),
			"worker": w.Status(),
		}
		if content, err := w.Storage().Open(c.Context(), cache.ContentContainer); err == nil {
			if keys, err := content.Keys(c.Context()); err == nil {
				payload["content_entries"] = len(keys)
			}
		}
		return c.JSON(payload)
	})

	app.Post("/-/message", func(c fiber.Ctx) error {
		msg := decodeMessage(c.Body())
		if msg == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "message_required"})
		}
		result, err := w.HandleMessage(c.Context(), msg)
		if err != nil {
			logControlError(opts.Logger, "message", err)
			status := fiber.StatusInternalServerError
			if errors.Is(err, worker.ErrNotActive) {
				status = fiber.StatusConflict
			}
			return c.Status(status).JSON(fiber.Map{
				"error":  "message_failed",
				"detail": err.Error(),
				"result": result,
			})
		}
		return c.JSON(result)
	})

	app.Post("/-/update", func(c fiber.Ctx) error {
		if opts.ManifestPath == "" {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "manifest_path_unset"})
		}
		next, err := manifest.Load(opts.ManifestPath)
		if err != nil {
			logControlError(opts.Logger, "update", err)
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error":  "manifest_invalid",
				"detail": err.Error(),
			})
		}
		if err := w.Update(c.Context(), next); err != nil {
			logControlError(opts.Logger, "update", err)
			code, status := "activate_failed", fiber.StatusInternalServerError
			if w.State() == worker.StateRedundant {
				code, status = "install_failed", fiber.StatusBadGateway
			}
			return c.Status(status).JSON(fiber.Map{
				"error":  code,
				"detail": err.Error(),
				"worker": w.Status(),
			})
		}
		return c.JSON(fiber.Map{"worker": w.Status()})
	})

	if opts.Metrics != nil {
		handler := promhttp.HandlerFor(opts.Metrics.Registry, promhttp.HandlerOpts{})
		app.Get("/-/metrics", adaptor.HTTPHandler(handler))
	}
}

// decodeMessage 接受纯文本、JSON 字符串或 {"message": "..."} 三种形式。
func decodeMessage(body []byte) string {
	raw := strings.TrimSpace(string(body))
	if raw == "" {
		return ""
	}
	var envelope struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(raw), &envelope); err == nil && envelope.Message != "" {
		return envelope.Message
	}
	var text string
	if err := json.Unmarshal([]byte(raw), &text); err == nil {
		return strings.TrimSpace(text)
	}
	return raw
}

func logControlError(logger *logrus.Logger, action string, err error) {
	if logger == nil {
		return
	}
	logger.WithFields(logrus.Fields{"action": action}).WithError(err).Warn("control_request_failed")
}
