package api

import (
	"errors"
	"net/http"

	models "FinTrain/internal/domain/models"
	domrepo "FinTrain/internal/domain/repository"
	"FinTrain/internal/handler/ws"
	"FinTrain/internal/usecase"
	xhttp "FinTrain/pkg/http"
	xlogger "FinTrain/pkg/logger"
	"FinTrain/pkg/queue"

	"github.com/labstack/echo/v4"
)

// PipelineEchoHandler exposes the retraining pipeline over HTTP: status,
// reports, manual triggers, rollback, inference, and data inspection.
type PipelineEchoHandler struct {
	logger    *xlogger.Logger
	runner    *usecase.PipelineRunner
	predictor *usecase.Predictor
	candles   *usecase.CandlesUseCase
	tracker   *usecase.StatusTracker
	runs      domrepo.RunStore
	queue     queue.QueueService
	hub       *ws.Hub
}

func NewPipelineEchoHandler(
	logger *xlogger.Logger,
	runner *usecase.PipelineRunner,
	predictor *usecase.Predictor,
	candles *usecase.CandlesUseCase,
	tracker *usecase.StatusTracker,
	runs domrepo.RunStore,
	q queue.QueueService,
	hub *ws.Hub,
) *PipelineEchoHandler {
	return &PipelineEchoHandler{
		logger:    logger,
		runner:    runner,
		predictor: predictor,
		candles:   candles,
		tracker:   tracker,
		runs:      runs,
		queue:     q,
		hub:       hub,
	}
}

func (h *PipelineEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)
	g := e.Group("/api")
	g.GET("/status", h.Status)
	g.GET("/report", h.Report)
	g.POST("/retrain", h.Retrain)
	g.POST("/rollback", h.Rollback)
	g.GET("/predict", h.Predict)
	g.GET("/candles", h.Candles)
	g.GET("/runs/watch", h.Watch)
}

// Health reports liveness plus run-store reachability. Real status codes
// here; load balancers read them.
func (h *PipelineEchoHandler) Health(c echo.Context) error {
	if err := h.runs.Health(c.Request().Context()); err != nil {
		h.logger.Warn("health check degraded", xlogger.Error(err))
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "degraded", "reason": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Status returns the state machine position of one or all instruments.
func (h *PipelineEchoHandler) Status(c echo.Context) error {
	req := &models.StatusRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if req.Symbol == "" {
		return xhttp.SuccessResponse(c, h.tracker.All())
	}
	st, ok := h.tracker.Get(req.Symbol)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("instrument %s not tracked", req.Symbol))
	}
	return xhttp.SuccessResponse(c, st)
}

// Report returns the most recent run report.
func (h *PipelineEchoHandler) Report(c echo.Context) error {
	report, err := h.runner.LastReport(c.Request().Context())
	if err != nil {
		if errors.Is(err, models.ErrNoRuns) {
			return xhttp.AppErrorResponse(c, xhttp.NotFoundError("no completed runs"))
		}
		h.logger.Error("report usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, report)
}

// Retrain enqueues a retraining command: one instrument when a symbol is
// given, the full configured set otherwise. Work happens asynchronously.
func (h *PipelineEchoHandler) Retrain(c echo.Context) error {
	req := &models.RetrainRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	cmd := usecase.RetrainCommand{Symbol: req.Symbol, All: req.Symbol == ""}
	if err := h.queue.PublishMessage(c.Request().Context(), usecase.RetrainMessageType, cmd); err != nil {
		h.logger.Error("retrain enqueue error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.AcceptedResponse(c, cmd)
}

// Rollback restores an instrument's artifact from a named backup.
func (h *PipelineEchoHandler) Rollback(c echo.Context) error {
	req := &models.RollbackRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.runner.Rollback(c.Request().Context(), req.Symbol, req.Backup); err != nil {
		h.logger.Error("rollback usecase error",
			xlogger.String("symbol", req.Symbol),
			xlogger.String("backup", req.Backup),
			xlogger.Error(err),
		)
		return h.pipelineError(c, err)
	}
	return xhttp.SuccessResponse(c, map[string]string{"symbol": req.Symbol, "backup": req.Backup})
}

// Predict serves a one-shot inference against the deployed model.
func (h *PipelineEchoHandler) Predict(c echo.Context) error {
	req := &models.PredictRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	pred, err := h.predictor.Predict(c.Request().Context(), req.Symbol)
	if err != nil {
		if !errors.Is(err, models.ErrNoArtifact) {
			h.logger.Error("predict usecase error", xlogger.String("symbol", req.Symbol), xlogger.Error(err))
		}
		return h.pipelineError(c, err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=15")
	return xhttp.SuccessResponse(c, pred)
}

// Candles returns the newest N raw bars for inspection.
func (h *PipelineEchoHandler) Candles(c echo.Context) error {
	req := &models.CandlesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.candles.GetLatest(c.Request().Context(), usecase.GetCandlesParams{Symbol: req.Symbol, N: req.N})
	if err != nil {
		h.logger.Error("candles usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, res)
}

// Watch upgrades to a WebSocket streaming pipeline events.
func (h *PipelineEchoHandler) Watch(c echo.Context) error {
	return h.hub.ServeWS(c)
}

// pipelineError maps domain failures onto HTTP statuses.
func (h *PipelineEchoHandler) pipelineError(c echo.Context, err error) error {
	if errors.Is(err, models.ErrNoArtifact) {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("no model deployed"))
	}
	var de *models.DataError
	if errors.As(err, &de) {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(de.Error()))
	}
	return xhttp.AppErrorResponse(c, err)
}
