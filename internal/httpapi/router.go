package httpapi

import (
	"math"
	"net/http"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/mrkhmath/mathgraph-backend/internal/config"
	"github.com/mrkhmath/mathgraph-backend/internal/pipeline"
	"github.com/mrkhmath/mathgraph-backend/internal/platform/logger"
	"github.com/mrkhmath/mathgraph-backend/internal/projection"
)

func NewRouter(cfg *config.Config, log *logger.Logger, pl *pipeline.Pipeline, pr *projection.Projector) *gin.Engine {
	switch strings.ToLower(cfg.Env) {
	case "prod", "production":
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(RequestID())
	r.Use(AccessLog(log))
	r.Use(Recover(log))
	r.Use(otelgin.Middleware("readiness"))

	if len(cfg.HTTP.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.HTTP.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Content-Type", "X-Request-Id"},
			AllowCredentials: false,
		}))
	}

	r.GET("/healthz", handleHealthz)
	r.GET("/readyz", handleReadyz)
	r.POST("/predict_readiness", handlePredictReadiness(cfg, log, pl, pr))
	r.GET("/graph", handleGraph(log, pr))

	return r
}

func handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{Status: "ok"})
}

func handleReadyz(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{Status: "ok"})
}

func handlePredictReadiness(cfg *config.Config, log *logger.Logger, pl *pipeline.Pipeline, pr *projection.Projector) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, cfg.HTTP.MaxRequestBytes)

		var in predictRequest
		if err := c.ShouldBindJSON(&in); err != nil {
			writeErrorStatus(c, http.StatusBadRequest, err.Error(), "invalid_request", "")
			return
		}
		if strings.TrimSpace(in.StudentID) == "" || strings.TrimSpace(in.TargetCCSS) == "" {
			writeErrorStatus(c, http.StatusBadRequest, "missing student_id or target_ccss", "invalid_request", "")
			return
		}

		dok := 1
		if in.DOK != nil {
			dok = int(*in.DOK)
		}

		res, err := pl.RunInference(c.Request.Context(), in.StudentID, in.TargetCCSS, dok)
		if err != nil {
			writeError(c, log, err)
			return
		}

		out := predictResponse{
			StudentID:      strings.TrimSpace(in.StudentID),
			TargetCCSS:     strings.TrimSpace(in.TargetCCSS),
			DOK:            dok,
			ReadinessScore: math.Round(res.Probability*10_000) / 10_000,
			Ready:          res.Ready,
			Steps:          res.Steps,
			DegradedSteps:  res.DegradedSteps,
		}
		if in.IncludeGraph {
			g, err := pr.Project(c.Request.Context(), in.StudentID, in.TargetCCSS)
			if err != nil {
				// The prediction already succeeded; the projection is additive.
				log.Warn("graph projection failed",
					"request_id", RequestIDFromContext(c), "error", err)
			} else {
				out.Graph = g
			}
		}
		c.JSON(http.StatusOK, out)
	}
}

func handleGraph(log *logger.Logger, pr *projection.Projector) gin.HandlerFunc {
	return func(c *gin.Context) {
		studentID := strings.TrimSpace(c.Query("student_id"))
		targetCCSS := strings.TrimSpace(c.Query("target_ccss"))
		if studentID == "" || targetCCSS == "" {
			writeErrorStatus(c, http.StatusBadRequest, "missing student_id or target_ccss", "invalid_request", "")
			return
		}

		g, err := pr.Project(c.Request.Context(), studentID, targetCCSS)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, g)
	}
}
