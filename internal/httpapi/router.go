// Package httpapi exposes the analysis pipeline over HTTP.
package httpapi

import (
	"context"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/alexanderramin/defectlens/internal/domain"
	"github.com/alexanderramin/defectlens/internal/imagegate"
	"github.com/alexanderramin/defectlens/internal/pipeline"
	"github.com/alexanderramin/defectlens/internal/taxonomy"
)

// Analyzer is the slice of *pipeline.Pipeline the handlers need.
type Analyzer interface {
	Run(ctx context.Context, req pipeline.Request) (*domain.DefectAnalysisRecord, error)
	Batch(ctx context.Context, reqs []pipeline.Request, concurrency int) []pipeline.BatchResult
}

// Deps wires the router.
type Deps struct {
	Analyzer     Analyzer
	Taxonomy     *taxonomy.Taxonomy
	Gate         imagegate.Config
	Logger       *zap.Logger
	Registry     *prometheus.Registry // nil creates a private registry
	Version      string
	ModelVersion string
	Ingest       Enqueuer // nil answers /ingest with 503

	BatchConcurrency int
	MaxBatchSize     int
	Now              func() time.Time
}

type handler struct {
	Deps
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(d Deps) *gin.Engine {
	registerValidators()

	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	d.Logger = d.Logger.Named("http")
	if d.Registry == nil {
		d.Registry = prometheus.NewRegistry()
	}
	if d.Taxonomy == nil {
		d.Taxonomy = taxonomy.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.BatchConcurrency <= 0 {
		d.BatchConcurrency = 1
	}
	if d.MaxBatchSize <= 0 {
		d.MaxBatchSize = 50
	}
	h := &handler{Deps: d}

	r := gin.New()
	r.MaxMultipartMemory = 8 << 20
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(Logger(d.Logger))
	r.Use(newHTTPMetrics(d.Registry).middleware())

	r.GET("/health", h.health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{})))

	v1 := r.Group("/api/v1")
	{
		v1.GET("/defect-types", h.defectTypes)
		v1.GET("/production-stages", h.productionStages)
		v1.GET("/facilities", h.facilities)

		v1.POST("/analyze", h.analyze)
		v1.POST("/analyze/batch", h.analyzeBatch)
		v1.POST("/shift-report", h.shiftReport)
		v1.POST("/ingest", h.ingest)
	}

	return r
}

var registerOnce sync.Once

// registerValidators teaches gin's validator the facility tag and makes
// field errors report wire names instead of Go names.
func registerValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			for _, tag := range []string{"form", "json"} {
				name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
				if name != "" && name != "-" {
					return name
				}
			}
			return f.Name
		})
		_ = v.RegisterValidation("facility", func(fl validator.FieldLevel) bool {
			return domain.ParseFacility(fl.Field().String()) != domain.FacilityUnknown
		})
	})
}
