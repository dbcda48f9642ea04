package http

import (
	"net/http"

	"taskforge/internal/auth"
	"taskforge/internal/config"
	"taskforge/internal/http/handler"
	mw "taskforge/internal/http/middleware"
	"taskforge/internal/task"
	"taskforge/internal/worker"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"gorm.io/gorm"
)

func NewRouter(cfg config.Config, db *gorm.DB, jwtSvc *auth.JWT, svc *task.Service, metrics *worker.Metrics) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(mw.CORS(cfg.CORSAllowedOrigins, cfg.CORSAllowCredentials))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		// Readiness rides on the store: if the count fails, so would claims.
		var n int64
		if err := db.Model(&task.Task{}).Count(&n).Error; err != nil {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	sh := &handler.StatsHandler{Metrics: metrics}
	r.Get("/stats", sh.Stats)

	ah := &handler.AuthHandler{DB: db, JWT: jwtSvc}
	r.Post("/auth/register", ah.Register)
	r.Post("/auth/login", ah.Login)

	th := &handler.TaskHandler{Svc: svc}
	r.Route("/tasks", func(r chi.Router) {
		r.Use(auth.RequireAuth(jwtSvc))

		r.Post("/", th.Create)
		r.Get("/{id}", th.Get)
		r.Post("/{id}/cancel", th.Cancel)
	})

	return r
}
