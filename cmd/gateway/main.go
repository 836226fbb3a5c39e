package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	api "github.com/edumetrics/attain/internal/api/http"
	auth "github.com/edumetrics/attain/internal/auth/middleware"
	"github.com/edumetrics/attain/internal/config"
	"github.com/edumetrics/attain/internal/db"
	"github.com/edumetrics/attain/internal/events"
	"github.com/edumetrics/attain/internal/importer"
	"github.com/edumetrics/attain/internal/outcome"
	"github.com/edumetrics/attain/internal/rbac"
	"github.com/edumetrics/attain/internal/recalc"
	"github.com/edumetrics/attain/internal/report"
)

func main() {
	cfg := config.FromEnv()

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	// --- DB ---
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		log.Fatal("db open failed", zap.Error(err))
	}
	store := outcome.NewSQLStore(dbh, cfg.DBDriver)

	// --- Engine wiring: store mutations → event log → recompute ---
	eventRepo := events.NewRepo(dbh)
	runs := recalc.NewSQLRunLog(dbh)
	coord := recalc.New(store, log.Named("recalc"),
		recalc.WithRunLog(runs),
		recalc.WithNotifier(events.NewRecalcNotifier(eventRepo, log.Named("events"))),
		recalc.WithMaxAttempts(cfg.RecalcMaxAttempts),
	)
	dispatcher := events.NewDispatcher(eventRepo, coord, log.Named("events"))
	store.SetEventSink(dispatcher)

	reporter := report.New(store, cfg.AtRiskThreshold)
	imp := importer.New(store, coord, log.Named("import"), cfg.ImportMaxParallel)

	// --- Auth ---
	authSvc := auth.NewAuthService(cfg.AuthSecret)

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Post("/auth/login", auth.LoginHandler(authSvc, dbh))

	// Protected API (JWT → role in context → RBAC)
	r.Group(func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(authSvc))
		pr.Use(auth.AttachRoleFromDB(dbh, true))

		// Catalog
		pr.With(rbac.Require("catalog:edit")).
			Post("/terms", api.CreateTermHandler(store))
		pr.With(rbac.Require("catalog:edit")).
			Post("/programs", api.CreateProgramHandler(store))
		pr.With(rbac.Require("catalog:edit")).
			Post("/programs/{programID}/outcomes", api.CreateProgramOutcomeHandler(store))
		pr.With(rbac.Require("catalog:edit")).
			Post("/courses", api.CreateCourseHandler(store))
		pr.With(rbac.RequireAny("catalog:edit", "report:view")).
			Get("/courses/{courseID}", api.GetCourseHandler(store))
		pr.With(rbac.Require("catalog:edit")).
			Post("/courses/{courseID}/outcomes", api.CreateLearningOutcomeHandler(store))
		pr.With(rbac.RequireAny("catalog:edit", "report:view")).
			Get("/courses/{courseID}/outcomes", api.ListCourseOutcomesHandler(store))
		pr.With(rbac.Require("catalog:edit")).
			Post("/courses/{courseID}/assessments", api.CreateAssessmentHandler(store))
		pr.With(rbac.RequireAny("catalog:edit", "report:view")).
			Get("/courses/{courseID}/assessments", api.ListCourseAssessmentsHandler(store))

		// Weighted mapping edges
		pr.With(rbac.Require("weight:edit")).
			Put("/edges/{kind}/{sourceID}/{targetID}", api.SetEdgeWeightHandler(store))
		pr.With(rbac.Require("weight:edit")).
			Delete("/edges/{kind}/{sourceID}/{targetID}", api.DeleteEdgeHandler(store))
		pr.With(rbac.Require("weight:edit")).
			Get("/edges/{kind}/{sourceID}/budget", api.RemainingBudgetHandler(store))

		// Enrollment and grades
		pr.With(rbac.Require("enrollment:edit")).
			Put("/courses/{courseID}/enrollments/{studentID}", api.SetEnrollmentHandler(store))
		pr.With(rbac.Require("enrollment:edit")).
			Delete("/courses/{courseID}/enrollments/{studentID}", api.RemoveEnrollmentHandler(store))
		pr.With(rbac.Require("enrollment:edit")).
			Get("/courses/{courseID}/enrollments", api.ListEnrollmentsHandler(store))
		pr.With(rbac.Require("grade:edit")).
			Put("/students/{studentID}/grades/{assessmentID}", api.UpsertGradeHandler(store))
		pr.With(rbac.Require("grade:edit")).
			Delete("/students/{studentID}/grades/{assessmentID}", api.DeleteGradeHandler(store))

		// Bulk import
		pr.With(rbac.Require("import:run")).
			Post("/import/grades", api.ImportGradesHandler(imp))

		// Reports
		pr.With(rbac.Require("report:view")).
			Get("/outcomes/{outcomeID}/stats", api.OutcomeStatsHandler(reporter))
		pr.With(rbac.Require("report:view")).
			Get("/outcomes/{outcomeID}/scores", api.OutcomeScoresHandler(store))
		pr.With(rbac.Require("report:view")).
			Get("/program-outcomes/{poID}/stats", api.ProgramOutcomeStatsHandler(reporter))
		pr.With(rbac.Require("report:view")).
			Get("/program-outcomes/{poID}/scores", api.ProgramOutcomeScoresHandler(store))
		pr.With(rbac.Require("report:view")).
			Get("/assessments/{assessmentID}/stats", api.AssessmentStatsHandler(reporter))
		pr.With(rbac.Require("report:view")).
			Get("/courses/{courseID}/averages", api.CourseAveragesHandler(reporter))
		pr.With(rbac.Require("report:view")).
			Get("/courses/{courseID}/distribution", api.CourseDistributionHandler(reporter))
		pr.With(rbac.Require("report:view")).
			Get("/courses/{courseID}/at-risk", api.AtRiskHandler(reporter))

		// A student may read their own overview; staff may read anyone's.
		pr.With(rbac.RequireOwnerOr("report:view", func(req *http.Request) bool {
			return auth.SubjectFromContext(req.Context()) == chi.URLParam(req, "studentID")
		})).Get("/students/{studentID}/overview", api.StudentOverviewHandler(reporter))

		// Operations
		pr.With(rbac.Require("catalog:edit")).
			Post("/courses/{courseID}/recompute", api.RecomputeCourseHandler(coord))
		pr.With(rbac.Require("report:view")).
			Get("/events", api.RecentEventsHandler(eventRepo))
		pr.With(rbac.Require("report:view")).
			Get("/recalc/failed", api.FailedRunsHandler(runs))
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	log.Info("listening", zap.String("addr", cfg.HTTPAddr), zap.String("db", cfg.DBDriver))
	if err := http.ListenAndServe(cfg.HTTPAddr, r); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}
