package main

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/robfig/cron/v3"
	"golang.org/x/crypto/bcrypt"

	"github.com/fieldline/fieldline/auth"
	"github.com/fieldline/fieldline/config"
	"github.com/fieldline/fieldline/dbopen"
	"github.com/fieldline/fieldline/notify"
	"github.com/fieldline/fieldline/observability"
	"github.com/fieldline/fieldline/seqcounter"
	"github.com/fieldline/fieldline/shield"
	"github.com/fieldline/fieldline/snapshot"
	"github.com/fieldline/fieldline/store"
	"github.com/fieldline/fieldline/stream"
)

const serviceName = "fieldline"

func main() {
	configPath := flag.String("config", env("CONFIG_PATH", ""), "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	// Derive 32-byte JWT secret via SHA-256 (satisfies auth.MinSecretLen).
	secretHash := sha256.Sum256([]byte(cfg.JWTSecret))
	jwtSecret := secretHash[:]

	// Logging.
	var lvl slog.Level
	switch cfg.LogLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Main DB.
	db, err := dbopen.Open(cfg.DBPath, dbopen.WithMkdirAll())
	if err != nil {
		slog.Error("open db", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := store.Init(db); err != nil {
		slog.Error("store init", "error", err)
		os.Exit(1)
	}
	counters := seqcounter.New(db)
	if err := counters.Init(); err != nil {
		slog.Error("seqcounter init", "error", err)
		os.Exit(1)
	}
	if err := shield.Init(db); err != nil {
		slog.Error("shield init", "error", err)
		os.Exit(1)
	}

	// Observability DB.
	obsDB, err := dbopen.Open(cfg.ObsPath, dbopen.WithMkdirAll())
	if err != nil {
		slog.Error("open observability db", "error", err)
		os.Exit(1)
	}
	defer obsDB.Close()
	if err := observability.Init(obsDB); err != nil {
		slog.Error("observability init", "error", err)
		os.Exit(1)
	}
	events := observability.NewEventLogger(obsDB)

	// Wiring: store mutations bump sequence counters, sessions poll them.
	notifier := notify.New(counters, notify.WithLogger(logger))
	jobs := store.New(db, store.WithNotifier(notifier), store.WithLogger(logger))
	hub := stream.NewHub(jobs, counters, stream.Config{
		PollInterval:      cfg.PollInterval(),
		KeepAliveInterval: cfg.KeepAliveInterval(),
	}, stream.WithLogger(logger))

	// Seed admin manager on first boot.
	if err := seedAdmin(ctx, jobs, cfg); err != nil {
		slog.Error("seed admin", "error", err)
		os.Exit(1)
	}

	// Heartbeats.
	heartbeats := observability.NewHeartbeatWriter(obsDB, serviceName, 15*time.Second,
		observability.WithActiveStreams(func() int {
			return int(hub.Stats().ActiveSessions)
		}))
	heartbeats.Start(ctx)
	defer heartbeats.Stop()

	// Retention cleanup.
	scheduler := cron.New()
	_, err = observability.ScheduleCleanup(scheduler, obsDB, observability.RetentionConfig{
		EventLogsDays:  cfg.Retention.EventLogsDays,
		HeartbeatsDays: cfg.Retention.HeartbeatsDays,
	}, cfg.Retention.Schedule)
	if err != nil {
		slog.Error("schedule cleanup", "error", err)
		os.Exit(1)
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Rate limit rule reloads.
	rl := shield.NewRateLimiter(db, "/health", "/api/stream/")
	go rl.StartReloader(ctx, time.Minute)

	// Router.
	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack(rl) {
		r.Use(mw)
	}
	r.Use(auth.Middleware(jwtSecret)) // Soft parse; RequireManager enforces.

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		hb, _ := observability.LatestHeartbeat(r.Context(), obsDB, serviceName, 45*time.Second)
		writeJSON(w, 200, map[string]any{
			"status":    "ok",
			"stream":    hub.Stats(),
			"heartbeat": hb,
		})
	})

	// Public auth endpoints.
	r.Post("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, 400, err)
			return
		}
		mgr, err := jobs.GetManagerByEmail(r.Context(), req.Email)
		if err != nil || bcrypt.CompareHashAndPassword([]byte(mgr.PasswordHash), []byte(req.Password)) != nil {
			events.LogEvent(r.Context(), observability.BusinessEvent{
				EventType: "auth.login", ServiceName: serviceName,
				Action: "login", ActorID: req.Email, Success: false,
			})
			writeJSON(w, 401, map[string]string{"error": "invalid credentials"})
			return
		}
		claims := &auth.ManagerClaims{
			ManagerID: mgr.ID,
			Email:     mgr.Email,
			Name:      mgr.Name,
			Role:      mgr.Role,
		}
		token, err := auth.GenerateToken(jwtSecret, claims, 30*24*time.Hour)
		if err != nil {
			writeError(w, 500, err)
			return
		}
		secure := r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https"
		auth.SetSessionCookie(w, token, secure)
		events.LogEvent(r.Context(), observability.BusinessEvent{
			EventType: "auth.login", ServiceName: serviceName,
			Action: "login", ActorID: mgr.ID, Success: true,
		})
		writeJSON(w, 200, map[string]string{"id": mgr.ID, "name": mgr.Name, "email": mgr.Email, "role": mgr.Role})
	})

	r.Post("/api/auth/logout", func(w http.ResponseWriter, _ *http.Request) {
		auth.ClearSessionCookie(w)
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	// Viewer snapshot fetch by capability token.
	r.Get("/api/view", func(w http.ResponseWriter, r *http.Request) {
		role, err := store.ParseRole(r.URL.Query().Get("role"))
		if err != nil {
			writeJSON(w, 401, map[string]string{"error": "unknown role"})
			return
		}
		job, err := jobs.GetJobByToken(r.Context(), role, r.URL.Query().Get("token"))
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, 401, map[string]string{"error": "invalid token"})
			return
		}
		if err != nil {
			writeError(w, 500, err)
			return
		}
		writeJSON(w, 200, snapshot.Project(job))
	})

	// Job SSE stream (viewer token auth inside the handler).
	r.Get("/api/stream/jobs/{jobID}", hub.ServeJob)

	r.Route("/api/jobs", func(r chi.Router) {
		// Manager CRUD.
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireManager)

			r.Post("/", func(w http.ResponseWriter, r *http.Request) {
				c := auth.GetClaims(r.Context())
				var req struct {
					Title         string   `json:"title"`
					CustomerName  string   `json:"customer_name"`
					CustomerPhone string   `json:"customer_phone"`
					Tasks         []string `json:"tasks"`
				}
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					writeError(w, 400, err)
					return
				}
				if req.Title == "" {
					writeJSON(w, 400, map[string]string{"error": "title is required"})
					return
				}
				job, err := jobs.CreateJob(r.Context(), store.CreateJobInput{
					OwnerID:       c.ManagerID,
					Title:         req.Title,
					CustomerName:  req.CustomerName,
					CustomerPhone: req.CustomerPhone,
					TaskLabels:    req.Tasks,
				})
				if err != nil {
					writeError(w, 500, err)
					return
				}
				logMutation(r.Context(), events, "job.created", "job", job.ID, c.ManagerID)
				writeJSON(w, 201, jobDetail(job))
			})

			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				c := auth.GetClaims(r.Context())
				list, err := jobs.ListJobsByOwner(r.Context(), c.ManagerID)
				if err != nil {
					writeError(w, 500, err)
					return
				}
				writeJSON(w, 200, list)
			})

			r.Get("/{jobID}", func(w http.ResponseWriter, r *http.Request) {
				job, ok := ownedJob(w, r, jobs)
				if !ok {
					return
				}
				writeJSON(w, 200, jobDetail(job))
			})

			r.Delete("/{jobID}", func(w http.ResponseWriter, r *http.Request) {
				c := auth.GetClaims(r.Context())
				job, ok := ownedJob(w, r, jobs)
				if !ok {
					return
				}
				if err := jobs.DeleteJob(r.Context(), job.ID); err != nil {
					writeError(w, 500, err)
					return
				}
				logMutation(r.Context(), events, "job.deleted", "job", job.ID, c.ManagerID)
				writeJSON(w, 200, map[string]string{"status": "deleted"})
			})
		})

		// Task and note mutations: manager session or technician token.
		r.Post("/{jobID}/tasks", func(w http.ResponseWriter, r *http.Request) {
			job, actor, ok := authorizeMutation(w, r, jobs)
			if !ok {
				return
			}
			var req struct {
				Label string `json:"label"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Label == "" {
				writeJSON(w, 400, map[string]string{"error": "label is required"})
				return
			}
			task, err := jobs.AddTask(r.Context(), job.ID, req.Label)
			if err != nil {
				writeError(w, 500, err)
				return
			}
			logMutation(r.Context(), events, "task.added", "task", task.ID, actor)
			writeJSON(w, 201, map[string]any{"id": task.ID, "label": task.Label, "position": task.Position})
		})

		r.Patch("/{jobID}/tasks/{taskID}", func(w http.ResponseWriter, r *http.Request) {
			job, actor, ok := authorizeMutation(w, r, jobs)
			if !ok {
				return
			}
			var req struct {
				Done bool `json:"done"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, 400, err)
				return
			}
			taskID := chi.URLParam(r, "taskID")
			err := jobs.SetTaskDone(r.Context(), job.ID, taskID, req.Done)
			if errors.Is(err, store.ErrNotFound) {
				writeJSON(w, 404, map[string]string{"error": "task not found"})
				return
			}
			if err != nil {
				writeError(w, 500, err)
				return
			}
			logMutation(r.Context(), events, "task.updated", "task", taskID, actor)
			writeJSON(w, 200, map[string]any{"id": taskID, "done": req.Done})
		})

		r.Post("/{jobID}/tasks/complete-all", func(w http.ResponseWriter, r *http.Request) {
			job, actor, ok := authorizeMutation(w, r, jobs)
			if !ok {
				return
			}
			if err := jobs.CompleteAllTasks(r.Context(), job.ID); err != nil {
				writeError(w, 500, err)
				return
			}
			logMutation(r.Context(), events, "task.completed_all", "job", job.ID, actor)
			writeJSON(w, 200, map[string]string{"status": "ok"})
		})

		r.Post("/{jobID}/notes", func(w http.ResponseWriter, r *http.Request) {
			job, actor, ok := authorizeMutation(w, r, jobs)
			if !ok {
				return
			}
			var req struct {
				Body string `json:"body"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Body == "" {
				writeJSON(w, 400, map[string]string{"error": "body is required"})
				return
			}
			author := store.RoleTechnician
			if role, err := store.ParseRole(r.URL.Query().Get("role")); err == nil {
				author = role
			}
			note, err := jobs.AddNote(r.Context(), job.ID, author, req.Body)
			if err != nil {
				writeError(w, 500, err)
				return
			}
			logMutation(r.Context(), events, "note.added", "note", note.ID, actor)
			writeJSON(w, 201, map[string]any{"id": note.ID, "author_role": string(note.AuthorRole)})
		})

		r.Post("/{jobID}/assign", func(w http.ResponseWriter, r *http.Request) {
			job, actor, ok := authorizeMutation(w, r, jobs)
			if !ok {
				return
			}
			var req struct {
				Technician string `json:"technician"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, 400, err)
				return
			}
			if err := jobs.AssignTechnician(r.Context(), job.ID, req.Technician); err != nil {
				writeError(w, 500, err)
				return
			}
			logMutation(r.Context(), events, "job.assigned", "job", job.ID, actor)
			writeJSON(w, 200, map[string]string{"status": "ok"})
		})
	})

	// Manager endpoints.
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireManager)

		r.Get("/api/auth/me", func(w http.ResponseWriter, r *http.Request) {
			c := auth.GetClaims(r.Context())
			writeJSON(w, 200, map[string]string{"id": c.ManagerID, "name": c.Name, "email": c.Email, "role": c.Role})
		})

		r.Get("/api/stream/owner", hub.ServeOwner)
	})

	// HTTP server. WriteTimeout stays zero so SSE streams are not cut off.
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	notifier.Wait()
	slog.Info("server stopped")
}

// ownedJob loads the job from the URL and checks the session manager owns it.
func ownedJob(w http.ResponseWriter, r *http.Request, jobs *store.Store) (*store.Job, bool) {
	c := auth.GetClaims(r.Context())
	job, err := jobs.GetJobByID(r.Context(), chi.URLParam(r, "jobID"))
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, 404, map[string]string{"error": "job not found"})
		return nil, false
	}
	if err != nil {
		writeError(w, 500, err)
		return nil, false
	}
	if job.OwnerID != c.ManagerID {
		writeJSON(w, 404, map[string]string{"error": "job not found"})
		return nil, false
	}
	return job, true
}

// authorizeMutation admits either the owning manager's session or the job's
// technician token (role=technician&token=... query params). The customer
// token is read-only and never authorizes a mutation.
func authorizeMutation(w http.ResponseWriter, r *http.Request, jobs *store.Store) (*store.Job, string, bool) {
	jobID := chi.URLParam(r, "jobID")
	job, err := jobs.GetJobByID(r.Context(), jobID)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, 404, map[string]string{"error": "job not found"})
		return nil, "", false
	}
	if err != nil {
		writeError(w, 500, err)
		return nil, "", false
	}

	if c := auth.GetClaims(r.Context()); c != nil && c.ManagerID == job.OwnerID {
		return job, c.ManagerID, true
	}
	role, roleErr := store.ParseRole(r.URL.Query().Get("role"))
	token := r.URL.Query().Get("token")
	if roleErr == nil && role == store.RoleTechnician && token != "" && token == job.TechnicianToken {
		return job, "technician", true
	}
	writeJSON(w, 401, map[string]string{"error": "not authorized"})
	return nil, "", false
}

func jobDetail(job *store.Job) map[string]any {
	return map[string]any{
		"id":               job.ID,
		"title":            job.Title,
		"customer_name":    job.CustomerName,
		"customer_phone":   job.CustomerPhone,
		"assigned_to":      job.AssignedTo,
		"technician_token": job.TechnicianToken,
		"customer_token":   job.CustomerToken,
		"created_at":       job.CreatedAt,
		"updated_at":       job.UpdatedAt,
		"snapshot":         snapshot.Project(job),
	}
}

func logMutation(ctx context.Context, events *observability.EventLogger, eventType, entityType, entityID, actor string) {
	events.LogEvent(ctx, observability.BusinessEvent{
		EventType:   eventType,
		ServiceName: serviceName,
		EntityType:  entityType,
		EntityID:    entityID,
		ActorID:     actor,
		Action:      eventType,
		Success:     true,
	})
}

func seedAdmin(ctx context.Context, jobs *store.Store, cfg *config.Config) error {
	n, err := jobs.CountManagers(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		slog.Warn("no managers and no admin seed configured; login is impossible")
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	name := cfg.AdminName
	if name == "" {
		name = "admin"
	}
	mgr, err := jobs.CreateManager(ctx, cfg.AdminEmail, name, string(hash))
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	slog.Info("admin manager seeded", "email", mgr.Email, "id", mgr.ID)
	return nil
}

// --- Helpers ---

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
