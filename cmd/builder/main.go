package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/vyvo/worldsmith/pkg/auth"
	"github.com/vyvo/worldsmith/pkg/command"
	"github.com/vyvo/worldsmith/pkg/config"
	"github.com/vyvo/worldsmith/pkg/engine"
	"github.com/vyvo/worldsmith/pkg/ledger"
	"github.com/vyvo/worldsmith/pkg/orchestrator"
	"github.com/vyvo/worldsmith/pkg/plan"
	"github.com/vyvo/worldsmith/pkg/planner"
	"github.com/vyvo/worldsmith/pkg/queue"
	"github.com/vyvo/worldsmith/pkg/sink"
	"github.com/vyvo/worldsmith/pkg/telemetry"
)

type server struct {
	service *orchestrator.Service
}

func main() {
	cfg, err := config.LoadBuilder()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer := telemetry.InitTracer(ctx, "worldsmith-builder")
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Printf("tracer shutdown error: %v", err)
		}
	}()

	memStore := plan.NewMemStore()
	var records orchestrator.RecordStore = memStore
	if dsn := strings.TrimSpace(cfg.DatabaseURL); dsn != "" {
		pg, err := plan.NewPostgresStore(dsn)
		if err != nil {
			log.Fatalf("postgres init failed: %v", err)
		}
		defer func() {
			if err := pg.Close(); err != nil {
				log.Printf("postgres close error: %v", err)
			}
		}()
		records = plan.NewMirror(memStore, pg)
	}

	var led ledger.Ledger
	var notifier orchestrator.Notifier
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr, Password: cfg.RedisPassword})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Fatalf("redis ping failed: %v", err)
		}
		led = ledger.NewRedisLedger(client, "")
		notifier = queue.NewNotifier(queue.NewQueueWithClient(client))
	} else {
		log.Printf("no redis configured, using in-process ledger")
		led = ledger.NewMemLedger()
	}

	prices := planner.DefaultPrices()
	if path := strings.TrimSpace(cfg.PricesFile); path != "" {
		prices, err = planner.LoadPrices(path)
		if err != nil {
			log.Fatalf("price table load failed: %v", err)
		}
	}
	pl := planner.NewClient(planner.ClientConfig{
		BaseURL:    cfg.PlannerBaseURL,
		APIKey:     cfg.PlannerAPIKey,
		Model:      cfg.PlannerModel,
		Timeout:    cfg.PlannerTimeout(),
		MaxRetries: cfg.PlannerMaxRetries,
	}, prices)

	var snk sink.Sink = sink.LogSink{}
	if host := strings.TrimSpace(cfg.SSHHost); host != "" {
		sshSink, err := sink.DialSSH(sink.SSHConfig{
			Host:            host,
			Port:            cfg.SSHPort,
			Username:        cfg.SSHUsername,
			Password:        cfg.SSHPassword,
			PrivateKey:      cfg.SSHPrivateKey,
			ConsoleTemplate: cfg.SSHConsoleTemplate,
			FunctionDir:     cfg.SSHFunctionDir,
		})
		if err != nil {
			log.Fatalf("ssh sink init failed: %v", err)
		}
		defer sshSink.Close()
		snk = sshSink
	} else {
		log.Printf("no ssh host configured, commands go to the process log")
	}

	service := orchestrator.New(orchestrator.Config{
		MinExtent:    cfg.MinExtent,
		MaxExtent:    cfg.MaxExtent,
		CommandDelay: cfg.CommandDelay(),
	}, records, led, pl, snk, notifier)

	go func() {
		if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("orchestrator stopped: %v", err)
		}
	}()

	srv := &server{service: service}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", srv.handleHealthz)

	r.Route("/api", func(r chi.Router) {
		r.Use(auth.RequireKey(cfg.APIKey))

		r.Post("/builds", srv.handleCreateRequest)
		r.Get("/builds", srv.handleListRecords)
		r.Get("/builds/pending", srv.handleListPending)
		r.Post("/builds/cancel", srv.handleCancel)
		r.Route("/builds/{recordID}", func(r chi.Router) {
			r.Get("/", srv.handleGetRecord)
			r.Post("/confirm", srv.handleConfirmRecord)
			r.Get("/events", srv.handleListEvents)
			r.Get("/progress", srv.handleStreamProgress)
		})
		r.Route("/requests/{requestID}", func(r chi.Router) {
			r.Get("/", srv.handleGetRequest)
			r.Post("/confirm", srv.handleConfirm)
			r.Post("/save", srv.handleSaveDesign)
		})
		r.Get("/planner/healthz", srv.handlePlannerHealthz)
	})

	httpSrv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown error: %v", err)
		}
	}()

	log.Printf("build service listening on %s", cfg.ListenAddr)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("build service failed: %v", err)
	}
}

type createRequestPayload struct {
	Requester    string         `json:"requester"`
	RequesterUID string         `json:"requester_uid"`
	Origin       command.Point3 `json:"origin"`
	Dimension    string         `json:"dimension"`
	Extent       int            `json:"extent"`
	Requirements string         `json:"requirements"`
}

func (s *server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var payload createRequestPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if payload.Requester == "" || payload.Requirements == "" {
		respondError(w, http.StatusBadRequest, "requester and requirements are required")
		return
	}

	req, err := s.service.BeginGeneration(r.Context(), payload.Requester, payload.RequesterUID, payload.Origin, payload.Dimension, payload.Extent, payload.Requirements)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, map[string]any{"request": req}, http.StatusAccepted)
}

func (s *server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "requestID")
	if !ok {
		return
	}
	req, blueprint, err := s.service.Request(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	body := map[string]any{"request": req, "ready": blueprint != nil}
	if blueprint != nil {
		body["blueprint"] = blueprint
	}
	respondJSON(w, body, http.StatusOK)
}

func (s *server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "requestID")
	if !ok {
		return
	}
	record, err := s.service.Confirm(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, map[string]any{"record": record}, http.StatusCreated)
}

func (s *server) handleSaveDesign(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "requestID")
	if !ok {
		return
	}
	record, err := s.service.SaveDesign(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, map[string]any{"record": record}, http.StatusCreated)
}

func (s *server) handleConfirmRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "recordID")
	if !ok {
		return
	}
	record, err := s.service.ConfirmRecord(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, map[string]any{"record": record}, http.StatusCreated)
}

func (s *server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "recordID")
	if !ok {
		return
	}
	record, err := s.service.Record(id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, map[string]any{"record": record}, http.StatusOK)
}

func (s *server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	requester := strings.TrimSpace(r.URL.Query().Get("requester"))
	respondJSON(w, map[string]any{"records": s.service.Records(requester)}, http.StatusOK)
}

func (s *server) handleListPending(w http.ResponseWriter, r *http.Request) {
	requester := strings.TrimSpace(r.URL.Query().Get("requester"))
	if requester == "" {
		respondError(w, http.StatusBadRequest, "requester query parameter is required")
		return
	}
	respondJSON(w, map[string]any{"records": s.service.PendingRecords(requester)}, http.StatusOK)
}

func (s *server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "recordID")
	if !ok {
		return
	}
	events, err := s.service.RecordEvents(id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, map[string]any{"events": events}, http.StatusOK)
}

func (s *server) handleStreamProgress(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "recordID")
	if !ok {
		return
	}
	ch, err := s.service.WatchRecord(id)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")

	flusher, flushable := w.(http.Flusher)
	if !flushable {
		respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	done := r.Context().Done()

	for {
		select {
		case <-done:
			return
		case event, open := <-ch:
			if !open {
				fmt.Fprintf(w, "data: %s\n\n", "[stream closed]")
				flusher.Flush()
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

func (s *server) handleCancel(w http.ResponseWriter, r *http.Request) {
	running, err := s.service.Cancel(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, map[string]any{"was_running": running}, http.StatusAccepted)
}

func (s *server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, map[string]any{"status": "ok", "building": s.service.Building()}, http.StatusOK)
}

func (s *server) handlePlannerHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if err := s.service.PlannerHealthy(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func parseID(w http.ResponseWriter, r *http.Request, param string) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, param), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrInvalidExtent):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, orchestrator.ErrRequestExpired):
		respondError(w, http.StatusGone, err.Error())
	case errors.Is(err, orchestrator.ErrPlanNotReady):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, orchestrator.ErrRecordNotPending):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrBusy):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrMissingOrigin):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds):
		respondError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, orchestrator.ErrDebitFailed):
		respondError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, plan.ErrRecordNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func respondJSON(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, map[string]string{"error": message}, status)
}
