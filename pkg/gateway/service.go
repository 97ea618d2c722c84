package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-co-op/gocron/v2"
	"golang.org/x/sync/errgroup"

	"linklog/pkg/bus"
	"linklog/pkg/channel"
	"linklog/pkg/config"
	"linklog/pkg/dispatch"
	"linklog/pkg/logger"
	"linklog/pkg/metrics"
	"linklog/pkg/registry"
)

const (
	recentActivityLimit = 20
	shutdownTimeout     = 5 * time.Second
)

// Store is the url log as the gateway uses it.
type Store interface {
	dispatch.URLStore
	Ping(ctx context.Context) error
}

type Service struct {
	cfg      *config.Config
	registry *registry.Registry
	store    Store
	adapters []channel.Adapter
	metrics  *metrics.Metrics
	hub      *bus.Hub
	log      *slog.Logger

	mu            sync.RWMutex
	startedAt     time.Time
	storeLastOKAt time.Time
	storeLastErr  string
	channelStates map[string]channelState
	recent        []bus.Event
}

type channelState struct {
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

type statusResponse struct {
	Status        string                  `json:"status"`
	UptimeSeconds int64                   `json:"uptime_seconds"`
	StoreLastOKAt string                  `json:"store_last_ok_at,omitempty"`
	StoreLastErr  string                  `json:"store_last_error,omitempty"`
	Channels      map[string]channelState `json:"channels"`
	Recent        []bus.Event             `json:"recent,omitempty"`
}

func NewService(cfg *config.Config, reg *registry.Registry, st Store, adapters []channel.Adapter, m *metrics.Metrics, log *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if reg == nil {
		return nil, errors.New("registry is required")
	}
	if st == nil {
		return nil, errors.New("url store is required")
	}

	channelStates := make(map[string]channelState, len(adapters))
	for _, adapter := range adapters {
		if _, dup := channelStates[adapter.Name()]; dup {
			return nil, fmt.Errorf("duplicate workspace adapter %q", adapter.Name())
		}
		channelStates[adapter.Name()] = channelState{}
	}

	return &Service{
		cfg:           cfg,
		registry:      reg,
		store:         st,
		adapters:      adapters,
		metrics:       m,
		hub:           bus.NewHub(),
		log:           logger.Component(log, "gateway.service"),
		channelStates: channelStates,
	}, nil
}

// Hub returns the activity hub observers can subscribe to.
func (s *Service) Hub() *bus.Hub {
	return s.hub
}

// Run starts one supervisor per workspace and the single processor, and
// returns once every supervisor has ended and the queue is drained. A
// failing workspace never stops its siblings. Cancelling ctx closes every
// connection; messages already queued are still logged.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.hub.Close()

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	if err := s.checkStoreHealth(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	scheduler, err := s.startHealthJob(runCtx)
	if err != nil {
		return err
	}
	defer func() {
		if err := scheduler.Shutdown(); err != nil {
			s.log.Warn("Failed to stop scheduler", "error", err)
		}
	}()

	activity, unsubscribe := s.hub.Subscribe(runCtx, 0)
	go s.trackActivity(activity, unsubscribe)

	var serverErr error
	serverDone := make(chan struct{})
	if s.cfg.Status.Enabled {
		serverErrors := make(chan error, 1)
		go s.runStatusServer(runCtx, serverErrors)
		go func() {
			defer close(serverDone)
			select {
			case err := <-serverErrors:
				serverErr = err
				cancel()
			case <-runCtx.Done():
			}
		}()
	} else {
		close(serverDone)
	}

	queue, root := bus.NewQueue[dispatch.Envelope]()

	processor, err := dispatch.NewProcessor(s.store, s.metrics, s.hub, s.log, dispatch.Options{
		InsertTimeout: s.cfg.Store.InsertTimeout,
	})
	if err != nil {
		root.Release()
		return err
	}

	processed := make(chan struct{})
	go func() {
		defer close(processed)
		// Detached so a shutdown still drains what the supervisors queued.
		_ = processor.Run(context.WithoutCancel(runCtx), queue)
	}()

	group, groupCtx := errgroup.WithContext(runCtx)
	for _, adapter := range s.adapters {
		producer, err := root.Clone()
		if err != nil {
			s.log.Error("Failed to create queue producer", "workspace", adapter.Name(), "error", err)
			continue
		}

		group.Go(func() error {
			defer producer.Release()
			s.supervise(groupCtx, adapter, producer)
			return nil
		})
	}
	root.Release()

	s.log.Info("Gateway running", "workspaces", len(s.adapters))
	_ = group.Wait()
	<-processed

	cancel()
	<-serverDone

	s.log.Info("Gateway stopped")
	return serverErr
}

func (s *Service) supervise(ctx context.Context, adapter channel.Adapter, producer *bus.Producer[dispatch.Envelope]) {
	name := adapter.Name()
	log := s.log.With("workspace", name)

	s.setChannelState(name, channelState{Running: true})
	s.metrics.WorkspaceUp()
	s.hub.Publish(bus.Event{Type: bus.EventWorkspaceUp, Workspace: name})

	err := adapter.Run(ctx, func(_ context.Context, msg bus.InboundMessage) error {
		return producer.Send(dispatch.Envelope{Registry: s.registry, Message: msg})
	})

	s.setChannelState(name, channelState{Running: false, Error: errorString(err)})
	s.metrics.WorkspaceDown()
	s.hub.Publish(bus.Event{Type: bus.EventWorkspaceDown, Workspace: name, Error: errorString(err)})

	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Workspace connection ended", "error", err)
		return
	}
	log.Info("Workspace connection closed")
}

func (s *Service) startHealthJob(ctx context.Context) (gocron.Scheduler, error) {
	interval := s.cfg.Store.HealthInterval
	if interval <= 0 {
		interval = config.DefaultHealthInterval
	}

	scheduler, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
		gocron.WithLogger(logger.Component(s.log, "gateway.scheduler")),
	)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if err := s.checkStoreHealth(ctx); err != nil {
				s.log.Warn("URL log health check failed", "error", err)
			}
		}),
		gocron.WithName("store-health"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = scheduler.Shutdown()
		return nil, fmt.Errorf("schedule store health job: %w", err)
	}

	scheduler.Start()
	return scheduler, nil
}

func (s *Service) trackActivity(events <-chan bus.Event, unsubscribe func()) {
	defer unsubscribe()

	for evt := range events {
		if evt.Type != bus.EventURLLogged && evt.Type != bus.EventInsertFailed {
			continue
		}
		s.mu.Lock()
		s.recent = append(s.recent, evt)
		if len(s.recent) > recentActivityLimit {
			s.recent = s.recent[len(s.recent)-recentActivityLimit:]
		}
		s.mu.Unlock()
	}
}

func (s *Service) statusAddr() string {
	host := strings.TrimSpace(s.cfg.Status.Host)
	if host == "" {
		host = config.DefaultStatusHost
	}

	port := s.cfg.Status.Port
	if port <= 0 {
		port = config.DefaultStatusPort
	}

	return host + ":" + strconv.Itoa(port)
}

func (s *Service) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/status", s.handleStatus)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	return r
}

func (s *Service) runStatusServer(ctx context.Context, errCh chan<- error) {
	addr := s.statusAddr()
	server := &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("Status server started", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("start status server: %w", err)
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondStatus(w, http.StatusOK, "ok")
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !s.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	s.respondStatus(w, statusCode, status)
}

func (s *Service) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status := "ready"
	if !s.isReady() {
		status = "not_ready"
	}
	s.respondStatus(w, http.StatusOK, status)
}

func (s *Service) respondStatus(w http.ResponseWriter, statusCode int, status string) {
	payload := s.currentStatus(status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write status response", "error", err)
	}
}

func (s *Service) currentStatus(status string) statusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}

	channels := make(map[string]channelState, len(s.channelStates))
	for name, state := range s.channelStates {
		channels[name] = state
	}

	storeLastOK := ""
	if !s.storeLastOKAt.IsZero() {
		storeLastOK = s.storeLastOKAt.Format(time.RFC3339)
	}

	return statusResponse{
		Status:        status,
		UptimeSeconds: uptime,
		StoreLastOKAt: storeLastOK,
		StoreLastErr:  s.storeLastErr,
		Channels:      channels,
		Recent:        append([]bus.Event(nil), s.recent...),
	}
}

// isReady reports a healthy url log and, when workspaces are configured, at
// least one served connection.
func (s *Service) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.storeLastOKAt.IsZero() || s.storeLastErr != "" {
		return false
	}

	if len(s.channelStates) == 0 {
		return true
	}

	for _, state := range s.channelStates {
		if state.Running {
			return true
		}
	}
	return false
}

func (s *Service) checkStoreHealth(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		s.mu.Lock()
		s.storeLastErr = err.Error()
		s.mu.Unlock()
		return fmt.Errorf("url log health check failed: %w", err)
	}

	s.mu.Lock()
	s.storeLastErr = ""
	s.storeLastOKAt = time.Now().UTC()
	s.mu.Unlock()

	return nil
}

func (s *Service) setChannelState(name string, state channelState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channelStates[name] = state
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
