package status

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"mqttbridge/internal/accessory"
	"mqttbridge/internal/clientmqtt"
	"mqttbridge/internal/logger"
	"github.com/gorilla/mux"
)

// Broker is the part of the connection manager the API reports on.
type Broker interface {
	IsReady() bool
	State() clientmqtt.State
	Stats() clientmqtt.Stats
}

// Accessories is the part of the platform the API exposes.
type Accessories interface {
	Accessories() []accessory.Snapshot
	Accessory(id string) (accessory.Snapshot, error)
	SetOn(id string, on bool) error
	Sync(ctx context.Context) (int, error)
}

// Server serves health, accessory state and control over HTTP.
type Server struct {
	log         logger.Logger
	broker      Broker
	accessories Accessories
	srv         *http.Server
}

type healthResponse struct {
	Status    string `json:"status"`
	MQTT      string `json:"mqtt"`
	Timestamp string `json:"timestamp"`
}

type setOnRequest struct {
	On *bool `json:"on"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewServer конструктор.
func NewServer(log logger.Logger, listen string, broker Broker, accessories Accessories) *Server {
	s := &Server{
		log:         log,
		broker:      broker,
		accessories: accessories,
	}
	s.srv = &http.Server{
		Addr:              listen,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Router returns the HTTP routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.stats).Methods(http.MethodGet)
	r.HandleFunc("/accessories", s.list).Methods(http.MethodGet)
	r.HandleFunc("/accessories/{uuid}", s.get).Methods(http.MethodGet)
	r.HandleFunc("/accessories/{uuid}/on", s.setOn).Methods(http.MethodPut)
	r.HandleFunc("/sync", s.sync).Methods(http.MethodPost)
	return r
}

// Start listens in the background until Stop.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.srv.BaseContext = func(net.Listener) context.Context { return ctx }

	s.log.With(logger.Fields{"module": "status"}).Infof("status API listening on %s", ln.Addr())
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.With(logger.Fields{"module": "status"}).Errorf("status API stopped: %v", err)
		}
	}()
	return nil
}

// Stop the Server.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		MQTT:      s.broker.State().String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if !s.broker.IsReady() {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, resp)
}

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.broker.Stats())
}

func (s *Server) list(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.accessories.Accessories())
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	snap, err := s.accessories.Accessory(mux.Vars(r)["uuid"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) setOn(w http.ResponseWriter, r *http.Request) {
	var req setOnRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1024)).Decode(&req); err != nil || req.On == nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: `body must be {"on": true|false}`})
		return
	}
	if err := s.accessories.SetOn(mux.Vars(r)["uuid"], *req.On); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) sync(w http.ResponseWriter, r *http.Request) {
	n, err := s.accessories.Sync(r.Context())
	if err != nil {
		s.log.With(logger.Fields{"module": "status"}).Errorf("sync: %v", err)
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"accessories": n})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, accessory.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, clientmqtt.ErrNotConnected), errors.Is(err, clientmqtt.ErrQueueFull):
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, errorResponse{Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.With(logger.Fields{"module": "status"}).Errorf("failed to encode response: %v", err)
	}
}
