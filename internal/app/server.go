package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"studentportal/backend/internal/metrics"
	"studentportal/backend/internal/model"
	"studentportal/backend/internal/repository"
	"studentportal/backend/internal/service"
)

const serviceName = "backend"

type Server struct {
	cfg      Config
	db       *sqlx.DB
	log      *logrus.Logger
	accounts *service.AccountService
	router   chi.Router
	http     *http.Server
}

type registerRequest struct {
	Username    string `json:"username"`
	RollNumber  string `json:"roll_number"`
	Gender      string `json:"gender"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phone_number"`
	Password    string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type registerResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	UserID  int64  `json:"userId"`
}

type loginResponse struct {
	Success      bool             `json:"success"`
	Message      string           `json:"message"`
	User         model.PublicUser `json:"user"`
	DashboardURL string           `json:"dashboardUrl"`
}

type userResponse struct {
	Success bool              `json:"success"`
	User    model.UserProfile `json:"user"`
}

type studentsResponse struct {
	Success  bool                `json:"success"`
	Students []model.UserProfile `json:"students"`
}

// failureResponse carries message for caller mistakes and error for
// server faults, mirroring what existing clients read.
type failureResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

func NewServer(cfg Config, log *logrus.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := OpenStore(context.Background(), cfg)
	if err != nil {
		return nil, err
	}

	hasher, err := NewPasswordHasher(cfg.BcryptCost, cfg.HashConcurrency)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	repo := repository.NewSQLUserRepository(db, cfg.QueryTimeout)
	s := &Server{
		cfg:      cfg,
		db:       db,
		log:      log,
		accounts: service.NewAccountService(repo, hasher),
	}
	s.registerRoutes()
	s.http = &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if cfg.AdminInitEnabled {
		if err := s.InitFirstAdmin(context.Background(), cfg.AdminInitUsername, cfg.AdminInitPass); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	log.WithFields(logrus.Fields{
		"driver": cfg.DBDriver,
		"port":   cfg.AppPort,
	}).Info("backend initialised")
	return s, nil
}

func (s *Server) Close() error {
	return s.db.Close()
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.http.Addr).Info("backend listening")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("backend shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

func (s *Server) InitFirstAdmin(ctx context.Context, username, password string) error {
	if err := s.accounts.ProvisionAdmin(ctx, username, password); err != nil {
		return err
	}
	s.log.WithField("username", username).Info("administrator account ensured")
	return nil
}

func (s *Server) registerRoutes() {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.HTTPMiddleware(serviceName))

	r.NotFound(s.handleRouteNotFound)
	r.MethodNotAllowed(s.handleRouteNotFound)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Post("/api/register", s.handleRegister)
	r.Post("/api/login", s.handleLogin)
	r.Get("/api/user/{id}", s.handleGetUser)
	r.Get("/api/students", s.handleStudents)

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Service: serviceName})
}

func (s *Server) handleRouteNotFound(w http.ResponseWriter, _ *http.Request) {
	writeFailure(w, http.StatusNotFound, "Route not found. Check the URL and method.")
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		metrics.Registrations.WithLabelValues("invalid_input").Inc()
		writeFailure(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	userID, err := s.accounts.Register(r.Context(), service.RegisterInput{
		Username:    req.Username,
		RollNumber:  req.RollNumber,
		Gender:      req.Gender,
		Email:       req.Email,
		PhoneNumber: req.PhoneNumber,
		Password:    req.Password,
	})
	if err != nil {
		var inputErr *service.InputError
		switch {
		case errors.As(err, &inputErr):
			metrics.Registrations.WithLabelValues("invalid_input").Inc()
			writeFailure(w, http.StatusBadRequest, inputErr.Message)
		case errors.Is(err, service.ErrDuplicateAccount):
			metrics.Registrations.WithLabelValues("duplicate").Inc()
			writeFailure(w, http.StatusConflict, "User already exists (username, email, or roll number).")
		default:
			metrics.Registrations.WithLabelValues("error").Inc()
			s.requestLog(r).WithError(err).Error("registration failed")
			writeServerError(w, "A server error occurred during registration.")
		}
		return
	}

	metrics.Registrations.WithLabelValues("success").Inc()
	s.requestLog(r).WithField("user_id", userID).Info("user registered")
	writeJSON(w, http.StatusCreated, registerResponse{
		Success: true,
		Message: "Registration successful. User created.",
		UserID:  userID,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		metrics.LoginAttempts.WithLabelValues("invalid_input").Inc()
		writeFailure(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	result, err := s.accounts.Authenticate(r.Context(), service.LoginInput{
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		var inputErr *service.InputError
		switch {
		case errors.As(err, &inputErr):
			metrics.LoginAttempts.WithLabelValues("invalid_input").Inc()
			writeFailure(w, http.StatusBadRequest, inputErr.Message)
		case errors.Is(err, service.ErrInvalidCredentials):
			metrics.LoginAttempts.WithLabelValues("invalid_credentials").Inc()
			writeFailure(w, http.StatusUnauthorized, "Invalid credentials")
		default:
			metrics.LoginAttempts.WithLabelValues("error").Inc()
			s.requestLog(r).WithError(err).Error("login failed")
			writeServerError(w, "A server error occurred during login.")
		}
		return
	}

	metrics.LoginAttempts.WithLabelValues("success").Inc()
	writeJSON(w, http.StatusOK, loginResponse{
		Success:      true,
		Message:      "Login successful",
		User:         result.User,
		DashboardURL: result.DashboardURL,
	})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeFailure(w, http.StatusNotFound, "User not found.")
		return
	}

	profile, err := s.accounts.GetUser(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			writeFailure(w, http.StatusNotFound, "User not found.")
			return
		}
		s.requestLog(r).WithError(err).Error("get user failed")
		writeServerError(w, "Failed to retrieve user data.")
		return
	}

	writeJSON(w, http.StatusOK, userResponse{Success: true, User: profile})
}

func (s *Server) handleStudents(w http.ResponseWriter, r *http.Request) {
	students, err := s.accounts.ListUsers(r.Context(), model.RoleStudent)
	if err != nil {
		s.requestLog(r).WithError(err).Error("list students failed")
		writeServerError(w, "Failed to retrieve student list.")
		return
	}

	writeJSON(w, http.StatusOK, studentsResponse{Success: true, Students: students})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.requestLog(r).WithFields(logrus.Fields{
			"status":      ww.Status(),
			"bytes":       ww.BytesWritten(),
			"duration_ms": time.Since(start).Milliseconds(),
		}).Info("request handled")
	})
}

func (s *Server) requestLog(r *http.Request) *logrus.Entry {
	return s.log.WithFields(logrus.Fields{
		"request_id": middleware.GetReqID(r.Context()),
		"method":     r.Method,
		"path":       r.URL.Path,
	})
}

func writeFailure(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, failureResponse{Success: false, Message: message})
}

func writeServerError(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusInternalServerError, failureResponse{Success: false, Error: message})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logrus.WithError(err).Warn("failed to write json response")
	}
}
