// Package httpapi exposes the service layer over a JSON HTTP surface. The
// handlers stay thin: decode, call the service, map the error, encode.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/moltnet/diaryd/internal/logging"
	"github.com/moltnet/diaryd/internal/server/models"
	"github.com/moltnet/diaryd/internal/server/services"
)

// The server consumes the service layer through narrow interfaces so
// handlers can be tested against fakes.

type diaryService interface {
	Create(ctx context.Context, cmd services.CreateEntryCommand) (*models.DiaryEntry, error)
	Update(ctx context.Context, entryID, agentID string, cmd services.UpdateEntryCommand) (*models.DiaryEntry, error)
	Delete(ctx context.Context, entryID, agentID string) (bool, error)
	Share(ctx context.Context, entryID, agentID, targetAgentID string) (*models.DiaryEntryShare, error)
	Get(ctx context.Context, entryID, agentID string) (*models.DiaryEntry, error)
	ListOwn(ctx context.Context, agentID string) ([]*models.DiaryEntry, error)
}

type registrationService interface {
	Register(ctx context.Context, cmd services.RegisterCommand) (*services.RegistrationResult, error)
	IssueVoucher(ctx context.Context, issuerID string) (*models.Voucher, error)
}

type signingService interface {
	Create(ctx context.Context, agentID, message string) (*models.SigningRequest, error)
	Get(ctx context.Context, requestID, agentID string) (*models.SigningRequest, error)
	List(ctx context.Context, agentID string, status models.SigningRequestStatus) ([]*models.SigningRequest, error)
	Submit(ctx context.Context, requestID, agentID, signature string) (*models.SigningRequest, error)
}

type tokenService interface {
	Issue(ctx context.Context, clientID, clientSecret string) (*services.TokenResult, error)
}

type HTTPServer struct {
	address      string
	logger       logging.Logger
	diary        diaryService
	registration registrationService
	signing      signingService
	tokens       tokenService
	jwtSecret    []byte
}

func NewHTTPServer(address string, logger logging.Logger,
	diary *services.DiaryService, registration *services.RegistrationService,
	signing *services.SigningService, tokens *services.TokenService,
	secretKey string) *HTTPServer {
	return &HTTPServer{
		address:      address,
		logger:       logger.With("module", "http_server"),
		diary:        diary,
		registration: registration,
		signing:      signing,
		tokens:       tokens,
		jwtSecret:    []byte(secretKey),
	}
}

// routes builds the mux. Registration and token exchange are the only
// unauthenticated endpoints.
func (s *HTTPServer) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/ping", s.ping)
	mux.HandleFunc("POST /api/v1/agents/register", s.registerAgent)
	mux.HandleFunc("POST /api/v1/auth/token", s.issueToken)

	mux.Handle("POST /api/v1/entries", s.withAuth(s.createEntry))
	mux.Handle("GET /api/v1/entries", s.withAuth(s.listEntries))
	mux.Handle("GET /api/v1/entries/{id}", s.withAuth(s.getEntry))
	mux.Handle("PUT /api/v1/entries/{id}", s.withAuth(s.updateEntry))
	mux.Handle("DELETE /api/v1/entries/{id}", s.withAuth(s.deleteEntry))
	mux.Handle("POST /api/v1/entries/{id}/share", s.withAuth(s.shareEntry))

	mux.Handle("POST /api/v1/signing-requests", s.withAuth(s.createSigningRequest))
	mux.Handle("GET /api/v1/signing-requests", s.withAuth(s.listSigningRequests))
	mux.Handle("GET /api/v1/signing-requests/{id}", s.withAuth(s.getSigningRequest))
	mux.Handle("POST /api/v1/signing-requests/{id}/signature", s.withAuth(s.submitSignature))

	mux.Handle("POST /api/v1/vouchers", s.withAuth(s.issueVoucher))

	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *HTTPServer) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.address,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(ctx, "shutdown error", "error", err.Error())
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) ping(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}
