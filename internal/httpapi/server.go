package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/letsrewise/creditledger/pkg/credits"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

const contextKeyClaims = "auth_claims"

// ActionFunc executes a registered paid action (document processing, quiz
// generation, ...) on behalf of a user. The ledger only sees success or
// failure plus an opaque result.
type ActionFunc func(ctx context.Context, userID string, payload json.RawMessage) (any, error)

// Server exposes the credit service over HTTP.
type Server struct {
	logger  *zap.Logger
	service *credits.Service
	cfg     Config
	actions map[credits.ActionName]ActionFunc
	metrics *operationMetrics
}

// NewServer wires a Server. actions may be nil when the deployment only
// serves ledger queries and mutations.
func NewServer(cfg Config, service *credits.Service, logger *zap.Logger, actions map[credits.ActionName]ActionFunc) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if service == nil {
		return nil, errors.New("credit service is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		logger:  logger,
		service: service,
		cfg:     cfg,
		actions: actions,
		metrics: newOperationMetrics(),
	}, nil
}

// Run boots the HTTP facade and blocks until ctx is cancelled or the listener
// fails.
func Run(ctx context.Context, cfg Config, service *credits.Service, logger *zap.Logger, actions map[credits.ActionName]ActionFunc) error {
	server, err := NewServer(cfg, service, logger, actions)
	if err != nil {
		return err
	}
	router, err := server.router()
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    server.cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		server.logger.Info("credit api listening", zap.String("addr", server.cfg.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			server.logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// router builds the gin engine from the server's validated configuration, so
// session settings defaulted by Validate reach the validator.
func (server *Server) router() (*gin.Engine, error) {
	validator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(server.cfg.SessionSigningKey),
		Issuer:     server.cfg.SessionIssuer,
		CookieName: server.cfg.SessionCookieName,
	})
	if err != nil {
		return nil, err
	}
	return setupRouter(server, validator), nil
}

func setupRouter(server *Server, validator *sessionvalidator.Validator) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     server.cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(server.metrics.registry, promhttp.HandlerOpts{})))

	api := router.Group("/api")
	api.Use(validator.GinMiddleware(contextKeyClaims))

	api.GET("/credits", server.handleCredits)
	api.POST("/credits/debit", server.handleDebit)
	api.POST("/credits/credit", server.handleCredit)
	api.POST("/credits/grant", server.handleGrant)
	api.POST("/actions/:name", server.handleAction)

	return router
}

type mutationRequest struct {
	Amount         int64          `json:"amount"`
	Type           string         `json:"transaction_type"`
	Description    string         `json:"description"`
	Metadata       map[string]any `json:"metadata"`
	IdempotencyKey string         `json:"idempotency_key"`
}

type actionRequest struct {
	Payload  json.RawMessage `json:"payload"`
	Metadata map[string]any  `json:"metadata"`
}

type transactionPayload struct {
	TransactionID  string          `json:"transaction_id"`
	Amount         int64           `json:"amount"`
	BalanceAfter   int64           `json:"balance_after"`
	Type           string          `json:"transaction_type"`
	Description    string          `json:"description"`
	Metadata       json.RawMessage `json:"metadata"`
	CreatedUnixUTC int64           `json:"created_unix_utc"`
}

// handleCredits mirrors the combined query endpoint of the web app: one route
// answering balance, transaction history, or usage stats depending on the
// action query parameter, defaulting to balance plus recent history.
func (server *Server) handleCredits(ctx *gin.Context) {
	userID, ok := server.sessionUserID(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()

	switch ctx.Query("action") {
	case "balance":
		balance, err := server.service.Balance(requestCtx, userID)
		if err != nil {
			server.respondError(ctx, "balance", err)
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"balance": balance})
	case "transactions":
		limit, err := strconv.Atoi(ctx.DefaultQuery("limit", strconv.Itoa(credits.DefaultHistoryLimit)))
		if err != nil || limit <= 0 {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_limit", "limit must be a positive integer"))
			return
		}
		transactions, err := server.service.ListTransactions(requestCtx, userID, limit)
		if err != nil {
			server.respondError(ctx, "transactions", err)
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"transactions": mapTransactions(transactions)})
	case "stats":
		stats, err := server.service.UsageStats(requestCtx, userID)
		if err != nil {
			server.respondError(ctx, "stats", err)
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"stats": gin.H{
			"total_earned":    stats.TotalEarned,
			"total_spent":     stats.TotalSpent,
			"current_balance": stats.CurrentBalance,
			"by_category":     stats.ByCategory,
		}})
	default:
		balance, err := server.service.Balance(requestCtx, userID)
		if err != nil {
			server.respondError(ctx, "balance", err)
			return
		}
		transactions, err := server.service.ListTransactions(requestCtx, userID, server.cfg.HistoryLimit)
		if err != nil {
			server.respondError(ctx, "transactions", err)
			return
		}
		ctx.JSON(http.StatusOK, gin.H{
			"balance":             balance,
			"recent_transactions": mapTransactions(transactions),
		})
	}
}

func (server *Server) handleDebit(ctx *gin.Context) {
	server.handleMutation(ctx, "debit", server.service.Debit)
}

func (server *Server) handleCredit(ctx *gin.Context) {
	server.handleMutation(ctx, "credit", server.service.Credit)
}

type mutationFunc func(ctx context.Context, userID credits.UserID, amount credits.Amount, transactionType credits.TransactionType, description string, metadata credits.MetadataJSON, options ...credits.MutationOption) (int64, error)

func (server *Server) handleMutation(ctx *gin.Context, operation string, mutate mutationFunc) {
	userID, ok := server.sessionUserID(ctx)
	if !ok {
		return
	}
	var request mutationRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	amount, err := credits.NewAmount(request.Amount)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_amount", "amount must not be negative"))
		return
	}
	transactionType, err := credits.NewTransactionType(request.Type)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_type", "transaction_type is required"))
		return
	}
	metadata, err := credits.MarshalMetadata(request.Metadata)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_metadata", "metadata must be a JSON object"))
		return
	}

	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()

	var options []credits.MutationOption
	if request.IdempotencyKey != "" {
		options = append(options, credits.WithIdempotencyKey(request.IdempotencyKey))
	}
	balance, err := mutate(requestCtx, userID, amount, transactionType, request.Description, metadata, options...)
	server.metrics.observe(operation, err)
	if err != nil {
		if errors.Is(err, credits.ErrInsufficientCredits) {
			server.respondInsufficient(ctx, requestCtx, userID, amount.Int64())
			return
		}
		server.respondError(ctx, operation, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"balance": balance})
}

func (server *Server) handleGrant(ctx *gin.Context) {
	userID, ok := server.sessionUserID(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()

	granted, err := server.service.GrantMonthlyCredits(requestCtx, userID)
	server.metrics.observe("grant_monthly", err)
	if err != nil {
		if errors.Is(err, credits.ErrDuplicateIdempotencyKey) {
			ctx.JSON(http.StatusConflict, errorResponse("already_granted", "monthly credits already granted"))
			return
		}
		server.respondError(ctx, "grant_monthly", err)
		return
	}
	balance, err := server.service.Balance(requestCtx, userID)
	if err != nil {
		server.respondError(ctx, "balance", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"granted": granted.Int64(), "balance": balance})
}

func (server *Server) handleAction(ctx *gin.Context) {
	userID, ok := server.sessionUserID(ctx)
	if !ok {
		return
	}
	action := credits.ActionName(strings.ToUpper(ctx.Param("name")))
	fn, registered := server.actions[action]
	if !registered {
		ctx.JSON(http.StatusNotFound, errorResponse("unknown_action", "no such paid action"))
		return
	}

	var request actionRequest
	if err := ctx.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	metadata, err := credits.MarshalMetadata(request.Metadata)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_metadata", "metadata must be a JSON object"))
		return
	}

	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()

	result, err := server.service.WithCredits(requestCtx, userID, action, func(actionCtx context.Context) (any, error) {
		return fn(actionCtx, userID.String(), request.Payload)
	}, metadata)
	server.metrics.observe("action", err)
	if err != nil {
		switch {
		case errors.Is(err, credits.ErrChargeAfterAction):
			// The action completed but was not billed. Loud and distinct so
			// reconciliation can pick it up; the result is still returned.
			server.logger.Error("action completed without charge", zap.String("user_id", userID.String()), zap.String("action", action.String()), zap.Error(err))
			ctx.JSON(http.StatusInternalServerError, gin.H{
				"error": gin.H{"code": "unbilled_action", "message": "action completed but charging failed"},
				"data":  result.Data,
			})
		case errors.Is(err, credits.ErrInsufficientCredits):
			cost, costErr := server.service.ActionCost(action)
			if costErr != nil {
				server.respondError(ctx, "action", err)
				return
			}
			server.respondInsufficient(ctx, requestCtx, userID, cost.Int64())
		case errors.Is(err, credits.ErrActionFailed):
			ctx.JSON(http.StatusBadGateway, errorResponse("action_failed", "the requested action failed; no credits were charged"))
		default:
			server.respondError(ctx, "action", err)
		}
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"data":    result.Data,
		"balance": result.BalanceAfter,
	})
}

// respondInsufficient surfaces required vs. available amounts so the UI can
// prompt a top-up.
func (server *Server) respondInsufficient(ctx *gin.Context, requestCtx context.Context, userID credits.UserID, required int64) {
	available, err := server.service.Balance(requestCtx, userID)
	if err != nil {
		server.respondError(ctx, "balance", err)
		return
	}
	ctx.JSON(http.StatusPaymentRequired, gin.H{
		"error": gin.H{
			"code":      "insufficient_credits",
			"message":   "Insufficient credits. Need " + strconv.FormatInt(required, 10) + ", have " + strconv.FormatInt(available, 10),
			"required":  required,
			"available": available,
		},
	})
}

func (server *Server) respondError(ctx *gin.Context, operation string, err error) {
	switch {
	case errors.Is(err, credits.ErrDuplicateIdempotencyKey):
		ctx.JSON(http.StatusConflict, errorResponse("duplicate_request", "this request was already processed"))
	case errors.Is(err, credits.ErrUnknownAction):
		ctx.JSON(http.StatusNotFound, errorResponse("unknown_action", "no such paid action"))
	case errors.Is(err, credits.ErrInvalidUserID),
		errors.Is(err, credits.ErrInvalidAmount),
		errors.Is(err, credits.ErrInvalidTransactionType),
		errors.Is(err, credits.ErrInvalidMetadataJSON):
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", err.Error()))
	default:
		// Storage internals stay out of the response body.
		server.logger.Error("credit operation failed", zap.String("operation", operation), zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal_error", "please try again"))
	}
}

func (server *Server) sessionUserID(ctx *gin.Context) (credits.UserID, bool) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return credits.UserID{}, false
	}
	userID, err := credits.NewUserID(claims.GetUserID())
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid session subject"))
		return credits.UserID{}, false
	}
	return userID, true
}

func (server *Server) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), server.cfg.RequestTimeout)
}

func mapTransactions(transactions []credits.Transaction) []transactionPayload {
	payload := make([]transactionPayload, 0, len(transactions))
	for _, transaction := range transactions {
		payload = append(payload, transactionPayload{
			TransactionID:  transaction.TransactionID,
			Amount:         transaction.Amount,
			BalanceAfter:   transaction.BalanceAfter,
			Type:           transaction.Type.String(),
			Description:    transaction.Description,
			Metadata:       json.RawMessage(transaction.MetadataJSON),
			CreatedUnixUTC: transaction.CreatedUnixUTC,
		})
	}
	return payload
}

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get(contextKeyClaims)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
