package http_api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gasless-labs/feepayer/internal/models"
	"github.com/gasless-labs/feepayer/internal/relayer"
	"github.com/gasless-labs/feepayer/pkg/logger"
)

// Response is the envelope of every API response.
type Response struct {
	Message   string      `json:"message"`
	Data      interface{} `json:"data"`
	Error     string      `json:"error,omitempty"`
	Status    bool        `json:"status"`
	RequestID string      `json:"requestId,omitempty"`
}

// RelayRequest represents the JSON body of a fee delegation request
type RelayRequest struct {
	UserSignedTx *struct {
		Raw string `json:"raw"`
	} `json:"userSignedTx"`
}

// SwapRequest represents the JSON body of a gasless swap request
type SwapRequest struct {
	Swap            *models.SwapRequest `json:"swap"`
	PermitSignature string              `json:"permitSignature"`
}

// HealthResponse is the payload of the health endpoint
type HealthResponse struct {
	Network   string `json:"network"`
	Endpoints int    `json:"endpoints"`
	FeePayer  string `json:"feePayer"`
}

// BalanceResponse is the payload of the fee payer balance endpoint
type BalanceResponse struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

var statusByKind = map[relayer.ErrorKind]int{
	relayer.KindInvalidRequest:          http.StatusBadRequest,
	relayer.KindGasPriceTooHigh:         http.StatusBadRequest,
	relayer.KindPermitExpired:           http.StatusBadRequest,
	relayer.KindInvalidCredential:       http.StatusUnauthorized,
	relayer.KindInsufficientBalance:     http.StatusPaymentRequired,
	relayer.KindNotWhitelisted:          http.StatusForbidden,
	relayer.KindDAppInactive:            http.StatusForbidden,
	relayer.KindDAppTerminated:          http.StatusForbidden,
	relayer.KindSwapTokenNotWhitelisted: http.StatusForbidden,
	relayer.KindUnsupportedToken:        http.StatusForbidden,
	relayer.KindNonZeroBalance:          http.StatusForbidden,
	relayer.KindRateLimited:             http.StatusTooManyRequests,
	relayer.KindSubmissionExhausted:     http.StatusBadGateway,
	relayer.KindConfirmationTimeout:     http.StatusGatewayTimeout,
	relayer.KindReverted:                http.StatusOK,
	relayer.KindDAppNotConfigured:       http.StatusInternalServerError,
	relayer.KindSettlementFault:         http.StatusInternalServerError,
	relayer.KindInternal:                http.StatusInternalServerError,
}

// StatusFor maps an error kind to its HTTP status code.
func StatusFor(kind relayer.ErrorKind) int {
	if status, ok := statusByKind[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func (s *HTTPServer) log(c *gin.Context) *logger.Logger {
	return logger.FromContext(c.Request.Context(), s.logger)
}

// pipelineContext keeps request values but outlives a client disconnect, so
// a submitted transaction is always polled and settled.
func pipelineContext(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}

func (s *HTTPServer) ok(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Message:   message,
		Data:      data,
		Status:    true,
		RequestID: c.GetString(requestIDKey),
	})
}

func (s *HTTPServer) fail(c *gin.Context, err error) {
	kind := relayer.KindOf(err)
	resp := Response{
		Message:   "internal error",
		Error:     string(kind),
		RequestID: c.GetString(requestIDKey),
	}
	var re *relayer.RelayError
	if errors.As(err, &re) {
		resp.Message = re.Message
		resp.Data = re.Data
	}

	status := StatusFor(kind)
	if status >= http.StatusInternalServerError {
		s.log(c).Errorw("Request failed", "path", c.FullPath(), "kind", kind, "error", err)
	} else {
		s.log(c).Infow("Request rejected", "path", c.FullPath(), "kind", kind, "error", err)
	}
	c.JSON(status, resp)
}

func (s *HTTPServer) relay(c *gin.Context) {
	var req RelayRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserSignedTx == nil || req.UserSignedTx.Raw == "" {
		s.fail(c, &relayer.RelayError{Kind: relayer.KindInvalidRequest, Message: "userSignedTx.raw is required", Err: err})
		return
	}

	receipt, err := s.relayer.Relay(pipelineContext(c), &models.RelayRequest{
		APIKey: bearerToken(c),
		RawTx:  req.UserSignedTx.Raw,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, "transaction relayed", receipt)
}

func (s *HTTPServer) swap(c *gin.Context) {
	var req SwapRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Swap == nil {
		s.fail(c, &relayer.RelayError{Kind: relayer.KindInvalidRequest, Message: "swap and permitSignature are required", Err: err})
		return
	}
	req.Swap.PermitSignature = req.PermitSignature

	receipt, err := s.relayer.Swap(pipelineContext(c), req.Swap)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, "swap executed", receipt)
}

func (s *HTTPServer) health(c *gin.Context) {
	network := "testnet"
	if s.relayer.IsProduction() {
		network = "mainnet"
	}
	s.ok(c, "ok", HealthResponse{
		Network:   network,
		Endpoints: s.relayer.EndpointCount(),
		FeePayer:  s.relayer.FeePayerAddress(),
	})
}

func (s *HTTPServer) balance(c *gin.Context) {
	balance, err := s.relayer.FeePayerBalance(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, "fee payer balance", BalanceResponse{
		Address: s.relayer.FeePayerAddress(),
		Balance: balance.String(),
	})
}

func (s *HTTPServer) usage(c *gin.Context) {
	usage, err := s.relayer.Usage(c.Request.Context(), bearerToken(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, "dapp usage", usage)
}
