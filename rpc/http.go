package rpc

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"gemfarm/native/farm"
	"gemfarm/observability"
	"gemfarm/state"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeNotFound       = -32004
	codePrecondition   = -32030
)

// Server exposes the farm ledger operations over JSON-RPC 2.0.
type Server struct {
	engine *farm.Engine
	state  *state.Manager
	log    *slog.Logger

	// mu serializes mutating operations: two calls touching the same farmer
	// or track must each refresh from the other's committed state.
	mu        sync.Mutex
	authToken string
	handlers  map[string]handler
}

type handler struct {
	fn       func(params json.RawMessage) (interface{}, error)
	mutating bool
}

// NewServer wires the RPC surface. The write-auth token is read from
// GEMFARM_RPC_TOKEN; when unset, mutating methods are open (dev mode).
func NewServer(engine *farm.Engine, manager *state.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine:    engine,
		state:     manager,
		log:       logger,
		authToken: strings.TrimSpace(os.Getenv("GEMFARM_RPC_TOKEN")),
	}
	s.registerHandlers()
	return s
}

// Start serves the JSON-RPC endpoint until the listener fails.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	s.log.Info("starting JSON-RPC server", slog.String("addr", addr))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv.ListenAndServe()
}

// RPCRequest is a JSON-RPC 2.0 request with a single object parameter.
type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: &RPCError{Code: code, Message: message}}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) authorized(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(s.authToken)) == 1
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, nil, codeInvalidRequest, "POST required")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "unable to read request body")
		return
	}
	if len(body) > maxRequestBytes {
		writeError(w, http.StatusRequestEntityTooLarge, nil, codeInvalidRequest, "request body too large")
		return
	}
	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON request")
		return
	}
	h, ok := s.handlers[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
		return
	}
	if h.mutating && !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, "missing or invalid bearer token")
		return
	}
	var params json.RawMessage
	if len(req.Params) > 0 {
		params = req.Params[0]
	}

	reqID := uuid.NewString()
	start := time.Now()
	if h.mutating {
		s.mu.Lock()
	}
	result, err := h.fn(params)
	if h.mutating {
		s.mu.Unlock()
	}
	observability.Metrics().Observe(req.Method, start, err)

	if err != nil {
		code, status := errorCode(err)
		s.log.Info("rpc call failed",
			slog.String("requestId", reqID),
			slog.String("method", req.Method),
			slog.String("error", err.Error()),
		)
		writeError(w, status, req.ID, code, err.Error())
		return
	}
	s.log.Debug("rpc call",
		slog.String("requestId", reqID),
		slog.String("method", req.Method),
		slog.Duration("took", time.Since(start)),
	)
	writeResult(w, req.ID, result)
}

func errorCode(err error) (int, int) {
	switch {
	case errors.Is(err, farm.ErrUnauthorized):
		return codeUnauthorized, http.StatusForbidden
	case errors.Is(err, farm.ErrVaultLocked),
		errors.Is(err, farm.ErrNothingStaked),
		errors.Is(err, farm.ErrRewardLocked),
		errors.Is(err, farm.ErrFundingMismatch),
		errors.Is(err, farm.ErrWindowExpired),
		errors.Is(err, farm.ErrInsufficientGems),
		errors.Is(err, farm.ErrFarmExists),
		errors.Is(err, farm.ErrFarmerExists):
		return codePrecondition, http.StatusConflict
	case errors.Is(err, farm.ErrInsufficientPotBalance):
		return codeServerError, http.StatusInternalServerError
	case errors.Is(err, errNotFound),
		errors.Is(err, farm.ErrFarmNotFound),
		errors.Is(err, farm.ErrFarmerNotFound),
		errors.Is(err, farm.ErrVaultNotFound):
		return codeNotFound, http.StatusNotFound
	case errors.Is(err, errInvalidParams):
		return codeInvalidParams, http.StatusBadRequest
	default:
		return codeServerError, http.StatusInternalServerError
	}
}
