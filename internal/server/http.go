package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"GridLedger/internal/bridge"
	"GridLedger/internal/core"
	"GridLedger/internal/event"
	"GridLedger/internal/ingestion"
	"GridLedger/internal/observability"
	"GridLedger/internal/query"
	"GridLedger/internal/state"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const submitTimeout = 10 * time.Second

// Server is the HTTP/JSON surface: the member-facing boundary, the admin
// boundary and the settlement-bridge boundary. Mutating requests are
// submitted to the core loop and answered synchronously with the core's
// verdict; live reads come straight from the core, historical reads from
// the query service.
type Server struct {
	core        *core.Core
	submissions chan<- ingestion.Submission
	queries     *query.QueryService
	auth        *Authenticator
	converter   *bridge.Converter
	metrics     *observability.Metrics
	logger      zerolog.Logger
}

func New(
	c *core.Core,
	submissions chan<- ingestion.Submission,
	queries *query.QueryService,
	auth *Authenticator,
	converter *bridge.Converter,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Server {
	return &Server{
		core:        c,
		submissions: submissions,
		queries:     queries,
		auth:        auth,
		converter:   converter,
		metrics:     metrics,
		logger:      logger,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Member-facing boundary
	mux.HandleFunc("POST /v1/distribute", s.instrument("/v1/distribute", s.handleDistribute))
	mux.HandleFunc("POST /v1/consume", s.instrument("/v1/consume", s.handleConsume))

	// Read-only getters (live state from the core)
	mux.HandleFunc("GET /v1/balances/aggregates", s.instrument("/v1/balances/aggregates", s.handleAggregates))
	mux.HandleFunc("GET /v1/balances/{addr}", s.instrument("/v1/balances/{addr}", s.handleBalance))
	mux.HandleFunc("GET /v1/battery", s.instrument("/v1/battery", s.handleBattery))
	mux.HandleFunc("GET /v1/pool", s.instrument("/v1/pool", s.handlePool))
	mux.HandleFunc("GET /v1/members", s.instrument("/v1/members", s.handleMembers))
	mux.HandleFunc("GET /v1/verify", s.instrument("/v1/verify", s.handleVerify))

	// Historical reads (projections / event log)
	mux.HandleFunc("GET /v1/history/transfers", s.instrument("/v1/history/transfers", s.handleTransferHistory))
	mux.HandleFunc("GET /v1/history/events", s.instrument("/v1/history/events", s.handleEventLog))

	// Admin boundary
	mux.HandleFunc("POST /v1/admin/members", s.admin("/v1/admin/members", s.handleAddMember))
	mux.HandleFunc("POST /v1/admin/members/remove", s.admin("/v1/admin/members/remove", s.handleRemoveMember))
	mux.HandleFunc("POST /v1/admin/battery", s.admin("/v1/admin/battery", s.handleConfigureBattery))
	mux.HandleFunc("POST /v1/admin/community-device", s.admin("/v1/admin/community-device", s.handleSetCommunityDevice))
	mux.HandleFunc("POST /v1/admin/export-device", s.admin("/v1/admin/export-device", s.handleSetExportDevice))
	mux.HandleFunc("POST /v1/admin/export-price", s.admin("/v1/admin/export-price", s.handleSetExportPrice))
	mux.HandleFunc("POST /v1/admin/reset", s.admin("/v1/admin/reset", s.handleEmergencyReset))
	mux.HandleFunc("GET /v1/admin/integrity", s.admin("/v1/admin/integrity", s.handleIntegrity))

	// Settlement bridge boundary
	mux.HandleFunc("POST /v1/bridge/settle", s.instrument("/v1/bridge/settle",
		s.auth.RequireRole(RoleBridge, s.handleSettle)))

	return mux
}

func (s *Server) admin(route string, h http.HandlerFunc) http.HandlerFunc {
	return s.instrument(route, s.auth.RequireRole(RoleAdmin, h))
}

// submit hands an event to the core loop and waits for its verdict.
func (s *Server) submit(evt event.Event) error {
	reply := make(chan error, 1)
	select {
	case s.submissions <- ingestion.Submission{Event: evt, Reply: reply}:
	case <-time.After(submitTimeout):
		return fmt.Errorf("core busy: submission timed out")
	}
	select {
	case err := <-reply:
		return err
	case <-time.After(submitTimeout):
		return fmt.Errorf("core busy: no verdict within %s", submitTimeout)
	}
}

// --- Member-facing handlers ---

type distributeRequest struct {
	DistributionID string `json:"distribution_id"`
	Sources        []struct {
		SourceID uint64 `json:"source_id"`
		Price    int64  `json:"price"`
		Quantity int64  `json:"quantity"`
		IsImport bool   `json:"is_import"`
	} `json:"sources"`
	NewBatteryState int64 `json:"new_battery_state"`
}

func (s *Server) handleDistribute(w http.ResponseWriter, r *http.Request) {
	var req distributeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	id, err := parseOrNewUUID(req.DistributionID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "distribution_id: "+err.Error())
		return
	}

	evt := &event.EnergyDistributed{
		DistributionID:  id,
		NewBatteryState: req.NewBatteryState,
		Sequence:        event.SourceSequenceNone,
		Timestamp:       time.Now().UTC(),
	}
	for _, src := range req.Sources {
		evt.Sources = append(evt.Sources, event.SourceInput{
			SourceID: src.SourceID,
			Price:    src.Price,
			Quantity: src.Quantity,
			IsImport: src.IsImport,
		})
	}

	if err := s.submit(evt); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"distribution_id": id.String(),
		"pool_quantity":   s.core.TotalUnconsumedEnergy(),
		"battery":         s.core.BatteryInfo(),
	})
}

type consumeRequest struct {
	ConsumptionID string `json:"consumption_id"`
	Requests      []struct {
		DeviceID uint64 `json:"device_id"`
		Quantity int64  `json:"quantity"`
	} `json:"requests"`
}

func (s *Server) handleConsume(w http.ResponseWriter, r *http.Request) {
	var req consumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	id, err := parseOrNewUUID(req.ConsumptionID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "consumption_id: "+err.Error())
		return
	}

	evt := &event.EnergyConsumed{
		ConsumptionID: id,
		Sequence:      event.SourceSequenceNone,
		Timestamp:     time.Now().UTC(),
	}
	for _, cr := range req.Requests {
		evt.Requests = append(evt.Requests, event.ConsumptionRequest{
			DeviceID: cr.DeviceID,
			Quantity: cr.Quantity,
		})
	}

	if err := s.submit(evt); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"consumption_id": id.String(),
		"pool_quantity":  s.core.TotalUnconsumedEnergy(),
	})
}

// --- Read handlers ---

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := uuid.Parse(r.PathValue("addr"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	cash := s.core.CashCreditBalance(addr)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"addr":          addr.String(),
		"cash_balance":  cash,
		"token_balance": s.core.TokenBalance(addr),
		"debt_external": s.converter.DebtInExternalUnits(cash),
	})
}

func (s *Server) handleAggregates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int64{
		"export":  s.core.ExportCashCreditBalance(),
		"import":  s.core.ImportCashCreditBalance(),
		"settled": s.core.SettledBalance(),
	})
}

func (s *Server) handleBattery(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.core.BatteryInfo())
}

func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	snap := s.core.PoolContents()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_quantity":         s.core.TotalUnconsumedEnergy(),
		"collective_consumption": s.core.CollectiveConsumption(),
		"batches":                snap.Batches,
	})
}

func (s *Server) handleMembers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.core.Members())
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	ok, residual := s.core.VerifyZeroSum()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"zero_sum": ok,
		"residual": residual,
	})
}

func (s *Server) handleTransferHistory(w http.ResponseWriter, r *http.Request) {
	account := r.URL.Query().Get("account")
	if account == "" {
		writeError(w, http.StatusBadRequest, "account is required")
		return
	}
	limit := queryInt(r, "limit", 100)
	after := queryOptionalInt64(r, "after")

	entries, err := s.queries.GetTransferHistory(r.Context(), account, limit, after)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleEventLog(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	after := queryOptionalInt64(r, "after")

	entries, err := s.queries.GetEventLog(r.Context(), limit, after)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := s.queries.VerifyIntegrity(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// --- Admin handlers ---

type addMemberRequest struct {
	Addr         string   `json:"addr"`
	DeviceIDs    []uint64 `json:"device_ids"`
	OwnershipBps int64    `json:"ownership_bps"`
}

func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	var req addMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	addr, err := uuid.Parse(req.Addr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "addr: "+err.Error())
		return
	}

	evt := &event.MemberAdded{
		RequestID:    uuid.New(),
		MemberAddr:   addr,
		DeviceIDs:    req.DeviceIDs,
		OwnershipBps: req.OwnershipBps,
		Sequence:     event.SourceSequenceNone,
		Timestamp:    time.Now().UTC(),
	}
	if err := s.submit(evt); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"addr": addr.String()})
}

func (s *Server) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Addr string `json:"addr"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	addr, err := uuid.Parse(req.Addr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "addr: "+err.Error())
		return
	}

	evt := &event.MemberRemoved{
		RequestID:  uuid.New(),
		MemberAddr: addr,
		Sequence:   event.SourceSequenceNone,
		Timestamp:  time.Now().UTC(),
	}
	if err := s.submit(evt); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"addr": addr.String()})
}

func (s *Server) handleConfigureBattery(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Price       int64 `json:"price"`
		MaxCapacity int64 `json:"max_capacity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}

	evt := &event.BatteryConfigured{
		RequestID:   uuid.New(),
		Price:       req.Price,
		MaxCapacity: req.MaxCapacity,
		Sequence:    event.SourceSequenceNone,
		Timestamp:   time.Now().UTC(),
	}
	if err := s.submit(evt); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.core.BatteryInfo())
}

func (s *Server) handleSetCommunityDevice(w http.ResponseWriter, r *http.Request) {
	s.handleSetDevice(w, r, func(deviceID uint64) event.Event {
		return &event.CommunityDeviceSet{
			RequestID: uuid.New(),
			DeviceID:  deviceID,
			Sequence:  event.SourceSequenceNone,
			Timestamp: time.Now().UTC(),
		}
	})
}

func (s *Server) handleSetExportDevice(w http.ResponseWriter, r *http.Request) {
	s.handleSetDevice(w, r, func(deviceID uint64) event.Event {
		return &event.ExportDeviceSet{
			RequestID: uuid.New(),
			DeviceID:  deviceID,
			Sequence:  event.SourceSequenceNone,
			Timestamp: time.Now().UTC(),
		}
	})
}

func (s *Server) handleSetDevice(w http.ResponseWriter, r *http.Request, build func(uint64) event.Event) {
	var req struct {
		DeviceID uint64 `json:"device_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if err := s.submit(build(req.DeviceID)); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"device_id": req.DeviceID})
}

func (s *Server) handleSetExportPrice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Price int64 `json:"price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}

	evt := &event.ExportPriceSet{
		RequestID: uuid.New(),
		Price:     req.Price,
		Sequence:  event.SourceSequenceNone,
		Timestamp: time.Now().UTC(),
	}
	if err := s.submit(evt); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"price": req.Price})
}

func (s *Server) handleEmergencyReset(w http.ResponseWriter, r *http.Request) {
	evt := &event.EmergencyReset{
		RequestID: uuid.New(),
		Sequence:  event.SourceSequenceNone,
		Timestamp: time.Now().UTC(),
	}
	if err := s.submit(evt); err != nil {
		writeDomainError(w, err)
		return
	}
	s.logger.Warn().Msg("emergency reset executed")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// --- Bridge handler ---

type settleRequest struct {
	SettlementID   string `json:"settlement_id"`
	Debtor         string `json:"debtor"`
	ExternalAmount int64  `json:"external_amount"`
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	var req settleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	id, err := parseOrNewUUID(req.SettlementID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "settlement_id: "+err.Error())
		return
	}
	debtor, err := uuid.Parse(req.Debtor)
	if err != nil {
		writeError(w, http.StatusBadRequest, "debtor: "+err.Error())
		return
	}

	evt := &event.DebtSettled{
		SettlementID:   id,
		Debtor:         debtor,
		ExternalAmount: req.ExternalAmount,
		LedgerCents:    s.converter.ToLedgerCents(req.ExternalAmount),
		Sequence:       event.SourceSequenceNone,
		Timestamp:      time.Now().UTC(),
	}
	if err := s.submit(evt); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"settlement_id":   id.String(),
		"debtor":          debtor.String(),
		"ledger_cents":    evt.LedgerCents,
		"remaining_debt":  s.converter.DebtInExternalUnits(s.core.CashCreditBalance(debtor)),
		"settled_balance": s.core.SettledBalance(),
	})
}

// --- helpers ---

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		if s.metrics != nil {
			s.metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		}
	}
}

// writeDomainError maps core/state errors onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrInsufficientEnergy),
		errors.Is(err, state.ErrInvalidBatteryState),
		errors.Is(err, core.ErrInvalidOwnership),
		errors.Is(err, core.ErrNoDebt),
		errors.Is(err, core.ErrSettlementExceedsDebt),
		errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrNoCommunityAccount):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, state.ErrMemberExists),
		errors.Is(err, state.ErrDeviceAssigned),
		errors.Is(err, state.ErrAlreadyConfigured):
		status = http.StatusConflict
	case errors.Is(err, state.ErrUnknownMember),
		errors.Is(err, state.ErrUnknownDevice):
		status = http.StatusNotFound
	case errors.Is(err, state.ErrNilAddress),
		errors.Is(err, state.ErrInvalidShare),
		errors.Is(err, state.ErrOwnershipExceeded):
		status = http.StatusBadRequest
	case errors.Is(err, core.ErrNotAuthorized):
		status = http.StatusForbidden
	}
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func parseOrNewUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.New(), nil
	}
	return uuid.Parse(s)
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func queryOptionalInt64(r *http.Request, key string) *int64 {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return &n
		}
	}
	return nil
}
