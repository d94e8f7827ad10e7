package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"
	"github.com/mr-tron/base58"

	"github.com/pledgeworks/pledge/api/handlers/dberror"
	"github.com/pledgeworks/pledge/api/metrics"
	"github.com/pledgeworks/pledge/rewards/pkg/distribution"
	"github.com/pledgeworks/pledge/rewards/pkg/settle"
)

// RewardsConfig holds the dependencies for the rewards handlers.
type RewardsConfig struct {
	Logger  *slog.Logger
	Settler *settle.Settler
	Store   *distribution.Store

	// Backfill bounds passed through to the settler on each request.
	Backfill settle.BackfillConfig
}

func (cfg *RewardsConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Settler == nil {
		return errors.New("settler is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	return nil
}

// Rewards serves the reward distribution endpoints.
type Rewards struct {
	log     *slog.Logger
	settler *settle.Settler
	store   *distribution.Store
	bf      settle.BackfillConfig
}

func NewRewards(cfg RewardsConfig) (*Rewards, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Rewards{
		log:     cfg.Logger,
		settler: cfg.Settler,
		store:   cfg.Store,
		bf:      cfg.Backfill,
	}, nil
}

// BackfillResponse reports how much work a backfill request performed.
type BackfillResponse struct {
	Considered int `json:"considered"`
	Created    int `json:"created"`
	Conflicts  int `json:"conflicts"`
}

// Backfill handles POST /v1/rewards/backfill/{wallet}. It is triggered when a
// holder opens their dashboard: recently voted-on milestones are checked and
// any that are settleable get a distribution created.
func (h *Rewards) Backfill(w http.ResponseWriter, r *http.Request) {
	wallet := chi.URLParam(r, "wallet")
	raw, err := base58.Decode(wallet)
	if err != nil || len(raw) != 32 {
		writeJSONError(w, http.StatusBadRequest, "invalid_wallet", "wallet must be a base58-encoded 32-byte address")
		return
	}

	res, err := h.settler.Backfill(r.Context(), wallet, h.bf)
	if err != nil {
		if r.Context().Err() != nil {
			// Client went away; nothing useful to write.
			return
		}
		h.log.Error("backfill failed", "wallet", wallet, "error", err)
		if dberror.IsTransient(err) {
			writeJSONError(w, http.StatusServiceUnavailable, "unavailable", dberror.UserMessage(err))
			return
		}
		sentry.CaptureException(err)
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "backfill failed")
		return
	}

	if res.Conflicts > 0 {
		// Conflicting terms mean configuration drift; the stored row is
		// left untouched and a human needs to look.
		h.log.Error("backfill found conflicting distribution terms", "wallet", wallet, "conflicts", res.Conflicts)
		sentry.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("wallet", wallet)
			scope.SetExtra("conflicts", res.Conflicts)
			sentry.CaptureMessage("reward distribution terms conflict detected during backfill")
		})
	}

	writeJSON(w, http.StatusOK, BackfillResponse{
		Considered: res.Considered,
		Created:    res.Created,
		Conflicts:  res.Conflicts,
	})
}

// DistributionResponse is the public view of a settled distribution.
type DistributionResponse struct {
	ID                  string               `json:"id"`
	CommitmentID        string               `json:"commitmentId"`
	MilestoneID         string               `json:"milestoneId"`
	CreatedAt           string               `json:"createdAt"`
	MintAddress         string               `json:"mintAddress"`
	TokenProgramAddress string               `json:"tokenProgramAddress"`
	Decimals            uint8                `json:"decimals"`
	PoolAmountRaw       uint64               `json:"poolAmountRaw"`
	FaucetOwnerAddress  string               `json:"faucetOwnerAddress"`
	Status              string               `json:"status"`
	Allocations         []AllocationResponse `json:"allocations"`
}

// AllocationResponse is one wallet's share of a distribution.
type AllocationResponse struct {
	WalletAddress string  `json:"walletAddress"`
	AmountRaw     uint64  `json:"amountRaw"`
	Weight        float64 `json:"weight"`
}

// GetDistribution handles GET /v1/rewards/distributions/{commitmentID}/{milestoneID}.
func (h *Rewards) GetDistribution(w http.ResponseWriter, r *http.Request) {
	commitmentID := chi.URLParam(r, "commitmentID")
	milestoneID := chi.URLParam(r, "milestoneID")
	if commitmentID == "" || milestoneID == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "commitmentID and milestoneID are required")
		return
	}

	start := time.Now()
	d, err := h.store.Get(r.Context(), commitmentID, milestoneID)
	metrics.RecordPostgresQuery(time.Since(start), err)
	if err != nil {
		h.log.Error("failed to load distribution", "commitment_id", commitmentID, "milestone_id", milestoneID, "error", err)
		if dberror.IsTransient(err) {
			writeJSONError(w, http.StatusServiceUnavailable, "unavailable", dberror.UserMessage(err))
			return
		}
		sentry.CaptureException(err)
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "failed to load distribution")
		return
	}
	if d == nil {
		writeJSONError(w, http.StatusNotFound, "not_found", "no distribution for this milestone")
		return
	}

	start = time.Now()
	allocs, err := h.store.Allocations(r.Context(), d.ID.String())
	metrics.RecordPostgresQuery(time.Since(start), err)
	if err != nil {
		h.log.Error("failed to load allocations", "distribution_id", d.ID, "error", err)
		sentry.CaptureException(err)
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "failed to load allocations")
		return
	}

	resp := DistributionResponse{
		ID:                  d.ID.String(),
		CommitmentID:        d.CommitmentID,
		MilestoneID:         d.MilestoneID,
		CreatedAt:           d.CreatedAt.UTC().Format(time.RFC3339),
		MintAddress:         d.MintAddress,
		TokenProgramAddress: d.TokenProgramAddress,
		Decimals:            d.Decimals,
		PoolAmountRaw:       d.PoolAmountRaw,
		FaucetOwnerAddress:  d.FaucetOwnerAddress,
		Status:              string(d.Status),
		Allocations:         make([]AllocationResponse, 0, len(allocs)),
	}
	for _, a := range allocs {
		resp.Allocations = append(resp.Allocations, AllocationResponse{
			WalletAddress: a.WalletAddress,
			AmountRaw:     a.AmountRaw,
			Weight:        a.Weight,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ErrorResponse is the JSON body for every error status.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}
