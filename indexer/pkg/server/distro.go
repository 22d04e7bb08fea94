package server

import (
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/giveconomy/givstream/indexer/pkg/distro"
	"github.com/giveconomy/givstream/indexer/pkg/vesting"
	"github.com/go-chi/chi/v5"
)

type scheduleResponse struct {
	ContractAddress string    `json:"contractAddress"`
	InitialAmount   string    `json:"initialAmount"`
	LockedAmount    string    `json:"lockedAmount"`
	TotalTokens     string    `json:"totalTokens"`
	StartTime       time.Time `json:"startTime"`
	CliffTime       time.Time `json:"cliffTime"`
	EndTime         time.Time `json:"endTime"`
}

type distroResponse struct {
	ChainID          uint64           `json:"chainId"`
	RequestedChainID uint64           `json:"requestedChainId"`
	Fallback         bool             `json:"fallback"`
	Stream           string           `json:"stream"`
	Schedule         scheduleResponse `json:"schedule"`

	At                      time.Time `json:"at"`
	RemainingSeconds        int64     `json:"remainingSeconds"`
	PercentComplete         float64   `json:"percentComplete"`
	GloballyClaimable       string    `json:"globallyClaimable"`
	GlobalReleasePercentage string    `json:"globalReleasePercentage"`
	SnapshotBuiltAt         time.Time `json:"snapshotBuiltAt"`
}

type accountResponse struct {
	ChainID  uint64 `json:"chainId"`
	Fallback bool   `json:"fallback"`
	Stream   string `json:"stream"`
	Address  string `json:"address"`

	At        time.Time `json:"at"`
	Allocated string    `json:"allocated"`
	Claimed   string    `json:"claimed"`
	Liquid    string    `json:"liquid"`
	Locked    string    `json:"locked"`
	// Claimable never goes below zero; ClaimableRaw keeps the signed value.
	Claimable       string `json:"claimable"`
	ClaimableRaw    string `json:"claimableRaw"`
	StreamPerSecond string `json:"streamPerSecond"`
	StreamPerWeek   string `json:"streamPerWeek"`
}

// resolve picks the accountant for the request's chain and stream. Unknown chains use the
// default network.
func (s *Server) resolve(w http.ResponseWriter, r *http.Request) (uint64, *distro.NetworkAccountants, bool, *vesting.Accountant, bool) {
	requested, err := strconv.ParseUint(chi.URLParam(r, "chainID"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid chain id")
		return 0, nil, false, nil, false
	}

	n, matched := s.indexer.Distro().Registry().Current().Select(requested)
	stream := parseStream(r.URL.Query().Get("stream"))
	acc, ok := n.For(stream)
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown stream "+stream.String())
		return 0, nil, false, nil, false
	}
	return requested, n, matched, acc, true
}

func parseStream(tag string) vesting.Stream {
	if tag == "" || strings.EqualFold(tag, vesting.DefaultStream.String()) {
		return vesting.DefaultStream
	}
	return vesting.NamedStream(tag)
}

func (s *Server) handleDistro(w http.ResponseWriter, r *http.Request) {
	requested, n, matched, acc, ok := s.resolve(w, r)
	if !ok {
		return
	}

	now := s.indexer.Distro().Clock().Now()
	sched := acc.Schedule()
	f := acc.Figures(now)

	s.writeJSON(w, http.StatusOK, distroResponse{
		ChainID:          n.ChainID,
		RequestedChainID: requested,
		Fallback:         !matched,
		Stream:           acc.Stream().String(),
		Schedule: scheduleResponse{
			ContractAddress: sched.ContractAddress,
			InitialAmount:   sched.InitialAmount.String(),
			LockedAmount:    sched.LockedAmount.String(),
			TotalTokens:     sched.TotalTokens.String(),
			StartTime:       sched.StartTime.UTC(),
			CliffTime:       sched.CliffTime.UTC(),
			EndTime:         sched.EndTime.UTC(),
		},
		At:                      now.UTC(),
		RemainingSeconds:        int64(f.Remaining / time.Second),
		PercentComplete:         f.PercentComplete,
		GloballyClaimable:       f.GloballyClaimable.String(),
		GlobalReleasePercentage: f.GlobalReleasePercentage.String(),
		SnapshotBuiltAt:         s.indexer.Distro().Registry().Current().BuiltAt().UTC(),
	})
}

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

type releaseResponse struct {
	ContractAddress string    `json:"contractAddress"`
	Claimable       string    `json:"claimable"`
	TotalTokens     string    `json:"totalTokens"`
	ReleasePct      float64   `json:"releasePct"`
	PercentComplete float64   `json:"percentComplete"`
	SnapshotTS      time.Time `json:"snapshotTs"`
}

type historyResponse struct {
	ChainID  uint64            `json:"chainId"`
	Stream   string            `json:"stream"`
	Releases []releaseResponse `json:"releases"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	store := s.indexer.Store()
	if store == nil {
		s.writeError(w, http.StatusNotFound, "release history is disabled")
		return
	}

	_, n, _, acc, ok := s.resolve(w, r)
	if !ok {
		return
	}

	opts := distro.HistoryOptions{
		ChainID: n.ChainID,
		Stream:  acc.Stream().String(),
		Limit:   defaultHistoryLimit,
	}
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		opts.Limit = min(limit, maxHistoryLimit)
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid since, expected RFC3339")
			return
		}
		opts.Since = since
	}

	releases, err := store.History(r.Context(), opts)
	if err != nil {
		s.log.Error("server: failed to read release history", "chain_id", n.ChainID, "stream", opts.Stream, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read release history")
		return
	}

	resp := historyResponse{
		ChainID:  n.ChainID,
		Stream:   opts.Stream,
		Releases: make([]releaseResponse, 0, len(releases)),
	}
	for _, rel := range releases {
		resp.Releases = append(resp.Releases, releaseResponse{
			ContractAddress: rel.ContractAddress,
			Claimable:       rel.Claimable.String(),
			TotalTokens:     rel.TotalTokens.String(),
			ReleasePct:      rel.ReleasePct,
			PercentComplete: rel.PercentComplete,
			SnapshotTS:      rel.SnapshotTS.UTC(),
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	if !common.IsHexAddress(address) {
		s.writeError(w, http.StatusBadRequest, "invalid address")
		return
	}

	_, n, matched, acc, ok := s.resolve(w, r)
	if !ok {
		return
	}

	balances, err := s.indexer.Distro().FetchBalances(r.Context(), n.ChainID, address)
	if err != nil {
		s.log.Error("server: failed to fetch balances", "chain_id", n.ChainID, "address", address, "error", err)
		s.writeError(w, http.StatusBadGateway, "failed to fetch balances")
		return
	}

	now := s.indexer.Distro().Clock().Now()
	f := acc.AccountFigures(balances, now)

	claimable := f.Claimable
	if claimable.Sign() < 0 {
		claimable = new(big.Int)
	}

	s.writeJSON(w, http.StatusOK, accountResponse{
		ChainID:         n.ChainID,
		Fallback:        !matched,
		Stream:          acc.Stream().String(),
		Address:         common.HexToAddress(address).Hex(),
		At:              now.UTC(),
		Allocated:       f.Allocated.String(),
		Claimed:         f.Claimed.String(),
		Liquid:          f.Liquid.String(),
		Locked:          f.Locked.String(),
		Claimable:       claimable.String(),
		ClaimableRaw:    f.Claimable.String(),
		StreamPerSecond: f.StreamPerSecond.String(),
		StreamPerWeek:   f.StreamPerWeek.String(),
	})
}
