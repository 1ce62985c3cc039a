package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"gitea.kood.tech/petrkubec/match-round/backend/matching"
)

// roundRunner is the part of *matching.Matcher the HTTP layer drives.
type roundRunner interface {
	RunRound(ctx context.Context, roundKey string) (*matching.Result, error)
	Plan(ctx context.Context, roundKey string) (*matching.Result, error)
}

type runRoundRequest struct {
	RoundKey string `json:"roundKey" validate:"required,max=64"`
	DryRun   bool   `json:"dryRun"`
}

type runRoundResponse struct {
	OK       bool             `json:"ok"`
	Error    string           `json:"error,omitempty"`
	Matched  int              `json:"matched"`
	Leftover int              `json:"leftover"`
	DryRun   bool             `json:"dryRun,omitempty"`
	Pairings []matching.Match `json:"pairings,omitempty"`
	Steps    []matching.Step  `json:"steps,omitempty"`
}

// executeRound runs or plans one round and records its metrics.
func executeRound(ctx context.Context, runner roundRunner, roundKey string, dryRun bool) (*matching.Result, error) {
	started := time.Now()
	var (
		res *matching.Result
		err error
	)
	if dryRun {
		res, err = runner.Plan(ctx, roundKey)
	} else {
		res, err = runner.RunRound(ctx, roundKey)
	}
	observeRound(res, err, time.Since(started))
	return res, err
}

// POST /run-round {"roundKey": "2026-W42", "dryRun": false}
//
// Admin only. An insufficient pool is reported with ok=false and status 200.
func runRoundHandler(runner roundRunner, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req runRoundRequest
		if err := decodeJSON(r, &req); err != nil {
			writeDecodeError(w, err)
			return
		}

		res, err := executeRound(r.Context(), runner, req.RoundKey, req.DryRun)
		switch {
		case errors.Is(err, matching.ErrInsufficientPool):
			leftover := 0
			if res != nil {
				leftover = res.Eligible
			}
			writeJSON(w, http.StatusOK, runRoundResponse{OK: false, Error: "insufficient_pool", Leftover: leftover})
			return
		case errors.Is(err, matching.ErrPersistence):
			log.Error("round not persisted", zap.String("round_key", req.RoundKey), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, runRoundResponse{OK: false, Error: "persistence_failure"})
			return
		case err != nil:
			log.Error("round failed", zap.String("round_key", req.RoundKey), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, runRoundResponse{OK: false, Error: "round_error"})
			return
		}

		resp := runRoundResponse{
			OK:       true,
			Matched:  res.Matched(),
			Leftover: res.Leftover,
			DryRun:   res.DryRun,
		}
		if res.DryRun {
			resp.Pairings = res.Matches
			resp.Steps = res.Steps
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
