package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"tnxgate/internal/domain"
	"tnxgate/internal/engine"
)

type baselinePath struct {
	BaselineID string `path:"baselineId"`
}

func registerReplay(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-baseline",
		Method:        http.MethodPost,
		Path:          "/baselines",
		Summary:       "Promote a passing run to a replay baseline",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateBaselineRequest `json:"body"`
	}) (*struct {
		Body domain.Baseline `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.CreateBaseline(ctx, p, input.Body.RunID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Baseline `json:"body"`
		}{Body: b}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-baseline",
		Method:      http.MethodGet,
		Path:        "/baselines/{baselineId}",
		Summary:     "Get baseline",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *baselinePath) (*struct {
		Body domain.Baseline `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.GetBaseline(ctx, p, input.BaselineID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Baseline `json:"body"`
		}{Body: b}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "replay",
		Method:        http.MethodPost,
		Path:          "/baselines/{baselineId}/replays",
		Summary:       "Replay a candidate run against a baseline",
		Description:   "Compares metric drift and records merge and release gate verdicts. Every call writes a new record.",
		DefaultStatus: http.StatusAccepted,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		BaselineID string        `path:"baselineId"`
		Body       ReplayRequest `json:"body"`
	}) (*struct {
		Body domain.ReplayGate `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		g, err := e.Replay(ctx, p, input.BaselineID, input.Body.CandidateRunID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ReplayGate `json:"body"`
		}{Body: g}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-replays",
		Method:      http.MethodGet,
		Path:        "/baselines/{baselineId}/replays",
		Summary:     "List replays against a baseline",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *baselinePath) (*struct {
		Body ReplayList `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListReplays(ctx, p, input.BaselineID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReplayList `json:"body"`
		}{Body: ReplayList{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-replay",
		Method:      http.MethodGet,
		Path:        "/replays/{replayId}",
		Summary:     "Get replay record",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ReplayID string `path:"replayId"`
	}) (*struct {
		Body domain.ReplayGate `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		g, err := e.GetReplay(ctx, p, input.ReplayID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ReplayGate `json:"body"`
		}{Body: g}, nil
	})
}
