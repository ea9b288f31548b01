package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"tnxgate/internal/domain"
	"tnxgate/internal/engine"
)

type runPath struct {
	RunID string `path:"runId"`
}

func registerRuns(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-run",
		Method:        http.MethodPost,
		Path:          "/runs",
		Summary:       "Create a validation run",
		Description:   "Registers the run and queues the check and agent pipeline. The run is returned queued.",
		DefaultStatus: http.StatusAccepted,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateRunRequest `json:"body"`
	}) (*struct {
		Body domain.ValidationRun `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		run, err := e.CreateRun(ctx, p, input.Body.toEngine())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ValidationRun `json:"body"`
		}{Body: run}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        "/runs",
		Summary:     "List own runs",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body RunList `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		runs, err := e.ListRuns(ctx, p)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RunList `json:"body"`
		}{Body: RunList{Items: runs}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-run",
		Method:      http.MethodGet,
		Path:        "/runs/{runId}",
		Summary:     "Get run",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *runPath) (*struct {
		Body domain.ValidationRun `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		run, err := e.GetRun(ctx, p, input.RunID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ValidationRun `json:"body"`
		}{Body: run}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-artifact",
		Method:      http.MethodGet,
		Path:        "/runs/{runId}/artifact",
		Summary:     "Get the run artifact",
		Description: "Inputs, outputs, check results, agent and trader review, policy snapshot and the appended comment, decision and render sequences.",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *runPath) (*struct {
		Body domain.Artifact `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		art, err := e.GetArtifact(ctx, p, input.RunID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Artifact `json:"body"`
		}{Body: art}, nil
	})
}

func registerReview(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-comment",
		Method:        http.MethodPost,
		Path:          "/runs/{runId}/comments",
		Summary:       "Add a review comment",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		RunID string            `path:"runId"`
		Body  AddCommentRequest `json:"body"`
	}) (*struct {
		Body domain.ReviewComment `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.AddComment(ctx, p, input.RunID, input.Body.Body, input.Body.EvidenceRefs)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ReviewComment `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "submit-decision",
		Method:        http.MethodPost,
		Path:          "/runs/{runId}/decisions",
		Summary:       "Submit a trader review decision",
		Description:   "Allowed once, while trader review is requested. Retries with the same Idempotency-Key replay the first response.",
		DefaultStatus: http.StatusAccepted,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		RunID string                `path:"runId"`
		Body  SubmitDecisionRequest `json:"body"`
	}) (*struct {
		Body DecisionResponse `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		dec, run, err := e.SubmitDecision(ctx, p, input.RunID, input.Body.toEngine())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DecisionResponse `json:"body"`
		}{Body: DecisionResponse{Decision: dec, Run: run}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "request-render",
		Method:        http.MethodPost,
		Path:          "/runs/{runId}/renders",
		Summary:       "Request an HTML or PDF render of the artifact",
		DefaultStatus: http.StatusAccepted,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		RunID string               `path:"runId"`
		Body  RequestRenderRequest `json:"body"`
	}) (*struct {
		Body domain.RenderRequest `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rr, err := e.RequestRender(ctx, p, input.RunID, domain.RenderFormat(input.Body.Format))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.RenderRequest `json:"body"`
		}{Body: rr}, nil
	})
}
