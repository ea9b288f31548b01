package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"tnxgate/internal/domain"
	"tnxgate/internal/engine"
)

type invitePath struct {
	InviteID string `path:"inviteId"`
}

func registerSharing(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-invite",
		Method:        http.MethodPost,
		Path:          "/runs/{runId}/invites",
		Summary:       "Share a run with an email address",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		RunID string              `path:"runId"`
		Body  CreateInviteRequest `json:"body"`
	}) (*struct {
		Body domain.ShareInvite `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		inv, err := e.CreateInvite(ctx, p, input.RunID, input.Body.Email, domain.Permission(input.Body.Permission))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ShareInvite `json:"body"`
		}{Body: inv}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-invites",
		Method:      http.MethodGet,
		Path:        "/runs/{runId}/invites",
		Summary:     "List invites on a run",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *runPath) (*struct {
		Body InviteList `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListInvites(ctx, p, input.RunID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body InviteList `json:"body"`
		}{Body: InviteList{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "accept-invite",
		Method:      http.MethodPost,
		Path:        "/invites/{inviteId}/accept",
		Summary:     "Accept an invite addressed to the caller's verified email",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *invitePath) (*struct {
		Body domain.ShareInvite `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		inv, err := e.AcceptInvite(ctx, p, input.InviteID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ShareInvite `json:"body"`
		}{Body: inv}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "revoke-invite",
		Method:        http.MethodPost,
		Path:          "/invites/{inviteId}/revoke",
		Summary:       "Revoke an invite",
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *invitePath) (*struct {
		Body domain.ShareInvite `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		inv, err := e.RevokeInvite(ctx, p, input.InviteID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ShareInvite `json:"body"`
		}{Body: inv}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "shared-with-me",
		Method:      http.MethodGet,
		Path:        "/shared-with-me",
		Summary:     "Runs shared with the caller",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body RunList `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		runs, err := e.ListSharedWithMe(ctx, p)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RunList `json:"body"`
		}{Body: RunList{Items: runs}}, nil
	})
}
