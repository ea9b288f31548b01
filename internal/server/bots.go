package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"tnxgate/internal/domain"
	"tnxgate/internal/engine"
)

type botPath struct {
	BotID string `path:"botId"`
}

// issuesRawKey matches the key issue and rotate routes, whose responses must
// not be stored for idempotent replay.
func issuesRawKey(r *http.Request) bool {
	if r.Method != http.MethodPost {
		return false
	}
	p := strings.TrimSuffix(r.URL.Path, "/")
	return strings.Contains(p, "/bots/") && (strings.HasSuffix(p, "/keys") || strings.HasSuffix(p, "/keys/rotate"))
}

// Raw keys appear only in issue and rotate responses and are never logged.
func registerBots(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-bot",
		Method:        http.MethodPost,
		Path:          "/bots",
		Summary:       "Register a bot",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
		},
	}, func(ctx context.Context, input *struct {
		Body RegisterBotRequest `json:"body"`
	}) (*struct {
		Body domain.Bot `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		bot, err := e.RegisterBot(ctx, p, engine.RegisterBotRequest{
			Name:             input.Body.Name,
			RegistrationPath: domain.RegistrationPath(input.Body.RegistrationPath),
			InviteCode:       input.Body.InviteCode,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Bot `json:"body"`
		}{Body: bot}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-bots",
		Method:      http.MethodGet,
		Path:        "/bots",
		Summary:     "List own bots",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body BotList `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		bots, err := e.ListBots(ctx, p)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BotList `json:"body"`
		}{Body: BotList{Items: bots}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "revoke-bot",
		Method:        http.MethodPost,
		Path:          "/bots/{botId}/revoke",
		Summary:       "Revoke a bot and all its keys",
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *botPath) (*struct {
		Body domain.Bot `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		bot, err := e.RevokeBot(ctx, p, input.BotID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Bot `json:"body"`
		}{Body: bot}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "issue-key",
		Method:        http.MethodPost,
		Path:          "/bots/{botId}/keys",
		Summary:       "Issue the bot's API key",
		Description:   "The raw key is returned once. Fails with 409 while an active key exists; use rotate instead.",
		DefaultStatus: http.StatusAccepted,
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *botPath) (*struct {
		Body engine.IssuedKey `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		issued, err := e.IssueKey(ctx, p, input.BotID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.IssuedKey `json:"body"`
		}{Body: issued}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "rotate-key",
		Method:        http.MethodPost,
		Path:          "/bots/{botId}/keys/rotate",
		Summary:       "Rotate the bot's API key",
		DefaultStatus: http.StatusAccepted,
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *botPath) (*struct {
		Body engine.IssuedKey `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		issued, err := e.RotateKey(ctx, p, input.BotID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.IssuedKey `json:"body"`
		}{Body: issued}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-keys",
		Method:      http.MethodGet,
		Path:        "/bots/{botId}/keys",
		Summary:     "List key metadata",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *botPath) (*struct {
		Body KeyList `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		keys, err := e.ListKeys(ctx, p, input.BotID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body KeyList `json:"body"`
		}{Body: KeyList{Items: keys}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "revoke-key",
		Method:        http.MethodPost,
		Path:          "/bot-keys/{keyId}/revoke",
		Summary:       "Revoke a bot key",
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"keyId"`
	}) (*struct {
		Body domain.BotAPIKey `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		key, err := e.RevokeKey(ctx, p, input.KeyID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.BotAPIKey `json:"body"`
		}{Body: key}, nil
	})
}
