package config

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretsOverlay is the JSON document stored in AWS Secrets Manager.
type SecretsOverlay struct {
	JWTSecret   string `json:"jwt_secret"`
	AgentAPIKey string `json:"agent_api_key"`
}

// ApplySecrets overlays secrets onto s when a provider is configured.
func ApplySecrets(ctx context.Context, s *Settings) error {
	if s.Secrets.Provider == "" {
		return nil
	}
	overlay, err := fetchSecretsFromAWS(ctx, s.Secrets.Region, s.Secrets.SecretName)
	if err != nil {
		return err
	}
	overlaySecrets(s, overlay)
	return nil
}

func fetchSecretsFromAWS(ctx context.Context, region, secretName string) (*SecretsOverlay, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := secretsmanager.NewFromConfig(awsCfg)
	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretName),
	})
	if err != nil {
		return nil, fmt.Errorf("get secret %s: %w", secretName, err)
	}
	return parseSecretData(out)
}

func parseSecretData(out *secretsmanager.GetSecretValueOutput) (*SecretsOverlay, error) {
	var overlay SecretsOverlay
	switch {
	case out.SecretString != nil:
		if err := json.Unmarshal([]byte(*out.SecretString), &overlay); err != nil {
			return nil, fmt.Errorf("parse secret json: %w", err)
		}
	case out.SecretBinary != nil:
		if err := json.Unmarshal(out.SecretBinary, &overlay); err != nil {
			return nil, fmt.Errorf("parse secret binary: %w", err)
		}
	default:
		return nil, fmt.Errorf("no secret data found")
	}
	return &overlay, nil
}

func overlaySecrets(s *Settings, overlay *SecretsOverlay) {
	if overlay.JWTSecret != "" {
		s.Auth.JWTSecret = overlay.JWTSecret
	}
	if overlay.AgentAPIKey != "" {
		s.Agent.APIKey = overlay.AgentAPIKey
	}
}
