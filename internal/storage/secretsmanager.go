package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"

	"github.com/peteski22/creatorsync/internal/platform"
)

// SecretsManagerAPI defines the Secrets Manager operations used by the token store.
type SecretsManagerAPI interface {
	// CreateSecret creates a new secret.
	CreateSecret(
		ctx context.Context,
		params *secretsmanager.CreateSecretInput,
		optFns ...func(*secretsmanager.Options),
	) (*secretsmanager.CreateSecretOutput, error)

	// GetSecretValue retrieves a secret value.
	GetSecretValue(
		ctx context.Context,
		params *secretsmanager.GetSecretValueInput,
		optFns ...func(*secretsmanager.Options),
	) (*secretsmanager.GetSecretValueOutput, error)

	// PutSecretValue stores a secret value.
	PutSecretValue(
		ctx context.Context,
		params *secretsmanager.PutSecretValueInput,
		optFns ...func(*secretsmanager.Options),
	) (*secretsmanager.PutSecretValueOutput, error)
}

// TokenStore manages per-creator OAuth refresh tokens in AWS Secrets Manager.
// Each creator's token is the secret named {prefix}{creatorID}.
type TokenStore struct {
	// client is the Secrets Manager API client.
	client SecretsManagerAPI

	// secretPrefix is prepended to the creator ID to form the secret name.
	secretPrefix string
}

// NewTokenStore creates a new Secrets Manager-backed token store.
func NewTokenStore(client SecretsManagerAPI, secretPrefix string) (*TokenStore, error) {
	if client == nil {
		return nil, errors.New("secrets manager client is required")
	}
	if strings.TrimSpace(secretPrefix) == "" {
		return nil, errors.New("secret prefix is required")
	}

	return &TokenStore{
		client:       client,
		secretPrefix: strings.TrimSpace(secretPrefix),
	}, nil
}

// RefreshToken returns the creator's refresh token, or platform.ErrNoRefreshToken if none is stored.
func (t *TokenStore) RefreshToken(ctx context.Context, creatorID string) (string, error) {
	if creatorID == "" {
		return "", errors.New("creator ID is required")
	}

	output, err := t.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(t.secretName(creatorID)),
	})
	if err != nil {
		var notFoundErr *types.ResourceNotFoundException
		if errors.As(err, &notFoundErr) {
			return "", fmt.Errorf("creator %s: %w", creatorID, platform.ErrNoRefreshToken)
		}
		return "", fmt.Errorf("getting secret from Secrets Manager: %w", err)
	}

	if output.SecretString == nil || *output.SecretString == "" {
		return "", fmt.Errorf("creator %s: %w", creatorID, platform.ErrNoRefreshToken)
	}

	return *output.SecretString, nil
}

// SaveRefreshToken stores a new refresh token for the creator, creating the secret on first use.
func (t *TokenStore) SaveRefreshToken(ctx context.Context, creatorID string, token string) error {
	if creatorID == "" {
		return errors.New("creator ID is required")
	}
	if token == "" {
		return errors.New("token cannot be empty")
	}

	name := t.secretName(creatorID)
	_, err := t.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:     aws.String(name),
		SecretString: aws.String(token),
	})
	if err == nil {
		return nil
	}

	var notFoundErr *types.ResourceNotFoundException
	if !errors.As(err, &notFoundErr) {
		return fmt.Errorf("putting secret to Secrets Manager: %w", err)
	}

	_, err = t.client.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
		Name:         aws.String(name),
		Description:  aws.String("Platform refresh token for creator " + creatorID),
		SecretString: aws.String(token),
	})
	if err != nil {
		return fmt.Errorf("creating secret in Secrets Manager: %w", err)
	}

	return nil
}

func (t *TokenStore) secretName(creatorID string) string {
	return t.secretPrefix + creatorID
}
