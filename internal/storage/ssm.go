package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// SSMAPI defines the SSM operations used by the state store.
type SSMAPI interface {
	// GetParameter retrieves a parameter from SSM.
	GetParameter(
		ctx context.Context,
		params *ssm.GetParameterInput,
		optFns ...func(*ssm.Options),
	) (*ssm.GetParameterOutput, error)

	// PutParameter stores a parameter in SSM.
	PutParameter(
		ctx context.Context,
		params *ssm.PutParameterInput,
		optFns ...func(*ssm.Options),
	) (*ssm.PutParameterOutput, error)
}

// StateStore manages per-creator sync state in AWS SSM Parameter Store.
// Each creator's last sync time lives at {prefix}/{creatorID}/last-sync-time.
type StateStore struct {
	// client is the SSM API client.
	client SSMAPI

	// parameterPrefix is the path all parameters are stored under.
	parameterPrefix string
}

// NewStateStore creates a new SSM-backed state store.
func NewStateStore(client SSMAPI, parameterPrefix string) (*StateStore, error) {
	if client == nil {
		return nil, errors.New("ssm client is required")
	}

	prefix := strings.TrimSuffix(strings.TrimSpace(parameterPrefix), "/")
	if prefix == "" {
		return nil, errors.New("parameter prefix is required")
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}

	return &StateStore{
		client:          client,
		parameterPrefix: prefix,
	}, nil
}

// LastSyncTime returns the start of the creator's last successful sync, zero if never.
func (s *StateStore) LastSyncTime(ctx context.Context, creatorID string) (time.Time, error) {
	name, err := s.parameterName(creatorID)
	if err != nil {
		return time.Time{}, err
	}

	output, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name: aws.String(name),
	})
	if err != nil {
		// Parameter not found is not an error - return zero time.
		var notFoundErr *types.ParameterNotFound
		if errors.As(err, &notFoundErr) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("getting parameter from SSM: %w", err)
	}

	if output.Parameter == nil || output.Parameter.Value == nil {
		return time.Time{}, nil
	}

	t, err := time.Parse(time.RFC3339Nano, *output.Parameter.Value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing time from parameter: %w", err)
	}

	return t, nil
}

// SetLastSyncTime updates the creator's last sync timestamp.
func (s *StateStore) SetLastSyncTime(ctx context.Context, creatorID string, t time.Time) error {
	name, err := s.parameterName(creatorID)
	if err != nil {
		return err
	}

	_, err = s.client.PutParameter(ctx, &ssm.PutParameterInput{
		Name:      aws.String(name),
		Overwrite: aws.Bool(true),
		Type:      types.ParameterTypeString,
		Value:     aws.String(t.UTC().Format(time.RFC3339Nano)),
	})
	if err != nil {
		return fmt.Errorf("putting parameter to SSM: %w", err)
	}

	return nil
}

func (s *StateStore) parameterName(creatorID string) (string, error) {
	if creatorID == "" {
		return "", errors.New("creator ID is required")
	}
	if strings.Contains(creatorID, "/") {
		return "", fmt.Errorf("invalid creator ID %q", creatorID)
	}

	return s.parameterPrefix + "/" + creatorID + "/last-sync-time", nil
}
