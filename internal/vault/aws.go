// ABOUTME: AWS Secrets Manager provider; versions are Secrets Manager VersionIds
// ABOUTME: The newest version is whichever carries the AWSCURRENT stage

package vault

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/smithy-go"
)

// SecretsManagerClient is the subset of the Secrets Manager API the provider
// calls, so tests can substitute a fake.
type SecretsManagerClient interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	CreateSecret(ctx context.Context, in *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
	PutSecretValue(ctx context.Context, in *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	DeleteSecret(ctx context.Context, in *secretsmanager.DeleteSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DeleteSecretOutput, error)
	ListSecretVersionIds(ctx context.Context, in *secretsmanager.ListSecretVersionIdsInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretVersionIdsOutput, error)
	UpdateSecretVersionStage(ctx context.Context, in *secretsmanager.UpdateSecretVersionStageInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.UpdateSecretVersionStageOutput, error)
}

const stageCurrent = "AWSCURRENT"

// AWSProvider stores secrets in AWS Secrets Manager.
type AWSProvider struct {
	client SecretsManagerClient
}

// NewAWSProvider loads the default AWS configuration for cfg.Region. Static
// keys in auth_parameters (access_key_id, secret_access_key, session_token)
// override the default credential chain; cfg.VaultURL overrides the endpoint.
func NewAWSProvider(ctx context.Context, cfg Configuration) (*AWSProvider, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if id := cfg.AuthParameters["access_key_id"]; id != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			id, cfg.AuthParameters["secret_access_key"], cfg.AuthParameters["session_token"],
		)))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := secretsmanager.NewFromConfig(awsCfg, func(o *secretsmanager.Options) {
		if cfg.VaultURL != "" {
			o.BaseEndpoint = aws.String(cfg.VaultURL)
		}
	})
	return NewAWSProviderWithClient(client), nil
}

func NewAWSProviderWithClient(client SecretsManagerClient) *AWSProvider {
	return &AWSProvider{client: client}
}

func (p *AWSProvider) Type() ProviderType { return ProviderAWS }

func (p *AWSProvider) GetSecret(ctx context.Context, name, version string) (*KeyVaultSecret, error) {
	in := &secretsmanager.GetSecretValueInput{SecretId: aws.String(name)}
	if version == "" {
		in.VersionStage = aws.String(stageCurrent)
	} else {
		in.VersionId = aws.String(version)
	}

	out, err := p.client.GetSecretValue(ctx, in)
	if err != nil {
		return nil, p.mapError(name, version, err)
	}

	s := &KeyVaultSecret{
		Name:    name,
		Value:   aws.ToString(out.SecretString),
		Version: aws.ToString(out.VersionId),
		Enabled: len(out.VersionStages) > 0,
	}
	if out.CreatedDate != nil {
		s.CreatedAt = *out.CreatedDate
	}
	return s, nil
}

// SetSecret puts a new value, creating the secret on first write. Tags are
// only applied on creation. Secrets Manager has no per-version expiry, so
// opts.ExpiresAt is ignored.
func (p *AWSProvider) SetSecret(ctx context.Context, name, value string, opts SetOptions) (*SecretMetadata, error) {
	put, err := p.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:     aws.String(name),
		SecretString: aws.String(value),
	})
	if err == nil {
		return &SecretMetadata{Name: name, Version: aws.ToString(put.VersionId), Enabled: true}, nil
	}

	var rnf *types.ResourceNotFoundException
	if !errors.As(err, &rnf) {
		return nil, p.mapError(name, "", err)
	}

	in := &secretsmanager.CreateSecretInput{
		Name:         aws.String(name),
		SecretString: aws.String(value),
	}
	for k, v := range opts.Tags {
		in.Tags = append(in.Tags, types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	created, err := p.client.CreateSecret(ctx, in)
	if err != nil {
		return nil, p.mapError(name, "", err)
	}
	return &SecretMetadata{Name: name, Version: aws.ToString(created.VersionId), Enabled: true, Tags: opts.Tags}, nil
}

// DeleteSecret deletes immediately, without the recovery window.
func (p *AWSProvider) DeleteSecret(ctx context.Context, name string) error {
	_, err := p.client.DeleteSecret(ctx, &secretsmanager.DeleteSecretInput{
		SecretId:                   aws.String(name),
		ForceDeleteWithoutRecovery: aws.Bool(true),
	})
	var rnf *types.ResourceNotFoundException
	if err != nil && !errors.As(err, &rnf) {
		return p.mapError(name, "", err)
	}
	return nil
}

// ListVersions returns versions newest first. A version with no staging
// labels is reported disabled.
func (p *AWSProvider) ListVersions(ctx context.Context, name string) ([]SecretMetadata, error) {
	entries, err := p.listEntries(ctx, name)
	if err != nil {
		return nil, err
	}

	out := make([]SecretMetadata, 0, len(entries))
	for _, e := range entries {
		md := SecretMetadata{
			Name:    name,
			Version: aws.ToString(e.VersionId),
			Enabled: len(e.VersionStages) > 0,
		}
		if e.CreatedDate != nil {
			md.CreatedAt = *e.CreatedDate
		}
		out = append(out, md)
	}
	slices.SortStableFunc(out, func(a, b SecretMetadata) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

// DisableVersion strips every staging label from version. The AWSCURRENT
// version cannot be disabled; write a new version instead.
func (p *AWSProvider) DisableVersion(ctx context.Context, name, version string) error {
	entries, err := p.listEntries(ctx, name)
	if err != nil {
		return err
	}

	idx := slices.IndexFunc(entries, func(e types.SecretVersionsListEntry) bool {
		return aws.ToString(e.VersionId) == version
	})
	if idx < 0 {
		return notFound(ProviderAWS, name, version)
	}
	stages := entries[idx].VersionStages
	if slices.Contains(stages, stageCurrent) {
		return unsupported(ProviderAWS, "disabling the current version")
	}

	for _, stage := range stages {
		if _, err := p.client.UpdateSecretVersionStage(ctx, &secretsmanager.UpdateSecretVersionStageInput{
			SecretId:            aws.String(name),
			VersionStage:        aws.String(stage),
			RemoveFromVersionId: aws.String(version),
		}); err != nil {
			return p.mapError(name, version, err)
		}
	}
	return nil
}

func (p *AWSProvider) listEntries(ctx context.Context, name string) ([]types.SecretVersionsListEntry, error) {
	var (
		entries []types.SecretVersionsListEntry
		token   *string
	)
	for {
		out, err := p.client.ListSecretVersionIds(ctx, &secretsmanager.ListSecretVersionIdsInput{
			SecretId:          aws.String(name),
			IncludeDeprecated: aws.Bool(true),
			NextToken:         token,
		})
		if err != nil {
			var rnf *types.ResourceNotFoundException
			if errors.As(err, &rnf) {
				return nil, nil
			}
			return nil, p.mapError(name, "", err)
		}
		entries = append(entries, out.Versions...)
		if out.NextToken == nil {
			return entries, nil
		}
		token = out.NextToken
	}
}

func (p *AWSProvider) mapError(name, version string, err error) error {
	var rnf *types.ResourceNotFoundException
	if errors.As(err, &rnf) {
		return notFound(ProviderAWS, name, version)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return providerFailure(ProviderAWS, apiErr.ErrorCode(), name, err)
	}
	return providerFailure(ProviderAWS, "", name, err)
}
