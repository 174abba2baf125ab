package keychain

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/gofrs/uuid/v5"

	"github.com/and161185/gophstore/internal/errs"
)

// SecretsAPI is the subset of the Secrets Manager client used here.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, opts ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	CreateSecret(ctx context.Context, in *secretsmanager.CreateSecretInput, opts ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
	PutSecretValue(ctx context.Context, in *secretsmanager.PutSecretValueInput, opts ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	DeleteSecret(ctx context.Context, in *secretsmanager.DeleteSecretInput, opts ...func(*secretsmanager.Options)) (*secretsmanager.DeleteSecretOutput, error)
}

// SecretsManager keeps keys in AWS Secrets Manager, one secret per database,
// named prefix + database UUID. Values are base64 encoded.
type SecretsManager struct {
	client SecretsAPI
	prefix string
}

// NewSecretsManager wraps an existing client.
func NewSecretsManager(client SecretsAPI, prefix string) *SecretsManager {
	return &SecretsManager{client: client, prefix: prefix}
}

// NewSecretsManagerFromConfig loads the default AWS configuration for region.
func NewSecretsManagerFromConfig(ctx context.Context, prefix, region string) (*SecretsManager, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewSecretsManager(secretsmanager.NewFromConfig(cfg), prefix), nil
}

func (s *SecretsManager) name(db uuid.UUID) string { return s.prefix + db.String() }

func (s *SecretsManager) Put(ctx context.Context, db uuid.UUID, key []byte) error {
	value := aws.String(base64.StdEncoding.EncodeToString(key))
	_, err := s.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:     aws.String(s.name(db)),
		SecretString: value,
	})
	if err == nil {
		return nil
	}
	if !notFound(err) {
		return fmt.Errorf("put secret: %w", err)
	}
	_, err = s.client.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
		Name:         aws.String(s.name(db)),
		SecretString: value,
		Description:  aws.String("gophstore master key cache"),
	})
	if err != nil {
		return fmt.Errorf("create secret: %w", err)
	}
	return nil
}

func (s *SecretsManager) Get(ctx context.Context, db uuid.UUID) ([]byte, error) {
	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(s.name(db)),
	})
	if err != nil {
		if notFound(err) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("get secret: %w", err)
	}
	if out.SecretString == nil {
		return nil, errs.ErrNotFound
	}
	key, err := base64.StdEncoding.DecodeString(*out.SecretString)
	if err != nil {
		return nil, fmt.Errorf("decode secret: %w", err)
	}
	return key, nil
}

func (s *SecretsManager) Delete(ctx context.Context, db uuid.UUID) error {
	_, err := s.client.DeleteSecret(ctx, &secretsmanager.DeleteSecretInput{
		SecretId:                   aws.String(s.name(db)),
		ForceDeleteWithoutRecovery: aws.Bool(true),
	})
	if err != nil && !notFound(err) {
		return fmt.Errorf("delete secret: %w", err)
	}
	return nil
}

func notFound(err error) bool {
	var rnf *types.ResourceNotFoundException
	if errors.As(err, &rnf) {
		return true
	}
	var coded interface{ ErrorCode() string }
	return errors.As(err, &coded) && coded.ErrorCode() == "ResourceNotFoundException"
}
