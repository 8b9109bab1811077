package storage

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.uber.org/zap"

	"codex-backend/internal/config"
)

// Open builds the backend selected by cfg.Provider. The backend is not
// initialized; the registry calls Initialize during its own startup.
func Open(ctx context.Context, cfg config.Storage, logger *zap.Logger) (Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Provider {
	case ProviderMemory, "":
		return NewMemoryBackend(), nil
	case ProviderSQLite:
		return OpenSQLite(cfg.SQLite.Path, logger)
	case ProviderPostgres:
		return OpenPostgres(cfg.Postgres, logger)
	case ProviderDynamoDB:
		client, err := NewDynamoDBClient(ctx, cfg.DynamoDB)
		if err != nil {
			return nil, err
		}
		return NewDynamoDBBackend(client, DynamoDBConfig{
			TableName:   cfg.DynamoDB.TableName,
			CreateTable: cfg.DynamoDB.CreateTable,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unsupported storage provider %q", cfg.Provider)
	}
}

// NewDynamoDBClient loads the default AWS configuration for the configured
// region and honours an endpoint override such as DynamoDB Local.
func NewDynamoDBClient(ctx context.Context, cfg config.DynamoDB) (*dynamodb.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}
