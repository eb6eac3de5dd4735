// Package aws wires the AWS SDK: configuration and the DynamoDB
// idempotency ledger.
package aws

import (
	"context"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/go-faster/errors"
)

// Config selects the AWS region and an optional endpoint override for local
// emulators.
type Config struct {
	Region   string `default:"ap-south-1" usage:"AWS region"`
	Endpoint string `usage:"AWS endpoint override, e.g. a local emulator"`
}

// LoadConfig resolves credentials from the default chain.
func LoadConfig(ctx context.Context, cfg Config) (sdkaws.Config, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return sdkaws.Config{}, errors.Wrap(err, "load aws config")
	}
	if cfg.Endpoint != "" {
		awsCfg.BaseEndpoint = sdkaws.String(cfg.Endpoint)
	}
	return awsCfg, nil
}
