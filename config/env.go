package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// LoadEnv applies secrets from AWS Secrets Manager when a secret id is
// configured, then loads .env. Neither source is required.
func LoadEnv(log *logrus.Logger, defaultEnvPath string) {
	if err := loadAWSSecretsIntoEnv(log); err != nil {
		log.WithError(err).Warn("skipping AWS Secrets Manager load")
	}
	loadDotEnv(log, defaultEnvPath)
}

func loadDotEnv(log *logrus.Logger, defaultEnvPath string) {
	envFile := os.Getenv("ENV_FILE_PATH")
	if envFile == "" {
		envFile = defaultEnvPath
	}
	if err := godotenv.Load(envFile); err != nil {
		if err := godotenv.Load(); err != nil && os.Getenv("KUBERNETES_SERVICE_HOST") == "" {
			log.WithField("path", envFile).Debug(".env not found, using process environment")
		}
	}
}

func loadAWSSecretsIntoEnv(log *logrus.Logger) error {
	secretID := os.Getenv("AWS_SECRETS_MANAGER_SECRET_ID")
	if secretID == "" {
		return nil
	}
	region := os.Getenv("AWS_SECRETS_MANAGER_REGION")
	overwrite := strings.EqualFold(os.Getenv("AWS_SECRETS_MANAGER_OVERWRITE"), "true")

	ctx := context.Background()
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return err
	}

	out, err := secretsmanager.NewFromConfig(cfg).GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId:     aws.String(secretID),
		VersionStage: aws.String("AWSCURRENT"),
	})
	if err != nil {
		return fmt.Errorf("fetching secret %s: %w", secretID, err)
	}

	var payload string
	switch {
	case out.SecretString != nil:
		payload = *out.SecretString
	case len(out.SecretBinary) > 0:
		payload = string(out.SecretBinary)
	default:
		return fmt.Errorf("secret %s has no payload", secretID)
	}

	applied, err := applySecretPayload(payload, overwrite)
	if err != nil {
		return fmt.Errorf("secret %s: %w", secretID, err)
	}
	log.WithFields(logrus.Fields{"secret_id": secretID, "applied": applied}).Info("loaded env from AWS Secrets Manager")
	return nil
}

// applySecretPayload sets every key of a flat JSON object as an env var.
// Existing values win unless overwrite is set.
func applySecretPayload(payload string, overwrite bool) (int, error) {
	var kv map[string]any
	if err := json.Unmarshal([]byte(payload), &kv); err != nil {
		return 0, fmt.Errorf("parsing secret as JSON: %w", err)
	}
	applied := 0
	for key, val := range kv {
		if !overwrite && os.Getenv(key) != "" {
			continue
		}
		if err := os.Setenv(key, fmt.Sprint(val)); err != nil {
			return applied, fmt.Errorf("setting env %s: %w", key, err)
		}
		applied++
	}
	return applied, nil
}
