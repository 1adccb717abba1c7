package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/smithy-go"
)

// SecretsManagerAPI is the subset of the Secrets Manager client used here.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsManagerResolver resolves awssm://[region/]secret-id[#json-key]
// from AWS Secrets Manager. With a #json-key fragment the secret string is
// decoded as a JSON object and that key's value is returned.
type SecretsManagerResolver struct {
	// NewClient builds a client for region ("" means the default region).
	// Nil uses the SDK's default credential chain.
	NewClient func(ctx context.Context, region string) (SecretsManagerAPI, error)
}

// Scheme returns "awssm".
func (r *SecretsManagerResolver) Scheme() string {
	return "awssm"
}

// Resolve fetches the secret with GetSecretValue.
func (r *SecretsManagerResolver) Resolve(ctx context.Context, reference string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ref, err := ParseSecretsManagerReference(reference)
	if err != nil {
		return "", err
	}

	newClient := r.NewClient
	if newClient == nil {
		newClient = defaultSecretsManagerClient
	}
	client, err := newClient(ctx, ref.Region)
	if err != nil {
		return "", &BackendError{
			Backend:   "AWS Secrets Manager",
			Reference: reference,
			Reason:    fmt.Sprintf("loading AWS config: %v", err),
		}
	}

	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(ref.SecretID),
	})
	if err != nil {
		return "", r.classify(err, reference, ref.SecretID)
	}
	if out.SecretString == nil {
		return "", &BackendError{
			Backend:   "AWS Secrets Manager",
			Reference: reference,
			Reason:    "secret has no string value",
			Fix:       "Store the value as SecretString rather than SecretBinary.",
		}
	}
	if ref.Key == "" {
		return *out.SecretString, nil
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(*out.SecretString), &fields); err != nil {
		return "", &InvalidReferenceError{Reference: reference, Reason: "secret is not a JSON object, cannot select key " + ref.Key}
	}
	v, ok := fields[ref.Key]
	if !ok {
		return "", &NotFoundError{Reference: reference, Backend: "AWS Secrets Manager"}
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	b, _ := json.Marshal(v)
	return string(b), nil
}

// SecretsManagerReference is a parsed awssm:// reference.
type SecretsManagerReference struct {
	Region   string
	SecretID string
	Key      string
}

// ParseSecretsManagerReference parses awssm://[region/]secret-id[#key].
// A first path segment shaped like an AWS region is taken as the region;
// secret IDs may themselves contain slashes.
func ParseSecretsManagerReference(reference string) (SecretsManagerReference, error) {
	rest, ok := strings.CutPrefix(reference, "awssm://")
	if !ok {
		return SecretsManagerReference{}, &InvalidReferenceError{Reference: reference, Reason: "expected awssm:// scheme"}
	}
	var ref SecretsManagerReference
	rest, ref.Key, _ = strings.Cut(rest, "#")
	if first, after, found := strings.Cut(rest, "/"); found && looksLikeRegion(first) {
		ref.Region, rest = first, after
	}
	ref.SecretID = strings.TrimPrefix(rest, "/")
	if ref.SecretID == "" {
		return SecretsManagerReference{}, &InvalidReferenceError{Reference: reference, Reason: "missing secret ID"}
	}
	return ref, nil
}

// looksLikeRegion matches names such as us-east-1 or ap-southeast-2.
func looksLikeRegion(s string) bool {
	parts := strings.Split(s, "-")
	if len(parts) < 3 {
		return false
	}
	last := parts[len(parts)-1]
	if last == "" {
		return false
	}
	for _, c := range last {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(parts[0]) == 2
}

func (r *SecretsManagerResolver) classify(err error, reference, secretID string) error {
	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return &NotFoundError{Reference: reference, Backend: "AWS Secrets Manager"}
	}

	msg := err.Error()
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		msg = apiErr.ErrorCode() + ": " + apiErr.ErrorMessage()
	}
	if reason, fix, ok := classifyAWSMessage(msg, "secretsmanager:GetSecretValue on "+secretID); ok {
		return &BackendError{Backend: "AWS Secrets Manager", Reference: reference, Reason: reason, Fix: fix}
	}
	return &BackendError{Backend: "AWS Secrets Manager", Reference: reference, Reason: msg}
}

func defaultSecretsManagerClient(ctx context.Context, region string) (SecretsManagerAPI, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return secretsmanager.NewFromConfig(cfg), nil
}

func init() {
	Register(&SecretsManagerResolver{})
}
