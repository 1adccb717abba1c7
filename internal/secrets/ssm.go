package secrets

import (
	"context"
	"net/url"
	"strings"
)

// SSMResolver resolves ssm:///path and ssm://region/path from AWS Systems
// Manager Parameter Store using the aws CLI.
type SSMResolver struct{}

// Scheme returns "ssm".
func (r *SSMResolver) Scheme() string {
	return "ssm"
}

// Resolve fetches a parameter using `aws ssm get-parameter`.
func (r *SSMResolver) Resolve(ctx context.Context, reference string) (string, error) {
	region, paramPath, err := parseSSMReference(reference)
	if err != nil {
		return "", err
	}

	args := []string{
		"ssm", "get-parameter",
		"--name", paramPath,
		"--with-decryption",
		"--query", "Parameter.Value",
		"--output", "text",
	}
	if region != "" {
		args = append(args, "--region", region)
	}
	return runBackendCLI(ctx, "AWS SSM", "aws", "Install from https://aws.amazon.com/cli/",
		func(stderr []byte) error { return r.parseAWSError(stderr, reference, paramPath) },
		args...)
}

// parseSSMReference extracts region and parameter path from ssm:// URI.
// ssm:///path/to/param -> ("", "/path/to/param")
// ssm://us-west-2/path/to/param -> ("us-west-2", "/path/to/param")
func parseSSMReference(ref string) (region, path string, err error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", "", &InvalidReferenceError{Reference: ref, Reason: "invalid URI"}
	}
	if u.Scheme != "ssm" {
		return "", "", &InvalidReferenceError{Reference: ref, Reason: "expected ssm:// scheme"}
	}
	path = u.Path
	if path == "" || path[0] != '/' {
		return "", "", &InvalidReferenceError{Reference: ref, Reason: "parameter path must start with /"}
	}
	return u.Host, path, nil
}

// parseAWSError converts AWS CLI errors to actionable error types.
func (r *SSMResolver) parseAWSError(stderr []byte, reference, paramPath string) error {
	msg := string(stderr)

	if strings.Contains(msg, "ParameterNotFound") {
		return &NotFoundError{Reference: reference, Backend: "AWS SSM"}
	}
	if reason, fix, ok := classifyAWSMessage(msg, "ssm:GetParameter on "+paramPath); ok {
		return &BackendError{Backend: "AWS SSM", Reference: reference, Reason: reason, Fix: fix}
	}
	return &BackendError{
		Backend:   "AWS SSM",
		Reference: reference,
		Reason:    strings.TrimSpace(msg),
	}
}

// classifyAWSMessage recognises the AWS failures shared by every service.
// permission names the IAM action the caller needs.
func classifyAWSMessage(msg, permission string) (reason, fix string, ok bool) {
	switch {
	case strings.Contains(msg, "AccessDenied"):
		return "access denied", "Check IAM permissions for " + permission, true
	case strings.Contains(msg, "ExpiredToken"):
		return "AWS credentials expired", "Run: aws sso login\nOr refresh your credentials.", true
	case strings.Contains(msg, "Unable to locate credentials") || strings.Contains(msg, "failed to retrieve credentials"):
		return "no AWS credentials found",
			"Configure credentials:\n  aws configure\n  Or set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY\n  Or run: aws sso login", true
	case strings.Contains(msg, "Could not connect to the endpoint URL") || strings.Contains(msg, "no such host"):
		return "could not connect to AWS endpoint", "Check your region setting and network connectivity.", true
	}
	return "", "", false
}

func init() {
	Register(&SSMResolver{})
}
