package doctor

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/majorcontext/eccs-e2e/internal/secrets"
	"github.com/majorcontext/eccs-e2e/internal/ui"
)

// CallerIdentityAPI is the STS call the AWS section makes.
type CallerIdentityAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// AWSSection shows which AWS identity resolves awssm:// and ssm://
// references. It is quiet when no configured value uses AWS.
type AWSSection struct {
	// Values are the configured secrets, possibly references.
	Values []string
	// NewClient defaults to an STS client from the SDK's default chain.
	NewClient func(ctx context.Context, region string) (CallerIdentityAPI, error)
}

func (s *AWSSection) Name() string { return "AWS" }

func (s *AWSSection) Print(w io.Writer) error {
	region, used := s.awsRegion()
	if !used {
		fmt.Fprintln(w, ui.Dim("No AWS secret references configured"))
		return nil
	}

	newClient := s.NewClient
	if newClient == nil {
		newClient = defaultSTSClient
	}
	ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()

	client, err := newClient(ctx, region)
	if err != nil {
		return fmt.Errorf("loading AWS config: %w", err)
	}
	out, err := client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		fmt.Fprintf(w, "%s GetCallerIdentity failed: %v\n", ui.FailTag(), err)
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Account:\t%s\n", aws.ToString(out.Account))
	fmt.Fprintf(tw, "Identity:\t%s\n", aws.ToString(out.Arn))
	if region != "" {
		fmt.Fprintf(tw, "Region:\t%s\n", region)
	}
	return tw.Flush()
}

// awsRegion reports whether any value is an AWS reference and the first
// explicit region among them.
func (s *AWSSection) awsRegion() (string, bool) {
	used := false
	region := ""
	for _, v := range s.Values {
		switch {
		case strings.HasPrefix(v, "awssm://"):
			used = true
			if ref, err := secrets.ParseSecretsManagerReference(v); err == nil && region == "" {
				region = ref.Region
			}
		case strings.HasPrefix(v, "ssm://"):
			used = true
		}
	}
	return region, used
}

func defaultSTSClient(ctx context.Context, region string) (CallerIdentityAPI, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return sts.NewFromConfig(cfg), nil
}
