package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sagemakerruntime"

	"github.com/airguard/airguard/pkg/types"
)

// endpointInvoker is the subset of the SageMaker runtime client used here.
type endpointInvoker interface {
	InvokeEndpoint(ctx context.Context, in *sagemakerruntime.InvokeEndpointInput, optFns ...func(*sagemakerruntime.Options)) (*sagemakerruntime.InvokeEndpointOutput, error)
}

// SageMaker scores readings with a hosted SageMaker endpoint. The endpoint
// takes the same JSON body as the HTTP classifier and answers in the same
// shape.
type SageMaker struct {
	api      endpointInvoker
	endpoint string
	labels   Labels
	timeout  time.Duration
}

// NewSageMaker loads the default AWS credential chain for region.
func NewSageMaker(ctx context.Context, region, endpoint string, timeout time.Duration, labels Labels) (*SageMaker, error) {
	opts := []func(*config.LoadOptions) error{}
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("classifier: load aws config: %w", err)
	}
	return &SageMaker{
		api:      sagemakerruntime.NewFromConfig(cfg),
		endpoint: endpoint,
		labels:   labels,
		timeout:  timeout,
	}, nil
}

func (s *SageMaker) Classify(ctx context.Context, req Request) (types.Classification, error) {
	if err := req.Validate(); err != nil {
		return types.Classification{}, err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return types.Classification{}, fmt.Errorf("classifier: encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, err := s.api.InvokeEndpoint(ctx, &sagemakerruntime.InvokeEndpointInput{
		EndpointName: aws.String(s.endpoint),
		Body:         body,
		ContentType:  aws.String("application/json"),
		Accept:       aws.String("application/json"),
	})
	if err != nil {
		return types.Classification{}, fmt.Errorf("%w: invoke %s: %v", ErrUnavailable, s.endpoint, err)
	}
	return decodeResponse(out.Body, s.labels)
}
