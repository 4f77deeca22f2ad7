package adapters

import (
	"cmp"
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"github.com/af-corp/relay-gateway/internal/config"
	"github.com/af-corp/relay-gateway/internal/types"
)

// bedrockAPI is the subset of the bedrock runtime client the transport uses.
type bedrockAPI interface {
	InvokeModel(ctx context.Context, in *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
	InvokeModelWithResponseStream(ctx context.Context, in *bedrockruntime.InvokeModelWithResponseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelWithResponseStreamOutput, error)
}

type bedrockTransport struct {
	region   string
	endpoint string
	clients  *clientPool[bedrockAPI]
}

// NewBedrockBackend builds the region-addressed native backend. Runtime
// clients are created on first use per region and endpoint.
func NewBedrockBackend(cfg config.ProviderConfig) *NativeBackend {
	return newBedrockBackend(cfg, func(ctx context.Context, key poolKey) (bedrockAPI, error) {
		client, err := newBedrockClient(ctx, cfg.Profile, key.region, key.endpoint)
		if err != nil {
			return nil, err
		}
		return client, nil
	})
}

func newBedrockBackend(cfg config.ProviderConfig, build func(context.Context, poolKey) (bedrockAPI, error)) *NativeBackend {
	return &NativeBackend{
		versionTag: bedrockVersionTag,
		transport: &bedrockTransport{
			region:   cfg.Region,
			endpoint: cfg.Endpoint,
			clients:  newClientPool(build),
		},
	}
}

func newBedrockClient(ctx context.Context, profile, region, endpoint string) (*bedrockruntime.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
		// The variant loop decides what to try next; the SDK must not retry on its own.
		awsconfig.WithRetryer(func() aws.Retryer { return aws.NopRetryer{} }),
	}
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return bedrockruntime.NewFromConfig(awsCfg, func(o *bedrockruntime.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

func (t *bedrockTransport) send(ctx context.Context, payload []byte, v config.Variant, stream bool) (*RawResult, error) {
	key := poolKey{
		provider: "bedrock",
		region:   cmp.Or(v.Region, t.region),
		endpoint: cmp.Or(v.Endpoint, t.endpoint),
	}
	client, err := t.clients.get(ctx, key)
	if err != nil {
		return nil, err
	}

	if !stream {
		out, err := client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
			ModelId:     aws.String(v.Model),
			Body:        payload,
			ContentType: aws.String("application/json"),
			Accept:      aws.String("application/json"),
		})
		if err != nil {
			return nil, fmt.Errorf("invoke %s in %s: %w", v.Model, key.region, err)
		}
		return &RawResult{Body: out.Body}, nil
	}

	out, err := client.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
		ModelId:     aws.String(v.Model),
		Body:        payload,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return nil, fmt.Errorf("invoke stream %s in %s: %w", v.Model, key.region, err)
	}
	eventStream := out.GetStream()
	defer eventStream.Close()

	events := [][]byte{}
	for event := range eventStream.Events() {
		if chunk, ok := event.(*brtypes.ResponseStreamMemberChunk); ok {
			events = append(events, chunk.Value.Bytes)
		}
	}
	if err := eventStream.Err(); err != nil {
		return nil, fmt.Errorf("read stream %s in %s: %w", v.Model, key.region, err)
	}
	return &RawResult{Events: events}, nil
}

func (t *bedrockTransport) classify(err error) types.FailureClass {
	return classifyBedrockError(err)
}

// classifyBedrockError maps SDK errors onto the failure taxonomy using the
// modeled error code first and the HTTP status second.
func classifyBedrockError(err error) types.FailureClass {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "ServiceQuotaExceededException", "TooManyRequestsException":
			return types.FailureRateLimited
		case "AccessDeniedException", "UnrecognizedClientException", "ExpiredTokenException", "InvalidSignatureException":
			return types.FailureAuth
		case "ValidationException":
			return types.FailureBadRequest
		}
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		return classifyStatus(respErr.HTTPStatusCode())
	}
	return types.FailureOther
}
