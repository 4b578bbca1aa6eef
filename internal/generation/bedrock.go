package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
)

// AWSConfig holds the credentials shared by the Bedrock clients.
type AWSConfig struct {
	// Region is the AWS region (default: us-east-1).
	Region string

	// AccessKeyID for explicit credentials. The default chain is used when empty.
	AccessKeyID string

	// SecretAccessKey for explicit credentials.
	SecretAccessKey string

	// SessionToken for temporary credentials.
	SessionToken string
}

func loadAWSConfig(ctx context.Context, cfg AWSConfig) (aws.Config, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			cfg.SessionToken,
		)))
	}
	return config.LoadDefaultConfig(ctx, opts...)
}

// BedrockConfig configures BedrockClient.
type BedrockConfig struct {
	AWSConfig

	// DefaultModel is used when a request names no model.
	DefaultModel string

	// MaxTokens caps the response. Default: 8192
	MaxTokens int
}

// ConverseAPI is the subset of the Bedrock runtime client used here.
type ConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockClient generates with the Bedrock Converse API.
type BedrockClient struct {
	client       ConverseAPI
	defaultModel string
	maxTokens    int
}

var _ Client = (*BedrockClient)(nil)

// NewBedrockClient loads AWS configuration and creates a Bedrock client.
func NewBedrockClient(ctx context.Context, cfg BedrockConfig) (*BedrockClient, error) {
	awsCfg, err := loadAWSConfig(ctx, cfg.AWSConfig)
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to load AWS config: %w", err)
	}
	return NewBedrockClientWithAPI(bedrockruntime.NewFromConfig(awsCfg), cfg), nil
}

// NewBedrockClientWithAPI wraps an existing runtime client.
func NewBedrockClientWithAPI(api ConverseAPI, cfg BedrockConfig) *BedrockClient {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "anthropic.claude-3-5-sonnet-20240620-v1:0"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 8192
	}
	return &BedrockClient{client: api, defaultModel: cfg.DefaultModel, maxTokens: cfg.MaxTokens}
}

// Generate implements Client.
func (c *BedrockClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, errors.New("request is nil")
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.defaultModel
	}

	out, err := c.client.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: aws.String(model),
		Messages: []types.Message{
			{
				Role: types.ConversationRoleUser,
				Content: []types.ContentBlock{
					&types.ContentBlockMemberText{Value: req.Prompt},
				},
			},
		},
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens: aws.Int32(int32(maxTokens(req, c.maxTokens))),
		},
	})
	if err != nil {
		return nil, wrapBedrockError(err, model)
	}

	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return nil, NewError("bedrock", model, errors.New("malformed response: no message output"))
	}
	var text strings.Builder
	for _, block := range msg.Value.Content {
		if tb, ok := block.(*types.ContentBlockMemberText); ok {
			text.WriteString(tb.Value)
		}
	}

	resp := &Response{Output: text.String(), Model: model, Provider: "bedrock"}
	if out.Usage != nil {
		resp.Usage = Usage{
			InputTokens:  int(aws.ToInt32(out.Usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(out.Usage.OutputTokens)),
		}
	}
	return resp, nil
}

func wrapBedrockError(err error, model string) error {
	genErr := NewError("bedrock", model, err)
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		genErr = genErr.WithStatus(respErr.HTTPStatusCode())
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		genErr = genErr.WithCode(apiErr.ErrorCode())
		if msg := apiErr.ErrorMessage(); msg != "" {
			genErr = genErr.WithMessage(msg)
		}
	}
	return genErr
}
