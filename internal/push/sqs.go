package push

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

type sqsAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// message - то, что получает воркер доставки из очереди.
type message struct {
	Token string  `json:"token"`
	Data  Payload `json:"data"`
}

// SQSNotifier кладёт уведомления в очередь SQS.
type SQSNotifier struct {
	client   sqsAPI
	queueURL string
}

// NewSQSNotifier создаёт клиента SQS. Непустой endpoint означает локальную
// разработку (elasticmq/localstack) с фиктивными ключами.
func NewSQSNotifier(ctx context.Context, queueURL, endpoint string) (*SQSNotifier, error) {
	if endpoint != "" {
		cfg, err := config.LoadDefaultConfig(ctx,
			config.WithRegion("us-east-1"),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("dummy", "dummy", "")),
		)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		client := sqs.NewFromConfig(cfg, func(o *sqs.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
		return &SQSNotifier{client: client, queueURL: queueURL}, nil
	}

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &SQSNotifier{client: sqs.NewFromConfig(cfg), queueURL: queueURL}, nil
}

func (n *SQSNotifier) Notify(ctx context.Context, token string, p Payload) error {
	if token == "" {
		return nil
	}
	body, err := json.Marshal(message{Token: token, Data: p})
	if err != nil {
		return err
	}
	_, err = n.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(n.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("sqs send: %w", err)
	}
	return nil
}
