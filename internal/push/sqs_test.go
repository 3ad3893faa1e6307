package push

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockSQS struct {
	mock.Mock
}

func (m *mockSQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*sqs.SendMessageOutput)
	return out, args.Error(1)
}

func TestSQSNotifier_Notify(t *testing.T) {
	client := new(mockSQS)
	n := &SQSNotifier{client: client, queueURL: "http://q/push"}

	var sent *sqs.SendMessageInput
	client.On("SendMessage", mock.Anything, mock.AnythingOfType("*sqs.SendMessageInput")).
		Run(func(args mock.Arguments) { sent = args.Get(1).(*sqs.SendMessageInput) }).
		Return(&sqs.SendMessageOutput{}, nil).Once()

	err := n.Notify(context.Background(), "tok", Payload{EncryptedBody: "Zm9v", SenderID: "a1", ChatID: "a1_b1"})
	require.NoError(t, err)
	client.AssertExpectations(t)

	require.NotNil(t, sent)
	assert.Equal(t, "http://q/push", aws.ToString(sent.QueueUrl))

	var msg map[string]any
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(sent.MessageBody)), &msg))
	assert.Equal(t, "tok", msg["token"])
	data := msg["data"].(map[string]any)
	assert.Equal(t, "Zm9v", data["encryptedBody"])
	assert.Equal(t, "a1", data["senderID"])
	assert.Equal(t, "a1_b1", data["chatID"])
}

func TestSQSNotifier_SkipsEmptyToken(t *testing.T) {
	client := new(mockSQS)
	n := &SQSNotifier{client: client, queueURL: "q"}

	require.NoError(t, n.Notify(context.Background(), "", Payload{}))
	client.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything)
}

func TestSQSNotifier_WrapsError(t *testing.T) {
	client := new(mockSQS)
	n := &SQSNotifier{client: client, queueURL: "q"}
	boom := errors.New("boom")
	client.On("SendMessage", mock.Anything, mock.Anything).Return(nil, boom)

	err := n.Notify(context.Background(), "tok", Payload{})
	assert.ErrorIs(t, err, boom)
}

func TestLogNotifier(t *testing.T) {
	n := LogNotifier{Logger: zap.NewNop().Sugar()}
	assert.NoError(t, n.Notify(context.Background(), "tok", Payload{ChatID: "a_b"}))
}
