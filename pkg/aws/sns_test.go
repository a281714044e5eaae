package aws

import (
	"context"
	"errors"
	"testing"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSNS struct {
	inputs []*sns.PublishInput
	err    error
}

func (f *fakeSNS) Publish(_ context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.inputs = append(f.inputs, in)
	return &sns.PublishOutput{}, f.err
}

func TestSNSClient_Publish(t *testing.T) {
	api := &fakeSNS{}
	c := &SNSClient{api: api}

	require.NoError(t, c.Publish(context.Background(), "arn:aws:sns:us-east-1:1:payments", []byte(`{"a":1}`)))
	require.Len(t, api.inputs, 1)
	assert.Equal(t, `{"a":1}`, sdkaws.ToString(api.inputs[0].Message))
	assert.Nil(t, api.inputs[0].MessageGroupId)
}

func TestSNSClient_PublishFIFO(t *testing.T) {
	api := &fakeSNS{}
	c := &SNSClient{api: api}

	require.NoError(t, c.Publish(context.Background(), "arn:aws:sns:us-east-1:1:payments.fifo", []byte("x")))
	require.NoError(t, c.Publish(context.Background(), "arn:aws:sns:us-east-1:1:payments.fifo", []byte("x")))
	assert.Equal(t, fifoGroupID, sdkaws.ToString(api.inputs[0].MessageGroupId))
	assert.Equal(t, api.inputs[0].MessageDeduplicationId, api.inputs[1].MessageDeduplicationId)
}

func TestSNSClient_PublishErrors(t *testing.T) {
	c := &SNSClient{api: &fakeSNS{err: errors.New("denied")}}
	assert.ErrorIs(t, c.Publish(context.Background(), "", nil), ErrEmptyTopic)
	assert.ErrorContains(t, c.Publish(context.Background(), "arn:topic", []byte("x")), "denied")
}
