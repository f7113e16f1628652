package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
)

// Message is one dequeued queue message. It stays invisible to other
// consumers until its visibility timeout lapses or it is deleted.
type Message struct {
	ID         string
	PopReceipt string
	Text       string
}

// Queue is the source of committed domain events.
type Queue interface {
	// Dequeue returns the next message, or nil when the queue is empty.
	Dequeue(ctx context.Context) (*Message, error)
	Delete(ctx context.Context, id, popReceipt string) error
}

// AzureQueue reads events from an Azure storage queue.
type AzureQueue struct {
	client *azqueue.QueueClient
}

// NewAzureQueue creates a queue client from a storage connection string.
func NewAzureQueue(connStr, queueName string) (*AzureQueue, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: time.Second * 30,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	client, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &opts)
	if err != nil {
		return nil, err
	}
	return &AzureQueue{client: client}, nil
}

func (q *AzureQueue) Dequeue(ctx context.Context) (*Message, error) {
	resp, err := q.client.DequeueMessage(ctx, nil)
	if err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, nil
	}
	m := resp.Messages[0]
	msg := &Message{}
	if m.MessageID != nil {
		msg.ID = *m.MessageID
	}
	if m.PopReceipt != nil {
		msg.PopReceipt = *m.PopReceipt
	}
	if m.MessageText != nil {
		msg.Text = *m.MessageText
	}
	return msg, nil
}

func (q *AzureQueue) Delete(ctx context.Context, id, popReceipt string) error {
	_, err := q.client.DeleteMessage(ctx, id, popReceipt, nil)
	return err
}

// Ensure creates the queue if it does not exist yet.
func (q *AzureQueue) Ensure(ctx context.Context) error {
	if _, err := q.client.Create(ctx, nil); err != nil && !queueExists(err) {
		return err
	}
	return nil
}

func queueExists(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.ErrorCode == "QueueAlreadyExists"
}
