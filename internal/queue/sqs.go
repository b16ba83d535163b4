// Package queue carries asynchronous content-generation jobs over SQS so
// bulk listing copy can be produced without holding an HTTP request open.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/felipepmaragno/tourai/internal/capability"
)

type ContentJob struct {
	ID        string                    `json:"id"`
	Scope     string                    `json:"scope"`
	CallerID  string                    `json:"caller_id"`
	Request   capability.ContentRequest `json:"request"`
	CreatedAt time.Time                 `json:"created_at"`

	// ReceiptHandle is set on received jobs and never serialized.
	ReceiptHandle string `json:"-"`
}

type ContentResult struct {
	JobID       string              `json:"job_id"`
	CallerID    string              `json:"caller_id"`
	Content     *capability.Content `json:"content,omitempty"`
	Error       string              `json:"error,omitempty"`
	CompletedAt time.Time           `json:"completed_at"`
}

type Queue interface {
	SendJob(ctx context.Context, job ContentJob) error
	ReceiveJobs(ctx context.Context, maxMessages int) ([]ContentJob, error)
	DeleteJob(ctx context.Context, job ContentJob) error
	SendResult(ctx context.Context, result ContentResult) error
}

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

type SQSQueue struct {
	client          sqsAPI
	requestQueueURL string
	resultQueueURL  string
	waitSeconds     int32
}

func NewSQSQueue(ctx context.Context, region, requestQueueURL, resultQueueURL string) (*SQSQueue, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewSQSQueueWithConfig(cfg, requestQueueURL, resultQueueURL), nil
}

func NewSQSQueueWithConfig(cfg aws.Config, requestQueueURL, resultQueueURL string) *SQSQueue {
	return newSQSQueue(sqs.NewFromConfig(cfg), requestQueueURL, resultQueueURL)
}

func newSQSQueue(client sqsAPI, requestQueueURL, resultQueueURL string) *SQSQueue {
	return &SQSQueue{
		client:          client,
		requestQueueURL: requestQueueURL,
		resultQueueURL:  resultQueueURL,
		waitSeconds:     20,
	}
}

func stringAttr(v string) types.MessageAttributeValue {
	return types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(v)}
}

func (q *SQSQueue) SendJob(ctx context.Context, job ContentJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.requestQueueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"JobID":    stringAttr(job.ID),
			"CallerID": stringAttr(job.CallerID),
		},
	})
	if err != nil {
		return fmt.Errorf("send job: %w", err)
	}
	return nil
}

// ReceiveJobs long-polls the request queue. Undecodable messages are logged
// and left for the queue's redrive policy.
func (q *SQSQueue) ReceiveJobs(ctx context.Context, maxMessages int) ([]ContentJob, error) {
	result, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(q.requestQueueURL),
		MaxNumberOfMessages:   int32(maxMessages),
		WaitTimeSeconds:       q.waitSeconds,
		MessageAttributeNames: []string{"All"},
	})
	if err != nil {
		return nil, fmt.Errorf("receive jobs: %w", err)
	}

	jobs := make([]ContentJob, 0, len(result.Messages))
	for _, msg := range result.Messages {
		var job ContentJob
		if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &job); err != nil {
			slog.Warn("failed to unmarshal job", "message_id", aws.ToString(msg.MessageId), "error", err)
			continue
		}
		job.ReceiptHandle = aws.ToString(msg.ReceiptHandle)
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (q *SQSQueue) DeleteJob(ctx context.Context, job ContentJob) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.requestQueueURL),
		ReceiptHandle: aws.String(job.ReceiptHandle),
	})
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return nil
}

func (q *SQSQueue) SendResult(ctx context.Context, result ContentResult) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.resultQueueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"JobID":    stringAttr(result.JobID),
			"CallerID": stringAttr(result.CallerID),
			"Failed":   stringAttr(strconv.FormatBool(result.Error != "")),
		},
	})
	if err != nil {
		return fmt.Errorf("send result: %w", err)
	}
	return nil
}

// InMemoryQueue is used when no SQS queues are configured and in tests.
type InMemoryQueue struct {
	mu       sync.Mutex
	pending  []ContentJob
	inFlight map[string]ContentJob
	results  []ContentResult
	next     int
}

func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{inFlight: make(map[string]ContentJob)}
}

func (q *InMemoryQueue) SendJob(_ context.Context, job ContentJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, job)
	return nil
}

func (q *InMemoryQueue) ReceiveJobs(_ context.Context, maxMessages int) ([]ContentJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	count := min(maxMessages, len(q.pending))
	out := make([]ContentJob, count)
	for i := 0; i < count; i++ {
		job := q.pending[i]
		q.next++
		job.ReceiptHandle = strconv.Itoa(q.next)
		q.inFlight[job.ReceiptHandle] = job
		out[i] = job
	}
	q.pending = q.pending[count:]
	return out, nil
}

func (q *InMemoryQueue) DeleteJob(_ context.Context, job ContentJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inFlight, job.ReceiptHandle)
	return nil
}

// Requeue returns every received but undeleted job to the pending list,
// standing in for an SQS visibility timeout.
func (q *InMemoryQueue) Requeue() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.inFlight)
	for handle, job := range q.inFlight {
		job.ReceiptHandle = ""
		q.pending = append(q.pending, job)
		delete(q.inFlight, handle)
	}
	return n
}

func (q *InMemoryQueue) SendResult(_ context.Context, result ContentResult) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.results = append(q.results, result)
	return nil
}

func (q *InMemoryQueue) Results() []ContentResult {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]ContentResult, len(q.results))
	copy(out, q.results)
	return out
}

func (q *InMemoryQueue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inFlight)
}
