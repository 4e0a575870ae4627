package dynamodb

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/tasknest/taskbot/pkg/models"
)

// TaskRepository handles DynamoDB operations for tasks. It implements the
// handler's TaskStore interface.
type TaskRepository struct {
	client    *dynamodb.Client
	tableName string
	timeout   time.Duration
}

// NewTaskRepository creates a new task repository
func NewTaskRepository(client *dynamodb.Client, tableName string, timeout time.Duration) *TaskRepository {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &TaskRepository{
		client:    client,
		tableName: tableName,
		timeout:   timeout,
	}
}

// Create stores a new task record
func (r *TaskRepository) Create(ctx context.Context, task *models.Task) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	item, err := attributevalue.MarshalMap(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &r.tableName,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("put item: %w", err)
	}

	log.Printf("saved task %s for channel %s", task.TaskID, task.ChannelID)
	return nil
}

// ListOpen retrieves the open tasks for a channel, oldest first
func (r *TaskRepository) ListOpen(ctx context.Context, channelID string) ([]models.Task, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	result, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              &r.tableName,
		IndexName:              stringPtr("ChannelIndex"),
		KeyConditionExpression: stringPtr("channel_id = :channelId"),
		FilterExpression:       stringPtr("#status = :open"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":channelId": &types.AttributeValueMemberS{Value: channelID},
			":open":      &types.AttributeValueMemberS{Value: models.TaskStatusOpen},
		},
		ScanIndexForward: boolPtr(true), // Oldest first
	})
	if err != nil {
		return nil, fmt.Errorf("query by channel: %w", err)
	}

	var tasks []models.Task
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &tasks); err != nil {
		return nil, fmt.Errorf("unmarshal tasks: %w", err)
	}

	return tasks, nil
}

// Complete marks a task done and returns the updated record
func (r *TaskRepository) Complete(ctx context.Context, channelID, taskID string) (*models.Task, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	updateExpr := "SET #status = :done, completed_at = :now"
	result, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: &r.tableName,
		Key: map[string]types.AttributeValue{
			"task_id": &types.AttributeValueMemberS{Value: taskID},
		},
		UpdateExpression:    &updateExpr,
		ConditionExpression: stringPtr("channel_id = :channelId"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":done":      &types.AttributeValueMemberS{Value: models.TaskStatusDone},
			":now":       &types.AttributeValueMemberS{Value: time.Now().Format(time.RFC3339)},
			":channelId": &types.AttributeValueMemberS{Value: channelID},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		return nil, fmt.Errorf("update item: %w", err)
	}

	var task models.Task
	if err := attributevalue.UnmarshalMap(result.Attributes, &task); err != nil {
		return nil, fmt.Errorf("unmarshal task: %w", err)
	}

	log.Printf("completed task %s in channel %s", taskID, channelID)
	return &task, nil
}

// Helper functions
func stringPtr(s string) *string {
	return &s
}

func boolPtr(b bool) *bool {
	return &b
}
