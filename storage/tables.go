package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"

	"github.com/galsolomon2002/gamified-todo-app/domain"
)

const (
	edmBoolean  = "Edm.Boolean"
	edmInt32    = "Edm.Int32"
	edmDateTime = "Edm.DateTime"
)

// TableStorage keeps tasks and reward preferences in Azure Table Storage.
// Tasks are partitioned by user id with the task id as row key.
type TableStorage struct {
	taskTable     *aztables.Client
	settingsTable *aztables.Client
}

// TableClientOptions returns the client options shared by every table client.
func TableClientOptions() *aztables.ClientOptions {
	return &aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: 15 * time.Second,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
}

// NewTableStorage connects to the tasks and settings tables.
func NewTableStorage(connStr, tasksTable, settingsTable string) (*TableStorage, error) {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, TableClientOptions())
	if err != nil {
		return nil, fmt.Errorf("tables client: %w", err)
	}
	return &TableStorage{
		taskTable:     svc.NewClient(tasksTable),
		settingsTable: svc.NewClient(settingsTable),
	}, nil
}

// entity carries the table keys; Timestamp is owned by the service.
type entity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

type taskEntity struct {
	entity
	Title             string     `json:"Title"`
	Difficulty        string     `json:"Difficulty"`
	Points            int        `json:"Points"`
	PointsType        string     `json:"Points@odata.type,omitempty"`
	Completed         bool       `json:"Completed"`
	CompletedType     string     `json:"Completed@odata.type,omitempty"`
	ScheduledTime     *time.Time `json:"ScheduledTime,omitempty"`
	ScheduledTimeType string     `json:"ScheduledTime@odata.type,omitempty"`
}

type taskMerge struct {
	entity
	Completed     *bool   `json:"Completed,omitempty"`
	CompletedType *string `json:"Completed@odata.type,omitempty"`
}

type rewardsEntity struct {
	entity
	SmallReward string `json:"SmallReward"`
	BigReward   string `json:"BigReward"`
}

func encodeTaskEntity(userID, id string, d domain.Draft) ([]byte, error) {
	ent := taskEntity{
		entity:        entity{PartitionKey: userID, RowKey: id},
		Title:         d.Title,
		Difficulty:    string(d.Difficulty),
		Points:        d.Points,
		PointsType:    edmInt32,
		Completed:     d.Completed,
		CompletedType: edmBoolean,
	}
	if d.ScheduledTime != nil {
		at := d.ScheduledTime.UTC()
		ent.ScheduledTime = &at
		ent.ScheduledTimeType = edmDateTime
	}
	return sonic.Marshal(ent)
}

func decodeTaskEntity(data []byte) (domain.Task, error) {
	var ent taskEntity
	if err := sonic.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	return domain.Task{
		ID:            ent.RowKey,
		Title:         ent.Title,
		Difficulty:    domain.Difficulty(ent.Difficulty),
		Completed:     ent.Completed,
		Points:        ent.Points,
		ScheduledTime: ent.ScheduledTime,
	}, nil
}

func decodeRewardsEntity(data []byte) (domain.Rewards, error) {
	var ent rewardsEntity
	if err := sonic.Unmarshal(data, &ent); err != nil {
		return domain.Rewards{}, err
	}
	return domain.Rewards{Small: ent.SmallReward, Big: ent.BigReward}, nil
}

// partitionFilter builds an OData filter for one partition, quoting the key.
func partitionFilter(userID string) string {
	return "PartitionKey eq '" + strings.ReplaceAll(userID, "'", "''") + "'"
}

func isStatus(err error, code int) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == code
}

// FetchTasks lists every task of the user in row key order.
func (s *TableStorage) FetchTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	filter := partitionFilter(userID)
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list tasks: %w", err)
		}
		for _, e := range resp.Entities {
			t, err := decodeTaskEntity(e)
			if err != nil {
				return nil, fmt.Errorf("decode task: %w", err)
			}
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}

// InsertTask adds a new row and returns the task as written.
func (s *TableStorage) InsertTask(ctx context.Context, userID string, draft domain.Draft) (domain.Task, error) {
	id := newTaskID()
	payload, err := encodeTaskEntity(userID, id, draft)
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := s.taskTable.AddEntity(ctx, payload, nil); err != nil {
		return domain.Task{}, fmt.Errorf("add task: %w", err)
	}
	return decodeTaskEntity(payload)
}

// UpdateTask merges the patch into the row and reads it back.
func (s *TableStorage) UpdateTask(ctx context.Context, userID, id string, patch domain.Patch) (domain.Task, error) {
	ent := taskMerge{entity: entity{PartitionKey: userID, RowKey: id}}
	if patch.Completed != nil {
		t := edmBoolean
		ent.Completed = patch.Completed
		ent.CompletedType = &t
	}
	payload, err := sonic.Marshal(ent)
	if err != nil {
		return domain.Task{}, err
	}
	et := azcore.ETagAny
	_, err = s.taskTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return domain.Task{}, ErrTaskNotFound
		}
		return domain.Task{}, fmt.Errorf("update task %s: %w", id, err)
	}
	return s.getTask(ctx, userID, id)
}

// DeleteTask removes the row.
func (s *TableStorage) DeleteTask(ctx context.Context, userID, id string) error {
	if _, err := s.taskTable.DeleteEntity(ctx, userID, id, nil); err != nil {
		if isStatus(err, http.StatusNotFound) {
			return ErrTaskNotFound
		}
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	return nil
}

func (s *TableStorage) getTask(ctx context.Context, userID, id string) (domain.Task, error) {
	resp, err := s.taskTable.GetEntity(ctx, userID, id, nil)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return domain.Task{}, ErrTaskNotFound
		}
		return domain.Task{}, fmt.Errorf("get task %s: %w", id, err)
	}
	return decodeTaskEntity(resp.Value)
}

// FetchRewards reads the settings row. A user without one has no rewards yet.
func (s *TableStorage) FetchRewards(ctx context.Context, userID string) (domain.Rewards, error) {
	resp, err := s.settingsTable.GetEntity(ctx, userID, userID, nil)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return domain.Rewards{}, nil
		}
		return domain.Rewards{}, fmt.Errorf("get rewards: %w", err)
	}
	return decodeRewardsEntity(resp.Value)
}

// SaveRewards upserts the settings row.
func (s *TableStorage) SaveRewards(ctx context.Context, userID string, rewards domain.Rewards) error {
	payload, err := sonic.Marshal(rewardsEntity{
		entity:      entity{PartitionKey: userID, RowKey: userID},
		SmallReward: rewards.Small,
		BigReward:   rewards.Big,
	})
	if err != nil {
		return err
	}
	if _, err := s.settingsTable.UpsertEntity(ctx, payload, nil); err != nil {
		return fmt.Errorf("upsert rewards: %w", err)
	}
	return nil
}
