package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"

	"github.com/GeneralTask/task-manager-sub001/domain"
	"github.com/GeneralTask/task-manager-sub001/workspace"
)

const (
	workspaceRowKey = "workspace"
	// Table storage caps string properties at 64KiB.
	maxEntityData = 64 * 1024
)

var errWorkspaceTooLarge = errors.New("workspace exceeds table entity size")

type tableClient interface {
	GetEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	AddEntity(ctx context.Context, entity []byte, options *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
	UpdateEntity(ctx context.Context, entity []byte, options *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error)
}

// Tables stores one entity per user in an Azure table: PartitionKey is the
// user id and Data holds the JSON encoded workspace.
type Tables struct {
	table tableClient
}

type workspaceEntity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
	Data         string `json:"Data"`
}

// NewTables connects to tableName using connStr.
func NewTables(connStr, tableName string) (*Tables, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &Tables{table: svc.NewClient(tableName)}, nil
}

func (t *Tables) Load(ctx context.Context, userID string) (workspace.Workspace, string, error) {
	resp, err := t.table.GetEntity(ctx, userID, workspaceRowKey, nil)
	if err != nil {
		return workspace.Workspace{}, "", mapTableError(userID, err)
	}
	ws, err := decodeWorkspaceEntity(resp.Value)
	if err != nil {
		return workspace.Workspace{}, "", fmt.Errorf("decode workspace %s: %w", userID, err)
	}
	return ws, string(resp.ETag), nil
}

func (t *Tables) Save(ctx context.Context, ws workspace.Workspace, etag string) (string, error) {
	payload, err := encodeWorkspaceEntity(ws)
	if err != nil {
		return "", err
	}
	if etag == "" {
		resp, err := t.table.AddEntity(ctx, payload, nil)
		if err != nil {
			return "", mapTableError(ws.UserID, err)
		}
		return string(resp.ETag), nil
	}
	et := azcore.ETag(etag)
	resp, err := t.table.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeReplace})
	if err != nil {
		return "", mapTableError(ws.UserID, err)
	}
	return string(resp.ETag), nil
}

func encodeWorkspaceEntity(ws workspace.Workspace) ([]byte, error) {
	data, err := sonic.Marshal(ws)
	if err != nil {
		return nil, fmt.Errorf("encode workspace %s: %w", ws.UserID, err)
	}
	if len(data) > maxEntityData {
		return nil, fmt.Errorf("workspace %s is %d bytes: %w", ws.UserID, len(data), errWorkspaceTooLarge)
	}
	return sonic.Marshal(workspaceEntity{PartitionKey: ws.UserID, RowKey: workspaceRowKey, Data: string(data)})
}

func decodeWorkspaceEntity(raw []byte) (workspace.Workspace, error) {
	var ent workspaceEntity
	if err := sonic.Unmarshal(raw, &ent); err != nil {
		return workspace.Workspace{}, err
	}
	var ws workspace.Workspace
	if err := sonic.UnmarshalString(ent.Data, &ws); err != nil {
		return workspace.Workspace{}, err
	}
	if ws.UserID == "" {
		ws.UserID = ent.PartitionKey
	}
	return ws, nil
}

func mapTableError(userID string, err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("workspace %s: %w", userID, domain.ErrNotFound)
		case http.StatusConflict, http.StatusPreconditionFailed:
			return fmt.Errorf("workspace %s: %w", userID, domain.ErrConcurrencyConflict)
		}
	}
	return err
}
