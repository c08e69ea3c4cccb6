package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/bytedance/sonic"

	"github.com/GeneralTask/task-manager-sub001/domain"
	"github.com/GeneralTask/task-manager-sub001/workspace"
)

// Memory is a process local Backend. Documents are kept encoded so callers
// never share slices with the stored copy.
type Memory struct {
	mu   sync.Mutex
	docs map[string]memoryDoc
	seq  uint64
}

type memoryDoc struct {
	data []byte
	etag string
}

func NewMemory() *Memory {
	return &Memory{docs: make(map[string]memoryDoc)}
}

func (m *Memory) Load(ctx context.Context, userID string) (workspace.Workspace, string, error) {
	m.mu.Lock()
	doc, ok := m.docs[userID]
	m.mu.Unlock()
	if !ok {
		return workspace.Workspace{}, "", fmt.Errorf("workspace %s: %w", userID, domain.ErrNotFound)
	}
	var ws workspace.Workspace
	if err := sonic.Unmarshal(doc.data, &ws); err != nil {
		return workspace.Workspace{}, "", fmt.Errorf("decode workspace %s: %w", userID, err)
	}
	return ws, doc.etag, nil
}

func (m *Memory) Save(ctx context.Context, ws workspace.Workspace, etag string) (string, error) {
	data, err := sonic.Marshal(ws)
	if err != nil {
		return "", fmt.Errorf("encode workspace %s: %w", ws.UserID, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, exists := m.docs[ws.UserID]
	if etag == "" && exists || etag != "" && (!exists || cur.etag != etag) {
		return "", domain.ErrConcurrencyConflict
	}
	m.seq++
	next := fmt.Sprintf("W/\"%d\"", m.seq)
	m.docs[ws.UserID] = memoryDoc{data: data, etag: next}
	return next, nil
}
