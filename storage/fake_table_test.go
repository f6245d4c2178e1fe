package storage

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
)

func responseError(status int) error {
	req, _ := http.NewRequest(http.MethodGet, "https://account.table.core.windows.net/projects", nil)
	return &azcore.ResponseError{
		StatusCode:  status,
		ErrorCode:   http.StatusText(status),
		RawResponse: &http.Response{StatusCode: status, Request: req, Body: http.NoBody, Header: http.Header{}},
	}
}

type fakeRow struct {
	data []byte
	etag int
}

// fakeTable emulates the subset of aztables used by Storage.
type fakeTable struct {
	mu           sync.Mutex
	rows         map[string]fakeRow
	transactions int
	failTx       error
	lastFilter   string
}

func newFakeTable() *fakeTable {
	return &fakeTable{rows: map[string]fakeRow{}}
}

func rowID(pk, rk string) string { return pk + "/" + rk }

func (f *fakeTable) GetEntity(ctx context.Context, pk, rk string, o *aztables.GetEntityOptions) (aztables.GetEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[rowID(pk, rk)]
	if !ok {
		return aztables.GetEntityResponse{}, responseError(http.StatusNotFound)
	}
	return aztables.GetEntityResponse{ETag: azcore.ETag(strconv.Itoa(row.etag)), Value: row.data}, nil
}

func (f *fakeTable) UpdateEntity(ctx context.Context, entity []byte, o *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error) {
	meta, err := entityKeys(entity)
	if err != nil {
		return aztables.UpdateEntityResponse{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := rowID(meta.PartitionKey, meta.RowKey)
	row, ok := f.rows[id]
	if !ok {
		return aztables.UpdateEntityResponse{}, responseError(http.StatusNotFound)
	}
	if o != nil && o.IfMatch != nil && *o.IfMatch != azcore.ETagAny && string(*o.IfMatch) != strconv.Itoa(row.etag) {
		return aztables.UpdateEntityResponse{}, responseError(http.StatusPreconditionFailed)
	}
	f.rows[id] = fakeRow{data: entity, etag: row.etag + 1}
	return aztables.UpdateEntityResponse{}, nil
}

func (f *fakeTable) SubmitTransaction(ctx context.Context, actions []aztables.TransactionAction, o *aztables.SubmitTransactionOptions) (aztables.TransactionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transactions++
	if f.failTx != nil {
		return aztables.TransactionResponse{}, f.failTx
	}
	staged := map[string][]byte{}
	for _, a := range actions {
		meta, err := entityKeys(a.Entity)
		if err != nil {
			return aztables.TransactionResponse{}, err
		}
		id := rowID(meta.PartitionKey, meta.RowKey)
		if _, exists := f.rows[id]; exists {
			return aztables.TransactionResponse{}, responseError(http.StatusConflict)
		}
		staged[id] = a.Entity
	}
	for id, data := range staged {
		f.rows[id] = fakeRow{data: data, etag: 1}
	}
	return aztables.TransactionResponse{}, nil
}

// NewListEntitiesPager understands the "RowKey eq 'x' and OrganizationId eq 'y'"
// filter produced by ListProjects.
func (f *fakeTable) NewListEntitiesPager(o *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse] {
	f.mu.Lock()
	filter := ""
	if o != nil && o.Filter != nil {
		filter = *o.Filter
	}
	f.lastFilter = filter
	var entities [][]byte
	for _, row := range f.rows {
		var props map[string]any
		if err := sonic.Unmarshal(row.data, &props); err != nil {
			continue
		}
		if matchesFilter(props, filter) {
			entities = append(entities, row.data)
		}
	}
	f.mu.Unlock()

	return runtime.NewPager(runtime.PagingHandler[aztables.ListEntitiesResponse]{
		More: func(aztables.ListEntitiesResponse) bool { return false },
		Fetcher: func(ctx context.Context, _ *aztables.ListEntitiesResponse) (aztables.ListEntitiesResponse, error) {
			return aztables.ListEntitiesResponse{Entities: entities}, nil
		},
	})
}

func matchesFilter(props map[string]any, filter string) bool {
	for _, clause := range strings.Split(filter, " and ") {
		name, value, ok := strings.Cut(clause, " eq ")
		if !ok {
			continue
		}
		value = strings.TrimSuffix(strings.TrimPrefix(value, "'"), "'")
		value = strings.ReplaceAll(value, "''", "'")
		if got, _ := props[name].(string); got != value {
			return false
		}
	}
	return true
}

func entityKeys(entity []byte) (documentMeta, error) {
	var meta documentMeta
	err := sonic.Unmarshal(entity, &meta)
	return meta, err
}

type fakeQueue struct {
	mu       sync.Mutex
	messages []string
	inFlight int
	max      int
	failAt   int
	deleted  []string
}

func newFakeQueue() *fakeQueue { return &fakeQueue{failAt: -1} }

func (f *fakeQueue) EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error) {
	f.mu.Lock()
	idx := len(f.messages)
	f.messages = append(f.messages, content)
	f.inFlight++
	if f.inFlight > f.max {
		f.max = f.inFlight
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()
	if idx == f.failAt {
		return azqueue.EnqueueMessagesResponse{}, responseError(http.StatusServiceUnavailable)
	}
	return azqueue.EnqueueMessagesResponse{}, nil
}

func (f *fakeQueue) DequeueMessage(ctx context.Context, o *azqueue.DequeueMessageOptions) (azqueue.DequeueMessagesResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.messages) == 0 {
		return azqueue.DequeueMessagesResponse{}, nil
	}
	text := f.messages[0]
	id := "m" + strconv.Itoa(len(f.deleted))
	receipt := "r-" + id
	count := int64(1)
	return azqueue.DequeueMessagesResponse{
		Messages: []*azqueue.DequeuedMessage{{MessageID: &id, PopReceipt: &receipt, MessageText: &text, DequeueCount: &count}},
	}, nil
}

func (f *fakeQueue) DeleteMessage(ctx context.Context, messageID, popReceipt string, o *azqueue.DeleteMessageOptions) (azqueue.DeleteMessageResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.messages) > 0 {
		f.messages = f.messages[1:]
	}
	f.deleted = append(f.deleted, messageID)
	return azqueue.DeleteMessageResponse{}, nil
}
