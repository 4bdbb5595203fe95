package nodes

import (
	"context"
	"errors"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/pgedge/crateflow/pkg/bulk"
	"github.com/pgedge/crateflow/pkg/config"
	"github.com/pgedge/crateflow/pkg/crate"
	"github.com/pgedge/crateflow/pkg/crate/mocks"
	"github.com/pgedge/crateflow/pkg/types"
	"github.com/stretchr/testify/require"
)

func results(counts ...int64) *crate.Response {
	resp := &crate.Response{Cols: []string{}}
	for _, c := range counts {
		res := crate.BulkResult{RowCount: c}
		if c == crate.FailedRowCount {
			res.ErrorMessage = "DuplicateKeyException"
		}
		resp.Results = append(resp.Results, res)
	}
	return resp
}

func newIngest(t *testing.T, exec crate.Executor, mapColumns bool, batchSize int) *IngestNode {
	t.Helper()
	node, err := NewIngestNode(config.NodeDef{
		Name:       "sink",
		Table:      "doc.events",
		MapColumns: mapColumns,
		BatchSize:  batchSize,
	}, "local", exec)
	require.NoError(t, err)
	return node
}

func TestIngestNode_MappedColumns(t *testing.T) {
	ctrl := gomock.NewController(t)
	exec := mocks.NewMockExecutor(ctrl)

	exec.EXPECT().
		Execute(gomock.Any(), &crate.Request{
			Stmt:     "INSERT INTO doc.events (a, b) VALUES (?, ?) ON CONFLICT DO NOTHING;",
			BulkArgs: [][]any{{int64(1), nil}, {int64(2), "x"}},
		}).
		Return(results(1, 1), nil)

	node := newIngest(t, exec, true, 0)
	out, err := node.Handle(context.Background(), &types.Message{
		Topic: "t",
		Payload: []any{
			bulk.NewRecord("a", int64(1)),
			bulk.NewRecord("a", int64(2), "b", "x"),
		},
	})
	require.NoError(t, err)
	require.Equal(t, "t", out.Topic)
	require.Nil(t, out.Payload)
	require.Nil(t, out.Error)
	require.Equal(t, &types.RecordStats{Total: 2, Errors: 0}, out.Records)
}

func TestIngestNode_FailedRowsBecomePayload(t *testing.T) {
	ctrl := gomock.NewController(t)
	exec := mocks.NewMockExecutor(ctrl)
	exec.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(results(1, crate.FailedRowCount, 1), nil)

	items := []any{
		bulk.NewRecord("id", int64(1)),
		bulk.NewRecord("id", int64(1)),
		bulk.NewRecord("id", int64(2)),
	}
	node := newIngest(t, exec, true, 0)
	out, err := node.Handle(context.Background(), &types.Message{Payload: items})
	require.NoError(t, err)
	require.Equal(t, &types.RecordStats{Total: 3, Errors: 1}, out.Records)
	require.Equal(t, []any{items[1]}, out.Payload)
}

func TestIngestNode_UnmappedWrapsPayload(t *testing.T) {
	ctrl := gomock.NewController(t)
	exec := mocks.NewMockExecutor(ctrl)

	item := bulk.NewRecord("k", "v")
	exec.EXPECT().
		Execute(gomock.Any(), &crate.Request{
			Stmt:     "INSERT INTO doc.events (payload) VALUES (?) ON CONFLICT DO NOTHING;",
			BulkArgs: [][]any{{item}},
		}).
		Return(results(1), nil)

	node := newIngest(t, exec, false, 0)
	out, err := node.Handle(context.Background(), &types.Message{Payload: item})
	require.NoError(t, err)
	require.Equal(t, 1, out.Records.Total)
}

func TestIngestNode_ServerErrorIsAttached(t *testing.T) {
	ctrl := gomock.NewController(t)
	exec := mocks.NewMockExecutor(ctrl)
	exec.EXPECT().Execute(gomock.Any(), gomock.Any()).
		Return(nil, &crate.Error{Message: "RelationUnknown[relation 'doc.events' unknown]", Code: 4041, Status: 404})

	item := bulk.NewRecord("a", int64(1))
	node := newIngest(t, exec, true, 0)
	out, err := node.Handle(context.Background(), &types.Message{Payload: []any{item}})
	require.NoError(t, err)
	require.NotNil(t, out.Error)
	require.Equal(t, 4041, out.Error.Code)
	require.Equal(t, &types.RecordStats{}, out.Records)
	require.Equal(t, []any{item}, out.Payload)
}

func TestIngestNode_ServerErrorKeepsEarlierFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	exec := mocks.NewMockExecutor(ctrl)
	gomock.InOrder(
		exec.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(results(1, crate.FailedRowCount), nil),
		exec.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(nil, &crate.Error{Message: "boom", Code: 4000, Status: 400}),
	)

	items := make([]any, 5)
	for i := range items {
		items[i] = bulk.NewRecord("n", int64(i))
	}

	var progressed int
	node := newIngest(t, exec, true, 2)
	node.OnBatch = func(n int) { progressed += n }

	out, err := node.Handle(context.Background(), &types.Message{Payload: items})
	require.NoError(t, err)
	require.NotNil(t, out.Error)
	require.Equal(t, 4000, out.Error.Code)
	require.Equal(t, &types.RecordStats{Total: 2, Errors: 1}, out.Records)
	// The rejected row of the first batch, then everything from the refused batch on.
	require.Equal(t, []any{items[1], items[2], items[3], items[4]}, out.Payload)
	require.Equal(t, 2, progressed)
}

func TestIngestNode_TransportErrorIsReturned(t *testing.T) {
	ctrl := gomock.NewController(t)
	exec := mocks.NewMockExecutor(ctrl)
	exec.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(nil, errors.New("dial tcp: connection refused"))

	node := newIngest(t, exec, true, 0)
	out, err := node.Handle(context.Background(), &types.Message{Payload: []any{bulk.NewRecord("a", int64(1))}})
	require.Error(t, err)
	require.Nil(t, out)
	require.Contains(t, err.Error(), "node sink")
}

func TestIngestNode_BatchSize(t *testing.T) {
	ctrl := gomock.NewController(t)
	exec := mocks.NewMockExecutor(ctrl)

	var sizes []int
	exec.EXPECT().Execute(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req *crate.Request) (*crate.Response, error) {
			sizes = append(sizes, len(req.BulkArgs))
			counts := make([]int64, len(req.BulkArgs))
			for i := range counts {
				counts[i] = 1
			}
			return results(counts...), nil
		}).
		Times(3)

	items := make([]any, 5)
	for i := range items {
		items[i] = bulk.NewRecord("n", int64(i))
	}

	node := newIngest(t, exec, true, 2)
	var progressed int
	node.OnBatch = func(n int) { progressed += n }

	out, err := node.Handle(context.Background(), &types.Message{Payload: items})
	require.NoError(t, err)
	require.Equal(t, []int{2, 2, 1}, sizes)
	require.Equal(t, 5, progressed)
	require.Equal(t, &types.RecordStats{Total: 5, Errors: 0}, out.Records)
}

func TestIngestNode_EmptyPayload(t *testing.T) {
	ctrl := gomock.NewController(t)
	exec := mocks.NewMockExecutor(ctrl)

	node := newIngest(t, exec, true, 0)
	out, err := node.Handle(context.Background(), &types.Message{})
	require.NoError(t, err)
	require.Equal(t, &types.RecordStats{}, out.Records)
	require.Nil(t, out.Payload)
}

func TestNewIngestNode_RejectsBadTable(t *testing.T) {
	for _, table := range []string{"", "a b", "t; DROP TABLE x", "a.b.c", `"unterminated`} {
		_, err := NewIngestNode(config.NodeDef{Name: "n", Table: table}, "local", nil)
		require.Error(t, err, table)
	}
	for _, table := range []string{"events", "doc.events", `"My Table"`, `doc."odd""name"`} {
		_, err := NewIngestNode(config.NodeDef{Name: "n", Table: table}, "local", nil)
		require.NoError(t, err, table)
	}
}
