package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"github.com/googleapis/gax-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/Lllllllleong/caselookupflow/internal/models"
)

func TestSearchPublisherEnqueueMany(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	client, err := pubsub.NewClient(ctx, "caselookup-test", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	topic, err := client.CreateTopic(ctx, "case-search")
	require.NoError(t, err)
	t.Cleanup(topic.Stop)

	pub := NewSearchPublisher(topic)
	require.NoError(t, pub.EnqueueMany(ctx, []string{"12CR000123", "12CR000124"}, "user-1", "ua/1.0"))

	msgs := srv.Messages()
	require.Len(t, msgs, 2)

	var got []models.SearchMessage
	for _, m := range msgs {
		var sm models.SearchMessage
		require.NoError(t, json.Unmarshal(m.Data, &sm))
		assert.Equal(t, sm.CaseNumber, m.Attributes["caseNumber"])
		assert.NotEmpty(t, m.Attributes["batchId"])
		got = append(got, sm)
	}
	sort.Slice(got, func(i, j int) bool { return got[i].CaseNumber < got[j].CaseNumber })
	assert.Equal(t, []models.SearchMessage{
		{CaseNumber: "12CR000123", UserID: "user-1", UserAgent: "ua/1.0"},
		{CaseNumber: "12CR000124", UserID: "user-1", UserAgent: "ua/1.0"},
	}, got)
}

func TestSearchPublisherEnqueueManyEmpty(t *testing.T) {
	pub := NewSearchPublisher(nil)
	assert.NoError(t, pub.EnqueueMany(context.Background(), nil, "user-1", ""))
}

type mockExecutions struct{ mock.Mock }

func (m *mockExecutions) CreateExecution(ctx context.Context, req *executionspb.CreateExecutionRequest, _ ...gax.CallOption) (*executionspb.Execution, error) {
	args := m.Called(ctx, req)
	exec, _ := args.Get(0).(*executionspb.Execution)
	return exec, args.Error(1)
}

func TestRetrievalWorkflowEnqueueOne(t *testing.T) {
	matchReq := mock.MatchedBy(func(req *executionspb.CreateExecutionRequest) bool {
		var arg models.RetrievalRequest
		if err := json.Unmarshal([]byte(req.GetExecution().GetArgument()), &arg); err != nil {
			return false
		}
		return req.GetParent() == "projects/p/locations/us-central1/workflows/case-data-retrieval" &&
			arg == models.RetrievalRequest{CaseNumber: "12CR000123", CaseID: "X1", UserID: "user-1"}
	})

	tests := []struct {
		name      string
		setup     func(m *mockExecutions)
		expectErr bool
	}{
		{
			name: "success",
			setup: func(m *mockExecutions) {
				m.On("CreateExecution", mock.Anything, matchReq).Return(&executionspb.Execution{Name: "exec-1"}, nil).Once()
			},
		},
		{
			name: "transient failure then success",
			setup: func(m *mockExecutions) {
				m.On("CreateExecution", mock.Anything, matchReq).Return(nil, errors.New("unavailable")).Once()
				m.On("CreateExecution", mock.Anything, matchReq).Return(&executionspb.Execution{Name: "exec-2"}, nil).Once()
			},
		},
		{
			name: "permanent failure",
			setup: func(m *mockExecutions) {
				m.On("CreateExecution", mock.Anything, matchReq).Return(nil, errors.New("permission denied"))
			},
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := new(mockExecutions)
			tt.setup(m)
			w := NewRetrievalWorkflow(m, "p", "us-central1", "case-data-retrieval")
			if tt.expectErr {
				w.maxRetries = 0
			}

			err := w.EnqueueOne(context.Background(), "12CR000123", "X1", "user-1")
			if tt.expectErr {
				assert.ErrorContains(t, err, "permission denied")
				return
			}
			require.NoError(t, err)
			m.AssertExpectations(t)
		})
	}
}

func TestRetrievalWorkflowRetryBudget(t *testing.T) {
	m := new(mockExecutions)
	m.On("CreateExecution", mock.Anything, mock.Anything).Return(nil, errors.New("unavailable"))

	base := NewRetrievalWorkflow(m, "p", "l", "w")
	w := base.WithRetryBudget(1, 5*time.Second)

	err := w.EnqueueOne(context.Background(), "12CR000123", "X1", "user-1")
	assert.ErrorContains(t, err, "unavailable")
	m.AssertNumberOfCalls(t, "CreateExecution", 2)
	assert.Equal(t, uint64(3), base.maxRetries)
	assert.Equal(t, 5*time.Second, w.maxElapsed)
}

func TestRetrievalWorkflowRetryBudgetElapsed(t *testing.T) {
	m := new(mockExecutions)
	m.On("CreateExecution", mock.Anything, mock.Anything).Return(nil, errors.New("unavailable"))

	w := NewRetrievalWorkflow(m, "p", "l", "w").WithRetryBudget(10, time.Nanosecond)

	start := time.Now()
	err := w.EnqueueOne(context.Background(), "12CR000123", "X1", "user-1")
	assert.ErrorContains(t, err, "unavailable")
	assert.Less(t, time.Since(start), 2*time.Second)
	m.AssertNumberOfCalls(t, "CreateExecution", 1)
}

func TestRetrievalWorkflowRequiresCaseID(t *testing.T) {
	w := NewRetrievalWorkflow(new(mockExecutions), "p", "l", "w")
	assert.Error(t, w.EnqueueOne(context.Background(), "12CR000123", "", "user-1"))
}

func TestPushAcknowledger(t *testing.T) {
	ack := NewPushAcknowledger("msg-1")
	assert.False(t, ack.Acked())
	assert.Error(t, ack.Acknowledge(context.Background(), "msg-2"))
	assert.False(t, ack.Acked())
	require.NoError(t, ack.Acknowledge(context.Background(), "msg-1"))
	assert.True(t, ack.Acked())
}

func TestDecodePush(t *testing.T) {
	good := models.MessagePublishedData{Message: models.PubSubMessage{
		MessageID: "m1",
		Data:      []byte(`{"caseNumber":"12CR000123","userId":"user-1","userAgent":"ua"}`),
	}}
	msg, err := DecodePush(good)
	require.NoError(t, err)
	assert.Equal(t, models.SearchMessage{CaseNumber: "12CR000123", UserID: "user-1", UserAgent: "ua"}, msg)

	_, err = DecodePush(models.MessagePublishedData{Message: models.PubSubMessage{MessageID: "m2", Data: []byte(`{"userId":"u"}`)}})
	assert.Error(t, err)

	_, err = DecodePush(models.MessagePublishedData{Message: models.PubSubMessage{MessageID: "m3", Data: []byte(`not json`)}})
	assert.Error(t, err)
}
