package anthropic

import (
	"context"
	"errors"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockClient implements Client for testing.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*MessageResponse), args.Error(1)
}

var _ Client = (*MockClient)(nil)

func TestCreateMessage_MockClient(t *testing.T) {
	m := new(MockClient)
	req := MessageRequest{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 2000,
		Messages: []Message{{
			Role:    "user",
			Content: "classify",
			Images:  []Image{{MediaType: "image/png", Data: "aGk="}},
		}},
	}
	m.On("CreateMessage", mock.Anything, req).Return(&MessageResponse{
		ID:      "msg_1",
		Content: []ContentBlock{{Type: "text", Text: `{"reasoning":"ok"}`}},
		Usage:   TokenUsage{InputTokens: 100, OutputTokens: 10},
	}, nil)

	resp, err := m.CreateMessage(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, `{"reasoning":"ok"}`, resp.Text())
	m.AssertExpectations(t)
}

func TestCreateMessage_MockClientError(t *testing.T) {
	m := new(MockClient)
	m.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("boom"))

	resp, err := m.CreateMessage(context.Background(), MessageRequest{})
	assert.Nil(t, resp)
	assert.EqualError(t, err, "boom")
}

func TestMessageResponse_Text(t *testing.T) {
	resp := &MessageResponse{Content: []ContentBlock{
		{Type: "text", Text: "{\"a\":"},
		{Type: "thinking", Text: "ignored"},
		{Type: "text", Text: "1}"},
	}}
	assert.Equal(t, `{"a":1}`, resp.Text())
}

func TestToSDKMessages_ImageBeforeText(t *testing.T) {
	msgs := toSDKMessages([]Message{{
		Role:    "user",
		Content: "describe",
		Images:  []Image{{MediaType: "image/jpeg", Data: "AAAA"}},
	}})
	require.Len(t, msgs, 1)
	assert.Equal(t, sdk.MessageParamRoleUser, msgs[0].Role)
	require.Len(t, msgs[0].Content, 2)
	assert.NotNil(t, msgs[0].Content[0].OfImage)
	require.NotNil(t, msgs[0].Content[1].OfText)
	assert.Equal(t, "describe", msgs[0].Content[1].OfText.Text)
}

func TestToSDKMessages_Roles(t *testing.T) {
	msgs := toSDKMessages([]Message{
		{Role: "user", Content: "q"},
		{Role: "assistant", Content: "a"},
		{Role: "system-ish", Content: "x"},
	})
	require.Len(t, msgs, 3)
	assert.Equal(t, sdk.MessageParamRoleUser, msgs[0].Role)
	assert.Equal(t, sdk.MessageParamRoleAssistant, msgs[1].Role)
	assert.Equal(t, sdk.MessageParamRoleUser, msgs[2].Role)
}

func TestToSDKMessages_EmptyContentKeepsTextBlock(t *testing.T) {
	msgs := toSDKMessages([]Message{{Role: "user"}})
	require.Len(t, msgs[0].Content, 1)
	assert.NotNil(t, msgs[0].Content[0].OfText)
}

func TestToSDKSystemBlocks(t *testing.T) {
	blocks := toSDKSystemBlocks([]SystemBlock{{Text: "one"}, {Text: "two"}})
	require.Len(t, blocks, 2)
	assert.Equal(t, "one", blocks[0].Text)
	assert.Equal(t, "two", blocks[1].Text)
}

func TestFromSDKMessage(t *testing.T) {
	resp := fromSDKMessage(&sdk.Message{
		ID:         "msg_test_123",
		Model:      "claude-sonnet-4-5-20250929",
		StopReason: "end_turn",
		Content: []sdk.ContentBlockUnion{
			{Type: "text", Text: "Hello world"},
		},
		Usage: sdk.Usage{InputTokens: 100, OutputTokens: 50},
	})
	assert.Equal(t, "msg_test_123", resp.ID)
	assert.Equal(t, "claude-sonnet-4-5-20250929", resp.Model)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, "Hello world", resp.Text())
	assert.Equal(t, int64(100), resp.Usage.InputTokens)
	assert.Equal(t, int64(50), resp.Usage.OutputTokens)
}

func TestAPIError(t *testing.T) {
	inner := errors.New("overloaded")
	err := &APIError{StatusCode: 529, Err: inner}
	assert.Equal(t, 529, err.HTTPStatus())
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "529")
}

func TestNewClient_ReturnsNonNil(t *testing.T) {
	assert.NotNil(t, NewClient("key", ""))
	assert.NotNil(t, NewClient("key", "http://localhost:1"))
}
