package judge_test

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/THUSAAC-PSD/broccoli-sub000/internal/blob"
	"github.com/THUSAAC-PSD/broccoli-sub000/internal/contracts/message"
	"github.com/THUSAAC-PSD/broccoli-sub000/internal/domain"
)

func ptr[T any](v T) *T { return &v }

type mockSubmissionStore struct{ mock.Mock }

func (m *mockSubmissionStore) Create(ctx context.Context, sub *domain.Submission) error {
	return m.Called(ctx, sub).Error(0)
}

func (m *mockSubmissionStore) GetByID(ctx context.Context, id int32) (*domain.Submission, error) {
	args := m.Called(ctx, id)
	var sub *domain.Submission
	if v := args.Get(0); v != nil {
		sub = v.(*domain.Submission)
	}
	return sub, args.Error(1)
}

func (m *mockSubmissionStore) ApplyResult(ctx context.Context, result *domain.JudgeResult) error {
	return m.Called(ctx, result).Error(0)
}

func (m *mockSubmissionStore) MarkSystemError(ctx context.Context, id int32, errorCode, errorMessage string) error {
	return m.Called(ctx, id, errorCode, errorMessage).Error(0)
}

func (m *mockSubmissionStore) CountRecentByUser(ctx context.Context, userID int32, window time.Duration) (int, error) {
	args := m.Called(ctx, userID, window)
	return args.Int(0), args.Error(1)
}

type mockDLQWriter struct{ mock.Mock }

func (m *mockDLQWriter) SendToDLQ(ctx context.Context, env *domain.DLQEnvelope) (*domain.DLQEntry, error) {
	args := m.Called(ctx, env)
	var entry *domain.DLQEntry
	if v := args.Get(0); v != nil {
		entry = v.(*domain.DLQEntry)
	}
	return entry, args.Error(1)
}

type mockPublisher struct{ mock.Mock }

func (m *mockPublisher) Publish(ctx context.Context, queue, routingKey string, env *message.Envelope) error {
	return m.Called(ctx, queue, routingKey, env).Error(0)
}

type mockAttacher struct{ mock.Mock }

func (m *mockAttacher) AttachFile(ctx context.Context, ownerType string, ownerID int32, path, filename string, contentType *string, data []byte) (*blob.Ref, error) {
	args := m.Called(ctx, ownerType, ownerID, path, filename, contentType, data)
	var ref *blob.Ref
	if v := args.Get(0); v != nil {
		ref = v.(*blob.Ref)
	}
	return ref, args.Error(1)
}
