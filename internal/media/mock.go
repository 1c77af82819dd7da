package media

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"
)

type MockObjectStore struct {
	mock.Mock
}

func (m *MockObjectStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	args := m.Called(ctx, key, r, size, contentType)
	return args.Error(0)
}

type MockImageStore struct {
	mock.Mock
}

func (m *MockImageStore) Offload(ctx context.Context, roomId, image string) (string, error) {
	args := m.Called(ctx, roomId, image)
	return args.String(0), args.Error(1)
}
