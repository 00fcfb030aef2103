package tasks_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"fieldops/inquiry/internal/config"
	"fieldops/inquiry/internal/storage"
	"fieldops/inquiry/internal/tasks"
)

// --- Mocks ---

type MockS3Storage struct {
	mock.Mock
}

func (m *MockS3Storage) GeneratePresignedPutURL(ctx context.Context, userID, filename, contentType string) (string, string, error) {
	args := m.Called(ctx, userID, filename, contentType)
	return args.String(0), args.String(1), args.Error(2)
}

func (m *MockS3Storage) GetObject(ctx context.Context, key string) (io.ReadCloser, string, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.String(1), args.Error(2)
	}
	return args.Get(0).(io.ReadCloser), args.String(1), args.Error(2)
}

func (m *MockS3Storage) PutObject(ctx context.Context, key string, body io.Reader, contentType string) error {
	data, _ := io.ReadAll(body)
	args := m.Called(ctx, key, data, contentType)
	return args.Error(0)
}

func (m *MockS3Storage) PublicURL(key string) string {
	return m.Called(key).String(0)
}

func jpegOf(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, x%h, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func photoTask(t *testing.T, key string) *asynq.Task {
	task, err := tasks.NewPhotoNormalizeTask(tasks.PhotoTaskPayload{ObjectKey: key, UserID: "u1"})
	require.NoError(t, err)
	return task
}

// --- Tests ---

func TestHandlePhotoNormalizeTask_ResizesLargePhoto(t *testing.T) {
	store := new(MockS3Storage)
	cfg := &config.Config{ImageMaxDimension: 64, ImageMaxSizeMB: 1}
	p := tasks.NewTaskProcessor(cfg, store)
	key := "inquiries/u1/abc_site.jpg"

	store.On("GetObject", mock.Anything, key).Return(io.NopCloser(bytes.NewReader(jpegOf(t, 200, 100))), "image/jpeg", nil)
	store.On("PutObject", mock.Anything, key, mock.MatchedBy(func(data []byte) bool {
		img, _, err := image.Decode(bytes.NewReader(data))
		return err == nil && img.Bounds().Dx() <= 64 && img.Bounds().Dy() <= 64
	}), "image/jpeg").Return(nil)

	err := p.HandlePhotoNormalizeTask(context.Background(), photoTask(t, key))
	assert.NoError(t, err)
	store.AssertExpectations(t)
}

func TestHandlePhotoNormalizeTask_SmallPhotoUntouched(t *testing.T) {
	store := new(MockS3Storage)
	cfg := &config.Config{ImageMaxDimension: 512, ImageMaxSizeMB: 1}
	p := tasks.NewTaskProcessor(cfg, store)
	key := "inquiries/u1/small.jpg"

	store.On("GetObject", mock.Anything, key).Return(io.NopCloser(bytes.NewReader(jpegOf(t, 40, 30))), "image/jpeg", nil)

	err := p.HandlePhotoNormalizeTask(context.Background(), photoTask(t, key))
	assert.NoError(t, err)
	store.AssertNotCalled(t, "PutObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandlePhotoNormalizeTask_MissingObjectSkipsRetry(t *testing.T) {
	store := new(MockS3Storage)
	p := tasks.NewTaskProcessor(&config.Config{ImageMaxDimension: 64, ImageMaxSizeMB: 1}, store)
	key := "inquiries/u1/gone.jpg"
	store.On("GetObject", mock.Anything, key).Return(nil, "", storage.ErrObjectNotFound)

	err := p.HandlePhotoNormalizeTask(context.Background(), photoTask(t, key))
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestHandlePhotoNormalizeTask_CorruptImageSkipsRetry(t *testing.T) {
	store := new(MockS3Storage)
	p := tasks.NewTaskProcessor(&config.Config{ImageMaxDimension: 64, ImageMaxSizeMB: 1}, store)
	key := "inquiries/u1/bad.jpg"
	store.On("GetObject", mock.Anything, key).Return(io.NopCloser(bytes.NewReader([]byte("not an image"))), "image/jpeg", nil)

	err := p.HandlePhotoNormalizeTask(context.Background(), photoTask(t, key))
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestHandlePhotoNormalizeTask_BadPayload(t *testing.T) {
	p := tasks.NewTaskProcessor(&config.Config{}, new(MockS3Storage))
	err := p.HandlePhotoNormalizeTask(context.Background(), asynq.NewTask(tasks.TypePhotoNormalize, []byte("{")))
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}
