package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // register PNG for image.Decode
	"io"
	"log"

	"github.com/hibiken/asynq"
	"github.com/nfnt/resize"
	"github.com/redis/go-redis/v9"

	"fieldops/inquiry/internal/config"
	"fieldops/inquiry/internal/storage"
)

// TaskType defines the type of a background task.
const (
	TypePhotoNormalize = "photo:normalize"
)

// PhotoQueue is the dedicated queue for photo processing.
const PhotoQueue = "photos"

// --- Task Client (Enqueuing tasks) ---

func redisOpt(rdb *redis.Client) asynq.RedisClientOpt {
	opts := rdb.Options()
	return asynq.RedisClientOpt{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}
}

// NewClient creates an asynq client sharing the connection settings of rdb.
func NewClient(rdb *redis.Client) *asynq.Client {
	return asynq.NewClient(redisOpt(rdb))
}

// PhotoTaskPayload identifies an uploaded inquiry photo.
type PhotoTaskPayload struct {
	ObjectKey string `json:"object_key"`
	UserID    string `json:"user_id"`
}

// NewPhotoNormalizeTask builds the task enqueued on upload confirmation.
func NewPhotoNormalizeTask(payload PhotoTaskPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode photo task payload: %w", err)
	}
	return asynq.NewTask(TypePhotoNormalize, data, asynq.Queue(PhotoQueue), asynq.MaxRetry(5)), nil
}

// --- Task Server (Processing tasks) ---

// TaskProcessor handles the processing of tasks.
type TaskProcessor struct {
	cfg            *config.Config
	storageService storage.IS3Storage
}

func NewTaskProcessor(cfg *config.Config, storageService storage.IS3Storage) *TaskProcessor {
	return &TaskProcessor{cfg: cfg, storageService: storageService}
}

// SetupServer configures the asynq server and its handler mux. The caller runs it.
func SetupServer(rdb *redis.Client, processor *TaskProcessor) (*asynq.Server, *asynq.ServeMux) {
	srv := asynq.NewServer(
		redisOpt(rdb),
		asynq.Config{
			Queues: map[string]int{
				PhotoQueue: 5,
				"default":  3,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Printf("[Asynq Error] Task Type: %s, Payload: %s, Error: %v", task.Type(), string(task.Payload()), err)
			}),
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(TypePhotoNormalize, processor.HandlePhotoNormalizeTask)
	log.Println("Registered photo processing task handlers.")
	return srv, mux
}

// --- Task Handlers ---

// HandlePhotoNormalizeTask downsizes an uploaded photo in place so every stored
// photo fits within the configured dimension and size limits.
func (p *TaskProcessor) HandlePhotoNormalizeTask(ctx context.Context, t *asynq.Task) error {
	var payload PhotoTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal photo task payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.ObjectKey == "" {
		return fmt.Errorf("photo task without object key: %w", asynq.SkipRetry)
	}

	log.Printf("Processing photo task: Key=%s, User=%s", payload.ObjectKey, payload.UserID)

	// 1. Download
	body, contentType, err := p.storageService.GetObject(ctx, payload.ObjectKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			log.Printf("Photo %s not found, upload probably never completed.", payload.ObjectKey)
			return fmt.Errorf("photo not found: %w", asynq.SkipRetry)
		}
		return fmt.Errorf("failed to download photo: %w", err)
	}
	defer body.Close()

	maxSizeBytes := int64(p.cfg.ImageMaxSizeMB) * 1024 * 1024
	imgData, err := io.ReadAll(io.LimitReader(body, maxSizeBytes+1))
	if err != nil {
		return fmt.Errorf("failed to read photo data: %w", err)
	}
	if int64(len(imgData)) > maxSizeBytes {
		log.Printf("Photo %s exceeds max size of %d bytes. Skipping.", payload.ObjectKey, maxSizeBytes)
		return fmt.Errorf("photo exceeds max size: %w", asynq.SkipRetry)
	}

	img, format, err := image.Decode(bytes.NewReader(imgData))
	if err != nil {
		log.Printf("Error decoding photo %s: %v", payload.ObjectKey, err)
		return fmt.Errorf("unsupported image format or corrupt image: %w", asynq.SkipRetry)
	}

	// 2. Check dimensions
	maxDim := uint(p.cfg.ImageMaxDimension)
	if uint(img.Bounds().Dx()) <= maxDim && uint(img.Bounds().Dy()) <= maxDim {
		log.Printf("Photo %s (%s, %dx%d) already within limits.", payload.ObjectKey, format, img.Bounds().Dx(), img.Bounds().Dy())
		return nil
	}

	// 3. Resize and re-encode
	resized := resize.Thumbnail(maxDim, maxDim, img, resize.Lanczos3)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 85}); err != nil {
		return fmt.Errorf("failed to re-encode resized photo: %w", err)
	}
	if int64(buf.Len()) > maxSizeBytes {
		return fmt.Errorf("resized photo still exceeds max size: %w", asynq.SkipRetry)
	}
	if contentType != "image/jpeg" {
		log.Printf("Photo %s converted from %s to image/jpeg", payload.ObjectKey, format)
	}

	// 4. Overwrite the original
	if err := p.storageService.PutObject(ctx, payload.ObjectKey, bytes.NewReader(buf.Bytes()), "image/jpeg"); err != nil {
		return fmt.Errorf("failed to upload processed photo: %w", err)
	}

	log.Printf("Photo %s resized to %dx%d", payload.ObjectKey, resized.Bounds().Dx(), resized.Bounds().Dy())
	return nil
}
