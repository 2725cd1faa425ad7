package store

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"formlink/internal/protocol"
)

// BucketVideos implements BlobStore on a Cloud Storage bucket.
type BucketVideos struct {
	bucket *storage.BucketHandle
}

// NewBucketVideos opens the video bucket. When emulatorHost is non-empty the
// client talks to the Firebase storage emulator without credentials.
func NewBucketVideos(ctx context.Context, bucketName, emulatorHost string) (*BucketVideos, error) {
	var opts []option.ClientOption
	if emulatorHost != "" {
		opts = append(opts,
			option.WithEndpoint("http://"+emulatorHost+"/storage/v1/"),
			option.WithoutAuthentication(),
		)
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	return &BucketVideos{bucket: client.Bucket(bucketName)}, nil
}

// UploadVideo streams the mp4 into videos/{video_id}.
func (s *BucketVideos) UploadVideo(ctx context.Context, videoID protocol.VideoID, r io.Reader) error {
	w := s.bucket.Object("videos/" + string(videoID)).NewWriter(ctx)
	w.ContentType = "video/mp4"

	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to upload video %s: %w", videoID, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finish video upload %s: %w", videoID, err)
	}
	return nil
}

// Ping verifies the bucket is reachable for health reporting.
func (s *BucketVideos) Ping(ctx context.Context) error {
	_, err := s.bucket.Attrs(ctx)
	if err != nil && err != storage.ErrBucketNotExist {
		return err
	}
	return nil
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}
