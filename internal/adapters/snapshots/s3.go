// Package snapshots archives fetched documents in S3-compatible object storage.
package snapshots

import (
	"context"
	"fmt"
	"strings"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"siteaudit/internal/ports"
)

type Client struct {
	mc     *minio.Client
	bucket string
}

var _ ports.SnapshotStore = (*Client)(nil)

func New(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Client, error) {
	if bucket == "" {
		return nil, fmt.Errorf("snapshots: bucket is required")
	}
	mc, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, err
	}
	return &Client{mc: mc, bucket: bucket}, nil
}

// Key is the object name for an audit's fetched document.
func Key(auditID int64) string {
	return fmt.Sprintf("audits/%d/document.html", auditID)
}

func (c *Client) PutDocument(ctx context.Context, auditID int64, body string) error {
	_, err := c.mc.PutObject(ctx, c.bucket, Key(auditID), strings.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "text/html; charset=utf-8",
	})
	return err
}
