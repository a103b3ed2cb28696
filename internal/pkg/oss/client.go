package oss

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"

	"github.com/qs3c/premium_server/config"
)

type Client struct {
	bucket     *oss.Bucket
	bucketName string
	endpoint   string
	cdnDomain  string
	now        func() time.Time
}

func NewClient(cfg *config.OSSConfig) (*Client, error) {
	client, err := oss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.AccessKeySecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create OSS client: %w", err)
	}

	bucket, err := client.Bucket(cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to get bucket: %w", err)
	}

	return &Client{
		bucket:     bucket,
		bucketName: cfg.BucketName,
		endpoint:   client.Config.Endpoint,
		cdnDomain:  cfg.CDNDomain,
		now:        time.Now,
	}, nil
}

// UploadProof 上传付款截图，返回可公开访问的 URL
func (c *Client) UploadProof(txnID string, data []byte, ext string) (string, error) {
	objectKey := ProofKey(txnID, c.now().UnixMilli(), ext)

	err := c.bucket.PutObject(objectKey, bytes.NewReader(data), oss.ContentType(ContentType(ext)))
	if err != nil {
		return "", fmt.Errorf("failed to upload proof: %w", err)
	}

	return c.GetURL(objectKey), nil
}

// Delete 删除文件
func (c *Client) Delete(objectKey string) error {
	if err := c.bucket.DeleteObject(objectKey); err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// GetURL 获取文件访问 URL
func (c *Client) GetURL(objectKey string) string {
	return objectURL(c.cdnDomain, c.bucketName, c.endpoint, objectKey)
}

// ProofKey 付款截图的 object key：proofs/<交易号>/<毫秒时间戳><扩展名>
func ProofKey(txnID string, ts int64, ext string) string {
	return fmt.Sprintf("proofs/%s/%d%s", txnID, ts, strings.ToLower(ext))
}

func objectURL(cdnDomain, bucketName, endpoint, objectKey string) string {
	if cdnDomain != "" {
		return fmt.Sprintf("https://%s/%s", cdnDomain, objectKey)
	}
	endpoint = strings.TrimPrefix(strings.TrimPrefix(endpoint, "https://"), "http://")
	return fmt.Sprintf("https://%s.%s/%s", bucketName, endpoint, objectKey)
}

// ContentType 根据扩展名获取 Content-Type，不支持的格式返回空串
func ContentType(ext string) string {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return ""
	}
}
