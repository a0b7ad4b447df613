package storage

import (
	"bytes"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

type BlockStorageConfig struct {
	Host      string `mapstructure:"host" json:"host,omitempty"`
	Region    string `mapstructure:"region" json:"region,omitempty"`
	AccessKey string `mapstructure:"access_key" json:"access_key,omitempty"`
	SecretKey string `mapstructure:"secret" json:"secret,omitempty"`
	Bucket    string `mapstructure:"bucket" json:"bucket,omitempty"`
}

// BlockStorage archives operational reports (wind-down refund summaries)
// to an S3-compatible bucket.
type BlockStorage struct {
	cfg BlockStorageConfig
	s3  *s3.S3
}

func NewBlockStorage(cfg BlockStorageConfig) (*BlockStorage, error) {
	awsCfg := aws.Config{
		Region:           aws.String(cfg.Region),
		Credentials:      credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, ""),
		S3ForcePathStyle: aws.Bool(true),
	}
	if cfg.Host != "" {
		awsCfg.Endpoint = aws.String(cfg.Host)
	}
	sess, err := session.NewSession(&awsCfg)
	if err != nil {
		return nil, fmt.Errorf("fail to create S3 session: %w", err)
	}
	return &BlockStorage{
		cfg: cfg,
		s3:  s3.New(sess),
	}, nil
}

// UploadReport stores a JSON report under reports/{name}-{timestamp}.json
// and returns the object key.
func (b *BlockStorage) UploadReport(name string, data []byte) (string, error) {
	key := fmt.Sprintf("reports/%s-%d.json", name, time.Now().Unix())
	_, err := b.s3.PutObject(&s3.PutObjectInput{
		Bucket:      aws.String(b.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("fail to upload report %s: %w", key, err)
	}
	return key, nil
}
