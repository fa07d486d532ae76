package funasr

import (
	"fmt"

	appconfig "grill-master/app/config"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
)

// Storage 阿里云 OSS 暂存区。DashScope 出网受限，
// 音频先上传 OSS 并设为公共读，识别完成后删除。
type Storage struct {
	cfg    appconfig.OSSConfig
	bucket *oss.Bucket
}

// NewStorage 创建 OSS 暂存客户端
func NewStorage(cfg appconfig.OSSConfig) (*Storage, error) {
	endpoint := fmt.Sprintf("https://oss-%s.aliyuncs.com", cfg.Region)
	client, err := oss.New(endpoint, cfg.AccessKeyID, cfg.AccessKeySecret)
	if err != nil {
		return nil, fmt.Errorf("初始化 OSS 客户端失败: %w", err)
	}

	bucket, err := client.Bucket(cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("获取 OSS bucket 失败: %w", err)
	}

	return &Storage{cfg: cfg, bucket: bucket}, nil
}

// PublicURL 对象的公共访问地址
func (s *Storage) PublicURL(key string) string {
	return fmt.Sprintf("https://%s.oss-%s.aliyuncs.com/%s", s.cfg.Bucket, s.cfg.Region, key)
}

// Exists 对象是否已存在
func (s *Storage) Exists(key string) (bool, error) {
	return s.bucket.IsObjectExist(key)
}

// Upload 上传本地文件并设为公共读
func (s *Storage) Upload(key, filePath string) error {
	if err := s.bucket.PutObjectFromFile(key, filePath); err != nil {
		return fmt.Errorf("上传 OSS 失败 %s: %w", key, err)
	}
	if err := s.bucket.SetObjectACL(key, oss.ACLPublicRead); err != nil {
		return fmt.Errorf("设置公共读失败 %s: %w", key, err)
	}
	return nil
}

// Delete 删除暂存对象
func (s *Storage) Delete(key string) error {
	return s.bucket.DeleteObject(key)
}
