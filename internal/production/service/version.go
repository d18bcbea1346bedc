package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/3D-MAGE/app3dmage/internal/production/repository"
)

// VersionService 全局变更版本号
// 版本号在每个写事务内原子递增，客户端拿上次看到的 token 来比对。
type VersionService struct {
	core *core
}

// UpdateCheck 轮询结果
type UpdateCheck struct {
	Changed bool   `json:"changed"`
	Token   string `json:"token"`
}

// EnsureInitialized 确保版本号行存在
func (s *VersionService) EnsureInitialized(ctx context.Context) error {
	if err := s.core.repos.Version.EnsureInitialized(ctx); err != nil {
		return fmt.Errorf("初始化版本号失败: %w", err)
	}
	return nil
}

// Token 当前版本号
func (s *VersionService) Token(ctx context.Context) (string, error) {
	v, err := s.core.repos.Version.Current(ctx)
	if errors.Is(err, repository.ErrNotFound) {
		if err := s.EnsureInitialized(ctx); err != nil {
			return "", err
		}
		v, err = s.core.repos.Version.Current(ctx)
	}
	if err != nil {
		return "", fmt.Errorf("读取版本号失败: %w", err)
	}
	return strconv.FormatInt(v, 10), nil
}

// Check 与客户端上次看到的版本比对
func (s *VersionService) Check(ctx context.Context, lastSeen string) (*UpdateCheck, error) {
	token, err := s.Token(ctx)
	if err != nil {
		return nil, err
	}
	return &UpdateCheck{Changed: token != lastSeen, Token: token}, nil
}
