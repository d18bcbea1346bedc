package repository

import (
	"context"

	"github.com/3D-MAGE/app3dmage/internal/production/entity"
	"gorm.io/gorm"
)

// ChannelRepository 收款渠道仓库
type ChannelRepository struct {
	db *gorm.DB
}

// NewChannelRepository 创建收款渠道仓库
func NewChannelRepository(db *gorm.DB) *ChannelRepository {
	return &ChannelRepository{db: db}
}

// FindByID 根据ID查找渠道
func (r *ChannelRepository) FindByID(ctx context.Context, id string) (*entity.PaymentChannel, error) {
	var ch entity.PaymentChannel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&ch).Error; err != nil {
		return nil, notFound(err)
	}
	return &ch, nil
}

// FindByIDForUpdate 加行锁读取渠道，余额读改写必须走这里
func (r *ChannelRepository) FindByIDForUpdate(ctx context.Context, id string) (*entity.PaymentChannel, error) {
	var ch entity.PaymentChannel
	if err := forUpdate(r.db.WithContext(ctx)).Where("id = ?", id).First(&ch).Error; err != nil {
		return nil, notFound(err)
	}
	return &ch, nil
}

// Create 创建渠道
func (r *ChannelRepository) Create(ctx context.Context, ch *entity.PaymentChannel) error {
	return r.db.WithContext(ctx).Create(ch).Error
}

// Update 保存渠道
func (r *ChannelRepository) Update(ctx context.Context, ch *entity.PaymentChannel) error {
	return r.db.WithContext(ctx).Save(ch).Error
}

// List 渠道列表
func (r *ChannelRepository) List(ctx context.Context) ([]entity.PaymentChannel, error) {
	var channels []entity.PaymentChannel
	err := r.db.WithContext(ctx).Order("name ASC").Find(&channels).Error
	return channels, err
}
