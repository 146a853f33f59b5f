package store

import (
	"context"
	"errors"
	"fmt"

	"pricehawk/internal/model"

	"gorm.io/gorm"
)

// ErrNotFound 表示按 ID 或名称查询的商品不存在。
var ErrNotFound = errors.New("product not found")

// Store 基于 gorm 的商品与价格持久化层。
//
// 价格写入依赖数据库自动提交：Append 返回时 INSERT 已提交，
// 保证“先落盘后确认”的持久化语义。
type Store struct {
	db *gorm.DB
}

// New 创建 Store 并执行自动迁移。
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&model.Product{}, &model.PriceEntry{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// FindByID 按 ID 查询商品。
func (s *Store) FindByID(ctx context.Context, id uint) (*model.Product, error) {
	var p model.Product
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find product by id: %w", err)
	}
	return &p, nil
}

// FindByName 按名称查询商品（大小写敏感的唯一业务键）。
func (s *Store) FindByName(ctx context.Context, name string) (*model.Product, error) {
	var p model.Product
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find product by name: %w", err)
	}
	return &p, nil
}

// FindOrCreate 按名称查询商品，不存在则创建。
//
// ingest 回调与追踪请求共用此路径。并发创建同名商品时依赖
// name 上的唯一索引，冲突方重查一次已存在的记录。
func (s *Store) FindOrCreate(ctx context.Context, name, url string) (*model.Product, error) {
	if p, err := s.FindByName(ctx, name); err == nil {
		return p, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	p := model.Product{Name: name, URL: url}
	if err := s.db.WithContext(ctx).Create(&p).Error; err != nil {
		// 唯一索引冲突：另一个写入方刚创建了同名商品
		if existing, findErr := s.FindByName(ctx, name); findErr == nil {
			return existing, nil
		}
		return nil, fmt.Errorf("create product: %w", err)
	}
	return &p, nil
}

// List 返回所有商品，按创建时间倒序。
func (s *Store) List(ctx context.Context) ([]model.Product, error) {
	products := []model.Product{}
	if err := s.db.WithContext(ctx).Order("created_at DESC, id DESC").Find(&products).Error; err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return products, nil
}

// ListIDs 分批返回商品 ID（按 ID 升序，从 afterID 之后开始）。
//
// 重扫调度器用它做游标式遍历，避免一次性加载全表。
func (s *Store) ListIDs(ctx context.Context, afterID uint, limit int) ([]uint, error) {
	if limit <= 0 {
		limit = 50
	}
	var ids []uint
	if err := s.db.WithContext(ctx).
		Model(&model.Product{}).
		Select("id").
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list product ids: %w", err)
	}
	return ids, nil
}

// Append 追加一条价格观测。写入在返回前已持久化。
func (s *Store) Append(ctx context.Context, entry *model.PriceEntry) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("append price entry: %w", err)
	}
	return nil
}

// Observations 返回商品的全部观测记录（按插入顺序）。
//
// Ranker 在内存中完成按平台取最新与排序，这里不做聚合。
func (s *Store) Observations(ctx context.Context, productID uint) ([]model.PriceEntry, error) {
	entries := []model.PriceEntry{}
	if err := s.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("id ASC").
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("load observations: %w", err)
	}
	return entries, nil
}

// History 返回商品的价格历史，按时间倒序，最多 limit 条。
//
// platform 非空时仅返回该平台的记录。
func (s *Store) History(ctx context.Context, productID uint, platform string, limit int) ([]model.PriceEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	entries := []model.PriceEntry{}
	query := s.db.WithContext(ctx).Where("product_id = ?", productID)
	if platform != "" {
		query = query.Where("platform = ?", platform)
	}
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("load price history: %w", err)
	}
	return entries, nil
}

// LatestForPlatform 返回商品在指定平台的最新观测，没有记录时返回 nil。
//
// ingest 路径用它判断是否触发降价提醒。
func (s *Store) LatestForPlatform(ctx context.Context, productID uint, platform string) (*model.PriceEntry, error) {
	var entry model.PriceEntry
	if err := s.db.WithContext(ctx).
		Where("product_id = ? AND platform = ?", productID, platform).
		Order("created_at DESC, id DESC").
		First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load latest platform price: %w", err)
	}
	return &entry, nil
}
