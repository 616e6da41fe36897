package service

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"offerledger/internal/config"
	"offerledger/internal/model"
	"offerledger/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ContentService struct {
	db          *gorm.DB
	contentRepo *repository.ContentRepository
	accessRepo  *repository.AccessRepository
	events      *eventWriter
	pageSize    int
	log         *zap.Logger
}

func NewContentService(db *gorm.DB, cfg *config.Config, log *zap.Logger) *ContentService {
	return &ContentService{
		db:          db,
		contentRepo: repository.NewContentRepository(db),
		accessRepo:  repository.NewAccessRepository(db),
		events:      newEventWriter(db, cfg.Kafka.Topic.LedgerEvents),
		pageSize:    cfg.Business.PageSize,
		log:         log.Named("content"),
	}
}

type CreateItemRequest struct {
	OwnerID         string
	CollectionKey   string
	InstitutionName string
	DocumentURL     string
	// 识别服务给出的建议字段，不做校验
	ExtractedFields json.RawMessage
}

// CreateItem 新上传的内容一律待审核
func (s *ContentService) CreateItem(ctx context.Context, req *CreateItemRequest) (*model.ContentItem, error) {
	if req.OwnerID == "" || strings.TrimSpace(req.CollectionKey) == "" {
		return nil, ErrInvalidInput
	}
	if len(req.ExtractedFields) > 0 && !json.Valid(req.ExtractedFields) {
		return nil, fmt.Errorf("%w: extracted_fields 不是合法 JSON", ErrInvalidInput)
	}

	item := &model.ContentItem{
		ID:              uuid.NewString(),
		OwnerID:         req.OwnerID,
		CollectionKey:   strings.TrimSpace(req.CollectionKey),
		InstitutionName: req.InstitutionName,
		Status:          model.ContentStatusPending,
		ExtractedFields: datatypes.JSON(req.ExtractedFields),
		DocumentURL:     req.DocumentURL,
	}
	if err := s.contentRepo.Create(ctx, item); err != nil {
		return nil, fmt.Errorf("保存内容失败: %w", err)
	}
	s.log.Info("内容已上传", zap.String("item_id", item.ID), zap.String("owner_id", item.OwnerID), zap.String("collection_key", item.CollectionKey))
	return item, nil
}

// Moderate 审核，通过后不可再修改
func (s *ContentService) Moderate(ctx context.Context, itemID, status string) (*model.ContentItem, error) {
	if status != model.ContentStatusApproved && status != model.ContentStatusRejected {
		return nil, ErrInvalidModeration
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.contentRepo.UpdateStatus(ctx, tx, itemID, status); err != nil {
			return err
		}
		return s.events.write(ctx, tx, model.EventContentModerated, itemID, map[string]interface{}{
			"item_id": itemID,
			"status":  status,
		})
	})
	if err != nil {
		if errors.Is(err, repository.ErrStatusTransitioned) {
			// 不存在或已通过
			item, getErr := s.contentRepo.GetByID(ctx, itemID)
			if getErr != nil {
				return nil, getErr
			}
			if item.Status == model.ContentStatusApproved {
				return nil, ErrItemImmutable
			}
		}
		return nil, err
	}
	return s.contentRepo.GetByID(ctx, itemID)
}

// PageView 某个浏览者看到的一页内容
type PageView struct {
	CollectionKey string
	Page          int
	Items         []*model.ContentItem
	TotalItems    int
	TotalPages    int
	Seed          string
}

// LoadPage 按浏览者专属种子排序后分页
// 同一浏览者每次看到的顺序一致，不同浏览者顺序不同
func (s *ContentService) LoadPage(ctx context.Context, collectionKey, viewerID string, page int) (*PageView, error) {
	if page < 1 {
		return nil, ErrInvalidPage
	}

	items, err := s.contentRepo.ListServable(ctx, collectionKey)
	if err != nil {
		return nil, fmt.Errorf("查询内容失败: %w", err)
	}
	if len(items) == 0 {
		return nil, ErrCollectionNotFound
	}

	visit, err := s.accessRepo.GetOrCreateVisit(ctx, collectionKey, viewerID, uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("读取访问记录失败: %w", err)
	}

	SortForViewer(items, visit.Seed)

	totalPages := (len(items) + s.pageSize - 1) / s.pageSize
	if page > totalPages {
		return nil, ErrInvalidPage
	}
	start := (page - 1) * s.pageSize
	end := start + s.pageSize
	if end > len(items) {
		end = len(items)
	}

	return &PageView{
		CollectionKey: collectionKey,
		Page:          page,
		Items:         items[start:end],
		TotalItems:    len(items),
		TotalPages:    totalPages,
		Seed:          visit.Seed,
	}, nil
}

// SortForViewer 按 md5(上传者 + 种子) 前 8 位排序，同一上传者内按 ID
func SortForViewer(items []*model.ContentItem, seed string) {
	keys := make(map[string]uint64, len(items))
	for _, item := range items {
		if _, ok := keys[item.OwnerID]; ok {
			continue
		}
		sum := md5.Sum([]byte(item.OwnerID + seed))
		n, _ := strconv.ParseUint(hex.EncodeToString(sum[:])[:8], 16, 64)
		keys[item.OwnerID] = n
	}

	sort.SliceStable(items, func(i, j int) bool {
		ki, kj := keys[items[i].OwnerID], keys[items[j].OwnerID]
		if ki != kj {
			return ki < kj
		}
		if items[i].OwnerID != items[j].OwnerID {
			return items[i].OwnerID < items[j].OwnerID
		}
		return items[i].ID < items[j].ID
	})
}
