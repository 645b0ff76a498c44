package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"nexora-chat/internal/model"
)

type KnowledgeDocumentRepository struct {
	db *gorm.DB
}

func NewKnowledgeDocumentRepository(db *gorm.DB) *KnowledgeDocumentRepository {
	return &KnowledgeDocumentRepository{db: db}
}

func (r *KnowledgeDocumentRepository) Create(doc *model.KnowledgeDocument) error {
	if err := r.db.Create(doc).Error; err != nil {
		return fmt.Errorf("create knowledge document failed: %w", err)
	}
	return nil
}

func (r *KnowledgeDocumentRepository) Update(doc *model.KnowledgeDocument) error {
	if err := r.db.Save(doc).Error; err != nil {
		return fmt.Errorf("update knowledge document failed: %w", err)
	}
	return nil
}

func (r *KnowledgeDocumentRepository) GetByID(id uint) (*model.KnowledgeDocument, error) {
	var doc model.KnowledgeDocument
	if err := r.db.First(&doc, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get knowledge document failed: %w", err)
	}
	return &doc, nil
}

// List returns every document, newest upload first.
func (r *KnowledgeDocumentRepository) List() ([]model.KnowledgeDocument, error) {
	var list []model.KnowledgeDocument
	if err := r.db.Order("created_at DESC").Order("id DESC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list knowledge documents failed: %w", err)
	}
	return list, nil
}

// MarkSuperseded flags every other indexed document of store once keepID has replaced it.
func (r *KnowledgeDocumentRepository) MarkSuperseded(store string, keepID uint) error {
	err := r.db.Model(&model.KnowledgeDocument{}).
		Where("store = ? AND status = ? AND id <> ?", store, model.DocumentIndexed, keepID).
		Update("status", model.DocumentSuperseded).Error
	if err != nil {
		return fmt.Errorf("mark superseded documents failed: %w", err)
	}
	return nil
}
