package repository

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"planner-bot/internal/model"
)

// ProjectRepository manages user projects.
type ProjectRepository struct {
	db *gorm.DB
}

func NewProjectRepository(db *gorm.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

func (r *ProjectRepository) Create(ctx context.Context, userID uint, name, description string) (*model.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("project name must not be empty")
	}
	project := model.Project{UserID: userID, Name: name, Description: strings.TrimSpace(description)}
	if err := r.db.WithContext(ctx).Create(&project).Error; err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	return &project, nil
}

func (r *ProjectRepository) ListByUser(ctx context.Context, userID uint) ([]model.Project, error) {
	var projects []model.Project
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at ASC, id ASC").Find(&projects).Error; err != nil {
		return nil, err
	}
	return projects, nil
}
