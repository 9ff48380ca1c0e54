package database

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LoadAccounts 返回 username -> Account 映射。
// 表不存在时返回 ErrSchemaMissing，由同步层统一处理。
func (s *Store) LoadAccounts(ctx context.Context) (map[string]Account, error) {
	var rows []Account
	err := s.withDB(ctx, func(tx *gorm.DB) error {
		return tx.Order("username").Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("load accounts: %w", classify(err))
	}

	accounts := make(map[string]Account, len(rows))
	for _, row := range rows {
		accounts[row.Username] = row
	}
	return accounts, nil
}

// LoadCharacters 返回 name -> Character 映射。
func (s *Store) LoadCharacters(ctx context.Context) (map[string]Character, error) {
	var rows []Character
	err := s.withDB(ctx, func(tx *gorm.DB) error {
		return tx.Order("name").Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("load characters: %w", classify(err))
	}

	characters := make(map[string]Character, len(rows))
	for _, row := range rows {
		characters[row.Name] = row
	}
	return characters, nil
}

// LoadStories 返回 title -> Story 映射，插图按插入顺序挂到所属故事上。
// 标题重复时以最后插入的故事为准。
func (s *Store) LoadStories(ctx context.Context) (map[string]Story, error) {
	var (
		stories []Story
		images  []StoryImage
	)
	err := s.withDB(ctx, func(tx *gorm.DB) error {
		if err := tx.Order("id").Find(&stories).Error; err != nil {
			return err
		}
		return tx.Order("id").Find(&images).Error
	})
	if err != nil {
		return nil, fmt.Errorf("load stories: %w", classify(err))
	}

	byStory := make(map[uint][]StoryImage, len(stories))
	for _, img := range images {
		byStory[img.StoryID] = append(byStory[img.StoryID], img)
	}

	result := make(map[string]Story, len(stories))
	for _, story := range stories {
		story.Images = byStory[story.ID]
		result[story.Title] = story
	}
	return result, nil
}

// InsertAccount 插入新账号；用户名已存在时返回 ErrDuplicate。
func (s *Store) InsertAccount(ctx context.Context, account Account) error {
	err := s.withDB(ctx, func(tx *gorm.DB) error {
		return tx.Create(&account).Error
	})
	if err != nil {
		return fmt.Errorf("insert account %q: %w", account.Username, classify(err))
	}
	return nil
}

// InsertCharacter 插入角色；同名角色已存在时返回 ErrDuplicate。
func (s *Store) InsertCharacter(ctx context.Context, character Character) error {
	err := s.withDB(ctx, func(tx *gorm.DB) error {
		return tx.Create(&character).Error
	})
	if err != nil {
		return fmt.Errorf("insert character %q: %w", character.Name, classify(err))
	}
	return nil
}

// SaveCharacter 插入角色，同名时覆盖描述。注册时以用户名创建的角色走这里。
func (s *Store) SaveCharacter(ctx context.Context, character Character) error {
	err := s.withDB(ctx, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"description"}),
		}).Create(&character).Error
	})
	if err != nil {
		return fmt.Errorf("save character %q: %w", character.Name, classify(err))
	}
	return nil
}

// InsertStory 插入故事并返回自增 id。所属账号必须已存在（外键）。
func (s *Store) InsertStory(ctx context.Context, story Story) (uint, error) {
	story.ID = 0
	story.Images = nil
	err := s.withDB(ctx, func(tx *gorm.DB) error {
		return tx.Omit(clause.Associations).Create(&story).Error
	})
	if err != nil {
		return 0, fmt.Errorf("insert story %q: %w", story.Title, classify(err))
	}
	return story.ID, nil
}

// InsertStoryWithImages 在一个事务内插入故事及其插图，任何一步失败都整体回滚。
// refs 与段落一一对应，nil 位置跳过但仍占用段落序号。返回的 Story 带有自增 id 与已写入的插图。
func (s *Store) InsertStoryWithImages(ctx context.Context, story Story, refs []*string) (Story, error) {
	story.ID = 0
	story.Images = nil
	err := s.withDB(ctx, func(db *gorm.DB) error {
		return db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Omit(clause.Associations).Create(&story).Error; err != nil {
				return err
			}
			for position, ref := range refs {
				if ref == nil {
					continue
				}
				img := StoryImage{StoryID: story.ID, Ref: *ref, Position: position}
				if err := tx.Create(&img).Error; err != nil {
					return err
				}
				story.Images = append(story.Images, img)
			}
			return nil
		})
	})
	if err != nil {
		return Story{}, fmt.Errorf("insert story %q with images: %w", story.Title, classify(err))
	}
	return story, nil
}

// InsertImage 为故事追加一张插图，position 为段落序号。
func (s *Store) InsertImage(ctx context.Context, storyID uint, ref string, position int) error {
	img := StoryImage{StoryID: storyID, Ref: ref, Position: position}
	err := s.withDB(ctx, func(tx *gorm.DB) error {
		return tx.Create(&img).Error
	})
	if err != nil {
		return fmt.Errorf("insert image for story %d: %w", storyID, classify(err))
	}
	return nil
}

// UpdatePassword 覆盖密码摘要，并在同一条语句里清除重置码。
func (s *Store) UpdatePassword(ctx context.Context, username, digest string) error {
	return s.updateAccount(ctx, username, map[string]any{
		"password_digest": digest,
		"reset_code":      nil,
	})
}

// UpdateResetCode 保存（或在 code 为空时清除）账号的重置码。
func (s *Store) UpdateResetCode(ctx context.Context, username, code string) error {
	var value any
	if code != "" {
		value = code
	}
	return s.updateAccount(ctx, username, map[string]any{"reset_code": value})
}

func (s *Store) updateAccount(ctx context.Context, username string, updates map[string]any) error {
	var affected int64
	err := s.withDB(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&Account{}).Where("username = ?", username).Updates(updates)
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return fmt.Errorf("update account %q: %w", username, classify(err))
	}
	if affected == 0 {
		return fmt.Errorf("update account %q: %w", username, ErrNotFound)
	}
	return nil
}
