package database

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	placeholderPassword = "default_password"
	placeholderEmail    = "default_email@example.com"
)

// SeedStory 是导入用的故事记录，Images 中的空值会被跳过。
type SeedStory struct {
	Story
	ImageRefs []string
}

// SeedData 汇总一次导入的全部数据。
type SeedData struct {
	Accounts   []Account
	Characters []Character
	Stories    []SeedStory
}

// SeedReport 统计导入结果。
type SeedReport struct {
	Accounts     int
	Characters   int
	Stories      int
	Images       int
	Placeholders int
}

// Seed 在一个事务内导入账号、角色、故事与插图。
// 账号与角色按主键覆盖；故事的作者不存在时以占位账号补齐，保证外键成立。
func (s *Store) Seed(ctx context.Context, data SeedData) (SeedReport, error) {
	var report SeedReport
	err := s.withDB(ctx, func(db *gorm.DB) error {
		return db.Transaction(func(tx *gorm.DB) error {
			for _, account := range data.Accounts {
				if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&account).Error; err != nil {
					return fmt.Errorf("upsert account %q: %w", account.Username, err)
				}
				report.Accounts++
			}

			for _, character := range data.Characters {
				if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&character).Error; err != nil {
					return fmt.Errorf("upsert character %q: %w", character.Name, err)
				}
				report.Characters++
			}

			for _, seed := range data.Stories {
				created, err := ensureOwner(tx, seed.Story)
				if err != nil {
					return err
				}
				if created {
					report.Placeholders++
					s.logger.Warn("story owner missing, placeholder account created",
						slog.String("username", seed.Username),
						slog.String("title", seed.Title),
					)
				}

				story := seed.Story
				story.ID = 0
				story.Images = nil
				if err := tx.Omit(clause.Associations).Create(&story).Error; err != nil {
					return fmt.Errorf("insert story %q: %w", story.Title, err)
				}
				report.Stories++

				position := 0
				for _, ref := range seed.ImageRefs {
					ref = strings.TrimSpace(ref)
					if ref == "" || ref == "null" {
						position++
						continue
					}
					img := StoryImage{StoryID: story.ID, Ref: ref, Position: position}
					if err := tx.Create(&img).Error; err != nil {
						return fmt.Errorf("insert image for story %q: %w", story.Title, err)
					}
					report.Images++
					position++
				}
			}
			return nil
		})
	})
	if err != nil {
		return report, fmt.Errorf("seed: %w", classify(err))
	}
	return report, nil
}

func ensureOwner(tx *gorm.DB, story Story) (bool, error) {
	var count int64
	if err := tx.Model(&Account{}).Where("username = ?", story.Username).Count(&count).Error; err != nil {
		return false, fmt.Errorf("lookup owner %q: %w", story.Username, err)
	}
	if count > 0 {
		return false, nil
	}

	age := story.Age
	if age <= 0 {
		age = 1
	}
	placeholder := Account{
		Username:       story.Username,
		PasswordDigest: placeholderPassword,
		EmailDigest:    placeholderEmail,
		Sex:            story.Sex,
		Age:            age,
	}
	if err := tx.Create(&placeholder).Error; err != nil {
		return false, fmt.Errorf("create placeholder owner %q: %w", story.Username, err)
	}
	return true, nil
}
