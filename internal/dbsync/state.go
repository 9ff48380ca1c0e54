package dbsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"taleBook/internal/database"
)

// State 是本地数据库的内存镜像，每次拉取或写入后整体替换，从不合并。
type State struct {
	Accounts   map[string]database.Account
	Characters map[string]database.Character
	Stories    map[string]database.Story
}

func emptyState() State {
	return State{
		Accounts:   map[string]database.Account{},
		Characters: map[string]database.Character{},
		Stories:    map[string]database.Story{},
	}
}

// AccountByEmailDigest 按邮箱摘要精确查找账号。
func (s State) AccountByEmailDigest(digest string) (database.Account, bool) {
	for _, account := range s.Accounts {
		if account.EmailDigest == digest {
			return account, true
		}
	}
	return database.Account{}, false
}

// StoriesBy 返回某个账号的故事，按插入顺序排列。
func (s State) StoriesBy(username string) []database.Story {
	stories := make([]database.Story, 0)
	for _, story := range s.Stories {
		if story.Username == username {
			stories = append(stories, story)
		}
	}
	sort.Slice(stories, func(i, j int) bool { return stories[i].ID < stories[j].ID })
	return stories
}

// CharacterNames 返回排序后的角色名。
func (s State) CharacterNames() []string {
	names := make([]string, 0, len(s.Characters))
	for name := range s.Characters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// reload 从本地文件重建镜像。调用方需持有写锁。
func (m *Manager) reload(ctx context.Context) error {
	accounts, err := loadOrInit(ctx, m, m.store.LoadAccounts)
	if err != nil {
		return err
	}
	characters, err := loadOrInit(ctx, m, m.store.LoadCharacters)
	if err != nil {
		return err
	}
	stories, err := loadOrInit(ctx, m, m.store.LoadStories)
	if err != nil {
		return err
	}

	m.state = State{
		Accounts:   accounts,
		Characters: characters,
		Stories:    stories,
	}
	return nil
}

// loadOrInit 统一处理读原语返回的 ErrSchemaMissing：重建表结构并把结果视为空集合。
func loadOrInit[T any](ctx context.Context, m *Manager, load func(context.Context) (map[string]T, error)) (map[string]T, error) {
	rows, err := load(ctx)
	if errors.Is(err, database.ErrSchemaMissing) {
		m.logger.Warn("schema missing on read, recreating", slog.Any("error", err))
		if err := m.store.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("recreate schema: %w", err)
		}
		return map[string]T{}, nil
	}
	if err != nil {
		return nil, err
	}
	return rows, nil
}
