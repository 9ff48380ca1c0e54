package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"taleBook/internal/database"
)

// 导出文件都是以主键为 key 的 JSON 对象。
type accountExport struct {
	Password string  `json:"password"`
	Email    string  `json:"email"`
	Sex      string  `json:"sexe"`
	Age      flexInt `json:"age"`
}

type characterExport struct {
	Description string `json:"description"`
}

type storyExport struct {
	StoryID  *string   `json:"story_id"`
	Title    string    `json:"title"`
	Theme    string    `json:"theme"`
	Keywords string    `json:"keywords"`
	Sex      string    `json:"sexe"`
	Age      flexInt   `json:"age"`
	Story    string    `json:"story"`
	Username string    `json:"utilisateur"`
	Images   imageRefs `json:"images"`
}

// flexInt 同时接受数字与数字字符串。
type flexInt int

func (v *flexInt) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*v = flexInt(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("age: %w", err)
	}
	if s == "" {
		*v = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("age %q: %w", s, err)
	}
	*v = flexInt(n)
	return nil
}

// imageRefs 接受字符串数组、单个字符串或 null；数组里的 null 保留为空串占位。
type imageRefs []string

func (r *imageRefs) UnmarshalJSON(data []byte) error {
	var list []*string
	if err := json.Unmarshal(data, &list); err == nil {
		refs := make([]string, 0, len(list))
		for _, ref := range list {
			if ref == nil {
				refs = append(refs, "")
				continue
			}
			refs = append(refs, *ref)
		}
		*r = refs
		return nil
	}
	var single *string
	if err := json.Unmarshal(data, &single); err != nil {
		return fmt.Errorf("images: %w", err)
	}
	if single == nil || *single == "" {
		*r = nil
		return nil
	}
	*r = imageRefs{*single}
	return nil
}

// loadExports 读取 dir 下的三份导出文件并转换为 SeedData。
// 账号导出里的 password/email 已经是摘要，原样写入。
func loadExports(dir string) (database.SeedData, error) {
	var (
		data       database.SeedData
		accounts   map[string]json.RawMessage
		characters map[string]characterExport
		stories    map[string]storyExport
	)

	if err := readJSON(filepath.Join(dir, "stories_users.json"), &accounts); err != nil {
		return data, err
	}
	if err := readJSON(filepath.Join(dir, "personnages.json"), &characters); err != nil {
		return data, err
	}
	if err := readJSON(filepath.Join(dir, "stories.json"), &stories); err != nil {
		return data, err
	}

	for _, username := range sortedKeys(accounts) {
		raw := accounts[username]
		var a accountExport
		if err := json.Unmarshal(raw, &a); err != nil {
			return data, fmt.Errorf("account %q: expected an object: %w", username, err)
		}
		data.Accounts = append(data.Accounts, database.Account{
			Username:       username,
			PasswordDigest: a.Password,
			EmailDigest:    a.Email,
			Sex:            a.Sex,
			Age:            int(a.Age),
		})
	}

	for _, name := range sortedKeys(characters) {
		c := characters[name]
		data.Characters = append(data.Characters, database.Character{Name: name, Description: c.Description})
	}

	for _, key := range sortedKeys(stories) {
		s := stories[key]
		title := s.Title
		if title == "" {
			title = key
		}
		data.Stories = append(data.Stories, database.SeedStory{
			Story: database.Story{
				StoryID:  s.StoryID,
				Title:    title,
				Theme:    s.Theme,
				Keywords: s.Keywords,
				Sex:      s.Sex,
				Age:      int(s.Age),
				Body:     s.Story,
				Username: s.Username,
			},
			ImageRefs: s.Images,
		})
	}
	return data, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func readJSON(path string, dst any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
