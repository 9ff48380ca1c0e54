package database

import (
	"errors"
	"strings"
)

// Account 表示系统中的账号信息。邮箱与密码都只保存摘要。
type Account struct {
	Username       string  `gorm:"primaryKey;size:64"`
	PasswordDigest string  `gorm:"not null;size:64"`
	EmailDigest    string  `gorm:"not null;size:64;index"`
	Sex            string  `gorm:"not null;size:32"`
	Age            int     `gorm:"not null"`
	ResetCode      *string `gorm:"size:16"`
}

// TableName 固定表名，类型改名不影响已保存的文件。
func (Account) TableName() string { return "accounts" }

// HasResetCode 判断账号是否有待用的重置码且与 code 相同。
func (a Account) HasResetCode(code string) bool {
	return a.ResetCode != nil && *a.ResetCode == code
}

// Character 表示可在故事中复用的角色。
type Character struct {
	Name        string `gorm:"primaryKey;size:128"`
	Description string `gorm:"not null"`
}

func (Character) TableName() string { return "characters" }

// Story 表示一篇已生成并保存的故事。生成后不再修改。
type Story struct {
	ID       uint    `gorm:"primaryKey;autoIncrement"`
	StoryID  *string `gorm:"size:255"`
	Title    string  `gorm:"not null"`
	Theme    string  `gorm:"not null"`
	Keywords string
	Sex      string `gorm:"not null;size:32"`
	Age      int    `gorm:"not null"`
	Body     string `gorm:"not null"`
	Username string `gorm:"not null;size:64;index"`

	// Owner 是 belongs-to 关系，只用来让建表时生成 stories(username) -> accounts(username) 外键，读写都不加载。
	Owner  *Account     `gorm:"foreignKey:Username;references:Username"`
	Images []StoryImage `gorm:"foreignKey:StoryID"`
}

func (Story) TableName() string { return "stories" }

// ImageRefs 按插入顺序返回插图引用。
func (s Story) ImageRefs() []string {
	refs := make([]string, 0, len(s.Images))
	for _, img := range s.Images {
		refs = append(refs, img.Ref)
	}
	return refs
}

// StoryImage 是故事某一段落的插图，Ref 可以是本地路径或对象存储 key/URL。
type StoryImage struct {
	ID       uint   `gorm:"primaryKey;autoIncrement"`
	StoryID  uint   `gorm:"not null;index"`
	Ref      string `gorm:"not null"`
	Position int    `gorm:"not null;default:0"`
}

func (StoryImage) TableName() string { return "story_images" }

var (
	errUsernameRequired = errors.New("username is required")
	errDigestRequired   = errors.New("password and email digests are required")
	errSexRequired      = errors.New("sex is required")
	errAgeInvalid       = errors.New("age must be positive")
	errNameRequired     = errors.New("character name is required")
	errTitleRequired    = errors.New("story title is required")
	errThemeRequired    = errors.New("story theme is required")
	errBodyRequired     = errors.New("story body is required")
)

// NewAccount 校验必填字段并构造 Account。
func NewAccount(username, passwordDigest, emailDigest, sex string, age int) (Account, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return Account{}, errUsernameRequired
	}
	if passwordDigest == "" || emailDigest == "" {
		return Account{}, errDigestRequired
	}
	if strings.TrimSpace(sex) == "" {
		return Account{}, errSexRequired
	}
	if age <= 0 {
		return Account{}, errAgeInvalid
	}
	return Account{
		Username:       username,
		PasswordDigest: passwordDigest,
		EmailDigest:    emailDigest,
		Sex:            sex,
		Age:            age,
	}, nil
}

// NewCharacter 校验并构造 Character。
func NewCharacter(name, description string) (Character, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Character{}, errNameRequired
	}
	return Character{Name: name, Description: description}, nil
}

// NewStory 以作者账号的性别、年龄快照构造 Story。
func NewStory(storyID, title, theme, keywords, body string, author Account) (Story, error) {
	if strings.TrimSpace(title) == "" {
		return Story{}, errTitleRequired
	}
	if strings.TrimSpace(theme) == "" {
		return Story{}, errThemeRequired
	}
	if strings.TrimSpace(body) == "" {
		return Story{}, errBodyRequired
	}
	if author.Username == "" {
		return Story{}, errUsernameRequired
	}
	s := Story{
		Title:    title,
		Theme:    theme,
		Keywords: keywords,
		Sex:      author.Sex,
		Age:      author.Age,
		Body:     body,
		Username: author.Username,
	}
	if storyID != "" {
		s.StoryID = &storyID
	}
	return s, nil
}
