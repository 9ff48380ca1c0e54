package story

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"taleBook/internal/database"
	"taleBook/internal/dbsync"
	"taleBook/internal/llm"
)

var (
	// ErrGeneration 包装文本生成接口的失败，调用方应放弃本次保存。
	ErrGeneration = errors.New("story generation failed")
	// ErrEmptyStory 表示生成结果为空或无法从中得到标题。
	ErrEmptyStory = errors.New("generated story is empty")
)

// Generator 是对外部生成接口的抽象，由 *llm.Client 实现。
type Generator interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (string, error)
	GenerateImage(ctx context.Context, req llm.ImageRequest) ([]string, error)
}

// Syncer 由 *dbsync.Manager 实现。Mutate 的回调内不得调用 Snapshot。
type Syncer interface {
	Snapshot() dbsync.State
	Mutate(ctx context.Context, fn func(store *database.Store) error) error
}

// Options 固定采样参数与插图配置。
type Options struct {
	StoryModel   string
	SummaryModel string
	MaxTokens    int
	Temperature  float32

	ImageSize string
	BaseImage string
	Mask      string
	Style     string
}

const (
	summaryMaxTokens = 150
	summaryMaxChars  = 1000
)

// Service 负责生成、插图与保存故事。
type Service struct {
	gen    Generator
	sync   Syncer
	sink   ImageSink
	http   *http.Client
	opts   Options
	logger *slog.Logger
}

// NewService 构造故事服务。sink 为 nil 时不生成插图。
func NewService(gen Generator, sync Syncer, sink ImageSink, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4000
	}
	if opts.ImageSize == "" {
		opts.ImageSize = "256x256"
	}
	return &Service{
		gen:    gen,
		sync:   sync,
		sink:   sink,
		http:   &http.Client{Timeout: downloadTimeout},
		opts:   opts,
		logger: logger.With(slog.String("component", "story")),
	}
}

// Characters 返回按名字排序的全部角色。
func (s *Service) Characters() []database.Character {
	state := s.sync.Snapshot()
	out := make([]database.Character, 0, len(state.Characters))
	for _, name := range state.CharacterNames() {
		out = append(out, state.Characters[name])
	}
	return out
}

// Get 按标题查找故事。
func (s *Service) Get(title string) (database.Story, bool) {
	story, ok := s.sync.Snapshot().Stories[title]
	return story, ok
}

// GenerateInput 是一次故事生成的参数。Characters 为选中的角色名，未知名字被忽略。
type GenerateInput struct {
	Theme      string
	Keywords   string
	Author     database.Account
	Characters []string
}

// Generate 调用生成接口返回原始正文。
func (s *Service) Generate(ctx context.Context, in GenerateInput) (string, error) {
	messages := BuildPrompt(PromptInput{
		Theme:      in.Theme,
		Keywords:   in.Keywords,
		Age:        in.Author.Age,
		Sex:        in.Author.Sex,
		Characters: s.selectCharacters(in.Characters),
	})

	text, err := s.gen.Complete(ctx, llm.CompletionRequest{
		Model:       s.opts.StoryModel,
		Messages:    messages,
		MaxTokens:   s.opts.MaxTokens,
		Temperature: s.opts.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyStory
	}
	return text, nil
}

// PersistInput 是保存一篇故事所需的数据。Images 与段落一一对应，nil 表示该段没有插图。
// StoryID 为空时自动生成。
type PersistInput struct {
	StoryID  string
	Text     string
	Theme    string
	Keywords string
	Author   database.Account
	Images   []*string
}

// Persist 写入故事及其非空插图，然后推送。推送失败时返回已保存的故事和包装了
// dbsync.ErrPushFailed 的错误。
func (s *Service) Persist(ctx context.Context, in PersistInput) (database.Story, error) {
	title := DeriveTitle(in.Text)
	if title == "" {
		return database.Story{}, ErrEmptyStory
	}
	storyID := in.StoryID
	if storyID == "" {
		storyID = NewStoryID(title)
	}

	record, err := database.NewStory(storyID, title, in.Theme, in.Keywords, in.Text, in.Author)
	if err != nil {
		return database.Story{}, fmt.Errorf("build story: %w", err)
	}

	err = s.sync.Mutate(ctx, func(store *database.Store) error {
		saved, err := store.InsertStoryWithImages(ctx, record, in.Images)
		if err != nil {
			return err
		}
		record = saved
		return nil
	})
	if err != nil && !errors.Is(err, dbsync.ErrPushFailed) {
		return database.Story{}, fmt.Errorf("persist story %q: %w", title, err)
	}

	if saved, ok := s.Get(title); ok && saved.ID == record.ID {
		record = saved
	}
	s.logger.Info("story saved",
		slog.String("title", title),
		slog.String("username", in.Author.Username),
		slog.Int("images", len(record.Images)),
	)
	return record, err
}

// CreateInput 对应一次完整的“生成并保存”。
type CreateInput struct {
	Theme      string
	Keywords   string
	Author     database.Account
	Characters []string
	Illustrate bool
}

// Create 生成正文，按需为每个段落配图，然后保存。
func (s *Service) Create(ctx context.Context, in CreateInput) (database.Story, error) {
	text, err := s.Generate(ctx, GenerateInput{
		Theme:      in.Theme,
		Keywords:   in.Keywords,
		Author:     in.Author,
		Characters: in.Characters,
	})
	if err != nil {
		return database.Story{}, err
	}

	title := DeriveTitle(text)
	if title == "" {
		return database.Story{}, ErrEmptyStory
	}
	storyID := NewStoryID(title)

	var images []*string
	if in.Illustrate && s.sink != nil {
		images = s.Illustrate(ctx, IllustrateInput{
			StoryID:    storyID,
			Paragraphs: SplitParagraphs(text),
			Character:  s.describeCharacters(in.Author, in.Characters),
		})
	}

	return s.Persist(ctx, PersistInput{
		StoryID:  storyID,
		Text:     text,
		Theme:    in.Theme,
		Keywords: in.Keywords,
		Author:   in.Author,
		Images:   images,
	})
}

func (s *Service) selectCharacters(names []string) []database.Character {
	if len(names) == 0 {
		return nil
	}
	all := s.sync.Snapshot().Characters
	selected := make([]database.Character, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if c, ok := all[name]; ok {
			selected = append(selected, c)
		}
	}
	sort.SliceStable(selected, func(i, j int) bool { return selected[i].Name < selected[j].Name })
	return selected
}

// describeCharacters 拼出插图提示词里的角色描述；没选角色时退回作者本人的角色。
func (s *Service) describeCharacters(author database.Account, names []string) string {
	selected := s.selectCharacters(names)
	if len(selected) == 0 {
		if c, ok := s.sync.Snapshot().Characters[author.Username]; ok {
			selected = append(selected, c)
		}
	}
	if len(selected) == 0 {
		return author.Username
	}
	parts := make([]string, 0, len(selected))
	for _, c := range selected {
		parts = append(parts, c.Description)
	}
	return strings.Join(parts, "\n\n")
}
