package story

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"taleBook/internal/llm"
	"taleBook/internal/metrics"
)

const (
	downloadTimeout = 60 * time.Second
	maxImageBytes   = 20 << 20
)

// IllustrateInput 描述一次插图生成。Character 是提示词里的角色描述。
type IllustrateInput struct {
	StoryID    string
	Paragraphs []string
	Character  string
}

// Illustrate 为每个段落生成一张插图。单个段落失败时该位置为 nil，不影响其他段落。
func (s *Service) Illustrate(ctx context.Context, in IllustrateInput) []*string {
	refs := make([]*string, len(in.Paragraphs))
	for i, paragraph := range in.Paragraphs {
		ref, err := s.illustrateParagraph(ctx, in.StoryID, i+1, in.Character, paragraph)
		metrics.ObserveIllustration(err == nil)
		if err != nil {
			s.logger.Warn("illustration failed",
				slog.String("story_id", in.StoryID),
				slog.Int("paragraph", i+1),
				slog.Any("error", err),
			)
			continue
		}
		refs[i] = &ref
	}
	return refs
}

// Summarize 把段落压缩成适合图片提示词的摘要。接口失败时退回截断后的原文。
func (s *Service) Summarize(ctx context.Context, paragraph string) string {
	summary, err := s.gen.Complete(ctx, llm.CompletionRequest{
		Model:       s.opts.SummaryModel,
		Messages:    summaryPrompt(paragraph),
		MaxTokens:   summaryMaxTokens,
		Temperature: s.opts.Temperature,
	})
	if err != nil {
		s.logger.Warn("summarize failed, using truncated paragraph", slog.Any("error", err))
		return truncate(paragraph, summaryMaxChars)
	}
	return strings.TrimSpace(truncate(summary, summaryMaxChars))
}

func (s *Service) illustrateParagraph(ctx context.Context, storyID string, index int, character, paragraph string) (string, error) {
	if s.sink == nil {
		return "", errors.New("no image sink configured")
	}
	prompt := fmt.Sprintf("%s: %s. Style: %s", character, s.Summarize(ctx, paragraph), s.opts.Style)

	urls, err := s.gen.GenerateImage(ctx, llm.ImageRequest{
		Prompt:    prompt,
		Size:      s.opts.ImageSize,
		N:         1,
		BaseImage: s.opts.BaseImage,
		Mask:      s.opts.Mask,
	})
	if err != nil {
		return "", err
	}
	if len(urls) == 0 {
		return "", errors.New("image api returned no url")
	}

	data, err := s.download(ctx, urls[0])
	if err != nil {
		return "", err
	}

	name := fmt.Sprintf("story_%s_paragraph_%d_%s.png", storyID, index, strings.ReplaceAll(uuid.NewString(), "-", ""))
	return s.sink.Save(ctx, name, data)
}

func (s *Service) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build image request: %w", err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download image: unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return data, nil
}
