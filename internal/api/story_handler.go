package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"taleBook/internal/account"
	"taleBook/internal/api/middleware"
	"taleBook/internal/database"
	"taleBook/internal/story"
)

// StoryHandler 处理角色与故事的查询和生成。
type StoryHandler struct {
	accounts *account.Service
	stories  *story.Service
	logger   *slog.Logger
}

func NewStoryHandler(accounts *account.Service, stories *story.Service, logger *slog.Logger) *StoryHandler {
	return &StoryHandler{accounts: accounts, stories: stories, logger: logger}
}

type characterResponse struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type imageResponse struct {
	Ref      string `json:"ref"`
	Position int    `json:"position"`
}

type storyResponse struct {
	StoryID  string          `json:"story_id,omitempty"`
	Title    string          `json:"title"`
	Theme    string          `json:"theme"`
	Keywords string          `json:"keywords"`
	Age      int             `json:"age"`
	Sex      string          `json:"sex"`
	Body     string          `json:"body,omitempty"`
	Images   []imageResponse `json:"images"`
}

func toStoryResponse(s database.Story, withBody bool) storyResponse {
	resp := storyResponse{
		Title:    s.Title,
		Theme:    s.Theme,
		Keywords: s.Keywords,
		Age:      s.Age,
		Sex:      s.Sex,
		Images:   make([]imageResponse, 0, len(s.Images)),
	}
	if s.StoryID != nil {
		resp.StoryID = *s.StoryID
	}
	if withBody {
		resp.Body = s.Body
	}
	for _, img := range s.Images {
		resp.Images = append(resp.Images, imageResponse{Ref: img.Ref, Position: img.Position})
	}
	return resp
}

// ListCharacters 返回全部可选角色。
func (h *StoryHandler) ListCharacters(c *gin.Context) {
	chars := h.stories.Characters()
	resp := make([]characterResponse, 0, len(chars))
	for _, ch := range chars {
		resp = append(resp, characterResponse{Name: ch.Name, Description: ch.Description})
	}
	c.JSON(http.StatusOK, gin.H{"characters": resp})
}

// ListStories 返回当前用户保存的故事（不含正文）。
func (h *StoryHandler) ListStories(c *gin.Context) {
	stories := h.accounts.ListStories(middleware.GetUsername(c))
	resp := make([]storyResponse, 0, len(stories))
	for _, s := range stories {
		resp = append(resp, toStoryResponse(s, false))
	}
	c.JSON(http.StatusOK, gin.H{"stories": resp})
}

// GetStory 按标题返回当前用户的一篇故事。
func (h *StoryHandler) GetStory(c *gin.Context) {
	s, ok := h.stories.Get(c.Param("title"))
	if !ok || s.Username != middleware.GetUsername(c) {
		NotFound(c, "story not found")
		return
	}
	c.JSON(http.StatusOK, toStoryResponse(s, true))
}

type createStoryRequest struct {
	Theme      string   `json:"theme" binding:"required"`
	Keywords   string   `json:"keywords"`
	Characters []string `json:"characters"`
	Illustrate bool     `json:"illustrate"`
}

// CreateStory 生成并保存一篇新故事。生成失败时不保存任何内容。
func (h *StoryHandler) CreateStory(c *gin.Context) {
	var req createStoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	username := middleware.GetUsername(c)
	logger := middleware.LoggerFromContext(c)

	author, ok := h.accounts.Account(username)
	if !ok {
		Unauthorized(c)
		return
	}

	created, err := h.stories.Create(c.Request.Context(), story.CreateInput{
		Theme:      req.Theme,
		Keywords:   req.Keywords,
		Author:     author,
		Characters: req.Characters,
		Illustrate: req.Illustrate,
	})
	switch {
	case err == nil, syncPending(logger, err):
	case errors.Is(err, story.ErrGeneration), errors.Is(err, story.ErrEmptyStory):
		logger.Warn("story generation failed", slog.Any("error", err))
		BadGateway(c, "story generation failed")
		return
	default:
		logger.Error("create story failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	c.JSON(http.StatusCreated, toStoryResponse(created, true))
}
