package story

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taleBook/internal/database"
	"taleBook/internal/dbsync"
	"taleBook/internal/dbsync/dbsynctest"
	"taleBook/internal/llm"
)

const summaryLead = "Résumé ce paragraphe pour un prompt d'image : "

type fakeGenerator struct {
	mu           sync.Mutex
	story        string
	storyErr     error
	summary      func(paragraph string) (string, error)
	imageURL     string
	failImageFor string
	noURLFor     string
	completions  []llm.CompletionRequest
	imagePrompts []string
}

func (g *fakeGenerator) Complete(_ context.Context, req llm.CompletionRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.completions = append(g.completions, req)
	if req.Model == "summary-model" {
		paragraph := strings.TrimPrefix(req.Messages[1].Content, summaryLead)
		if g.summary != nil {
			return g.summary(paragraph)
		}
		return "résumé(" + paragraph + ")", nil
	}
	return g.story, g.storyErr
}

func (g *fakeGenerator) GenerateImage(_ context.Context, req llm.ImageRequest) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.imagePrompts = append(g.imagePrompts, req.Prompt)
	if g.failImageFor != "" && strings.Contains(req.Prompt, g.failImageFor) {
		return nil, errors.New("content policy violation")
	}
	if g.noURLFor != "" && strings.Contains(req.Prompt, g.noURLFor) {
		return nil, nil
	}
	return []string{g.imageURL}, nil
}

type fixture struct {
	svc     *Service
	gen     *fakeGenerator
	manager *dbsync.Manager
	remote  *dbsynctest.MemoryRemote
	alice   database.Account
	dir     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	imgSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/img.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png-bytes"))
	}))
	t.Cleanup(imgSrv.Close)

	remote := dbsynctest.NewMemoryRemote()
	manager := dbsynctest.NewManager(t, remote)

	alice, err := database.NewAccount("alice", "pw", "mail", "une fille", 8)
	require.NoError(t, err)
	require.NoError(t, manager.Mutate(ctx, func(store *database.Store) error {
		if err := store.InsertAccount(ctx, alice); err != nil {
			return err
		}
		if err := store.InsertCharacter(ctx, database.Character{Name: "alice", Description: "une fille rousse"}); err != nil {
			return err
		}
		return store.InsertCharacter(ctx, database.Character{Name: "Zouzou", Description: "un chat roux"})
	}))

	gen := &fakeGenerator{imageURL: imgSrv.URL + "/img.png"}
	dir := filepath.Join(t.TempDir(), "images")
	svc := NewService(gen, manager, LocalSink{Dir: dir}, Options{
		StoryModel:   "story-model",
		SummaryModel: "summary-model",
		MaxTokens:    4000,
		Temperature:  0.7,
		ImageSize:    "256x256",
		Style:        "cartoon",
	}, nil)

	return &fixture{svc: svc, gen: gen, manager: manager, remote: remote, alice: alice, dir: dir}
}

func TestDeriveTitle(t *testing.T) {
	cases := map[string]string{
		"Titre : Le Dragon\n\nIl était une fois...": "Le Dragon",
		"Title: A/B?\nbody":                         "AB",
		"  Le \"Chat\" <botté>  \r\nsuite":          "Le Chat botté",
		"titre:La Lune":                             "La Lune",
		"Le Grand Voyage":                           "Le Grand Voyage",
		"":                                          "",
	}
	for in, want := range cases {
		assert.Equal(t, want, DeriveTitle(in), in)
	}
}

func TestNewStoryID(t *testing.T) {
	id := NewStoryID("Le Dragon")
	require.True(t, strings.HasPrefix(id, "Le Dragon_"))
	assert.Len(t, strings.TrimPrefix(id, "Le Dragon_"), 32)
	assert.NotEqual(t, id, NewStoryID("Le Dragon"))
}

func TestSplitParagraphs(t *testing.T) {
	got := SplitParagraphs("Titre : X\n\nUn.\r\n\r\nDeux.\n  \n\n\nTrois.\n")
	assert.Equal(t, []string{"Titre : X", "Un.", "Deux.", "Trois."}, got)
	assert.Empty(t, SplitParagraphs("  \n\n "))
}

func TestBuildPrompt(t *testing.T) {
	msgs := BuildPrompt(PromptInput{
		Theme:      "Aventure",
		Keywords:   "dragon, forêt",
		Age:        8,
		Sex:        "une fille",
		Characters: []database.Character{{Name: "Zouzou", Description: "un chat roux"}},
	})
	require.Len(t, msgs, 2)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Equal(t, llm.RoleUser, msgs[1].Role)
	assert.Contains(t, msgs[1].Content, "- Thème : Aventure")
	assert.Contains(t, msgs[1].Content, "- Mots-clés : dragon, forêt")
	assert.Contains(t, msgs[1].Content, "- Âge de l'enfant : 8 ans")
	assert.Contains(t, msgs[1].Content, "- Sexe de l'enfant : une fille")
	assert.Contains(t, msgs[1].Content, "Zouzou : un chat roux")
}

func TestPersist_TitleAndOwner(t *testing.T) {
	f := newFixture(t)
	uploads := f.remote.Uploads()

	story, err := f.svc.Persist(context.Background(), PersistInput{
		Text:     "Titre : Le Dragon\n\nIl était une fois...",
		Theme:    "Aventure",
		Keywords: "dragon",
		Author:   f.alice,
	})
	require.NoError(t, err)
	assert.Equal(t, "Le Dragon", story.Title)
	assert.Equal(t, "alice", story.Username)
	require.NotNil(t, story.StoryID)
	assert.True(t, strings.HasPrefix(*story.StoryID, "Le Dragon_"))
	assert.Equal(t, uploads+1, f.remote.Uploads())

	saved, ok := f.manager.Snapshot().Stories["Le Dragon"]
	require.True(t, ok)
	assert.Equal(t, "alice", saved.Username)
	assert.Equal(t, "Aventure", saved.Theme)
	assert.Equal(t, 8, saved.Age)
}

func TestPersist_SkipsNilImages(t *testing.T) {
	f := newFixture(t)
	a, c := "images/a.png", "images/c.png"

	story, err := f.svc.Persist(context.Background(), PersistInput{
		Text:   "Titre : La Lune\n\nUn.\n\nDeux.",
		Theme:  "Fantastique",
		Author: f.alice,
		Images: []*string{&a, nil, &c},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{a, c}, story.ImageRefs())
	require.Len(t, story.Images, 2)
	assert.Equal(t, 0, story.Images[0].Position)
	assert.Equal(t, 2, story.Images[1].Position)
}

func TestPersist_EmptyText(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Persist(context.Background(), PersistInput{Text: "\n\nplop", Theme: "x", Author: f.alice})
	require.ErrorIs(t, err, ErrEmptyStory)
}

func TestPersist_PushFailureKeepsLocalStory(t *testing.T) {
	f := newFixture(t)
	f.remote.SetFailPush(true)

	story, err := f.svc.Persist(context.Background(), PersistInput{
		Text: "Titre : Le Dragon\n\nIl était une fois...", Theme: "Aventure", Author: f.alice,
	})
	require.ErrorIs(t, err, dbsync.ErrPushFailed)
	assert.Equal(t, "Le Dragon", story.Title)
	_, ok := f.svc.Get("Le Dragon")
	assert.True(t, ok)
}

func TestGenerate_UsesFixedParameters(t *testing.T) {
	f := newFixture(t)
	f.gen.story = "Titre : Le Dragon\n\nIl était une fois..."

	text, err := f.svc.Generate(context.Background(), GenerateInput{
		Theme: "Aventure", Keywords: "dragon", Author: f.alice, Characters: []string{"Zouzou", "inconnu"},
	})
	require.NoError(t, err)
	assert.Equal(t, f.gen.story, text)

	require.Len(t, f.gen.completions, 1)
	req := f.gen.completions[0]
	assert.Equal(t, "story-model", req.Model)
	assert.Equal(t, 4000, req.MaxTokens)
	assert.InDelta(t, 0.7, req.Temperature, 1e-6)
	assert.Contains(t, req.Messages[1].Content, "un chat roux")
	assert.NotContains(t, req.Messages[1].Content, "inconnu")
}

func TestCreate_GenerationErrorAbortsSave(t *testing.T) {
	f := newFixture(t)
	f.gen.storyErr = errors.New("503 service unavailable")
	uploads := f.remote.Uploads()

	_, err := f.svc.Create(context.Background(), CreateInput{Theme: "Aventure", Author: f.alice})
	require.ErrorIs(t, err, ErrGeneration)
	assert.Equal(t, uploads, f.remote.Uploads())
	assert.Empty(t, f.manager.Snapshot().Stories)
}

func TestCreate_FailedParagraphLeavesNilSlot(t *testing.T) {
	f := newFixture(t)
	text := "Titre : Le Dragon\n\nP1 le dragon dort.\n\nP2 le dragon vole.\n\nP3 le dragon rentre."
	f.gen.story = text
	f.gen.failImageFor = "P2"

	story, err := f.svc.Create(context.Background(), CreateInput{
		Theme: "Aventure", Keywords: "dragon", Author: f.alice, Illustrate: true,
	})
	require.NoError(t, err)

	assert.Equal(t, text, story.Body)
	require.Len(t, story.Images, 3)
	positions := []int{story.Images[0].Position, story.Images[1].Position, story.Images[2].Position}
	assert.Equal(t, []int{0, 1, 3}, positions)

	for _, img := range story.Images {
		assert.True(t, strings.HasPrefix(img.Ref, filepath.Join(f.dir, "story_Le Dragon_")), img.Ref)
		data, err := os.ReadFile(img.Ref)
		require.NoError(t, err)
		assert.Equal(t, "png-bytes", string(data))
	}

	require.Len(t, f.gen.imagePrompts, 4)
	assert.Equal(t, "une fille rousse: résumé(P1 le dragon dort.). Style: cartoon", f.gen.imagePrompts[1])

	saved := f.manager.Snapshot().Stories["Le Dragon"]
	assert.Equal(t, story.ImageRefs(), saved.ImageRefs())
}

func TestIllustrate_DownloadFailure(t *testing.T) {
	f := newFixture(t)
	f.gen.imageURL += ".missing"

	refs := f.svc.Illustrate(context.Background(), IllustrateInput{StoryID: "x", Paragraphs: []string{"Un.", "Deux."}, Character: "Zouzou"})
	require.Len(t, refs, 2)
	assert.Nil(t, refs[0])
	assert.Nil(t, refs[1])
}

func TestIllustrate_NoURLLeavesNilSlot(t *testing.T) {
	f := newFixture(t)
	f.gen.noURLFor = "Deux"

	refs := f.svc.Illustrate(context.Background(), IllustrateInput{StoryID: "x", Paragraphs: []string{"Un.", "Deux.", "Trois."}, Character: "Zouzou"})
	require.Len(t, refs, 3)
	assert.NotNil(t, refs[0])
	assert.Nil(t, refs[1])
	assert.NotNil(t, refs[2])
}

func TestPersist_UnknownOwnerSavesNothing(t *testing.T) {
	f := newFixture(t)
	a := "images/a.png"
	uploads := f.remote.Uploads()

	_, err := f.svc.Persist(context.Background(), PersistInput{
		Text:   "Titre : Le Fantôme\n\nBouh.",
		Theme:  "Peur",
		Author: database.Account{Username: "ghost", Sex: "un garçon", Age: 7},
		Images: []*string{&a},
	})
	require.ErrorIs(t, err, database.ErrForeignKey)
	assert.NotErrorIs(t, err, dbsync.ErrPushFailed)
	assert.Equal(t, uploads, f.remote.Uploads())

	_, ok := f.svc.Get("Le Fantôme")
	assert.False(t, ok)
	stories, err := f.manager.Store().LoadStories(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, stories, "Le Fantôme")
}

func TestSummarize(t *testing.T) {
	f := newFixture(t)
	long := strings.Repeat("é", 1500)

	f.gen.summary = func(string) (string, error) { return "", errors.New("timeout") }
	assert.Equal(t, strings.Repeat("é", 1000)+"...", f.svc.Summarize(context.Background(), long))
	assert.Equal(t, "court", f.svc.Summarize(context.Background(), "court"))

	f.gen.summary = func(string) (string, error) { return long, nil }
	assert.Equal(t, strings.Repeat("é", 1000)+"...", f.svc.Summarize(context.Background(), "x"))

	f.gen.summary = func(string) (string, error) { return "  un dragon  ", nil }
	assert.Equal(t, "un dragon", f.svc.Summarize(context.Background(), "x"))

	last := f.gen.completions[len(f.gen.completions)-1]
	assert.Equal(t, 150, last.MaxTokens)
}

type fakeUploader struct {
	key         string
	data        []byte
	contentType string
	err         error
}

func (u *fakeUploader) UploadFile(_ context.Context, name string, r io.Reader, _ int64, contentType string) (*minio.UploadInfo, error) {
	if u.err != nil {
		return nil, u.err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	u.key, u.data, u.contentType = name, data, contentType
	return &minio.UploadInfo{Key: name}, nil
}

func TestBucketSink(t *testing.T) {
	up := &fakeUploader{}
	sink := BucketSink{Client: up, Prefix: "images/"}

	ref, err := sink.Save(context.Background(), "story_x_paragraph_1_abc.png", []byte("png"))
	require.NoError(t, err)
	assert.Equal(t, "images/story_x_paragraph_1_abc.png", ref)
	assert.Equal(t, ref, up.key)
	assert.Equal(t, "png", string(up.data))
	assert.Equal(t, "image/png", up.contentType)

	up.err = errors.New("denied")
	_, err = sink.Save(context.Background(), "y.png", []byte("png"))
	require.Error(t, err)
}

func TestCharactersSorted(t *testing.T) {
	f := newFixture(t)
	chars := f.svc.Characters()
	require.Len(t, chars, 2)
	assert.Equal(t, "Zouzou", chars[0].Name)
	assert.Equal(t, "alice", chars[1].Name)
}
