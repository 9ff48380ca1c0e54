package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeExports(t *testing.T, users, characters, stories string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stories_users.json"), []byte(users), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "personnages.json"), []byte(characters), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stories.json"), []byte(stories), 0o644))
	return dir
}

func TestLoadExports(t *testing.T) {
	dir := writeExports(t,
		`{"bob": {"password": "p", "email": "e", "sexe": "garçon", "age": "8"}, "alice": {"password": "p2", "email": "e2", "sexe": "fille", "age": 7}}`,
		`{"Lulu": {"description": "une tortue"}}`,
		`{
			"Le Dragon": {"story_id": "Le_Dragon_abc", "title": "Le Dragon", "theme": "aventure", "sexe": "fille", "age": 7, "story": "Il était une fois", "utilisateur": "alice", "images": ["a.png", null, "c.png"]},
			"Sans Images": {"title": "", "theme": "mer", "sexe": "garçon", "age": "9", "story": "...", "utilisateur": "carol", "images": ""},
			"Une Image": {"title": "Une Image", "theme": "forêt", "sexe": "fille", "age": 6, "story": "...", "utilisateur": "alice", "images": "x.png"}
		}`,
	)

	data, err := loadExports(dir)
	require.NoError(t, err)

	require.Len(t, data.Accounts, 2)
	assert.Equal(t, "alice", data.Accounts[0].Username)
	assert.Equal(t, 7, data.Accounts[0].Age)
	assert.Equal(t, "bob", data.Accounts[1].Username)
	assert.Equal(t, 8, data.Accounts[1].Age)
	assert.Equal(t, "p", data.Accounts[1].PasswordDigest)

	require.Len(t, data.Characters, 1)
	assert.Equal(t, "une tortue", data.Characters[0].Description)

	require.Len(t, data.Stories, 3)
	dragon := data.Stories[0]
	assert.Equal(t, "Le Dragon", dragon.Title)
	require.NotNil(t, dragon.StoryID)
	assert.Equal(t, "Le_Dragon_abc", *dragon.StoryID)
	assert.Equal(t, []string{"a.png", "", "c.png"}, dragon.ImageRefs)

	empty := data.Stories[1]
	assert.Equal(t, "Sans Images", empty.Title)
	assert.Nil(t, empty.StoryID)
	assert.Equal(t, 9, empty.Age)
	assert.Empty(t, empty.ImageRefs)

	assert.Equal(t, []string{"x.png"}, data.Stories[2].ImageRefs)
}

func TestLoadExports_RejectsNonObjectAccount(t *testing.T) {
	dir := writeExports(t, `{"bob": "oops"}`, `{}`, `{}`)

	_, err := loadExports(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `account "bob"`)
}

func TestLoadExports_MissingFile(t *testing.T) {
	dir := t.TempDir()

	_, err := loadExports(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stories_users.json")
}
