package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/xid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/automata/internal/apperror"
	"github.com/sakif/automata/internal/model"
	"github.com/sakif/automata/internal/repository"
)

// newTestDB opens a fresh in-memory database that is closed with the test.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(MemoryPath)
	require.NoError(t, err, "failed to create test db")
	t.Cleanup(func() { db.Close() })
	return db
}

func createTestContribution(t *testing.T, repo *Contributions, title string, tags ...string) *model.Contribution {
	t.Helper()
	id := xid.New().String()
	c := &model.Contribution{
		ID:       id,
		PublicID: "pub-" + id,
		Title:    title,
		Author: model.Author{
			PublicID: "author-pub",
			Title:    "Builder",
			Avatar:   model.DefaultAvatar,
			Username: "alice",
		},
		Tags: tags,
		Data: model.ContributionData{Type: "feature", Info: "text", Image: ""},
	}
	require.NoError(t, repo.Create(context.Background(), c))
	return c
}

func TestContributions_CreateAndGet(t *testing.T) {
	repo := newTestDB(t).Contributions()
	ctx := context.Background()

	created := createTestContribution(t, repo, "hello", "#hagamos", "#amor")
	assert.False(t, created.DateAdded.IsZero(), "Create should stamp DateAdded")

	found, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)

	assert.Equal(t, created.PublicID, found.PublicID)
	assert.Equal(t, "hello", found.Title)
	assert.Equal(t, []string{"#hagamos", "#amor"}, found.Tags)
	assert.Equal(t, created.Author, found.Author)
	assert.Equal(t, created.Data, found.Data)
	assert.Empty(t, found.Messages)
	assert.NotNil(t, found.Messages)
	assert.Empty(t, found.Raters)
	assert.Equal(t, 0, found.Rate)
	assert.Nil(t, found.Review.Message)
	assert.Nil(t, found.Review.Approved)
	assert.WithinDuration(t, created.DateAdded, found.DateAdded, time.Millisecond)
}

func TestContributions_CreateWithoutTags(t *testing.T) {
	repo := newTestDB(t).Contributions()

	created := createTestContribution(t, repo, "no tags")
	found, err := repo.GetByID(context.Background(), created.ID)
	require.NoError(t, err)

	assert.NotNil(t, found.Tags)
	assert.Empty(t, found.Tags)
}

func TestContributions_DuplicatePublicIDRejected(t *testing.T) {
	repo := newTestDB(t).Contributions()
	first := createTestContribution(t, repo, "one")

	dup := &model.Contribution{
		ID:       xid.New().String(),
		PublicID: first.PublicID,
		Title:    "two",
		Author:   model.Author{Username: "alice"},
	}
	assert.Error(t, repo.Create(context.Background(), dup))
}

func TestContributions_GetByID_NotFound(t *testing.T) {
	repo := newTestDB(t).Contributions()

	_, err := repo.GetByID(context.Background(), "nope")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestContributions_ListRecentNewestFirst(t *testing.T) {
	repo := newTestDB(t).Contributions()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		createTestContribution(t, repo, fmt.Sprintf("c%d", i))
	}

	list, err := repo.ListRecent(ctx, repository.ListOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "c2", list[0].Title)
	assert.Equal(t, "c0", list[2].Title)

	page, err := repo.ListRecent(ctx, repository.ListOptions{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "c1", page[0].Title)
}

func TestContributions_ListRecentEmpty(t *testing.T) {
	repo := newTestDB(t).Contributions()

	list, err := repo.ListRecent(context.Background(), repository.ListOptions{})
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestContributions_ListByTag(t *testing.T) {
	repo := newTestDB(t).Contributions()
	ctx := context.Background()

	createTestContribution(t, repo, "milk", "#milk", "#shop")
	createTestContribution(t, repo, "bread", "#bread", "#shop")
	createTestContribution(t, repo, "none")

	shop, err := repo.ListByTag(ctx, "#shop", repository.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, shop, 2)

	milk, err := repo.ListByTag(ctx, "#milk", repository.ListOptions{})
	require.NoError(t, err)
	require.Len(t, milk, 1)
	assert.Equal(t, "milk", milk[0].Title)

	// substring of a tag must not match
	partial, err := repo.ListByTag(ctx, "#mil", repository.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, partial)
}

func TestContributions_ListByAuthor(t *testing.T) {
	repo := newTestDB(t).Contributions()
	ctx := context.Background()

	createTestContribution(t, repo, "by alice")
	other := &model.Contribution{
		ID:       xid.New().String(),
		PublicID: "pub-bob",
		Title:    "by bob",
		Author:   model.Author{Username: "bob"},
	}
	require.NoError(t, repo.Create(ctx, other))

	list, err := repo.ListByAuthor(ctx, "bob", repository.ListOptions{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "by bob", list[0].Title)
}

func TestContributions_UpdateData(t *testing.T) {
	repo := newTestDB(t).Contributions()
	ctx := context.Background()
	c := createTestContribution(t, repo, "t")

	data := model.ContributionData{Type: "image", Info: "new info", Image: "http://img"}
	require.NoError(t, repo.UpdateData(ctx, c.ID, data))

	found, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, data, found.Data)

	assert.ErrorIs(t, repo.UpdateData(ctx, "missing", data), apperror.ErrNotFound)
}

func TestContributions_UpdateReview(t *testing.T) {
	repo := newTestDB(t).Contributions()
	ctx := context.Background()
	c := createTestContribution(t, repo, "t")

	msg := "looks good"
	approved := true
	require.NoError(t, repo.UpdateReview(ctx, c.ID, model.Review{Message: &msg, Approved: &approved}))

	found, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, found.Review.Message)
	assert.Equal(t, "looks good", *found.Review.Message)
	assert.True(t, found.Review.IsApproved())

	// full replace: a nil message clears the stored one
	rejected := false
	require.NoError(t, repo.UpdateReview(ctx, c.ID, model.Review{Approved: &rejected}))
	found, err = repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Nil(t, found.Review.Message)
	require.NotNil(t, found.Review.Approved)
	assert.False(t, *found.Review.Approved)
}

func TestContributions_ToggleRate(t *testing.T) {
	repo := newTestDB(t).Contributions()
	ctx := context.Background()
	c := createTestContribution(t, repo, "t")

	count, rated, err := repo.ToggleRate(ctx, c.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.True(t, rated)

	count, rated, err = repo.ToggleRate(ctx, c.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.True(t, rated)

	count, rated, err = repo.ToggleRate(ctx, c.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.False(t, rated)

	found, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, found.Raters)
	assert.Equal(t, 1, found.Rate)
}

func TestContributions_ToggleRate_NotFound(t *testing.T) {
	repo := newTestDB(t).Contributions()

	_, _, err := repo.ToggleRate(context.Background(), "missing", "alice")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestContributions_ToggleRate_Concurrent(t *testing.T) {
	repo := newTestDB(t).Contributions()
	ctx := context.Background()
	c := createTestContribution(t, repo, "t")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := repo.ToggleRate(ctx, c.ID, fmt.Sprintf("user%d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	found, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, found.Rate)
}

func TestContributions_ToggleRate_ConcurrentFileDB(t *testing.T) {
	// A file database has a real connection pool, so toggles race on the
	// write lock instead of queueing on a single connection.
	db, err := New(filepath.Join(t.TempDir(), "rates.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := db.Contributions()
	ctx := context.Background()
	c := createTestContribution(t, repo, "t")

	const raters = 40
	var wg sync.WaitGroup
	for i := 0; i < raters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, rated, err := repo.ToggleRate(ctx, c.ID, fmt.Sprintf("user%d", i))
			assert.NoError(t, err)
			assert.True(t, rated)
		}(i)
	}
	wg.Wait()

	found, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, raters, found.Rate)
	assert.Len(t, found.Raters, raters)
}

func TestContributions_ListRecentDefaultLimit(t *testing.T) {
	repo := newTestDB(t).Contributions()
	for i := 0; i < repository.DefaultListLimit+5; i++ {
		createTestContribution(t, repo, fmt.Sprintf("c%d", i))
	}

	list, err := repo.ListRecent(context.Background(), repository.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, list, repository.DefaultListLimit)
}

func TestContributions_AppendAndRemoveMessage(t *testing.T) {
	repo := newTestDB(t).Contributions()
	ctx := context.Background()
	c := createTestContribution(t, repo, "t")

	for _, id := range []string{"m1", "m2", "m3"} {
		msg := &model.Message{
			ID:      id,
			Content: "content " + id,
			Author:  model.MessageAuthor{Username: "bob", PublicID: "bob-pub", Avatar: model.DefaultAvatar},
		}
		require.NoError(t, repo.AppendMessage(ctx, c.ID, msg))
		assert.False(t, msg.Date.IsZero())
	}

	found, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, found.Messages, 3)
	assert.Equal(t, "m1", found.Messages[0].ID)
	assert.Equal(t, "m3", found.Messages[2].ID)
	assert.Equal(t, "bob", found.Messages[1].Author.Username)

	require.NoError(t, repo.RemoveMessage(ctx, c.ID, "m2"))
	found, err = repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, found.Messages, 2)
	assert.Equal(t, "m1", found.Messages[0].ID)
	assert.Equal(t, "m3", found.Messages[1].ID)

	assert.ErrorIs(t, repo.RemoveMessage(ctx, c.ID, "m2"), apperror.ErrNotFound)
}

func TestContributions_AppendMessage_MissingContribution(t *testing.T) {
	repo := newTestDB(t).Contributions()

	err := repo.AppendMessage(context.Background(), "missing", &model.Message{ID: "m1", Content: "x"})
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestContributions_Delete(t *testing.T) {
	repo := newTestDB(t).Contributions()
	ctx := context.Background()
	c := createTestContribution(t, repo, "t")

	_, _, err := repo.ToggleRate(ctx, c.ID, "alice")
	require.NoError(t, err)
	require.NoError(t, repo.AppendMessage(ctx, c.ID, &model.Message{ID: "m1", Content: "x"}))

	require.NoError(t, repo.Delete(ctx, c.ID))

	_, err = repo.GetByID(ctx, c.ID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	// the message id is free again once its contribution is gone
	other := createTestContribution(t, repo, "other")
	assert.NoError(t, repo.AppendMessage(ctx, other.ID, &model.Message{ID: "m1", Content: "x"}))

	assert.ErrorIs(t, repo.Delete(ctx, c.ID), apperror.ErrNotFound)
}
