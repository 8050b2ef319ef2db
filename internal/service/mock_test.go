package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sakif/automata/internal/apperror"
	"github.com/sakif/automata/internal/idcodec"
	"github.com/sakif/automata/internal/model"
	"github.com/sakif/automata/internal/repository"
)

// =========================================================================
// MOCK REPOSITORIES
// =========================================================================
//
// In-memory implementations of the repository interfaces. Everything is
// copied on the way in and out so tests cannot reach into stored state.
// Set failWith to make every call fail with that error.

type mockContributionRepo struct {
	mu       sync.Mutex
	items    map[string]*model.Contribution
	order    []string
	failWith error
}

func newMockContributionRepo() *mockContributionRepo {
	return &mockContributionRepo{items: make(map[string]*model.Contribution)}
}

var _ repository.ContributionRepository = (*mockContributionRepo)(nil)

func cloneContribution(c *model.Contribution) *model.Contribution {
	cp := *c
	cp.Tags = append([]string{}, c.Tags...)
	cp.Messages = append([]model.Message{}, c.Messages...)
	cp.Raters = append([]string{}, c.Raters...)
	cp.Rate = len(cp.Raters)
	return &cp
}

func (m *mockContributionRepo) Create(_ context.Context, c *model.Contribution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	if _, ok := m.items[c.ID]; ok {
		return apperror.Conflict("contribution", c.ID)
	}
	m.items[c.ID] = cloneContribution(c)
	m.order = append(m.order, c.ID)
	return nil
}

func (m *mockContributionRepo) GetByID(_ context.Context, id string) (*model.Contribution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	c, ok := m.items[id]
	if !ok {
		return nil, apperror.NotFound("contribution", id)
	}
	return cloneContribution(c), nil
}

func (m *mockContributionRepo) list(opts repository.ListOptions, keep func(*model.Contribution) bool) ([]model.Contribution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	result := []model.Contribution{}
	for i := len(m.order) - 1; i >= 0; i-- {
		c, ok := m.items[m.order[i]]
		if ok && keep(c) {
			result = append(result, *cloneContribution(c))
		}
	}
	if opts.Offset >= len(result) {
		return []model.Contribution{}, nil
	}
	result = result[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(result) {
		result = result[:opts.Limit]
	}
	return result, nil
}

func (m *mockContributionRepo) ListRecent(_ context.Context, opts repository.ListOptions) ([]model.Contribution, error) {
	return m.list(opts, func(*model.Contribution) bool { return true })
}

func (m *mockContributionRepo) ListByTag(_ context.Context, tag string, opts repository.ListOptions) ([]model.Contribution, error) {
	return m.list(opts, func(c *model.Contribution) bool {
		for _, t := range c.Tags {
			if t == tag {
				return true
			}
		}
		return false
	})
}

func (m *mockContributionRepo) ListByAuthor(_ context.Context, username string, opts repository.ListOptions) ([]model.Contribution, error) {
	return m.list(opts, func(c *model.Contribution) bool { return c.Author.Username == username })
}

func (m *mockContributionRepo) UpdateData(_ context.Context, id string, data model.ContributionData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	c, ok := m.items[id]
	if !ok {
		return apperror.NotFound("contribution", id)
	}
	c.Data = data
	return nil
}

func (m *mockContributionRepo) UpdateReview(_ context.Context, id string, review model.Review) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	c, ok := m.items[id]
	if !ok {
		return apperror.NotFound("contribution", id)
	}
	c.Review = review
	return nil
}

func (m *mockContributionRepo) ToggleRate(_ context.Context, id, username string) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return 0, false, m.failWith
	}
	c, ok := m.items[id]
	if !ok {
		return 0, false, apperror.NotFound("contribution", id)
	}
	for i, r := range c.Raters {
		if r == username {
			c.Raters = append(c.Raters[:i], c.Raters[i+1:]...)
			return len(c.Raters), false, nil
		}
	}
	c.Raters = append(c.Raters, username)
	sort.Strings(c.Raters)
	return len(c.Raters), true, nil
}

func (m *mockContributionRepo) AppendMessage(_ context.Context, id string, msg *model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	c, ok := m.items[id]
	if !ok {
		return apperror.NotFound("contribution", id)
	}
	c.Messages = append(c.Messages, *msg)
	return nil
}

func (m *mockContributionRepo) RemoveMessage(_ context.Context, id, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	c, ok := m.items[id]
	if !ok {
		return apperror.NotFound("contribution", id)
	}
	for i, msg := range c.Messages {
		if msg.ID == messageID {
			c.Messages = append(c.Messages[:i], c.Messages[i+1:]...)
			return nil
		}
	}
	return apperror.NotFound("message", messageID)
}

func (m *mockContributionRepo) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	if _, ok := m.items[id]; !ok {
		return apperror.NotFound("contribution", id)
	}
	delete(m.items, id)
	return nil
}

type mockUserRepo struct {
	mu       sync.Mutex
	users    map[string]*model.User
	failWith error
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{users: make(map[string]*model.User)}
}

var _ repository.UserRepository = (*mockUserRepo)(nil)

func (m *mockUserRepo) Create(_ context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	if _, ok := m.users[u.Username]; ok {
		return apperror.Conflict("user", u.Username)
	}
	stored := *u
	m.users[u.Username] = &stored
	return nil
}

func (m *mockUserRepo) GetByUsername(_ context.Context, username string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	u, ok := m.users[username]
	if !ok {
		return nil, apperror.NotFound("user", username)
	}
	result := *u
	return &result, nil
}

// mockDirectory is a fixed UserDirectory keyed by username.
type mockDirectory map[string]*model.User

func (d mockDirectory) Lookup(_ context.Context, username string) (*model.User, error) {
	u, ok := d[strings.ToLower(username)]
	if !ok {
		return nil, apperror.NotFound("user", username)
	}
	cp := *u
	return &cp, nil
}

var errDatabaseDown = errors.New("database is down")

// =========================================================================
// HELPERS
// =========================================================================

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCodec(t *testing.T) *idcodec.Codec {
	t.Helper()
	codec, err := idcodec.New(idcodec.Options{MinLength: idcodec.DefaultMinLength})
	require.NoError(t, err)
	return codec
}

func testUser(username string, moderator bool) *model.User {
	return &model.User{
		ID:          "id-" + username,
		PublicID:    "pub-" + username,
		Username:    username,
		Title:       "Member",
		Avatar:      model.DefaultAvatar,
		IsModerator: moderator,
	}
}

// defaultDirectory knows two authors and one moderator.
func defaultDirectory() mockDirectory {
	return mockDirectory{
		"alice": testUser("alice", false),
		"bob":   testUser("bob", false),
		"mod":   testUser("mod", true),
	}
}
