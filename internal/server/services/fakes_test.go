package services

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pengine/pengine/internal/common"
	"github.com/pengine/pengine/internal/cryptox"
	"github.com/pengine/pengine/internal/dbx"
	"github.com/pengine/pengine/internal/logging"
	"github.com/pengine/pengine/internal/server/models"
	"github.com/pengine/pengine/internal/server/repositories/attachments"
	"github.com/pengine/pengine/internal/server/repositories/auditlogs"
	"github.com/pengine/pengine/internal/server/repositories/comments"
	"github.com/pengine/pengine/internal/server/repositories/groups"
	"github.com/pengine/pengine/internal/server/repositories/passkeys"
	"github.com/pengine/pengine/internal/server/repositories/posts"
	"github.com/pengine/pengine/internal/server/repositories/refreshtokens"
	"github.com/pengine/pengine/internal/server/repositories/users"
	"github.com/stretchr/testify/require"
)

// --- helpers ---

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

// --- crypto fakes ---

// fakeHasher stores "h:"+password so tests do not pay for PBKDF2.
type fakeHasher struct {
	rehash   bool
	hashed   int
	verified int
}

func (h *fakeHasher) Hash(password string) (cryptox.Digest, error) {
	h.hashed++
	return cryptox.Digest{Hash: "h:" + password, Salt: "salt"}, nil
}

func (h *fakeHasher) Verify(password, hash, salt string) bool {
	h.verified++
	return salt != "" && hash == "h:"+password
}

func (h *fakeHasher) NeedsRehash(hash, salt string) bool { return h.rehash }

type fakeTOTP struct {
	secret string
	code   string
}

func (f *fakeTOTP) GenerateSecret() (string, error) { return f.secret, nil }

func (f *fakeTOTP) ProvisioningURI(secret, label, issuer string) string {
	return fmt.Sprintf("otpauth://totp/%s:%s?secret=%s", issuer, label, secret)
}

func (f *fakeTOTP) ValidateCode(secret, code string) bool {
	return secret == f.secret && code == f.code
}

// fakeCipher inverts every byte and uses the password as the tag.
type fakeCipher struct{ nonce byte }

func (c *fakeCipher) Encrypt(plaintext []byte, password string) (*cryptox.ProtectedPayload, error) {
	return c.EncryptWithSalt(plaintext, password, []byte("fresh-salt"))
}

func (c *fakeCipher) EncryptWithSalt(plaintext []byte, password string, salt []byte) (*cryptox.ProtectedPayload, error) {
	c.nonce++
	return &cryptox.ProtectedPayload{
		Ciphertext: invert(plaintext),
		Salt:       bytes.Clone(salt),
		Nonce:      []byte{c.nonce},
		Tag:        []byte(password),
	}, nil
}

func (c *fakeCipher) Decrypt(p *cryptox.ProtectedPayload, password string) ([]byte, error) {
	if string(p.Tag) != password {
		return nil, cryptox.ErrAuthenticationFailed
	}
	return invert(p.Ciphertext), nil
}

func invert(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		out[i] = ^c
	}
	return out
}

// --- repository fakes ---

type fakeUsersRepo struct {
	byID      map[string]*models.User
	seq       int
	createErr error
	updateErr error
	locked    []string
}

func newFakeUsers(us ...*models.User) *fakeUsersRepo {
	r := &fakeUsersRepo{byID: map[string]*models.User{}}
	for _, u := range us {
		r.byID[u.ID] = u
	}
	return r
}

func (r *fakeUsersRepo) Create(_ context.Context, u *models.User) (*models.User, error) {
	if r.createErr != nil {
		return nil, r.createErr
	}
	r.seq++
	c := *u
	c.ID = fmt.Sprintf("u%d", r.seq)
	r.byID[c.ID] = &c
	return &c, nil
}

func (r *fakeUsersRepo) GetByLogin(_ context.Context, name string) (*models.User, error) {
	for _, u := range r.byID {
		if u.UserName == name {
			c := *u
			return &c, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *fakeUsersRepo) GetByID(_ context.Context, id string) (*models.User, error) {
	u, ok := r.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	c := *u
	return &c, nil
}

func (r *fakeUsersRepo) GetForUpdate(ctx context.Context, id string) (*models.User, error) {
	r.locked = append(r.locked, id)
	return r.GetByID(ctx, id)
}

func (r *fakeUsersRepo) UpdatePassword(_ context.Context, id, hash, salt string) error {
	if r.updateErr != nil {
		return r.updateErr
	}
	u, ok := r.byID[id]
	if !ok {
		return common.ErrorNotFound
	}
	u.Credential.PasswordHash, u.Credential.PasswordSalt = hash, salt
	return nil
}

func (r *fakeUsersRepo) UpdateTOTP(_ context.Context, id string, s models.TOTPState) error {
	if r.updateErr != nil {
		return r.updateErr
	}
	u, ok := r.byID[id]
	if !ok {
		return common.ErrorNotFound
	}
	u.Credential.TOTP = s
	return nil
}

func (r *fakeUsersRepo) TouchLastLogin(_ context.Context, id string, at time.Time) error {
	u, ok := r.byID[id]
	if !ok {
		return common.ErrorNotFound
	}
	u.LastLoginAt = &at
	return nil
}

type fakePasskeysRepo struct {
	byID    map[string]*models.Passkey
	seq     int
	updates int
}

func newFakePasskeys(ps ...*models.Passkey) *fakePasskeysRepo {
	r := &fakePasskeysRepo{byID: map[string]*models.Passkey{}}
	for _, p := range ps {
		r.byID[p.ID] = p
	}
	return r
}

func (r *fakePasskeysRepo) Create(_ context.Context, p *models.Passkey) (*models.Passkey, error) {
	r.seq++
	c := *p
	c.ID = fmt.Sprintf("pk%d", r.seq)
	r.byID[c.ID] = &c
	return &c, nil
}

func (r *fakePasskeysRepo) ListByUser(_ context.Context, userID string) ([]*models.Passkey, error) {
	var out []*models.Passkey
	for _, p := range r.byID {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakePasskeysRepo) GetByCredentialID(_ context.Context, id []byte) (*models.Passkey, error) {
	for _, p := range r.byID {
		if bytes.Equal(p.CredentialID, id) {
			return p, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *fakePasskeysRepo) GetForUpdate(_ context.Context, id string) (*models.Passkey, error) {
	p, ok := r.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	c := *p
	return &c, nil
}

func (r *fakePasskeysRepo) UpdateSignCount(_ context.Context, id string, count uint32, usedAt time.Time) error {
	p, ok := r.byID[id]
	if !ok {
		return common.ErrorNotFound
	}
	r.updates++
	p.SignCount = count
	p.LastUsedAt = &usedAt
	return nil
}

func (r *fakePasskeysRepo) Delete(_ context.Context, userID, id string) error {
	p, ok := r.byID[id]
	if !ok || p.UserID != userID {
		return common.ErrorNotFound
	}
	delete(r.byID, id)
	return nil
}

type fakePostsRepo struct {
	byID      map[string]*models.Post
	order     []string
	updateErr error
}

func newFakePosts(ps ...*models.Post) *fakePostsRepo {
	r := &fakePostsRepo{byID: map[string]*models.Post{}}
	for _, p := range ps {
		r.byID[p.ID] = p
		r.order = append(r.order, p.ID)
	}
	return r
}

func (r *fakePostsRepo) Create(_ context.Context, p *models.Post) (*models.Post, error) {
	c := *p
	c.ID = fmt.Sprintf("p%d", len(r.order)+1)
	c.GroupIDs = nil
	r.byID[c.ID] = &c
	r.order = append(r.order, c.ID)
	return &c, nil
}

func (r *fakePostsRepo) Get(_ context.Context, id string) (*models.Post, error) {
	p, ok := r.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	c := *p
	return &c, nil
}

func (r *fakePostsRepo) Update(_ context.Context, p *models.Post) error {
	if r.updateErr != nil {
		return r.updateErr
	}
	old, ok := r.byID[p.ID]
	if !ok {
		return common.ErrorNotFound
	}
	c := *p
	c.GroupIDs = old.GroupIDs
	r.byID[p.ID] = &c
	return nil
}

func (r *fakePostsRepo) ReplaceGroups(_ context.Context, id string, gs []string) error {
	p, ok := r.byID[id]
	if !ok {
		return common.ErrorNotFound
	}
	p.GroupIDs = append([]string(nil), gs...)
	return nil
}

func (r *fakePostsRepo) ListRecent(_ context.Context, limit int) ([]*models.Post, error) {
	var out []*models.Post
	for i := len(r.order) - 1; i >= 0 && len(out) < limit; i-- {
		if p, ok := r.byID[r.order[i]]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *fakePostsRepo) Delete(_ context.Context, id string) error {
	if _, ok := r.byID[id]; !ok {
		return common.ErrorNotFound
	}
	delete(r.byID, id)
	return nil
}

type fakeAttachmentsRepo struct{ byID map[string]*models.Attachment }

func (r *fakeAttachmentsRepo) Create(_ context.Context, a *models.Attachment) (*models.Attachment, error) {
	c := *a
	c.ID = fmt.Sprintf("a%d", len(r.byID)+1)
	r.byID[c.ID] = &c
	return &c, nil
}

func (r *fakeAttachmentsRepo) Get(_ context.Context, id string) (*models.Attachment, error) {
	a, ok := r.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return a, nil
}

func (r *fakeAttachmentsRepo) ListByPost(_ context.Context, postID string) ([]*models.Attachment, error) {
	var out []*models.Attachment
	for _, a := range r.byID {
		if a.PostID == postID {
			out = append(out, a)
		}
	}
	return out, nil
}

type fakeCommentsRepo struct{ byID map[string]*models.Comment }

func (r *fakeCommentsRepo) Create(_ context.Context, c *models.Comment) (*models.Comment, error) {
	cp := *c
	cp.ID = fmt.Sprintf("c%d", len(r.byID)+1)
	r.byID[cp.ID] = &cp
	return &cp, nil
}

func (r *fakeCommentsRepo) Get(_ context.Context, id string) (*models.Comment, error) {
	c, ok := r.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return c, nil
}

func (r *fakeCommentsRepo) ListByPost(_ context.Context, postID string) ([]*models.Comment, error) {
	var out []*models.Comment
	for _, c := range r.byID {
		if c.PostID == postID {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakeGroupsRepo struct {
	members map[string][]string
	calls   int
}

func (r *fakeGroupsRepo) GroupsOf(_ context.Context, userID string) ([]string, error) {
	r.calls++
	return r.members[userID], nil
}

func (r *fakeGroupsRepo) AddMember(_ context.Context, userID, groupID string) error {
	r.members[userID] = append(r.members[userID], groupID)
	return nil
}

func (r *fakeGroupsRepo) RemoveMember(_ context.Context, userID, groupID string) error {
	var keep []string
	for _, g := range r.members[userID] {
		if g != groupID {
			keep = append(keep, g)
		}
	}
	r.members[userID] = keep
	return nil
}

type fakeAuditRepo struct {
	entries []*models.AuditEntry
	err     error
}

func (r *fakeAuditRepo) Create(_ context.Context, e *models.AuditEntry) error {
	if r.err != nil {
		return r.err
	}
	e.ID = fmt.Sprintf("e%d", len(r.entries)+1)
	r.entries = append(r.entries, e)
	return nil
}

func (r *fakeAuditRepo) ListByUser(_ context.Context, userID string, limit, offset int) ([]*models.AuditEntry, int, error) {
	var all []*models.AuditEntry
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].UserID == userID {
			all = append(all, r.entries[i])
		}
	}
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	return all[offset:min(offset+limit, total)], total, nil
}

func (r *fakeAuditRepo) actions() []string {
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Action)
	}
	return out
}

type fakeRefreshRepo struct {
	tokens    map[string]*models.RefreshToken
	createErr error
	// afterFind runs once Find has read a token.
	afterFind func(token string)
}

func (r *fakeRefreshRepo) Create(_ context.Context, userID, token string, expiresAt time.Time) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.tokens[token] = &models.RefreshToken{UserID: userID, Token: token, Expires: expiresAt}
	return nil
}

func (r *fakeRefreshRepo) Find(_ context.Context, token string) (*models.RefreshToken, error) {
	t, ok := r.tokens[token]
	if !ok {
		return nil, common.ErrorNotFound
	}
	if r.afterFind != nil {
		r.afterFind(token)
	}
	return t, nil
}

func (r *fakeRefreshRepo) Delete(_ context.Context, token string) error {
	if _, ok := r.tokens[token]; !ok {
		return common.ErrorNotFound
	}
	delete(r.tokens, token)
	return nil
}

func (r *fakeRefreshRepo) DeleteForUser(_ context.Context, userID string) error {
	for k, t := range r.tokens {
		if t.UserID == userID {
			delete(r.tokens, k)
		}
	}
	return nil
}

// fakeRepoManager hands out the same fakes for every handle.
type fakeRepoManager struct {
	users       *fakeUsersRepo
	passkeys    *fakePasskeysRepo
	posts       *fakePostsRepo
	attachments *fakeAttachmentsRepo
	comments    *fakeCommentsRepo
	groups      *fakeGroupsRepo
	audit       *fakeAuditRepo
	refresh     *fakeRefreshRepo
}

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{
		users:       newFakeUsers(),
		passkeys:    newFakePasskeys(),
		posts:       newFakePosts(),
		attachments: &fakeAttachmentsRepo{byID: map[string]*models.Attachment{}},
		comments:    &fakeCommentsRepo{byID: map[string]*models.Comment{}},
		groups:      &fakeGroupsRepo{members: map[string][]string{}},
		audit:       &fakeAuditRepo{},
		refresh:     &fakeRefreshRepo{tokens: map[string]*models.RefreshToken{}},
	}
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error     { return nil }
func (m *fakeRepoManager) Users(dbx.DBTX) users.Repository                 { return m.users }
func (m *fakeRepoManager) Passkeys(dbx.DBTX) passkeys.Repository           { return m.passkeys }
func (m *fakeRepoManager) Posts(dbx.DBTX) posts.Repository                 { return m.posts }
func (m *fakeRepoManager) Attachments(dbx.DBTX) attachments.Repository     { return m.attachments }
func (m *fakeRepoManager) Comments(dbx.DBTX) comments.Repository           { return m.comments }
func (m *fakeRepoManager) Groups(dbx.DBTX) groups.Repository               { return m.groups }
func (m *fakeRepoManager) AuditLogs(dbx.DBTX) auditlogs.Repository         { return m.audit }
func (m *fakeRepoManager) RefreshTokens(dbx.DBTX) refreshtokens.Repository { return m.refresh }

// --- blob store fake ---

type fakeBlobs struct {
	objects map[string][]byte
	types   map[string]string
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: map[string][]byte{}, types: map[string]string{}}
}

func (b *fakeBlobs) Put(_ context.Context, key string, data []byte, contentType string) error {
	b.objects[key] = bytes.Clone(data)
	b.types[key] = contentType
	return nil
}

func (b *fakeBlobs) Get(_ context.Context, key string) ([]byte, error) {
	d, ok := b.objects[key]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return d, nil
}

func (b *fakeBlobs) PresignGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	return "https://blobs.test/" + strings.TrimPrefix(key, "/"), nil
}

func testLogger() logging.Logger { return logging.Discard() }
