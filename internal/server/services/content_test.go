package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pengine/pengine/internal/access"
	"github.com/pengine/pengine/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var contentNow = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

var (
	alice = access.Principal{UserID: "alice"}
	bob   = access.Principal{UserID: "bob"}
)

type contentFixture struct {
	svc   *ContentService
	rm    *fakeRepoManager
	blobs *fakeBlobs
	mock  sqlmock.Sqlmock
}

func newContentFixture(t *testing.T) *contentFixture {
	t.Helper()
	db, mock := newSQLMockDB(t)
	rm := newFakeRepoManager()
	blobs := newFakeBlobs()
	engine := access.NewEngine(rm.groups).WithClock(func() time.Time { return contentNow })
	svc := NewContentService(db, rm, engine, &fakeCipher{}, &fakeHasher{}, blobs, testLogger())
	svc.now = func() time.Time { return contentNow }
	return &contentFixture{svc: svc, rm: rm, blobs: blobs, mock: mock}
}

func (f *contentFixture) create(t *testing.T, author string, in PostInput) string {
	t.Helper()
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	post, err := f.svc.CreatePost(context.Background(), author, in)
	require.NoError(t, err)
	return post.ID
}

func TestCreatePost_Validation(t *testing.T) {
	f := newContentFixture(t)
	_, err := f.svc.CreatePost(context.Background(), "alice", PostInput{Title: " "})
	assert.ErrorIs(t, err, common.ErrorValidation)
	_, err = f.svc.CreatePost(context.Background(), "alice", PostInput{Title: "t", Visibility: access.Visibility(9)})
	assert.ErrorIs(t, err, common.ErrorValidation)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCreatePost_GroupsOnlyForRestricted(t *testing.T) {
	f := newContentFixture(t)

	id := f.create(t, "alice", PostInput{Title: "t", Visibility: access.Public, GroupIDs: []string{"g1"}})
	assert.Empty(t, f.rm.posts.byID[id].GroupIDs)

	id = f.create(t, "alice", PostInput{Title: "t", Visibility: access.GroupRestricted, GroupIDs: []string{"g1"}})
	assert.Equal(t, []string{"g1"}, f.rm.posts.byID[id].GroupIDs)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestReadPost_Protected(t *testing.T) {
	f := newContentFixture(t)
	ctx := context.Background()
	id := f.create(t, "alice", PostInput{Title: "secret", Content: "the body", Visibility: access.Public, Password: "pw"})

	stored := f.rm.posts.byID[id]
	assert.Empty(t, stored.Content)
	require.NotNil(t, stored.Protected)
	assert.True(t, stored.Protected.Complete())

	v, err := f.svc.ReadPost(ctx, id, access.Anonymous, "")
	require.NoError(t, err)
	assert.True(t, v.Locked)
	assert.True(t, v.Protected)
	assert.Equal(t, "secret", v.Title)
	assert.Empty(t, v.Body)

	_, err = f.svc.ReadPost(ctx, id, access.Anonymous, "nope")
	assert.ErrorIs(t, err, common.ErrWrongContentPassword)

	v, err = f.svc.ReadPost(ctx, id, access.Anonymous, "pw")
	require.NoError(t, err)
	assert.False(t, v.Locked)
	assert.Equal(t, "the body", v.Body)
}

func TestReadPost_Access(t *testing.T) {
	f := newContentFixture(t)
	ctx := context.Background()
	private := f.create(t, "alice", PostInput{Title: "p", Content: "mine", Visibility: access.Private})
	internal := f.create(t, "alice", PostInput{Title: "i", Content: "members", Visibility: access.Internal})
	grouped := f.create(t, "alice", PostInput{Title: "g", Content: "team", Visibility: access.GroupRestricted, GroupIDs: []string{"team"}})
	later := contentNow.Add(time.Hour)
	scheduled := f.create(t, "alice", PostInput{Title: "s", Content: "soon", Visibility: access.Public, PublishAt: &later})

	_, err := f.svc.ReadPost(ctx, "missing", alice, "")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	_, err = f.svc.ReadPost(ctx, private, bob, "")
	assert.ErrorIs(t, err, common.ErrorForbidden)
	v, err := f.svc.ReadPost(ctx, private, alice, "")
	require.NoError(t, err)
	assert.Equal(t, "mine", v.Body)

	_, err = f.svc.ReadPost(ctx, internal, access.Anonymous, "")
	assert.ErrorIs(t, err, common.ErrorForbidden)
	_, err = f.svc.ReadPost(ctx, internal, bob, "")
	assert.NoError(t, err)

	_, err = f.svc.ReadPost(ctx, grouped, bob, "")
	assert.ErrorIs(t, err, common.ErrorForbidden)
	f.rm.groups.members["bob"] = []string{"team"}
	_, err = f.svc.ReadPost(ctx, grouped, bob, "")
	assert.NoError(t, err)

	_, err = f.svc.ReadPost(ctx, scheduled, bob, "")
	assert.ErrorIs(t, err, common.ErrorForbidden)
	_, err = f.svc.ReadPost(ctx, scheduled, alice, "")
	assert.NoError(t, err)
}

func TestUpdatePost(t *testing.T) {
	f := newContentFixture(t)
	ctx := context.Background()
	id := f.create(t, "alice", PostInput{Title: "t", Content: "hidden", Visibility: access.Public, Password: "pw"})

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	_, err := f.svc.UpdatePost(ctx, bob, id, PostInput{Title: "x", Visibility: access.Public})
	assert.ErrorIs(t, err, common.ErrorForbidden)

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	post, err := f.svc.UpdatePost(ctx, alice, id, PostInput{Title: "open", Content: "now public", Visibility: access.GroupRestricted, GroupIDs: []string{"g"}})
	require.NoError(t, err)
	assert.Nil(t, post.Protected)
	assert.Equal(t, "now public", post.Content)

	stored := f.rm.posts.byID[id]
	assert.Nil(t, stored.Protected)
	assert.Equal(t, []string{"g"}, stored.GroupIDs)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestDeletePost(t *testing.T) {
	f := newContentFixture(t)
	id := f.create(t, "alice", PostInput{Title: "t", Visibility: access.Public})

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	assert.ErrorIs(t, f.svc.DeletePost(context.Background(), bob, id), common.ErrorForbidden)

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	require.NoError(t, f.svc.DeletePost(context.Background(), alice, id))
	assert.NotContains(t, f.rm.posts.byID, id)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestListVisiblePosts(t *testing.T) {
	f := newContentFixture(t)
	f.create(t, "alice", PostInput{Title: "public", Content: "a", Visibility: access.Public})
	f.create(t, "alice", PostInput{Title: "private", Content: "b", Visibility: access.Private})
	f.create(t, "alice", PostInput{Title: "locked", Content: "c", Visibility: access.Public, Password: "pw"})
	f.create(t, "alice", PostInput{Title: "team", Content: "d", Visibility: access.GroupRestricted, GroupIDs: []string{"team"}})
	f.rm.groups.members["bob"] = []string{"team"}

	titles := func(vs []*PostView) []string {
		out := make([]string, 0, len(vs))
		for _, v := range vs {
			out = append(out, v.Title)
		}
		return out
	}

	vs, err := f.svc.ListVisiblePosts(context.Background(), access.Anonymous, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"locked", "public"}, titles(vs))
	assert.True(t, vs[0].Locked)
	assert.Empty(t, vs[0].Body)
	assert.Equal(t, "a", vs[1].Body)

	f.rm.groups.calls = 0
	vs, err = f.svc.ListVisiblePosts(context.Background(), bob, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"team", "locked", "public"}, titles(vs))
	assert.Equal(t, 1, f.rm.groups.calls)

	vs, err = f.svc.ListVisiblePosts(context.Background(), alice, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"team", "locked"}, titles(vs))
}

func TestAttachments_ProtectedPost(t *testing.T) {
	f := newContentFixture(t)
	ctx := context.Background()
	id := f.create(t, "alice", PostInput{Title: "t", Content: "body", Visibility: access.Public, Password: "pw"})
	data := []byte("file bytes")

	_, err := f.svc.AddAttachment(ctx, bob, id, "pw", "a.txt", "text/plain", data)
	assert.ErrorIs(t, err, common.ErrorForbidden)
	_, err = f.svc.AddAttachment(ctx, alice, id, "", "a.txt", "text/plain", data)
	assert.ErrorIs(t, err, common.ErrWrongContentPassword)
	_, err = f.svc.AddAttachment(ctx, alice, id, "bad", "a.txt", "text/plain", data)
	assert.ErrorIs(t, err, common.ErrWrongContentPassword)

	a, err := f.svc.AddAttachment(ctx, alice, id, "pw", "a.txt", "text/plain", data)
	require.NoError(t, err)
	assert.True(t, a.Encrypted())
	assert.Equal(t, int64(len(data)), a.Size)
	require.Contains(t, f.blobs.objects, a.StorageKey)
	stored := f.blobs.objects[a.StorageKey]
	assert.NotEqual(t, data, stored)
	sum := sha256.Sum256(stored)
	assert.Equal(t, hex.EncodeToString(sum[:]), a.SHA256)
	plainSum := sha256.Sum256(data)
	assert.NotEqual(t, hex.EncodeToString(plainSum[:]), a.SHA256)
	assert.Regexp(t, `^posts/`+id+`/2025/06/[0-9a-f-]{36}$`, a.StorageKey)

	v, err := f.svc.ReadAttachment(ctx, a.ID, bob, "")
	require.NoError(t, err)
	assert.True(t, v.Locked)
	assert.Nil(t, v.Data)

	_, err = f.svc.ReadAttachment(ctx, a.ID, bob, "wrong")
	assert.ErrorIs(t, err, common.ErrWrongContentPassword)

	v, err = f.svc.ReadAttachment(ctx, a.ID, bob, "pw")
	require.NoError(t, err)
	assert.Equal(t, data, v.Data)

	_, err = f.svc.AttachmentURL(ctx, a.ID, bob, time.Minute)
	assert.ErrorIs(t, err, common.ErrorValidation)

	// The body must stay sealed under the salt the attachment shares.
	salt := f.rm.posts.byID[id].Protected.Salt

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	_, err = f.svc.UpdatePost(ctx, alice, id, PostInput{Title: "t", Content: "x", Visibility: access.Public})
	assert.ErrorIs(t, err, common.ErrorValidation)

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	_, err = f.svc.UpdatePost(ctx, alice, id, PostInput{Title: "t", Content: "x", Visibility: access.Public, Password: "other"})
	assert.ErrorIs(t, err, common.ErrWrongContentPassword)

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	_, err = f.svc.UpdatePost(ctx, alice, id, PostInput{Title: "t2", Content: "new body", Visibility: access.Public, Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, salt, f.rm.posts.byID[id].Protected.Salt)

	v, err = f.svc.ReadAttachment(ctx, a.ID, bob, "pw")
	require.NoError(t, err)
	assert.Equal(t, data, v.Data)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestAttachments_PlainPost(t *testing.T) {
	f := newContentFixture(t)
	ctx := context.Background()
	id := f.create(t, "alice", PostInput{Title: "t", Content: "body", Visibility: access.Internal})

	_, err := f.svc.AddAttachment(ctx, alice, id, "", " ", "text/plain", nil)
	assert.ErrorIs(t, err, common.ErrorValidation)

	a, err := f.svc.AddAttachment(ctx, alice, id, "", "img.png", "image/png", []byte{0x89, 'P'})
	require.NoError(t, err)
	assert.False(t, a.Encrypted())
	assert.Equal(t, "image/png", f.blobs.types[a.StorageKey])

	v, err := f.svc.ReadAttachment(ctx, a.ID, bob, "")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 'P'}, v.Data)

	_, err = f.svc.ReadAttachment(ctx, a.ID, access.Anonymous, "")
	assert.ErrorIs(t, err, common.ErrorForbidden)

	url, err := f.svc.AttachmentURL(ctx, a.ID, bob, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "https://blobs.test/"+a.StorageKey, url)

	list, err := f.svc.ListAttachments(ctx, id, bob)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestUpdatePost_ProtectWithPlainAttachments(t *testing.T) {
	f := newContentFixture(t)
	ctx := context.Background()
	id := f.create(t, "alice", PostInput{Title: "t", Content: "body", Visibility: access.Public})

	a, err := f.svc.AddAttachment(ctx, alice, id, "", "notes.txt", "text/plain", []byte("private bytes"))
	require.NoError(t, err)
	require.False(t, a.Encrypted())

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	_, err = f.svc.UpdatePost(ctx, alice, id, PostInput{Title: "t", Content: "body", Visibility: access.Public, Password: "pw"})
	assert.ErrorIs(t, err, common.ErrorValidation)

	stored := f.rm.posts.byID[id]
	assert.Nil(t, stored.Protected)
	assert.Equal(t, "body", stored.Content)

	v, err := f.svc.ReadPost(ctx, id, bob, "")
	require.NoError(t, err)
	assert.False(t, v.Locked)

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	_, err = f.svc.UpdatePost(ctx, alice, id, PostInput{Title: "t2", Content: "edited", Visibility: access.Public})
	require.NoError(t, err)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestComments(t *testing.T) {
	f := newContentFixture(t)
	ctx := context.Background()
	id := f.create(t, "alice", PostInput{Title: "t", Content: "body", Visibility: access.Public})

	_, err := f.svc.CreateComment(ctx, access.Anonymous, CommentInput{PostID: id, Content: "hi"})
	assert.ErrorIs(t, err, common.ErrorValidation)

	guest, err := f.svc.CreateComment(ctx, access.Anonymous, CommentInput{
		PostID: id, GuestName: "visitor", Content: "psst", IsPrivate: true, Password: "guest-pw",
	})
	require.NoError(t, err)
	require.NotNil(t, guest.Guest)
	assert.Nil(t, guest.AuthorID)

	member, err := f.svc.CreateComment(ctx, bob, CommentInput{PostID: id, Content: "hello", Password: "ignored"})
	require.NoError(t, err)
	require.NotNil(t, member.AuthorID)
	assert.Equal(t, "bob", *member.AuthorID)
	assert.Nil(t, member.Guest)

	ok, err := f.svc.VerifyCommentPassword(ctx, guest.ID, "guest-pw")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = f.svc.VerifyCommentPassword(ctx, guest.ID, "nope")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = f.svc.VerifyCommentPassword(ctx, member.ID, "ignored")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = f.svc.VerifyCommentPassword(ctx, "missing", "x")
	require.NoError(t, err)
	assert.False(t, ok)

	contentOf := func(p access.Principal) string {
		list, err := f.svc.ListComments(ctx, id, p)
		require.NoError(t, err)
		for _, c := range list {
			assert.Nil(t, c.Guest)
			if c.ID == guest.ID {
				return c.Content
			}
		}
		return "<absent>"
	}
	assert.Equal(t, "", contentOf(bob))
	assert.Equal(t, "psst", contentOf(alice))

	ok, err = f.svc.VerifyCommentPassword(ctx, guest.ID, "guest-pw")
	require.NoError(t, err)
	assert.True(t, ok, "listing does not strip stored credentials")
}

func TestCreateComment_HiddenPost(t *testing.T) {
	f := newContentFixture(t)
	id := f.create(t, "alice", PostInput{Title: "t", Visibility: access.Private})

	_, err := f.svc.CreateComment(context.Background(), bob, CommentInput{PostID: id, Content: "hi"})
	assert.ErrorIs(t, err, common.ErrorForbidden)
}
