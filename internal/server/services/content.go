package services

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pengine/pengine/internal/access"
	"github.com/pengine/pengine/internal/common"
	"github.com/pengine/pengine/internal/cryptox"
	"github.com/pengine/pengine/internal/dbx"
	"github.com/pengine/pengine/internal/logging"
	"github.com/pengine/pengine/internal/server/blobstore"
	"github.com/pengine/pengine/internal/server/models"
	"github.com/pengine/pengine/internal/server/repositories/repomanager"
)

// DefaultListLimit bounds ListVisiblePosts when the caller passes no limit.
const DefaultListLimit = 50

// PostInput is the editable part of a post. A non-empty Password protects
// the body; an empty one stores it in the clear.
type PostInput struct {
	Title      string
	Content    string
	Visibility access.Visibility
	GroupIDs   []string
	PublishAt  *time.Time
	Password   string
}

// PostView is a post as released to one principal. Body is empty while
// Locked is set.
type PostView struct {
	ID         string
	Visibility access.Visibility
	access.Metadata
	Protected bool
	Locked    bool
	Body      string
}

// AttachmentView is an attachment as released to one principal.
type AttachmentView struct {
	*models.Attachment
	Locked bool
	Data   []byte
}

// CommentInput describes a new comment. Password only applies to guests.
type CommentInput struct {
	PostID          string
	ParentCommentID *string
	GuestName       string
	Content         string
	IsPrivate       bool
	Password        string
}

// ContentService writes and releases posts, their attachments and comments.
// Every read goes through the access engine before any body is returned.
type ContentService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	engine      *access.Engine
	cipher      ContentCipher
	hasher      PasswordHasher
	blobs       blobstore.Store
	logger      logging.Logger
	now         func() time.Time
}

func NewContentService(
	db *sql.DB,
	m repomanager.RepositoryManager,
	engine *access.Engine,
	cipher ContentCipher,
	hasher PasswordHasher,
	blobs blobstore.Store,
	l logging.Logger,
) *ContentService {
	return &ContentService{
		db:          db,
		repomanager: m,
		engine:      engine,
		cipher:      cipher,
		hasher:      hasher,
		blobs:       blobs,
		logger:      l.With("module", "content"),
		now:         time.Now,
	}
}

func validatePostInput(in PostInput) error {
	if strings.TrimSpace(in.Title) == "" {
		return fmt.Errorf("%w: title is required", common.ErrorValidation)
	}
	if !in.Visibility.Valid() {
		return fmt.Errorf("%w: unknown visibility %d", common.ErrorValidation, in.Visibility)
	}
	return nil
}

// groupsFor returns the groups to store: only GroupRestricted posts keep any.
func groupsFor(in PostInput) []string {
	if in.Visibility != access.GroupRestricted {
		return nil
	}
	return in.GroupIDs
}

// seal sets the body and the protection fields of post from in. With a
// password the plaintext is dropped; without one every protection field is
// cleared.
func (s *ContentService) seal(post *models.Post, in PostInput, salt []byte) error {
	if in.Password == "" {
		post.Content = in.Content
		post.Protected = nil
		return nil
	}

	var (
		p   *cryptox.ProtectedPayload
		err error
	)
	if salt != nil {
		p, err = s.cipher.EncryptWithSalt([]byte(in.Content), in.Password, salt)
	} else {
		p, err = s.cipher.Encrypt([]byte(in.Content), in.Password)
	}
	if err != nil {
		return fmt.Errorf("encrypt post: %w", err)
	}
	enc := p.Encode()
	post.Content = ""
	post.Protected = &enc
	return nil
}

// CreatePost stores a new post owned by authorID.
func (s *ContentService) CreatePost(ctx context.Context, authorID string, in PostInput) (*models.Post, error) {
	if err := validatePostInput(in); err != nil {
		return nil, err
	}

	post := &models.Post{
		AuthorID:   authorID,
		Title:      in.Title,
		Visibility: in.Visibility,
		PublishAt:  in.PublishAt,
	}
	if err := s.seal(post, in, nil); err != nil {
		return nil, err
	}

	var created *models.Post
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Posts(tx)
		var err error
		if created, err = repo.Create(ctx, post); err != nil {
			return err
		}
		created.GroupIDs = groupsFor(in)
		return repo.ReplaceGroups(ctx, created.ID, created.GroupIDs)
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// UpdatePost replaces a post's body, visibility, schedule and groups in one
// transaction. Only the author may update it.
//
// When the post has encrypted attachments they stay keyed to the post salt,
// so the update must keep the current password: it is checked against the
// stored body and the new body is sealed under the same salt.
func (s *ContentService) UpdatePost(ctx context.Context, p access.Principal, postID string, in PostInput) (*models.Post, error) {
	if err := validatePostInput(in); err != nil {
		return nil, err
	}

	var updated *models.Post
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Posts(tx)

		post, err := repo.Get(ctx, postID)
		if err != nil {
			return err
		}
		if !p.Owns(post.AccessItem()) {
			return common.ErrorForbidden
		}

		salt, err := s.attachmentSalt(ctx, tx, post, in.Password)
		if err != nil {
			return err
		}

		post.Title = in.Title
		post.Visibility = in.Visibility
		post.PublishAt = in.PublishAt
		if err := s.seal(post, in, salt); err != nil {
			return err
		}
		if err := repo.Update(ctx, post); err != nil {
			return err
		}
		post.GroupIDs = groupsFor(in)
		if err := repo.ReplaceGroups(ctx, post.ID, post.GroupIDs); err != nil {
			return err
		}
		updated = post
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// attachmentSalt returns the salt a re-sealed body must reuse, or nil when
// the post has no encrypted attachments. Protection cannot be added while
// plaintext attachments exist, since they would stay readable without it.
func (s *ContentService) attachmentSalt(ctx context.Context, tx dbx.DBTX, post *models.Post, password string) ([]byte, error) {
	list, err := s.repomanager.Attachments(tx).ListByPost(ctx, post.ID)
	if err != nil {
		return nil, err
	}
	plain, encrypted := false, false
	for _, a := range list {
		if a.Encrypted() {
			encrypted = true
		} else {
			plain = true
		}
	}
	if plain && password != "" {
		return nil, fmt.Errorf("%w: post has unencrypted attachments", common.ErrorValidation)
	}
	if !encrypted || post.Protected == nil {
		return nil, nil
	}

	if password == "" {
		return nil, fmt.Errorf("%w: post has encrypted attachments", common.ErrorValidation)
	}
	payload, err := s.unlock(post, password)
	if err != nil {
		return nil, err
	}
	return payload.Salt, nil
}

// unlock checks password against the stored body and returns the decoded
// payload.
func (s *ContentService) unlock(post *models.Post, password string) (*cryptox.ProtectedPayload, error) {
	payload, err := post.Protected.Decode()
	if err == nil {
		_, err = s.cipher.Decrypt(payload, password)
	}
	if errors.Is(err, cryptox.ErrAuthenticationFailed) {
		return nil, common.ErrWrongContentPassword
	}
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// DeletePost removes a post. Only the author may delete it.
func (s *ContentService) DeletePost(ctx context.Context, p access.Principal, postID string) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Posts(tx)
		post, err := repo.Get(ctx, postID)
		if err != nil {
			return err
		}
		if !p.Owns(post.AccessItem()) {
			return common.ErrorForbidden
		}
		return repo.Delete(ctx, postID)
	})
}

func (s *ContentService) evaluate(ctx context.Context, post *models.Post, p access.Principal) (access.Decision, error) {
	d, err := s.engine.Evaluate(ctx, post.AccessItem(), p)
	if err != nil {
		return access.Decision{}, err
	}
	if !d.Visible {
		return d, common.ErrorForbidden
	}
	return d, nil
}

// ReadPost releases a post to p. A protected post comes back Locked with
// metadata only until password decrypts it; a wrong password returns
// ErrWrongContentPassword.
func (s *ContentService) ReadPost(ctx context.Context, postID string, p access.Principal, password string) (*PostView, error) {
	post, err := s.repomanager.Posts(s.db).Get(ctx, postID)
	if err != nil {
		return nil, err
	}
	d, err := s.evaluate(ctx, post, p)
	if err != nil {
		return nil, err
	}

	var protected *cryptox.ProtectedPayload
	if post.Protected != nil && password != "" {
		if protected, err = post.Protected.Decode(); err != nil {
			return nil, common.ErrWrongContentPassword
		}
	}

	released, err := access.Release(d, post.Metadata(), []byte(post.Content), protected, password, s.cipher)
	if errors.Is(err, cryptox.ErrAuthenticationFailed) {
		return nil, common.ErrWrongContentPassword
	}
	if err != nil {
		return nil, err
	}

	return &PostView{
		ID:         post.ID,
		Visibility: post.Visibility,
		Metadata:   released.Metadata,
		Protected:  post.Protected != nil,
		Locked:     released.Locked,
		Body:       string(released.Body),
	}, nil
}

// ListVisiblePosts returns the most recent posts p may see, newest first.
// Protected posts are listed locked.
func (s *ContentService) ListVisiblePosts(ctx context.Context, p access.Principal, limit int) ([]*PostView, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	list, err := s.repomanager.Posts(s.db).ListRecent(ctx, limit)
	if err != nil {
		return nil, err
	}

	items := make([]access.Item, len(list))
	byID := make(map[string]*models.Post, len(list))
	for i, post := range list {
		items[i] = post.AccessItem()
		byID[post.ID] = post
	}
	visible, err := s.engine.Filter(ctx, p, items)
	if err != nil {
		return nil, err
	}

	out := make([]*PostView, 0, len(visible))
	for _, it := range visible {
		post := byID[it.ID]
		v := &PostView{
			ID:         post.ID,
			Visibility: post.Visibility,
			Metadata:   post.Metadata(),
			Protected:  post.Protected != nil,
			Locked:     post.Protected != nil,
		}
		if !v.Locked {
			v.Body = post.Content
		}
		out = append(out, v)
	}
	return out, nil
}

// AddAttachment stores a file for a post. Files of a protected post are
// encrypted under the post password and salt; the password must open the
// post body.
func (s *ContentService) AddAttachment(ctx context.Context, p access.Principal, postID, password, fileName, contentType string, data []byte) (*models.Attachment, error) {
	if strings.TrimSpace(fileName) == "" {
		return nil, fmt.Errorf("%w: file name is required", common.ErrorValidation)
	}
	post, err := s.repomanager.Posts(s.db).Get(ctx, postID)
	if err != nil {
		return nil, err
	}
	if !p.Owns(post.AccessItem()) {
		return nil, common.ErrorForbidden
	}

	a := &models.Attachment{
		PostID:      postID,
		FileName:    fileName,
		ContentType: contentType,
		Size:        int64(len(data)),
		StorageKey:  blobstore.NewStorageKey(postID, s.now()),
	}

	stored := data
	if post.Protected != nil {
		if password == "" {
			return nil, common.ErrWrongContentPassword
		}
		body, err := s.unlock(post, password)
		if err != nil {
			return nil, err
		}
		sealed, err := s.cipher.EncryptWithSalt(data, password, body.Salt)
		if err != nil {
			return nil, fmt.Errorf("encrypt attachment: %w", err)
		}
		stored = sealed.Ciphertext
		a.Nonce = base64.StdEncoding.EncodeToString(sealed.Nonce)
		a.Tag = base64.StdEncoding.EncodeToString(sealed.Tag)
	}

	sum := sha256.Sum256(stored)
	a.SHA256 = hex.EncodeToString(sum[:])

	if err := s.blobs.Put(ctx, a.StorageKey, stored, contentType); err != nil {
		return nil, fmt.Errorf("store attachment: %w", err)
	}
	created, err := s.repomanager.Attachments(s.db).Create(ctx, a)
	if err != nil {
		s.logger.Warn(ctx, "attachment metadata not saved, blob orphaned", "key", a.StorageKey, "error", err)
		return nil, err
	}
	return created, nil
}

// ReadAttachment releases an attachment the same way ReadPost releases a
// body.
func (s *ContentService) ReadAttachment(ctx context.Context, attachmentID string, p access.Principal, password string) (*AttachmentView, error) {
	a, post, d, err := s.visibleAttachment(ctx, attachmentID, p)
	if err != nil {
		return nil, err
	}

	data, err := s.blobs.Get(ctx, a.StorageKey)
	if err != nil {
		return nil, err
	}
	if !a.Encrypted() {
		return &AttachmentView{Attachment: a, Data: data}, nil
	}
	if password == "" || post.Protected == nil {
		return &AttachmentView{Attachment: a, Locked: true}, nil
	}

	payload, err := attachmentPayload(post, a, data)
	if err != nil {
		return nil, common.ErrWrongContentPassword
	}
	released, err := access.Release(d, post.Metadata(), nil, payload, password, s.cipher)
	if errors.Is(err, cryptox.ErrAuthenticationFailed) {
		return nil, common.ErrWrongContentPassword
	}
	if err != nil {
		return nil, err
	}
	return &AttachmentView{Attachment: a, Data: released.Body}, nil
}

// AttachmentURL returns a time-limited download link. Encrypted attachments
// must be read through ReadAttachment instead.
func (s *ContentService) AttachmentURL(ctx context.Context, attachmentID string, p access.Principal, ttl time.Duration) (string, error) {
	a, _, _, err := s.visibleAttachment(ctx, attachmentID, p)
	if err != nil {
		return "", err
	}
	if a.Encrypted() {
		return "", fmt.Errorf("%w: attachment is encrypted", common.ErrorValidation)
	}
	return s.blobs.PresignGet(ctx, a.StorageKey, ttl)
}

// ListAttachments returns attachment metadata of a post visible to p.
func (s *ContentService) ListAttachments(ctx context.Context, postID string, p access.Principal) ([]*models.Attachment, error) {
	post, err := s.repomanager.Posts(s.db).Get(ctx, postID)
	if err != nil {
		return nil, err
	}
	if _, err := s.evaluate(ctx, post, p); err != nil {
		return nil, err
	}
	return s.repomanager.Attachments(s.db).ListByPost(ctx, postID)
}

func (s *ContentService) visibleAttachment(ctx context.Context, id string, p access.Principal) (*models.Attachment, *models.Post, access.Decision, error) {
	a, err := s.repomanager.Attachments(s.db).Get(ctx, id)
	if err != nil {
		return nil, nil, access.Decision{}, err
	}
	post, err := s.repomanager.Posts(s.db).Get(ctx, a.PostID)
	if err != nil {
		return nil, nil, access.Decision{}, err
	}
	d, err := s.evaluate(ctx, post, p)
	if err != nil {
		return nil, nil, access.Decision{}, err
	}
	return a, post, d, nil
}

func attachmentPayload(post *models.Post, a *models.Attachment, data []byte) (*cryptox.ProtectedPayload, error) {
	enc := base64.StdEncoding
	salt, err := enc.DecodeString(post.Protected.Salt)
	if err != nil {
		return nil, err
	}
	nonce, err := enc.DecodeString(a.Nonce)
	if err != nil {
		return nil, err
	}
	tag, err := enc.DecodeString(a.Tag)
	if err != nil {
		return nil, err
	}
	return &cryptox.ProtectedPayload{Ciphertext: data, Salt: salt, Nonce: nonce, Tag: tag}, nil
}

// CreateComment adds a comment to a post visible to p. Signed-in authors
// are recorded by ID; anonymous guests must give a name and may protect a
// private comment with a password.
func (s *ContentService) CreateComment(ctx context.Context, p access.Principal, in CommentInput) (*models.Comment, error) {
	if strings.TrimSpace(in.Content) == "" {
		return nil, fmt.Errorf("%w: comment is empty", common.ErrorValidation)
	}
	post, err := s.repomanager.Posts(s.db).Get(ctx, in.PostID)
	if err != nil {
		return nil, err
	}
	if _, err := s.evaluate(ctx, post, p); err != nil {
		return nil, err
	}

	c := &models.Comment{
		PostID:          in.PostID,
		ParentCommentID: in.ParentCommentID,
		Content:         in.Content,
		IsPrivate:       in.IsPrivate,
	}
	if p.Authenticated() {
		uid := p.UserID
		c.AuthorID = &uid
	} else {
		if strings.TrimSpace(in.GuestName) == "" {
			return nil, fmt.Errorf("%w: guest name is required", common.ErrorValidation)
		}
		c.GuestName = in.GuestName
		if in.Password != "" {
			d, err := s.hasher.Hash(in.Password)
			if err != nil {
				return nil, fmt.Errorf("hash guest password: %w", err)
			}
			c.Guest = &models.GuestCredential{PasswordHash: d.Hash, PasswordSalt: d.Salt}
		}
	}
	return s.repomanager.Comments(s.db).Create(ctx, c)
}

// VerifyCommentPassword checks a guest's password. Comments without one
// never verify.
func (s *ContentService) VerifyCommentPassword(ctx context.Context, commentID, password string) (bool, error) {
	c, err := s.repomanager.Comments(s.db).Get(ctx, commentID)
	if errors.Is(err, common.ErrorNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if c.Guest == nil {
		return false, nil
	}
	return s.hasher.Verify(password, c.Guest.PasswordHash, c.Guest.PasswordSalt), nil
}

// ListComments returns the comments of a post visible to p. The content of a
// private comment is blanked unless p wrote it or owns the post.
func (s *ContentService) ListComments(ctx context.Context, postID string, p access.Principal) ([]*models.Comment, error) {
	post, err := s.repomanager.Posts(s.db).Get(ctx, postID)
	if err != nil {
		return nil, err
	}
	if _, err := s.evaluate(ctx, post, p); err != nil {
		return nil, err
	}
	list, err := s.repomanager.Comments(s.db).ListByPost(ctx, postID)
	if err != nil {
		return nil, err
	}

	owner := p.Owns(post.AccessItem())
	out := make([]*models.Comment, 0, len(list))
	for _, c := range list {
		v := *c
		author := p.Authenticated() && v.AuthorID != nil && *v.AuthorID == p.UserID
		if v.IsPrivate && !owner && !author {
			v.Content = ""
		}
		v.Guest = nil
		out = append(out, &v)
	}
	return out, nil
}
