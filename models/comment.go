package models

import (
	"time"

	"github.com/davecheney/tube/internal/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// A VideoComment is a comment on a video. Replies point at their parent
// with InReplyToCommentID and at the root of the thread with OriginCommentID.
type VideoComment struct {
	ID                 snowflake.ID `gorm:"primarykey;autoIncrement:false"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
	URL                string        `gorm:"size:255;uniqueIndex;not null"`
	Text               string        `gorm:"type:text"`
	VideoID            snowflake.ID  `gorm:"index;not null"`
	Video              *Video        `gorm:"constraint:OnDelete:CASCADE;<-:false;"`
	AccountActorID     snowflake.ID  `gorm:"index;not null"`
	AccountActor       *Actor        `gorm:"constraint:OnDelete:CASCADE;<-:false;"`
	InReplyToCommentID *snowflake.ID `gorm:"index"`
	InReplyToComment   *VideoComment `gorm:"constraint:OnDelete:SET NULL;<-:false;"`
	OriginCommentID    *snowflake.ID `gorm:"index"`
	OriginComment      *VideoComment `gorm:"constraint:OnDelete:SET NULL;<-:false;"`
}

func (c *VideoComment) BeforeCreate(tx *gorm.DB) error {
	if c.ID == 0 {
		c.ID = snowflake.Now()
	}
	return nil
}

type Comments struct {
	db *gorm.DB
}

func NewComments(db *gorm.DB) *Comments {
	return &Comments{db: db}
}

// FindByURL returns the comment with the given URL, or gorm.ErrRecordNotFound.
func (c *Comments) FindByURL(url string) (*VideoComment, error) {
	return first[VideoComment](c.db.Where("url = ?", url))
}

// Create stores comment as a reply to parent, which may be nil for a top
// level comment. Storing a comment whose URL is already known returns the
// stored comment.
func (c *Comments) Create(comment *VideoComment, parent *VideoComment) (*VideoComment, error) {
	if parent != nil {
		comment.InReplyToCommentID = &parent.ID
		origin := parent.ID
		if parent.OriginCommentID != nil {
			origin = *parent.OriginCommentID
		}
		comment.OriginCommentID = &origin
	}
	err := c.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "url"}},
		DoNothing: true,
	}).Create(comment).Error
	if err != nil {
		return nil, err
	}
	return c.FindByURL(comment.URL)
}

// Ancestors returns the chain of comments comment replies to, nearest
// parent first, ending at the root of the thread.
func (c *Comments) Ancestors(comment *VideoComment) ([]*VideoComment, error) {
	var ancestors []*VideoComment
	err := c.db.Raw(`
		WITH RECURSIVE ancestors (id, in_reply_to_comment_id, depth) AS (
			SELECT id, in_reply_to_comment_id, 0 FROM video_comments WHERE id = ?
			UNION ALL
			SELECT video_comments.id, video_comments.in_reply_to_comment_id, ancestors.depth + 1
			FROM video_comments
			JOIN ancestors ON video_comments.id = ancestors.in_reply_to_comment_id
		)
		SELECT video_comments.* FROM video_comments
		JOIN ancestors ON ancestors.id = video_comments.id
		WHERE ancestors.depth > 0
		ORDER BY ancestors.depth
	`, comment.ID).Scan(&ancestors).Error
	return ancestors, err
}

func (c *Comments) Destroy(comment *VideoComment) error {
	return c.db.Delete(comment).Error
}
