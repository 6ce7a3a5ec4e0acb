package actions

import (
	"strings"
	"sync"

	"github.com/victorivanov/commsync/internal/models"
)

// Pending is what Take hands over for submission.
type Pending struct {
	Content     string
	ReplyTo     *string
	EditingID   string
	Attachments []models.Attachment
	Metadata    models.Metadata
}

// Composer holds the local input state: the text being typed and whether it
// replies to, or edits, an existing message. Replying and editing are
// mutually exclusive.
type Composer struct {
	mu          sync.Mutex
	input       string
	replyTo     *models.Message
	editing     *models.Message
	attachments []models.Attachment
	metadata    models.Metadata
}

// NewComposer returns an empty Composer.
func NewComposer() *Composer {
	return &Composer{}
}

func (c *Composer) SetInput(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.input = text
}

func (c *Composer) Input() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.input
}

// ReplyTo targets msg as the thread parent of the next send.
func (c *Composer) ReplyTo(msg models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := msg.Clone()
	c.replyTo = &m
	c.editing = nil
}

// Edit loads msg's content into the input; the next submit edits it.
func (c *Composer) Edit(msg models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := msg.Clone()
	c.editing = &m
	c.replyTo = nil
	c.input = msg.Content
}

// Attach queues an attachment for the next send.
func (c *Composer) Attach(a models.Attachment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attachments = append(c.attachments, a)
}

// SetMetadata sets the embed or code block for the next send.
func (c *Composer) SetMetadata(m models.Metadata) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metadata = m
}

// Context returns the message being replied to and the one being edited.
func (c *Composer) Context() (replyTo, editing *models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.replyTo != nil {
		m := c.replyTo.Clone()
		replyTo = &m
	}
	if c.editing != nil {
		m := c.editing.Clone()
		editing = &m
	}
	return replyTo, editing
}

// Cancel drops the reply or edit context and clears the input.
func (c *Composer) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
}

// Take returns the pending submission and clears everything in the same
// step. It returns false, leaving state untouched, when there is nothing to
// send.
func (c *Composer) Take() (Pending, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	content := strings.TrimSpace(c.input)
	if content == "" && (c.editing != nil || len(c.attachments) == 0) {
		return Pending{}, false
	}

	p := Pending{
		Content:     content,
		Attachments: c.attachments,
		Metadata:    c.metadata,
	}
	if c.replyTo != nil {
		id := c.replyTo.ID
		p.ReplyTo = &id
	}
	if c.editing != nil {
		p.EditingID = c.editing.ID
	}
	c.reset()
	return p, true
}

func (c *Composer) reset() {
	c.input = ""
	c.replyTo = nil
	c.editing = nil
	c.attachments = nil
	c.metadata = models.Metadata{}
}
