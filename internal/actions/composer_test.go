package actions

import (
	"testing"

	"github.com/victorivanov/commsync/internal/models"
)

func TestComposer_TakeClearsEverything(t *testing.T) {
	c := NewComposer()
	c.ReplyTo(models.Message{ID: "p"})
	c.SetInput("hi")
	c.SetMetadata(models.CodeMetadata("go", "x"))

	p, ok := c.Take()
	if !ok {
		t.Fatal("Take returned nothing")
	}
	if p.Content != "hi" || p.ReplyTo == nil || *p.ReplyTo != "p" || p.Metadata.Kind != models.MetadataCode {
		t.Fatalf("pending = %+v", p)
	}
	if c.Input() != "" {
		t.Fatal("input not cleared")
	}
	if reply, edit := c.Context(); reply != nil || edit != nil {
		t.Fatal("context not cleared")
	}
	if _, ok := c.Take(); ok {
		t.Fatal("second Take should be empty")
	}
}

func TestComposer_ReplyAndEditExclusive(t *testing.T) {
	c := NewComposer()
	c.ReplyTo(models.Message{ID: "p"})
	c.Edit(models.Message{ID: "e", Content: "old"})

	reply, edit := c.Context()
	if reply != nil || edit == nil || edit.ID != "e" {
		t.Fatalf("reply = %v edit = %v", reply, edit)
	}

	c.ReplyTo(models.Message{ID: "p"})
	reply, edit = c.Context()
	if reply == nil || edit != nil {
		t.Fatalf("reply = %v edit = %v", reply, edit)
	}
}

func TestComposer_AttachmentOnlySend(t *testing.T) {
	c := NewComposer()
	c.Attach(models.Attachment{ID: "a1", Name: "plan.pdf", Type: models.AttachmentFile})

	p, ok := c.Take()
	if !ok || len(p.Attachments) != 1 {
		t.Fatalf("pending = %+v ok = %v", p, ok)
	}
}

func TestComposer_EmptyEditIsNotSubmitted(t *testing.T) {
	c := NewComposer()
	c.Edit(models.Message{ID: "e", Content: "old"})
	c.SetInput(" ")

	if _, ok := c.Take(); ok {
		t.Fatal("empty edit should not be taken")
	}
	if _, edit := c.Context(); edit == nil {
		t.Fatal("edit context should survive an empty Take")
	}
}

func TestComposer_CancelDropsContext(t *testing.T) {
	c := NewComposer()
	c.Edit(models.Message{ID: "e", Content: "old"})
	c.Cancel()

	if c.Input() != "" {
		t.Fatal("input not cleared")
	}
	if _, edit := c.Context(); edit != nil {
		t.Fatal("edit context not cleared")
	}
}
