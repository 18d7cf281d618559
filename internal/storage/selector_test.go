package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/starford/timedline/internal/models"
)

type namedDriver struct{ name string }

func (d namedDriver) Name() string { return d.name }
func (namedDriver) CurrentUser(context.Context) (*models.User, error) { return nil, nil }
func (namedDriver) UploadFile(context.Context, File) (*models.Attachment, error) {
	return nil, nil
}
func (namedDriver) CreateEntry(context.Context, models.Entry) error { return nil }
func (namedDriver) ListEntries(context.Context) ([]models.Entry, error) {
	return []models.Entry{}, nil
}
func (namedDriver) DeleteEntry(context.Context, int64, string) error          { return nil }
func (namedDriver) LogActivity(context.Context, models.ActivityItem) error     { return nil }
func (namedDriver) ListActivity(context.Context) ([]models.ActivityItem, error) { return nil, nil }
func (namedDriver) ResolveAttachment(context.Context, models.Attachment) (string, error) {
	return "", nil
}

func TestSelectorStartsLocal(t *testing.T) {
	s := NewSelector(namedDriver{DriverLocal})
	b := s.Current()
	if b.Generation != 1 || b.Driver.Name() != DriverLocal {
		t.Errorf("binding = %+v", b)
	}
	if s.IsRemote() {
		t.Error("should not be remote")
	}
}

func TestSelectorPromoteOnce(t *testing.T) {
	s := NewSelector(namedDriver{DriverLocal})
	var got []Binding
	s.OnSwap(func(b Binding) { got = append(got, b) })

	if err := s.Promote(namedDriver{DriverRemote}); err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if !s.IsRemote() || s.Current().Generation != 2 {
		t.Errorf("after promote: %+v", s.Current())
	}
	if len(got) != 1 || !got[0].Remote() {
		t.Errorf("listeners got %+v", got)
	}

	err := s.Promote(namedDriver{DriverLocal})
	if !errors.Is(err, ErrAlreadyPromoted) {
		t.Errorf("second promote err = %v", err)
	}
	if !s.IsRemote() {
		t.Error("selector must never go back")
	}
}

func TestBindingCapturedBeforeSwap(t *testing.T) {
	s := NewSelector(namedDriver{DriverLocal})
	captured := s.Current()
	_ = s.Promote(namedDriver{DriverRemote})
	if captured.Driver.Name() != DriverLocal {
		t.Error("captured binding changed under the caller")
	}
}
