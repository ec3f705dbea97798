package services

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/dmitrijs2005/tradepost/internal/client/api"
	"github.com/dmitrijs2005/tradepost/internal/client/models"
	"github.com/dmitrijs2005/tradepost/internal/logging"
)

type DraftsAPI interface {
	CreateListing(ctx context.Context, fields models.ListingFields) (*models.Listing, error)
	UpdateListing(ctx context.Context, id string, fields models.ListingFields) (*models.Listing, error)
	GetListing(ctx context.Context, id string) (*models.Listing, error)
	PublishListing(ctx context.Context, id string) (*models.Listing, error)
	DeleteListing(ctx context.Context, id string) error
	Presign(ctx context.Context, filename, contentType string) (*models.Presign, error)
	AddListingImage(ctx context.Context, listingID, fileURL string) (*models.ListingImage, error)
}

// Uploader transfers bytes to a presigned URL. netx.PutPresigned bound to an
// http.Client satisfies it.
type Uploader func(ctx context.Context, url string, data []byte, contentType string) error

// ImageFile is an image picked for upload.
type ImageFile struct {
	Name        string
	ContentType string
	Data        []byte
}

// LoadImageFile reads path and guesses its content type from the extension,
// then from the content.
func LoadImageFile(path string) (ImageFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ImageFile{}, err
	}
	ct := mime.TypeByExtension(filepath.Ext(path))
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	return ImageFile{Name: filepath.Base(path), ContentType: ct, Data: data}, nil
}

// DraftHandle is one editing session of a listing. It learns the server id
// on the first save and keeps it for later saves, uploads and publishing.
type DraftHandle struct {
	mu      sync.Mutex
	id      string
	listing *models.Listing
}

// ID returns the server id, if the draft has been saved at least once.
func (h *DraftHandle) ID() (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.id, h.id != ""
}

// Listing returns the last listing returned by the server, or nil.
func (h *DraftHandle) Listing() *models.Listing {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listing == nil {
		return nil
	}
	cp := *h.listing
	cp.Images = append([]models.ListingImage(nil), h.listing.Images...)
	return &cp
}

func (h *DraftHandle) remember(l *models.Listing) {
	if l == nil {
		return
	}
	if l.ID != "" {
		h.id = l.ID
	}
	h.listing = l
}

// Drafts drives the create, attach images and publish sequence.
type Drafts struct {
	api    DraftsAPI
	upload Uploader
	logger logging.Logger
}

func NewDrafts(draftsAPI DraftsAPI, upload Uploader, logger logging.Logger) *Drafts {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Drafts{api: draftsAPI, upload: upload, logger: logger}
}

// NewDraft starts a draft that does not exist on the server yet.
func (d *Drafts) NewDraft() *DraftHandle {
	return &DraftHandle{}
}

// OpenDraft starts editing an existing listing.
func (d *Drafts) OpenDraft(id string) *DraftHandle {
	return &DraftHandle{id: id}
}

// SaveDraft creates the listing on first save and updates it afterwards.
// Saves on one handle are serialized so a draft is never created twice.
// ErrMissingListingID is returned when the server accepted a new draft but
// did not say which listing it created.
var ErrMissingListingID = errors.New("created listing has no id")

func (d *Drafts) SaveDraft(ctx context.Context, h *DraftHandle, fields models.ListingFields) (*models.Listing, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var (
		l   *models.Listing
		err error
	)
	if h.id == "" {
		l, err = d.api.CreateListing(ctx, fields)
		if err != nil {
			return nil, fmt.Errorf("create draft: %w", err)
		}
		if l == nil || l.ID == "" {
			return nil, ErrMissingListingID
		}
		d.logger.Info(ctx, "draft created", "listing_id", l.ID)
	} else {
		l, err = d.api.UpdateListing(ctx, h.id, fields)
		if err != nil {
			return nil, fmt.Errorf("update draft %s: %w", h.id, err)
		}
	}

	h.remember(l)
	cp := *l
	return &cp, nil
}

// AttachImage uploads img and registers it on the draft: presign, transfer,
// register, each attempted once. The draft must have been saved first.
func (d *Drafts) AttachImage(ctx context.Context, h *DraftHandle, img ImageFile) (*models.ListingImage, error) {
	id, ok := h.ID()
	if !ok {
		return nil, fmt.Errorf("%w: save the draft before adding images", api.ErrPreconditionFailed)
	}

	presign, err := d.api.Presign(ctx, img.Name, img.ContentType)
	if err != nil {
		return nil, &api.UploadStepError{Step: api.StepPresign, Err: err}
	}

	if err := d.upload(ctx, presign.UploadURL, img.Data, img.ContentType); err != nil {
		return nil, &api.UploadStepError{Step: api.StepTransfer, Err: err}
	}

	image, err := d.api.AddListingImage(ctx, id, presign.FileURL)
	if err != nil {
		return nil, &api.UploadStepError{Step: api.StepRegister, Err: err}
	}

	h.mu.Lock()
	if h.listing != nil && h.listing.ID == id {
		h.listing.Images = append(h.listing.Images, *image)
	}
	h.mu.Unlock()

	d.logger.Info(ctx, "image attached", "listing_id", id, "url", image.URL)
	return image, nil
}

// Publish asks the server to make the draft live.
func (d *Drafts) Publish(ctx context.Context, h *DraftHandle) (*models.Listing, error) {
	id, ok := h.ID()
	if !ok {
		return nil, fmt.Errorf("%w: save the draft before publishing", api.ErrPreconditionFailed)
	}

	l, err := d.api.PublishListing(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("publish %s: %w", id, err)
	}

	h.mu.Lock()
	h.remember(l)
	h.mu.Unlock()
	cp := *l
	return &cp, nil
}

// Refresh re-reads the listing behind h from the server.
func (d *Drafts) Refresh(ctx context.Context, h *DraftHandle) (*models.Listing, error) {
	id, ok := h.ID()
	if !ok {
		return nil, fmt.Errorf("%w: draft has not been saved", api.ErrPreconditionFailed)
	}

	l, err := d.api.GetListing(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get listing %s: %w", id, err)
	}

	h.mu.Lock()
	h.remember(l)
	h.mu.Unlock()
	cp := *l
	return &cp, nil
}

// Delete removes a listing owned by the current user.
func (d *Drafts) Delete(ctx context.Context, id string) error {
	if err := d.api.DeleteListing(ctx, id); err != nil {
		return fmt.Errorf("delete listing %s: %w", id, err)
	}
	return nil
}
