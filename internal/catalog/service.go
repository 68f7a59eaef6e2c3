package catalog

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNotFound is returned by Get/Update/Delete for an unknown id.
var ErrNotFound = errors.New("product not found")

var (
	errTitleRequired       = errors.New("titulo is required")
	errDescriptionRequired = errors.New("descricao is required")
	errPriceRequired       = errors.New("preco is required")
	errPriceInvalid        = errors.New("preco must be a number")
	errPriceNegative       = errors.New("preco must be non-negative")
)

// ImageStore persists uploaded image blobs. Accept validates and
// stores the bytes, returning a public reference path. Remove is
// best-effort cleanup and never fails the caller.
type ImageStore interface {
	Accept(data []byte, originalName, declaredType string) (string, error)
	Remove(ref string)
}

// Broadcaster pushes a full catalog snapshot to connected clients.
type Broadcaster interface {
	Publish(v any)
}

// Upload is a file part taken from a multipart request.
type Upload struct {
	Data         []byte
	OriginalName string
	ContentType  string
}

type CreateInput struct {
	Title       string
	Description string
	PriceRaw    string
	File        *Upload
}

// UpdateInput fields are nil when the form field was absent or blank;
// those keep the product's prior value.
type UpdateInput struct {
	Title       *string
	Description *string
	PriceRaw    *string
	File        *Upload
}

// Service orchestrates validation, image lifecycle and broadcasting
// around the Store. All dependencies are injected; it holds no global
// state.
type Service struct {
	Store  Store
	Images ImageStore
	Live   Broadcaster
	Log    *zap.Logger
}

func (s *Service) List() []Product {
	return s.Store.List()
}

func (s *Service) Get(id string) (Product, error) {
	p, ok := s.Store.Get(id)
	if !ok {
		return Product{}, ErrNotFound
	}
	return p, nil
}

// Create accepts the upload first (so its validation runs even when a
// text field is missing) and rolls it back if anything after it fails.
// The broadcast fires once, after the insert is committed.
func (s *Service) Create(in CreateInput) (Product, error) {
	ref, err := s.acceptUpload(in.File)
	if err != nil {
		return Product{}, err
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		s.rollback(ref)
		return Product{}, errTitleRequired
	}
	desc := strings.TrimSpace(in.Description)
	if desc == "" {
		s.rollback(ref)
		return Product{}, errDescriptionRequired
	}
	price, err := parsePrice(in.PriceRaw)
	if err != nil {
		s.rollback(ref)
		return Product{}, err
	}

	now := time.Now().UTC()
	p := Product{
		ID:          uuid.NewString(),
		Title:       title,
		Description: desc,
		Price:       price,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if ref != "" {
		p.ImageURL = &ref
	}

	s.Store.Insert(p)
	s.broadcast()
	return p, nil
}

// Update leaves the product untouched on any validation failure. When
// a new image replaces an old one, the old file is removed only after
// the swap is committed, asynchronously and best-effort.
func (s *Service) Update(id string, in UpdateInput) (Product, error) {
	ref, err := s.acceptUpload(in.File)
	if err != nil {
		return Product{}, err
	}

	prev, ok := s.Store.Get(id)
	if !ok {
		s.rollback(ref)
		return Product{}, ErrNotFound
	}

	patch := Patch{UpdatedAt: time.Now().UTC()}
	if t := trimmed(in.Title); t != nil {
		patch.Title = t
	}
	if d := trimmed(in.Description); d != nil {
		patch.Description = d
	}
	if raw := trimmed(in.PriceRaw); raw != nil {
		price, err := parsePrice(*raw)
		if err != nil {
			s.rollback(ref)
			return Product{}, err
		}
		patch.Price = &price
	}
	if ref != "" {
		patch.ImageURL = &ref
	}

	updated, ok := s.Store.Update(id, patch)
	if !ok {
		s.rollback(ref)
		return Product{}, ErrNotFound
	}

	if ref != "" && prev.ImageURL != nil {
		go s.Images.Remove(*prev.ImageURL)
	}

	s.broadcast()
	return updated, nil
}

// Delete removes the product and, if it carried an image, schedules
// best-effort removal of the file. A product without an image causes
// no filesystem call at all.
func (s *Service) Delete(id string) (Product, error) {
	p, ok := s.Store.Remove(id)
	if !ok {
		return Product{}, ErrNotFound
	}

	if p.ImageURL != nil {
		go s.Images.Remove(*p.ImageURL)
	}

	s.broadcast()
	return p, nil
}

func (s *Service) acceptUpload(f *Upload) (string, error) {
	if f == nil {
		return "", nil
	}
	ref, err := s.Images.Accept(f.Data, f.OriginalName, f.ContentType)
	if err != nil {
		return "", err
	}
	return ref, nil
}

// rollback removes an already-accepted upload because the surrounding
// request failed. Synchronous: the file must be gone before the error
// response is written.
func (s *Service) rollback(ref string) {
	if ref == "" {
		return
	}
	s.Images.Remove(ref)
}

func (s *Service) broadcast() {
	if s.Live == nil {
		return
	}
	s.Live.Publish(s.Store.List())
}

func parsePrice(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, errPriceRequired
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errPriceInvalid
	}
	if v < 0 {
		return 0, errPriceNegative
	}
	return v, nil
}

// trimmed treats a blank or absent form field as "not supplied".
func trimmed(v *string) *string {
	if v == nil {
		return nil
	}
	t := strings.TrimSpace(*v)
	if t == "" {
		return nil
	}
	return &t
}
