package catalog

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"LiveCatalog/internal/images"
	"LiveCatalog/pkg/kit"
)

type Server struct {
	Service *Service
	Log     *zap.Logger
}

const (
	// multipart bodies may carry the 5 MiB image plus form fields and
	// part framing.
	maxUploadBody = images.MaxSize + 1<<20
	formMemory    = 8 << 20

	writeLimitPerMin = 120
	writeLimitWindow = 60
)

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	r.Get("/products", s.list)
	r.Get("/products/{id}", s.get)

	limiter := kit.NewIPRateLimiter(writeLimitPerMin, writeLimitWindow)
	r.Group(func(pr chi.Router) {
		pr.Use(limiter.Middleware)
		pr.Post("/products", s.create)
		pr.Put("/products/{id}", s.update)
		pr.Delete("/products/{id}", s.remove)
	})

	return r
}

type mutationResponse struct {
	Message string  `json:"message"`
	Product Product `json:"product"`
}

func (s *Server) list(w http.ResponseWriter, _ *http.Request) {
	kit.WriteJSON(w, http.StatusOK, s.Service.List())
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	p, err := s.Service.Get(id)
	if err != nil {
		s.writeServiceError(w, r, id, err)
		return
	}
	kit.WriteJSON(w, http.StatusOK, p)
}

func (s *Server) create(w http.ResponseWriter, r *http.Request) {
	if !s.parseForm(w, r) {
		return
	}
	file, ok := s.formFile(w, r)
	if !ok {
		return
	}

	p, err := s.Service.Create(CreateInput{
		Title:       r.FormValue("titulo"),
		Description: r.FormValue("descricao"),
		PriceRaw:    r.FormValue("preco"),
		File:        file,
	})
	if err != nil {
		s.writeServiceError(w, r, "", err)
		return
	}

	kit.WriteJSON(w, http.StatusCreated, mutationResponse{
		Message: "product created",
		Product: p,
	})
}

func (s *Server) update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if !s.parseForm(w, r) {
		return
	}
	file, ok := s.formFile(w, r)
	if !ok {
		return
	}

	p, err := s.Service.Update(id, UpdateInput{
		Title:       formField(r, "titulo"),
		Description: formField(r, "descricao"),
		PriceRaw:    formField(r, "preco"),
		File:        file,
	})
	if err != nil {
		s.writeServiceError(w, r, id, err)
		return
	}

	kit.WriteJSON(w, http.StatusOK, mutationResponse{
		Message: "product updated",
		Product: p,
	})
}

func (s *Server) remove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	p, err := s.Service.Delete(id)
	if err != nil {
		s.writeServiceError(w, r, id, err)
		return
	}

	kit.WriteJSON(w, http.StatusOK, mutationResponse{
		Message: "product deleted",
		Product: p,
	})
}

func (s *Server) parseForm(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)

	err := r.ParseMultipartForm(formMemory)
	if err == nil {
		return true
	}

	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		kit.WriteError(w, r, http.StatusBadRequest, "request body too large", nil)
		return false
	}
	kit.WriteError(w, r, http.StatusBadRequest, "multipart form expected", nil)
	return false
}

// formFile pulls the optional "foto" part; its absence is not an
// error.
func (s *Server) formFile(w http.ResponseWriter, r *http.Request) (*Upload, bool) {
	f, fh, err := r.FormFile("foto")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, true
	}
	if err != nil {
		kit.WriteError(w, r, http.StatusBadRequest, "invalid foto field", nil)
		return nil, false
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	if err != nil {
		kit.WriteError(w, r, http.StatusBadRequest, "reading foto failed", nil)
		return nil, false
	}

	return &Upload{
		Data:         data,
		OriginalName: fh.Filename,
		ContentType:  fh.Header.Get("Content-Type"),
	}, true
}

func formField(r *http.Request, key string) *string {
	if r.MultipartForm == nil {
		return nil
	}
	vs, ok := r.MultipartForm.Value[key]
	if !ok || len(vs) == 0 {
		return nil
	}
	return &vs[0]
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, id string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		kit.WriteError(w, r, http.StatusNotFound, "not found", map[string]any{"id": id})
	case errors.Is(err, errTitleRequired),
		errors.Is(err, errDescriptionRequired),
		errors.Is(err, errPriceRequired),
		errors.Is(err, errPriceInvalid),
		errors.Is(err, errPriceNegative):
		kit.WriteError(w, r, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, images.ErrInvalidType):
		kit.WriteError(w, r, http.StatusBadRequest, "foto must be a jpeg, jpg, png or gif image", nil)
	case errors.Is(err, images.ErrTooLarge):
		kit.WriteError(w, r, http.StatusBadRequest, "foto exceeds the 5 MiB limit", nil)
	default:
		if s.Log != nil {
			s.Log.Error("catalog operation failed", zap.Error(err), zap.String("id", id))
		}
		kit.WriteError(w, r, http.StatusInternalServerError, "server error", nil)
	}
}
