package http

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/costume-exchange/internal/listing"
)

const multipartOverhead = 1 << 20

type CostumeRequest struct {
	Title       string          `json:"title" validate:"required,min=3,max=120"`
	Description string          `json:"description" validate:"max=2000"`
	Category    string          `json:"category" validate:"required,costume_category"`
	Size        string          `json:"size" validate:"required,max=20"`
	Condition   string          `json:"condition" validate:"required,costume_condition"`
	Price       decimal.Decimal `json:"price" validate:"gt=0"`
}

type CostumeResponse struct {
	ID          uuid.UUID       `json:"id"`
	SellerID    uuid.UUID       `json:"seller_id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Size        string          `json:"size"`
	Condition   string          `json:"condition"`
	Price       decimal.Decimal `json:"price"`
	Images      []string        `json:"images"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type SearchResponse struct {
	Items      []CostumeResponse `json:"items"`
	Total      int               `json:"total"`
	Page       int               `json:"page"`
	Limit      int               `json:"limit"`
	TotalPages int               `json:"total_pages"`
}

func costumeResponse(c *listing.Costume) CostumeResponse {
	images := []string(c.Images)
	if images == nil {
		images = []string{}
	}
	return CostumeResponse{
		ID:          c.ID,
		SellerID:    c.SellerID,
		Title:       c.Title,
		Description: c.Description,
		Category:    string(c.Category),
		Size:        c.Size,
		Condition:   string(c.Condition),
		Price:       c.Price,
		Images:      images,
		Status:      string(c.Status),
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

type CostumeHandler struct {
	costumes listing.Service
	validate *validator.Validate
}

func NewCostumeHandler(costumes listing.Service) *CostumeHandler {
	return &CostumeHandler{costumes: costumes, validate: newValidator()}
}

func (h *CostumeHandler) RegisterRoutes(router chi.Router, requireAuth func(http.Handler) http.Handler) {
	router.Get("/costumes", h.handleSearch)
	router.Get("/costumes/categories", h.handleCategories)
	router.Get("/costumes/{id}", h.handleGet)

	router.Group(func(r chi.Router) {
		r.Use(requireAuth)
		r.Post("/costumes", h.handleCreate)
		r.Put("/costumes/{id}", h.handleUpdate)
		r.Delete("/costumes/{id}", h.handleDelete)
		r.Post("/costumes/{id}/images", h.handleUploadImage)
	})
}

func (h *CostumeHandler) handleSearch(w http.ResponseWriter, r *http.Request) {
	filter, details := parseFilter(r.URL.Query())
	if len(details) > 0 {
		respondWithJSON(w, http.StatusBadRequest, ValidationErrorResponse{Error: "Validation failed", Details: details})
		return
	}

	page, err := h.costumes.Search(r.Context(), filter)
	if err != nil {
		respondWithServiceError(w, err, "Failed to search costumes")
		return
	}

	items := make([]CostumeResponse, 0, len(page.Items))
	for i := range page.Items {
		items = append(items, costumeResponse(&page.Items[i]))
	}
	respondWithJSON(w, http.StatusOK, SearchResponse{
		Items:      items,
		Total:      page.Total,
		Page:       page.Page,
		Limit:      page.Limit,
		TotalPages: page.TotalPages,
	})
}

// parseFilter разбирает параметры поиска. Неизвестные значения перечислений - ошибка валидации.
func parseFilter(q url.Values) (listing.Filter, map[string]string) {
	details := make(map[string]string)
	f := listing.Filter{
		Query: q.Get("q"),
		Size:  q.Get("size"),
	}

	if v := q.Get("category"); v != "" {
		if !listing.Category(v).Valid() {
			details["category"] = "must be a known category"
		}
		f.Category = listing.Category(v)
	}
	if v := q.Get("condition"); v != "" {
		if !listing.Condition(v).Valid() {
			details["condition"] = "must be one of: new, like-new, good, fair"
		}
		f.Condition = listing.Condition(v)
	}
	if v := q.Get("status"); v != "" {
		switch listing.Status(v) {
		case listing.StatusAvailable, listing.StatusSold:
			f.Status = listing.Status(v)
		default:
			details["status"] = "must be one of: available, sold"
		}
	}
	if v := q.Get("sort"); v != "" {
		switch s := listing.SortOrder(v); s {
		case listing.SortNewest, listing.SortOldest, listing.SortPriceAsc, listing.SortPriceDesc:
			f.Sort = s
		default:
			details["sort"] = "must be one of: newest, oldest, price_asc, price_desc"
		}
	}
	if v := q.Get("sellerId"); v != "" {
		id, err := uuid.FromString(v)
		if err != nil {
			details["sellerId"] = "must be a valid id"
		}
		f.SellerID = id
	}

	f.MinPrice = parsePrice(q.Get("minPrice"), "minPrice", details)
	f.MaxPrice = parsePrice(q.Get("maxPrice"), "maxPrice", details)
	if f.MinPrice != nil && f.MaxPrice != nil && f.MinPrice.GreaterThan(*f.MaxPrice) {
		details["minPrice"] = "must not exceed maxPrice"
	}

	f.Page = parsePositiveInt(q.Get("page"), "page", details)
	f.Limit = parsePositiveInt(q.Get("limit"), "limit", details)
	if f.Limit > listing.MaxPageSize {
		details["limit"] = "must be at most " + strconv.Itoa(listing.MaxPageSize)
	}

	return f, details
}

func parsePrice(raw, field string, details map[string]string) *decimal.Decimal {
	if raw == "" {
		return nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || d.IsNegative() {
		details[field] = "must be a non-negative number"
		return nil
	}
	return &d
}

func parsePositiveInt(raw, field string, details map[string]string) int {
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		details[field] = "must be a positive integer"
		return 0
	}
	return n
}

func (h *CostumeHandler) handleCategories(w http.ResponseWriter, r *http.Request) {
	categories := make([]string, 0, len(listing.Categories))
	for _, c := range listing.Categories {
		categories = append(categories, string(c))
	}
	respondWithJSON(w, http.StatusOK, categories)
}

func (h *CostumeHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	costume, err := h.costumes.Get(r.Context(), id)
	if err != nil {
		respondWithServiceError(w, err, "Failed to get costume")
		return
	}

	respondWithJSON(w, http.StatusOK, costumeResponse(costume))
}

func (h *CostumeHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	sellerID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req CostumeRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	created, err := h.costumes.Create(r.Context(), req.toCostume(sellerID, uuid.Nil))
	if err != nil {
		respondWithServiceError(w, err, "Failed to create costume")
		return
	}

	respondWithJSON(w, http.StatusCreated, costumeResponse(created))
}

func (h *CostumeHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	sellerID, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	var req CostumeRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	updated, err := h.costumes.Update(r.Context(), sellerID, req.toCostume(sellerID, id))
	if err != nil {
		respondWithServiceError(w, err, "Failed to update costume")
		return
	}

	respondWithJSON(w, http.StatusOK, costumeResponse(updated))
}

func (h *CostumeHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	sellerID, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	if err := h.costumes.Delete(r.Context(), sellerID, id); err != nil {
		respondWithServiceError(w, err, "Failed to delete costume")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *CostumeHandler) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	sellerID, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, listing.MaxImageSize+multipartOverhead)
	if err := r.ParseMultipartForm(listing.MaxImageSize + multipartOverhead); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respondWithError(w, http.StatusRequestEntityTooLarge, "Image must be at most 5 MB")
			return
		}
		log.Warn().Err(err).Msg("Failed to parse multipart form")
		respondWithError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, _, err := r.FormFile("image")
	if err != nil {
		respondWithJSON(w, http.StatusBadRequest, ValidationErrorResponse{
			Error:   "Validation failed",
			Details: map[string]string{"image": "is required"},
		})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, listing.MaxImageSize+1))
	if err != nil {
		log.Error().Err(err).Msg("Failed to read uploaded image")
		respondWithError(w, http.StatusBadRequest, "Failed to read image")
		return
	}
	if len(data) > listing.MaxImageSize {
		respondWithError(w, http.StatusRequestEntityTooLarge, "Image must be at most 5 MB")
		return
	}

	updated, err := h.costumes.AttachImage(r.Context(), sellerID, id, data)
	if err != nil {
		respondWithServiceError(w, err, "Failed to upload image")
		return
	}

	respondWithJSON(w, http.StatusCreated, costumeResponse(updated))
}

func (req CostumeRequest) toCostume(sellerID, id uuid.UUID) *listing.Costume {
	return &listing.Costume{
		ID:          id,
		SellerID:    sellerID,
		Title:       req.Title,
		Description: req.Description,
		Category:    listing.Category(req.Category),
		Size:        req.Size,
		Condition:   listing.Condition(req.Condition),
		Price:       req.Price.Round(2),
	}
}
