package apitest

import (
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/tradepost/internal/client/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const defaultPageSize = 20

func (s *Server) createListing(sellerID string, f models.ListingFields) *models.Listing {
	now := s.stamp()
	l := &models.Listing{
		ID:        uuid.NewString(),
		Currency:  "EUR",
		Status:    models.StatusDraft,
		SellerID:  sellerID,
		Images:    []models.ListingImage{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	applyFields(l, f)
	s.listings[l.ID] = l
	s.listingOrder = append(s.listingOrder, l.ID)
	return l
}

func applyFields(l *models.Listing, f models.ListingFields) {
	if f.Title != nil {
		l.Title = *f.Title
	}
	if f.Description != nil {
		l.Description = *f.Description
	}
	if f.Price != nil {
		l.Price = *f.Price
	}
	if f.Currency != nil {
		l.Currency = *f.Currency
	}
	if f.Category != nil {
		l.Category = *f.Category
	}
	if f.Brand != nil {
		l.Brand = f.Brand
	}
	if f.Size != nil {
		l.Size = f.Size
	}
	if f.Condition != nil {
		l.Condition = *f.Condition
	}
}

func (s *Server) withSeller(l *models.Listing) models.Listing {
	out := *l
	out.Images = append([]models.ListingImage{}, l.Images...)
	if a, ok := s.accounts[l.SellerID]; ok {
		seller := a.user
		out.Seller = &seller
	}
	return out
}

// ownListing loads the listing named by the :id parameter and checks the
// caller owns it. It answers the error itself and returns nil.
func (s *Server) ownListing(c *gin.Context) *models.Listing {
	l, ok := s.listings[c.Param("id")]
	if !ok {
		abort(c, http.StatusNotFound, "Listing not found")
		return nil
	}
	if l.SellerID != currentUser(c) {
		abort(c, http.StatusForbidden, "Not authorized to edit this listing")
		return nil
	}
	return l
}

func (s *Server) postListing(c *gin.Context) {
	var f models.ListingFields
	if err := c.ShouldBindJSON(&f); err != nil {
		validationError(c, "body", err.Error())
		return
	}
	if f.Title == nil || *f.Title == "" {
		validationError(c, "title", "field required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.createListing(currentUser(c), f)
	c.JSON(http.StatusCreated, s.withSeller(l))
}

func (s *Server) getListing(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[c.Param("id")]
	if !ok {
		abort(c, http.StatusNotFound, "Listing not found")
		return
	}
	if l.Status != models.StatusLive && l.SellerID != currentUser(c) {
		abort(c, http.StatusForbidden, "Not authorized to view this listing")
		return
	}
	c.JSON(http.StatusOK, s.withSeller(l))
}

func (s *Server) putListing(c *gin.Context) {
	var f models.ListingFields
	if err := c.ShouldBindJSON(&f); err != nil {
		validationError(c, "body", err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.ownListing(c)
	if l == nil {
		return
	}
	if l.Status != models.StatusDraft && l.Status != models.StatusLive {
		abort(c, http.StatusBadRequest, "Cannot edit sold or hidden listings")
		return
	}
	applyFields(l, f)
	l.UpdatedAt = s.stamp()
	c.JSON(http.StatusOK, s.withSeller(l))
}

func (s *Server) publishListing(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.ownListing(c)
	if l == nil {
		return
	}
	l.Status = models.StatusLive
	l.UpdatedAt = s.stamp()
	c.JSON(http.StatusOK, s.withSeller(l))
}

func (s *Server) deleteListing(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.ownListing(c)
	if l == nil {
		return
	}
	l.Status = models.StatusHidden
	c.Status(http.StatusNoContent)
}

func (s *Server) addImage(c *gin.Context) {
	var body struct {
		URL       string `json:"url"`
		SortOrder int    `json:"sort_order"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.URL == "" {
		validationError(c, "url", "field required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.ownListing(c)
	if l == nil {
		return
	}
	img := models.ListingImage{ID: uuid.NewString(), ListingID: l.ID, URL: body.URL, SortOrder: body.SortOrder}
	l.Images = append(l.Images, img)
	c.JSON(http.StatusOK, img)
}

func (s *Server) presign(c *gin.Context) {
	var body struct {
		Filename    string `json:"filename"`
		ContentType string `json:"content_type"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Filename == "" {
		validationError(c, "filename", "field required")
		return
	}

	name := uuid.NewString() + "-" + body.Filename
	c.JSON(http.StatusOK, models.Presign{
		UploadURL: s.http.URL + apiPrefix + "/media/upload/" + name,
		FileURL:   s.http.URL + "/static/" + name,
	})
}

func (s *Server) storeUpload(c *gin.Context) {
	data, err := c.GetRawData()
	if err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	s.uploads[c.Param("name")] = data
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"status": "success", "filename": c.Param("name")})
}

func (s *Server) feed(c *gin.Context) {
	category := c.Query("category")

	s.mu.Lock()
	defer s.mu.Unlock()
	s.writePage(c, func(l *models.Listing) bool {
		return l.Status == models.StatusLive && (category == "" || l.Category == category)
	})
}

// search matches live listings. With seller_id equal to the caller it also
// returns the caller's drafts.
func (s *Server) search(c *gin.Context) {
	q := strings.ToLower(c.Query("q"))
	category := c.Query("category")
	brand := c.Query("brand")
	condition := c.Query("condition")
	sellerID := c.Query("seller_id")
	minPrice, errMin := optionalFloat(c.Query("min_price"))
	maxPrice, errMax := optionalFloat(c.Query("max_price"))
	if errMin != nil || errMax != nil {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{
			"detail": []gin.H{{"loc": []string{"query", "price"}, "msg": "value is not a valid float", "type": "type_error.float"}},
		})
		return
	}
	caller := currentUser(c)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.writePage(c, func(l *models.Listing) bool {
		if sellerID != "" && l.SellerID != sellerID {
			return false
		}
		visible := l.Status == models.StatusLive ||
			(sellerID != "" && sellerID == caller && l.Status == models.StatusDraft)
		if !visible {
			return false
		}
		if q != "" && !strings.Contains(strings.ToLower(l.Title+" "+l.Description), q) {
			return false
		}
		if category != "" && l.Category != category {
			return false
		}
		if brand != "" && (l.Brand == nil || *l.Brand != brand) {
			return false
		}
		if condition != "" && l.Condition != condition {
			return false
		}
		if minPrice != nil && l.Price < *minPrice {
			return false
		}
		if maxPrice != nil && l.Price > *maxPrice {
			return false
		}
		return true
	})
}

// writePage answers a newest-first page of the listings accepted by keep.
func (s *Server) writePage(c *gin.Context, keep func(*models.Listing) bool) {
	page := intQuery(c, "page", 1)
	size := intQuery(c, "page_size", defaultPageSize)

	var matched []models.Listing
	for i := len(s.listingOrder) - 1; i >= 0; i-- {
		l := s.listings[s.listingOrder[i]]
		if keep(l) {
			matched = append(matched, s.withSeller(l))
		}
	}

	start := min((page-1)*size, len(matched))
	end := min(start+size, len(matched))
	c.JSON(http.StatusOK, models.Page[models.Listing]{
		Items: append([]models.Listing{}, matched[start:end]...),
		Total: len(matched),
		Page:  page,
		Size:  size,
		Pages: int(math.Ceil(float64(len(matched)) / float64(size))),
	})
}

func intQuery(c *gin.Context, name string, def int) int {
	n, err := strconv.Atoi(c.Query(name))
	if err != nil || n < 1 {
		return def
	}
	return n
}

func optionalFloat(v string) (*float64, error) {
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, err
	}
	return &f, nil
}
