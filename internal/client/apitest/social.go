package apitest

import (
	"net/http"
	"slices"
	"time"

	"github.com/dmitrijs2005/tradepost/internal/client/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const defaultMessageLimit = 50

func (s *Server) listFavorites(c *gin.Context) {
	userID := currentUser(c)

	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Favorite{}
	for listingID, at := range s.favorites[userID] {
		fav := models.Favorite{UserID: userID, ListingID: listingID, CreatedAt: at}
		if l, ok := s.listings[listingID]; ok {
			listing := s.withSeller(l)
			fav.Listing = &listing
		}
		out = append(out, fav)
	}
	slices.SortFunc(out, func(a, b models.Favorite) int { return b.CreatedAt.Compare(a.CreatedAt) })
	c.JSON(http.StatusOK, out)
}

func (s *Server) addFavorite(c *gin.Context) {
	userID := currentUser(c)
	listingID := c.Param("id")

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.listings[listingID]; !ok {
		abort(c, http.StatusNotFound, "Listing not found")
		return
	}
	if _, dup := s.favorites[userID][listingID]; dup {
		abort(c, http.StatusBadRequest, "Listing already in favorites")
		return
	}
	if s.favorites[userID] == nil {
		s.favorites[userID] = map[string]time.Time{}
	}
	at := s.stamp()
	s.favorites[userID][listingID] = at
	c.JSON(http.StatusCreated, models.Favorite{UserID: userID, ListingID: listingID, CreatedAt: at})
}

func (s *Server) removeFavorite(c *gin.Context) {
	userID := currentUser(c)
	listingID := c.Param("id")

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.favorites[userID][listingID]; !ok {
		abort(c, http.StatusNotFound, "Favorite not found")
		return
	}
	delete(s.favorites[userID], listingID)
	c.Status(http.StatusNoContent)
}

func (s *Server) summary(conv *conversation, userID string) models.ConversationSummary {
	other := conv.SellerID
	if conv.SellerID == userID {
		other = conv.BuyerID
	}

	out := models.ConversationSummary{
		ID:            conv.ID,
		ListingID:     conv.ListingID,
		ListingTitle:  "Unknown Listing",
		LastMessageAt: conv.LastMessageAt,
	}
	if l, ok := s.listings[conv.ListingID]; ok {
		out.ListingTitle = l.Title
	}
	if a, ok := s.accounts[other]; ok {
		out.OtherUser = a.user
	}

	msgs := s.messages[conv.ID]
	if n := len(msgs); n > 0 {
		last := msgs[n-1].Body
		out.LastMessage = &last
	}
	for _, m := range msgs {
		if m.SenderID != userID && m.ReadAt == nil {
			out.UnreadCount++
		}
	}
	return out
}

// participantConversation loads the :id conversation and checks the caller
// takes part in it. It answers the error itself and returns nil.
func (s *Server) participantConversation(c *gin.Context) *conversation {
	conv, ok := s.conversations[c.Param("id")]
	if !ok {
		abort(c, http.StatusNotFound, "Conversation not found")
		return nil
	}
	if userID := currentUser(c); conv.BuyerID != userID && conv.SellerID != userID {
		abort(c, http.StatusForbidden, "Not a participant")
		return nil
	}
	return conv
}

func (s *Server) listConversations(c *gin.Context) {
	userID := currentUser(c)

	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.ConversationSummary{}
	for _, id := range s.convOrder {
		conv := s.conversations[id]
		if conv.BuyerID == userID || conv.SellerID == userID {
			out = append(out, s.summary(conv, userID))
		}
	}
	slices.SortStableFunc(out, func(a, b models.ConversationSummary) int {
		return lastActivity(b).Compare(lastActivity(a))
	})
	c.JSON(http.StatusOK, out)
}

func lastActivity(cs models.ConversationSummary) time.Time {
	if cs.LastMessageAt == nil {
		return time.Time{}
	}
	return *cs.LastMessageAt
}

func (s *Server) startConversation(c *gin.Context) {
	var body struct {
		ListingID string `json:"listing_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.ListingID == "" {
		validationError(c, "listing_id", "field required")
		return
	}
	userID := currentUser(c)

	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[body.ListingID]
	if !ok {
		abort(c, http.StatusNotFound, "Listing not found")
		return
	}
	if l.SellerID == userID {
		abort(c, http.StatusBadRequest, "Seller cannot create a conversation with themselves")
		return
	}
	if l.Status != models.StatusLive {
		abort(c, http.StatusBadRequest, "Cannot message on a non-live listing")
		return
	}

	for _, id := range s.convOrder {
		conv := s.conversations[id]
		if conv.ListingID == l.ID && conv.BuyerID == userID {
			c.JSON(http.StatusOK, s.summary(conv, userID))
			return
		}
	}

	conv := &conversation{ID: uuid.NewString(), ListingID: l.ID, BuyerID: userID, SellerID: l.SellerID}
	s.conversations[conv.ID] = conv
	s.convOrder = append(s.convOrder, conv.ID)
	c.JSON(http.StatusOK, s.summary(conv, userID))
}

func (s *Server) listMessages(c *gin.Context) {
	limit := intQuery(c, "limit", defaultMessageLimit)
	var after *time.Time
	if v := c.Query("after"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{
				"detail": []gin.H{{"loc": []string{"query", "after"}, "msg": "invalid datetime format", "type": "value_error.datetime"}},
			})
			return
		}
		after = &t
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	conv := s.participantConversation(c)
	if conv == nil {
		return
	}

	out := []models.Message{}
	for _, m := range s.messages[conv.ID] {
		if after != nil && !m.CreatedAt.After(*after) {
			continue
		}
		out = append(out, *m)
		if len(out) == limit {
			break
		}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) sendMessage(c *gin.Context) {
	var body struct {
		Body string `json:"body"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Body == "" {
		validationError(c, "body", "field required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	conv := s.participantConversation(c)
	if conv == nil {
		return
	}
	c.JSON(http.StatusOK, *s.appendMessage(conv.ID, currentUser(c), body.Body))
}

func (s *Server) appendMessage(conversationID, senderID, body string) *models.Message {
	at := s.stamp()
	m := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Body:           body,
		CreatedAt:      at,
	}
	s.messages[conversationID] = append(s.messages[conversationID], m)
	if conv, ok := s.conversations[conversationID]; ok {
		conv.LastMessageAt = &at
	}
	return m
}

// markRead sets read_at on the counterpart's unread messages.
func (s *Server) markRead(c *gin.Context) {
	userID := currentUser(c)

	s.mu.Lock()
	defer s.mu.Unlock()
	conv := s.participantConversation(c)
	if conv == nil {
		return
	}
	now := s.stamp()
	for _, m := range s.messages[conv.ID] {
		if m.SenderID != userID && m.ReadAt == nil {
			at := now
			m.ReadAt = &at
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}
