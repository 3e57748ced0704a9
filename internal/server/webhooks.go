package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	webhookdomain "github.com/shigotoba/paygate/internal/webhook/domain"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const maxWebhookBody = 1 << 20

// HandleStripeWebhook verifies the provider signature and appends the event
// to the inbox. Processing happens in the reconciliation worker; this handler
// only acknowledges receipt. Duplicates are acknowledged without a new row.
func (s *Server) HandleStripeWebhook(c *gin.Context) {
	if s.webhookLimiter.Enabled() {
		allowed, err := s.webhookLimiter.Allow(c.Request.Context())
		if err != nil {
			s.log.Warn("webhook rate limiter unavailable", zap.Error(err))
		} else if !allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{"status": "rate_limited"})
			return
		}
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := verifyStripeSignature(payload, c.GetHeader("Stripe-Signature"), s.cfg.Stripe.WebhookSecret); err != nil {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var envelope struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil || strings.TrimSpace(envelope.ID) == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	now := s.clock.Now()
	inserted, err := s.webhookRepo.InsertEvent(c.Request.Context(), s.db, &webhookdomain.InboxEvent{
		ID:              s.genID.Generate(),
		ProviderEventID: envelope.ID,
		EventType:       envelope.Type,
		Payload:         datatypes.JSON(payload),
		Status:          webhookdomain.EventStatusPending,
		ReceivedAt:      now,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !inserted {
		c.JSON(http.StatusOK, gin.H{"status": "duplicate"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func verifyStripeSignature(payload []byte, header, secret string) error {
	if strings.TrimSpace(secret) == "" {
		return errors.New("webhook secret not configured")
	}

	timestamp, signatures, err := parseStripeSignature(header)
	if err != nil {
		return err
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}
	return errors.New("signature mismatch")
}

func parseStripeSignature(header string) (string, []string, error) {
	var timestamp string
	signatures := []string{}
	for _, part := range strings.Split(header, ",") {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid signature header")
	}
	return timestamp, signatures, nil
}
