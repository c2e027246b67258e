package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/mediagen-relay/internal/auth"
	"github.com/suPer8Hu/mediagen-relay/internal/common"
	"github.com/suPer8Hu/mediagen-relay/internal/models"
	"github.com/suPer8Hu/mediagen-relay/internal/store/sqlstore"
)

const (
	APIKeyHeader = "X-API-Key"
	ClientKey    = "client"
)

type ClientLookup interface {
	GetClientByToken(ctx context.Context, token string) (*models.Client, error)
}

// ClientAuth resolves the X-API-Key header to an active client. With
// requireWebhook set, clients without a webhook URL are turned away with 400.
func ClientAuth(clients ClientLookup, requireWebhook bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		client, ok := authenticate(c, clients)
		if !ok {
			return
		}
		if requireWebhook && client.WebhookURL == "" {
			common.Fail(c, http.StatusBadRequest, 10010, "To deliver the results, you need to send a POST request with the field webhook_url.")
			return
		}
		c.Set(ClientKey, client)
		c.Next()
	}
}

// AdminAuth is ClientAuth restricted to admin clients.
func AdminAuth(clients ClientLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		client, ok := authenticate(c, clients)
		if !ok {
			return
		}
		if !client.IsAdmin {
			common.Fail(c, http.StatusForbidden, 40301, "admin only")
			return
		}
		c.Set(ClientKey, client)
		c.Next()
	}
}

func authenticate(c *gin.Context, clients ClientLookup) (*models.Client, bool) {
	key := c.GetHeader(APIKeyHeader)
	if len(key) != auth.TokenLength {
		common.Fail(c, http.StatusUnauthorized, 40101, "Invalid API key")
		return nil, false
	}
	client, err := clients.GetClientByToken(c.Request.Context(), key)
	if errors.Is(err, sqlstore.ErrNotFound) || (err == nil && !client.IsActive) {
		common.Fail(c, http.StatusUnauthorized, 40102, "The API key is incorrect")
		return nil, false
	}
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return nil, false
	}
	return client, true
}

// ClientFromContext returns the client stored by ClientAuth or AdminAuth.
func ClientFromContext(c *gin.Context) (*models.Client, bool) {
	v, ok := c.Get(ClientKey)
	if !ok {
		return nil, false
	}
	client, ok := v.(*models.Client)
	return client, ok
}
