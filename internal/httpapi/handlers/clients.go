package handlers

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/mediagen-relay/internal/auth"
	"github.com/suPer8Hu/mediagen-relay/internal/common"
	"github.com/suPer8Hu/mediagen-relay/internal/models"
	"github.com/suPer8Hu/mediagen-relay/internal/store/sqlstore"
)

const apiKeyField = "X-API-KEY"

// Login checks HTTP Basic credentials and rotates the client's API key.
func (h *Handler) Login(c *gin.Context) {
	username, password, ok := c.Request.BasicAuth()
	if !ok {
		c.Header("WWW-Authenticate", `Basic realm="relay"`)
		common.Fail(c, http.StatusUnauthorized, 40103, "basic credentials required")
		return
	}

	client, err := h.Clients.GetClientByUsername(c.Request.Context(), username)
	if errors.Is(err, sqlstore.ErrNotFound) {
		common.Fail(c, http.StatusNotFound, 40402, "User not found")
		return
	}
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	if !auth.CheckPassword(client.PasswordHash, password) {
		common.Fail(c, http.StatusUnauthorized, 40104, "Incorrect username or password")
		return
	}

	token, err := auth.NewAPIToken()
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20003, "failed to generate token")
		return
	}
	client.Token = token
	if err := h.Clients.SaveClient(c.Request.Context(), client); err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	h.Log.Info().Str("username", client.Username).Msg("client logged in")
	common.OK(c, gin.H{apiKeyField: token})
}

// Register creates a client from HTTP Basic credentials. Admin only.
func (h *Handler) Register(c *gin.Context) {
	username, password, ok := c.Request.BasicAuth()
	if !ok || username == "" || password == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "username and password required")
		return
	}

	_, err := h.Clients.GetClientByUsername(c.Request.Context(), username)
	if err == nil {
		common.Fail(c, http.StatusBadRequest, 10003, "User already exists")
		return
	}
	if !errors.Is(err, sqlstore.ErrNotFound) {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}

	client, err := NewClient(username, password, false)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20002, "failed to create credentials")
		return
	}
	if err := h.Clients.CreateClient(c.Request.Context(), client); err != nil {
		common.Fail(c, http.StatusBadRequest, 10003, "failed to create client (maybe username already exists)")
		return
	}
	h.Log.Info().Str("username", client.Username).Msg("client registered")
	common.OK(c, gin.H{apiKeyField: client.Token})
}

// NewClient builds an active client with a hashed password and a fresh API key.
func NewClient(username, password string, admin bool) (*models.Client, error) {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	token, err := auth.NewAPIToken()
	if err != nil {
		return nil, err
	}
	return &models.Client{
		Username:     username,
		PasswordHash: hash,
		Token:        token,
		IsAdmin:      admin,
		IsActive:     true,
	}, nil
}

func (h *Handler) WhoAmI(c *gin.Context) {
	client, ok := clientFromContext(c)
	if !ok {
		return
	}
	resp := gin.H{"username": client.Username, "token": client.Token}
	if client.WebhookURL != "" {
		resp["webhook_url"] = client.WebhookURL
	}
	common.OK(c, resp)
}

type webhookReq struct {
	WebhookURL string `json:"webhook_url" binding:"required,url"`
}

func (h *Handler) UpdateWebhook(c *gin.Context) {
	client, ok := clientFromContext(c)
	if !ok {
		return
	}
	var req webhookReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "webhook_url must be a valid url")
		return
	}
	u, err := url.Parse(req.WebhookURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		common.Fail(c, http.StatusBadRequest, 10001, "webhook_url must be an http or https url")
		return
	}

	client.WebhookURL = u.String()
	if err := h.Clients.SaveClient(c.Request.Context(), client); err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, gin.H{"webhook_url": client.WebhookURL})
}
