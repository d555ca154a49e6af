package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/gatekeeper/internal/errs"
	"github.com/and161185/gatekeeper/internal/model"
	"github.com/and161185/gatekeeper/internal/service"
)

type handlers struct {
	auth      service.AuthService
	admin     service.ServiceAdmin
	validator service.Validator
	log       *zap.Logger
	now       func() time.Time
}

type tokenPairView struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

func pairView(p model.TokenPair) tokenPairView {
	return tokenPairView{
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		AccessExpiresAt:  p.AccessExpiresAt,
		RefreshExpiresAt: p.RefreshExpiresAt,
	}
}

type sessionView struct {
	tokenPairView
	User service.ValidatedUser `json:"user"`
}

type profileView struct {
	service.ValidatedUser
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type serviceView struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	APIKey         string    `json:"apiKey"`
	Secret         string    `json:"secret,omitempty"`
	AllowedOrigins []string  `json:"allowedOrigins"`
	IsActive       bool      `json:"isActive"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func svcView(s *model.Service) serviceView {
	origins := s.AllowedOrigins
	if origins == nil {
		origins = []string{}
	}
	return serviceView{
		ID:             s.ID.String(),
		Name:           s.Name,
		Description:    s.Description,
		APIKey:         s.APIKey,
		AllowedOrigins: origins,
		IsActive:       s.Active,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
}

func bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

/************ auth ************/

type registerReq struct {
	Username       string `json:"username"`
	Email          string `json:"email"`
	Password       string `json:"password"`
	RecaptchaToken string `json:"recaptchaToken"`
}

func (h *handlers) register(c *gin.Context) {
	var req registerReq
	if !bind(c, &req) {
		return
	}
	pair, p, err := h.auth.Register(c.Request.Context(), service.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Captcha:  req.RecaptchaToken,
		RemoteIP: c.ClientIP(),
	})
	if err != nil {
		if errors.Is(err, errs.ErrAlreadyExists) {
			fail(c, http.StatusConflict, "User with this email or username already exists")
			return
		}
		h.fail(c, "register", err)
		return
	}
	ok(c, http.StatusCreated, "User registered successfully", sessionView{pairView(pair), service.PublicUser(p)})
}

type loginReq struct {
	Email          string `json:"email"`
	Username       string `json:"username"`
	Password       string `json:"password"`
	RecaptchaToken string `json:"recaptchaToken"`
}

func (h *handlers) login(c *gin.Context) {
	var req loginReq
	if !bind(c, &req) {
		return
	}
	login := req.Email
	if login == "" {
		login = req.Username
	}
	pair, p, err := h.auth.Login(c.Request.Context(), service.LoginInput{
		Login:    login,
		Password: req.Password,
		Captcha:  req.RecaptchaToken,
		RemoteIP: c.ClientIP(),
	})
	if err != nil {
		h.fail(c, "login", err)
		return
	}
	ok(c, http.StatusOK, "Login successful", sessionView{pairView(pair), service.PublicUser(p)})
}

type refreshReq struct {
	RefreshToken string `json:"refreshToken"`
}

func (h *handlers) refresh(c *gin.Context) {
	var req refreshReq
	if !bind(c, &req) {
		return
	}
	pair, err := h.auth.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		h.fail(c, "refresh", err)
		return
	}
	ok(c, http.StatusOK, "Token refreshed successfully", pairView(pair))
}

func (h *handlers) logout(c *gin.Context) {
	var req refreshReq
	if !bind(c, &req) {
		return
	}
	// the bearer token is optional here; a malformed header is ignored
	access, _ := bearerToken(c.GetHeader("Authorization"))
	if err := h.auth.Logout(c.Request.Context(), req.RefreshToken, access); err != nil {
		h.fail(c, "logout", err)
		return
	}
	ok(c, http.StatusOK, "Logged out successfully", nil)
}

func (h *handlers) principalID(c *gin.Context) (uuid.UUID, bool) {
	claims, found := ClaimsFrom(c)
	if !found {
		fail(c, http.StatusUnauthorized, msgInvalidToken)
		return uuid.Nil, false
	}
	id, err := claims.PrincipalID()
	if err != nil {
		fail(c, http.StatusUnauthorized, msgInvalidToken)
		return uuid.Nil, false
	}
	return id, true
}

func (h *handlers) logoutAll(c *gin.Context) {
	id, found := h.principalID(c)
	if !found {
		return
	}
	if err := h.auth.LogoutAll(c.Request.Context(), id); err != nil {
		h.fail(c, "logout all", err)
		return
	}
	ok(c, http.StatusOK, "All sessions revoked", nil)
}

func (h *handlers) checkToken(c *gin.Context) {
	claims, found := ClaimsFrom(c)
	if !found {
		fail(c, http.StatusUnauthorized, msgInvalidToken)
		return
	}
	roles := claims.Roles
	if roles == nil {
		roles = []string{}
	}
	ok(c, http.StatusOK, "Token is valid", gin.H{
		"id":        claims.Subject,
		"roles":     roles,
		"version":   claims.Version,
		"expiresAt": claims.ExpiresAt.Time,
		"expiresIn": int64(claims.ExpiresAt.Sub(h.now()).Seconds()),
	})
}

func (h *handlers) profile(c *gin.Context) {
	id, found := h.principalID(c)
	if !found {
		return
	}
	p, err := h.auth.Profile(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			fail(c, http.StatusNotFound, "User not found")
			return
		}
		h.fail(c, "profile", err)
		return
	}
	ok(c, http.StatusOK, "", profileView{service.PublicUser(p), p.CreatedAt, p.UpdatedAt})
}

/************ services ************/

type createServiceReq struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	AllowedOrigins []string `json:"allowedOrigins"`
}

type updateServiceReq struct {
	Name           *string   `json:"name"`
	Description    *string   `json:"description"`
	AllowedOrigins *[]string `json:"allowedOrigins"`
	IsActive       *bool     `json:"isActive"`
}

func serviceID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.FromString(c.Param("id"))
	if err != nil {
		fail(c, http.StatusNotFound, "Service not found")
		return uuid.Nil, false
	}
	return id, true
}

func (h *handlers) serviceErr(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		fail(c, http.StatusNotFound, "Service not found")
	case errors.Is(err, errs.ErrAlreadyExists):
		fail(c, http.StatusConflict, "Service with this name already exists")
	default:
		h.fail(c, op, err)
	}
}

func (h *handlers) createService(c *gin.Context) {
	var req createServiceReq
	if !bind(c, &req) {
		return
	}
	svc, creds, err := h.admin.Create(c.Request.Context(), service.CreateServiceInput{
		Name:           req.Name,
		Description:    req.Description,
		AllowedOrigins: req.AllowedOrigins,
	})
	if err != nil {
		h.serviceErr(c, "create service", err)
		return
	}
	v := svcView(svc)
	v.APIKey, v.Secret = creds.APIKey, creds.Secret
	ok(c, http.StatusCreated, "Service created successfully", v)
}

func (h *handlers) listServices(c *gin.Context) {
	list, err := h.admin.List(c.Request.Context())
	if err != nil {
		h.serviceErr(c, "list services", err)
		return
	}
	out := make([]serviceView, 0, len(list))
	for i := range list {
		out = append(out, svcView(&list[i]))
	}
	ok(c, http.StatusOK, "", out)
}

func (h *handlers) getService(c *gin.Context) {
	id, found := serviceID(c)
	if !found {
		return
	}
	svc, err := h.admin.Get(c.Request.Context(), id)
	if err != nil {
		h.serviceErr(c, "get service", err)
		return
	}
	ok(c, http.StatusOK, "", svcView(svc))
}

func (h *handlers) updateService(c *gin.Context) {
	id, found := serviceID(c)
	if !found {
		return
	}
	var req updateServiceReq
	if !bind(c, &req) {
		return
	}
	svc, err := h.admin.Update(c.Request.Context(), id, model.ServicePatch{
		Name:           req.Name,
		Description:    req.Description,
		AllowedOrigins: req.AllowedOrigins,
		Active:         req.IsActive,
	})
	if err != nil {
		h.serviceErr(c, "update service", err)
		return
	}
	ok(c, http.StatusOK, "Service updated successfully", svcView(svc))
}

func (h *handlers) regenerateKeys(c *gin.Context) {
	id, found := serviceID(c)
	if !found {
		return
	}
	creds, err := h.admin.RegenerateKeys(c.Request.Context(), id)
	if err != nil {
		h.serviceErr(c, "regenerate keys", err)
		return
	}
	svc, err := h.admin.Get(c.Request.Context(), id)
	if err != nil {
		h.serviceErr(c, "regenerate keys", err)
		return
	}
	v := svcView(svc)
	v.APIKey, v.Secret = creds.APIKey, creds.Secret
	ok(c, http.StatusOK, "API key and secret regenerated successfully", v)
}

func (h *handlers) deleteService(c *gin.Context) {
	id, found := serviceID(c)
	if !found {
		return
	}
	if err := h.admin.Delete(c.Request.Context(), id); err != nil {
		h.serviceErr(c, "delete service", err)
		return
	}
	ok(c, http.StatusOK, "Service deleted successfully", nil)
}

/************ validate ************/

type validateReq struct {
	Token         string   `json:"token"`
	RequiredRoles []string `json:"requiredRoles"`
}

func (h *handlers) validateToken(c *gin.Context) {
	var req validateReq
	if !bind(c, &req) {
		return
	}
	user, err := h.validator.ValidateToken(c.Request.Context(), req.Token)
	if err != nil {
		status, msg := statusFor(err)
		h.logValidation(c, "validate token", status, err)
		c.AbortWithStatusJSON(status, gin.H{"success": false, "message": msg, "isValid": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "isValid": true, "user": user})
}

func (h *handlers) checkRoles(c *gin.Context) {
	var req validateReq
	if !bind(c, &req) {
		return
	}
	rc, err := h.validator.CheckRoles(c.Request.Context(), req.Token, req.RequiredRoles)
	if err != nil {
		status, msg := statusFor(err)
		h.logValidation(c, "check roles", status, err)
		c.AbortWithStatusJSON(status, gin.H{"success": false, "message": msg, "hasRoles": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "hasRoles": rc.HasRoles, "userRoles": rc.UserRoles})
}


// logValidation records which service asked about a token that was not accepted.
func (h *handlers) logValidation(c *gin.Context, op string, status int, err error) {
	fields := []zap.Field{zap.String("op", op)}
	if svc, ok := ServiceFrom(c); ok {
		fields = append(fields, zap.String("service", svc.Name))
	}
	switch {
	case status >= http.StatusInternalServerError:
		h.log.Error(op+" failed", append(fields, zap.Error(err))...)
	case errors.Is(err, errs.ErrInvalidCredential):
		h.log.Info("token rejected", append(fields, zap.String("reason", errs.ReasonLabel(err)))...)
	}
}
