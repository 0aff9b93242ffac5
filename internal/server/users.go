package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/waypoint/internal/store"
	"golang.org/x/crypto/bcrypt"
)

// UsersHandler registers accounts.
type UsersHandler struct {
	Store UserStore
}

func (h *UsersHandler) Register(g *echo.Group) {
	g.POST("/users", h.create)
}

type registerUserRequest struct {
	UserID      string `json:"user_id"`
	UserName    string `json:"user_name"`
	UserEmail   string `json:"user_email"`
	Password    string `json:"password"`
	PhoneNumber string `json:"ph_no"`
	Timezone    string `json:"timezone"`
	IsActive    *bool  `json:"is_active"`
}

func (h *UsersHandler) create(c echo.Context) error {
	var req registerUserRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.UserName = strings.TrimSpace(req.UserName)
	req.UserEmail = strings.TrimSpace(req.UserEmail)
	if req.UserName == "" || req.UserEmail == "" || req.Password == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_name, user_email and password required")
	}
	if req.UserID == "" {
		req.UserID = uuid.NewString()
	} else if _, err := uuid.Parse(req.UserID); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id must be a UUID")
	}
	if req.Timezone == "" {
		req.Timezone = "UTC"
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	err = h.Store.CreateUser(c.Request().Context(), store.User{
		UserID:       req.UserID,
		UserName:     req.UserName,
		UserEmail:    req.UserEmail,
		PasswordHash: string(hash),
		PhoneNumber:  req.PhoneNumber,
		IsActive:     active,
		Timezone:     req.Timezone,
	})
	if errors.Is(err, store.ErrUserExists) {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, map[string]string{"status": "User Registered Successfully!"})
}
