package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/arborlabs/arbor/internal/enhance"
	"github.com/arborlabs/arbor/internal/profile"
	"github.com/arborlabs/arbor/internal/session"
)

func registerEnhance(g *echo.Group, enhancer *enhance.Enhancer) {
	g.POST("/enhance", func(c echo.Context) error {
		var req struct {
			Prompt string `json:"prompt"`
		}
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
		}
		out, err := enhancer.Enhance(c.Request().Context(), req.Prompt)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadGateway, err.Error())
		}
		return c.JSON(200, out)
	})
	g.POST("/enhance/refine", func(c echo.Context) error {
		var req struct {
			Prompt   string   `json:"prompt"`
			Offered  []string `json:"offered"`
			Selected []string `json:"selected"`
		}
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
		}
		out, err := enhancer.Refine(c.Request().Context(), req.Prompt, req.Offered, req.Selected)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return c.JSON(200, out)
	})
}

func registerProfiles(g *echo.Group, repo profile.Repository) {
	g.GET("/profiles/:user_id", func(c echo.Context) error {
		userID := c.Param("user_id")
		if repo == nil {
			return c.JSON(200, profile.DefaultProfile(userID))
		}
		p, err := repo.Get(c.Request().Context(), userID)
		if errors.Is(err, profile.ErrNotFound) {
			return c.JSON(200, profile.DefaultProfile(userID))
		}
		if err != nil {
			return err
		}
		return c.JSON(200, p)
	})
	g.PUT("/profiles/:user_id", func(c echo.Context) error {
		if repo == nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "profile storage not configured")
		}
		var p profile.Profile
		if err := c.Bind(&p); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid profile")
		}
		p.UserID = c.Param("user_id")
		if err := repo.Upsert(c.Request().Context(), p); err != nil {
			return err
		}
		return c.NoContent(http.StatusNoContent)
	})
	g.DELETE("/profiles/:user_id", func(c echo.Context) error {
		if repo == nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "profile storage not configured")
		}
		if err := repo.Delete(c.Request().Context(), c.Param("user_id")); err != nil {
			return err
		}
		return c.NoContent(http.StatusNoContent)
	})
}

func registerConversations(g *echo.Group, manager *session.Manager) {
	g.GET("/conversations/:user_id/:conversation_id", func(c echo.Context) error {
		history, err := manager.History(c.Request().Context(), c.Param("user_id"), c.Param("conversation_id"))
		if err != nil {
			return err
		}
		return c.JSON(200, map[string]interface{}{"history": history})
	})
	g.DELETE("/conversations/:user_id/:conversation_id", func(c echo.Context) error {
		if err := manager.Delete(c.Request().Context(), c.Param("user_id"), c.Param("conversation_id")); err != nil {
			return err
		}
		return c.NoContent(http.StatusNoContent)
	})
}
