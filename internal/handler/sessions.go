package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"uniattend/internal/session"
)

type extendRequest struct {
	Minutes int `json:"minutes"`
}

func (a *api) activeSession(c *gin.Context) {
	sess, err := a.Sessions.Active(c.Request.Context(), caller(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess})
}

func (a *api) listSessions(c *gin.Context) {
	list, err := a.Sessions.List(c.Request.Context(), caller(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (a *api) createSession(c *gin.Context) {
	var req session.CreateInput
	if !bind(c, &req) {
		return
	}
	sess, err := a.Sessions.Create(c.Request.Context(), caller(c), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (a *api) extendOwnSession(c *gin.Context) {
	var req extendRequest
	if !bind(c, &req) {
		return
	}
	sess, err := a.Sessions.ExtendOwn(c.Request.Context(), caller(c), c.Param("id"), req.Minutes)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (a *api) extendAnySession(c *gin.Context) {
	var req extendRequest
	if !bind(c, &req) {
		return
	}
	sess, err := a.Sessions.ExtendAny(c.Request.Context(), caller(c), c.Param("id"), req.Minutes)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (a *api) closeOwnSession(c *gin.Context) {
	sess, err := a.Sessions.CloseOwn(c.Request.Context(), caller(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Session closed successfully.", "session": sess})
}

func (a *api) closeAnySession(c *gin.Context) {
	sess, err := a.Sessions.CloseAny(c.Request.Context(), caller(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Session closed successfully.", "session": sess})
}
