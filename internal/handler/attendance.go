package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

func (a *api) markSelf(c *gin.Context) {
	var req struct {
		SessionID string `json:"sessionId"`
	}
	if !bind(c, &req) {
		return
	}
	mark, err := a.Attendance.MarkSelf(c.Request.Context(), caller(c), req.SessionID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Attendance marked successfully.", "record": mark})
}

func (a *api) markOverride(c *gin.Context) {
	var req struct {
		SessionID string `json:"sessionId"`
		RegNo     string `json:"regNo"`
	}
	if !bind(c, &req) {
		return
	}
	mark, err := a.Attendance.MarkOverride(c.Request.Context(), caller(c), req.SessionID, req.RegNo)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Attendance manually recorded.", "record": mark})
}

func (a *api) export(c *gin.Context) {
	file, err := a.Attendance.Export(c.Request.Context(), caller(c), c.Param("id"), c.Query("format"))
	if err != nil {
		fail(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Name))
	c.Data(http.StatusOK, file.ContentType, file.Body)
}

func (a *api) attendees(c *gin.Context) {
	list, err := a.Attendance.Attendees(c.Request.Context(), caller(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (a *api) history(c *gin.Context) {
	list, err := a.Attendance.History(c.Request.Context(), caller(c), c.Query("regNo"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}
