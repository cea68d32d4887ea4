package handler

import (
	"log"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"uniattend/internal/account"
	"uniattend/internal/apperr"
	"uniattend/internal/department"
)

func (a *api) publicDepartments(c *gin.Context) {
	list, err := a.Departments.List(c.Request.Context(), c.Query("facultyId"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (a *api) createFaculty(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if !bind(c, &req) {
		return
	}
	f, err := a.Departments.CreateFaculty(c.Request.Context(), req.Name)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, f)
}

func (a *api) listFaculties(c *gin.Context) {
	list, err := a.Departments.ListFaculties(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (a *api) createDepartment(c *gin.Context) {
	var req department.CreateDepartmentInput
	if !bind(c, &req) {
		return
	}
	d, err := a.Departments.CreateDepartment(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

func (a *api) listDepartments(c *gin.Context) {
	a.publicDepartments(c)
}

func (a *api) updateDepartment(c *gin.Context) {
	var req struct {
		Courses []string `json:"courses"`
		Options []string `json:"options"`
	}
	if !bind(c, &req) {
		return
	}
	d, err := a.Departments.UpdateDepartment(c.Request.Context(), c.Param("deptId"), req.Courses, req.Options)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (a *api) assignRep(c *gin.Context) {
	var req account.AssignRepInput
	if !bind(c, &req) {
		return
	}
	rep, initial, err := a.Accounts.AssignRep(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message":         "Class Rep assigned successfully.",
		"rep":             gin.H{"id": rep.ID, "regNo": rep.RegNo, "name": rep.FirstName + " " + rep.Surname},
		"initialPassword": initial,
	})
}

// upload opens the first present multipart field among names.
func upload(c *gin.Context, names ...string) (*multipart.FileHeader, bool) {
	for _, name := range names {
		if fh, err := c.FormFile(name); err == nil {
			return fh, true
		}
	}
	fail(c, apperr.Invalid("No file uploaded."))
	return nil, false
}

func (a *api) uploadFull(c *gin.Context) {
	fh, ok := upload(c, "studentListFile", "file")
	if !ok {
		return
	}
	f, err := fh.Open()
	if err != nil {
		fail(c, apperr.Invalid("Could not read uploaded file."))
		return
	}
	defer f.Close()

	sum, err := a.Roster.UploadFull(c.Request.Context(), fh.Filename, f)
	if err != nil {
		fail(c, err)
		return
	}
	log.Printf("[INFO] roster upload %s: %d rows, %d errors", fh.Filename, sum.TotalRows, sum.ErrorsCount)
	c.JSON(http.StatusOK, gin.H{"message": "Student list processed.", "summary": sum})
}

func (a *api) uploadPartial(c *gin.Context) {
	fh, ok := upload(c, "partialListFile", "file")
	if !ok {
		return
	}
	f, err := fh.Open()
	if err != nil {
		fail(c, apperr.Invalid("Could not read uploaded file."))
		return
	}
	defer f.Close()

	sum, err := a.Roster.UploadPartial(c.Request.Context(), caller(c), fh.Filename, f)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Class list processed.", "summary": sum})
}

func (a *api) analytics(c *gin.Context) {
	ctx := c.Request.Context()
	students, err := a.Roster.Repo().Count(ctx)
	if err != nil {
		fail(c, err)
		return
	}
	roles, err := a.Accounts.CountByRole(ctx)
	if err != nil {
		fail(c, err)
		return
	}
	total, live, err := a.Sessions.Counts(ctx)
	if err != nil {
		fail(c, err)
		return
	}
	marks, err := a.Attendance.Count(ctx)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"rosterStudents":  students,
		"accountsByRole":  roles,
		"totalSessions":   total,
		"activeSessions":  live,
		"attendanceMarks": marks,
	})
}
