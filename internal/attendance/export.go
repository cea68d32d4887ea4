package attendance

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"uniattend/internal/apperr"
	"uniattend/internal/auth"
)

// Export formats.
const (
	FormatXLSX = "xlsx"
	FormatCSV  = "csv"
)

const (
	contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	contentTypeCSV  = "text/csv; charset=utf-8"
	sheetName       = "Attendance"
)

var exportHeader = []string{"Reg No", "Name", "Status", "Timestamp"}

// ExportRow is one roster member with their attendance outcome.
type ExportRow struct {
	RegNo     string
	Surname   string
	FirstName string
	Present   bool
	Timestamp *time.Time
}

func (r ExportRow) cells() []string {
	status, ts := "Absent", ""
	if r.Present {
		status = "Present"
		ts = r.Timestamp.UTC().Format(time.RFC3339)
	}
	return []string{r.RegNo, strings.TrimSpace(r.Surname + " " + r.FirstName), status, ts}
}

// File is a rendered attendance sheet.
type File struct {
	Name        string
	ContentType string
	Body        []byte
}

// Export renders the class list of a session with Present/Absent per student.
func (s *Service) Export(ctx context.Context, actor auth.Principal, sessionID, format string) (File, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = FormatXLSX
	}
	if format != FormatXLSX && format != FormatCSV {
		return File{}, apperr.Invalid("Invalid export format. Use csv or xlsx.")
	}
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return File{}, hide(err, "load session "+sessionID)
	}
	if sess == nil {
		return File{}, apperr.NotFound("Session not found.")
	}
	if !inScope(actor, *sess) {
		return File{}, apperr.Forbidden("Forbidden: You cannot export this session.")
	}

	rows, err := s.Sheet(ctx, sess.ID, sess.DeptID, sess.Level)
	if err != nil {
		return File{}, hide(err, "build sheet "+sess.ID)
	}

	var (
		body        []byte
		contentType string
	)
	switch format {
	case FormatCSV:
		body, err = renderCSV(rows)
		contentType = contentTypeCSV
	default:
		body, err = renderXLSX(rows)
		contentType = contentTypeXLSX
	}
	if err != nil {
		return File{}, hide(err, "render "+format)
	}
	return File{Name: exportName(sess.Course, sess.Title, format), ContentType: contentType, Body: body}, nil
}

// Sheet joins the class roster against the session's records. Every roster
// member appears exactly once.
func (s *Service) Sheet(ctx context.Context, sessionID, deptID, level string) ([]ExportRow, error) {
	students, err := s.students.ListByScope(ctx, deptID, level)
	if err != nil {
		return nil, err
	}
	records, err := s.records.BySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]ExportRow, 0, len(students))
	for _, st := range students {
		row := ExportRow{RegNo: st.RegNo, Surname: st.Surname, FirstName: st.FirstName}
		if rec, ok := records[st.ID]; ok {
			ts := rec.RecordedAt
			row.Present = true
			row.Timestamp = &ts
		}
		out = append(out, row)
	}
	return out, nil
}

var filenameReplacer = strings.NewReplacer(`"`, "", "/", "-", "\\", "-")

// filenamePart joins whitespace runs with _ and strips characters that break
// a Content-Disposition filename or a path.
func filenamePart(s string) string {
	return filenameReplacer.Replace(strings.Join(strings.Fields(s), "_"))
}

func exportName(course, title, format string) string {
	return fmt.Sprintf("Attendance_Export_%s_%s.%s", filenamePart(course), filenamePart(title), format)
}

// renderCSV writes a UTF-8 BOM so spreadsheet apps detect the encoding.
func renderCSV(rows []ExportRow) ([]byte, error) {
	var buf bytes.Buffer
	tw := transform.NewWriter(&buf, unicode.UTF8BOM.NewEncoder())
	w := csv.NewWriter(tw)
	if err := w.Write(exportHeader); err != nil {
		return nil, err
	}
	for _, r := range rows {
		if err := w.Write(r.cells()); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func renderXLSX(rows []ExportRow) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, err
	}
	if err := setRow(f, 1, exportHeader); err != nil {
		return nil, err
	}
	for i, r := range rows {
		if err := setRow(f, i+2, r.cells()); err != nil {
			return nil, err
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func setRow(f *excelize.File, n int, cells []string) error {
	cell, err := excelize.CoordinatesToCellName(1, n)
	if err != nil {
		return err
	}
	vals := make([]any, len(cells))
	for i, c := range cells {
		vals[i] = c
	}
	return f.SetSheetRow(sheetName, cell, &vals)
}
