package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"cardscan/internal/scan"
	"cardscan/internal/services"
	"cardscan/internal/workflow"
)

const (
	uploadField     = "files"
	multipartMemory = 32 << 20
	sniffLen        = 512
)

// CancelResponse confirms a cancelled scan.
type CancelResponse struct {
	ScanID    string `json:"scan_id"`
	Cancelled bool   `json:"cancelled"`
}

func (s *Server) uploadScan(c echo.Context) error {
	req := c.Request()
	if limit := s.uploadBodyLimit(); limit > 0 {
		req.Body = http.MaxBytesReader(c.Response(), req.Body, limit)
	}
	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return services.Wrap(services.ErrValidation, component, "upload scan",
				fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit), nil)
		}
		return services.Wrap(services.ErrValidation, component, "upload scan", "expected a multipart form with image files", err)
	}
	defer func() { _ = form.RemoveAll() }()

	headers := form.File[uploadField]
	if len(headers) == 0 {
		return services.Wrap(services.ErrValidation, component, "upload scan",
			fmt.Sprintf("no files in the %q field", uploadField), nil)
	}
	if s.maxImages > 0 && len(headers) > s.maxImages {
		return services.Wrap(services.ErrValidation, component, "upload scan",
			fmt.Sprintf("%d images exceeds the limit of %d per scan", len(headers), s.maxImages), nil)
	}

	uploads := make([]scan.Upload, 0, len(headers))
	for _, fh := range headers {
		upload, err := openUpload(fh)
		if err != nil {
			closeAll(uploads)
			return err
		}
		uploads = append(uploads, upload)
	}
	defer closeAll(uploads)

	sc, err := s.workflow.CreateScan(req.Context(), uploads)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, UploadResponse{
		ScanID:      sc.ID,
		Status:      string(sc.Status),
		TotalImages: len(sc.Images),
	})
}

func (s *Server) uploadBodyLimit() int64 {
	if s.maxUploadBytes <= 0 {
		return 0
	}
	files := int64(s.maxImages)
	if files <= 0 {
		files = 1
	}
	// Room for multipart framing and form fields.
	return s.maxUploadBytes*files + 1<<20
}

// uploadBody pairs the sniffed prefix with the rest of the file so the
// original file can still be closed.
type uploadBody struct {
	io.Reader
	file multipart.File
}

func (b *uploadBody) Close() error { return b.file.Close() }

// openUpload opens one form file and checks that it is an image. A declared
// image/* type is kept as is; any other declared type falls back to sniffing
// the first bytes of the file.
func openUpload(fh *multipart.FileHeader) (scan.Upload, error) {
	file, err := fh.Open()
	if err != nil {
		return scan.Upload{}, services.Wrap(services.ErrValidation, component, "upload scan", "unreadable file "+fh.Filename, err)
	}
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		_ = file.Close()
		return scan.Upload{}, services.Wrap(services.ErrValidation, component, "upload scan", "unreadable file "+fh.Filename, err)
	}
	head = head[:n]
	if n == 0 {
		_ = file.Close()
		return scan.Upload{}, services.Wrap(services.ErrValidation, component, "upload scan", fh.Filename+" is empty", nil)
	}

	contentType := strings.TrimSpace(fh.Header.Get(echo.HeaderContentType))
	if !strings.HasPrefix(contentType, "image/") {
		contentType = http.DetectContentType(head)
	}
	if !strings.HasPrefix(contentType, "image/") {
		_ = file.Close()
		return scan.Upload{}, services.Wrap(services.ErrValidation, component, "upload scan",
			fmt.Sprintf("%s is not an image (%s)", fh.Filename, contentType), nil)
	}

	body := &uploadBody{Reader: io.MultiReader(bytes.NewReader(head), file), file: file}
	return scan.Upload{
		OriginalFilename: fh.Filename,
		ContentType:      contentType,
		Body:             body,
	}, nil
}

func closeAll(uploads []scan.Upload) {
	for _, u := range uploads {
		if closer, ok := u.Body.(io.Closer); ok {
			_ = closer.Close()
		}
	}
}

func (s *Server) processScan(c echo.Context) error {
	snap, err := s.workflow.StartProcessing(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, FromSnapshot(snap))
}

func (s *Server) scanStatus(c echo.Context) error {
	snap, err := s.workflow.ScanStatus(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, FromSnapshot(snap))
}

func (s *Server) scanResults(c echo.Context) error {
	ctx := c.Request().Context()
	scanID := c.Param("id")
	snap, err := s.workflow.ScanStatus(ctx, scanID)
	if err != nil {
		return err
	}
	results, err := s.workflow.Results(ctx, scanID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ResultsResponse{
		ScanID:  scanID,
		Status:  string(snap.Status),
		Results: FromResults(results),
	})
}

func (s *Server) acceptResults(c echo.Context) error {
	var req SelectionRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	sel := workflow.Selection{IDs: req.ResultIDs, All: req.AcceptAll || req.All}
	updated, err := s.workflow.AcceptResults(c.Request().Context(), c.Param("id"), sel)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, SelectionResponse{ScanID: c.Param("id"), Updated: updated})
}

func (s *Server) rejectResults(c echo.Context) error {
	var req SelectionRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	sel := workflow.Selection{IDs: req.ResultIDs, All: req.All}
	updated, err := s.workflow.RejectResults(c.Request().Context(), c.Param("id"), sel)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, SelectionResponse{ScanID: c.Param("id"), Updated: updated})
}

func (s *Server) commitScan(c echo.Context) error {
	res, err := s.workflow.Commit(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, FromCommit(res))
}

func (s *Server) cancelScan(c echo.Context) error {
	scanID := c.Param("id")
	if err := s.workflow.Cancel(c.Request().Context(), scanID); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, CancelResponse{ScanID: scanID, Cancelled: true})
}

func (s *Server) aiResponse(c echo.Context) error {
	scanID := c.Param("id")
	images, err := s.workflow.AIResponse(c.Request().Context(), scanID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, AIResponse{ScanID: scanID, Images: FromImageResponses(images)})
}

func (s *Server) scanImage(c echo.Context) error {
	return s.streamImage(c, c.Param("id"), c.Param("image_id"))
}

func (s *Server) streamImage(c echo.Context, scanID, imageID string) error {
	body, img, err := s.workflow.Image(c.Request().Context(), scanID, imageID)
	if err != nil {
		return err
	}
	defer body.Close()
	contentType := img.ContentType
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}
	if img.OriginalFilename != "" {
		c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("inline; filename=%q", img.OriginalFilename))
	}
	c.Response().Header().Set("Cache-Control", "private, max-age=3600")
	return c.Stream(http.StatusOK, contentType, body)
}

func (s *Server) listScans(c echo.Context) error {
	var statuses []scan.Status
	for _, value := range c.QueryParams()["status"] {
		for _, part := range strings.Split(value, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			status, ok := scan.ParseStatus(part)
			if !ok {
				return services.Wrap(services.ErrValidation, component, "list scans",
					fmt.Sprintf("unknown status %q", part), nil)
			}
			statuses = append(statuses, status)
		}
	}
	rows, err := s.workflow.ListScans(c.Request().Context(), statuses...)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ScanListResponse{Scans: FromSummaries(rows)})
}

func (s *Server) clearFailed(c echo.Context) error {
	removed, err := s.workflow.ClearFailed(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ClearResponse{Removed: removed})
}

// bind decodes the JSON body into dst and validates it. An empty body
// leaves dst at its zero value.
func (s *Server) bind(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return services.Wrap(services.ErrValidation, component, "decode request", "malformed request body", err)
	}
	return c.Validate(dst)
}
