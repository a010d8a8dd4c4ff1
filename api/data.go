package api

import (
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/Aidin1998/analytics/common/apiutil"
	apperrors "github.com/Aidin1998/analytics/common/errors"
	"github.com/Aidin1998/analytics/internal/dataset"
	"github.com/Aidin1998/analytics/internal/messaging"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// previewRows is how many records GET /data/:id returns
const previewRows = 10

type cleanRequest struct {
	dataset.Ref
	CleaningOptions dataset.CleanOptions `json:"cleaning_options"`
}

type transformRequest struct {
	dataset.Ref
	Transformations []dataset.TransformStep `json:"transformations" binding:"required,min=1,dive"`
}

type labelRequest struct {
	Filename string `json:"filename" binding:"required"`
}

// formFile returns the uploaded "file" part, mapping multipart failures to
// client errors.
func formFile(c *gin.Context) (*multipart.FileHeader, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case apperrors.As(err, &maxErr):
			return nil, apperrors.TooLargef("The uploaded file is too large")
		case apperrors.Is(err, http.ErrMissingFile), apperrors.Is(err, http.ErrNotMultipart):
			return nil, apperrors.Invalidf("No file uploaded")
		}
		return nil, apperrors.Invalidf("malformed multipart body").Wrap(err)
	}
	if fh.Filename == "" {
		return nil, apperrors.Invalidf("No file selected")
	}
	return fh, nil
}

func (s *Server) uploadData(c *gin.Context) {
	fh, err := formFile(c)
	if err != nil {
		apiutil.WriteError(c, err)
		return
	}
	src, err := fh.Open()
	if err != nil {
		apiutil.WriteError(c, err)
		return
	}
	defer src.Close()

	res, err := s.svc.Datasets.Upload(c.Request.Context(), fh.Filename, src)
	if err != nil {
		apiutil.WriteError(c, err)
		return
	}
	messaging.PublishAsync(s.svc.Publisher, s.logger, messaging.NewEvent(messaging.DatasetUploaded, res.DataID,
		map[string]interface{}{
			"filename":  res.Filename,
			"file_size": res.FileSize,
			"label":     res.Label,
			"rows":      res.DataInfo.Rows,
		}))
	body, err := toBody(res)
	if err != nil {
		apiutil.WriteError(c, err)
		return
	}
	body["message"] = "File uploaded and processed successfully"
	apiutil.Success(c, body)
}

// derivedName names a dataset produced from ref by an operation
func (s *Server) derivedName(c *gin.Context, ref dataset.Ref, suffix string) string {
	// Resolve prefers data_id over inline records
	if ref.DataID == "" {
		return "inline_" + suffix
	}
	_, summary, err := s.svc.Datasets.Get(c.Request.Context(), ref.DataID)
	if err != nil {
		return ref.DataID + "_" + suffix
	}
	return strings.TrimSuffix(summary.Filename, filepath.Ext(summary.Filename)) + "_" + suffix
}

// cleanData cleans the referenced data and stores the result as a new dataset
func (s *Server) cleanData(c *gin.Context) {
	var req cleanRequest
	if !bind(c, &req) {
		return
	}
	ctx := c.Request.Context()
	f, err := s.svc.Datasets.Resolve(ctx, req.Ref)
	if err != nil {
		apiutil.WriteError(c, err)
		return
	}
	cleaned, results, err := dataset.Clean(f, req.CleaningOptions)
	if err != nil {
		apiutil.WriteError(c, err)
		return
	}
	saved, err := s.svc.Datasets.SaveFrame(ctx, s.derivedName(c, req.Ref, "cleaned"), cleaned)
	if err != nil {
		apiutil.WriteError(c, err)
		return
	}
	apiutil.Success(c, gin.H{
		"cleaning_results": results,
		"cleaned_data_id":  saved.DataID,
		"data_info":        dataset.Describe(cleaned),
		"message":          "Data cleaned successfully",
	})
}

func (s *Server) transformData(c *gin.Context) {
	var req transformRequest
	if !bind(c, &req) {
		return
	}
	ctx := c.Request.Context()
	f, err := s.svc.Datasets.Resolve(ctx, req.Ref)
	if err != nil {
		apiutil.WriteError(c, err)
		return
	}
	out, results, err := dataset.Transform(f, req.Transformations)
	if err != nil {
		apiutil.WriteError(c, err)
		return
	}
	saved, err := s.svc.Datasets.SaveFrame(ctx, s.derivedName(c, req.Ref, "transformed"), out)
	if err != nil {
		apiutil.WriteError(c, err)
		return
	}
	apiutil.Success(c, gin.H{
		"transformation_results": results,
		"transformed_data_id":    saved.DataID,
		"data_info":              dataset.Describe(out),
		"message":                "Data transformed successfully",
	})
}

// labelFile labels a multipart upload or a JSON {"filename": ...} by extension
func (s *Server) labelFile(c *gin.Context) {
	var name string
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := formFile(c)
		if err != nil {
			apiutil.WriteError(c, err)
			return
		}
		name = fh.Filename
	} else {
		var req labelRequest
		if !bind(c, &req) {
			return
		}
		name = req.Filename
	}
	apiutil.Success(c, gin.H{"filename": name, "label": dataset.Label(name)})
}

func (s *Server) listData(c *gin.Context) {
	list, err := s.svc.Datasets.List(c.Request.Context())
	if err != nil {
		apiutil.WriteError(c, err)
		return
	}
	apiutil.Success(c, gin.H{"datasets": list, "count": len(list)})
}

func (s *Server) getData(c *gin.Context) {
	f, summary, err := s.svc.Datasets.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		apiutil.WriteError(c, err)
		return
	}
	apiutil.Success(c, gin.H{
		"dataset":   summary,
		"data_info": dataset.Describe(f),
		"preview":   f.Records(previewRows),
	})
}

func (s *Server) deleteData(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if err := s.svc.Datasets.Delete(ctx, id); err != nil {
		apiutil.WriteError(c, err)
		return
	}
	if err := s.svc.Analysis.InvalidateDataset(ctx, id); err != nil {
		s.logger.Warn("failed to invalidate cached analyses", zap.String("data_id", id), zap.Error(err))
	}
	messaging.PublishAsync(s.svc.Publisher, s.logger, messaging.NewEvent(messaging.DatasetDeleted, id, nil))
	apiutil.Success(c, gin.H{"data_id": id, "message": "Dataset deleted"})
}
