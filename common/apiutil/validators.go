package apiutil

import (
	"encoding/json"
	"io"
	"net/http"
	"reflect"
	"strings"

	apperrors "github.com/Aidin1998/analytics/common/errors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// RegisterJSONTagNames makes gin's validator report fields by their json name
func RegisterJSONTagNames() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(jsonTagName)
	}
}

func jsonTagName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	return name
}

func NewValidator() *Validator {
	validator := validator.New()
	validator.RegisterTagNameFunc(jsonTagName)

	return &Validator{validator}
}

type Validator struct {
	validator *validator.Validate
}

func (v *Validator) Validate(i interface{}) error {
	if err := v.validator.Struct(i); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) error {
	validationErr := apperrors.Invalid.Explain("validation error")
	var fieldsError validator.ValidationErrors
	if apperrors.As(err, &fieldsError) {
		for _, fieldErr := range fieldsError {
			validationErr = validationErr.WithField(fieldErr.Field(), fieldErr.Error(), fieldErr.Tag())
		}
		return validationErr
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case apperrors.As(err, &syntaxErr):
		return apperrors.Invalidf("malformed JSON body").Wrap(err)
	case apperrors.As(err, &typeErr):
		return apperrors.Invalidf("field %q has the wrong type", typeErr.Field).Wrap(err)
	case apperrors.Is(err, io.EOF):
		return apperrors.Invalidf("No data provided")
	}
	return apperrors.Invalidf("invalid request body").Wrap(err)
}

// BindJSON decodes and validates the request body into req. Oversized bodies
// are reported as TooLarge.
func BindJSON(c *gin.Context, req interface{}) error {
	if err := c.ShouldBindJSON(req); err != nil {
		var maxErr *http.MaxBytesError
		if apperrors.As(err, &maxErr) {
			return apperrors.TooLargef("request body exceeds the configured limit")
		}
		return validationError(err)
	}
	return nil
}
