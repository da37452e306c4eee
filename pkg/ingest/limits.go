package ingest

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/nicktill/tinybeacon/pkg/analytics"
)

// PageViewRequest is the /api/event payload. Domain and path must be
// present; everything else defaults to "".
type PageViewRequest struct {
	Domain    *string `json:"domain"     validate:"required,max=255"`
	Path      *string `json:"path"       validate:"required,max=2048"`
	Referrer  string  `json:"referrer"   validate:"max=2048"`
	Browser   string  `json:"browser"    validate:"max=64"`
	OS        string  `json:"os"         validate:"max=64"`
	Screen    string  `json:"screen"     validate:"max=32"`
	VisitorID string  `json:"visitor_id" validate:"max=128"`
}

// PageView converts a validated request into a record.
func (r PageViewRequest) PageView() analytics.PageView {
	return analytics.PageView{
		Domain:    deref(r.Domain),
		Path:      deref(r.Path),
		Referrer:  r.Referrer,
		Browser:   r.Browser,
		OS:        r.OS,
		Screen:    r.Screen,
		VisitorID: r.VisitorID,
	}
}

// DownloadRequest is the /api/download payload. app_name must be present,
// even if empty.
type DownloadRequest struct {
	AppName  *string `json:"app_name" validate:"required,max=255"`
	Version  string  `json:"version"  validate:"max=64"`
	Platform string  `json:"platform" validate:"max=64"`
	Referrer string  `json:"referrer" validate:"max=2048"`
}

// Download converts a validated request into a record.
func (r DownloadRequest) Download() analytics.Download {
	return analytics.Download{
		AppName:  deref(r.AppName),
		Version:  r.Version,
		Platform: r.Platform,
		Referrer: r.Referrer,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// singleton validator instance
var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// Report fields by their JSON name.
		validate.RegisterTagNameFunc(jsonFieldName)
	})
	return validate
}

// ValidationError maps JSON field names to what is wrong with them.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, field+" "+msg)
	}
	sort.Strings(parts)
	return "invalid event: " + strings.Join(parts, "; ")
}

// Validate checks a PageViewRequest or DownloadRequest. It returns a
// *ValidationError for rule violations.
func Validate(req interface{}) error {
	err := getValidator().Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	out := &ValidationError{Fields: make(map[string]string, len(fieldErrs))}
	for _, fe := range fieldErrs {
		out.Fields[fe.Field()] = describe(fe)
	}
	return out
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

// jsonFieldName reports a struct field by its json tag name.
func jsonFieldName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" || name == "" {
		return fld.Name
	}
	return name
}
